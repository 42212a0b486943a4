// handlers/match.go
package handlers

import (
	"casino-live-system/middleware"
	"casino-live-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(
	app *fiber.App,
	matchService *services.MatchService,
	walletService *services.WalletService,
	usageService *services.UsageService,
	authClient *services.AuthServiceClient,
) {
	// 📡 SSE route — query-param auth, EventSource cannot send headers.
	// Registered before the secured group so it is matched first.
	app.Get("/matches/:game/:id/stream",
		middleware.SSEAuthMiddleware(authClient), matchService.StreamMatch)

	// 🔐 Secured routes — require user context (userID), enforced via middleware
	matches := app.Group("/matches", middleware.UserContextMiddleware())

	matches.Post("/:game/search", matchService.Search)
	matches.Get("/:game/current", matchService.Current)
	matches.Get("/:game/:id", matchService.Get)
	matches.Delete("/:game/:id", matchService.Cancel)
	matches.Post("/:game/:id/moves", matchService.Move)

	// 🤖 Single-player round against the house AI (rate limited per day)
	app.Post("/ai/tictactoe/move",
		middleware.UserContextMiddleware(), matchService.AIMove(walletService, usageService))
}

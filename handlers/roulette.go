// handlers/roulette.go
package handlers

import (
	"casino-live-system/middleware"
	"casino-live-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRouletteRoutes(
	app *fiber.App,
	rouletteService *services.RouletteService,
	authClient *services.AuthServiceClient,
) {
	// 🔓 Read-only routes — no user context, but still require Gateway auth
	app.Get("/roulette/tables", rouletteService.GetTables)
	app.Get("/roulette/:table/results", rouletteService.GetResults)
	app.Get("/roulette/:table/stats", rouletteService.GetStats)

	// 📡 SSE route — query-param auth
	app.Get("/roulette/:table/stream",
		middleware.SSEAuthMiddleware(authClient), rouletteService.StreamResults)
}

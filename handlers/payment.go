// handlers/payment.go
package handlers

import (
	"casino-live-system/middleware"
	"casino-live-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPaymentRoutes(
	app *fiber.App,
	paymentService *services.PaymentService,
	walletService *services.WalletService,
) {
	// 🔓 Plans are browsable before login
	app.Get("/plans", paymentService.ListPlans)

	// 🔐 Secured routes — require user context
	userCtx := middleware.UserContextMiddleware()
	app.Post("/payments", userCtx, paymentService.CreatePlanPayment)
	app.Post("/withdrawals", userCtx, paymentService.RequestWithdrawal)
	app.Get("/wallet", userCtx, walletService.GetWallet)
}

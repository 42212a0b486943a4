package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"casino-live-system/handlers"
	"casino-live-system/middleware"
	"casino-live-system/models"
	"casino-live-system/realtime"
	"casino-live-system/services"
	"casino-live-system/utils"
	"casino-live-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Match{},
		&models.Move{},
		&models.RouletteTable{},
		&models.RouletteResult{},
		&models.BetaWallet{},
		&models.WalletEntry{},
		&models.Plan{},
		&models.Payment{},
		&models.PaymentWebhook{},
		&models.Withdrawal{},
		&models.DailyUsage{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	seedRouletteTables(db)

	feedLogger := logrus.New()
	feedLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	hub := realtime.NewHub(feedLogger)

	matchService := services.NewMatchService(db, hub)
	walletService := services.NewWalletService(db)
	usageService := services.NewUsageService(db)
	rouletteService := services.NewRouletteService(db, hub)
	paymentService := services.NewPaymentService(db, services.NewPaymentGatewayClient(), walletService)

	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	authClient := services.NewAuthServiceClient(authServiceURL, os.Getenv("CASINO_SERVICE_TOKEN"))

	app := fiber.New(fiber.Config{})

	// The payment gateway posts callbacks directly, without our Gateway token.
	// Registered before GatewayAuthMiddleware so it is matched first.
	app.Post("/payments/webhook", paymentService.HandleWebhook)

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions beyond the webhook
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feedWorker := workers.NewFeedWorker(rouletteService, feedLogger)
	go feedWorker.Run(ctx)

	services.StartDailyJobs(usageService, rouletteService)

	// ✅ Setup routes — enforced Gateway auth everywhere except the webhook
	handlers.SetupRouletteRoutes(app, rouletteService, authClient)
	handlers.SetupPaymentRoutes(app, paymentService, walletService)
	handlers.SetupMatchRoutes(app, matchService, walletService, usageService, authClient)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Roulette feed worker running")
	log.Println("✅ Daily jobs scheduled (usage reset 00:00, export 00:10)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}

// seedRouletteTables inserts the default table set on an empty database so
// the feed worker has something to subscribe to.
func seedRouletteTables(db *gorm.DB) {
	var count int64
	if err := db.Model(&models.RouletteTable{}).Count(&count).Error; err != nil {
		log.Printf("⚠️  Failed to count roulette tables: %v", err)
		return
	}
	if count > 0 {
		return
	}

	defaults := []models.RouletteTable{
		{ID: uuid.NewString(), TableKey: "pragmatic-brazilian-roulette", CasinoID: "pragmatic", Name: "Roleta Brasileira", Currency: "BRL", Active: true},
		{ID: uuid.NewString(), TableKey: "evolution-immersive-roulette", CasinoID: "evolution", Name: "Immersive Roulette", Currency: "BRL", Active: true},
	}
	if err := db.Create(&defaults).Error; err != nil {
		log.Printf("⚠️  Failed to seed roulette tables: %v", err)
		return
	}
	log.Printf("✅ Seeded %d default roulette tables", len(defaults))
}

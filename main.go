package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/devvspaces/zk-chess-clash/handlers"
	"github.com/devvspaces/zk-chess-clash/models"
	"github.com/devvspaces/zk-chess-clash/services"
	"github.com/devvspaces/zk-chess-clash/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		AppName: "zk-chess-clash",
	})

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := db.AutoMigrate(
		&models.Game{},
		&models.SettlementReceipt{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		rpcURL = "https://api.mainnet-beta.solana.com"
	}
	solana, err := services.NewSolanaClient(rpcURL, os.Getenv("ESCROW_SECRET_KEY"))
	if err != nil {
		log.Fatal("failed to initialize ledger client:", err)
	}
	escrowAddress := solana.EscrowAddress
	if override := os.Getenv("ESCROW_ADDRESS"); override != "" {
		escrowAddress = override
	}
	if escrowAddress == "" {
		log.Fatal("no escrow address: set ESCROW_SECRET_KEY or ESCROW_ADDRESS")
	}

	lichess := services.NewLichessClient(os.Getenv("LICHESS_BASE_URL"), os.Getenv("LICHESS_API_TOKEN"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archiver, err := services.NewR2ReceiptArchiver(ctx)
	if err != nil {
		log.Fatal("failed to initialize R2 receipt archiver:", err)
	}

	feeRate := envDecimal("FEE_RATE_PERCENT", "5")
	feeCap := envDecimal("FEE_CAP_AMOUNT", "1")

	store := services.NewGormGameStore(db)
	svc := services.NewEscrowService(
		store,
		services.NewPaymentVerifier(solana),
		services.NewOutcomeResolver(lichess),
		solana,
		lichess,
		nilIfUnset(archiver),
		escrowAddress,
		feeRate,
		feeCap,
	)

	handlers.SetupEscrowRoutes(app, &handlers.EscrowHandler{Svc: svc, Ledger: solana})

	sweepInterval := 2 * time.Minute
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			sweepInterval = parsed
		}
	}
	workers.StartSettlementSweeper(ctx, svc, sweepInterval)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Escrow service running on http://localhost:%s", port)
	log.Printf("✅ Escrow address: %s", escrowAddress)
	log.Printf("✅ Fee policy: %s%% capped at %s", feeRate, feeCap)
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func envDecimal(key, fallback string) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = fallback
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return value
}

// nilIfUnset keeps a typed-nil *R2ReceiptArchiver from sneaking into the
// ReceiptArchiver interface.
func nilIfUnset(a *services.R2ReceiptArchiver) services.ReceiptArchiver {
	if a == nil {
		return nil
	}
	return a
}

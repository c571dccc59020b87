package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/db"
	"github.com/milestone-escrow/backend/internal/events"
	apphttp "github.com/milestone-escrow/backend/internal/http"
	"github.com/milestone-escrow/backend/internal/http/handlers"
	"github.com/milestone-escrow/backend/internal/repositories"
	"github.com/milestone-escrow/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "escrow-api", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	agreementRepo := repositories.NewAgreementRepo(pool)
	milestoneRepo := repositories.NewMilestoneRepo(pool)
	reputationRepo := repositories.NewReputationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)

	// Custody ledger
	ledger := custody.NewLedgerAdapter(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	agreementService := services.NewAgreementService(pool, agreementRepo, milestoneRepo, userRepo, ledger, auditRepo, publisher, cfg, log)
	milestoneService := services.NewMilestoneService(pool, agreementRepo, milestoneRepo, reputationRepo, ledger, auditRepo, publisher, cfg, log)
	disputeService := services.NewDisputeService(pool, agreementRepo, milestoneRepo, milestoneService, auditRepo, publisher, cfg, log)
	walletService := services.NewWalletService(walletRepo, ledger, auditRepo, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, walletRepo, cfg, log)
	userHandler := handlers.NewUserHandler(userRepo, reputationRepo, log)
	agreementHandler := handlers.NewAgreementHandler(agreementService, ledger, log)
	milestoneHandler := handlers.NewMilestoneHandler(agreementService, milestoneService, log)
	disputeHandler := handlers.NewDisputeHandler(disputeService, log)
	walletHandler := handlers.NewWalletHandler(walletService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, agreementHandler, milestoneHandler, disputeHandler, walletHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

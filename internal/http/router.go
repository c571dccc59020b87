package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/http/handlers"
	"github.com/milestone-escrow/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	agreementHandler *handlers.AgreementHandler,
	milestoneHandler *handlers.MilestoneHandler,
	disputeHandler *handlers.DisputeHandler,
	walletHandler *handlers.WalletHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Meta (public, no auth required)
	metaHandler := handlers.NewMetaHandler(cfg)
	api.Get("/meta/platform", metaHandler.GetPlatformInfo)

	// Protected endpoints. The pause gate sits after auth so reads keep
	// working during maintenance.
	protected := api.Group("", middleware.AuthMiddleware(cfg, log), middleware.PauseMiddleware(cfg))

	// User
	protected.Get("/me", userHandler.GetMe)
	protected.Post("/me/ping", userHandler.Ping)
	protected.Get("/users/:id/reputation", userHandler.GetReputation)

	// Wallet
	protected.Get("/me/wallet", walletHandler.GetWallets)
	protected.Post("/me/wallet/topup", walletHandler.Topup)
	protected.Post("/me/wallet/withdraw", walletHandler.Withdraw)
	protected.Get("/me/transfers", walletHandler.ListTransfers)

	// Agreements
	protected.Post("/agreements", agreementHandler.CreateAgreement)
	protected.Get("/agreements", agreementHandler.ListAgreements)
	protected.Get("/agreements/:id", agreementHandler.GetAgreement)
	protected.Post("/agreements/:id/milestones", agreementHandler.AddMilestone)
	protected.Post("/agreements/:id/fund", agreementHandler.FundAgreement)
	protected.Post("/agreements/:id/cancel", agreementHandler.CancelAgreement)
	protected.Post("/agreements/:id/rate", milestoneHandler.RateParticipant)
	protected.Get("/agreements/:id/events", agreementHandler.GetEvents)
	protected.Get("/agreements/:id/transfers", agreementHandler.GetTransfers)

	// Milestones
	protected.Get("/agreements/:id/milestones/:idx", milestoneHandler.GetMilestone)
	protected.Post("/agreements/:id/milestones/:idx/start", milestoneHandler.StartMilestone)
	protected.Post("/agreements/:id/milestones/:idx/submit", milestoneHandler.SubmitForReview)
	protected.Post("/agreements/:id/milestones/:idx/request-revision", milestoneHandler.RequestRevision)
	protected.Post("/agreements/:id/milestones/:idx/approve", milestoneHandler.ApproveMilestone)

	// Disputes
	protected.Post("/agreements/:id/milestones/:idx/dispute", disputeHandler.RaiseDispute)
	protected.Post("/agreements/:id/milestones/:idx/dispute/respond", disputeHandler.RespondDispute)
	protected.Post("/agreements/:id/milestones/:idx/dispute/resolve",
		middleware.ArbitratorMiddleware(cfg), disputeHandler.ResolveDispute)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}

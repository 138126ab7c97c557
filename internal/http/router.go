package http

import (
	"time"

	"github.com/escrow-market/backend/internal/config"
	"github.com/escrow-market/backend/internal/http/handlers"
	"github.com/escrow-market/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	escrowHandler *handlers.EscrowHandler,
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

	// Escrow custody. All routes require a platform session; resolve
	// additionally requires an admin identity. The rate limit runs
	// after auth so it keys on the user, not the caller's NAT.
	escrow := app.Group("/escrow",
		middleware.AuthMiddleware(cfg, log),
		middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMin, time.Minute),
	)
	escrow.Post("/", escrowHandler.CreateEscrow)
	escrow.Get("/transaction/:transactionId", escrowHandler.GetByTransaction)
	escrow.Get("/:id", escrowHandler.GetEscrow)
	escrow.Get("/:id/events", escrowHandler.GetEscrowEvents)
	escrow.Put("/:id/release", escrowHandler.ReleaseEscrow)
	escrow.Put("/:id/confirm", escrowHandler.ConfirmEscrow)
	escrow.Put("/:id/partial-release", escrowHandler.PartialRelease)
	escrow.Put("/:id/dispute", escrowHandler.DisputeEscrow)
	escrow.Put("/:id/resolve", middleware.AdminMiddleware(cfg), escrowHandler.ResolveDispute)

	// WebSocket event stream
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}

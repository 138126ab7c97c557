package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrow-market/backend/internal/config"
	"github.com/escrow-market/backend/internal/db"
	"github.com/escrow-market/backend/internal/events"
	apphttp "github.com/escrow-market/backend/internal/http"
	"github.com/escrow-market/backend/internal/http/handlers"
	"github.com/escrow-market/backend/internal/ledger"
	"github.com/escrow-market/backend/internal/repositories"
	"github.com/escrow-market/backend/internal/scheduler"
	"github.com/escrow-market/backend/internal/services"
	"github.com/escrow-market/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
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

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Settlement rail
	rail, err := newLedger(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to init settlement ledger", zap.Error(err))
	}

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Timer registry fires into the service; the sweep in cmd/worker is
	// the authoritative fallback for timers lost on restart.
	var escrowService *services.EscrowService
	registry := scheduler.NewRegistry(func(ctx context.Context, id uuid.UUID) {
		if err := escrowService.SystemRelease(ctx, id); err != nil {
			log.Error("timer release failed", zap.String("escrow_id", id.String()), zap.Error(err))
		}
	}, log)
	defer registry.Stop()

	escrowService = services.NewEscrowService(escrowRepo, auditRepo, rail.ledger, rail.addrs, registry, publisher, cfg, log)

	if err := escrowService.RehydrateTimers(ctx); err != nil {
		log.Error("failed to rehydrate timers", zap.Error(err))
	}

	// Handlers
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	wsHub.Start(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, escrowHandler, wsHub)

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
	log.Info("starting escrow API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

type railClients struct {
	ledger ledger.Ledger
	addrs  ledger.AddressValidator
}

// newLedger picks the settlement rail: TON when a hot wallet is
// configured, otherwise the in-memory rail for local development.
func newLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (railClients, error) {
	if cfg.TONHotWalletSeed == "" {
		mem := ledger.NewMemoryLedger()
		return railClients{ledger: mem, addrs: mem}, nil
	}
	t, err := ledger.NewTONLedger(ctx, cfg, log)
	if err != nil {
		return railClients{}, err
	}
	return railClients{ledger: t, addrs: t}, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrow-market/backend/internal/config"
	"github.com/escrow-market/backend/internal/db"
	"github.com/escrow-market/backend/internal/events"
	"github.com/escrow-market/backend/internal/ledger"
	"github.com/escrow-market/backend/internal/repositories"
	"github.com/escrow-market/backend/internal/scheduler"
	"github.com/escrow-market/backend/internal/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// The worker owns the periodic auto-release sweep. It runs without an
// in-process timer registry: the sweep alone is sufficient to enforce
// timeouts, the API's timers only tighten release latency.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	var rail ledger.Ledger
	var addrs ledger.AddressValidator
	if cfg.TONHotWalletSeed == "" {
		mem := ledger.NewMemoryLedger()
		rail, addrs = mem, mem
	} else {
		t, err := ledger.NewTONLedger(ctx, cfg, log)
		if err != nil {
			log.Fatal("failed to init settlement ledger", zap.Error(err))
		}
		rail, addrs = t, t
	}

	escrowService := services.NewEscrowService(escrowRepo, auditRepo, rail, addrs, noopTimers{}, publisher, cfg, log)

	sweeper := scheduler.NewSweeper(escrowService, cfg.SweepInterval, log)
	go sweeper.Run(ctx)

	log.Info("escrow worker started", zap.Duration("sweep_interval", cfg.SweepInterval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down worker")
	cancel()
}

// noopTimers satisfies the scheduler dependency for a process that
// relies solely on the sweep.
type noopTimers struct{}

func (noopTimers) Arm(uuid.UUID, time.Time) {}
func (noopTimers) Cancel(uuid.UUID)         {}

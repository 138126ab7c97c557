package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepService is the escrow maintenance driven on every sweep tick:
// releasing timed-out locked escrows and clearing pending rows stranded
// by a crash mid-funding.
type SweepService interface {
	AutoRelease(ctx context.Context) error
	ReapStalePending(ctx context.Context) error
}

// Sweeper periodically scans for expired escrows and releases them.
// It is the authoritative timeout enforcement: per-escrow timers live
// in process memory and do not survive restarts, the sweep does.
type Sweeper struct {
	svc      SweepService
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(svc SweepService, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run blocks until ctx is cancelled. A failed cycle is logged and
// retried on the next tick; a single escrow's failure never stops the
// loop.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ticker.C:
			if err := s.svc.AutoRelease(ctx); err != nil {
				s.log.Error("auto-release sweep failed", zap.Error(err))
			}
			if err := s.svc.ReapStalePending(ctx); err != nil {
				s.log.Error("stale pending reap failed", zap.Error(err))
			}
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		}
	}
}

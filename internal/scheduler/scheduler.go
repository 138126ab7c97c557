package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FireFunc is invoked when an escrow's auto-release timer fires.
type FireFunc func(ctx context.Context, escrowID uuid.UUID)

// Registry owns one-shot auto-release timers, one per escrow. Timers
// are an optimization over the periodic sweep: a late or lost timer is
// harmless because the sweep is the authoritative enforcement and the
// state machine renders stale firings no-ops.
type Registry struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	fire   FireFunc
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(fire FireFunc, log *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		timers: make(map[uuid.UUID]*time.Timer),
		fire:   fire,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Arm schedules a one-shot timer for the escrow at the given deadline.
// Re-arming replaces any existing timer. The contract is "eligible no
// earlier than at", not exact-time firing.
func (r *Registry) Arm(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A stopped registry is inert; the sweep covers any deadline an
	// unarmed timer would have enforced.
	if r.ctx.Err() != nil {
		return
	}

	if t, ok := r.timers[id]; ok {
		t.Stop()
	}

	d := time.Until(at)
	if d < 0 {
		d = 0
	}

	r.timers[id] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()

		r.log.Info("auto-release timer fired", zap.String("escrow_id", id.String()))
		r.fire(r.ctx, id)
	})
}

// Cancel stops the escrow's timer if one is armed. Best effort: a timer
// that already fired is rendered a no-op by the transition check.
func (r *Registry) Cancel(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

// Armed reports whether a timer is currently registered for the escrow.
func (r *Registry) Armed(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[id]
	return ok
}

// Stop cancels all timers and prevents further firings.
func (r *Registry) Stop() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []uuid.UUID
	ch    chan uuid.UUID
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan uuid.UUID, 16)}
}

func (r *fireRecorder) fire(_ context.Context, id uuid.UUID) {
	r.mu.Lock()
	r.fired = append(r.fired, id)
	r.mu.Unlock()
	r.ch <- id
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *fireRecorder) wait(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
		return uuid.Nil
	}
}

func TestRegistryArmFires(t *testing.T) {
	rec := newFireRecorder()
	reg := NewRegistry(rec.fire, zap.NewNop())
	defer reg.Stop()

	id := uuid.New()
	reg.Arm(id, time.Now().Add(10*time.Millisecond))

	fired := rec.wait(t)
	if fired != id {
		t.Errorf("fired %s, want %s", fired, id)
	}
	if reg.Armed(id) {
		t.Error("timer should be removed after firing")
	}
}

func TestRegistryPastDeadlineFiresImmediately(t *testing.T) {
	rec := newFireRecorder()
	reg := NewRegistry(rec.fire, zap.NewNop())
	defer reg.Stop()

	id := uuid.New()
	reg.Arm(id, time.Now().Add(-time.Hour))

	rec.wait(t)
}

func TestRegistryCancelPreventsFiring(t *testing.T) {
	rec := newFireRecorder()
	reg := NewRegistry(rec.fire, zap.NewNop())
	defer reg.Stop()

	id := uuid.New()
	reg.Arm(id, time.Now().Add(50*time.Millisecond))
	if !reg.Armed(id) {
		t.Fatal("timer should be armed")
	}

	reg.Cancel(id)
	if reg.Armed(id) {
		t.Error("timer should be gone after cancel")
	}

	time.Sleep(100 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("cancelled timer fired %d times", got)
	}
}

func TestRegistryRearmReplaces(t *testing.T) {
	rec := newFireRecorder()
	reg := NewRegistry(rec.fire, zap.NewNop())
	defer reg.Stop()

	id := uuid.New()
	reg.Arm(id, time.Now().Add(time.Hour))
	reg.Arm(id, time.Now().Add(10*time.Millisecond))

	rec.wait(t)

	// The hour-long original must not fire a second time.
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("expected exactly one firing, got %d", got)
	}
}

func TestRegistryCancelUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(func(context.Context, uuid.UUID) {}, zap.NewNop())
	defer reg.Stop()

	reg.Cancel(uuid.New())
}

func TestRegistryArmAfterStopIsNoop(t *testing.T) {
	rec := newFireRecorder()
	reg := NewRegistry(rec.fire, zap.NewNop())
	reg.Stop()

	id := uuid.New()
	reg.Arm(id, time.Now().Add(-time.Hour))

	if reg.Armed(id) {
		t.Error("stopped registry registered a timer")
	}
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("stopped registry fired %d timers", got)
	}
}

func TestRegistryStopCancelsAll(t *testing.T) {
	rec := newFireRecorder()
	reg := NewRegistry(rec.fire, zap.NewNop())

	for i := 0; i < 5; i++ {
		reg.Arm(uuid.New(), time.Now().Add(30*time.Millisecond))
	}
	reg.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("stopped registry fired %d timers", got)
	}
}

type countingReleaser struct {
	calls atomic.Int32
	reaps atomic.Int32
}

func (c *countingReleaser) AutoRelease(context.Context) error {
	c.calls.Add(1)
	return nil
}

func (c *countingReleaser) ReapStalePending(context.Context) error {
	c.reaps.Add(1)
	return nil
}

func TestSweeperRunsUntilContextCancelled(t *testing.T) {
	releaser := &countingReleaser{}
	sweeper := NewSweeper(releaser, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for releaser.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("sweeper ticked only %d times", releaser.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	if releaser.reaps.Load() == 0 {
		t.Error("sweeper never reaped stale pending rows")
	}
}

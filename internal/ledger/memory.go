package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/escrow-market/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryLedger is a deterministic in-process settlement rail. Used in
// development when no hot wallet is configured, and as the test double
// for the escrow service.
type MemoryLedger struct {
	mu       sync.Mutex
	locks    map[uuid.UUID]decimal.Decimal
	releases []MemoryRelease

	// FailLock / FailRelease make the next matching call return
	// ErrLedgerUnavailable, for failure-path tests.
	FailLock    bool
	FailRelease bool
}

type MemoryRelease struct {
	EscrowID  uuid.UUID
	Recipient string
	Amount    decimal.Decimal
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{locks: make(map[uuid.UUID]decimal.Decimal)}
}

func (l *MemoryLedger) ValidAddress(addr string) bool {
	return addr != ""
}

func (l *MemoryLedger) LockFunds(_ context.Context, _, _ string, amount decimal.Decimal, escrowID uuid.UUID) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailLock {
		return "", fmt.Errorf("%w: lock refused", models.ErrLedgerUnavailable)
	}
	// Idempotent per escrow id: a repeated lock returns the same reference.
	l.locks[escrowID] = amount
	return fmt.Sprintf("memlock:%s", escrowID), nil
}

func (l *MemoryLedger) ReleaseFunds(_ context.Context, escrowID uuid.UUID, recipient string, amount decimal.Decimal) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailRelease {
		return "", fmt.Errorf("%w: release refused", models.ErrLedgerUnavailable)
	}
	l.releases = append(l.releases, MemoryRelease{EscrowID: escrowID, Recipient: recipient, Amount: amount})
	return fmt.Sprintf("memrelease:%s:%d", escrowID, len(l.releases)), nil
}

// LockCount returns how many distinct escrows had funds locked.
func (l *MemoryLedger) LockCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Releases returns a copy of all release calls, in order.
func (l *MemoryLedger) Releases() []MemoryRelease {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MemoryRelease, len(l.releases))
	copy(out, l.releases)
	return out
}

// ReleaseCount returns how many release calls were made for one escrow.
func (l *MemoryLedger) ReleaseCount(escrowID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.releases {
		if r.EscrowID == escrowID {
			n++
		}
	}
	return n
}

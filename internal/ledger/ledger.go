package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the settlement rail the escrow core moves funds through.
// Both calls are idempotent keyed by escrow id + operation on the
// rail's side; the state machine additionally prevents duplicate
// release calls once a transition has been persisted.
type Ledger interface {
	// LockFunds places the buyer's deposit under custody for the given
	// escrow and returns an opaque lock reference.
	LockFunds(ctx context.Context, buyerAddr, sellerAddr string, amount decimal.Decimal, escrowID uuid.UUID) (string, error)

	// ReleaseFunds pays out the given amount from custody to the
	// recipient and returns an opaque release reference.
	ReleaseFunds(ctx context.Context, escrowID uuid.UUID, recipientAddr string, amount decimal.Decimal) (string, error)
}

// ValidAddress reports whether addr is a well-formed settlement-rail
// address. Used for boundary validation before any ledger call.
type AddressValidator interface {
	ValidAddress(addr string) bool
}

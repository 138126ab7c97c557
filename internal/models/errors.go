package models

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers map these to HTTP codes with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrEscrowNotFound       = errors.New("escrow not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrEscrowExists         = errors.New("escrow already exists for transaction")
	ErrInvalidTransition    = errors.New("invalid escrow transition")
	ErrSignatureMismatch    = errors.New("signature mismatch")
	ErrAmountExceedsBalance = errors.New("amount exceeds escrow balance")
	ErrLedgerUnavailable    = errors.New("settlement ledger unavailable")
	ErrVersionConflict      = errors.New("escrow version conflict")
)

// TransitionError wraps ErrInvalidTransition with the current status so
// clients can see why the event was rejected.
func TransitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

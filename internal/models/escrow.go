package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow statuses
const (
	EscrowStatusPending  = "pending"
	EscrowStatusLocked   = "locked"
	EscrowStatusDisputed = "disputed"
	EscrowStatusReleased = "released"
	EscrowStatusExpired  = "expired"
	EscrowStatusRefunded = "refunded"
)

// Valid state transitions: from -> []to
//
// released/expired/refunded are terminal and have no outgoing edges.
// pending never moves anywhere except locked: a failed funding attempt
// deletes the pending record instead of transitioning it.
// expired is reserved for rail-side expiry reconciliation; no API
// operation drives it.
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusPending:  {EscrowStatusLocked},
	EscrowStatusLocked:   {EscrowStatusReleased, EscrowStatusDisputed, EscrowStatusExpired},
	EscrowStatusDisputed: {EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusExpired},
	EscrowStatusReleased: {},
	EscrowStatusExpired:  {},
	EscrowStatusRefunded: {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	allowed, ok := ValidEscrowTransitions[status]
	return ok && len(allowed) == 0
}

// Initiator of a release: a user confirming receipt, the scheduler on
// timeout, or an admin resolving a dispute.
const (
	InitiatorUser   = "user"
	InitiatorSystem = "system"
	InitiatorAdmin  = "admin"
)

// Dispute resolutions
const (
	ResolutionRelease = "release"
	ResolutionRefund  = "refund"
)

type Escrow struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	BuyerAddress  string          `json:"buyer_address"`
	SellerAddress string          `json:"seller_address"`
	Memo          *string         `json:"memo,omitempty"`
	LockReference *string         `json:"lock_reference,omitempty"`
	TimeoutAt     time.Time       `json:"timeout_at"`
	ReleasedAt    *time.Time      `json:"released_at,omitempty"`
	ReleasedTo    *string         `json:"released_to,omitempty"`
	DisputeReason *string         `json:"dispute_reason,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsTerminal reports whether the escrow reached a state with no
// outgoing transitions. Terminal records are immutable except for
// audit annotations.
func (e *Escrow) IsTerminal() bool {
	return IsTerminalStatus(e.Status)
}

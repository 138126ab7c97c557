package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types
const (
	AuditEscrowCreated     = "escrow_created"
	AuditFundsLocked       = "funds_locked"
	AuditReleased          = "released"
	AuditAutoReleased      = "auto_released"
	AuditPartialReleased   = "partial_released"
	AuditDisputeOpened     = "dispute_opened"
	AuditDisputeResolved   = "dispute_resolved"
	AuditLedgerCallFailed  = "ledger_call_failed"
	AuditCreateCompensated = "create_compensated"
)

// AuditEntry is one row of the append-only per-escrow audit trail,
// keyed by (escrow_id, seq).
type AuditEntry struct {
	EscrowID        uuid.UUID `json:"escrow_id"`
	Seq             int64     `json:"seq"`
	EventType       string    `json:"event_type"`
	PreviousStatus  string    `json:"previous_status"`
	NewStatus       string    `json:"new_status"`
	Actor           string    `json:"actor"` // user/system/admin, optionally ":<id>"
	LedgerReference *string   `json:"ledger_reference,omitempty"`
	Meta            any       `json:"meta,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

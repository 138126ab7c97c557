package repositories

import (
	"context"

	"github.com/escrow-market/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append writes an audit entry outside any escrow transaction. Used for
// annotations that must survive a rollback, e.g. ledger call failures.
func (r *AuditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrow_audit (escrow_id, seq, event_type, previous_status, new_status, actor, ledger_reference, meta)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM escrow_audit WHERE escrow_id = $1), 0) + 1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, created_at
	`, entry.EscrowID, entry.EventType, entry.PreviousStatus, entry.NewStatus, entry.Actor, entry.LedgerReference, entry.Meta).
		Scan(&entry.Seq, &entry.CreatedAt)
}

func (r *AuditRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT escrow_id, seq, event_type, previous_status, new_status, actor, ledger_reference, meta, created_at
		FROM escrow_audit WHERE escrow_id = $1
		ORDER BY seq ASC LIMIT $2 OFFSET $3
	`, escrowID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var a models.AuditEntry
		if err := rows.Scan(&a.EscrowID, &a.Seq, &a.EventType, &a.PreviousStatus, &a.NewStatus,
			&a.Actor, &a.LedgerReference, &a.Meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/escrow-market/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const escrowColumns = `id, transaction_id, amount, status, buyer_address, seller_address,
	memo, lock_reference, timeout_at, released_at, released_to, dispute_reason, version, created_at`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escrows (transaction_id, amount, status, buyer_address, seller_address, memo, timeout_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		RETURNING id, version, created_at
	`, e.TransactionID, e.Amount, e.Status, e.BuyerAddress, e.SellerAddress, e.Memo, e.TimeoutAt).
		Scan(&e.ID, &e.Version, &e.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.ErrEscrowExists
	}
	return err
}

// Delete removes a just-created pending record as the compensating
// action for a failed funding attempt. Only pending rows are deletable.
func (r *EscrowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM escrows WHERE id = $1 AND status = $2
	`, id, models.EscrowStatusPending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return models.ErrEscrowNotFound
	}
	return nil
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

func (r *EscrowRepo) GetByTransactionID(ctx context.Context, txID uuid.UUID) (*models.Escrow, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE transaction_id = $1`, txID)
	return scanEscrow(row)
}

// ListExpired returns locked escrows whose deadline passed, oldest first.
func (r *EscrowRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = $1 AND timeout_at < $2
		ORDER BY timeout_at ASC LIMIT $3
	`, models.EscrowStatusLocked, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

func (r *EscrowRepo) ListByStatus(ctx context.Context, status string, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrows(rows)
}

// DeleteStalePending removes pending rows created before cutoff and
// returns their ids. A crash between the pending insert and the funding
// transaction strands the row with no funds locked; the sweep clears
// such leftovers after a grace period.
func (r *EscrowRepo) DeleteStalePending(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM escrows WHERE status = $1 AND created_at < $2 RETURNING id
	`, models.EscrowStatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Locked runs fn with an exclusive row lock on the escrow. fn may
// mutate the escrow and call the settlement ledger; the new state, a
// version bump and the returned audit entry are committed atomically.
// Any error from fn rolls the transaction back, so a failed ledger
// call never leaves a persisted transition behind.
//
// The version compare-and-swap on UPDATE is defense in depth on top of
// the FOR UPDATE lock.
func (r *EscrowRepo) Locked(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	e, err := scanEscrow(row)
	if err != nil {
		return err
	}
	prevVersion := e.Version

	entry, err := fn(ctx, e)
	if err != nil {
		return err
	}

	e.Version = prevVersion + 1
	ct, err := tx.Exec(ctx, `
		UPDATE escrows
		SET amount = $2, status = $3, lock_reference = $4, released_at = $5,
		    released_to = $6, dispute_reason = $7, version = $8
		WHERE id = $1 AND version = $9
	`, e.ID, e.Amount, e.Status, e.LockReference, e.ReleasedAt, e.ReleasedTo, e.DisputeReason, e.Version, prevVersion)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return models.ErrVersionConflict
	}

	if entry != nil {
		err = tx.QueryRow(ctx, `
			INSERT INTO escrow_audit (escrow_id, seq, event_type, previous_status, new_status, actor, ledger_reference, meta)
			VALUES ($1, COALESCE((SELECT MAX(seq) FROM escrow_audit WHERE escrow_id = $1), 0) + 1, $2, $3, $4, $5, $6, $7)
			RETURNING seq, created_at
		`, e.ID, entry.EventType, entry.PreviousStatus, entry.NewStatus, entry.Actor, entry.LedgerReference, entry.Meta).
			Scan(&entry.Seq, &entry.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(&e.ID, &e.TransactionID, &e.Amount, &e.Status, &e.BuyerAddress, &e.SellerAddress,
		&e.Memo, &e.LockReference, &e.TimeoutAt, &e.ReleasedAt, &e.ReleasedTo, &e.DisputeReason,
		&e.Version, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEscrows(rows pgx.Rows) ([]models.Escrow, error) {
	var out []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

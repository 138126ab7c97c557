package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/escrow-market/backend/internal/config"
	"github.com/escrow-market/backend/internal/events"
	"github.com/escrow-market/backend/internal/ledger"
	"github.com/escrow-market/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowStore is the durable escrow table. Locked runs fn under an
// exclusive per-escrow lock and commits the mutated state together with
// the returned audit entry, or rolls everything back on error.
type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	GetByTransactionID(ctx context.Context, txID uuid.UUID) (*models.Escrow, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Escrow, error)
	DeleteStalePending(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	Locked(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error)) error
}

// AuditStore reads the audit trail and appends entries that must
// survive a rolled-back transaction (ledger failures, compensations).
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID, limit, offset int) ([]models.AuditEntry, error)
}

// TimerScheduler arms and cancels per-escrow auto-release timers.
type TimerScheduler interface {
	Arm(id uuid.UUID, at time.Time)
	Cancel(id uuid.UUID)
}

// errAlreadyTerminal aborts a Locked mutation without a write: the
// escrow reached the desired end state earlier, so the caller reports
// success without touching the ledger again.
var errAlreadyTerminal = errors.New("escrow already terminal")

const autoReleaseBatch = 100

type EscrowService struct {
	store     EscrowStore
	audit     AuditStore
	rail      ledger.Ledger
	addrs     ledger.AddressValidator
	timers    TimerScheduler
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowService(
	store EscrowStore,
	audit AuditStore,
	rail ledger.Ledger,
	addrs ledger.AddressValidator,
	timers TimerScheduler,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		store:     store,
		audit:     audit,
		rail:      rail,
		addrs:     addrs,
		timers:    timers,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// ConfirmationToken derives the buyer confirmation token for a
// transaction. The checkout collaborator hands it to the buyer at
// purchase time; Release requires it back.
func (s *EscrowService) ConfirmationToken(txID uuid.UUID) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.ConfirmationSecret))
	mac.Write([]byte(txID.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *EscrowService) verifySignature(txID uuid.UUID, signature string) error {
	expected := s.ConfirmationToken(txID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return models.ErrSignatureMismatch
	}
	return nil
}

type CreateEscrowInput struct {
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	BuyerAddress  string
	SellerAddress string
	TimeoutHours  int
	Memo          *string
}

// Create persists a pending escrow, locks the buyer's funds on the
// settlement rail and promotes the record to locked with an armed
// auto-release timer. A ledger failure deletes the pending record
// (compensating action) so no orphaned escrow is left behind.
func (s *EscrowService) Create(ctx context.Context, in CreateEscrowInput) (*models.Escrow, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", models.ErrInvalidInput, in.Amount)
	}
	if in.TimeoutHours < s.cfg.MinTimeoutHours || in.TimeoutHours > s.cfg.MaxTimeoutHours {
		return nil, fmt.Errorf("%w: timeout_hours must be within [%d,%d], got %d",
			models.ErrInvalidInput, s.cfg.MinTimeoutHours, s.cfg.MaxTimeoutHours, in.TimeoutHours)
	}
	if !s.addrs.ValidAddress(in.BuyerAddress) {
		return nil, fmt.Errorf("%w: invalid buyer address %q", models.ErrInvalidInput, in.BuyerAddress)
	}
	if !s.addrs.ValidAddress(in.SellerAddress) {
		return nil, fmt.Errorf("%w: invalid seller address %q", models.ErrInvalidInput, in.SellerAddress)
	}

	e := &models.Escrow{
		TransactionID: in.TransactionID,
		Amount:        in.Amount,
		Status:        models.EscrowStatusPending,
		BuyerAddress:  in.BuyerAddress,
		SellerAddress: in.SellerAddress,
		Memo:          in.Memo,
		TimeoutAt:     time.Now().UTC().Add(time.Duration(in.TimeoutHours) * time.Hour),
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}

	_ = s.audit.Append(ctx, &models.AuditEntry{
		EscrowID:       e.ID,
		EventType:      models.AuditEscrowCreated,
		PreviousStatus: models.EscrowStatusPending,
		NewStatus:      models.EscrowStatusPending,
		Actor:          models.InitiatorUser,
		Meta:           map[string]any{"transaction_id": e.TransactionID.String(), "amount": e.Amount.String()},
	})

	var result *models.Escrow
	err := s.store.Locked(ctx, e.ID, func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error) {
		if e.Status != models.EscrowStatusPending {
			return nil, models.TransitionError(e.Status, models.EscrowStatusLocked)
		}
		ref, err := s.rail.LockFunds(ctx, e.BuyerAddress, e.SellerAddress, e.Amount, e.ID)
		if err != nil {
			return nil, err
		}
		e.Status = models.EscrowStatusLocked
		e.LockReference = &ref
		result = copyEscrow(e)
		return &models.AuditEntry{
			EscrowID:        e.ID,
			EventType:       models.AuditFundsLocked,
			PreviousStatus:  models.EscrowStatusPending,
			NewStatus:       models.EscrowStatusLocked,
			Actor:           models.InitiatorSystem,
			LedgerReference: &ref,
		}, nil
	})
	if err != nil {
		s.compensateCreate(ctx, e.ID, err)
		return nil, err
	}

	s.timers.Arm(result.ID, result.TimeoutAt)
	s.publish(ctx, events.EventEscrowCreated, map[string]any{
		"escrow_id":      result.ID.String(),
		"transaction_id": result.TransactionID.String(),
		"status":         result.Status,
	})
	return result, nil
}

// compensateCreate removes a pending record whose funding failed and
// leaves an audit trace of the failure.
func (s *EscrowService) compensateCreate(ctx context.Context, id uuid.UUID, cause error) {
	_ = s.audit.Append(ctx, &models.AuditEntry{
		EscrowID:       id,
		EventType:      models.AuditLedgerCallFailed,
		PreviousStatus: models.EscrowStatusPending,
		NewStatus:      models.EscrowStatusPending,
		Actor:          models.InitiatorSystem,
		Meta:           map[string]any{"error": cause.Error()},
	})
	if err := s.store.Delete(ctx, id); err != nil {
		s.log.Error("compensating delete failed", zap.String("escrow_id", id.String()), zap.Error(err))
		return
	}
	_ = s.audit.Append(ctx, &models.AuditEntry{
		EscrowID:       id,
		EventType:      models.AuditCreateCompensated,
		PreviousStatus: models.EscrowStatusPending,
		NewStatus:      models.EscrowStatusPending,
		Actor:          models.InitiatorSystem,
	})
	s.log.Warn("escrow creation compensated", zap.String("escrow_id", id.String()), zap.Error(cause))
}

// Release confirms receipt with the buyer's signature and pays the
// seller, returning the ledger release reference. Calling it on an
// already-terminal escrow is an idempotent no-op that returns the
// terminal state without touching the ledger.
func (s *EscrowService) Release(ctx context.Context, id uuid.UUID, buyerSignature string) (*models.Escrow, string, error) {
	return s.release(ctx, id, models.InitiatorUser, buyerSignature)
}

// SystemRelease is the scheduler's entry point for timeout-driven
// releases. It is never routed from the public API and requires no
// signature. An escrow no longer in locked is a successful no-op.
func (s *EscrowService) SystemRelease(ctx context.Context, id uuid.UUID) error {
	_, _, err := s.release(ctx, id, models.InitiatorSystem, "")
	if errors.Is(err, models.ErrInvalidTransition) {
		// Lost the race to a manual release or dispute. Desired end
		// state is handled elsewhere; nothing to do.
		return nil
	}
	return err
}

func (s *EscrowService) release(ctx context.Context, id uuid.UUID, initiator, signature string) (*models.Escrow, string, error) {
	var result *models.Escrow
	var releaseRef string
	err := s.store.Locked(ctx, id, func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error) {
		if e.IsTerminal() {
			result = copyEscrow(e)
			return nil, errAlreadyTerminal
		}
		if e.Status != models.EscrowStatusLocked {
			return nil, models.TransitionError(e.Status, models.EscrowStatusReleased)
		}
		if initiator == models.InitiatorUser {
			if err := s.verifySignature(e.TransactionID, signature); err != nil {
				return nil, err
			}
		}

		ref, err := s.rail.ReleaseFunds(ctx, e.ID, e.SellerAddress, e.Amount)
		if err != nil {
			return nil, err
		}
		releaseRef = ref

		now := time.Now().UTC()
		seller := e.SellerAddress
		prev := e.Status
		e.Status = models.EscrowStatusReleased
		e.ReleasedAt = &now
		e.ReleasedTo = &seller
		result = copyEscrow(e)

		eventType := models.AuditReleased
		if initiator == models.InitiatorSystem {
			eventType = models.AuditAutoReleased
		}
		return &models.AuditEntry{
			EscrowID:        e.ID,
			EventType:       eventType,
			PreviousStatus:  prev,
			NewStatus:       models.EscrowStatusReleased,
			Actor:           initiator,
			LedgerReference: &ref,
		}, nil
	})

	switch {
	case err == nil:
		s.timers.Cancel(id)
		s.publishStatusChange(ctx, result, models.EscrowStatusLocked)
		return result, releaseRef, nil
	case errors.Is(err, errAlreadyTerminal):
		return result, "", nil
	default:
		s.recordLedgerFailure(ctx, id, err)
		return nil, "", err
	}
}

// PartialRelease pays out part of the escrow without changing status.
// Used for staged settlement. When the remainder reaches zero the
// escrow goes terminal released to the last recipient.
func (s *EscrowService) PartialRelease(ctx context.Context, id uuid.UUID, amount decimal.Decimal, recipient string) (*models.Escrow, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", models.ErrInvalidInput, amount)
	}
	if !s.addrs.ValidAddress(recipient) {
		return nil, fmt.Errorf("%w: invalid recipient address %q", models.ErrInvalidInput, recipient)
	}

	var result *models.Escrow
	var prev string
	err := s.store.Locked(ctx, id, func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error) {
		if e.Status != models.EscrowStatusLocked && e.Status != models.EscrowStatusDisputed {
			return nil, fmt.Errorf("%w: partial release requires locked or disputed, current %s",
				models.ErrInvalidTransition, e.Status)
		}
		if amount.GreaterThan(e.Amount) {
			return nil, fmt.Errorf("%w: %s > %s", models.ErrAmountExceedsBalance, amount, e.Amount)
		}

		ref, err := s.rail.ReleaseFunds(ctx, e.ID, recipient, amount)
		if err != nil {
			return nil, err
		}

		prev = e.Status
		e.Amount = e.Amount.Sub(amount)
		if e.Amount.IsZero() {
			now := time.Now().UTC()
			rcpt := recipient
			e.Status = models.EscrowStatusReleased
			e.ReleasedAt = &now
			e.ReleasedTo = &rcpt
		}
		result = copyEscrow(e)
		return &models.AuditEntry{
			EscrowID:        e.ID,
			EventType:       models.AuditPartialReleased,
			PreviousStatus:  prev,
			NewStatus:       e.Status,
			Actor:           models.InitiatorUser,
			LedgerReference: &ref,
			Meta: map[string]any{
				"released":  amount.String(),
				"remaining": e.Amount.String(),
				"recipient": recipient,
			},
		}, nil
	})
	if err != nil {
		s.recordLedgerFailure(ctx, id, err)
		return nil, err
	}

	if result.IsTerminal() {
		s.timers.Cancel(id)
		s.publishStatusChange(ctx, result, prev)
	} else {
		s.publish(ctx, events.EventEscrowPartialRelease, map[string]any{
			"escrow_id": result.ID.String(),
			"remaining": result.Amount.String(),
		})
	}
	return result, nil
}

// InitiateDispute suspends timeout-based resolution: the auto-release
// timer is cancelled and only an administrative decision can move the
// escrow forward.
func (s *EscrowService) InitiateDispute(ctx context.Context, id uuid.UUID, reason, initiatorSignature string) (*models.Escrow, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", models.ErrInvalidInput)
	}
	if len(reason) > s.cfg.MaxReasonLength {
		return nil, fmt.Errorf("%w: dispute reason exceeds %d characters", models.ErrInvalidInput, s.cfg.MaxReasonLength)
	}

	var result *models.Escrow
	err := s.store.Locked(ctx, id, func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error) {
		if e.Status != models.EscrowStatusLocked {
			return nil, models.TransitionError(e.Status, models.EscrowStatusDisputed)
		}
		if err := s.verifySignature(e.TransactionID, initiatorSignature); err != nil {
			return nil, err
		}

		r := reason
		e.Status = models.EscrowStatusDisputed
		e.DisputeReason = &r
		result = copyEscrow(e)
		return &models.AuditEntry{
			EscrowID:       e.ID,
			EventType:      models.AuditDisputeOpened,
			PreviousStatus: models.EscrowStatusLocked,
			NewStatus:      models.EscrowStatusDisputed,
			Actor:          models.InitiatorUser,
			Meta:           map[string]any{"reason": reason},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.timers.Cancel(id)
	s.publishStatusChange(ctx, result, models.EscrowStatusLocked)
	return result, nil
}

// ResolveDispute is the only path forward for a disputed escrow.
// resolution "release" pays the seller, "refund" pays the buyer.
// Exactly one ledger call and one terminal transition.
func (s *EscrowService) ResolveDispute(ctx context.Context, id uuid.UUID, resolution string, adminID uuid.UUID) (*models.Escrow, error) {
	if resolution != models.ResolutionRelease && resolution != models.ResolutionRefund {
		return nil, fmt.Errorf("%w: resolution must be %q or %q, got %q",
			models.ErrInvalidInput, models.ResolutionRelease, models.ResolutionRefund, resolution)
	}

	var result *models.Escrow
	err := s.store.Locked(ctx, id, func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error) {
		target := models.EscrowStatusReleased
		recipient := e.SellerAddress
		if resolution == models.ResolutionRefund {
			target = models.EscrowStatusRefunded
			recipient = e.BuyerAddress
		}
		if e.Status != models.EscrowStatusDisputed {
			return nil, models.TransitionError(e.Status, target)
		}

		ref, err := s.rail.ReleaseFunds(ctx, e.ID, recipient, e.Amount)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		rcpt := recipient
		e.Status = target
		e.ReleasedAt = &now
		e.ReleasedTo = &rcpt
		result = copyEscrow(e)
		return &models.AuditEntry{
			EscrowID:        e.ID,
			EventType:       models.AuditDisputeResolved,
			PreviousStatus:  models.EscrowStatusDisputed,
			NewStatus:       target,
			Actor:           fmt.Sprintf("%s:%s", models.InitiatorAdmin, adminID),
			LedgerReference: &ref,
			Meta:            map[string]any{"resolution": resolution},
		}, nil
	})
	if err != nil {
		s.recordLedgerFailure(ctx, id, err)
		return nil, err
	}

	s.timers.Cancel(id)
	s.publishStatusChange(ctx, result, models.EscrowStatusDisputed)
	return result, nil
}

// AutoRelease scans for locked escrows past their deadline and drives
// each through release in its own goroutine, so one slow or failing
// ledger call cannot delay the others. Safe to call repeatedly and
// concurrently with manual releases.
func (s *EscrowService) AutoRelease(ctx context.Context) error {
	expired, err := s.store.ListExpired(ctx, time.Now().UTC(), autoReleaseBatch)
	if err != nil {
		return fmt.Errorf("list expired escrows: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, e := range expired {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := s.SystemRelease(ctx, id); err != nil {
				// Retryable on the next sweep cycle.
				s.log.Error("auto-release failed", zap.String("escrow_id", id.String()), zap.Error(err))
			}
		}(e.ID)
	}
	wg.Wait()
	return nil
}

// ReapStalePending deletes pending rows older than the grace period.
// The compensating delete in Create only covers in-process funding
// failures; a crash between the pending insert and the funding
// transaction leaves the row behind, and nothing else touches pending.
func (s *EscrowService) ReapStalePending(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.PendingGracePeriod)
	ids, err := s.store.DeleteStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("reap stale pending escrows: %w", err)
	}
	for _, id := range ids {
		_ = s.audit.Append(ctx, &models.AuditEntry{
			EscrowID:       id,
			EventType:      models.AuditCreateCompensated,
			PreviousStatus: models.EscrowStatusPending,
			NewStatus:      models.EscrowStatusPending,
			Actor:          models.InitiatorSystem,
			Meta:           map[string]any{"reason": "stale pending record"},
		})
	}
	if len(ids) > 0 {
		s.log.Warn("stale pending escrows reaped", zap.Int("count", len(ids)))
	}
	return nil
}

// RehydrateTimers re-arms auto-release timers for all live locked
// escrows, called at process startup after a restart lost the
// in-memory registry.
func (s *EscrowService) RehydrateTimers(ctx context.Context) error {
	locked, err := s.store.ListByStatus(ctx, models.EscrowStatusLocked, 0)
	if err != nil {
		return err
	}
	for _, e := range locked {
		s.timers.Arm(e.ID, e.TimeoutAt)
	}
	if len(locked) > 0 {
		s.log.Info("auto-release timers rehydrated", zap.Int("count", len(locked)))
	}
	return nil
}

func (s *EscrowService) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return s.store.GetByID(ctx, id)
}

func (s *EscrowService) GetByTransaction(ctx context.Context, txID uuid.UUID) (*models.Escrow, error) {
	return s.store.GetByTransactionID(ctx, txID)
}

func (s *EscrowService) GetEvents(ctx context.Context, id uuid.UUID) ([]models.AuditEntry, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListByEscrow(ctx, id, 100, 0)
}

// --- helpers ---

func (s *EscrowService) recordLedgerFailure(ctx context.Context, id uuid.UUID, cause error) {
	if !errors.Is(cause, models.ErrLedgerUnavailable) {
		return
	}
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return
	}
	_ = s.audit.Append(ctx, &models.AuditEntry{
		EscrowID:       id,
		EventType:      models.AuditLedgerCallFailed,
		PreviousStatus: e.Status,
		NewStatus:      e.Status,
		Actor:          models.InitiatorSystem,
		Meta:           map[string]any{"error": cause.Error()},
	})
}

func (s *EscrowService) publishStatusChange(ctx context.Context, e *models.Escrow, oldStatus string) {
	s.publish(ctx, events.EventEscrowStatusChanged, map[string]any{
		"escrow_id":  e.ID.String(),
		"old_status": oldStatus,
		"new_status": e.Status,
	})
}

func (s *EscrowService) publish(ctx context.Context, eventType string, payload map[string]any) {
	_ = s.publisher.Publish(ctx, events.EscrowStream, events.Event{Type: eventType, Payload: payload})
}

func copyEscrow(e *models.Escrow) *models.Escrow {
	c := *e
	return &c
}

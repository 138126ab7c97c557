package services

import (
	"context"
	"sync"
	"time"

	"github.com/escrow-market/backend/internal/models"
	"github.com/google/uuid"
)

// memStore is an in-memory EscrowStore + AuditStore with the same
// locking contract as the Postgres repo: one writer per escrow row,
// mutation and audit entry committed together or not at all.
type memStore struct {
	mu       sync.Mutex
	rowLocks map[uuid.UUID]*sync.Mutex
	escrows  map[uuid.UUID]*models.Escrow
	byTx     map[uuid.UUID]uuid.UUID
	audits   map[uuid.UUID][]models.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
		escrows:  make(map[uuid.UUID]*models.Escrow),
		byTx:     make(map[uuid.UUID]uuid.UUID),
		audits:   make(map[uuid.UUID][]models.AuditEntry),
	}
}

func (s *memStore) Create(_ context.Context, e *models.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTx[e.TransactionID]; exists {
		return models.ErrEscrowExists
	}
	e.ID = uuid.New()
	e.Version = 1
	e.CreatedAt = time.Now().UTC()
	cp := *e
	s.escrows[e.ID] = &cp
	s.byTx[e.TransactionID] = e.ID
	s.rowLocks[e.ID] = &sync.Mutex{}
	return nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok || e.Status != models.EscrowStatusPending {
		return models.ErrEscrowNotFound
	}
	delete(s.byTx, e.TransactionID)
	delete(s.escrows, id)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, models.ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) GetByTransactionID(_ context.Context, txID uuid.UUID) (*models.Escrow, error) {
	s.mu.Lock()
	id, ok := s.byTx[txID]
	s.mu.Unlock()
	if !ok {
		return nil, models.ErrEscrowNotFound
	}
	return s.GetByID(context.Background(), id)
}

func (s *memStore) ListExpired(_ context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Escrow
	for _, e := range s.escrows {
		if e.Status == models.EscrowStatusLocked && e.TimeoutAt.Before(now) {
			out = append(out, *e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) ListByStatus(_ context.Context, status string, limit int) ([]models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Escrow
	for _, e := range s.escrows {
		if e.Status == status {
			out = append(out, *e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) DeleteStalePending(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, e := range s.escrows {
		if e.Status == models.EscrowStatusPending && e.CreatedAt.Before(cutoff) {
			delete(s.byTx, e.TransactionID)
			delete(s.escrows, id)
			delete(s.rowLocks, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) Locked(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, e *models.Escrow) (*models.AuditEntry, error)) error {
	s.mu.Lock()
	rowLock, ok := s.rowLocks[id]
	s.mu.Unlock()
	if !ok {
		return models.ErrEscrowNotFound
	}

	rowLock.Lock()
	defer rowLock.Unlock()

	s.mu.Lock()
	stored, ok := s.escrows[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrEscrowNotFound
	}
	work := *stored
	s.mu.Unlock()

	entry, err := fn(ctx, &work)
	if err != nil {
		return err
	}

	work.Version++
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := work
	s.escrows[id] = &cp
	if entry != nil {
		entry.Seq = int64(len(s.audits[id]) + 1)
		entry.CreatedAt = time.Now().UTC()
		s.audits[id] = append(s.audits[id], *entry)
	}
	return nil
}

// setTimeoutAt backdates an escrow's deadline, for sweep tests.
func (s *memStore) setTimeoutAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.escrows[id]; ok {
		e.TimeoutAt = at
	}
}

// setCreatedAt backdates an escrow's creation time, for reaper tests.
func (s *memStore) setCreatedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.escrows[id]; ok {
		e.CreatedAt = at
	}
}

// --- AuditStore ---

func (s *memStore) Append(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Seq = int64(len(s.audits[entry.EscrowID]) + 1)
	entry.CreatedAt = time.Now().UTC()
	s.audits[entry.EscrowID] = append(s.audits[entry.EscrowID], *entry)
	return nil
}

func (s *memStore) ListByEscrow(_ context.Context, escrowID uuid.UUID, limit, offset int) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.audits[escrowID]
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]models.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

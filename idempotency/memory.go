package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the ledger in process memory. It backs tests and dry
// deployments; production durability comes from PGStore.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]*Record{}}
}

func (s *MemoryStore) CheckAndReserve(_ context.Context, fingerprint string, meta Meta) (CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[fingerprint]
	if !ok {
		s.items[fingerprint] = &Record{
			Fingerprint: fingerprint,
			Status:      statusReserved,
			AlertID:     meta.AlertID,
			EntityRef:   meta.EntityRef,
			StepKind:    meta.StepKind,
			ReservedAt:  time.Now(),
		}
		return CheckResult{State: Reserved}, nil
	}
	if rec.Status == statusCompleted {
		return CheckResult{State: AlreadyCompleted, Outcome: rec.Outcome}, nil
	}
	return CheckResult{State: InFlightByOther}, nil
}

func (s *MemoryStore) Commit(_ context.Context, fingerprint, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[fingerprint]
	if !ok {
		rec = &Record{Fingerprint: fingerprint}
		s.items[fingerprint] = rec
	}
	rec.Status = statusCompleted
	rec.Outcome = outcome
	rec.CompletedAt = time.Now()
	return nil
}

func (s *MemoryStore) Release(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.items[fingerprint]; ok && rec.Status == statusReserved {
		delete(s.items, fingerprint)
	}
	return nil
}

func (s *MemoryStore) StaleReservations(_ context.Context, olderThan time.Duration) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	records := []Record{}
	for _, rec := range s.items {
		if rec.Status == statusReserved && rec.ReservedAt.Before(cutoff) {
			records = append(records, *rec)
		}
	}
	return records, nil
}

package certledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store.
// It is primarily useful for testing and for single-process deployments
// that do not need records to survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]int
	byKey   map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]int),
		byKey: make(map[string]int),
	}
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, ErrNotFound
	}
	return s.records[len(s.records)-1].clone(), nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.CertificateID]; ok {
		return ErrDuplicateID
	}

	n := len(s.records)
	if rec.Position != int64(n) {
		return ErrTailMoved
	}
	wantPrev := NoPreviousLink
	if n > 0 {
		wantPrev = s.records[n-1].ChainLink
	}
	if rec.PreviousLink != wantPrev {
		return ErrTailMoved
	}

	stored := rec.clone()
	s.records = append(s.records, stored)
	s.byID[stored.CertificateID] = n
	if _, ok := s.byKey[stored.VerificationKey]; !ok {
		s.byKey[stored.VerificationKey] = n
	}
	return nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, certificateID string) (*Record, error) {
	return s.lookup(s.byID, certificateID)
}

// GetByChainLink implements Store.
func (s *MemoryStore) GetByChainLink(_ context.Context, link string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Scan rather than trust the index: stored links can be altered in place.
	for _, r := range s.records {
		if r.ChainLink == link {
			return r.clone(), nil
		}
	}
	return nil, ErrNotFound
}

// GetByVerificationKey implements Store.
func (s *MemoryStore) GetByVerificationKey(_ context.Context, key string) (*Record, error) {
	return s.lookup(s.byKey, key)
}

func (s *MemoryStore) lookup(idx map[string]int, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := idx[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.records[i].clone(), nil
}

// Range implements Store.
func (s *MemoryStore) Range(_ context.Context, offset, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.records) {
		return []*Record{}, nil
	}
	end := len(s.records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Record, 0, end-offset)
	for _, r := range s.records[offset:end] {
		out = append(out, r.clone())
	}
	return out, nil
}

// Scan implements Store. The snapshot is taken under the read lock; fn runs
// without holding it.
func (s *MemoryStore) Scan(ctx context.Context, fn func(*Record) error) error {
	snapshot, err := s.Range(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// MarkVerified implements Store.
func (s *MemoryStore) MarkVerified(_ context.Context, certificateID string, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[certificateID]
	if !ok {
		return nil, ErrNotFound
	}
	r := s.records[i]
	r.IsVerified = true
	at = at.UTC()
	r.VerifiedAt = &at
	return r.clone(), nil
}

package notification

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps notification records in process memory. It serves as
// the durable store in development and tests, and as the session store when
// Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]*Record)}
}

func (s *MemoryStore) Insert(ctx context.Context, r *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	stored := *r
	s.records[key] = &stored
	return true, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, recipientID uuid.UUID) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for key, r := range s.records {
		if key.Recipient != recipientID || r.Viewed() {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkViewed(ctx context.Context, key Key, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok || r.Viewed() {
		return false, nil
	}
	r.ViewedAt = sql.NullTime{Time: at, Valid: true}
	return true, nil
}

func (s *MemoryStore) Clear(ctx context.Context, recipientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.records {
		if key.Recipient == recipientID {
			delete(s.records, key)
		}
	}
	return nil
}

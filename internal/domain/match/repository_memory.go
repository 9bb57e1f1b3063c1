package match

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/pkg/pair"
)

type memoryRepository struct {
	mu      sync.Mutex
	matches map[pair.Key]*Match
}

// NewMemoryRepository creates a process-local match repository
func NewMemoryRepository() Repository {
	return &memoryRepository{matches: make(map[pair.Key]*Match)}
}

func copyMatch(m *Match) *Match {
	cp := *m
	return &cp
}

func (r *memoryRepository) Begin(ctx context.Context, key pair.Key, initiator uuid.UUID, at time.Time) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[key]
	switch {
	case !ok:
		m = &Match{UserAID: key.A, UserBID: key.B, Episode: 1, Status: StatusPending, InitiatedBy: initiator, CreatedAt: at}
		r.matches[key] = m
	case m.Status == StatusDissolved:
		m.Episode++
		m.Status = StatusPending
		m.InitiatedBy = initiator
		m.MessageID = nil
		m.CreatedAt = at
		m.CompletedAt = nil
	}
	return copyMatch(m), nil
}

func (r *memoryRepository) Complete(ctx context.Context, key pair.Key, episode int, messageID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[key]
	if !ok || m.Episode != episode || m.Status != StatusPending {
		return false, nil
	}
	m.Status = StatusComplete
	m.MessageID = &messageID
	m.CompletedAt = &at
	return true, nil
}

func (r *memoryRepository) Dissolve(ctx context.Context, key pair.Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[key]
	if !ok || m.Status == StatusDissolved {
		return false, nil
	}
	m.Status = StatusDissolved
	return true, nil
}

func (r *memoryRepository) Get(ctx context.Context, key pair.Key) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[key]
	if !ok {
		return nil, nil
	}
	return copyMatch(m), nil
}

func (r *memoryRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Match
	for key, m := range r.matches {
		if key.Has(userID) && m.Status != StatusDissolved {
			out = append(out, copyMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

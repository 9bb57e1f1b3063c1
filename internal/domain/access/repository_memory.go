package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pairKey struct {
	requester uuid.UUID
	target    uuid.UUID
}

type memoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Request
	byPair map[pairKey]*Request
}

// NewMemoryRepository creates a process-local access request repository
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:   make(map[uuid.UUID]*Request),
		byPair: make(map[pairKey]*Request),
	}
}

func copyRequest(r *Request) *Request {
	cp := *r
	return &cp
}

func (m *memoryRepository) Open(ctx context.Context, req *Request) (*Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{req.RequesterID, req.TargetID}
	existing, ok := m.byPair[key]
	if !ok {
		stored := copyRequest(req)
		stored.Status = StatusPending
		stored.Revision = 1
		m.byID[stored.ID] = stored
		m.byPair[key] = stored
		return copyRequest(stored), true, nil
	}

	if existing.IsOpen(req.CreatedAt) {
		return copyRequest(existing), false, nil
	}

	existing.Message = req.Message
	existing.Status = StatusPending
	existing.Revision++
	existing.Reason = ""
	existing.CreatedAt = req.CreatedAt
	existing.RespondedAt = nil
	existing.GrantedAt = nil
	existing.ExpiresAt = nil
	return copyRequest(existing), true, nil
}

func (m *memoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return copyRequest(req), nil
}

func (m *memoryRepository) GetByPair(ctx context.Context, requesterID, targetID uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byPair[pairKey{requesterID, targetID}]
	if !ok {
		return nil, nil
	}
	return copyRequest(req), nil
}

func (m *memoryRepository) Transition(ctx context.Context, id uuid.UUID, revision int, from Status, u Update, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.byID[id]
	if !ok || req.Revision != revision || req.Status != from {
		return false, nil
	}
	if req.ExpiresAt != nil && now.After(*req.ExpiresAt) {
		return false, nil
	}
	u.apply(req)
	return true, nil
}

func (m *memoryRepository) list(match func(*Request) bool) []*Request {
	var out []*Request
	for _, req := range m.byID {
		if match(req) {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memoryRepository) ListIncoming(ctx context.Context, targetID uuid.UUID, status Status) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.list(func(r *Request) bool { return r.TargetID == targetID && r.Status == status }), nil
}

func (m *memoryRepository) ListOutgoing(ctx context.Context, requesterID uuid.UUID) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.list(func(r *Request) bool { return r.RequesterID == requesterID }), nil
}

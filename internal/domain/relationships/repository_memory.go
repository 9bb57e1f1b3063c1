package relationships

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type edgeKey struct {
	from uuid.UUID
	to   uuid.UUID
}

type memoryRepository struct {
	mu     sync.RWMutex
	likes  map[edgeKey]*LikeEdge
	blocks map[edgeKey]*BlockRelation
}

// NewMemoryRepository creates a process-local relationships repository.
// A single lock makes every operation atomic across all pairs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		likes:  make(map[edgeKey]*LikeEdge),
		blocks: make(map[edgeKey]*BlockRelation),
	}
}

func (r *memoryRepository) blockedLocked(a, b uuid.UUID) bool {
	_, ab := r.blocks[edgeKey{a, b}]
	_, ba := r.blocks[edgeKey{b, a}]
	return ab || ba
}

func (r *memoryRepository) activeLocked(from, to uuid.UUID) bool {
	edge, ok := r.likes[edgeKey{from, to}]
	return ok && edge.Active
}

func (r *memoryRepository) UpsertLike(ctx context.Context, liker, liked uuid.UUID, at time.Time) (LikeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.blockedLocked(liker, liked) {
		return LikeResult{}, ErrBlockedRelationship
	}

	var result LikeResult
	key := edgeKey{liker, liked}
	edge, ok := r.likes[key]
	switch {
	case !ok:
		r.likes[key] = &LikeEdge{LikerID: liker, LikedID: liked, Active: true, CreatedAt: at, UpdatedAt: at}
		result.Changed = true
	case !edge.Active:
		edge.Active = true
		edge.UpdatedAt = at
		result.Changed = true
	}
	result.Reciprocal = r.activeLocked(liked, liker)
	return result, nil
}

func (r *memoryRepository) DeactivateLike(ctx context.Context, liker, liked uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	edge, ok := r.likes[edgeKey{liker, liked}]
	if !ok || !edge.Active {
		return false, nil
	}
	edge.Active = false
	edge.UpdatedAt = at
	return true, nil
}

func (r *memoryRepository) GetLike(ctx context.Context, liker, liked uuid.UUID) (*LikeEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	edge, ok := r.likes[edgeKey{liker, liked}]
	if !ok {
		return nil, nil
	}
	cp := *edge
	return &cp, nil
}

func (r *memoryRepository) listLikes(match func(*LikeEdge) bool) []*LikeEdge {
	var out []*LikeEdge
	for _, edge := range r.likes {
		if edge.Active && match(edge) {
			cp := *edge
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func (r *memoryRepository) ListLikesGiven(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLikes(func(e *LikeEdge) bool { return e.LikerID == userID }), nil
}

func (r *memoryRepository) ListLikesReceived(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLikes(func(e *LikeEdge) bool {
		return e.LikedID == userID && !r.blockedLocked(e.LikerID, e.LikedID)
	}), nil
}

func (r *memoryRepository) IsMutual(ctx context.Context, a, b uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.activeLocked(a, b) && r.activeLocked(b, a) && !r.blockedLocked(a, b), nil
}

func (r *memoryRepository) CreateBlock(ctx context.Context, block *BlockRelation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, b := block.BlockerUserID, block.BlockedUserID
	created := false
	if _, exists := r.blocks[edgeKey{a, b}]; !exists {
		cp := *block
		r.blocks[edgeKey{a, b}] = &cp
		created = true
	}

	for _, key := range []edgeKey{{a, b}, {b, a}} {
		if edge, ok := r.likes[key]; ok && edge.Active {
			edge.Active = false
			edge.UpdatedAt = block.CreatedAt
		}
	}
	return created, nil
}

func (r *memoryRepository) DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := edgeKey{blockerID, blockedID}
	if _, ok := r.blocks[key]; !ok {
		return false, nil
	}
	delete(r.blocks, key)
	return true, nil
}

func (r *memoryRepository) HasBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.blocks[edgeKey{blockerID, blockedID}]
	return ok, nil
}

func (r *memoryRepository) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.blockedLocked(a, b), nil
}

func (r *memoryRepository) ListBlocks(ctx context.Context, userID uuid.UUID) ([]*BlockRelation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*BlockRelation
	for key, block := range r.blocks {
		if key.from == userID {
			cp := *block
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

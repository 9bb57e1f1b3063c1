package relationships

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines relationships data access interface. Every mutating
// method is atomic with respect to the pair it touches.
type Repository interface {
	// UpsertLike activates LikeEdge(liker, liked) unless either member blocks
	// the other, and reports whether LikeEdge(liked, liker) is active.
	UpsertLike(ctx context.Context, liker, liked uuid.UUID, at time.Time) (LikeResult, error)
	// DeactivateLike reports whether an active edge was switched off.
	DeactivateLike(ctx context.Context, liker, liked uuid.UUID, at time.Time) (bool, error)
	GetLike(ctx context.Context, liker, liked uuid.UUID) (*LikeEdge, error)
	ListLikesGiven(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error)
	ListLikesReceived(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error)
	// IsMutual is true iff both edges are active and neither member blocks the other.
	IsMutual(ctx context.Context, a, b uuid.UUID) (bool, error)

	// CreateBlock inserts the block and deactivates likes in both directions.
	// Reports false when the block already existed.
	CreateBlock(ctx context.Context, block *BlockRelation) (bool, error)
	DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	HasBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	// IsBlocked checks both directions.
	IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error)
	ListBlocks(ctx context.Context, userID uuid.UUID) ([]*BlockRelation, error)
}

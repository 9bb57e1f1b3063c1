package relationships

import (
	"time"

	"github.com/google/uuid"
)

// LikeEdge is a directed like. One row per (liker, liked); unliking flips
// Active off and a later like flips it back on.
type LikeEdge struct {
	LikerID   uuid.UUID `db:"liker_id" json:"liker_id"`
	LikedID   uuid.UUID `db:"liked_id" json:"liked_id"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BlockRelation represents a user-to-user block
type BlockRelation struct {
	ID            uuid.UUID `db:"id" json:"id"`
	BlockerUserID uuid.UUID `db:"blocker_user_id" json:"blocker_user_id"`
	BlockedUserID uuid.UUID `db:"blocked_user_id" json:"blocked_user_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// LikeResult describes what a like call did
type LikeResult struct {
	// Changed is true when the edge was created or reactivated by this call.
	Changed bool
	// Reciprocal is true when the reverse edge was already active.
	Reciprocal bool
}

package match

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/pkg/pair"
)

// Status of a match record
type Status string

const (
	// StatusPending means the pair is reciprocal but the system message has
	// not been posted yet.
	StatusPending   Status = "pending"
	StatusComplete  Status = "complete"
	StatusDissolved Status = "dissolved"
)

// Match is the detector's record for a canonical pair. Each time a
// dissolved pair becomes reciprocal again the episode is bumped.
type Match struct {
	UserAID     uuid.UUID  `db:"user_a_id" json:"user_a_id"`
	UserBID     uuid.UUID  `db:"user_b_id" json:"user_b_id"`
	Episode     int        `db:"episode" json:"episode"`
	Status      Status     `db:"status" json:"status"`
	InitiatedBy uuid.UUID  `db:"initiated_by" json:"initiated_by"`
	MessageID   *uuid.UUID `db:"message_id" json:"message_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Key returns the canonical pair
func (m *Match) Key() pair.Key {
	return pair.Key{A: m.UserAID, B: m.UserBID}
}

// SystemKey identifies the system message for this episode
func (m *Match) SystemKey() string {
	return SystemKey(m.Key(), m.Episode)
}

// Other returns the member matched with userID
func (m *Match) Other(userID uuid.UUID) uuid.UUID {
	return m.Key().Other(userID)
}

// SystemKey builds the idempotency key of a match announcement
func SystemKey(k pair.Key, episode int) string {
	return fmt.Sprintf("match:%s:%s:%d", k.A, k.B, episode)
}

// Announcement is the text posted into the pair's thread on a match
const Announcement = "It's a match! You have liked each other."

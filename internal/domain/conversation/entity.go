package conversation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/pkg/pair"
)

// MessageType represents message type
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// Thread is the single conversation between two members. ParticipantAID
// always sorts before ParticipantBID.
type Thread struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ParticipantAID uuid.UUID `db:"participant_a_id" json:"participant_a_id"`
	ParticipantBID uuid.UUID `db:"participant_b_id" json:"participant_b_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Key returns the thread's canonical pair
func (t *Thread) Key() pair.Key {
	return pair.Key{A: t.ParticipantAID, B: t.ParticipantBID}
}

// HasParticipant checks if user is in this thread
func (t *Thread) HasParticipant(userID uuid.UUID) bool {
	return t.Key().Has(userID)
}

// GetOtherParticipant returns the other user in the thread
func (t *Thread) GetOtherParticipant(userID uuid.UUID) uuid.UUID {
	return t.Key().Other(userID)
}

// Message is an append-only row. Content never changes and the row is never
// removed; the deleted flags only hide it from one side.
type Message struct {
	ID                  uuid.UUID    `db:"id" json:"id"`
	ThreadID            uuid.UUID    `db:"thread_id" json:"thread_id"`
	SenderID            uuid.UUID    `db:"sender_id" json:"sender_id"`
	RecipientID         uuid.UUID    `db:"recipient_id" json:"recipient_id"`
	Content             string       `db:"content" json:"content"`
	MessageType         MessageType  `db:"message_type" json:"message_type"`
	SystemKey           *string      `db:"system_key" json:"-"`
	IsRead              bool         `db:"is_read" json:"is_read"`
	ReadAt              *time.Time   `db:"read_at" json:"read_at,omitempty"`
	DeletedForSender    bool         `db:"deleted_for_sender" json:"-"`
	DeletedForRecipient bool         `db:"deleted_for_recipient" json:"-"`
	DeletedAt           sql.NullTime `db:"deleted_at" json:"-"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
}

// Viewer is who a message is being shown to. Compliance viewers see every
// message regardless of deletion flags.
type Viewer struct {
	UserID     uuid.UUID
	Compliance bool
}

// ComplianceViewer is the audit read path's viewer
var ComplianceViewer = Viewer{Compliance: true}

// Visibility of a message to a viewer
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
)

// VisibilityFor projects msg for viewer. A message is hidden only when the
// viewer deleted it on their own side.
func VisibilityFor(msg *Message, viewer Viewer) Visibility {
	if viewer.Compliance {
		return VisibilityVisible
	}
	switch viewer.UserID {
	case msg.SenderID:
		if msg.DeletedForSender {
			return VisibilityHidden
		}
	case msg.RecipientID:
		if msg.DeletedForRecipient {
			return VisibilityHidden
		}
	default:
		return VisibilityHidden
	}
	return VisibilityVisible
}

// Visible reports whether viewer can see msg
func Visible(msg *Message, viewer Viewer) bool {
	return VisibilityFor(msg, viewer) == VisibilityVisible
}

// Side is one participant's half of a message
type Side string

const (
	SideSender    Side = "sender"
	SideRecipient Side = "recipient"
)

// SideOf returns which side userID is on, or "" for non-participants
func (m *Message) SideOf(userID uuid.UUID) Side {
	switch userID {
	case m.SenderID:
		return SideSender
	case m.RecipientID:
		return SideRecipient
	}
	return ""
}

// ThreadWithUnread thread with unread count
type ThreadWithUnread struct {
	*Thread
	UnreadCount int `json:"unread_count"`
}

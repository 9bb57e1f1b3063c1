package notification

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type represents notification event type
type Type string

const (
	TypeLikeReceived    Type = "like_received"    // Liked member: someone liked you
	TypeMatchCreated    Type = "match_created"    // Both: mutual like
	TypeAccessRequested Type = "access_requested" // Target: private media request
	TypeAccessResolved  Type = "access_resolved"  // Requester: granted or denied
	TypeAccessRevoked   Type = "access_revoked"   // Requester: grant revoked
	TypeEventCancelled  Type = "event_cancelled"  // Participant: scheduled event cancelled (external)
)

// Durable reports whether records of this type must survive across
// sessions and devices. Other types are session-scoped badges.
func (t Type) Durable() bool {
	switch t {
	case TypeLikeReceived, TypeMatchCreated:
		return false
	default:
		return true
	}
}

// Key identifies one notification in a recipient's feed
type Key struct {
	Type      Type      `json:"event_type"`
	EventID   string    `json:"event_id"`
	Recipient uuid.UUID `json:"recipient_id"`
}

// Event is what components publish at a state transition
type Event struct {
	Type      Type
	EventID   string
	Recipient uuid.UUID
	Data      *Data
}

// Key returns the dedup key of the event
func (e Event) Key() Key {
	return Key{Type: e.Type, EventID: e.EventID, Recipient: e.Recipient}
}

// Data links a notification to the records it is about
type Data struct {
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	RequestID *uuid.UUID `json:"request_id,omitempty"`
	ThreadID  *uuid.UUID `json:"thread_id,omitempty"`
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Record is a dedup/viewed marker stored per (type, event, recipient)
type Record struct {
	Type        Type            `db:"event_type" json:"event_type"`
	EventID     string          `db:"event_id" json:"event_id"`
	RecipientID uuid.UUID       `db:"recipient_id" json:"recipient_id"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ViewedAt    sql.NullTime    `db:"viewed_at" json:"-"`
}

// Key returns the record's dedup key
func (r *Record) Key() Key {
	return Key{Type: r.Type, EventID: r.EventID, Recipient: r.RecipientID}
}

// Viewed reports whether the recipient has seen this record
func (r *Record) Viewed() bool {
	return r.ViewedAt.Valid
}

// SetData encodes data to JSON
func (r *Record) SetData(data *Data) {
	if data != nil {
		r.Payload, _ = json.Marshal(data)
	}
}

// GetData decodes data from JSON
func (r *Record) GetData() *Data {
	if len(r.Payload) == 0 {
		return &Data{}
	}
	var data Data
	_ = json.Unmarshal(r.Payload, &data)
	return &data
}

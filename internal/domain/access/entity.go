package access

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status of an access request
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusRevoked Status = "revoked"
	// StatusExpired is never stored. It is how a granted request reads once
	// its window has passed.
	StatusExpired Status = "expired"
)

// DefaultGrantTTL is how long a grant lasts
const DefaultGrantTTL = 72 * time.Hour

// ReasonBlocked is recorded on requests voided by a block
const ReasonBlocked = "blocked"

// Request asks target to let requester view restricted media. There is one
// row per (requester, target); re-requesting reopens it with Revision+1.
type Request struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RequesterID uuid.UUID  `db:"requester_id" json:"requester_id"`
	TargetID    uuid.UUID  `db:"target_id" json:"target_id"`
	Message     string     `db:"message" json:"message,omitempty"`
	Status      Status     `db:"status" json:"status"`
	Revision    int        `db:"revision" json:"revision"`
	Reason      string     `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	RespondedAt *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	GrantedAt   *time.Time `db:"granted_at" json:"granted_at,omitempty"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// EffectiveStatus is the status as of now; a grant past ExpiresAt is expired
func (r *Request) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusGranted && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// IsOpen reports whether the request blocks a new one: pending, or granted
// and still inside its window.
func (r *Request) IsOpen(now time.Time) bool {
	switch r.EffectiveStatus(now) {
	case StatusPending, StatusGranted:
		return true
	}
	return false
}

// EventID identifies this request episode in notifications
func (r *Request) EventID() string {
	return fmt.Sprintf("%s:%d", r.ID, r.Revision)
}

// Update is the set of fields a transition writes
type Update struct {
	Status      Status
	Reason      string
	RespondedAt *time.Time
	GrantedAt   *time.Time
	ExpiresAt   *time.Time
}

func (u Update) apply(r *Request) {
	r.Status = u.Status
	r.Reason = u.Reason
	r.RespondedAt = u.RespondedAt
	if u.Status == StatusGranted {
		r.GrantedAt = u.GrantedAt
		r.ExpiresAt = u.ExpiresAt
	}
}

// RequestResult is returned by Service.Request. Created is false when an
// open request already existed and was returned unchanged.
type RequestResult struct {
	Request *Request `json:"request"`
	Created bool     `json:"created"`
}

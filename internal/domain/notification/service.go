package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/pkg/logger"
)

// ErrInvalidEvent is returned when an event lacks its type, id or recipient
var ErrInvalidEvent = errors.New("notification event requires type, event id and recipient")

// FeedConfig holds feed dependencies
type FeedConfig struct {
	Durable    Store
	Session    SessionStore
	Dispatcher *Dispatcher
	Now        func() time.Time
}

// Feed routes events to the durable or session store, deduplicating by
// (type, event id, recipient), and dispatches each first occurrence.
type Feed struct {
	durable    Store
	session    SessionStore
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewFeed creates a notification feed
func NewFeed(cfg FeedConfig) *Feed {
	f := &Feed{
		durable:    cfg.Durable,
		session:    cfg.Session,
		dispatcher: cfg.Dispatcher,
		now:        cfg.Now,
	}
	if f.durable == nil {
		f.durable = NewMemoryStore()
	}
	if f.session == nil {
		f.session = NewMemoryStore()
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

func (f *Feed) storeFor(t Type) Store {
	if t.Durable() {
		return f.durable
	}
	return f.session
}

// Publish records the event once per recipient and reports whether this
// call was the first.
func (f *Feed) Publish(ctx context.Context, e Event) (bool, error) {
	if e.Type == "" || e.EventID == "" || e.Recipient == uuid.Nil {
		return false, ErrInvalidEvent
	}

	rec := &Record{
		Type:        e.Type,
		EventID:     e.EventID,
		RecipientID: e.Recipient,
		CreatedAt:   f.now(),
	}
	rec.SetData(e.Data)

	inserted, err := f.storeFor(e.Type).Insert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("publish %s: %w", e.Type, err)
	}
	if inserted && f.dispatcher != nil {
		f.dispatcher.Enqueue(rec)
	}
	return inserted, nil
}

// Pending returns the recipient's unviewed notifications, newest first
func (f *Feed) Pending(ctx context.Context, recipientID uuid.UUID) ([]*Record, error) {
	durable, err := f.durable.ListPending(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	session, err := f.session.ListPending(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(durable)+len(session))
	i, j := 0, 0
	for i < len(durable) || j < len(session) {
		if j >= len(session) || (i < len(durable) && !durable[i].CreatedAt.Before(session[j].CreatedAt)) {
			out = append(out, durable[i])
			i++
			continue
		}
		out = append(out, session[j])
		j++
	}
	return out, nil
}

// MarkViewed marks one notification viewed without touching the others
func (f *Feed) MarkViewed(ctx context.Context, key Key) (bool, error) {
	return f.storeFor(key.Type).MarkViewed(ctx, key, f.now())
}

// EndSession drops the recipient's session-scoped notifications
func (f *Feed) EndSession(ctx context.Context, recipientID uuid.UUID) error {
	return f.session.Clear(ctx, recipientID)
}

// Publisher is the narrow interface domain services depend on
type Publisher interface {
	Publish(ctx context.Context, e Event) (bool, error)
}

// Notify publishes e and logs any failure. Notification problems never fail
// the state transition that produced the event.
func Notify(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if _, err := p.Publish(ctx, e); err != nil {
		logger.FromContext(ctx).Error().Err(err).
			Str("event_type", string(e.Type)).
			Str("event_id", e.EventID).
			Str("recipient_id", e.Recipient.String()).
			Msg("Failed to publish notification")
	}
}

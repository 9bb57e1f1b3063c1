package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store persists notification records with (type, event, recipient) uniqueness
type Store interface {
	// Insert stores r unless its key already exists and reports whether it did.
	Insert(ctx context.Context, r *Record) (bool, error)
	ListPending(ctx context.Context, recipientID uuid.UUID) ([]*Record, error)
	// MarkViewed sets viewed_at on exactly one record. Returns false if no
	// unviewed record has that key.
	MarkViewed(ctx context.Context, key Key, at time.Time) (bool, error)
}

// SessionStore is a Store whose records end with the recipient's session
type SessionStore interface {
	Store
	Clear(ctx context.Context, recipientID uuid.UUID) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the persistent notification store
func NewRepository(db *sqlx.DB) Store {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, rec *Record) (bool, error) {
	query := `
		INSERT INTO notification_records (event_type, event_id, recipient_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_type, event_id, recipient_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.Type,
		rec.EventID,
		rec.RecipientID,
		nullableJSON(rec.Payload),
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification rows: %w", err)
	}
	return affected == 1, nil
}

func (r *repository) ListPending(ctx context.Context, recipientID uuid.UUID) ([]*Record, error) {
	query := `
		SELECT event_type, event_id, recipient_id, payload, created_at, viewed_at
		FROM notification_records
		WHERE recipient_id = $1 AND viewed_at IS NULL
		ORDER BY created_at DESC
	`
	var records []*Record
	if err := r.db.SelectContext(ctx, &records, query, recipientID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return records, nil
}

func (r *repository) MarkViewed(ctx context.Context, key Key, at time.Time) (bool, error) {
	query := `
		UPDATE notification_records
		SET viewed_at = $4
		WHERE event_type = $1 AND event_id = $2 AND recipient_id = $3 AND viewed_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, key.Type, key.EventID, key.Recipient, at)
	if err != nil {
		return false, fmt.Errorf("mark notification viewed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification viewed rows: %w", err)
	}
	return affected == 1, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return string(b)
}

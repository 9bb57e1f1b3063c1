package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mwork/consent-engine/internal/pkg/apperr"
	"github.com/mwork/consent-engine/internal/pkg/pair"
)

const queryTimeout = 3 * time.Second

// Repository defines match data access
type Repository interface {
	// Begin creates a pending record, reopens a dissolved one as the next
	// episode, or returns the existing record unchanged.
	Begin(ctx context.Context, key pair.Key, initiator uuid.UUID, at time.Time) (*Match, error)
	// Complete moves episode from pending to complete. False means another
	// caller already completed it or the episode moved on.
	Complete(ctx context.Context, key pair.Key, episode int, messageID uuid.UUID, at time.Time) (bool, error)
	Dissolve(ctx context.Context, key pair.Key) (bool, error)
	Get(ctx context.Context, key pair.Key) (*Match, error)
	// ListActive returns userID's pending and complete records
	ListActive(ctx context.Context, userID uuid.UUID) ([]*Match, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new match repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const matchColumns = `user_a_id, user_b_id, episode, status, initiated_by, message_id, created_at, completed_at`

func (r *repository) Begin(ctx context.Context, key pair.Key, initiator uuid.UUID, at time.Time) (*Match, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO member_matches (user_a_id, user_b_id, episode, status, initiated_by, created_at)
		VALUES ($1, $2, 1, 'pending', $3, $4)
		ON CONFLICT (user_a_id, user_b_id) DO UPDATE SET
			episode = member_matches.episode + 1,
			status = 'pending',
			initiated_by = EXCLUDED.initiated_by,
			message_id = NULL,
			created_at = EXCLUDED.created_at,
			completed_at = NULL
		WHERE member_matches.status = 'dissolved'
		RETURNING ` + matchColumns

	var m Match
	err := r.db.GetContext(ctx, &m, query, key.A, key.B, initiator, at)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.FromDB("begin match", err)
	}

	// The record exists and is not dissolved.
	existing, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("begin match: record vanished for %s", key)
	}
	return existing, nil
}

func (r *repository) Complete(ctx context.Context, key pair.Key, episode int, messageID uuid.UUID, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE member_matches
		SET status = 'complete', message_id = $4, completed_at = $5
		WHERE user_a_id = $1 AND user_b_id = $2 AND episode = $3 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, key.A, key.B, episode, messageID, at)
	if err != nil {
		return false, fmt.Errorf("complete match: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *repository) Dissolve(ctx context.Context, key pair.Key) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE member_matches SET status = 'dissolved'
		WHERE user_a_id = $1 AND user_b_id = $2 AND status <> 'dissolved'
	`
	result, err := r.db.ExecContext(ctx, query, key.A, key.B)
	if err != nil {
		return false, fmt.Errorf("dissolve match: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *repository) Get(ctx context.Context, key pair.Key) (*Match, error) {
	query := `SELECT ` + matchColumns + ` FROM member_matches WHERE user_a_id = $1 AND user_b_id = $2`

	var m Match
	err := r.db.GetContext(ctx, &m, query, key.A, key.B)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return &m, nil
}

func (r *repository) ListActive(ctx context.Context, userID uuid.UUID) ([]*Match, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT ` + matchColumns + ` FROM member_matches
		WHERE (user_a_id = $1 OR user_b_id = $1) AND status <> 'dissolved'
		ORDER BY created_at DESC
	`
	var matches []*Match
	if err := r.db.SelectContext(ctx, &matches, query, userID); err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return matches, nil
}

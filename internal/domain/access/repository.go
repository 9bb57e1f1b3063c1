package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mwork/consent-engine/internal/pkg/apperr"
)

const queryTimeout = 3 * time.Second

// Repository defines access request data access
type Repository interface {
	// Open stores req as pending for its pair. A closed request for the pair
	// (denied, revoked or expired at req.CreatedAt) is reset in place. An
	// open one is returned as is with opened=false.
	Open(ctx context.Context, req *Request) (stored *Request, opened bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	GetByPair(ctx context.Context, requesterID, targetID uuid.UUID) (*Request, error)
	// Transition writes u only if the row is still at revision in state
	// from and, when granted, not expired at now.
	Transition(ctx context.Context, id uuid.UUID, revision int, from Status, u Update, now time.Time) (bool, error)
	ListIncoming(ctx context.Context, targetID uuid.UUID, status Status) ([]*Request, error)
	ListOutgoing(ctx context.Context, requesterID uuid.UUID) ([]*Request, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new access request repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const requestColumns = `id, requester_id, target_id, message, status, revision, reason,
	created_at, responded_at, granted_at, expires_at`

func (r *repository) Open(ctx context.Context, req *Request) (*Request, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO access_requests (id, requester_id, target_id, message, status, revision, reason, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 1, '', $5)
		ON CONFLICT (requester_id, target_id) DO UPDATE SET
			message = EXCLUDED.message,
			status = 'pending',
			revision = access_requests.revision + 1,
			reason = '',
			created_at = EXCLUDED.created_at,
			responded_at = NULL,
			granted_at = NULL,
			expires_at = NULL
		WHERE access_requests.status IN ('denied', 'revoked')
		   OR (access_requests.status = 'granted' AND access_requests.expires_at < EXCLUDED.created_at)
		RETURNING ` + requestColumns

	var stored Request
	err := r.db.GetContext(ctx, &stored, query, req.ID, req.RequesterID, req.TargetID, req.Message, req.CreatedAt)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperr.FromDB("open access request", err)
	}

	existing, err := r.GetByPair(ctx, req.RequesterID, req.TargetID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("open access request: row vanished for %s", req.RequesterID)
	}
	return existing, false, nil
}

func (r *repository) get(ctx context.Context, where string, args ...interface{}) (*Request, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var req Request
	err := r.db.GetContext(ctx, &req, `SELECT `+requestColumns+` FROM access_requests WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get access request: %w", err)
	}
	return &req, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *repository) GetByPair(ctx context.Context, requesterID, targetID uuid.UUID) (*Request, error) {
	return r.get(ctx, `requester_id = $1 AND target_id = $2`, requesterID, targetID)
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, revision int, from Status, u Update, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE access_requests SET
			status = $4,
			reason = $5,
			responded_at = $6,
			granted_at = COALESCE($7, granted_at),
			expires_at = COALESCE($8, expires_at)
		WHERE id = $1 AND revision = $2 AND status = $3
		  AND (expires_at IS NULL OR expires_at >= $9)
	`
	result, err := r.db.ExecContext(ctx, query, id, revision, from, u.Status, u.Reason, u.RespondedAt, u.GrantedAt, u.ExpiresAt, now)
	if err != nil {
		return false, fmt.Errorf("transition access request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *repository) ListIncoming(ctx context.Context, targetID uuid.UUID, status Status) ([]*Request, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + requestColumns + ` FROM access_requests
		WHERE target_id = $1 AND status = $2
		ORDER BY created_at DESC`

	var requests []*Request
	if err := r.db.SelectContext(ctx, &requests, query, targetID, status); err != nil {
		return nil, fmt.Errorf("list incoming requests: %w", err)
	}
	return requests, nil
}

func (r *repository) ListOutgoing(ctx context.Context, requesterID uuid.UUID) ([]*Request, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + requestColumns + ` FROM access_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC`

	var requests []*Request
	if err := r.db.SelectContext(ctx, &requests, query, requesterID); err != nil {
		return nil, fmt.Errorf("list outgoing requests: %w", err)
	}
	return requests, nil
}

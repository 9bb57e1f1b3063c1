package relationships

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

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new relationships repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// withPairLock runs fn in a transaction holding the pair's advisory lock, so
// like/block writes on the same pair serialize and each sees the other's
// committed result.
func (r *repository) withPairLock(ctx context.Context, a, b uuid.UUID, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, pair.Of(a, b).LockID()); err != nil {
		return fmt.Errorf("lock pair: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func blockedTx(ctx context.Context, tx *sqlx.Tx, a, b uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM user_blocks
			WHERE (blocker_user_id = $1 AND blocked_user_id = $2)
			   OR (blocker_user_id = $2 AND blocked_user_id = $1)
		)
	`
	var blocked bool
	err := tx.GetContext(ctx, &blocked, query, a, b)
	return blocked, err
}

func (r *repository) UpsertLike(ctx context.Context, liker, liked uuid.UUID, at time.Time) (LikeResult, error) {
	var result LikeResult
	err := r.withPairLock(ctx, liker, liked, func(ctx context.Context, tx *sqlx.Tx) error {
		blocked, err := blockedTx(ctx, tx, liker, liked)
		if err != nil {
			return fmt.Errorf("check block: %w", err)
		}
		if blocked {
			return ErrBlockedRelationship
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO member_likes (liker_id, liked_id, active, created_at, updated_at)
			VALUES ($1, $2, true, $3, $3)
			ON CONFLICT (liker_id, liked_id)
			DO UPDATE SET active = true, updated_at = EXCLUDED.updated_at
			WHERE member_likes.active = false
		`, liker, liked, at)
		if err != nil {
			return apperr.FromDB("upsert like", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert like rows: %w", err)
		}
		result.Changed = affected == 1

		err = tx.GetContext(ctx, &result.Reciprocal, `
			SELECT EXISTS(SELECT 1 FROM member_likes WHERE liker_id = $1 AND liked_id = $2 AND active)
		`, liked, liker)
		if err != nil {
			return fmt.Errorf("check reverse like: %w", err)
		}
		return nil
	})
	return result, err
}

func (r *repository) DeactivateLike(ctx context.Context, liker, liked uuid.UUID, at time.Time) (bool, error) {
	var changed bool
	err := r.withPairLock(ctx, liker, liked, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE member_likes SET active = false, updated_at = $3
			WHERE liker_id = $1 AND liked_id = $2 AND active
		`, liker, liked, at)
		if err != nil {
			return fmt.Errorf("deactivate like: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("deactivate like rows: %w", err)
		}
		changed = affected == 1
		return nil
	})
	return changed, err
}

func (r *repository) GetLike(ctx context.Context, liker, liked uuid.UUID) (*LikeEdge, error) {
	query := `SELECT * FROM member_likes WHERE liker_id = $1 AND liked_id = $2`
	var edge LikeEdge
	err := r.db.GetContext(ctx, &edge, query, liker, liked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &edge, nil
}

func (r *repository) ListLikesGiven(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error) {
	query := `SELECT * FROM member_likes WHERE liker_id = $1 AND active ORDER BY updated_at DESC`
	var edges []*LikeEdge
	err := r.db.SelectContext(ctx, &edges, query, userID)
	return edges, err
}

func (r *repository) ListLikesReceived(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error) {
	query := `
		SELECT l.* FROM member_likes l
		WHERE l.liked_id = $1 AND l.active
		AND NOT EXISTS (
			SELECT 1 FROM user_blocks b
			WHERE (b.blocker_user_id = l.liker_id AND b.blocked_user_id = l.liked_id)
			   OR (b.blocker_user_id = l.liked_id AND b.blocked_user_id = l.liker_id)
		)
		ORDER BY l.updated_at DESC
	`
	var edges []*LikeEdge
	err := r.db.SelectContext(ctx, &edges, query, userID)
	return edges, err
}

func (r *repository) IsMutual(ctx context.Context, a, b uuid.UUID) (bool, error) {
	query := `
		SELECT
			EXISTS(SELECT 1 FROM member_likes WHERE liker_id = $1 AND liked_id = $2 AND active)
			AND EXISTS(SELECT 1 FROM member_likes WHERE liker_id = $2 AND liked_id = $1 AND active)
			AND NOT EXISTS(
				SELECT 1 FROM user_blocks
				WHERE (blocker_user_id = $1 AND blocked_user_id = $2)
				   OR (blocker_user_id = $2 AND blocked_user_id = $1)
			)
	`
	var mutual bool
	err := r.db.GetContext(ctx, &mutual, query, a, b)
	return mutual, err
}

func (r *repository) CreateBlock(ctx context.Context, block *BlockRelation) (bool, error) {
	var created bool
	err := r.withPairLock(ctx, block.BlockerUserID, block.BlockedUserID, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_blocks (id, blocker_user_id, blocked_user_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (blocker_user_id, blocked_user_id) DO NOTHING
		`, block.ID, block.BlockerUserID, block.BlockedUserID, block.CreatedAt)
		if err != nil {
			return apperr.FromDB("insert block", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert block rows: %w", err)
		}
		created = affected == 1

		_, err = tx.ExecContext(ctx, `
			UPDATE member_likes SET active = false, updated_at = $3
			WHERE active
			AND ((liker_id = $1 AND liked_id = $2) OR (liker_id = $2 AND liked_id = $1))
		`, block.BlockerUserID, block.BlockedUserID, block.CreatedAt)
		if err != nil {
			return fmt.Errorf("deactivate likes: %w", err)
		}
		return nil
	})
	return created, err
}

func (r *repository) DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	query := `DELETE FROM user_blocks WHERE blocker_user_id = $1 AND blocked_user_id = $2`
	res, err := r.db.ExecContext(ctx, query, blockerID, blockedID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *repository) HasBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM user_blocks WHERE blocker_user_id = $1 AND blocked_user_id = $2)`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, blockerID, blockedID)
	return exists, err
}

func (r *repository) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM user_blocks
			WHERE (blocker_user_id = $1 AND blocked_user_id = $2)
			   OR (blocker_user_id = $2 AND blocked_user_id = $1)
		)
	`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, a, b)
	return exists, err
}

func (r *repository) ListBlocks(ctx context.Context, userID uuid.UUID) ([]*BlockRelation, error) {
	query := `SELECT * FROM user_blocks WHERE blocker_user_id = $1 ORDER BY created_at DESC`
	var blocks []*BlockRelation
	err := r.db.SelectContext(ctx, &blocks, query, userID)
	return blocks, err
}

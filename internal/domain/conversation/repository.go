package conversation

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

// Repository defines conversation data access interface
type Repository interface {
	// Thread operations
	GetOrCreateThread(ctx context.Context, thread *Thread) (*Thread, error)
	GetThreadByID(ctx context.Context, id uuid.UUID) (*Thread, error)
	GetThreadByPair(ctx context.Context, key pair.Key) (*Thread, error)
	ListThreadsByUser(ctx context.Context, userID uuid.UUID) ([]*Thread, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *Message) error
	// CreateSystemMessage inserts msg unless a message with the same system
	// key exists, in which case the existing one is returned.
	CreateSystemMessage(ctx context.Context, msg *Message) (stored *Message, created bool, err error)
	GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListMessagesByThread(ctx context.Context, threadID uuid.UUID) ([]*Message, error)
	SetDeleted(ctx context.Context, id uuid.UUID, side Side, at time.Time) (bool, error)
	SetThreadDeletedFor(ctx context.Context, threadID, userID uuid.UUID, at time.Time) (int, error)
	MarkThreadRead(ctx context.Context, threadID, userID uuid.UUID, at time.Time) (int, error)
	CountUnreadByThread(ctx context.Context, threadID, userID uuid.UUID) (int, error)
	CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new conversation repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// Thread operations

const threadColumns = `id, participant_a_id, participant_b_id, created_at, updated_at`

func (r *repository) GetOrCreateThread(ctx context.Context, thread *Thread) (*Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO conversation_threads (` + threadColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (participant_a_id, participant_b_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query,
		thread.ID,
		thread.ParticipantAID,
		thread.ParticipantBID,
		thread.CreatedAt,
		thread.UpdatedAt,
	); err != nil {
		return nil, apperr.FromDB("create thread", err)
	}

	stored, err := r.GetThreadByPair(ctx, thread.Key())
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("create thread: row vanished for %s", thread.Key())
	}
	return stored, nil
}

func (r *repository) getThread(ctx context.Context, where string, args ...interface{}) (*Thread, error) {
	var thread Thread
	err := r.db.GetContext(ctx, &thread, `SELECT `+threadColumns+` FROM conversation_threads WHERE `+where, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &thread, nil
}

func (r *repository) GetThreadByID(ctx context.Context, id uuid.UUID) (*Thread, error) {
	return r.getThread(ctx, `id = $1`, id)
}

func (r *repository) GetThreadByPair(ctx context.Context, key pair.Key) (*Thread, error) {
	return r.getThread(ctx, `participant_a_id = $1 AND participant_b_id = $2`, key.A, key.B)
}

func (r *repository) ListThreadsByUser(ctx context.Context, userID uuid.UUID) ([]*Thread, error) {
	query := `
		SELECT ` + threadColumns + ` FROM conversation_threads
		WHERE participant_a_id = $1 OR participant_b_id = $1
		ORDER BY updated_at DESC
	`
	var threads []*Thread
	if err := r.db.SelectContext(ctx, &threads, query, userID); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

// Message operations

const messageColumns = `id, thread_id, sender_id, recipient_id, content, message_type, system_key,
	is_read, read_at, deleted_for_sender, deleted_for_recipient, deleted_at, created_at`

const insertMessage = `
	INSERT INTO conversation_messages (id, thread_id, sender_id, recipient_id, content, message_type, system_key, is_read, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func messageArgs(msg *Message) []interface{} {
	return []interface{}{
		msg.ID,
		msg.ThreadID,
		msg.SenderID,
		msg.RecipientID,
		msg.Content,
		msg.MessageType,
		msg.SystemKey,
		msg.IsRead,
		msg.CreatedAt,
	}
}

func bumpThread(ctx context.Context, tx *sqlx.Tx, threadID uuid.UUID, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE conversation_threads SET updated_at = $2 WHERE id = $1 AND updated_at < $2`, threadID, at)
	return err
}

func (r *repository) CreateMessage(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertMessage, messageArgs(msg)...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := bumpThread(ctx, tx, msg.ThreadID, msg.CreatedAt); err != nil {
		return fmt.Errorf("bump thread: %w", err)
	}
	return tx.Commit()
}

func (r *repository) CreateSystemMessage(ctx context.Context, msg *Message) (*Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, insertMessage+` ON CONFLICT (system_key) DO NOTHING`, messageArgs(msg)...)
	if err != nil {
		return nil, false, fmt.Errorf("insert system message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	if rows == 0 {
		var existing Message
		if err := tx.GetContext(ctx, &existing, `SELECT `+messageColumns+` FROM conversation_messages WHERE system_key = $1`, msg.SystemKey); err != nil {
			return nil, false, fmt.Errorf("load system message: %w", err)
		}
		return &existing, false, nil
	}

	if err := bumpThread(ctx, tx, msg.ThreadID, msg.CreatedAt); err != nil {
		return nil, false, fmt.Errorf("bump thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

func (r *repository) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	var msg Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM conversation_messages WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (r *repository) ListMessagesByThread(ctx context.Context, threadID uuid.UUID) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM conversation_messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
	`
	var messages []*Message
	if err := r.db.SelectContext(ctx, &messages, query, threadID); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// SetDeleted soft deletes a message for one side
func (r *repository) SetDeleted(ctx context.Context, id uuid.UUID, side Side, at time.Time) (bool, error) {
	column := "deleted_for_sender"
	if side == SideRecipient {
		column = "deleted_for_recipient"
	}

	query := `
		UPDATE conversation_messages
		SET ` + column + ` = true, deleted_at = COALESCE(deleted_at, $2)
		WHERE id = $1 AND NOT ` + column
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("soft delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// SetThreadDeletedFor soft deletes every message in the thread for userID
func (r *repository) SetThreadDeletedFor(ctx context.Context, threadID, userID uuid.UUID, at time.Time) (int, error) {
	query := `
		UPDATE conversation_messages SET
			deleted_for_sender = deleted_for_sender OR sender_id = $2,
			deleted_for_recipient = deleted_for_recipient OR recipient_id = $2,
			deleted_at = COALESCE(deleted_at, $3)
		WHERE thread_id = $1
		  AND ((sender_id = $2 AND NOT deleted_for_sender) OR (recipient_id = $2 AND NOT deleted_for_recipient))
	`
	result, err := r.db.ExecContext(ctx, query, threadID, userID, at)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (r *repository) MarkThreadRead(ctx context.Context, threadID, userID uuid.UUID, at time.Time) (int, error) {
	query := `
		UPDATE conversation_messages
		SET is_read = true, read_at = $3
		WHERE thread_id = $1
		  AND recipient_id = $2
		  AND NOT is_read
	`
	result, err := r.db.ExecContext(ctx, query, threadID, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (r *repository) CountUnreadByThread(ctx context.Context, threadID, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM conversation_messages
		WHERE thread_id = $1 AND recipient_id = $2 AND NOT is_read AND NOT deleted_for_recipient
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, threadID, userID)
	return count, err
}

func (r *repository) CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM conversation_messages
		WHERE recipient_id = $1 AND NOT is_read AND NOT deleted_for_recipient
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, userID)
	return count, err
}

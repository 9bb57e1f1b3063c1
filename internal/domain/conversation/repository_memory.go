package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/pkg/pair"
)

type memoryRepository struct {
	mu         sync.RWMutex
	threads    map[uuid.UUID]*Thread
	byPair     map[pair.Key]*Thread
	messages   map[uuid.UUID]*Message
	byThread   map[uuid.UUID][]*Message
	systemKeys map[string]*Message
}

// NewMemoryRepository creates a process-local conversation repository.
// Like the Postgres store it has no way to remove a message.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		threads:    make(map[uuid.UUID]*Thread),
		byPair:     make(map[pair.Key]*Thread),
		messages:   make(map[uuid.UUID]*Message),
		byThread:   make(map[uuid.UUID][]*Message),
		systemKeys: make(map[string]*Message),
	}
}

func copyThread(t *Thread) *Thread {
	cp := *t
	return &cp
}

func copyMessage(m *Message) *Message {
	cp := *m
	return &cp
}

func (r *memoryRepository) GetOrCreateThread(ctx context.Context, thread *Thread) (*Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byPair[thread.Key()]; ok {
		return copyThread(existing), nil
	}
	stored := copyThread(thread)
	r.threads[stored.ID] = stored
	r.byPair[stored.Key()] = stored
	return copyThread(stored), nil
}

func (r *memoryRepository) GetThreadByID(ctx context.Context, id uuid.UUID) (*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[id]
	if !ok {
		return nil, nil
	}
	return copyThread(t), nil
}

func (r *memoryRepository) GetThreadByPair(ctx context.Context, key pair.Key) (*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byPair[key]
	if !ok {
		return nil, nil
	}
	return copyThread(t), nil
}

func (r *memoryRepository) ListThreadsByUser(ctx context.Context, userID uuid.UUID) ([]*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Thread
	for _, t := range r.threads {
		if t.HasParticipant(userID) {
			out = append(out, copyThread(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memoryRepository) appendLocked(msg *Message) error {
	thread, ok := r.threads[msg.ThreadID]
	if !ok {
		return fmt.Errorf("insert message: thread %s does not exist", msg.ThreadID)
	}
	stored := copyMessage(msg)
	r.messages[stored.ID] = stored
	r.byThread[stored.ThreadID] = append(r.byThread[stored.ThreadID], stored)
	if stored.SystemKey != nil {
		r.systemKeys[*stored.SystemKey] = stored
	}
	if thread.UpdatedAt.Before(stored.CreatedAt) {
		thread.UpdatedAt = stored.CreatedAt
	}
	return nil
}

func (r *memoryRepository) CreateMessage(ctx context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.appendLocked(msg)
}

func (r *memoryRepository) CreateSystemMessage(ctx context.Context, msg *Message) (*Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.SystemKey != nil {
		if existing, ok := r.systemKeys[*msg.SystemKey]; ok {
			return copyMessage(existing), false, nil
		}
	}
	if err := r.appendLocked(msg); err != nil {
		return nil, false, err
	}
	return copyMessage(msg), true, nil
}

func (r *memoryRepository) GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	return copyMessage(m), nil
}

func (r *memoryRepository) ListMessagesByThread(ctx context.Context, threadID uuid.UUID) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.byThread[threadID]
	out := make([]*Message, len(stored))
	for i, m := range stored {
		out[i] = copyMessage(m)
	}
	return out, nil
}

func markDeleted(m *Message, side Side, at time.Time) bool {
	switch side {
	case SideSender:
		if m.DeletedForSender {
			return false
		}
		m.DeletedForSender = true
	case SideRecipient:
		if m.DeletedForRecipient {
			return false
		}
		m.DeletedForRecipient = true
	default:
		return false
	}
	if !m.DeletedAt.Valid {
		m.DeletedAt = sql.NullTime{Time: at, Valid: true}
	}
	return true
}

func (r *memoryRepository) SetDeleted(ctx context.Context, id uuid.UUID, side Side, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return false, nil
	}
	return markDeleted(m, side, at), nil
}

func (r *memoryRepository) SetThreadDeletedFor(ctx context.Context, threadID, userID uuid.UUID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.byThread[threadID] {
		if markDeleted(m, m.SideOf(userID), at) {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) MarkThreadRead(ctx context.Context, threadID, userID uuid.UUID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.byThread[threadID] {
		if m.RecipientID == userID && !m.IsRead {
			m.IsRead = true
			readAt := at
			m.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func unread(m *Message, userID uuid.UUID) bool {
	return m.RecipientID == userID && !m.IsRead && !m.DeletedForRecipient
}

func (r *memoryRepository) CountUnreadByThread(ctx context.Context, threadID, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.byThread[threadID] {
		if unread(m, userID) {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.messages {
		if unread(m, userID) {
			n++
		}
	}
	return n, nil
}

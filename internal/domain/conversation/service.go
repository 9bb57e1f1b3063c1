package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/pkg/apperr"
	"github.com/mwork/consent-engine/internal/pkg/logger"
	"github.com/mwork/consent-engine/internal/pkg/pair"
	"github.com/mwork/consent-engine/internal/pkg/validator"
)

// DefaultMaxMessageLength caps message text in characters
const DefaultMaxMessageLength = 4000

// BlockChecker reports whether either member blocks the other
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// Config holds optional service settings
type Config struct {
	MaxMessageLength int
	Broadcaster      Broadcaster
	Now              func() time.Time
}

// Service handles conversation business logic
type Service struct {
	repo        Repository
	blocks      BlockChecker
	maxLength   int
	broadcaster Broadcaster
	now         func() time.Time
}

// NewService creates conversation service
func NewService(repo Repository, blocks BlockChecker, cfg Config) *Service {
	s := &Service{
		repo:        repo,
		blocks:      blocks,
		maxLength:   cfg.MaxMessageLength,
		broadcaster: cfg.Broadcaster,
		now:         cfg.Now,
	}
	if s.maxLength <= 0 {
		s.maxLength = DefaultMaxMessageLength
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GetOrCreateThread returns the pair's thread, creating it on first use
func (s *Service) GetOrCreateThread(ctx context.Context, a, b uuid.UUID) (*Thread, error) {
	if a == b {
		return nil, ErrSelfReference
	}
	key := pair.Of(a, b)
	now := s.now()
	return s.repo.GetOrCreateThread(ctx, &Thread{
		ID:             uuid.New(),
		ParticipantAID: key.A,
		ParticipantBID: key.B,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// GetThread returns a thread the user participates in
func (s *Service) GetThread(ctx context.Context, threadID, userID uuid.UUID) (*Thread, error) {
	thread, err := s.repo.GetThreadByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, ErrNotFound
	}
	if !thread.HasParticipant(userID) {
		return nil, ErrUnauthorized
	}
	return thread, nil
}

func (s *Service) validateText(text string) error {
	tag := fmt.Sprintf("required,notblank,printable,max=%d", s.maxLength)
	if errs := validator.ValidateField("text", text, tag); errs != nil {
		return apperr.Invalid(errs)
	}
	return nil
}

// SendMessage appends a message from senderID to the thread's other
// participant
func (s *Service) SendMessage(ctx context.Context, threadID, senderID uuid.UUID, text string) (*Message, error) {
	if err := s.validateText(text); err != nil {
		return nil, err
	}

	thread, err := s.GetThread(ctx, threadID, senderID)
	if err != nil {
		return nil, err
	}
	recipientID := thread.GetOtherParticipant(senderID)

	// History stays readable after a block but nothing new can be sent.
	blocked, err := s.blocks.IsBlocked(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlockedRelationship
	}

	msg := &Message{
		ID:          uuid.New(),
		ThreadID:    thread.ID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     text,
		MessageType: MessageTypeText,
		IsRead:      false,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.broadcast(ctx, thread, msg)
	return msg, nil
}

// PostSystemMessage posts text into the pair's thread on behalf of
// senderID. Posting the same key again returns the original message.
func (s *Service) PostSystemMessage(ctx context.Context, a, b, senderID uuid.UUID, key, text string) (*Message, error) {
	if key == "" {
		return nil, apperr.Invalid(map[string]string{"key": "This field is required"})
	}
	thread, err := s.GetOrCreateThread(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(senderID) {
		return nil, ErrUnauthorized
	}

	systemKey := key
	msg, created, err := s.repo.CreateSystemMessage(ctx, &Message{
		ID:          uuid.New(),
		ThreadID:    thread.ID,
		SenderID:    senderID,
		RecipientID: thread.GetOtherParticipant(senderID),
		Content:     text,
		MessageType: MessageTypeSystem,
		SystemKey:   &systemKey,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, err
	}

	if created {
		logger.FromContext(ctx).Info().
			Str("thread_id", thread.ID.String()).
			Str("system_key", key).
			Msg("System message posted")
		s.broadcast(ctx, thread, msg)
	}
	return msg, nil
}

// SoftDelete hides a message from actorID's side only. The row and its
// content are kept.
func (s *Service) SoftDelete(ctx context.Context, messageID, actorID uuid.UUID) error {
	msg, err := s.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNotFound
	}

	side := msg.SideOf(actorID)
	if side == "" {
		return ErrUnauthorized
	}
	_, err = s.repo.SetDeleted(ctx, messageID, side, s.now())
	return err
}

// DeleteConversation soft deletes every message in the thread for actorID
func (s *Service) DeleteConversation(ctx context.Context, threadID, actorID uuid.UUID) error {
	if _, err := s.GetThread(ctx, threadID, actorID); err != nil {
		return err
	}
	n, err := s.repo.SetThreadDeletedFor(ctx, threadID, actorID, s.now())
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug().
		Str("thread_id", threadID.String()).
		Int("messages", n).
		Msg("Conversation deleted for member")
	return nil
}

// ListThreads returns all threads for user, most recently active first
func (s *Service) ListThreads(ctx context.Context, userID uuid.UUID) ([]*ThreadWithUnread, error) {
	threads, err := s.repo.ListThreadsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]*ThreadWithUnread, len(threads))
	for i, thread := range threads {
		unread, err := s.repo.CountUnreadByThread(ctx, thread.ID, userID)
		if err != nil {
			return nil, err
		}
		result[i] = &ThreadWithUnread{Thread: thread, UnreadCount: unread}
	}
	return result, nil
}

// ListMessages returns the thread's messages visible to viewerID, oldest
// first
func (s *Service) ListMessages(ctx context.Context, threadID, viewerID uuid.UUID) ([]*Message, error) {
	if _, err := s.GetThread(ctx, threadID, viewerID); err != nil {
		return nil, err
	}
	messages, err := s.repo.ListMessagesByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	viewer := Viewer{UserID: viewerID}
	visible := make([]*Message, 0, len(messages))
	for _, msg := range messages {
		if Visible(msg, viewer) {
			visible = append(visible, msg)
		}
	}
	return visible, nil
}

// MarkThreadRead marks every message addressed to userID in the thread read
func (s *Service) MarkThreadRead(ctx context.Context, threadID, userID uuid.UUID) (int, error) {
	if _, err := s.GetThread(ctx, threadID, userID); err != nil {
		return 0, err
	}
	return s.repo.MarkThreadRead(ctx, threadID, userID, s.now())
}

// UnreadCount returns userID's unread messages across all threads
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnreadByUser(ctx, userID)
}

// ComplianceMessages returns every message in the thread, including ones
// both sides deleted. It is the audit read path and applies no viewer
// filtering.
func (s *Service) ComplianceMessages(ctx context.Context, threadID uuid.UUID) ([]*Message, error) {
	thread, err := s.repo.GetThreadByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, ErrNotFound
	}
	return s.repo.ListMessagesByThread(ctx, threadID)
}

// ComplianceMessage returns one message regardless of deletion flags
func (s *Service) ComplianceMessage(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	msg, err := s.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (s *Service) broadcast(ctx context.Context, thread *Thread, msg *Message) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, thread, msg); err != nil {
		logger.FromContext(ctx).Warn().Err(err).
			Str("thread_id", thread.ID.String()).
			Msg("Failed to broadcast message")
	}
}

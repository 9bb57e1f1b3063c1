package relationships

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/domain/notification"
	"github.com/mwork/consent-engine/internal/pkg/logger"
)

// ReciprocityListener is told when a pair becomes or stops being reciprocal
type ReciprocityListener interface {
	// OnReciprocal is called after initiator's like completed the pair.
	OnReciprocal(ctx context.Context, initiator, other uuid.UUID) error
	OnReciprocityBroken(ctx context.Context, a, b uuid.UUID) error
}

// BlockListener is told after a block is recorded
type BlockListener interface {
	OnBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) error
}

// Config holds optional service collaborators
type Config struct {
	Reciprocity    ReciprocityListener
	BlockListeners []BlockListener
	Notifier       notification.Publisher
	Now            func() time.Time
}

// Service handles user relationships business logic
type Service struct {
	repo           Repository
	reciprocity    ReciprocityListener
	blockListeners []BlockListener
	notifier       notification.Publisher
	now            func() time.Time
}

// NewService creates new relationships service
func NewService(repo Repository, cfg Config) *Service {
	s := &Service{
		repo:           repo,
		reciprocity:    cfg.Reciprocity,
		blockListeners: cfg.BlockListeners,
		notifier:       cfg.Notifier,
		now:            cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetReciprocityListener attaches the match detector after construction,
// since the detector itself reads from this service's repository.
func (s *Service) SetReciprocityListener(l ReciprocityListener) {
	s.reciprocity = l
}

// AddBlockListener registers a collaborator to void state on block
func (s *Service) AddBlockListener(l BlockListener) {
	s.blockListeners = append(s.blockListeners, l)
}

// Like records likerID's like of likedID and reports whether it completed a
// reciprocal pair. Repeating a like is a no-op that reports the same.
func (s *Service) Like(ctx context.Context, likerID, likedID uuid.UUID) (bool, error) {
	if likerID == likedID {
		return false, ErrSelfReference
	}
	ctx = logger.WithPair(ctx, likerID, likedID)

	result, err := s.repo.UpsertLike(ctx, likerID, likedID, s.now())
	if err != nil {
		return false, err
	}

	if result.Changed {
		notification.Notify(ctx, s.notifier, notification.Event{
			Type:      notification.TypeLikeReceived,
			EventID:   likerID.String(),
			Recipient: likedID,
			Data:      &notification.Data{ActorID: &likerID},
		})
	}

	if result.Reciprocal && s.reciprocity != nil {
		if err := s.reciprocity.OnReciprocal(ctx, likerID, likedID); err != nil {
			logger.FromContext(ctx).Error().Err(err).Msg("Match handling failed, will retry on next read")
		}
	}

	return result.Reciprocal, nil
}

// Unlike removes likerID's like of likedID if present
func (s *Service) Unlike(ctx context.Context, likerID, likedID uuid.UUID) error {
	if likerID == likedID {
		return ErrSelfReference
	}
	ctx = logger.WithPair(ctx, likerID, likedID)

	changed, err := s.repo.DeactivateLike(ctx, likerID, likedID, s.now())
	if err != nil {
		return err
	}
	if changed {
		s.breakReciprocity(ctx, likerID, likedID)
	}
	return nil
}

// IsBlocked reports whether either member blocks the other
func (s *Service) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return s.repo.IsBlocked(ctx, a, b)
}

// HasBlocked checks if blockerID has blocked targetID
func (s *Service) HasBlocked(ctx context.Context, blockerID, targetID uuid.UUID) (bool, error) {
	return s.repo.HasBlocked(ctx, blockerID, targetID)
}

// IsMutual reports whether both members actively like each other and
// neither blocks the other
func (s *Service) IsMutual(ctx context.Context, a, b uuid.UUID) (bool, error) {
	if a == b {
		return false, nil
	}
	return s.repo.IsMutual(ctx, a, b)
}

// BlockUser blocks a user. Likes in both directions are removed and every
// block listener is told so it can void pair state.
func (s *Service) BlockUser(ctx context.Context, blockerID, targetID uuid.UUID) error {
	if blockerID == targetID {
		return ErrSelfReference
	}
	ctx = logger.WithPair(ctx, blockerID, targetID)

	block := &BlockRelation{
		ID:            uuid.New(),
		BlockerUserID: blockerID,
		BlockedUserID: targetID,
		CreatedAt:     s.now(),
	}
	created, err := s.repo.CreateBlock(ctx, block)
	if err != nil {
		return err
	}
	if created {
		logger.FromContext(ctx).Info().Msg("Member blocked")
	}

	// Listeners run on repeated blocks too, so a void that failed earlier is retried.
	s.breakReciprocity(ctx, blockerID, targetID)
	for _, l := range s.blockListeners {
		if err := l.OnBlocked(ctx, blockerID, targetID); err != nil {
			logger.FromContext(ctx).Error().Err(err).Msg("Block listener failed")
		}
	}
	return nil
}

// UnblockUser unblocks a user. Likes removed by the block stay removed.
func (s *Service) UnblockUser(ctx context.Context, blockerID, targetID uuid.UUID) error {
	if blockerID == targetID {
		return ErrSelfReference
	}
	_, err := s.repo.DeleteBlock(ctx, blockerID, targetID)
	return err
}

// ListMyBlocks returns all users blocked by the given user
func (s *Service) ListMyBlocks(ctx context.Context, userID uuid.UUID) ([]*BlockRelation, error) {
	return s.repo.ListBlocks(ctx, userID)
}

// LikesGiven returns the active likes userID has given
func (s *Service) LikesGiven(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error) {
	return s.repo.ListLikesGiven(ctx, userID)
}

// LikesReceived returns the active likes userID has received from members
// not blocked in either direction
func (s *Service) LikesReceived(ctx context.Context, userID uuid.UUID) ([]*LikeEdge, error) {
	return s.repo.ListLikesReceived(ctx, userID)
}

func (s *Service) breakReciprocity(ctx context.Context, a, b uuid.UUID) {
	if s.reciprocity == nil {
		return
	}
	if err := s.reciprocity.OnReciprocityBroken(ctx, a, b); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("Failed to dissolve match")
	}
}

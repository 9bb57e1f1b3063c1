package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/domain/notification"
	"github.com/mwork/consent-engine/internal/pkg/logger"
	"github.com/mwork/consent-engine/internal/pkg/pair"
)

// GraphReader answers whether a pair is currently reciprocal and unblocked
type GraphReader interface {
	IsMutual(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// SystemPoster posts a system message into the pair's thread. Posting the
// same key twice must return the first message's id.
type SystemPoster interface {
	PostSystemMessage(ctx context.Context, a, b, senderID uuid.UUID, key, text string) (uuid.UUID, error)
}

// SystemPosterFunc adapts a function to SystemPoster
type SystemPosterFunc func(ctx context.Context, a, b, senderID uuid.UUID, key, text string) (uuid.UUID, error)

func (f SystemPosterFunc) PostSystemMessage(ctx context.Context, a, b, senderID uuid.UUID, key, text string) (uuid.UUID, error) {
	return f(ctx, a, b, senderID, key, text)
}

// Config holds optional detector collaborators
type Config struct {
	Notifier notification.Publisher
	Now      func() time.Time
}

// Detector turns reciprocal likes into matches. It implements
// relationships.ReciprocityListener.
type Detector struct {
	repo     Repository
	graph    GraphReader
	poster   SystemPoster
	notifier notification.Publisher
	now      func() time.Time
}

// NewDetector creates new match detector
func NewDetector(repo Repository, graph GraphReader, poster SystemPoster, cfg Config) *Detector {
	d := &Detector{
		repo:     repo,
		graph:    graph,
		poster:   poster,
		notifier: cfg.Notifier,
		now:      cfg.Now,
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// OnReciprocal opens or resumes the pair's match after initiator's like
// completed it.
func (d *Detector) OnReciprocal(ctx context.Context, initiator, other uuid.UUID) error {
	if initiator == other {
		return ErrSelfReference
	}
	m, err := d.repo.Begin(ctx, pair.Of(initiator, other), initiator, d.now())
	if err != nil {
		return err
	}
	return d.settle(ctx, m)
}

// settle posts the announcement for a pending episode and completes it.
// Only the caller whose compare-and-set wins publishes match_created.
func (d *Detector) settle(ctx context.Context, m *Match) error {
	if m.Status != StatusPending {
		return nil
	}

	messageID, err := d.poster.PostSystemMessage(ctx, m.UserAID, m.UserBID, m.InitiatedBy, m.SystemKey(), Announcement)
	if err != nil {
		return fmt.Errorf("post match message: %w", err)
	}

	won, err := d.repo.Complete(ctx, m.Key(), m.Episode, messageID, d.now())
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	logger.FromContext(ctx).Info().
		Int("episode", m.Episode).
		Str("message_id", messageID.String()).
		Msg("Match created")

	for _, member := range []uuid.UUID{m.UserAID, m.UserBID} {
		other := m.Other(member)
		notification.Notify(ctx, d.notifier, notification.Event{
			Type:      notification.TypeMatchCreated,
			EventID:   m.SystemKey(),
			Recipient: member,
			Data:      &notification.Data{ActorID: &other, MessageID: &messageID},
		})
	}
	return nil
}

// OnReciprocityBroken dissolves the pair's match. A pair that is reciprocal
// again by the time the record is dissolved starts its next episode.
func (d *Detector) OnReciprocityBroken(ctx context.Context, a, b uuid.UUID) error {
	mutual, err := d.graph.IsMutual(ctx, a, b)
	if err != nil {
		return err
	}
	if mutual {
		return nil
	}

	key := pair.Of(a, b)
	dissolved, err := d.repo.Dissolve(ctx, key)
	if err != nil {
		return err
	}
	if !dissolved {
		return nil
	}
	logger.FromContext(ctx).Info().Msg("Match dissolved")

	// A like that landed between the check and the dissolve saw the old
	// episode and did nothing, so the new episode is opened here.
	mutual, err = d.graph.IsMutual(ctx, a, b)
	if err != nil || !mutual {
		return err
	}
	m, err := d.repo.Begin(ctx, key, a, d.now())
	if err != nil {
		return err
	}
	return d.settle(ctx, m)
}

// IsMatched recomputes the match from the graph and finishes any pending
// announcement.
func (d *Detector) IsMatched(ctx context.Context, a, b uuid.UUID) (bool, error) {
	if a == b {
		return false, nil
	}
	mutual, err := d.graph.IsMutual(ctx, a, b)
	if err != nil || !mutual {
		return false, err
	}

	m, err := d.repo.Begin(ctx, pair.Of(a, b), a, d.now())
	if err != nil {
		return false, err
	}
	if err := d.settle(ctx, m); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Match announcement still pending")
	}
	return true, nil
}

// ListMatches returns userID's complete matches that are still reciprocal
// and unblocked. Pending matches are retried on the way.
func (d *Detector) ListMatches(ctx context.Context, userID uuid.UUID) ([]*Match, error) {
	records, err := d.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	matches := make([]*Match, 0, len(records))
	for _, m := range records {
		mutual, err := d.graph.IsMutual(ctx, m.UserAID, m.UserBID)
		if err != nil {
			return nil, err
		}
		if !mutual {
			continue
		}

		if m.Status == StatusPending {
			if err := d.settle(ctx, m); err != nil {
				logger.FromContext(ctx).Warn().Err(err).Msg("Match announcement still pending")
				continue
			}
			if m, err = d.repo.Get(ctx, m.Key()); err != nil {
				return nil, err
			}
			if m == nil || m.Status != StatusComplete {
				continue
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Get returns the pair's current record, or nil if it never matched
func (d *Detector) Get(ctx context.Context, a, b uuid.UUID) (*Match, error) {
	return d.repo.Get(ctx, pair.Of(a, b))
}

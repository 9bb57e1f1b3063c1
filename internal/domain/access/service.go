package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/consent-engine/internal/domain/notification"
	"github.com/mwork/consent-engine/internal/pkg/apperr"
	"github.com/mwork/consent-engine/internal/pkg/logger"
	"github.com/mwork/consent-engine/internal/pkg/validator"
)

// BlockChecker reports whether either member blocks the other
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// Config holds optional service settings
type Config struct {
	GrantTTL time.Duration
	Notifier notification.Publisher
	Now      func() time.Time
}

// Service runs the access request state machine
type Service struct {
	repo     Repository
	blocks   BlockChecker
	grantTTL time.Duration
	notifier notification.Publisher
	now      func() time.Time
}

// NewService creates new access service
func NewService(repo Repository, blocks BlockChecker, cfg Config) *Service {
	s := &Service{
		repo:     repo,
		blocks:   blocks,
		grantTTL: cfg.GrantTTL,
		notifier: cfg.Notifier,
		now:      cfg.Now,
	}
	if s.grantTTL <= 0 {
		s.grantTTL = DefaultGrantTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type requestInput struct {
	Message string `json:"message" validate:"max=1000,printable"`
}

// Request asks target for access. An open request for the pair is returned
// unchanged with Created=false.
func (s *Service) Request(ctx context.Context, requesterID, targetID uuid.UUID, message string) (*RequestResult, error) {
	if requesterID == targetID {
		return nil, ErrSelfReference
	}
	if errs := validator.Validate(requestInput{Message: message}); errs != nil {
		return nil, apperr.Invalid(errs)
	}
	ctx = logger.WithPair(ctx, requesterID, targetID)

	blocked, err := s.blocks.IsBlocked(ctx, requesterID, targetID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlockedRelationship
	}

	req, created, err := s.repo.Open(ctx, &Request{
		ID:          uuid.New(),
		RequesterID: requesterID,
		TargetID:    targetID,
		Message:     message,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, err
	}

	if created {
		logger.FromContext(ctx).Info().
			Str("request_id", req.ID.String()).
			Int("revision", req.Revision).
			Msg("Access requested")
		s.notify(ctx, notification.TypeAccessRequested, req, req.TargetID, req.RequesterID)
	}
	return &RequestResult{Request: req, Created: created}, nil
}

type action struct {
	name  string
	from  Status
	build func(now time.Time) Update
}

// Grant opens a grantTTL window for the requester
func (s *Service) Grant(ctx context.Context, actorID, requestID uuid.UUID) (*Request, error) {
	return s.transition(ctx, actorID, requestID, action{
		name: "grant",
		from: StatusPending,
		build: func(now time.Time) Update {
			expires := now.Add(s.grantTTL)
			return Update{Status: StatusGranted, RespondedAt: &now, GrantedAt: &now, ExpiresAt: &expires}
		},
	})
}

// Deny refuses a pending request
func (s *Service) Deny(ctx context.Context, actorID, requestID uuid.UUID, reason string) (*Request, error) {
	return s.transition(ctx, actorID, requestID, action{
		name: "deny",
		from: StatusPending,
		build: func(now time.Time) Update {
			return Update{Status: StatusDenied, Reason: reason, RespondedAt: &now}
		},
	})
}

// Revoke ends a grant before its natural expiry
func (s *Service) Revoke(ctx context.Context, actorID, requestID uuid.UUID, reason string) (*Request, error) {
	return s.transition(ctx, actorID, requestID, action{
		name: "revoke",
		from: StatusGranted,
		build: func(now time.Time) Update {
			return Update{Status: StatusRevoked, Reason: reason, RespondedAt: &now}
		},
	})
}

func (s *Service) transition(ctx context.Context, actorID, requestID uuid.UUID, a action) (*Request, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if actorID != req.TargetID {
		return nil, ErrUnauthorized
	}
	ctx = logger.WithPair(ctx, req.RequesterID, req.TargetID)

	blocked, err := s.blocks.IsBlocked(ctx, req.RequesterID, req.TargetID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlockedRelationship
	}

	now := s.now()
	switch current := req.EffectiveStatus(now); {
	case a.from == StatusGranted && current == StatusExpired:
		return nil, ErrExpiredGrant
	case current != a.from:
		return nil, ErrInvalidTransition
	}

	u := a.build(now)
	ok, err := s.repo.Transition(ctx, req.ID, req.Revision, a.from, u, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	u.apply(req)

	logger.FromContext(ctx).Info().
		Str("request_id", req.ID.String()).
		Str("action", a.name).
		Msg("Access request updated")

	eventType := notification.TypeAccessResolved
	if req.Status == StatusRevoked {
		eventType = notification.TypeAccessRevoked
	}
	s.notify(ctx, eventType, req, req.RequesterID, req.TargetID)
	return req, nil
}

// HasAccess reports whether requester may currently view target's
// restricted media
func (s *Service) HasAccess(ctx context.Context, requesterID, targetID uuid.UUID) (bool, error) {
	req, err := s.repo.GetByPair(ctx, requesterID, targetID)
	if err != nil || req == nil {
		return false, err
	}
	if req.EffectiveStatus(s.now()) != StatusGranted {
		return false, nil
	}

	blocked, err := s.blocks.IsBlocked(ctx, requesterID, targetID)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// OnBlocked voids requests between the pair in both directions. It
// implements relationships.BlockListener and notifies nobody.
func (s *Service) OnBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	now := s.now()
	for _, p := range [][2]uuid.UUID{{blockerID, blockedID}, {blockedID, blockerID}} {
		req, err := s.repo.GetByPair(ctx, p[0], p[1])
		if err != nil {
			return err
		}
		if req == nil {
			continue
		}

		var u Update
		switch req.EffectiveStatus(now) {
		case StatusPending:
			u = Update{Status: StatusDenied, Reason: ReasonBlocked, RespondedAt: &now}
		case StatusGranted:
			u = Update{Status: StatusRevoked, Reason: ReasonBlocked, RespondedAt: &now}
		default:
			continue
		}

		ok, err := s.repo.Transition(ctx, req.ID, req.Revision, req.Status, u, now)
		if err != nil {
			return err
		}
		if ok {
			logger.FromContext(ctx).Info().
				Str("request_id", req.ID.String()).
				Str("status", string(u.Status)).
				Msg("Access request voided by block")
		}
	}
	return nil
}

// Get returns a request by id
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}

// EffectiveStatus evaluates req against the service clock
func (s *Service) EffectiveStatus(req *Request) Status {
	return req.EffectiveStatus(s.now())
}

// ListIncoming returns pending requests addressed to targetID from members
// the target is not blocked with
func (s *Service) ListIncoming(ctx context.Context, targetID uuid.UUID) ([]*Request, error) {
	requests, err := s.repo.ListIncoming(ctx, targetID, StatusPending)
	if err != nil {
		return nil, err
	}

	visible := requests[:0]
	for _, req := range requests {
		blocked, err := s.blocks.IsBlocked(ctx, req.RequesterID, targetID)
		if err != nil {
			return nil, err
		}
		if !blocked {
			visible = append(visible, req)
		}
	}
	return visible, nil
}

// ListOutgoing returns every request requesterID has made
func (s *Service) ListOutgoing(ctx context.Context, requesterID uuid.UUID) ([]*Request, error) {
	return s.repo.ListOutgoing(ctx, requesterID)
}

func (s *Service) notify(ctx context.Context, t notification.Type, req *Request, recipient, actor uuid.UUID) {
	requestID := req.ID
	notification.Notify(ctx, s.notifier, notification.Event{
		Type:      t,
		EventID:   req.EventID(),
		Recipient: recipient,
		Data: &notification.Data{
			ActorID:   &actor,
			RequestID: &requestID,
			Status:    string(req.Status),
			Reason:    req.Reason,
			ExpiresAt: req.ExpiresAt,
		},
	})
}

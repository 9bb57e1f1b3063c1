// Package engine wires the relationship graph, match detector, access
// grants, conversations and notification feed into one process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mwork/consent-engine/internal/config"
	"github.com/mwork/consent-engine/internal/domain/access"
	"github.com/mwork/consent-engine/internal/domain/conversation"
	"github.com/mwork/consent-engine/internal/domain/match"
	"github.com/mwork/consent-engine/internal/domain/notification"
	"github.com/mwork/consent-engine/internal/domain/relationships"
)

// Options are the engine's external resources. DB is required for the
// postgres driver; Redis is optional.
type Options struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	// Deliverer overrides the notification delivery collaborator.
	Deliverer notification.Deliverer
	Now       func() time.Time
}

// Engine exposes the wired components
type Engine struct {
	Relationships *relationships.Service
	Matches       *match.Detector
	Access        *access.Service
	Conversations *conversation.Service
	Notifications *notification.Feed

	dispatcher *notification.Dispatcher
	db         *sqlx.DB
	redis      *redis.Client
}

type repositories struct {
	relationships relationships.Repository
	matches       match.Repository
	access        access.Repository
	conversations conversation.Repository
	notifications notification.Store
}

func newRepositories(cfg *config.Config, db *sqlx.DB) (*repositories, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		return &repositories{
			relationships: relationships.NewMemoryRepository(),
			matches:       match.NewMemoryRepository(),
			access:        access.NewMemoryRepository(),
			conversations: conversation.NewMemoryRepository(),
			notifications: notification.NewMemoryStore(),
		}, nil
	case config.StoreDriverPostgres:
		if db == nil {
			return nil, errors.New("engine: postgres driver requires a database")
		}
		return &repositories{
			relationships: relationships.NewRepository(db),
			matches:       match.NewRepository(db),
			access:        access.NewRepository(db),
			conversations: conversation.NewRepository(db),
			notifications: notification.NewRepository(db),
		}, nil
	default:
		return nil, fmt.Errorf("engine: unknown store driver %q", cfg.StoreDriver)
	}
}

// New builds an engine from opts
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	repos, err := newRepositories(cfg, opts.DB)
	if err != nil {
		return nil, err
	}

	// ---------- Notifications ----------
	var (
		session     notification.SessionStore = notification.NewMemoryStore()
		deliverer   notification.Deliverer    = notification.LogDeliverer{}
		broadcaster conversation.Broadcaster
	)
	if opts.Redis != nil {
		session = notification.NewRedisSessionStore(opts.Redis, cfg.NotifySessionTTL)
		deliverer = notification.NewRedisPublisher(opts.Redis)
		broadcaster = conversation.NewRedisBroadcaster(opts.Redis)
	}
	if opts.Deliverer != nil {
		deliverer = opts.Deliverer
	}

	dispatcher := notification.NewDispatcher(deliverer, cfg.NotifyQueueSize)
	feed := notification.NewFeed(notification.FeedConfig{
		Durable:    repos.notifications,
		Session:    session,
		Dispatcher: dispatcher,
		Now:        now,
	})

	// ---------- Services ----------
	graph := relationships.NewService(repos.relationships, relationships.Config{
		Notifier: feed,
		Now:      now,
	})

	conversations := conversation.NewService(repos.conversations, graph, conversation.Config{
		MaxMessageLength: cfg.MessageMaxLength,
		Broadcaster:      broadcaster,
		Now:              now,
	})

	detector := match.NewDetector(repos.matches, graph, systemPoster(conversations), match.Config{
		Notifier: feed,
		Now:      now,
	})

	grants := access.NewService(repos.access, graph, access.Config{
		GrantTTL: cfg.AccessGrantTTL,
		Notifier: feed,
		Now:      now,
	})

	graph.SetReciprocityListener(detector)
	graph.AddBlockListener(grants)

	log.Info().
		Str("store_driver", cfg.StoreDriver).
		Bool("redis", opts.Redis != nil).
		Dur("grant_ttl", cfg.AccessGrantTTL).
		Msg("Engine initialized")

	return &Engine{
		Relationships: graph,
		Matches:       detector,
		Access:        grants,
		Conversations: conversations,
		Notifications: feed,
		dispatcher:    dispatcher,
		db:            opts.DB,
		redis:         opts.Redis,
	}, nil
}

// systemPoster lets the detector post match announcements without
// depending on conversation types
func systemPoster(svc *conversation.Service) match.SystemPoster {
	return match.SystemPosterFunc(func(ctx context.Context, a, b, senderID uuid.UUID, key, text string) (uuid.UUID, error) {
		msg, err := svc.PostSystemMessage(ctx, a, b, senderID, key, text)
		if err != nil {
			return uuid.Nil, err
		}
		return msg.ID, nil
	})
}

// Ready reports whether the engine's backing stores are reachable
func (e *Engine) Ready(ctx context.Context) error {
	if e.db != nil {
		if err := e.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close drains pending notification deliveries. It does not close the
// database or Redis clients passed in Options.
func (e *Engine) Close() {
	e.dispatcher.Close()
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const userChannelPrefix = "notifications:"

// Deliverer hands a newly recorded notification to the outbound delivery
// collaborator (realtime socket, push, email).
type Deliverer interface {
	Deliver(ctx context.Context, r *Record) error
}

// DelivererFunc adapts a function to Deliverer
type DelivererFunc func(ctx context.Context, r *Record) error

func (f DelivererFunc) Deliver(ctx context.Context, r *Record) error { return f(ctx, r) }

// RedisPublisher publishes notification:new events on the recipient's Redis
// channel, where realtime gateways subscribe.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Redis-backed deliverer
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// UserChannel returns the pub/sub channel for a member
func UserChannel(userID uuid.UUID) string {
	return userChannelPrefix + userID.String()
}

func (p *RedisPublisher) Deliver(ctx context.Context, r *Record) error {
	if p == nil || p.client == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type": "notification:new",
		"data": r,
	})
	if err != nil {
		return fmt.Errorf("encode realtime notification: %w", err)
	}

	return p.client.Publish(ctx, UserChannel(r.RecipientID), payload).Err()
}

// LogDeliverer writes deliveries to the log; used when no realtime
// collaborator is configured.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(ctx context.Context, r *Record) error {
	log.Info().
		Str("event_type", string(r.Type)).
		Str("event_id", r.EventID).
		Str("recipient_id", r.RecipientID.String()).
		Msg("Notification delivered")
	return nil
}

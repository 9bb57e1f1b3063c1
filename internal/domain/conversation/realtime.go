package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const threadChannelPrefix = "conversation:thread:"

// Broadcaster fans a new message out to connected clients
type Broadcaster interface {
	Broadcast(ctx context.Context, thread *Thread, msg *Message) error
}

// RedisBroadcaster publishes new messages on a per-thread channel so every
// server instance can push them to its own connections.
type RedisBroadcaster struct {
	client *redis.Client
}

// NewRedisBroadcaster creates a broadcaster on the given client
func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

// ThreadChannel returns the pub/sub channel for a thread
func ThreadChannel(threadID uuid.UUID) string {
	return threadChannelPrefix + threadID.String()
}

type threadEvent struct {
	Type string   `json:"type"`
	Data *Message `json:"data"`
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, thread *Thread, msg *Message) error {
	payload, err := json.Marshal(threadEvent{Type: "message:new", Data: msg})
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}
	return b.client.Publish(ctx, ThreadChannel(thread.ID), payload).Err()
}

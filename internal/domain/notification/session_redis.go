package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mwork/consent-engine/internal/pkg/logger"
)

const (
	sessionKeyPrefix = "notif:session:"

	// maxMarkAttempts bounds MarkViewed retries when the hash changes
	// between WATCH and EXEC.
	maxMarkAttempts = 5
)

// RedisSessionStore keeps session-scoped notification records in one Redis
// hash per recipient. The hash expires after the session TTL, so records do
// not survive a session boundary.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

type sessionEntry struct {
	Record
	Viewed *time.Time `json:"viewed_at,omitempty"`
}

func sessionHash(recipientID uuid.UUID) string {
	return sessionKeyPrefix + recipientID.String()
}

func sessionField(key Key) string {
	return string(key.Type) + "|" + key.EventID
}

func (s *RedisSessionStore) Insert(ctx context.Context, r *Record) (bool, error) {
	entry, err := json.Marshal(sessionEntry{Record: *r})
	if err != nil {
		return false, fmt.Errorf("encode session notification: %w", err)
	}

	hash := sessionHash(r.RecipientID)
	var added *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.HSetNX(ctx, hash, sessionField(r.Key()), entry)
		pipe.Expire(ctx, hash, s.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store session notification: %w", err)
	}
	return added.Val(), nil
}

func (s *RedisSessionStore) ListPending(ctx context.Context, recipientID uuid.UUID) ([]*Record, error) {
	values, err := s.client.HGetAll(ctx, sessionHash(recipientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list session notifications: %w", err)
	}

	out := make([]*Record, 0, len(values))
	for field, raw := range values {
		var entry sessionEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logger.FromContext(ctx).Warn().Err(err).
				Str("recipient_id", recipientID.String()).
				Str("field", field).
				Msg("Skipping undecodable session notification")
			continue
		}
		if entry.Viewed != nil {
			continue
		}
		rec := entry.Record
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkViewed flags one record as viewed. The write runs under WATCH on the
// recipient's hash, so it never recreates a hash that was cleared or expired
// and only one of several concurrent callers reports true.
func (s *RedisSessionStore) MarkViewed(ctx context.Context, key Key, at time.Time) (bool, error) {
	hash := sessionHash(key.Recipient)
	field := sessionField(key)

	var marked bool
	mark := func(tx *redis.Tx) error {
		marked = false

		raw, err := tx.HGet(ctx, hash, field).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load session notification: %w", err)
		}

		var entry sessionEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return fmt.Errorf("decode session notification: %w", err)
		}
		if entry.Viewed != nil {
			return nil
		}
		entry.Viewed = &at
		entry.ViewedAt = sql.NullTime{Time: at, Valid: true}

		encoded, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode session notification: %w", err)
		}

		// The hash still exists here, so HSET keeps its TTL.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hash, field, encoded)
			return nil
		})
		if err != nil {
			return fmt.Errorf("update session notification: %w", err)
		}
		marked = true
		return nil
	}

	for attempt := 0; attempt < maxMarkAttempts; attempt++ {
		err := s.client.Watch(ctx, mark, hash)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return marked, nil
	}
	return false, fmt.Errorf("update session notification: hash %s kept changing", hash)
}

func (s *RedisSessionStore) Clear(ctx context.Context, recipientID uuid.UUID) error {
	if err := s.client.Del(ctx, sessionHash(recipientID)).Err(); err != nil {
		return fmt.Errorf("clear session notifications: %w", err)
	}
	return nil
}

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a [Store] backed by Redis lists. Each chat's history lives in
// one list key; the list is trimmed to the newest maxMessages entries on every
// append and the key expires after ttl of inactivity.
type RedisStore struct {
	client      *redis.Client
	ttl         time.Duration
	maxMessages int
}

// RedisOption configures a [RedisStore].
type RedisOption func(*RedisStore)

// WithTTL overrides the retention TTL. Non-positive values are ignored.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxMessages overrides the per-chat message cap. Non-positive values are
// ignored.
func WithMaxMessages(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

// NewRedisStore creates a history store on the given Redis client. The caller
// owns the client's lifecycle.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:      client,
		ttl:         DefaultTTL,
		maxMessages: DefaultMaxMessages,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// key returns the Redis key holding the chat's history list.
func key(chatID string) string {
	return "toolgate:chat:" + chatID
}

// Append implements [Store]. The push, trim, and expire run in one pipeline.
func (s *RedisStore) Append(ctx context.Context, chatID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("history: marshal message: %w", err)
		}
		vals = append(vals, b)
	}

	k := key(chatID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, vals...)
	pipe.LTrim(ctx, k, int64(-s.maxMessages), -1)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: append to %q: %w", chatID, err)
	}
	return nil
}

// Recent implements [Store].
func (s *RedisStore) Recent(ctx context.Context, chatID string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, key(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: read %q: %w", chatID, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("history: unmarshal message in %q: %w", chatID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Clear implements [Store].
func (s *RedisStore) Clear(ctx context.Context, chatID string) error {
	if err := s.client.Del(ctx, key(chatID)).Err(); err != nil {
		return fmt.Errorf("history: clear %q: %w", chatID, err)
	}
	return nil
}

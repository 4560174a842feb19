package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tuitionmatch/pkg/sentinel"
)

// DefaultSessionTTL bounds how long an idle session's progress markers live.
const DefaultSessionTTL = 24 * time.Hour

// Redis stores each session as a hash keyed by session id. Every write
// refreshes the TTL, so markers survive as long as the session is active.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client, ttl: DefaultSessionTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Get(ctx context.Context, sessionID, key string) (string, error) {
	value, err := r.client.HGet(ctx, sessionKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session get %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, sessionID, key, value string) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(sessionID), key, value)
	pipe.Expire(ctx, sessionKey(sessionID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, sessionID, key string) error {
	if err := r.client.HDel(ctx, sessionKey(sessionID), key).Err(); err != nil {
		return fmt.Errorf("session delete %s: %w", key, err)
	}
	return nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

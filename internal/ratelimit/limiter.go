// Package ratelimit implements a fixed-window request counter in redis.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultKeyPrefix = "kpilens:ratelimit"

type Config struct {
	Requests  int
	Window    time.Duration
	KeyPrefix string
}

// Decision describes one Allow call. Remaining is never negative.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter counts requests per client in windows of fixed length. Each window
// has its own key, so counters disappear with their TTL and never need a reset.
type Limiter struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

func New(client *redis.Client, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("requests per window must be > 0")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be > 0")
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Limiter{client: client, cfg: cfg, now: time.Now}, nil
}

func (l *Limiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	now := l.now()
	window := now.UnixNano() / int64(l.cfg.Window)
	resetAt := time.Unix(0, (window+1)*int64(l.cfg.Window))
	key := fmt.Sprintf("%s:%s:%d", l.cfg.KeyPrefix, clientID, window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.cfg.Window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter %q: %w", key, err)
	}

	count := incr.Val()
	remaining := int64(l.cfg.Requests) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.cfg.Requests),
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) Limit() int {
	return l.cfg.Requests
}

// Ping reports whether redis is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

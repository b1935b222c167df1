package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, requests int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := New(client, Config{Requests: requests, Window: window})
	require.NoError(t, err)
	return limiter, mr
}

func TestAllowWithinWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, time.Minute)
	base := time.Date(2026, time.January, 1, 9, 0, 10, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	first, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.EqualValues(t, 1, first.Remaining)
	assert.Equal(t, time.Date(2026, time.January, 1, 9, 1, 0, 0, time.UTC), first.ResetAt.UTC())

	second, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.EqualValues(t, 0, second.Remaining)

	third, err := limiter.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.EqualValues(t, 3, third.Count)
	assert.EqualValues(t, 0, third.Remaining)
}

func TestAllowIsPerClient(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)

	a, err := limiter.Allow(context.Background(), "a")
	require.NoError(t, err)
	b, err := limiter.Allow(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, a.Allowed)
	assert.True(t, b.Allowed)
}

func TestAllowResetsInNextWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	now := time.Date(2026, time.January, 1, 9, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	_, err := limiter.Allow(context.Background(), "a")
	require.NoError(t, err)
	denied, err := limiter.Allow(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	now = now.Add(time.Minute)
	allowed, err := limiter.Allow(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}

func TestCounterKeysExpire(t *testing.T) {
	limiter, mr := newTestLimiter(t, 5, time.Minute)
	_, err := limiter.Allow(context.Background(), "a")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))

	mr.FastForward(2 * time.Minute)
	assert.Empty(t, mr.Keys())
}

func TestAllowReportsRedisFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1})
	defer func() { _ = client.Close() }()
	limiter, err := New(client, Config{Requests: 5, Window: time.Minute})
	require.NoError(t, err)

	_, err = limiter.Allow(context.Background(), "a")
	require.Error(t, err)
	assert.Error(t, limiter.Ping(context.Background()))
}

func TestNewValidatesConfig(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()

	_, err := New(nil, Config{Requests: 1, Window: time.Second})
	assert.Error(t, err)
	_, err = New(client, Config{Requests: 0, Window: time.Second})
	assert.Error(t, err)
	_, err = New(client, Config{Requests: 1})
	assert.Error(t, err)

	limiter, err := New(client, Config{Requests: 3, Window: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, limiter.Limit())
	assert.Equal(t, defaultKeyPrefix, limiter.cfg.KeyPrefix)
}

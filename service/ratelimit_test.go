package service

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"TalkingAvatar-server/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRateLimiterInMemory(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(2, nil, zap.NewNop())

	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.False(t, rl.Allow(ctx, "10.0.0.1"))
	assert.True(t, rl.Allow(ctx, "10.0.0.2"), "limits are per client")
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, nil, zap.NewNop())
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	now = now.Add(time.Minute)
	assert.True(t, rl.Allow(ctx, "10.0.0.2"))
	assert.Len(t, rl.buckets, 2)

	now = now.Add(bucketIdle)
	assert.True(t, rl.Allow(ctx, "10.0.0.3"))
	assert.Len(t, rl.buckets, 1)
	assert.Contains(t, rl.buckets, "10.0.0.3")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, nil, zap.NewNop())
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(context.Background(), "10.0.0.1"))
	}
}

func TestMinuteKey(t *testing.T) {
	now := time.Unix(120, 0)
	assert.Equal(t, "ratelimit:1.2.3.4:2", minuteKey("1.2.3.4", now))
	assert.Equal(t, minuteKey("1.2.3.4", now), minuteKey("1.2.3.4", now.Add(59*time.Second)))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}

func TestNewRedisClientDisabled(t *testing.T) {
	assert.Nil(t, NewRedisClient(config.RedisConfig{}))
}

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"sms-service/internal/conf"
	smsErrors "sms-service/internal/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(opts Options) (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(opts)
	l.SetClock(clock.Now)
	return l, clock
}

func TestMemoryLimiter_BurstAndRefill(t *testing.T) {
	l, clock := newTestLimiter(Options{Rate: 1, Burst: 2, MaxKeys: 10, IdleTTL: time.Minute})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "1.1.1.1"))
	assert.True(t, l.Allow(ctx, "1.1.1.1"))
	assert.False(t, l.Allow(ctx, "1.1.1.1"))
	// 其他客户端不受影响
	assert.True(t, l.Allow(ctx, "2.2.2.2"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow(ctx, "1.1.1.1"))
	assert.False(t, l.Allow(ctx, "1.1.1.1"))
}

func TestMemoryLimiter_BoundedKeys(t *testing.T) {
	l, clock := newTestLimiter(Options{Rate: 0.001, Burst: 1, MaxKeys: 3, IdleTTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Allow(ctx, fmt.Sprintf("10.0.0.%d", i))
		clock.Advance(time.Second)
		assert.LessOrEqual(t, l.Len(), 3)
	}
	assert.Equal(t, 3, l.Len())

	// 最早的 key 已被淘汰，重新出现时拿到新桶
	assert.True(t, l.Allow(ctx, "10.0.0.0"))
	// 最近的 key 仍在跟踪，配额已用完
	assert.False(t, l.Allow(ctx, "10.0.0.9"))
}

func TestMemoryLimiter_IdleEviction(t *testing.T) {
	l, clock := newTestLimiter(Options{Rate: 0.001, Burst: 1, MaxKeys: 100, IdleTTL: time.Minute})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "a"))
	assert.True(t, l.Allow(ctx, "b"))
	assert.False(t, l.Allow(ctx, "a"))
	assert.Equal(t, 2, l.Len())

	clock.Advance(2 * time.Minute)
	assert.True(t, l.Allow(ctx, "c"))
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Allow(ctx, "a"))
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(Options{Rate: 0.001, Burst: 1, MaxKeys: 10, IdleTTL: time.Minute})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "a"))
	assert.False(t, l.Allow(ctx, "a"))

	l.Reset()
	assert.Zero(t, l.Len())
	assert.True(t, l.Allow(ctx, "a"))
}

func TestOptionsFromConf(t *testing.T) {
	o := OptionsFromConf(nil)
	assert.Equal(t, defaultRate, o.Rate)
	assert.Equal(t, defaultBurst, o.Burst)
	assert.Equal(t, defaultMaxKeys, o.MaxKeys)

	o = OptionsFromConf(&conf.RateLimit{Rate: 2, Burst: 4, MaxKeys: 50, IdleTTL: conf.NewDuration(time.Minute)})
	assert.Equal(t, 2.0, o.Rate)
	assert.Equal(t, 4, o.Burst)
	assert.Equal(t, 50, o.MaxKeys)
	assert.Equal(t, time.Minute, o.IdleTTL)
	assert.Equal(t, defaultWindow, o.Window)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(&conf.Bootstrap{}, nil, log.DefaultLogger))
	assert.Nil(t, NewLimiter(&conf.Bootstrap{RateLimit: &conf.RateLimit{Enabled: false}}, nil, log.DefaultLogger))

	l := NewLimiter(&conf.Bootstrap{RateLimit: &conf.RateLimit{Enabled: true, Backend: "redis"}}, nil, log.DefaultLogger)
	_, ok := l.(*MemoryLimiter)
	assert.True(t, ok)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	l := NewRedisLimiter(rdb, Options{Burst: 1, Window: time.Minute}, log.DefaultLogger)

	assert.True(t, l.Allow(context.Background(), "a"))
	assert.True(t, l.Allow(context.Background(), "a"))
}

type stubLimiter struct {
	allow bool
	calls int
}

func (s *stubLimiter) Allow(context.Context, string) bool {
	s.calls++
	return s.allow
}

func TestServerMiddleware(t *testing.T) {
	next := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	out, err := Server(nil)(next)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	allow := &stubLimiter{allow: true}
	out, err = Server(allow)(next)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, allow.calls)

	deny := &stubLimiter{allow: false}
	out, err = Server(deny)(next)(context.Background(), nil)
	assert.Nil(t, out)
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonRateLimited))
	assert.Equal(t, 429, kerrors.Code(err))
}

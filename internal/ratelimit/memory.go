package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter 进程内令牌桶，key 数量有上限，空闲 key 定期回收
type MemoryLimiter struct {
	mu        sync.Mutex
	opts      Options
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter 创建内存限流器
func NewMemoryLimiter(opts Options) *MemoryLimiter {
	return &MemoryLimiter{
		opts:    opts,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetClock 替换时钟（测试用）
func (m *MemoryLimiter) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Allow 消耗一个令牌
func (m *MemoryLimiter) Allow(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.opts.IdleTTL/2 {
		m.sweep(now)
	}

	b, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= m.opts.MaxKeys {
			m.evictOldest()
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(m.opts.Rate), m.opts.Burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len 当前跟踪的 key 数
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Reset 清空全部计数
func (m *MemoryLimiter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = make(map[string]*bucket)
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) >= m.opts.IdleTTL {
			delete(m.buckets, k)
		}
	}
	m.lastSweep = now
}

func (m *MemoryLimiter) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, b := range m.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = k, b.lastSeen
		}
	}
	delete(m.buckets, oldestKey)
}

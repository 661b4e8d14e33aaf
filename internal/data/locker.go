package data

import (
	"context"
	"sync"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/constants"
	smsErrors "sms-service/internal/errors"
	"sms-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

const (
	lockExpiry = 30 * time.Second
	lockTries  = 64
)

// locker redsync 分布式锁；未配置 Redis 时使用进程内按 key 的互斥
type locker struct {
	sync    *redsync.Redsync
	local   *keyedMutex
	log     *log.Helper
	metrics *metrics.SMSMetrics
}

// NewLocker 创建锁（返回 biz.Locker 接口）
func NewLocker(rs *redsync.Redsync, logger log.Logger) biz.Locker {
	return &locker{
		sync:    rs,
		local:   newKeyedMutex(),
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Lock 获取锁，返回释放函数
func (l *locker) Lock(ctx context.Context, key string) (func(), error) {
	lockStartTime := time.Now()
	if l.sync == nil {
		unlock, err := l.local.lock(ctx, key)
		l.observe(err, lockStartTime)
		if err != nil {
			return nil, smsErrors.ErrOrderLockFailed(key, err)
		}
		return unlock, nil
	}

	mutex := l.sync.NewMutex(key,
		redsync.WithExpiry(lockExpiry),
		redsync.WithTries(lockTries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		l.log.Errorf("Failed to acquire lock: key=%s, error=%v", key, err)
		l.observe(err, lockStartTime)
		return nil, smsErrors.ErrOrderLockFailed(key, err)
	}
	l.observe(nil, lockStartTime)
	return func() {
		// 解锁不跟随请求 ctx，请求取消后仍需释放
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			l.log.Warnf("Failed to unlock: key=%s, error=%v", key, err)
		}
	}, nil
}

func (l *locker) observe(err error, start time.Time) {
	if l.metrics == nil {
		return
	}
	result := constants.ResultSuccess
	if err != nil {
		result = constants.ResultFailed
	}
	l.metrics.LockAcquireTotal.WithLabelValues(result).Inc()
	l.metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
}

// keyedMutex 按 key 的进程内互斥，无人持有时回收 key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *keyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

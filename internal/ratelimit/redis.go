package ratelimit

import (
	"context"
	"strconv"
	"time"

	"sms-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
)

// RedisLimiter 多实例共享的固定窗口计数（INCR + EXPIRE）
type RedisLimiter struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time
	log  *log.Helper
}

// NewRedisLimiter 创建 Redis 限流器
func NewRedisLimiter(rdb *redis.Client, opts Options, logger log.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb:  rdb,
		opts: opts,
		now:  time.Now,
		log:  log.NewHelper(logger),
	}
}

// Allow 窗口内计数不超过 Burst 即放行；Redis 故障时放行
func (r *RedisLimiter) Allow(ctx context.Context, key string) bool {
	window := r.now().UnixNano() / int64(r.opts.Window)
	redisKey := constants.RedisKeyRateLimit + key + ":" + strconv.FormatInt(window, 10)

	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, r.opts.Window)
		return nil
	})
	if err != nil {
		r.log.Warnf("rate limit counter failed, allowing: key=%s, error=%v", key, err)
		return true
	}
	return incr.Val() <= int64(r.opts.Burst)
}

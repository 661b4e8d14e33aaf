// Package ratelimit 按客户端限流，计数状态由注入的 Limiter 持有，可在测试间重置。
package ratelimit

import (
	"context"
	"net"
	"time"

	"sms-service/internal/conf"
	smsErrors "sms-service/internal/errors"
	"sms-service/internal/metrics"

	pkgUtils "github.com/gaoyong06/go-pkg/utils"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/go-redis/redis/v8"
)

const (
	defaultRate    = 5.0
	defaultBurst   = 20
	defaultWindow  = time.Minute
	defaultMaxKeys = 10000
	defaultIdleTTL = 10 * time.Minute
)

// Limiter 判断 key 是否还有配额
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Options 限流参数
type Options struct {
	Rate    float64       // 每秒补充（内存令牌桶）
	Burst   int           // 桶容量 / 窗口内上限
	Window  time.Duration // Redis 固定窗口长度
	MaxKeys int           // 内存表最大 key 数
	IdleTTL time.Duration // 空闲多久后回收
}

// OptionsFromConf 读取配置并补齐默认值
func OptionsFromConf(c *conf.RateLimit) Options {
	o := Options{
		Rate:    defaultRate,
		Burst:   defaultBurst,
		Window:  defaultWindow,
		MaxKeys: defaultMaxKeys,
		IdleTTL: defaultIdleTTL,
	}
	if c == nil {
		return o
	}
	if c.Rate > 0 {
		o.Rate = c.Rate
	}
	if c.Burst > 0 {
		o.Burst = int(c.Burst)
	}
	if c.Window != nil && c.Window.AsDuration() > 0 {
		o.Window = c.Window.AsDuration()
	}
	if c.MaxKeys > 0 {
		o.MaxKeys = int(c.MaxKeys)
	}
	if c.IdleTTL != nil && c.IdleTTL.AsDuration() > 0 {
		o.IdleTTL = c.IdleTTL.AsDuration()
	}
	return o
}

// NewLimiter 按配置选择后端；未启用时返回 nil
func NewLimiter(c *conf.Bootstrap, rdb *redis.Client, logger log.Logger) Limiter {
	if c == nil || c.RateLimit == nil || !c.RateLimit.Enabled {
		return nil
	}
	opts := OptionsFromConf(c.RateLimit)
	if c.RateLimit.Backend == "redis" {
		if rdb != nil {
			return NewRedisLimiter(rdb, opts, logger)
		}
		log.NewHelper(logger).Warn("rate limit backend is redis but redis is not configured, using memory")
	}
	return NewMemoryLimiter(opts)
}

// Server 限流中间件，按客户端 IP 计数，超限返回 RATE_LIMITED
func Server(l Limiter) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if l == nil {
				return handler(ctx, req)
			}
			if !l.Allow(ctx, ClientKey(ctx)) {
				if m := metrics.GetMetrics(); m != nil {
					m.RateLimitedTotal.Inc()
				}
				return nil, smsErrors.ErrRateLimited()
			}
			return handler(ctx, req)
		}
	}
}

// ClientKey 限流 key：优先取代理头里的客户端 IP，其次取连接地址
func ClientKey(ctx context.Context) string {
	if ip := pkgUtils.GetClientIP(ctx); ip != "" {
		return ip
	}
	if tr, ok := transport.FromServerContext(ctx); ok {
		if ht, ok := tr.(http.Transporter); ok && ht.Request() != nil {
			addr := ht.Request().RemoteAddr
			if host, _, err := net.SplitHostPort(addr); err == nil {
				return host
			}
			return addr
		}
	}
	return "unknown"
}

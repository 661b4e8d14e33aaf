package constants

import "time"

// 订单时间窗口
const (
	// ActivationWindow 激活单有效期（创建后固定 20 分钟）
	ActivationWindow = 20 * time.Minute
	// RentalCancelWindow 租赁单可取消窗口（创建后 20 分钟内）
	RentalCancelWindow = 20 * time.Minute
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额缓存 key 前缀
	RedisKeyBalance = "balance:"
	// RedisKeyUserLock 用户购买锁 key 前缀
	RedisKeyUserLock = "purchase:lock:user:"
	// RedisKeyOrderLock 订单供应商调用锁 key 前缀
	RedisKeyOrderLock = "order:lock:"
	// RedisKeyRateLimit 限流计数 key 前缀
	RedisKeyRateLimit = "ratelimit:"
	// RedisChannelUserEvents 用户实时事件频道前缀
	RedisChannelUserEvents = "user:events:"
)

// BalanceCacheTTL 余额缓存有效期
const BalanceCacheTTL = 5 * time.Minute

// 通知事件名
const (
	EventBalanceUpdated      = "balance_updated"
	EventActivationCreated   = "activation_created"
	EventActivationUpdated   = "activation_updated"
	EventActivationCancelled = "activation_cancelled"
	EventRentalCreated       = "rental_created"
	EventRentalUpdated       = "rental_updated"
	EventRentalCancelled     = "rental_cancelled"
	EventRentalExtended      = "rental_extended"
)

// 指标结果标签
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultNoop     = "noop"
	ResultRejected = "rejected"
)

// 变更来源（指标与日志）
const (
	SourcePurchase = "purchase"
	SourceUser     = "user"
	SourcePoller   = "poller"
	SourceWebhook  = "webhook"
	SourceExpiry   = "expiry"
)

// 订单类型
const (
	OrderKindActivation = "activation"
	OrderKindRental     = "rental"
)

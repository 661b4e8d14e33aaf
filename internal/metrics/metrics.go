package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SMSMetrics 号码服务指标
type SMSMetrics struct {
	// 购买相关指标
	PurchaseTotal        *prometheus.CounterVec   // 购买总数（按订单类型、结果）
	PurchaseDuration     *prometheus.HistogramVec // 购买耗时
	PurchaseUnreconciled prometheus.Counter       // 供应商已成功但本地未落库

	// 账本相关指标
	LedgerPostingTotal  *prometheus.CounterVec // 记账总数（按流水类型）
	LedgerPostingAmount *prometheus.CounterVec // 记账金额绝对值（按流水类型）
	RefundTotal         *prometheus.CounterVec // 退款总数（按订单类型、来源）

	// 状态迁移
	TransitionTotal *prometheus.CounterVec // 状态迁移（按订单类型、来源、结果）

	// 供应商调用
	ProviderCallTotal    *prometheus.CounterVec   // 供应商调用（按动作、结果）
	ProviderCallDuration *prometheus.HistogramVec // 供应商调用耗时

	// 对账轮询
	PollerTickTotal    *prometheus.CounterVec // tick 总数（按结果）
	PollerOrderTotal   *prometheus.CounterVec // tick 内订单处理结果
	PollerTickDuration prometheus.Histogram   // tick 耗时

	// 回调
	WebhookTotal *prometheus.CounterVec // 回调处理（按结果）

	// 通知
	NotifyTotal *prometheus.CounterVec // 通知投递（按通道、结果）

	// 限流
	RateLimitedTotal prometheus.Counter

	// 分布式锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewSMSMetrics 创建指标
func NewSMSMetrics() *SMSMetrics {
	return &SMSMetrics{
		PurchaseTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_purchase_total",
				Help: "Total number of purchases",
			},
			[]string{"kind", "result"},
		),
		PurchaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sms_purchase_duration_seconds",
				Help:    "Duration of purchase operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		PurchaseUnreconciled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sms_purchase_unreconciled_total",
				Help: "Purchases accepted by the provider that failed to commit locally",
			},
		),

		LedgerPostingTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_ledger_posting_total",
				Help: "Total number of ledger entries written",
			},
			[]string{"type"},
		),
		LedgerPostingAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_ledger_posting_amount_total",
				Help: "Absolute amount of ledger entries written",
			},
			[]string{"type"},
		),
		RefundTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_refund_total",
				Help: "Total number of refunds applied",
			},
			[]string{"kind", "source"},
		),

		TransitionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_order_transition_total",
				Help: "Order state transitions",
			},
			[]string{"kind", "source", "result"}, // result: success/noop/failed
		),

		ProviderCallTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_provider_call_total",
				Help: "Provider API calls",
			},
			[]string{"action", "result"},
		),
		ProviderCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sms_provider_call_duration_seconds",
				Help:    "Duration of provider API calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		PollerTickTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_poller_tick_total",
				Help: "Reconciliation poller ticks",
			},
			[]string{"result"}, // result: success/failed/skipped
		),
		PollerOrderTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_poller_order_total",
				Help: "Orders processed by the reconciliation poller",
			},
			[]string{"outcome"}, // outcome: checked/transitioned/expired/failed
		),
		PollerTickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sms_poller_tick_duration_seconds",
				Help:    "Duration of reconciliation poller ticks",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		WebhookTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_webhook_total",
				Help: "Webhook deliveries",
			},
			[]string{"result"}, // result: success/noop/rejected/not_found/failed
		),

		NotifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_notify_total",
				Help: "Notification deliveries",
			},
			[]string{"channel", "result"},
		),

		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sms_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"},
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sms_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
	}
}

var (
	defaultMetrics *SMSMetrics
	initOnce       sync.Once
)

// GetMetrics 获取全局指标实例
func GetMetrics() *SMSMetrics {
	initOnce.Do(func() {
		defaultMetrics = NewSMSMetrics()
	})
	return defaultMetrics
}

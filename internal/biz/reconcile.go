package biz

import (
	"context"
	"sync/atomic"
	"time"

	"sms-service/internal/conf"
	"sms-service/internal/constants"
	"sms-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultPollBatchSize     = 100
	defaultPollProviderDelay = 200 * time.Millisecond
)

// TickReport 一次对账的统计
type TickReport struct {
	Checked      int
	Transitioned int
	Expired      int
	Failed       int
	Skipped      bool // 上一次 tick 尚未结束
	Duration     time.Duration
}

// Reconciler 后台对账：扫描非终态订单，本地过期优先，其余逐单向供应商查询。
// 同一时刻最多一个 tick 在跑，单个订单失败不影响其他订单。
type Reconciler struct {
	activations *ActivationUseCase
	rentals     *RentalUseCase
	actRepo     ActivationRepo
	rentRepo    RentalRepo
	batchSize   int
	delay       time.Duration
	sleep       func(ctx context.Context, d time.Duration)
	now         Clock
	running     atomic.Bool
	log         *log.Helper
	metrics     *metrics.SMSMetrics
}

// NewReconciler 创建对账器
func NewReconciler(
	c *conf.Bootstrap,
	activations *ActivationUseCase,
	rentals *RentalUseCase,
	actRepo ActivationRepo,
	rentRepo RentalRepo,
	clock Clock,
	logger log.Logger,
) *Reconciler {
	r := &Reconciler{
		activations: activations,
		rentals:     rentals,
		actRepo:     actRepo,
		rentRepo:    rentRepo,
		batchSize:   defaultPollBatchSize,
		delay:       defaultPollProviderDelay,
		sleep:       sleepContext,
		now:         clock,
		log:         log.NewHelper(logger),
		metrics:     metrics.GetMetrics(),
	}
	if c != nil && c.Poller != nil {
		if c.Poller.BatchSize > 0 {
			r.batchSize = int(c.Poller.BatchSize)
		}
		if c.Poller.ProviderDelay != nil {
			r.delay = c.Poller.ProviderDelay.AsDuration()
		}
	}
	return r
}

// SetSleep 替换供应商调用间隔的等待函数（测试用）
func (r *Reconciler) SetSleep(fn func(ctx context.Context, d time.Duration)) {
	r.sleep = fn
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Tick 执行一次对账
func (r *Reconciler) Tick(ctx context.Context) *TickReport {
	report := &TickReport{}
	if !r.running.CompareAndSwap(false, true) {
		report.Skipped = true
		r.log.Warn("Reconcile tick skipped: previous tick still running")
		if r.metrics != nil {
			r.metrics.PollerTickTotal.WithLabelValues("skipped").Inc()
		}
		return report
	}
	defer r.running.Store(false)

	start := time.Now()
	providerCalls := 0
	// pace 供应商调用之间限速，等待期间被取消返回 false
	pace := func() bool {
		if providerCalls > 0 {
			r.sleep(ctx, r.delay)
		}
		providerCalls++
		return ctx.Err() == nil
	}

	activations, err := r.actRepo.ListPending(ctx, r.batchSize)
	if err != nil {
		r.log.Errorf("List pending activations failed: error=%v", err)
		report.Failed++
	}
	for _, a := range activations {
		if ctx.Err() != nil {
			break
		}
		expired := a.Expired(r.now())
		if !expired && !pace() {
			break
		}
		report.Checked++
		var res *ActivationResult
		if expired {
			res, err = r.activations.ApplyEvent(ctx, a.ID, Event{Kind: EventExpired}, constants.SourceExpiry)
			if err == nil && res.Changed {
				report.Expired++
			}
		} else {
			res, err = r.activations.Sync(ctx, a, constants.SourcePoller)
			if err == nil && res.Changed {
				report.Transitioned++
			}
		}
		r.observeOrder(err, res != nil && res.Changed)
		if err != nil {
			report.Failed++
			r.log.Warnf("Reconcile activation failed: id=%s, external_id=%s, error=%v", a.ID, a.ExternalID, err)
		}
	}

	var rentals []*Rental
	if ctx.Err() == nil {
		if rentals, err = r.rentRepo.ListActive(ctx, r.batchSize); err != nil {
			r.log.Errorf("List active rentals failed: error=%v", err)
			report.Failed++
		}
	}
	for _, rt := range rentals {
		if ctx.Err() != nil {
			break
		}
		expired := rt.Expired(r.now())
		if !expired && !pace() {
			break
		}
		report.Checked++
		var res *RentalResult
		if expired {
			res, err = r.rentals.ApplyEvent(ctx, rt.ID, Event{Kind: EventExpired}, constants.SourceExpiry)
			if err == nil && res.Changed {
				report.Expired++
			}
		} else {
			res, err = r.rentals.Sync(ctx, rt, constants.SourcePoller)
			if err == nil && res.Changed {
				report.Transitioned++
			}
		}
		r.observeOrder(err, res != nil && res.Changed)
		if err != nil {
			report.Failed++
			r.log.Warnf("Reconcile rental failed: id=%s, external_id=%s, error=%v", rt.ID, rt.ExternalID, err)
		}
	}

	report.Duration = time.Since(start)
	if r.metrics != nil {
		result := constants.ResultSuccess
		if report.Failed > 0 {
			result = constants.ResultFailed
		}
		r.metrics.PollerTickTotal.WithLabelValues(result).Inc()
		r.metrics.PollerTickDuration.Observe(report.Duration.Seconds())
	}
	if report.Checked > 0 || report.Failed > 0 {
		r.log.Infof("Reconcile tick done: checked=%d, transitioned=%d, expired=%d, failed=%d, duration=%s",
			report.Checked, report.Transitioned, report.Expired, report.Failed, report.Duration)
	}
	return report
}

func (r *Reconciler) observeOrder(err error, changed bool) {
	if r.metrics == nil {
		return
	}
	outcome := "unchanged"
	switch {
	case err != nil:
		outcome = "failed"
	case changed:
		outcome = "transitioned"
	}
	r.metrics.PollerOrderTotal.WithLabelValues(outcome).Inc()
}

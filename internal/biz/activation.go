package biz

import (
	"context"
	"fmt"
	"time"

	"sms-service/internal/constants"
	smsErrors "sms-service/internal/errors"
	"sms-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Activation 激活单领域对象
type Activation struct {
	ID             string
	UserID         string
	OrderToken     string
	ExternalID     string
	Service        string
	Country        string
	Operator       string
	PhoneNumber    string
	Cost           decimal.Decimal
	Status         ActivationStatus
	Code           string
	RefundedAmount decimal.Decimal
	ExpiresAt      time.Time
	LastCheckAt    *time.Time
	CheckCount     int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired 到达 expires_at 即视为过期（闭区间）
func (a *Activation) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// ActivationRepo 激活单数据层接口（定义在 biz 层）
type ActivationRepo interface {
	Create(ctx context.Context, a *Activation) error
	Get(ctx context.Context, id string) (*Activation, error)
	GetByToken(ctx context.Context, userID, orderToken string) (*Activation, error)
	GetByExternalID(ctx context.Context, externalID string) (*Activation, error)
	// Lock 在当前事务内对订单行加排他锁并重新读取
	Lock(ctx context.Context, id string) (*Activation, error)
	Update(ctx context.Context, a *Activation) error
	TouchCheck(ctx context.Context, id string, at time.Time) error
	ListPending(ctx context.Context, limit int) ([]*Activation, error)
}

// PurchaseActivationRequest 购买请求
type PurchaseActivationRequest struct {
	UserID     string
	Service    string
	Country    string
	Operator   string
	MaxPrice   *decimal.Decimal
	OrderToken string
}

// ActivationResult 一次迁移的结果
type ActivationResult struct {
	Activation *Activation
	Changed    bool
	Refund     decimal.Decimal
	User       *User // 有账务变动时为提交后的账户
}

// ActivationUseCase 激活单业务逻辑
type ActivationUseCase struct {
	repo     ActivationRepo
	ledger   LedgerRepo
	tm       Transaction
	provider ProviderClient
	pricing  *PricingConfig
	locker   Locker
	notifier Notifier
	now      Clock
	log      *log.Helper
	metrics  *metrics.SMSMetrics
}

// NewActivationUseCase 创建激活单 UseCase
func NewActivationUseCase(
	repo ActivationRepo,
	ledger LedgerRepo,
	tm Transaction,
	provider ProviderClient,
	pricing *PricingConfig,
	locker Locker,
	notifier Notifier,
	clock Clock,
	logger log.Logger,
) *ActivationUseCase {
	return &ActivationUseCase{
		repo:     repo,
		ledger:   ledger,
		tm:       tm,
		provider: provider,
		pricing:  pricing,
		locker:   locker,
		notifier: notifier,
		now:      clock,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// Purchase 购买激活号码，按 order token 幂等。
// 余额校验在调用供应商之前；扣款只在供应商确认后进行，并与订单创建处于同一事务。
func (uc *ActivationUseCase) Purchase(ctx context.Context, req *PurchaseActivationRequest) (*Activation, error) {
	startTime := time.Now()
	if req.UserID == "" || req.Service == "" || req.Country == "" || req.OrderToken == "" {
		return nil, smsErrors.ErrInvalidArgument("user_id, service, country and order_token are required")
	}

	// 重放：同一 token 已成单直接返回
	if existing, err := uc.repo.GetByToken(ctx, req.UserID, req.OrderToken); err != nil {
		return nil, err
	} else if existing != nil {
		uc.log.Infof("Purchase replayed: order_token=%s, activation_id=%s", req.OrderToken, existing.ID)
		return existing, nil
	}

	cost, err := uc.pricing.ActivationPrice(req.Service, req.Country, req.Operator)
	if err != nil {
		uc.observePurchase(constants.ResultRejected, startTime)
		return nil, err
	}
	if cost, err = ApplyMaxPrice(cost, req.MaxPrice); err != nil {
		uc.observePurchase(constants.ResultRejected, startTime)
		return nil, err
	}

	unlock, err := uc.locker.Lock(ctx, constants.RedisKeyUserLock+req.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 拿锁后再查一次，防止同 token 并发请求重复购买
	if existing, err := uc.repo.GetByToken(ctx, req.UserID, req.OrderToken); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	user, err := uc.ledger.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, smsErrors.ErrUserNotFound(req.UserID)
	}
	if user.Balance.LessThan(cost) {
		uc.observePurchase(constants.ResultRejected, startTime)
		return nil, smsErrors.ErrInsufficientFunds(cost.Sub(user.Balance))
	}

	reply, err := uc.provider.PurchaseActivation(ctx, &ProviderPurchaseRequest{
		Service:        req.Service,
		Country:        req.Country,
		Operator:       req.Operator,
		MaxPrice:       &cost,
		IdempotencyKey: req.OrderToken,
	})
	if err != nil {
		uc.log.Warnf("Provider purchase failed: user_id=%s, service=%s, country=%s, error=%v", req.UserID, req.Service, req.Country, err)
		uc.observePurchase(constants.ResultFailed, startTime)
		return nil, err
	}

	now := uc.now()
	a := &Activation{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		OrderToken:     req.OrderToken,
		ExternalID:     reply.ExternalID,
		Service:        req.Service,
		Country:        req.Country,
		Operator:       req.Operator,
		PhoneNumber:    reply.PhoneNumber,
		Cost:           cost,
		Status:         ActivationWaitSMS,
		RefundedAmount: decimal.Zero,
		ExpiresAt:      now.Add(constants.ActivationWindow),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var updated *User
	err = commitWithRetry(ctx, func() error {
		return uc.tm.InTx(ctx, func(ctx context.Context) error {
			u, _, err := uc.ledger.Post(ctx, a.UserID, Posting{
				Type:        EntryActivation,
				Amount:      cost.Neg(),
				ReferenceID: a.ID,
				Description: fmt.Sprintf("activation %s/%s %s", a.Service, a.Country, a.PhoneNumber),
			})
			if err != nil {
				return err
			}
			updated = u
			return uc.repo.Create(ctx, a)
		})
	})
	if err != nil {
		// 供应商已扣款，本地无法回滚，必须暴露给人工对账
		uc.log.Errorf("[RECONCILE] activation purchased at provider but not recorded: user_id=%s, order_token=%s, external_id=%s, phone=%s, cost=%s, error=%v",
			a.UserID, a.OrderToken, a.ExternalID, a.PhoneNumber, cost, err)
		if uc.metrics != nil {
			uc.metrics.PurchaseUnreconciled.Inc()
		}
		uc.observePurchase(constants.ResultFailed, startTime)
		return nil, smsErrors.ErrOrderCommitFailed(a.ExternalID, a.OrderToken, err)
	}

	uc.observePurchase(constants.ResultSuccess, startTime)
	if uc.metrics != nil {
		uc.metrics.LedgerPostingTotal.WithLabelValues(string(EntryActivation)).Inc()
		uc.metrics.LedgerPostingAmount.WithLabelValues(string(EntryActivation)).Add(cost.InexactFloat64())
	}
	publishBalance(ctx, uc.ledger, uc.notifier, updated, a.ID)
	uc.notifier.Publish(ctx, a.UserID, constants.EventActivationCreated, activationPayload(a, decimal.Zero))
	uc.log.Infof("Activation created: id=%s, user_id=%s, external_id=%s, cost=%s", a.ID, a.UserID, a.ExternalID, cost)
	return a, nil
}

// Get 查询用户自己的激活单
func (uc *ActivationUseCase) Get(ctx context.Context, userID, id string) (*Activation, error) {
	a, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || (userID != "" && a.UserID != userID) {
		return nil, smsErrors.ErrOrderNotFound(id)
	}
	return a, nil
}

// Cancel 用户取消，返回本次退款金额；已终结的单直接返回（幂等）
func (uc *ActivationUseCase) Cancel(ctx context.Context, userID, id string) (*ActivationResult, error) {
	return uc.userAction(ctx, userID, id, Event{Kind: EventCancelled}, uc.provider.CancelActivation)
}

// Confirm 用户确认完成
func (uc *ActivationUseCase) Confirm(ctx context.Context, userID, id string) (*ActivationResult, error) {
	return uc.userAction(ctx, userID, id, Event{Kind: EventCompleted}, uc.provider.ConfirmActivation)
}

// RequestRetry 请求重发验证码
func (uc *ActivationUseCase) RequestRetry(ctx context.Context, userID, id string) (*ActivationResult, error) {
	return uc.userAction(ctx, userID, id, Event{Kind: EventRetryWaiting}, uc.provider.RequestRetry)
}

func (uc *ActivationUseCase) userAction(ctx context.Context, userID, id string, ev Event, call func(context.Context, string) error) (*ActivationResult, error) {
	a, err := uc.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	t, err := NextActivation(a.Status, ev)
	if err != nil {
		return nil, err
	}
	if !t.Changed() {
		return &ActivationResult{Activation: a, Refund: decimal.Zero}, nil
	}

	unlock, err := uc.locker.Lock(ctx, constants.RedisKeyOrderLock+a.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := call(ctx, a.ExternalID); err != nil {
		uc.log.Warnf("Provider %s failed: activation_id=%s, external_id=%s, error=%v", ev.Kind, a.ID, a.ExternalID, err)
		return nil, err
	}
	return uc.ApplyEvent(ctx, a.ID, ev, constants.SourceUser)
}

// CheckStatus 手动查询：未就绪时原样返回当前状态
func (uc *ActivationUseCase) CheckStatus(ctx context.Context, userID, id string) (*ActivationResult, error) {
	a, err := uc.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return &ActivationResult{Activation: a, Refund: decimal.Zero}, nil
	}
	if a.Expired(uc.now()) {
		return uc.ApplyEvent(ctx, a.ID, Event{Kind: EventExpired}, constants.SourceExpiry)
	}
	return uc.Sync(ctx, a, constants.SourceUser)
}

// Sync 向供应商查询状态并应用迁移
func (uc *ActivationUseCase) Sync(ctx context.Context, a *Activation, source string) (*ActivationResult, error) {
	reply, err := uc.provider.CheckActivationStatus(ctx, a.ExternalID)
	if err != nil {
		return nil, err
	}
	if err := uc.repo.TouchCheck(ctx, a.ID, uc.now()); err != nil {
		uc.log.Warnf("TouchCheck failed: activation_id=%s, error=%v", a.ID, err)
	}
	return uc.ApplyEvent(ctx, a.ID, reply.State.ActivationEvent(reply.Code), source)
}

// ApplyEvent 唯一的迁移入口：锁订单行、重读状态、计算迁移，状态、退款与流水在同一事务内写入。
// 终态或状态未变时为空操作，不会重复退款。
func (uc *ActivationUseCase) ApplyEvent(ctx context.Context, id string, ev Event, source string) (*ActivationResult, error) {
	result := &ActivationResult{Refund: decimal.Zero}
	var transition ActivationTransition

	err := uc.tm.InTx(ctx, func(ctx context.Context) error {
		a, err := uc.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return smsErrors.ErrOrderNotFound(id)
		}
		result.Activation = a

		t, err := NextActivation(a.Status, ev)
		if err != nil {
			return err
		}
		transition = t
		if !t.Changed() {
			return nil
		}

		a.Status = t.To
		if ev.Kind == EventCodeReceived && ev.Code != "" {
			a.Code = ev.Code
		}
		if t.Has(EffectRefund) {
			refund := ActivationRefund(t.From, a.Cost)
			if refund.IsPositive() {
				exists, err := uc.ledger.HasEntry(ctx, a.ID, EntryRefund)
				if err != nil {
					return err
				}
				if exists {
					uc.log.Warnf("Refund already recorded, skipping: activation_id=%s", a.ID)
				} else {
					u, _, err := uc.ledger.Post(ctx, a.UserID, Posting{
						Type:        EntryRefund,
						Amount:      refund,
						ReferenceID: a.ID,
						Description: fmt.Sprintf("refund activation %s (%s)", a.ID, t.From),
					})
					if err != nil {
						return err
					}
					result.User = u
					result.Refund = refund
					a.RefundedAmount = refund
				}
			}
		}
		a.UpdatedAt = uc.now()
		result.Changed = true
		return uc.repo.Update(ctx, a)
	})
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.TransitionTotal.WithLabelValues(constants.OrderKindActivation, source, constants.ResultFailed).Inc()
		}
		return nil, err
	}

	if !result.Changed {
		if uc.metrics != nil {
			uc.metrics.TransitionTotal.WithLabelValues(constants.OrderKindActivation, source, constants.ResultNoop).Inc()
		}
		return result, nil
	}

	a := result.Activation
	if uc.metrics != nil {
		uc.metrics.TransitionTotal.WithLabelValues(constants.OrderKindActivation, source, constants.ResultSuccess).Inc()
		if result.Refund.IsPositive() {
			uc.metrics.RefundTotal.WithLabelValues(constants.OrderKindActivation, source).Inc()
			uc.metrics.LedgerPostingTotal.WithLabelValues(string(EntryRefund)).Inc()
			uc.metrics.LedgerPostingAmount.WithLabelValues(string(EntryRefund)).Add(result.Refund.InexactFloat64())
		}
	}
	uc.log.Infof("Activation transition: id=%s, %s -> %s, event=%s, source=%s, refund=%s",
		a.ID, transition.From, transition.To, ev.Kind, source, result.Refund)

	if transition.Has(EffectNotify) {
		event := constants.EventActivationUpdated
		if a.Status == ActivationCancelled {
			event = constants.EventActivationCancelled
		}
		uc.notifier.Publish(ctx, a.UserID, event, activationPayload(a, result.Refund))
	}
	publishBalance(ctx, uc.ledger, uc.notifier, result.User, a.ID)
	return result, nil
}

func (uc *ActivationUseCase) observePurchase(result string, start time.Time) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.PurchaseTotal.WithLabelValues(constants.OrderKindActivation, result).Inc()
	uc.metrics.PurchaseDuration.WithLabelValues(constants.OrderKindActivation).Observe(time.Since(start).Seconds())
}

func activationPayload(a *Activation, refund decimal.Decimal) *OrderPayload {
	p := &OrderPayload{
		ID:          a.ID,
		Kind:        constants.OrderKindActivation,
		Status:      a.Status.String(),
		PhoneNumber: a.PhoneNumber,
		Code:        a.Code,
	}
	if refund.IsPositive() {
		p.Refund = refund.StringFixed(2)
	}
	return p
}

// commitWithRetry 供应商成功后的本地提交，短暂重试后仍失败则交由调用方上报
func commitWithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if smsErrors.IsReason(err, smsErrors.ReasonInsufficientFunds) ||
			smsErrors.IsReason(err, smsErrors.ReasonUserNotFound) ||
			smsErrors.IsReason(err, smsErrors.ReasonInvalidTransition) {
			return err
		}
		if attempt == 2 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

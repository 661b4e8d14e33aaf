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

// RentalMessage 租赁号码收到的一条短信
type RentalMessage struct {
	From       string    `json:"from"`
	Text       string    `json:"text"`
	Service    string    `json:"service,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func (m RentalMessage) key() string {
	return m.From + "|" + m.ReceivedAt.UTC().Format(time.RFC3339) + "|" + m.Text
}

// Rental 租赁单领域对象
type Rental struct {
	ID             string
	UserID         string
	OrderToken     string
	ExternalID     string
	Service        string
	Country        string
	Operator       string
	PhoneNumber    string
	Cost           decimal.Decimal
	DurationHours  int32
	Status         RentalStatus
	Messages       []RentalMessage
	RefundedAmount decimal.Decimal
	ExpiresAt      time.Time
	LastCheckAt    *time.Time
	CheckCount     int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired 到达 expires_at 即视为过期
func (r *Rental) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// mergeMessages 追加新短信，已存在的（同发送方、同时间、同内容）跳过；返回新增条数
func (r *Rental) mergeMessages(in []RentalMessage) int {
	seen := make(map[string]struct{}, len(r.Messages))
	for _, m := range r.Messages {
		seen[m.key()] = struct{}{}
	}
	added := 0
	for _, m := range in {
		if _, ok := seen[m.key()]; ok {
			continue
		}
		seen[m.key()] = struct{}{}
		r.Messages = append(r.Messages, m)
		added++
	}
	return added
}

// RentalRepo 租赁单数据层接口
type RentalRepo interface {
	Create(ctx context.Context, r *Rental) error
	Get(ctx context.Context, id string) (*Rental, error)
	GetByToken(ctx context.Context, userID, orderToken string) (*Rental, error)
	GetByExternalID(ctx context.Context, externalID string) (*Rental, error)
	Lock(ctx context.Context, id string) (*Rental, error)
	Update(ctx context.Context, r *Rental) error
	TouchCheck(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context, limit int) ([]*Rental, error)
}

// RentNumberRequest 租用请求
type RentNumberRequest struct {
	UserID        string
	Service       string
	Country       string
	Operator      string
	DurationHours int32
	MaxPrice      *decimal.Decimal
	OrderToken    string
}

// RentalResult 一次迁移的结果
type RentalResult struct {
	Rental     *Rental
	Changed    bool
	Settlement Settlement
	NewMessage int
	User       *User
}

// RentalUseCase 租赁单业务逻辑
type RentalUseCase struct {
	repo     RentalRepo
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

// NewRentalUseCase 创建租赁单 UseCase
func NewRentalUseCase(
	repo RentalRepo,
	ledger LedgerRepo,
	tm Transaction,
	provider ProviderClient,
	pricing *PricingConfig,
	locker Locker,
	notifier Notifier,
	clock Clock,
	logger log.Logger,
) *RentalUseCase {
	return &RentalUseCase{
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

// Rent 租用号码，流程与激活单购买一致
func (uc *RentalUseCase) Rent(ctx context.Context, req *RentNumberRequest) (*Rental, error) {
	startTime := time.Now()
	if req.UserID == "" || req.Service == "" || req.Country == "" || req.OrderToken == "" {
		return nil, smsErrors.ErrInvalidArgument("user_id, service, country and order_token are required")
	}

	if existing, err := uc.repo.GetByToken(ctx, req.UserID, req.OrderToken); err != nil {
		return nil, err
	} else if existing != nil {
		uc.log.Infof("Rent replayed: order_token=%s, rental_id=%s", req.OrderToken, existing.ID)
		return existing, nil
	}

	cost, err := uc.pricing.RentalPrice(req.Service, req.Country, req.Operator, req.DurationHours)
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

	if existing, err := uc.repo.GetByToken(ctx, req.UserID, req.OrderToken); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if err := uc.ensureFunds(ctx, req.UserID, cost); err != nil {
		uc.observePurchase(constants.ResultRejected, startTime)
		return nil, err
	}

	reply, err := uc.provider.RentNumber(ctx, &ProviderRentRequest{
		Service:        req.Service,
		Country:        req.Country,
		Operator:       req.Operator,
		Hours:          req.DurationHours,
		MaxPrice:       &cost,
		IdempotencyKey: req.OrderToken,
	})
	if err != nil {
		uc.log.Warnf("Provider rent failed: user_id=%s, service=%s, country=%s, error=%v", req.UserID, req.Service, req.Country, err)
		uc.observePurchase(constants.ResultFailed, startTime)
		return nil, err
	}

	now := uc.now()
	expiresAt := reply.EndDate
	if expiresAt.IsZero() {
		expiresAt = now.Add(time.Duration(req.DurationHours) * time.Hour)
	}
	r := &Rental{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		OrderToken:     req.OrderToken,
		ExternalID:     reply.ExternalID,
		Service:        req.Service,
		Country:        req.Country,
		Operator:       req.Operator,
		PhoneNumber:    reply.PhoneNumber,
		Cost:           cost,
		DurationHours:  req.DurationHours,
		Status:         RentalActive,
		RefundedAmount: decimal.Zero,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var updated *User
	err = commitWithRetry(ctx, func() error {
		return uc.tm.InTx(ctx, func(ctx context.Context) error {
			u, _, err := uc.ledger.Post(ctx, r.UserID, Posting{
				Type:        EntryRental,
				Amount:      cost.Neg(),
				ReferenceID: r.ID,
				Description: fmt.Sprintf("rental %s/%s %s %dh", r.Service, r.Country, r.PhoneNumber, r.DurationHours),
			})
			if err != nil {
				return err
			}
			updated = u
			return uc.repo.Create(ctx, r)
		})
	})
	if err != nil {
		uc.log.Errorf("[RECONCILE] rental purchased at provider but not recorded: user_id=%s, order_token=%s, external_id=%s, phone=%s, cost=%s, error=%v",
			r.UserID, r.OrderToken, r.ExternalID, r.PhoneNumber, cost, err)
		if uc.metrics != nil {
			uc.metrics.PurchaseUnreconciled.Inc()
		}
		uc.observePurchase(constants.ResultFailed, startTime)
		return nil, smsErrors.ErrOrderCommitFailed(r.ExternalID, r.OrderToken, err)
	}

	uc.observePurchase(constants.ResultSuccess, startTime)
	uc.observePosting(EntryRental, cost)
	publishBalance(ctx, uc.ledger, uc.notifier, updated, r.ID)
	uc.notifier.Publish(ctx, r.UserID, constants.EventRentalCreated, rentalPayload(r, decimal.Zero))
	uc.log.Infof("Rental created: id=%s, user_id=%s, external_id=%s, hours=%d, cost=%s", r.ID, r.UserID, r.ExternalID, r.DurationHours, cost)
	return r, nil
}

func (uc *RentalUseCase) ensureFunds(ctx context.Context, userID string, cost decimal.Decimal) error {
	user, err := uc.ledger.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return smsErrors.ErrUserNotFound(userID)
	}
	if user.Balance.LessThan(cost) {
		return smsErrors.ErrInsufficientFunds(cost.Sub(user.Balance))
	}
	return nil
}

// Get 查询用户自己的租赁单
func (uc *RentalUseCase) Get(ctx context.Context, userID, id string) (*Rental, error) {
	r, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil || (userID != "" && r.UserID != userID) {
		return nil, smsErrors.ErrOrderNotFound(id)
	}
	return r, nil
}

// Extend 续租：追加时长与费用，单独记一笔 rental 扣款，到期时间以供应商为准
func (uc *RentalUseCase) Extend(ctx context.Context, userID, id string, hours int32) (*Rental, error) {
	r, err := uc.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() || r.Expired(uc.now()) {
		return nil, smsErrors.ErrInvalidTransition(r.Status.String(), "extend")
	}
	price, err := uc.pricing.RentalPrice(r.Service, r.Country, r.Operator, hours)
	if err != nil {
		return nil, err
	}

	unlock, err := uc.locker.Lock(ctx, constants.RedisKeyUserLock+r.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 与取消/结束互斥；加锁后重读，确认仍可续租
	unlockOrder, err := uc.locker.Lock(ctx, constants.RedisKeyOrderLock+r.ID)
	if err != nil {
		return nil, err
	}
	defer unlockOrder()

	if r, err = uc.repo.Get(ctx, r.ID); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, smsErrors.ErrOrderNotFound(id)
	}
	if r.Status.Terminal() || r.Expired(uc.now()) {
		return nil, smsErrors.ErrInvalidTransition(r.Status.String(), "extend")
	}

	if err := uc.ensureFunds(ctx, r.UserID, price); err != nil {
		return nil, err
	}

	reply, err := uc.provider.ExtendRental(ctx, r.ExternalID, hours)
	if err != nil {
		uc.log.Warnf("Provider extend failed: rental_id=%s, external_id=%s, error=%v", r.ID, r.ExternalID, err)
		return nil, err
	}

	var (
		updated *User
		rental  *Rental
	)
	err = commitWithRetry(ctx, func() error {
		return uc.tm.InTx(ctx, func(ctx context.Context) error {
			locked, err := uc.repo.Lock(ctx, r.ID)
			if err != nil {
				return err
			}
			if locked == nil {
				return smsErrors.ErrOrderNotFound(r.ID)
			}
			// 供应商调用期间可能已被 webhook/对账终结，终态单不再扣费
			if locked.Status.Terminal() || locked.Expired(uc.now()) {
				return smsErrors.ErrInvalidTransition(locked.Status.String(), "extend")
			}
			u, _, err := uc.ledger.Post(ctx, locked.UserID, Posting{
				Type:        EntryRental,
				Amount:      price.Neg(),
				ReferenceID: locked.ID,
				Description: fmt.Sprintf("rental extend %s +%dh", locked.PhoneNumber, hours),
			})
			if err != nil {
				return err
			}
			locked.Cost = locked.Cost.Add(price)
			locked.DurationHours += hours
			if !reply.EndDate.IsZero() {
				locked.ExpiresAt = reply.EndDate
			} else {
				locked.ExpiresAt = locked.ExpiresAt.Add(time.Duration(hours) * time.Hour)
			}
			locked.UpdatedAt = uc.now()
			updated, rental = u, locked
			return uc.repo.Update(ctx, locked)
		})
	})
	if err != nil {
		uc.log.Errorf("[RECONCILE] rental extended at provider but not recorded: rental_id=%s, external_id=%s, hours=%d, price=%s, error=%v",
			r.ID, r.ExternalID, hours, price, err)
		if uc.metrics != nil {
			uc.metrics.PurchaseUnreconciled.Inc()
		}
		return nil, smsErrors.ErrOrderCommitFailed(r.ExternalID, r.OrderToken, err)
	}

	uc.observePosting(EntryRental, price)
	publishBalance(ctx, uc.ledger, uc.notifier, updated, rental.ID)
	uc.notifier.Publish(ctx, rental.UserID, constants.EventRentalExtended, rentalPayload(rental, decimal.Zero))
	uc.log.Infof("Rental extended: id=%s, hours=%d, price=%s, expires_at=%s", rental.ID, hours, price, rental.ExpiresAt.Format(time.RFC3339))
	return rental, nil
}

// Cancel 取消租赁单，仅在创建后 20 分钟内允许
func (uc *RentalUseCase) Cancel(ctx context.Context, userID, id string) (*RentalResult, error) {
	r, err := uc.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return &RentalResult{Rental: r}, nil
	}
	now := uc.now()
	if !WithinRentalCancelWindow(r.CreatedAt, now) {
		return nil, smsErrors.ErrCancelWindowClosed()
	}
	return uc.userAction(ctx, r, Event{Kind: EventCancelled, At: now}, RentActionCancel)
}

// Finish 提前结束租赁，不退款
func (uc *RentalUseCase) Finish(ctx context.Context, userID, id string) (*RentalResult, error) {
	r, err := uc.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return &RentalResult{Rental: r}, nil
	}
	return uc.userAction(ctx, r, Event{Kind: EventCompleted}, RentActionFinish)
}

func (uc *RentalUseCase) userAction(ctx context.Context, r *Rental, ev Event, action RentAction) (*RentalResult, error) {
	unlock, err := uc.locker.Lock(ctx, constants.RedisKeyOrderLock+r.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := uc.provider.SetRentalStatus(ctx, r.ExternalID, action); err != nil {
		uc.log.Warnf("Provider setRentStatus failed: rental_id=%s, external_id=%s, action=%d, error=%v", r.ID, r.ExternalID, action, err)
		return nil, err
	}
	return uc.ApplyEvent(ctx, r.ID, ev, constants.SourceUser)
}

// CheckStatus 手动查询
func (uc *RentalUseCase) CheckStatus(ctx context.Context, userID, id string) (*RentalResult, error) {
	r, err := uc.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return &RentalResult{Rental: r}, nil
	}
	if r.Expired(uc.now()) {
		return uc.ApplyEvent(ctx, r.ID, Event{Kind: EventExpired}, constants.SourceExpiry)
	}
	return uc.Sync(ctx, r, constants.SourceUser)
}

// Sync 向供应商查询租赁状态与新短信
func (uc *RentalUseCase) Sync(ctx context.Context, r *Rental, source string) (*RentalResult, error) {
	reply, err := uc.provider.CheckRentalStatus(ctx, r.ExternalID)
	if err != nil {
		return nil, err
	}
	if err := uc.repo.TouchCheck(ctx, r.ID, uc.now()); err != nil {
		uc.log.Warnf("TouchCheck failed: rental_id=%s, error=%v", r.ID, err)
	}
	return uc.ApplyEvent(ctx, r.ID, reply.State.RentalEvent(reply.Messages, reply.EndDate), source)
}

// ApplyEvent 租赁单唯一迁移入口。短信合并与到期时间更新在非终态下也会落库。
func (uc *RentalUseCase) ApplyEvent(ctx context.Context, id string, ev Event, source string) (*RentalResult, error) {
	result := &RentalResult{Settlement: Settlement{Refund: decimal.Zero, Fee: decimal.Zero}}
	var transition RentalTransition

	err := uc.tm.InTx(ctx, func(ctx context.Context) error {
		r, err := uc.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return smsErrors.ErrOrderNotFound(id)
		}
		result.Rental = r

		t, err := NextRental(r.Status, ev)
		if err != nil {
			return err
		}
		transition = t
		if t.AlreadyTerminal {
			return nil
		}

		dirty := false
		if n := r.mergeMessages(ev.Messages); n > 0 {
			result.NewMessage = n
			dirty = true
		}
		if ev.EndDate != nil && !ev.EndDate.IsZero() && !ev.EndDate.Equal(r.ExpiresAt) && !t.Changed() {
			r.ExpiresAt = *ev.EndDate
			dirty = true
		}

		if t.Changed() {
			r.Status = t.To
			if t.Has(EffectRefund) {
				s := RentalSettlement(t.To, r.Cost, r.CreatedAt, ev.at(uc.now()))
				if !s.IsZero() {
					u, err := uc.settle(ctx, r, s)
					if err != nil {
						return err
					}
					if u != nil {
						result.User = u
						result.Settlement = s
						r.RefundedAmount = s.Net()
					}
				}
			}
			result.Changed = true
			dirty = true
		}

		if !dirty {
			return nil
		}
		r.UpdatedAt = uc.now()
		return uc.repo.Update(ctx, r)
	})
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.TransitionTotal.WithLabelValues(constants.OrderKindRental, source, constants.ResultFailed).Inc()
		}
		return nil, err
	}

	r := result.Rental
	if !result.Changed {
		if uc.metrics != nil {
			uc.metrics.TransitionTotal.WithLabelValues(constants.OrderKindRental, source, constants.ResultNoop).Inc()
		}
		if result.NewMessage > 0 {
			uc.notifier.Publish(ctx, r.UserID, constants.EventRentalUpdated, rentalPayload(r, decimal.Zero))
		}
		return result, nil
	}

	if uc.metrics != nil {
		uc.metrics.TransitionTotal.WithLabelValues(constants.OrderKindRental, source, constants.ResultSuccess).Inc()
		if !result.Settlement.IsZero() {
			uc.metrics.RefundTotal.WithLabelValues(constants.OrderKindRental, source).Inc()
			uc.observePosting(EntryRefund, result.Settlement.Refund)
			uc.observePosting(EntryAdjustment, result.Settlement.Fee)
		}
	}
	uc.log.Infof("Rental transition: id=%s, %s -> %s, event=%s, source=%s, refund=%s, fee=%s",
		r.ID, transition.From, transition.To, ev.Kind, source, result.Settlement.Refund, result.Settlement.Fee)

	event := constants.EventRentalUpdated
	if r.Status == RentalCancelled {
		event = constants.EventRentalCancelled
	}
	uc.notifier.Publish(ctx, r.UserID, event, rentalPayload(r, result.Settlement.Net()))
	publishBalance(ctx, uc.ledger, uc.notifier, result.User, r.ID)
	return result, nil
}

// settle 写入退款与手续费两笔流水；已退过款时返回 nil
func (uc *RentalUseCase) settle(ctx context.Context, r *Rental, s Settlement) (*User, error) {
	exists, err := uc.ledger.HasEntry(ctx, r.ID, EntryRefund)
	if err != nil {
		return nil, err
	}
	if exists {
		uc.log.Warnf("Refund already recorded, skipping: rental_id=%s", r.ID)
		return nil, nil
	}
	postings := []Posting{{
		Type:        EntryRefund,
		Amount:      s.Refund,
		ReferenceID: r.ID,
		Description: fmt.Sprintf("refund rental %s", r.ID),
	}}
	if s.Fee.IsPositive() {
		postings = append(postings, Posting{
			Type:        EntryAdjustment,
			Amount:      s.Fee.Neg(),
			ReferenceID: r.ID,
			Description: fmt.Sprintf("cancellation fee rental %s", r.ID),
		})
	}
	u, _, err := uc.ledger.Post(ctx, r.UserID, postings...)
	return u, err
}

func (uc *RentalUseCase) observePurchase(result string, start time.Time) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.PurchaseTotal.WithLabelValues(constants.OrderKindRental, result).Inc()
	uc.metrics.PurchaseDuration.WithLabelValues(constants.OrderKindRental).Observe(time.Since(start).Seconds())
}

func (uc *RentalUseCase) observePosting(t EntryType, amount decimal.Decimal) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.LedgerPostingTotal.WithLabelValues(string(t)).Inc()
	uc.metrics.LedgerPostingAmount.WithLabelValues(string(t)).Add(amount.InexactFloat64())
}

func rentalPayload(r *Rental, refund decimal.Decimal) *OrderPayload {
	p := &OrderPayload{
		ID:          r.ID,
		Kind:        constants.OrderKindRental,
		Status:      r.Status.String(),
		PhoneNumber: r.PhoneNumber,
	}
	if n := len(r.Messages); n > 0 {
		p.Code = r.Messages[n-1].Text
	}
	if refund.IsPositive() {
		p.Refund = refund.StringFixed(2)
	}
	return p
}

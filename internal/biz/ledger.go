package biz

import (
	"context"
	"fmt"
	"time"

	"sms-service/internal/constants"
	smsErrors "sms-service/internal/errors"
	"sms-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// EntryType 账本流水类型
type EntryType string

const (
	EntryRecharge   EntryType = "recharge"
	EntryActivation EntryType = "activation"
	EntryRental     EntryType = "rental"
	EntryRefund     EntryType = "refund"
	EntryAdjustment EntryType = "adjustment"
)

// User 账户领域对象
type User struct {
	ID             string
	Balance        decimal.Decimal
	TotalSpent     decimal.Decimal
	TotalRecharged decimal.Decimal
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// 用户状态
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusPending   = "pending"
)

// LedgerEntry 账本流水，写入后不再修改
type LedgerEntry struct {
	ID            string
	UserID        string
	Type          EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceID   string
	Description   string
	CreatedAt     time.Time
}

// Posting 一笔待记账变动
type Posting struct {
	Type        EntryType
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

// LedgerRepo 账本数据层接口（定义在 biz 层）
type LedgerRepo interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	// Post 锁定用户行，依次写入流水并更新余额；任何一笔使余额为负则整体拒绝
	Post(ctx context.Context, userID string, postings ...Posting) (*User, []*LedgerEntry, error)
	HasEntry(ctx context.Context, referenceID string, t EntryType) (bool, error)
	ListEntries(ctx context.Context, userID string, page, pageSize int) ([]*LedgerEntry, int64, error)
	SumEntries(ctx context.Context, userID string) (decimal.Decimal, error)
	GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, bool)
	CacheBalance(ctx context.Context, userID string, balance decimal.Decimal)
	// InvalidateBalance 删除余额缓存，账务提交后调用
	InvalidateBalance(ctx context.Context, userID string)
}

// Transaction 数据层工作单元，fn 内的 repo 调用共享同一事务
type Transaction interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker 分布式互斥（redsync），未配置 Redis 时退化为进程内锁
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Clock 当前时间来源
type Clock func() time.Time

// NewClock 系统时钟
func NewClock() Clock {
	return time.Now
}

// LedgerUseCase 账本业务逻辑
type LedgerUseCase struct {
	repo     LedgerRepo
	tm       Transaction
	notifier Notifier
	log      *log.Helper
	metrics  *metrics.SMSMetrics
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(repo LedgerRepo, tm Transaction, notifier Notifier, logger log.Logger) *LedgerUseCase {
	return &LedgerUseCase{
		repo:     repo,
		tm:       tm,
		notifier: notifier,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// GetBalance 获取余额（优先缓存）
func (uc *LedgerUseCase) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, smsErrors.ErrInvalidArgument("user_id is required")
	}
	if balance, ok := uc.repo.GetCachedBalance(ctx, userID); ok {
		return balance, nil
	}
	user, err := uc.repo.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if user == nil {
		return decimal.Zero, smsErrors.ErrUserNotFound(userID)
	}
	uc.repo.CacheBalance(ctx, userID, user.Balance)
	return user.Balance, nil
}

// GetUser 获取账户
func (uc *LedgerUseCase) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := uc.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, smsErrors.ErrUserNotFound(userID)
	}
	return user, nil
}

// Recharge 充值。账户不存在时自动开户；referenceID 用于对接外部支付单号
func (uc *LedgerUseCase) Recharge(ctx context.Context, userID string, amount decimal.Decimal, referenceID string) (*LedgerEntry, error) {
	if userID == "" {
		return nil, smsErrors.ErrInvalidArgument("user_id is required")
	}
	if !amount.IsPositive() {
		return nil, smsErrors.ErrInvalidAmount("recharge amount must be positive")
	}

	var (
		user  *User
		entry *LedgerEntry
	)
	err := uc.tm.InTx(ctx, func(ctx context.Context) error {
		if referenceID != "" {
			exists, err := uc.repo.HasEntry(ctx, referenceID, EntryRecharge)
			if err != nil {
				return err
			}
			if exists {
				uc.log.Infof("Recharge already processed: reference_id=%s", referenceID)
				return nil
			}
		}
		existing, err := uc.repo.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := uc.repo.CreateUser(ctx, &User{ID: userID, Status: UserStatusActive}); err != nil {
				return err
			}
		}
		u, entries, err := uc.repo.Post(ctx, userID, Posting{
			Type:        EntryRecharge,
			Amount:      amount,
			ReferenceID: referenceID,
			Description: fmt.Sprintf("recharge %s", amount.StringFixed(2)),
		})
		if err != nil {
			return err
		}
		user, entry = u, entries[0]
		return nil
	})
	if err != nil {
		uc.log.Errorf("Recharge failed: user_id=%s, amount=%s, error=%v", userID, amount, err)
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	publishBalance(ctx, uc.repo, uc.notifier, user, referenceID)
	uc.log.Infof("Recharge success: user_id=%s, amount=%s, balance=%s", userID, amount, user.Balance)
	return entry, nil
}

// ListTransactions 流水分页
func (uc *LedgerUseCase) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*LedgerEntry, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return uc.repo.ListEntries(ctx, userID, page, pageSize)
}

// Audit 校验流水合计与余额一致
func (uc *LedgerUseCase) Audit(ctx context.Context, userID string) (bool, error) {
	user, err := uc.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	sum, err := uc.repo.SumEntries(ctx, userID)
	if err != nil {
		return false, err
	}
	if !sum.Equal(user.Balance) {
		uc.log.Errorf("Ledger mismatch: user_id=%s, balance=%s, sum=%s", userID, user.Balance, sum)
		return false, nil
	}
	return true, nil
}

// publishBalance 账务提交后失效缓存并通知。
// 不回写余额：并发提交的写回顺序不确定，旧值可能覆盖新值，由下次 GetBalance 回源
func publishBalance(ctx context.Context, repo LedgerRepo, notifier Notifier, user *User, referenceID string) {
	if user == nil {
		return
	}
	repo.InvalidateBalance(ctx, user.ID)
	notifier.Publish(ctx, user.ID, constants.EventBalanceUpdated, &BalancePayload{
		Balance:     user.Balance.StringFixed(2),
		ReferenceID: referenceID,
	})
}

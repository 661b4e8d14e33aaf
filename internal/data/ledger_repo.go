package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/constants"
	"sms-service/internal/data/model"
	smsErrors "sms-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ledgerRepo 账户与流水数据访问
type ledgerRepo struct {
	data *Data
	log  *log.Helper
}

// NewLedgerRepo 创建账本 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetUser 获取账户，不存在返回 nil
func (r *ledgerRepo) GetUser(ctx context.Context, userID string) (*biz.User, error) {
	var m model.User
	if err := r.data.DB(ctx).Where("id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetUser failed: user_id=%s, error=%v", userID, err)
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return toBizUser(&m), nil
}

// CreateUser 开户
func (r *ledgerRepo) CreateUser(ctx context.Context, u *biz.User) error {
	status := u.Status
	if status == "" {
		status = biz.UserStatusActive
	}
	m := &model.User{
		ID:             u.ID,
		Balance:        decimal.Zero,
		TotalSpent:     decimal.Zero,
		TotalRecharged: decimal.Zero,
		Status:         status,
	}
	return r.data.DB(ctx).Create(m).Error
}

// Post 锁定用户行后逐笔记账。所有 posting 在同一事务中生效，余额不会为负。
func (r *ledgerRepo) Post(ctx context.Context, userID string, postings ...biz.Posting) (*biz.User, []*biz.LedgerEntry, error) {
	var (
		user    *biz.User
		entries []*biz.LedgerEntry
	)
	err := r.data.InTx(ctx, func(ctx context.Context) error {
		tx := r.data.DB(ctx)
		var m model.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return smsErrors.ErrUserNotFound(userID)
			}
			return err
		}

		balance := m.Balance
		spent := m.TotalSpent
		recharged := m.TotalRecharged
		now := time.Now()
		for _, p := range postings {
			after := balance.Add(p.Amount)
			if after.IsNegative() {
				return smsErrors.ErrInsufficientFunds(after.Neg())
			}
			e := &model.Transaction{
				ID:            uuid.New().String(),
				UserID:        userID,
				Type:          string(p.Type),
				Amount:        p.Amount,
				BalanceBefore: balance,
				BalanceAfter:  after,
				ReferenceID:   p.ReferenceID,
				Description:   p.Description,
				CreatedAt:     now,
			}
			if err := tx.Create(e).Error; err != nil {
				return err
			}
			if p.Type == biz.EntryRecharge {
				recharged = recharged.Add(p.Amount)
			} else {
				// 扣款为负，退款为正，total_spent 记净消费
				spent = spent.Sub(p.Amount)
			}
			balance = after
			entries = append(entries, toBizEntry(e))
		}

		if err := tx.Model(&model.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"balance":         balance,
			"total_spent":     spent,
			"total_recharged": recharged,
			"updated_at":      now,
		}).Error; err != nil {
			return err
		}
		m.Balance, m.TotalSpent, m.TotalRecharged, m.UpdatedAt = balance, spent, recharged, now
		user = toBizUser(&m)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return user, entries, nil
}

// HasEntry 是否已有指定订单、指定类型的流水
func (r *ledgerRepo) HasEntry(ctx context.Context, referenceID string, t biz.EntryType) (bool, error) {
	var count int64
	if err := r.data.DB(ctx).Model(&model.Transaction{}).
		Where("reference_id = ? AND type = ?", referenceID, string(t)).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListEntries 流水分页，按时间倒序
func (r *ledgerRepo) ListEntries(ctx context.Context, userID string, page, pageSize int) ([]*biz.LedgerEntry, int64, error) {
	var (
		list  []model.Transaction
		total int64
	)
	query := func() *gorm.DB {
		return r.data.DB(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)
	}
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query().Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*biz.LedgerEntry, 0, len(list))
	for i := range list {
		out = append(out, toBizEntry(&list[i]))
	}
	return out, total, nil
}

// SumEntries 流水金额合计（在 Go 中累加，避免各数据库 SUM 精度差异）
func (r *ledgerRepo) SumEntries(ctx context.Context, userID string) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.data.DB(ctx).Model(&model.Transaction{}).
		Where("user_id = ?", userID).
		Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum, nil
}

// GetCachedBalance 读余额缓存
func (r *ledgerRepo) GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, bool) {
	if r.data.rdb == nil {
		return decimal.Zero, false
	}
	s, err := r.data.rdb.Get(ctx, constants.RedisKeyBalance+userID).Result()
	if err != nil {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

// CacheBalance 写余额缓存（设置超时避免阻塞），失败只记日志
func (r *ledgerRepo) CacheBalance(ctx context.Context, userID string, balance decimal.Decimal) {
	if r.data.rdb == nil {
		return
	}
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cacheCancel()
	if err := r.data.rdb.Set(cacheCtx, constants.RedisKeyBalance+userID, balance.String(), constants.BalanceCacheTTL).Err(); err != nil {
		r.log.Warnf("failed to update balance cache: user_id=%s, error=%v", userID, err)
	}
}

// InvalidateBalance 删除余额缓存
func (r *ledgerRepo) InvalidateBalance(ctx context.Context, userID string) {
	if r.data.rdb == nil {
		return
	}
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cacheCancel()
	if err := r.data.rdb.Del(cacheCtx, constants.RedisKeyBalance+userID).Err(); err != nil {
		r.log.Warnf("failed to invalidate balance cache: user_id=%s, error=%v", userID, err)
	}
}

func toBizUser(m *model.User) *biz.User {
	return &biz.User{
		ID:             m.ID,
		Balance:        m.Balance,
		TotalSpent:     m.TotalSpent,
		TotalRecharged: m.TotalRecharged,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toBizEntry(m *model.Transaction) *biz.LedgerEntry {
	return &biz.LedgerEntry{
		ID:            m.ID,
		UserID:        m.UserID,
		Type:          biz.EntryType(m.Type),
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		ReferenceID:   m.ReferenceID,
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
	}
}

package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sms-service/internal/biz"
	"sms-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// activationRepo 激活单数据访问
type activationRepo struct {
	data *Data
	log  *log.Helper
}

// NewActivationRepo 创建激活单 repo（返回 biz.ActivationRepo 接口）
func NewActivationRepo(data *Data, logger log.Logger) biz.ActivationRepo {
	return &activationRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Create 创建激活单
func (r *activationRepo) Create(ctx context.Context, a *biz.Activation) error {
	if err := r.data.DB(ctx).Create(toActivationModel(a)).Error; err != nil {
		r.log.Errorf("Create activation failed: id=%s, external_id=%s, error=%v", a.ID, a.ExternalID, err)
		return err
	}
	return nil
}

// Get 按 ID 查询，不存在返回 nil
func (r *activationRepo) Get(ctx context.Context, id string) (*biz.Activation, error) {
	return r.first(r.data.DB(ctx).Where("id = ?", id))
}

// GetByToken 按用户与 order token 查询
func (r *activationRepo) GetByToken(ctx context.Context, userID, orderToken string) (*biz.Activation, error) {
	return r.first(r.data.DB(ctx).Where("user_id = ? AND order_token = ?", userID, orderToken))
}

// GetByExternalID 按供应商订单号查询
func (r *activationRepo) GetByExternalID(ctx context.Context, externalID string) (*biz.Activation, error) {
	return r.first(r.data.DB(ctx).Where("external_id = ?", externalID))
}

// Lock 事务内 SELECT ... FOR UPDATE
func (r *activationRepo) Lock(ctx context.Context, id string) (*biz.Activation, error) {
	return r.first(r.data.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *activationRepo) first(db *gorm.DB) (*biz.Activation, error) {
	var m model.Activation
	if err := db.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query activation: %w", err)
	}
	return toBizActivation(&m), nil
}

// Update 写回可变字段
func (r *activationRepo) Update(ctx context.Context, a *biz.Activation) error {
	return r.data.DB(ctx).Model(&model.Activation{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"status":          int32(a.Status),
		"code":            a.Code,
		"refunded_amount": a.RefundedAmount,
		"updated_at":      a.UpdatedAt,
	}).Error
}

// TouchCheck 记录最近一次供应商查询
func (r *activationRepo) TouchCheck(ctx context.Context, id string, at time.Time) error {
	return r.data.DB(ctx).Model(&model.Activation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_check_at": at,
		"check_count":   gorm.Expr("check_count + ?", 1),
	}).Error
}

// ListPending 非终态激活单，最久未查询的优先
func (r *activationRepo) ListPending(ctx context.Context, limit int) ([]*biz.Activation, error) {
	statuses := make([]int32, 0, len(biz.PendingActivationStatuses))
	for _, s := range biz.PendingActivationStatuses {
		statuses = append(statuses, int32(s))
	}
	var list []model.Activation
	if err := r.data.DB(ctx).
		Where("status IN ?", statuses).
		Order("last_check_at IS NOT NULL, last_check_at ASC, created_at ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]*biz.Activation, 0, len(list))
	for i := range list {
		out = append(out, toBizActivation(&list[i]))
	}
	return out, nil
}

func toActivationModel(a *biz.Activation) *model.Activation {
	return &model.Activation{
		ID:             a.ID,
		UserID:         a.UserID,
		OrderToken:     a.OrderToken,
		ExternalID:     a.ExternalID,
		Service:        a.Service,
		Country:        a.Country,
		Operator:       a.Operator,
		PhoneNumber:    a.PhoneNumber,
		Cost:           a.Cost,
		Status:         int32(a.Status),
		Code:           a.Code,
		RefundedAmount: a.RefundedAmount,
		ExpiresAt:      a.ExpiresAt,
		LastCheckAt:    a.LastCheckAt,
		CheckCount:     a.CheckCount,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toBizActivation(m *model.Activation) *biz.Activation {
	return &biz.Activation{
		ID:             m.ID,
		UserID:         m.UserID,
		OrderToken:     m.OrderToken,
		ExternalID:     m.ExternalID,
		Service:        m.Service,
		Country:        m.Country,
		Operator:       m.Operator,
		PhoneNumber:    m.PhoneNumber,
		Cost:           m.Cost,
		Status:         biz.ActivationStatus(m.Status),
		Code:           m.Code,
		RefundedAmount: m.RefundedAmount,
		ExpiresAt:      m.ExpiresAt,
		LastCheckAt:    m.LastCheckAt,
		CheckCount:     m.CheckCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

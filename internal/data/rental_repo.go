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

// rentalRepo 租赁单数据访问
type rentalRepo struct {
	data *Data
	log  *log.Helper
}

// NewRentalRepo 创建租赁单 repo（返回 biz.RentalRepo 接口）
func NewRentalRepo(data *Data, logger log.Logger) biz.RentalRepo {
	return &rentalRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *rentalRepo) Create(ctx context.Context, rt *biz.Rental) error {
	if err := r.data.DB(ctx).Create(toRentalModel(rt)).Error; err != nil {
		r.log.Errorf("Create rental failed: id=%s, external_id=%s, error=%v", rt.ID, rt.ExternalID, err)
		return err
	}
	return nil
}

func (r *rentalRepo) Get(ctx context.Context, id string) (*biz.Rental, error) {
	return r.first(r.data.DB(ctx).Where("id = ?", id))
}

func (r *rentalRepo) GetByToken(ctx context.Context, userID, orderToken string) (*biz.Rental, error) {
	return r.first(r.data.DB(ctx).Where("user_id = ? AND order_token = ?", userID, orderToken))
}

func (r *rentalRepo) GetByExternalID(ctx context.Context, externalID string) (*biz.Rental, error) {
	return r.first(r.data.DB(ctx).Where("external_id = ?", externalID))
}

func (r *rentalRepo) Lock(ctx context.Context, id string) (*biz.Rental, error) {
	return r.first(r.data.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *rentalRepo) first(db *gorm.DB) (*biz.Rental, error) {
	var m model.Rental
	if err := db.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query rental: %w", err)
	}
	return toBizRental(&m), nil
}

// Update 写回可变字段（状态、费用、时长、到期时间、短信）
func (r *rentalRepo) Update(ctx context.Context, rt *biz.Rental) error {
	m := toRentalModel(rt)
	return r.data.DB(ctx).Model(&model.Rental{ID: rt.ID}).
		Select("status", "cost", "duration_hours", "expires_at", "messages", "refunded_amount", "updated_at").
		Updates(m).Error
}

func (r *rentalRepo) TouchCheck(ctx context.Context, id string, at time.Time) error {
	return r.data.DB(ctx).Model(&model.Rental{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_check_at": at,
		"check_count":   gorm.Expr("check_count + ?", 1),
	}).Error
}

// ListActive ACTIVE 租赁单，最久未查询的优先
func (r *rentalRepo) ListActive(ctx context.Context, limit int) ([]*biz.Rental, error) {
	var list []model.Rental
	if err := r.data.DB(ctx).
		Where("status = ?", string(biz.RentalActive)).
		Order("last_check_at IS NOT NULL, last_check_at ASC, created_at ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]*biz.Rental, 0, len(list))
	for i := range list {
		out = append(out, toBizRental(&list[i]))
	}
	return out, nil
}

func toRentalModel(rt *biz.Rental) *model.Rental {
	msgs := make([]model.RentalMessage, 0, len(rt.Messages))
	for _, m := range rt.Messages {
		msgs = append(msgs, model.RentalMessage(m))
	}
	return &model.Rental{
		ID:             rt.ID,
		UserID:         rt.UserID,
		OrderToken:     rt.OrderToken,
		ExternalID:     rt.ExternalID,
		Service:        rt.Service,
		Country:        rt.Country,
		Operator:       rt.Operator,
		PhoneNumber:    rt.PhoneNumber,
		Cost:           rt.Cost,
		DurationHours:  rt.DurationHours,
		Status:         string(rt.Status),
		Messages:       msgs,
		RefundedAmount: rt.RefundedAmount,
		ExpiresAt:      rt.ExpiresAt,
		LastCheckAt:    rt.LastCheckAt,
		CheckCount:     rt.CheckCount,
		CreatedAt:      rt.CreatedAt,
		UpdatedAt:      rt.UpdatedAt,
	}
}

func toBizRental(m *model.Rental) *biz.Rental {
	var msgs []biz.RentalMessage
	for _, msg := range m.Messages {
		msgs = append(msgs, biz.RentalMessage(msg))
	}
	return &biz.Rental{
		ID:             m.ID,
		UserID:         m.UserID,
		OrderToken:     m.OrderToken,
		ExternalID:     m.ExternalID,
		Service:        m.Service,
		Country:        m.Country,
		Operator:       m.Operator,
		PhoneNumber:    m.PhoneNumber,
		Cost:           m.Cost,
		DurationHours:  m.DurationHours,
		Status:         biz.RentalStatus(m.Status),
		Messages:       msgs,
		RefundedAmount: m.RefundedAmount,
		ExpiresAt:      m.ExpiresAt,
		LastCheckAt:    m.LastCheckAt,
		CheckCount:     m.CheckCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

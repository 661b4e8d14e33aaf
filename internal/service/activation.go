package service

import (
	"context"

	"sms-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// ActivationService 激活单接口
type ActivationService struct {
	uc  *biz.ActivationUseCase
	log *log.Helper
}

// NewActivationService 创建 ActivationService
func NewActivationService(uc *biz.ActivationUseCase, logger log.Logger) *ActivationService {
	return &ActivationService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// Purchase 购买激活号码
func (s *ActivationService) Purchase(ctx context.Context, req *PurchaseActivationRequest) (*ActivationReply, error) {
	a, err := s.uc.Purchase(ctx, &biz.PurchaseActivationRequest{
		UserID:     req.UserID,
		Service:    req.Service,
		Country:    req.Country,
		Operator:   req.Operator,
		MaxPrice:   req.MaxPrice,
		OrderToken: req.OrderToken,
	})
	if err != nil {
		s.log.Errorf("Purchase failed: user_id=%s, order_token=%s, error=%v", req.UserID, req.OrderToken, err)
		return nil, err
	}
	return toActivationReply(a, decimal.Zero), nil
}

// Get 查询激活单（同时向供应商刷新状态）
func (s *ActivationService) Get(ctx context.Context, req *OrderRequest) (*ActivationReply, error) {
	res, err := s.uc.CheckStatus(ctx, req.UserID, req.ID)
	if err != nil {
		return nil, err
	}
	return toActivationReply(res.Activation, res.Refund), nil
}

// Cancel 取消并按状态退款
func (s *ActivationService) Cancel(ctx context.Context, req *OrderRequest) (*ActivationReply, error) {
	res, err := s.uc.Cancel(ctx, req.UserID, req.ID)
	if err != nil {
		s.log.Errorf("Cancel activation failed: id=%s, error=%v", req.ID, err)
		return nil, err
	}
	return toActivationReply(res.Activation, res.Refund), nil
}

// Confirm 确认完成
func (s *ActivationService) Confirm(ctx context.Context, req *OrderRequest) (*ActivationReply, error) {
	res, err := s.uc.Confirm(ctx, req.UserID, req.ID)
	if err != nil {
		return nil, err
	}
	return toActivationReply(res.Activation, res.Refund), nil
}

// Retry 请求重发
func (s *ActivationService) Retry(ctx context.Context, req *OrderRequest) (*ActivationReply, error) {
	res, err := s.uc.RequestRetry(ctx, req.UserID, req.ID)
	if err != nil {
		return nil, err
	}
	return toActivationReply(res.Activation, res.Refund), nil
}

package service

import (
	"context"

	"sms-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// RentalService 租赁单接口
type RentalService struct {
	uc  *biz.RentalUseCase
	log *log.Helper
}

// NewRentalService 创建 RentalService
func NewRentalService(uc *biz.RentalUseCase, logger log.Logger) *RentalService {
	return &RentalService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

var noSettlement = biz.Settlement{Refund: decimal.Zero, Fee: decimal.Zero}

func (s *RentalService) Rent(ctx context.Context, req *RentNumberRequest) (*RentalReply, error) {
	r, err := s.uc.Rent(ctx, &biz.RentNumberRequest{
		UserID:        req.UserID,
		Service:       req.Service,
		Country:       req.Country,
		Operator:      req.Operator,
		DurationHours: req.DurationHours,
		MaxPrice:      req.MaxPrice,
		OrderToken:    req.OrderToken,
	})
	if err != nil {
		s.log.Errorf("Rent failed: user_id=%s, order_token=%s, error=%v", req.UserID, req.OrderToken, err)
		return nil, err
	}
	return toRentalReply(r, noSettlement), nil
}

func (s *RentalService) Get(ctx context.Context, req *OrderRequest) (*RentalReply, error) {
	res, err := s.uc.CheckStatus(ctx, req.UserID, req.ID)
	if err != nil {
		return nil, err
	}
	return toRentalReply(res.Rental, res.Settlement), nil
}

func (s *RentalService) Extend(ctx context.Context, req *ExtendRentalRequest) (*RentalReply, error) {
	r, err := s.uc.Extend(ctx, req.UserID, req.ID, req.Hours)
	if err != nil {
		s.log.Errorf("Extend rental failed: id=%s, hours=%d, error=%v", req.ID, req.Hours, err)
		return nil, err
	}
	return toRentalReply(r, noSettlement), nil
}

func (s *RentalService) Cancel(ctx context.Context, req *OrderRequest) (*RentalReply, error) {
	res, err := s.uc.Cancel(ctx, req.UserID, req.ID)
	if err != nil {
		s.log.Errorf("Cancel rental failed: id=%s, error=%v", req.ID, err)
		return nil, err
	}
	return toRentalReply(res.Rental, res.Settlement), nil
}

func (s *RentalService) Finish(ctx context.Context, req *OrderRequest) (*RentalReply, error) {
	res, err := s.uc.Finish(ctx, req.UserID, req.ID)
	if err != nil {
		return nil, err
	}
	return toRentalReply(res.Rental, res.Settlement), nil
}

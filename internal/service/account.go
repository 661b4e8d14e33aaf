package service

import (
	"context"

	"sms-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// AccountService 余额与流水接口
type AccountService struct {
	uc  *biz.LedgerUseCase
	log *log.Helper
}

// NewAccountService 创建 AccountService
func NewAccountService(uc *biz.LedgerUseCase, logger log.Logger) *AccountService {
	return &AccountService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// GetBalance 获取余额
func (s *AccountService) GetBalance(ctx context.Context, req *UserRequest) (*BalanceReply, error) {
	balance, err := s.uc.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{UserID: req.UserID, Balance: balance}, nil
}

// ListTransactions 获取流水
func (s *AccountService) ListTransactions(ctx context.Context, req *UserRequest) (*ListTransactionsReply, error) {
	entries, total, err := s.uc.ListTransactions(ctx, req.UserID, req.Page, req.PageSize)
	if err != nil {
		s.log.Errorf("ListTransactions failed: user_id=%s, error=%v", req.UserID, err)
		return nil, err
	}
	reply := &ListTransactionsReply{
		Total:        total,
		Transactions: make([]*TransactionReply, 0, len(entries)),
	}
	for _, e := range entries {
		reply.Transactions = append(reply.Transactions, toTransactionReply(e))
	}
	return reply, nil
}

// Recharge 充值入账
func (s *AccountService) Recharge(ctx context.Context, req *RechargeRequest) (*BalanceReply, error) {
	if _, err := s.uc.Recharge(ctx, req.UserID, req.Amount, req.ReferenceID); err != nil {
		return nil, err
	}
	balance, err := s.uc.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{UserID: req.UserID, Balance: balance}, nil
}

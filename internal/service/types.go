package service

import (
	"time"

	"sms-service/internal/biz"

	"github.com/shopspring/decimal"
)

// PurchaseActivationRequest POST /v1/activations
type PurchaseActivationRequest struct {
	UserID     string           `json:"user_id"`
	Service    string           `json:"service"`
	Country    string           `json:"country"`
	Operator   string           `json:"operator,omitempty"`
	MaxPrice   *decimal.Decimal `json:"max_price,omitempty"`
	OrderToken string           `json:"order_token"`
}

// OrderRequest 按 ID 操作订单
type OrderRequest struct {
	UserID string `json:"user_id"`
	ID     string `json:"id"`
}

// ActivationReply 激活单
type ActivationReply struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Service     string          `json:"service"`
	Country     string          `json:"country"`
	Operator    string          `json:"operator,omitempty"`
	PhoneNumber string          `json:"phone_number"`
	Code        string          `json:"code,omitempty"`
	Cost        decimal.Decimal `json:"cost"`
	Refund      decimal.Decimal `json:"refund"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toActivationReply(a *biz.Activation, refund decimal.Decimal) *ActivationReply {
	return &ActivationReply{
		ID:          a.ID,
		Status:      a.Status.String(),
		Service:     a.Service,
		Country:     a.Country,
		Operator:    a.Operator,
		PhoneNumber: a.PhoneNumber,
		Code:        a.Code,
		Cost:        a.Cost,
		Refund:      refund,
		ExpiresAt:   a.ExpiresAt,
		CreatedAt:   a.CreatedAt,
	}
}

// RentNumberRequest POST /v1/rentals
type RentNumberRequest struct {
	UserID        string           `json:"user_id"`
	Service       string           `json:"service"`
	Country       string           `json:"country"`
	Operator      string           `json:"operator,omitempty"`
	DurationHours int32            `json:"duration_hours"`
	MaxPrice      *decimal.Decimal `json:"max_price,omitempty"`
	OrderToken    string           `json:"order_token"`
}

// ExtendRentalRequest POST /v1/rentals/{id}/extend
type ExtendRentalRequest struct {
	UserID string `json:"user_id"`
	ID     string `json:"id"`
	Hours  int32  `json:"hours"`
}

// RentalMessageReply 租赁短信
type RentalMessageReply struct {
	From       string    `json:"from"`
	Text       string    `json:"text"`
	Service    string    `json:"service,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RentalReply 租赁单
type RentalReply struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Service       string               `json:"service"`
	Country       string               `json:"country"`
	Operator      string               `json:"operator,omitempty"`
	PhoneNumber   string               `json:"phone_number"`
	DurationHours int32                `json:"duration_hours"`
	Cost          decimal.Decimal      `json:"cost"`
	Refund        decimal.Decimal      `json:"refund"`
	Fee           decimal.Decimal      `json:"fee"`
	Messages      []RentalMessageReply `json:"messages"`
	ExpiresAt     time.Time            `json:"expires_at"`
	CreatedAt     time.Time            `json:"created_at"`
}

func toRentalReply(r *biz.Rental, s biz.Settlement) *RentalReply {
	reply := &RentalReply{
		ID:            r.ID,
		Status:        r.Status.String(),
		Service:       r.Service,
		Country:       r.Country,
		Operator:      r.Operator,
		PhoneNumber:   r.PhoneNumber,
		DurationHours: r.DurationHours,
		Cost:          r.Cost,
		Refund:        s.Refund,
		Fee:           s.Fee,
		Messages:      make([]RentalMessageReply, 0, len(r.Messages)),
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
	}
	for _, m := range r.Messages {
		reply.Messages = append(reply.Messages, RentalMessageReply(m))
	}
	return reply
}

// UserRequest GET /v1/users/{id}/...
type UserRequest struct {
	UserID   string `json:"user_id"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// BalanceReply 余额
type BalanceReply struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// RechargeRequest POST /v1/users/{id}/recharge
type RechargeRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty"`
}

// TransactionReply 一条流水
type TransactionReply struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toTransactionReply(e *biz.LedgerEntry) *TransactionReply {
	return &TransactionReply{
		ID:            e.ID,
		Type:          string(e.Type),
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		ReferenceID:   e.ReferenceID,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
	}
}

// ListTransactionsReply 流水分页
type ListTransactionsReply struct {
	Total        int64               `json:"total"`
	Transactions []*TransactionReply `json:"transactions"`
}

// WebhookRequest 原始回调
type WebhookRequest struct {
	Body       []byte
	Signature  string
	RemoteAddr string
}

// AckReply 回调确认
type AckReply struct {
	OK      bool   `json:"ok"`
	OrderID string `json:"order_id,omitempty"`
	Changed bool   `json:"changed"`
}

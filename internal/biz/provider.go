package biz

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderClient 号码供应商客户端接口（实现在 data 层）。
// 明确拒绝返回 PROVIDER_REJECTED，网络错误与超时返回 PROVIDER_UNAVAILABLE（结果未知）。
// "尚未就绪" 不是错误，而是 ProviderWaiting 状态。
type ProviderClient interface {
	PurchaseActivation(ctx context.Context, req *ProviderPurchaseRequest) (*ProviderPurchaseReply, error)
	CheckActivationStatus(ctx context.Context, externalID string) (*ProviderStatusReply, error)
	CancelActivation(ctx context.Context, externalID string) error
	ConfirmActivation(ctx context.Context, externalID string) error
	RequestRetry(ctx context.Context, externalID string) error

	RentNumber(ctx context.Context, req *ProviderRentRequest) (*ProviderRentReply, error)
	CheckRentalStatus(ctx context.Context, externalID string) (*ProviderRentStatusReply, error)
	ExtendRental(ctx context.Context, externalID string, hours int32) (*ProviderRentReply, error)
	SetRentalStatus(ctx context.Context, externalID string, action RentAction) error
}

// ProviderPurchaseRequest 购买激活号码
type ProviderPurchaseRequest struct {
	Service        string
	Country        string
	Operator       string
	MaxPrice       *decimal.Decimal
	IdempotencyKey string // 同一 key 的重复调用由供应商视为重放
}

// ProviderPurchaseReply 供应商分配的号码
type ProviderPurchaseReply struct {
	ExternalID  string
	PhoneNumber string
	Cost        decimal.Decimal // 供应商成本价，仅用于日志
}

// ProviderStatusReply 激活单状态
type ProviderStatusReply struct {
	State ProviderState
	Code  string
}

// ProviderRentRequest 租用号码
type ProviderRentRequest struct {
	Service        string
	Country        string
	Operator       string
	Hours          int32
	MaxPrice       *decimal.Decimal
	IdempotencyKey string
}

// ProviderRentReply 租赁号码信息
type ProviderRentReply struct {
	ExternalID  string
	PhoneNumber string
	EndDate     time.Time
}

// ProviderRentStatusReply 租赁单状态与收到的短信
type ProviderRentStatusReply struct {
	State    ProviderState
	Messages []RentalMessage
	EndDate  *time.Time
}

// RentAction 租赁单状态设置
type RentAction int32

const (
	RentActionFinish RentAction = 1
	RentActionCancel RentAction = 2
)

// ProviderState 供应商状态词汇
type ProviderState string

const (
	ProviderWaiting      ProviderState = "STATUS_WAIT_CODE"
	ProviderWaitingRetry ProviderState = "STATUS_WAIT_RETRY"
	ProviderCodeReceived ProviderState = "STATUS_OK"
	ProviderCancelled    ProviderState = "STATUS_CANCEL"
	ProviderFinished     ProviderState = "STATUS_FINISH"
	ProviderExpired      ProviderState = "STATUS_EXPIRED"
	ProviderActive       ProviderState = "STATUS_ACTIVE"
)

var providerStateAliases = map[string]ProviderState{
	"STATUS_WAIT_CODE":   ProviderWaiting,
	"STATUS_WAIT_RESEND": ProviderWaiting,
	"STATUS_WAIT_RETRY":  ProviderWaitingRetry,
	"STATUS_OK":          ProviderCodeReceived,
	"STATUS_CANCEL":      ProviderCancelled,
	"STATUS_REVOKE":      ProviderCancelled,
	"STATUS_FINISH":      ProviderFinished,
	"STATUS_EXPIRED":     ProviderExpired,
	"STATUS_ACTIVE":      ProviderActive,
	"SUCCESS":            ProviderActive,
	// 激活单数字状态码
	"0": ProviderWaiting,
	"1": ProviderWaitingRetry,
	"3": ProviderCodeReceived,
	"6": ProviderCancelled,
	"8": ProviderFinished,
}

// ParseProviderState 解析供应商状态，兼容文字与数字两种形式
func ParseProviderState(raw string) (ProviderState, bool) {
	s, ok := providerStateAliases[strings.ToUpper(strings.TrimSpace(raw))]
	return s, ok
}

// ActivationEvent 映射为激活单事件
func (s ProviderState) ActivationEvent(code string) Event {
	switch s {
	case ProviderWaitingRetry:
		return Event{Kind: EventRetryWaiting}
	case ProviderCodeReceived:
		return Event{Kind: EventCodeReceived, Code: code}
	case ProviderCancelled:
		return Event{Kind: EventCancelled}
	case ProviderFinished:
		return Event{Kind: EventCompleted}
	case ProviderExpired:
		return Event{Kind: EventExpired}
	}
	return Event{Kind: EventWaiting}
}

// RentalEvent 映射为租赁单事件
func (s ProviderState) RentalEvent(messages []RentalMessage, endDate *time.Time) Event {
	ev := Event{Kind: EventWaiting, Messages: messages, EndDate: endDate}
	switch s {
	case ProviderCancelled:
		ev.Kind = EventCancelled
	case ProviderFinished:
		ev.Kind = EventCompleted
	case ProviderExpired:
		ev.Kind = EventExpired
	default:
		if len(messages) > 0 {
			ev.Kind = EventMessages
		}
	}
	return ev
}

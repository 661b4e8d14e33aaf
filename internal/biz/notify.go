package biz

import (
	"context"
	"encoding/json"
	"time"
)

// Notifier 实时通知出口，发布即返回，不得阻塞产生事件的事务
type Notifier interface {
	Publish(ctx context.Context, userID, event string, payload interface{})
}

// EventRelay 把事件投递到用户实时通道（Redis Pub/Sub）
type EventRelay interface {
	Relay(ctx context.Context, ev *NotificationEvent) error
}

// NotificationEvent 通知消息体（MQ 与 Pub/Sub 共用）
type NotificationEvent struct {
	UserID     string          `json:"user_id"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// BalancePayload balance_updated 事件内容
type BalancePayload struct {
	Balance     string `json:"balance"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// OrderPayload 订单类事件内容
type OrderPayload struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Code        string `json:"code,omitempty"`
	Refund      string `json:"refund,omitempty"`
}

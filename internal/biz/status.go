package biz

import (
	"fmt"
	"strconv"
	"time"
)

// ActivationStatus 激活单状态，数值与供应商状态码保持一致
type ActivationStatus int32

const (
	ActivationWaitSMS   ActivationStatus = 0
	ActivationWaitRetry ActivationStatus = 1
	ActivationReceived  ActivationStatus = 3
	ActivationCancelled ActivationStatus = 6
	ActivationCompleted ActivationStatus = 8
)

var activationStatusNames = map[ActivationStatus]string{
	ActivationWaitSMS:   "WAIT_SMS",
	ActivationWaitRetry: "WAIT_RETRY",
	ActivationReceived:  "RECEIVED",
	ActivationCancelled: "CANCELLED",
	ActivationCompleted: "COMPLETED",
}

func (s ActivationStatus) String() string {
	if name, ok := activationStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

// Valid 是否为已定义状态
func (s ActivationStatus) Valid() bool {
	_, ok := activationStatusNames[s]
	return ok
}

// Terminal 终态不再有任何迁移
func (s ActivationStatus) Terminal() bool {
	return s == ActivationCancelled || s == ActivationCompleted
}

// ParseActivationStatus 从存储值还原状态
func ParseActivationStatus(v int32) (ActivationStatus, error) {
	s := ActivationStatus(v)
	if !s.Valid() {
		return 0, fmt.Errorf("unknown activation status %d", v)
	}
	return s, nil
}

// PendingActivationStatuses 需要对账的状态
var PendingActivationStatuses = []ActivationStatus{
	ActivationWaitSMS,
	ActivationWaitRetry,
	ActivationReceived,
}

// RentalStatus 租赁单状态
type RentalStatus string

const (
	RentalActive    RentalStatus = "ACTIVE"
	RentalExpired   RentalStatus = "EXPIRED"
	RentalCancelled RentalStatus = "CANCELLED"
	RentalCompleted RentalStatus = "COMPLETED"
)

func (s RentalStatus) String() string { return string(s) }

func (s RentalStatus) Valid() bool {
	switch s {
	case RentalActive, RentalExpired, RentalCancelled, RentalCompleted:
		return true
	}
	return false
}

func (s RentalStatus) Terminal() bool {
	return s == RentalExpired || s == RentalCancelled || s == RentalCompleted
}

func ParseRentalStatus(v string) (RentalStatus, error) {
	s := RentalStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown rental status %q", v)
	}
	return s, nil
}

// EventKind 状态机事件，轮询、回调、本地过期和用户操作共用同一套词汇
type EventKind string

const (
	EventWaiting      EventKind = "waiting"
	EventRetryWaiting EventKind = "retry_waiting"
	EventCodeReceived EventKind = "code_received"
	EventCancelled    EventKind = "cancelled"
	EventCompleted    EventKind = "completed"
	EventExpired      EventKind = "expired"
	EventMessages     EventKind = "message_received"
)

// Event 状态机输入
type Event struct {
	Kind     EventKind
	Code     string
	Messages []RentalMessage
	EndDate  *time.Time
	// At 事件发生时间，零值表示处理时刻；用户取消时用于退款结算
	At time.Time
}

func (e Event) String() string { return string(e.Kind) }

func (e Event) at(now time.Time) time.Time {
	if e.At.IsZero() {
		return now
	}
	return e.At
}

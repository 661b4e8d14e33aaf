package biz

import (
	smsErrors "sms-service/internal/errors"
)

// Effect 迁移附带的副作用
type Effect uint8

const (
	EffectRefund Effect = 1 << iota
	EffectNotify
)

// ActivationTransition 激活单迁移结果
type ActivationTransition struct {
	From    ActivationStatus
	To      ActivationStatus
	Effects Effect
	// AlreadyTerminal 当前已是终态，事件被忽略
	AlreadyTerminal bool
}

func (t ActivationTransition) Changed() bool { return t.From != t.To }
func (t ActivationTransition) Has(e Effect) bool { return t.Effects&e != 0 }

// RentalTransition 租赁单迁移结果
type RentalTransition struct {
	From            RentalStatus
	To              RentalStatus
	Effects         Effect
	AlreadyTerminal bool
}

func (t RentalTransition) Changed() bool { return t.From != t.To }
func (t RentalTransition) Has(e Effect) bool { return t.Effects&e != 0 }

var activationTable = map[ActivationStatus]map[ActivationStatus]bool{
	ActivationWaitSMS: {
		ActivationWaitRetry: true,
		ActivationReceived:  true,
		ActivationCancelled: true,
		ActivationCompleted: true,
	},
	ActivationWaitRetry: {
		ActivationReceived:  true,
		ActivationCancelled: true,
	},
	ActivationReceived: {
		ActivationCompleted: true,
	},
	ActivationCancelled: {},
	ActivationCompleted: {},
}

var rentalTable = map[RentalStatus]map[RentalStatus]bool{
	RentalActive: {
		RentalExpired:   true,
		RentalCancelled: true,
		RentalCompleted: true,
	},
	RentalExpired:   {},
	RentalCancelled: {},
	RentalCompleted: {},
}

// CanTransitActivation 查迁移表
func CanTransitActivation(from, to ActivationStatus) bool {
	return activationTable[from][to]
}

// CanTransitRental 查迁移表
func CanTransitRental(from, to RentalStatus) bool {
	return rentalTable[from][to]
}

// activationTarget 事件对应的目标状态；ok=false 表示该事件对当前状态无意义（保持不变）
func activationTarget(current ActivationStatus, kind EventKind) (ActivationStatus, bool) {
	switch kind {
	case EventWaiting, EventMessages:
		return current, false
	case EventRetryWaiting:
		return ActivationWaitRetry, true
	case EventCodeReceived:
		return ActivationReceived, true
	case EventCancelled:
		return ActivationCancelled, true
	case EventCompleted:
		return ActivationCompleted, true
	case EventExpired:
		// 已收到验证码的单过期视为完成，其余取消并按状态退款
		if current == ActivationReceived {
			return ActivationCompleted, true
		}
		return ActivationCancelled, true
	}
	return current, false
}

// NextActivation 计算激活单迁移。
// 相同状态与终态上的事件都是空操作，不产生副作用；表外迁移返回 INVALID_TRANSITION。
func NextActivation(current ActivationStatus, ev Event) (ActivationTransition, error) {
	t := ActivationTransition{From: current, To: current}
	if !current.Valid() {
		return t, smsErrors.ErrInvalidTransition(current.String(), ev.String())
	}
	if current.Terminal() {
		t.AlreadyTerminal = true
		return t, nil
	}
	to, ok := activationTarget(current, ev.Kind)
	if !ok || to == current {
		return t, nil
	}
	if !CanTransitActivation(current, to) {
		return t, smsErrors.ErrInvalidTransition(current.String(), ev.String())
	}
	t.To = to
	t.Effects = EffectNotify
	if to == ActivationCancelled {
		t.Effects |= EffectRefund
	}
	return t, nil
}

func rentalTarget(current RentalStatus, kind EventKind) (RentalStatus, bool, bool) {
	switch kind {
	case EventWaiting, EventMessages, EventCodeReceived:
		return current, false, true
	case EventExpired:
		return RentalExpired, true, true
	case EventCancelled:
		return RentalCancelled, true, true
	case EventCompleted:
		return RentalCompleted, true, true
	}
	// retry 对租赁单没有意义
	return current, false, false
}

// NextRental 计算租赁单迁移，规则同 NextActivation
func NextRental(current RentalStatus, ev Event) (RentalTransition, error) {
	t := RentalTransition{From: current, To: current}
	if !current.Valid() {
		return t, smsErrors.ErrInvalidTransition(current.String(), ev.String())
	}
	if current.Terminal() {
		t.AlreadyTerminal = true
		return t, nil
	}
	to, move, known := rentalTarget(current, ev.Kind)
	if !known {
		return t, smsErrors.ErrInvalidTransition(current.String(), ev.String())
	}
	if !move || to == current {
		return t, nil
	}
	if !CanTransitRental(current, to) {
		return t, smsErrors.ErrInvalidTransition(current.String(), ev.String())
	}
	t.To = to
	t.Effects = EffectNotify
	if to == RentalCancelled {
		t.Effects |= EffectRefund
	}
	return t, nil
}

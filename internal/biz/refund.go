package biz

import (
	"time"

	"sms-service/internal/constants"

	"github.com/shopspring/decimal"
)

var (
	hundredPercent = decimal.NewFromInt(1)
	halfPercent    = decimal.RequireFromString("0.5")
	// rentalFeeRate 租赁提前取消保留的手续费比例
	rentalFeeRate = decimal.RequireFromString("0.1")
)

// Settlement 订单结算：Refund 记 refund 流水（正数），Fee 记 adjustment 流水（负数）
type Settlement struct {
	Refund decimal.Decimal
	Fee    decimal.Decimal
}

// Net 对余额的净影响
func (s Settlement) Net() decimal.Decimal {
	return s.Refund.Sub(s.Fee)
}

// IsZero 无任何账务影响
func (s Settlement) IsZero() bool {
	return s.Refund.IsZero() && s.Fee.IsZero()
}

// ActivationRefund 按取消前状态计算退款：WAIT_SMS 全额，WAIT_RETRY 半额，其余为 0
func ActivationRefund(from ActivationStatus, cost decimal.Decimal) decimal.Decimal {
	switch from {
	case ActivationWaitSMS:
		return cost.Mul(hundredPercent).Round(4)
	case ActivationWaitRetry:
		return cost.Mul(halfPercent).Round(4)
	}
	return decimal.Zero
}

// WithinRentalCancelWindow 租赁单创建后 20 分钟内（含边界）可取消
func WithinRentalCancelWindow(createdAt, now time.Time) bool {
	return !now.After(createdAt.Add(constants.RentalCancelWindow))
}

// RentalSettlement 租赁单进入 to 状态时的结算。
// 窗口内取消退回 90%，另记 10% 手续费调整；窗口外取消与自然过期不退款。
func RentalSettlement(to RentalStatus, cost decimal.Decimal, createdAt, now time.Time) Settlement {
	if to != RentalCancelled || !WithinRentalCancelWindow(createdAt, now) {
		return Settlement{Refund: decimal.Zero, Fee: decimal.Zero}
	}
	fee := cost.Mul(rentalFeeRate).Round(4)
	return Settlement{
		Refund: cost.Sub(fee),
		Fee:    fee,
	}
}

package errors

import (
	"fmt"
	"strconv"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/shopspring/decimal"
)

// Reason 常量，作为 kratos Error 的 Reason 字段
const (
	ReasonInsufficientFunds   = "INSUFFICIENT_FUNDS"
	ReasonUserNotFound        = "USER_NOT_FOUND"
	ReasonInvalidAmount       = "INVALID_AMOUNT"
	ReasonProviderRejected    = "PROVIDER_REJECTED"
	ReasonProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ReasonPricingUnavailable  = "PRICING_UNAVAILABLE"
	ReasonOrderNotFound       = "ORDER_NOT_FOUND"
	ReasonAlreadyTerminal     = "ALREADY_TERMINAL"
	ReasonInvalidTransition   = "INVALID_TRANSITION"
	ReasonCancelWindowClosed  = "CANCEL_WINDOW_CLOSED"
	ReasonOrderCommitFailed   = "ORDER_COMMIT_FAILED"
	ReasonOrderLockFailed     = "ORDER_LOCK_FAILED"
	ReasonInvalidSignature    = "INVALID_SIGNATURE"
	ReasonInvalidPayload      = "INVALID_PAYLOAD"
	ReasonRateLimited         = "RATE_LIMITED"
	ReasonInvalidArgument     = "INVALID_ARGUMENT"
)

func newError(httpCode, bizCode int, reason, message string) *kerrors.Error {
	return kerrors.New(httpCode, reason, message).WithMetadata(map[string]string{
		"biz_code": strconv.Itoa(bizCode),
	})
}

func withMeta(e *kerrors.Error, kv ...string) *kerrors.Error {
	md := make(map[string]string, len(e.Metadata)+len(kv)/2)
	for k, v := range e.Metadata {
		md[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		md[kv[i]] = kv[i+1]
	}
	return e.WithMetadata(md)
}

// ErrInsufficientFunds 余额不足，metadata 带差额
func ErrInsufficientFunds(shortfall decimal.Decimal) *kerrors.Error {
	return withMeta(
		newError(402, ErrCodeInsufficientFunds, ReasonInsufficientFunds,
			fmt.Sprintf("insufficient funds, shortfall %s", shortfall.StringFixed(2))),
		"shortfall", shortfall.StringFixed(2),
	)
}

func ErrUserNotFound(userID string) *kerrors.Error {
	return newError(404, ErrCodeUserNotFound, ReasonUserNotFound, "user not found: "+userID)
}

func ErrInvalidAmount(msg string) *kerrors.Error {
	return newError(400, ErrCodeInvalidAmount, ReasonInvalidAmount, msg)
}

// ErrProviderRejected 供应商明确拒绝，本地不做任何变更
func ErrProviderRejected(detail string) *kerrors.Error {
	return withMeta(
		newError(422, ErrCodeProviderRejected, ReasonProviderRejected, "provider rejected: "+detail),
		"detail", detail,
	)
}

// ErrProviderUnavailable 网络错误或超时，结果未知
func ErrProviderUnavailable(cause error) *kerrors.Error {
	return newError(503, ErrCodeProviderUnavailable, ReasonProviderUnavailable, "provider unavailable").WithCause(cause)
}

func ErrPricingUnavailable(key string) *kerrors.Error {
	return newError(422, ErrCodePricingUnavailable, ReasonPricingUnavailable, "no price configured for "+key)
}

func ErrOrderNotFound(id string) *kerrors.Error {
	return newError(404, ErrCodeOrderNotFound, ReasonOrderNotFound, "order not found: "+id)
}

// ErrAlreadyTerminal 只在内部流转，调用方视为成功
func ErrAlreadyTerminal(status string) *kerrors.Error {
	return newError(200, ErrCodeAlreadyTerminal, ReasonAlreadyTerminal, "order already terminal: "+status)
}

func ErrInvalidTransition(from, event string) *kerrors.Error {
	return withMeta(
		newError(409, ErrCodeInvalidTransition, ReasonInvalidTransition,
			fmt.Sprintf("event %s not allowed from %s", event, from)),
		"from", from, "event", event,
	)
}

func ErrCancelWindowClosed() *kerrors.Error {
	return newError(409, ErrCodeCancelWindowClosed, ReasonCancelWindowClosed, "cancellation window has closed")
}

// ErrOrderCommitFailed 供应商已扣款但本地落库失败，必须人工对账
func ErrOrderCommitFailed(externalID, orderToken string, cause error) *kerrors.Error {
	return withMeta(
		newError(500, ErrCodeOrderCommitFailed, ReasonOrderCommitFailed, "order purchased at provider but not recorded"),
		"external_id", externalID, "order_token", orderToken,
	).WithCause(cause)
}

func ErrOrderLockFailed(key string, cause error) *kerrors.Error {
	return newError(409, ErrCodeOrderLockFailed, ReasonOrderLockFailed, "order is busy: "+key).WithCause(cause)
}

func ErrInvalidSignature() *kerrors.Error {
	return newError(401, ErrCodeInvalidSignature, ReasonInvalidSignature, "invalid webhook signature")
}

func ErrInvalidPayload(cause error) *kerrors.Error {
	return newError(400, ErrCodeInvalidPayload, ReasonInvalidPayload, "invalid webhook payload").WithCause(cause)
}

func ErrRateLimited() *kerrors.Error {
	return newError(429, ErrCodeRateLimited, ReasonRateLimited, "too many requests")
}

func ErrInvalidArgument(msg string) *kerrors.Error {
	return newError(400, ErrCodeInvalidArgument, ReasonInvalidArgument, msg)
}

// IsReason 判断 err 是否为指定 Reason 的业务错误
func IsReason(err error, reason string) bool {
	if err == nil {
		return false
	}
	return kerrors.Reason(err) == reason
}

package errors

// SMS Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，SMS 固定为 20
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   01: 账本模块
//   02: 供应商模块
//   03: 订单模块
//   04: 回调模块
//   05: 接入模块
//   06-99: 预留扩展

// 账本模块错误码 (200100-200199)
const (
	// ErrCodeInsufficientFunds 余额不足
	ErrCodeInsufficientFunds = 200101
	// ErrCodeUserNotFound 用户不存在
	ErrCodeUserNotFound = 200102
	// ErrCodeInvalidAmount 金额非法
	ErrCodeInvalidAmount = 200103
)

// 供应商模块错误码 (200200-200299)
const (
	// ErrCodeProviderRejected 供应商拒绝
	ErrCodeProviderRejected = 200201
	// ErrCodeProviderUnavailable 供应商不可用（结果未知）
	ErrCodeProviderUnavailable = 200202
	// ErrCodePricingUnavailable 未配置价格
	ErrCodePricingUnavailable = 200203
)

// 订单模块错误码 (200300-200399)
const (
	// ErrCodeOrderNotFound 订单不存在
	ErrCodeOrderNotFound = 200301
	// ErrCodeAlreadyTerminal 订单已终结（幂等空操作）
	ErrCodeAlreadyTerminal = 200302
	// ErrCodeInvalidTransition 非法状态迁移
	ErrCodeInvalidTransition = 200303
	// ErrCodeCancelWindowClosed 已超出可取消窗口
	ErrCodeCancelWindowClosed = 200304
	// ErrCodeOrderCommitFailed 供应商已成功但本地提交失败，需人工对账
	ErrCodeOrderCommitFailed = 200305
	// ErrCodeOrderLockFailed 获取订单锁失败
	ErrCodeOrderLockFailed = 200306
)

// 回调模块错误码 (200400-200499)
const (
	// ErrCodeInvalidSignature 签名校验失败
	ErrCodeInvalidSignature = 200401
	// ErrCodeInvalidPayload 回调内容无法解析
	ErrCodeInvalidPayload = 200402
)

// 接入模块错误码 (200500-200599)
const (
	// ErrCodeRateLimited 请求过于频繁
	ErrCodeRateLimited = 200501
	// ErrCodeInvalidArgument 参数错误
	ErrCodeInvalidArgument = 200502
)

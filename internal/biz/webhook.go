package biz

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"sms-service/internal/conf"
	"sms-service/internal/constants"
	smsErrors "sms-service/internal/errors"
	"sms-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// 供应商时间格式
var providerTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseProviderTime 解析供应商时间，无时区的按 UTC 处理
func ParseProviderTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range providerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// WebhookPayload 供应商回调内容
type WebhookPayload struct {
	ID       string           `json:"id"`
	Status   flexString       `json:"status"`
	Code     string           `json:"code"`
	EndDate  string           `json:"endDate"`
	Messages []WebhookMessage `json:"messages"`
}

// WebhookMessage 回调中的短信
type WebhookMessage struct {
	PhoneFrom string `json:"phoneFrom"`
	Text      string `json:"text"`
	Service   string `json:"service"`
	Date      string `json:"date"`
}

// flexString 兼容 "3" 与 3 两种写法
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// WebhookResult 回调处理结果，除签名与格式错误外一律确认收到
type WebhookResult struct {
	OrderKind string
	OrderID   string
	Changed   bool
	Ignored   bool
}

// WebhookUseCase 回调入口：验签后喂给与轮询相同的状态机
type WebhookUseCase struct {
	secret      []byte
	activations *ActivationUseCase
	rentals     *RentalUseCase
	actRepo     ActivationRepo
	rentRepo    RentalRepo
	log         *log.Helper
	metrics     *metrics.SMSMetrics
}

// NewWebhookUseCase 创建回调 UseCase
func NewWebhookUseCase(
	c *conf.Bootstrap,
	activations *ActivationUseCase,
	rentals *RentalUseCase,
	actRepo ActivationRepo,
	rentRepo RentalRepo,
	logger log.Logger,
) *WebhookUseCase {
	uc := &WebhookUseCase{
		activations: activations,
		rentals:     rentals,
		actRepo:     actRepo,
		rentRepo:    rentRepo,
		log:         log.NewHelper(logger),
		metrics:     metrics.GetMetrics(),
	}
	if c != nil && c.Webhook != nil {
		uc.secret = []byte(c.Webhook.Secret)
	}
	if len(uc.secret) == 0 {
		uc.log.Warn("Webhook secret is empty, all webhook requests will be rejected")
	}
	return uc
}

// Sign 计算 body 的 HMAC-SHA256 十六进制签名
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 常量时间比较签名，兼容 "sha256=" 前缀；未配置密钥时全部拒绝
func (uc *WebhookUseCase) Verify(body []byte, signature string) bool {
	if len(uc.secret) == 0 {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, uc.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Handle 处理一次回调。签名错误返回 INVALID_SIGNATURE，格式错误返回 INVALID_PAYLOAD，
// 未知订单返回 ORDER_NOT_FOUND；其余处理失败只记日志并确认，避免供应商无限重试。
func (uc *WebhookUseCase) Handle(ctx context.Context, body []byte, signature, remoteAddr string) (*WebhookResult, error) {
	if !uc.Verify(body, signature) {
		uc.log.Warnf("Webhook signature rejected: remote_addr=%s, body_size=%d", remoteAddr, len(body))
		uc.observe("rejected")
		return nil, smsErrors.ErrInvalidSignature()
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		uc.observe("invalid")
		return nil, smsErrors.ErrInvalidPayload(err)
	}
	if payload.ID == "" {
		uc.observe("invalid")
		return nil, smsErrors.ErrInvalidPayload(nil)
	}

	result := &WebhookResult{}
	state, ok := ParseProviderState(string(payload.Status))
	if !ok {
		uc.log.Warnf("Webhook with unknown status: external_id=%s, status=%s", payload.ID, payload.Status)
		result.Ignored = true
		uc.observe("ignored")
		return result, nil
	}

	if err := uc.dispatch(ctx, &payload, state, result); err != nil {
		if smsErrors.IsReason(err, smsErrors.ReasonOrderNotFound) {
			uc.log.Warnf("Webhook for unknown order: external_id=%s, status=%s", payload.ID, payload.Status)
			uc.observe("unknown_order")
			return nil, err
		}
		uc.log.Errorf("Webhook processing failed: external_id=%s, status=%s, error=%v", payload.ID, payload.Status, err)
		result.Ignored = true
		uc.observe(constants.ResultFailed)
		return result, nil
	}
	uc.observe(constants.ResultSuccess)
	return result, nil
}

func (uc *WebhookUseCase) dispatch(ctx context.Context, p *WebhookPayload, state ProviderState, result *WebhookResult) error {
	a, err := uc.actRepo.GetByExternalID(ctx, p.ID)
	if err != nil {
		return err
	}
	if a != nil {
		res, err := uc.activations.ApplyEvent(ctx, a.ID, state.ActivationEvent(p.Code), constants.SourceWebhook)
		if err != nil {
			return err
		}
		result.OrderKind, result.OrderID, result.Changed = constants.OrderKindActivation, a.ID, res.Changed
		return nil
	}

	r, err := uc.rentRepo.GetByExternalID(ctx, p.ID)
	if err != nil {
		return err
	}
	if r == nil {
		return smsErrors.ErrOrderNotFound(p.ID)
	}
	var endDate *time.Time
	if t, ok := ParseProviderTime(p.EndDate); ok {
		endDate = &t
	}
	res, err := uc.rentals.ApplyEvent(ctx, r.ID, state.RentalEvent(p.rentalMessages(), endDate), constants.SourceWebhook)
	if err != nil {
		return err
	}
	result.OrderKind, result.OrderID, result.Changed = constants.OrderKindRental, r.ID, res.Changed
	return nil
}

func (p *WebhookPayload) rentalMessages() []RentalMessage {
	if len(p.Messages) == 0 {
		return nil
	}
	out := make([]RentalMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		at, _ := ParseProviderTime(m.Date)
		out = append(out, RentalMessage{
			From:       m.PhoneFrom,
			Text:       m.Text,
			Service:    m.Service,
			ReceivedAt: at,
		})
	}
	return out
}

func (uc *WebhookUseCase) observe(result string) {
	if uc.metrics != nil {
		uc.metrics.WebhookTotal.WithLabelValues(result).Inc()
	}
}

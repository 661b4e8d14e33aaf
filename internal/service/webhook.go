package service

import (
	"context"

	"sms-service/internal/biz"
	"sms-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultSignatureHeader = "X-Signature"

// WebhookService 供应商回调入口
type WebhookService struct {
	uc     *biz.WebhookUseCase
	header string
	log    *log.Helper
}

// NewWebhookService 创建 WebhookService
func NewWebhookService(c *conf.Bootstrap, uc *biz.WebhookUseCase, logger log.Logger) *WebhookService {
	header := defaultSignatureHeader
	if c != nil && c.Webhook != nil && c.Webhook.SignatureHeader != "" {
		header = c.Webhook.SignatureHeader
	}
	return &WebhookService{
		uc:     uc,
		header: header,
		log:    log.NewHelper(logger),
	}
}

// SignatureHeader 签名所在的请求头
func (s *WebhookService) SignatureHeader() string {
	return s.header
}

// Ingest 处理一次回调
func (s *WebhookService) Ingest(ctx context.Context, req *WebhookRequest) (*AckReply, error) {
	res, err := s.uc.Handle(ctx, req.Body, req.Signature, req.RemoteAddr)
	if err != nil {
		return nil, err
	}
	return &AckReply{OK: true, OrderID: res.OrderID, Changed: res.Changed}, nil
}

package server

import (
	"context"

	"sms-service/internal/conf"
	clientlimit "sms-service/internal/ratelimit"
	"sms-service/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/ratelimit"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(
	c *conf.Bootstrap,
	limiter clientlimit.Limiter,
	activation *service.ActivationService,
	rental *service.RentalService,
	account *service.AccountService,
	webhook *service.WebhookService,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			ratelimit.Server(),
			// 回调由供应商推送，不做客户端限流
			selector.Server(clientlimit.Server(limiter)).
				Match(func(ctx context.Context, operation string) bool {
					return operation != service.OperationWebhookServiceIngest
				}).
				Build(),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.Timeout != nil {
			opts = append(opts, http.Timeout(c.Server.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)
	srv.Handle("/metrics", promhttp.Handler())
	service.RegisterActivationServiceHTTPServer(srv, activation)
	service.RegisterRentalServiceHTTPServer(srv, rental)
	service.RegisterAccountServiceHTTPServer(srv, account)
	service.RegisterWebhookServiceHTTPServer(srv, webhook)
	return srv
}

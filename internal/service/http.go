package service

import (
	"context"
	"io"
	"strconv"

	smsErrors "sms-service/internal/errors"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// 路由按 protoc-gen-go-http 的生成风格手写，operation 名用于中间件选择
const (
	OperationActivationServicePurchase = "/sms.v1.ActivationService/Purchase"
	OperationActivationServiceGet      = "/sms.v1.ActivationService/Get"
	OperationActivationServiceCancel   = "/sms.v1.ActivationService/Cancel"
	OperationActivationServiceConfirm  = "/sms.v1.ActivationService/Confirm"
	OperationActivationServiceRetry    = "/sms.v1.ActivationService/Retry"

	OperationRentalServiceRent   = "/sms.v1.RentalService/Rent"
	OperationRentalServiceGet    = "/sms.v1.RentalService/Get"
	OperationRentalServiceExtend = "/sms.v1.RentalService/Extend"
	OperationRentalServiceCancel = "/sms.v1.RentalService/Cancel"
	OperationRentalServiceFinish = "/sms.v1.RentalService/Finish"

	OperationAccountServiceGetBalance       = "/sms.v1.AccountService/GetBalance"
	OperationAccountServiceListTransactions = "/sms.v1.AccountService/ListTransactions"
	OperationAccountServiceRecharge         = "/sms.v1.AccountService/Recharge"

	OperationWebhookServiceIngest = "/sms.v1.WebhookService/Ingest"
)

const maxWebhookBody = 1 << 20

// RegisterActivationServiceHTTPServer 注册激活单路由
func RegisterActivationServiceHTTPServer(s *http.Server, srv *ActivationService) {
	r := s.Route("/")
	r.POST("/v1/activations", _ActivationService_Purchase0_HTTP_Handler(srv))
	r.GET("/v1/activations/{id}", orderHandler(OperationActivationServiceGet, srv.Get))
	r.POST("/v1/activations/{id}/cancel", orderHandler(OperationActivationServiceCancel, srv.Cancel))
	r.POST("/v1/activations/{id}/confirm", orderHandler(OperationActivationServiceConfirm, srv.Confirm))
	r.POST("/v1/activations/{id}/retry", orderHandler(OperationActivationServiceRetry, srv.Retry))
}

// RegisterRentalServiceHTTPServer 注册租赁单路由
func RegisterRentalServiceHTTPServer(s *http.Server, srv *RentalService) {
	r := s.Route("/")
	r.POST("/v1/rentals", _RentalService_Rent0_HTTP_Handler(srv))
	r.GET("/v1/rentals/{id}", orderHandler(OperationRentalServiceGet, srv.Get))
	r.POST("/v1/rentals/{id}/extend", _RentalService_Extend0_HTTP_Handler(srv))
	r.POST("/v1/rentals/{id}/cancel", orderHandler(OperationRentalServiceCancel, srv.Cancel))
	r.POST("/v1/rentals/{id}/finish", orderHandler(OperationRentalServiceFinish, srv.Finish))
}

// RegisterAccountServiceHTTPServer 注册账户路由
func RegisterAccountServiceHTTPServer(s *http.Server, srv *AccountService) {
	r := s.Route("/")
	r.GET("/v1/users/{id}/balance", _AccountService_GetBalance0_HTTP_Handler(srv))
	r.GET("/v1/users/{id}/transactions", _AccountService_ListTransactions0_HTTP_Handler(srv))
	r.POST("/v1/users/{id}/recharge", _AccountService_Recharge0_HTTP_Handler(srv))
}

// RegisterWebhookServiceHTTPServer 注册回调路由
func RegisterWebhookServiceHTTPServer(s *http.Server, srv *WebhookService) {
	r := s.Route("/")
	r.POST("/v1/webhooks/provider", _WebhookService_Ingest0_HTTP_Handler(srv))
}

func _ActivationService_Purchase0_HTTP_Handler(srv *ActivationService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in PurchaseActivationRequest
		if err := ctx.Bind(&in); err != nil {
			return smsErrors.ErrInvalidArgument(err.Error())
		}
		uid, err := resolveUserID(ctx, in.UserID)
		if err != nil {
			return err
		}
		in.UserID = uid
		http.SetOperation(ctx, OperationActivationServicePurchase)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Purchase(ctx, req.(*PurchaseActivationRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

// orderHandler 只带路径 id 的订单操作
func orderHandler[T any](operation string, call func(context.Context, *OrderRequest) (T, error)) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := OrderRequest{
			UserID: userIDFrom(ctx),
			ID:     ctx.Vars().Get("id"),
		}
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*OrderRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _RentalService_Rent0_HTTP_Handler(srv *RentalService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RentNumberRequest
		if err := ctx.Bind(&in); err != nil {
			return smsErrors.ErrInvalidArgument(err.Error())
		}
		uid, err := resolveUserID(ctx, in.UserID)
		if err != nil {
			return err
		}
		in.UserID = uid
		http.SetOperation(ctx, OperationRentalServiceRent)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Rent(ctx, req.(*RentNumberRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _RentalService_Extend0_HTTP_Handler(srv *RentalService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ExtendRentalRequest
		if err := ctx.Bind(&in); err != nil {
			return smsErrors.ErrInvalidArgument(err.Error())
		}
		in.ID = ctx.Vars().Get("id")
		uid, err := resolveUserID(ctx, in.UserID)
		if err != nil {
			return err
		}
		in.UserID = uid
		http.SetOperation(ctx, OperationRentalServiceExtend)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Extend(ctx, req.(*ExtendRentalRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _AccountService_GetBalance0_HTTP_Handler(srv *AccountService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := UserRequest{UserID: ctx.Vars().Get("id")}
		http.SetOperation(ctx, OperationAccountServiceGetBalance)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetBalance(ctx, req.(*UserRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _AccountService_ListTransactions0_HTTP_Handler(srv *AccountService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := UserRequest{UserID: ctx.Vars().Get("id")}
		in.Page, _ = strconv.Atoi(ctx.Query().Get("page"))
		in.PageSize, _ = strconv.Atoi(ctx.Query().Get("page_size"))
		http.SetOperation(ctx, OperationAccountServiceListTransactions)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListTransactions(ctx, req.(*UserRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _AccountService_Recharge0_HTTP_Handler(srv *AccountService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RechargeRequest
		if err := ctx.Bind(&in); err != nil {
			return smsErrors.ErrInvalidArgument(err.Error())
		}
		in.UserID = ctx.Vars().Get("id")
		http.SetOperation(ctx, OperationAccountServiceRecharge)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Recharge(ctx, req.(*RechargeRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

// 回调必须拿到原始字节验签，不能走 Bind
func _WebhookService_Ingest0_HTTP_Handler(srv *WebhookService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBody))
		if err != nil {
			return smsErrors.ErrInvalidPayload(err)
		}
		in := WebhookRequest{
			Body:       body,
			Signature:  ctx.Header().Get(srv.SignatureHeader()),
			RemoteAddr: ctx.Request().RemoteAddr,
		}
		http.SetOperation(ctx, OperationWebhookServiceIngest)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Ingest(ctx, req.(*WebhookRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

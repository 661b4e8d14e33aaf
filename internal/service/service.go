package service

import (
	smsErrors "sms-service/internal/errors"

	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewActivationService,
	NewRentalService,
	NewAccountService,
	NewWebhookService,
)

// HeaderUserID 网关注入的用户标识
const HeaderUserID = "X-User-Id"

// userIDFrom 优先取网关头，其次取 query 参数 user_id
func userIDFrom(ctx http.Context) string {
	if uid := ctx.Header().Get(HeaderUserID); uid != "" {
		return uid
	}
	return ctx.Query().Get("user_id")
}

// resolveUserID 请求体中的 user_id 只在没有网关头时生效；与网关头不一致直接拒绝
func resolveUserID(ctx http.Context, claimed string) (string, error) {
	uid := ctx.Header().Get(HeaderUserID)
	if uid == "" {
		if claimed != "" {
			return claimed, nil
		}
		return ctx.Query().Get("user_id"), nil
	}
	if claimed != "" && claimed != uid {
		return "", smsErrors.ErrInvalidArgument("user_id does not match authenticated user")
	}
	return uid, nil
}

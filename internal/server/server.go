package server

import (
	"sms-service/internal/ratelimit"

	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(
	ratelimit.NewLimiter,
	NewHTTPServer,
	NewGRPCServer,
	NewMQConsumerServer,
	NewPollerServer,
)

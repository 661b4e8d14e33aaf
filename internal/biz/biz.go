package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewClock,
	NewPricingConfig,
	NewLedgerUseCase,
	NewActivationUseCase,
	NewRentalUseCase,
	NewReconciler,
	NewWebhookUseCase,
)

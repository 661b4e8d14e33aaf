package biz

import (
	"testing"

	"sms-service/internal/conf"
	smsErrors "sms-service/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPricing() *PricingConfig {
	return NewPricingConfig(&conf.Bootstrap{
		Pricing: &conf.Pricing{
			DefaultActivation: 0.3,
			DefaultRentalHour: 0.1,
			Activations: map[string]float64{
				"tg":        0.5,
				"WA:RU":     0.7,
				"wa:ru:mts": 0.8,
				"free":      0,
			},
			RentalsHourly: map[string]float64{
				"tg": 0.25,
			},
		},
	})
}

func TestActivationPrice(t *testing.T) {
	p := newTestPricing()

	tests := []struct {
		service, country, operator string
		want                       string
	}{
		{"tg", "ru", "", "0.50"},
		{"TG", "us", "any", "0.50"},
		{"wa", "ru", "", "0.70"},
		{"wa", "ru", "mts", "0.80"},
		{"wa", "ru", "beeline", "0.70"},
		{"wa", "kz", "", "0.30"},
		{"free", "ru", "", "0.30"},
	}
	for _, tt := range tests {
		got, err := p.ActivationPrice(tt.service, tt.country, tt.operator)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.StringFixed(2), "%s/%s/%s", tt.service, tt.country, tt.operator)
	}
}

func TestActivationPrice_NoDefault(t *testing.T) {
	p := NewPricingConfig(nil)

	_, err := p.ActivationPrice("tg", "ru", "")
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonPricingUnavailable))
}

func TestRentalPrice(t *testing.T) {
	p := newTestPricing()

	got, err := p.RentalPrice("tg", "ru", "", 4)
	require.NoError(t, err)
	assert.Equal(t, "1.00", got.StringFixed(2))

	got, err = p.RentalPrice("wa", "ru", "", 3)
	require.NoError(t, err)
	assert.Equal(t, "0.30", got.StringFixed(2))

	_, err = p.RentalPrice("tg", "ru", "", 0)
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonInvalidArgument))
}

func TestApplyMaxPrice(t *testing.T) {
	cost := decimal.RequireFromString("0.50")

	got, err := ApplyMaxPrice(cost, nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(cost))

	higher := decimal.RequireFromString("2")
	got, err = ApplyMaxPrice(cost, &higher)
	require.NoError(t, err)
	assert.True(t, got.Equal(cost))

	equal := decimal.RequireFromString("0.5")
	got, err = ApplyMaxPrice(cost, &equal)
	require.NoError(t, err)
	assert.True(t, got.Equal(cost))

	lower := decimal.RequireFromString("0.4")
	_, err = ApplyMaxPrice(cost, &lower)
	assert.True(t, smsErrors.IsReason(err, smsErrors.ReasonProviderRejected))
}

package biz

import (
	"strings"

	"sms-service/internal/conf"
	smsErrors "sms-service/internal/errors"

	"github.com/shopspring/decimal"
)

// PricingConfig 售价配置（覆盖表 + 系统默认价）
type PricingConfig struct {
	DefaultActivation decimal.Decimal
	DefaultRentalHour decimal.Decimal
	Activations       map[string]decimal.Decimal
	RentalsHourly     map[string]decimal.Decimal
}

// NewPricingConfig 从配置创建 PricingConfig
func NewPricingConfig(c *conf.Bootstrap) *PricingConfig {
	p := &PricingConfig{
		DefaultActivation: decimal.Zero,
		DefaultRentalHour: decimal.Zero,
		Activations:       make(map[string]decimal.Decimal),
		RentalsHourly:     make(map[string]decimal.Decimal),
	}
	if c == nil || c.Pricing == nil {
		return p
	}
	p.DefaultActivation = decimal.NewFromFloat(c.Pricing.DefaultActivation)
	p.DefaultRentalHour = decimal.NewFromFloat(c.Pricing.DefaultRentalHour)
	for k, v := range c.Pricing.Activations {
		p.Activations[strings.ToLower(k)] = decimal.NewFromFloat(v)
	}
	for k, v := range c.Pricing.RentalsHourly {
		p.RentalsHourly[strings.ToLower(k)] = decimal.NewFromFloat(v)
	}
	return p
}

// priceKeys 由具体到宽泛的查找顺序
func priceKeys(service, country, operator string) []string {
	service, country, operator = strings.ToLower(service), strings.ToLower(country), strings.ToLower(operator)
	keys := make([]string, 0, 3)
	if operator != "" {
		keys = append(keys, service+":"+country+":"+operator)
	}
	keys = append(keys, service+":"+country, service)
	return keys
}

func lookupPrice(table map[string]decimal.Decimal, def decimal.Decimal, service, country, operator string) (decimal.Decimal, error) {
	keys := priceKeys(service, country, operator)
	for _, k := range keys {
		if v, ok := table[k]; ok && v.IsPositive() {
			return v, nil
		}
	}
	if def.IsPositive() {
		return def, nil
	}
	return decimal.Zero, smsErrors.ErrPricingUnavailable(keys[0])
}

// ActivationPrice 激活单单价
func (p *PricingConfig) ActivationPrice(service, country, operator string) (decimal.Decimal, error) {
	return lookupPrice(p.Activations, p.DefaultActivation, service, country, operator)
}

// RentalPrice 租赁单价格 = 小时价 × 时长
func (p *PricingConfig) RentalPrice(service, country, operator string, hours int32) (decimal.Decimal, error) {
	if hours <= 0 {
		return decimal.Zero, smsErrors.ErrInvalidArgument("duration_hours must be positive")
	}
	hourly, err := lookupPrice(p.RentalsHourly, p.DefaultRentalHour, service, country, operator)
	if err != nil {
		return decimal.Zero, err
	}
	return hourly.Mul(decimal.NewFromInt32(hours)), nil
}

// ApplyMaxPrice 用户限价低于售价直接拒绝，否则取 min(maxPrice, cost)
func ApplyMaxPrice(cost decimal.Decimal, maxPrice *decimal.Decimal) (decimal.Decimal, error) {
	if maxPrice == nil {
		return cost, nil
	}
	if maxPrice.LessThan(cost) {
		return decimal.Zero, smsErrors.ErrProviderRejected("WRONG_MAX_PRICE:" + cost.StringFixed(2))
	}
	return decimal.Min(*maxPrice, cost), nil
}

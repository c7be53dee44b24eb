package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRICING - Category prices from settings with hardcoded fallbacks
// =============================================================================

// DefaultPrices are used for any category without a stored setting.
var DefaultPrices = map[Category]decimal.Decimal{
	CategoryMonthlyBill:   decimal.NewFromInt(100),
	CategoryLateSurcharge: decimal.NewFromInt(10),
}

// Prices is an immutable snapshot of the settings table taken at one
// instant, layered over fallback defaults.
type Prices struct {
	settings map[Category]decimal.Decimal
	defaults map[Category]decimal.Decimal
}

// NewPrices builds a snapshot. Both maps are copied.
func NewPrices(settings, defaults map[Category]decimal.Decimal) Prices {
	p := Prices{
		settings: make(map[Category]decimal.Decimal, len(settings)),
		defaults: make(map[Category]decimal.Decimal, len(defaults)),
	}
	for k, v := range settings {
		p.settings[k] = v
	}
	for k, v := range defaults {
		p.defaults[k] = v
	}
	return p
}

// AmountFor returns the price of a category. It never fails: a missing
// setting falls back to the default, and an unknown category costs zero.
func (p Prices) AmountFor(c Category) decimal.Decimal {
	if v, ok := p.settings[c]; ok {
		return v
	}
	if v, ok := p.defaults[c]; ok {
		return v
	}
	return decimal.Zero
}

// PricingResolver takes price snapshots from a SettingsStore. It holds no
// cache, so a price change applies to the next job run without a restart.
type PricingResolver struct {
	Store    SettingsStore
	Defaults map[Category]decimal.Decimal
}

// NewPricingResolver creates a resolver. Nil defaults mean DefaultPrices.
func NewPricingResolver(store SettingsStore, defaults map[Category]decimal.Decimal) *PricingResolver {
	if defaults == nil {
		defaults = DefaultPrices
	}
	return &PricingResolver{Store: store, Defaults: defaults}
}

// Snapshot reads the settings table once. A failed read is a store error,
// not a reason to bill the fallback price.
func (r *PricingResolver) Snapshot(ctx context.Context) (Prices, error) {
	settings, err := r.Store.Settings(ctx)
	if err != nil {
		return Prices{}, err
	}
	return NewPrices(settings, r.Defaults), nil
}

// AmountFor resolves a single category against a fresh snapshot.
func (r *PricingResolver) AmountFor(ctx context.Context, c Category) (decimal.Decimal, error) {
	prices, err := r.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return prices.AmountFor(c), nil
}

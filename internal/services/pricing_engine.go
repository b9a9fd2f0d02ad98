package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPricingInvalidInput signals bad pricing data such as negative prices or quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

const (
	defaultTaxBasisPoints     = 1000
	defaultShippingBaseMinor  = 500
	defaultShippingPerKgMinor = 100
	defaultItemWeightGrams    = 500
)

// StandardPricingEngineConfig carries the flat-rate pricing constants.
// Basis-point tax and weight-banded shipping are deliberately simple; the
// constants live in configuration so deployments can tune them.
type StandardPricingEngineConfig struct {
	TaxBasisPoints     int64
	ShippingBaseMinor  int64
	ShippingPerKgMinor int64
	ItemWeightGrams    int64
}

// StandardPricingEngine quotes carts and orders from snapshot prices using
// flat-rate shipping by total weight plus a basis-point tax on the subtotal.
type StandardPricingEngine struct {
	taxBps        int64
	shippingBase  int64
	shippingPerKg int64
	itemWeight    int64
	logger        func(context.Context, string, map[string]any)
}

var _ PricingEngine = (*StandardPricingEngine)(nil)

// NewStandardPricingEngine constructs the engine, filling zero config fields
// with defaults. Negative values are rejected.
func NewStandardPricingEngine(cfg StandardPricingEngineConfig, logger func(context.Context, string, map[string]any)) (*StandardPricingEngine, error) {
	if cfg.TaxBasisPoints < 0 || cfg.ShippingBaseMinor < 0 || cfg.ShippingPerKgMinor < 0 || cfg.ItemWeightGrams < 0 {
		return nil, errors.New("pricing engine: config values must be non-negative")
	}
	if cfg.TaxBasisPoints == 0 {
		cfg.TaxBasisPoints = defaultTaxBasisPoints
	}
	if cfg.ShippingBaseMinor == 0 {
		cfg.ShippingBaseMinor = defaultShippingBaseMinor
	}
	if cfg.ShippingPerKgMinor == 0 {
		cfg.ShippingPerKgMinor = defaultShippingPerKgMinor
	}
	if cfg.ItemWeightGrams == 0 {
		cfg.ItemWeightGrams = defaultItemWeightGrams
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StandardPricingEngine{
		taxBps:        cfg.TaxBasisPoints,
		shippingBase:  cfg.ShippingBaseMinor,
		shippingPerKg: cfg.ShippingPerKgMinor,
		itemWeight:    cfg.ItemWeightGrams,
		logger:        logger,
	}, nil
}

// Quote prices the supplied items. An empty item set yields a zero quote so
// callers can render empty carts without special-casing.
func (e *StandardPricingEngine) Quote(ctx context.Context, cmd PricingCommand) (PricingQuote, error) {
	if e == nil {
		return PricingQuote{}, errors.New("pricing engine: not configured")
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return PricingQuote{}, fmt.Errorf("%w: currency is required", ErrPricingInvalidInput)
	}

	quote := PricingQuote{
		Currency: currency,
		Items:    make([]ItemPricingQuote, 0, len(cmd.Items)),
	}
	if len(cmd.Items) == 0 {
		return quote, nil
	}

	var totalWeightGrams int64
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return PricingQuote{}, fmt.Errorf("%w: quantity must be positive for %s", ErrPricingInvalidInput, item.SKU)
		}
		if item.UnitPrice < 0 {
			return PricingQuote{}, fmt.Errorf("%w: unit price must be non-negative for %s", ErrPricingInvalidInput, item.SKU)
		}

		lineSubtotal := item.UnitPrice * int64(item.Quantity)
		weight := item.WeightGrams
		if weight <= 0 {
			weight = e.itemWeight
		}
		totalWeightGrams += weight * int64(item.Quantity)

		quote.Subtotal += lineSubtotal
		quote.Items = append(quote.Items, ItemPricingQuote{
			LineID:      item.LineID,
			SKU:         item.SKU,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    lineSubtotal,
			WeightGrams: weight,
		})
	}

	quote.Shipping = e.shippingCost(totalWeightGrams)
	quote.Tax = quote.Subtotal * e.taxBps / 10000
	quote.Total = quote.Subtotal + quote.Shipping + quote.Tax

	e.logger(ctx, "pricing.quoted", map[string]any{
		"currency": currency,
		"items":    len(quote.Items),
		"subtotal": quote.Subtotal,
		"total":    quote.Total,
	})
	return quote, nil
}

// shippingCost charges the base rate plus the per-kg rate for each started
// kilogram of total weight.
func (e *StandardPricingEngine) shippingCost(totalWeightGrams int64) int64 {
	if totalWeightGrams <= 0 {
		return e.shippingBase
	}
	kilograms := (totalWeightGrams + 999) / 1000
	return e.shippingBase + e.shippingPerKg*kilograms
}

package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// PricingQuote captures the monetary results of pricing a set of cart lines.
type PricingQuote struct {
	Currency string
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
	Items    []ItemPricingQuote
}

// ItemPricingQuote stores the per-line pricing outputs after running the engine.
type ItemPricingQuote struct {
	LineID      string
	SKU         string
	UnitPrice   int64
	Quantity    int
	Subtotal    int64
	WeightGrams int64
}

// FormatMoney renders a minor-unit amount using the currency's conventional
// fraction digits, e.g. (59998, "USD") -> "USD 599.98". Unknown currency
// codes fall back to two fraction digits.
func FormatMoney(amount int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	digits := 2
	if unit, err := currency.ParseISO(code); err == nil {
		if scale, _ := currency.Cash.Rounding(unit); scale >= 0 {
			digits = scale
		}
		code = unit.String()
	}
	if digits == 0 {
		return fmt.Sprintf("%s %d", code, amount)
	}
	div := int64(1)
	for i := 0; i < digits; i++ {
		div *= 10
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%0*d", code, sign, amount/div, digits, amount%div)
}

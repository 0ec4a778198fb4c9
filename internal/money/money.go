// Package money computes cart totals and settles tenders. Amounts are integer
// cents; tax is split once per cart so rounding never compounds across lines.
package money

import (
	"github.com/shopspring/decimal"
)

type Line struct {
	PriceCents int64
	Quantity   int
	// DiscountCents is per unit.
	DiscountCents int64
}

type TaxConfig struct {
	RatePercent      float64
	PricesIncludeTax bool
}

type Totals struct {
	GrossCents    int64 `json:"gross_cents"`
	DiscountCents int64 `json:"discount_cents"`
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

var hundred = decimal.NewFromInt(100)

// Calculate returns the totals of lines under cfg. TotalCents always equals
// SubtotalCents + TaxCents, whichever way the store quotes its prices.
func Calculate(lines []Line, cfg TaxConfig) Totals {
	var gross, discount int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		qty := int64(line.Quantity)
		gross += line.PriceCents * qty
		if line.DiscountCents > 0 {
			discount += line.DiscountCents * qty
		}
	}
	if discount > gross {
		discount = gross
	}
	base := gross - discount
	if base < 0 {
		base = 0
	}

	totals := Totals{GrossCents: gross, DiscountCents: discount}
	rate := decimal.NewFromFloat(cfg.RatePercent).Div(hundred)
	if rate.Sign() <= 0 || base == 0 {
		totals.SubtotalCents = base
		totals.TotalCents = base
		return totals
	}

	baseDec := decimal.NewFromInt(base)
	if cfg.PricesIncludeTax {
		net := baseDec.Div(decimal.NewFromInt(1).Add(rate))
		tax := baseDec.Sub(net).Round(0).IntPart()
		totals.TaxCents = tax
		totals.SubtotalCents = base - tax
		totals.TotalCents = base
		return totals
	}

	tax := baseDec.Mul(rate).Round(0).IntPart()
	totals.TaxCents = tax
	totals.SubtotalCents = base
	totals.TotalCents = base + tax
	return totals
}

// Format renders cents with two decimals, e.g. 4550 -> "45.50".
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Parse reads a decimal amount such as "49.99" into cents.
func Parse(raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateTaxExclusive(t *testing.T) {
	totals := Calculate([]Line{
		{PriceCents: 1000, Quantity: 3},
		{PriceCents: 2550, Quantity: 2, DiscountCents: 50},
	}, TaxConfig{RatePercent: 11})

	assert.Equal(t, int64(8100), totals.GrossCents)
	assert.Equal(t, int64(100), totals.DiscountCents)
	assert.Equal(t, int64(8000), totals.SubtotalCents)
	assert.Equal(t, int64(880), totals.TaxCents)
	assert.Equal(t, int64(8880), totals.TotalCents)
}

func TestCalculateTaxInclusive(t *testing.T) {
	totals := Calculate([]Line{{PriceCents: 10000, Quantity: 1}}, TaxConfig{RatePercent: 11, PricesIncludeTax: true})

	assert.Equal(t, int64(10000), totals.TotalCents)
	assert.Equal(t, int64(991), totals.TaxCents)
	assert.Equal(t, int64(9009), totals.SubtotalCents)
}

func TestCalculateClampsDiscountAtZero(t *testing.T) {
	totals := Calculate([]Line{{PriceCents: 500, Quantity: 2, DiscountCents: 800}}, TaxConfig{RatePercent: 10})

	assert.Equal(t, int64(1000), totals.DiscountCents)
	assert.Zero(t, totals.SubtotalCents)
	assert.Zero(t, totals.TaxCents)
	assert.Zero(t, totals.TotalCents)
}

func TestCalculateTotalReconstructsFromParts(t *testing.T) {
	rates := []float64{0, 5, 7.5, 10, 11, 12.5, 16, 21}
	prices := []int64{1, 99, 333, 1999, 2550, 10001}
	for _, rate := range rates {
		for _, include := range []bool{true, false} {
			for _, price := range prices {
				for qty := 1; qty <= 7; qty++ {
					lines := []Line{
						{PriceCents: price, Quantity: qty, DiscountCents: price / 10},
						{PriceCents: price * 3, Quantity: 1},
					}
					totals := Calculate(lines, TaxConfig{RatePercent: rate, PricesIncludeTax: include})
					require.Equal(t, totals.TotalCents, totals.SubtotalCents+totals.TaxCents,
						"rate=%v include=%v price=%d qty=%d", rate, include, price, qty)
					require.GreaterOrEqual(t, totals.SubtotalCents, int64(0))

					base := totals.GrossCents - totals.DiscountCents
					if include {
						require.Equal(t, base, totals.TotalCents)
					} else {
						require.Equal(t, base, totals.SubtotalCents)
					}
				}
			}
		}
	}
}

func TestFormatAndParse(t *testing.T) {
	assert.Equal(t, "45.50", Format(4550))
	assert.Equal(t, "0.07", Format(7))
	assert.Equal(t, "-10.00", Format(-1000))

	cents, err := Parse("49.99")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), cents)

	_, err = Parse("abc")
	assert.Error(t, err)
}

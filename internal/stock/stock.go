// Package stock applies inventory deltas to products. It does arithmetic
// only; callers decide whether a sale may drive stock negative.
package stock

import (
	"errors"
	"fmt"

	"tillbook/backend/internal/domain"
)

var (
	ErrUnknownProduct = errors.New("unknown product")
	ErrUnknownVariant = errors.New("unknown variant")
)

type Delta struct {
	ProductID string
	VariantID string
	Quantity  int
}

type Mode int

const (
	// Arithmetic applies deltas as-is.
	Arithmetic Mode = iota
	// FloorAtZero clamps results at zero. Used when reverting a reception.
	FloorAtZero
)

// Apply returns updated copies of every product touched by deltas, in the
// order they were first touched. The input slice is not modified.
func Apply(products []domain.Product, deltas []Delta, mode Mode) ([]domain.Product, error) {
	index := make(map[string]int, len(products))
	for i, p := range products {
		index[p.ID] = i
	}

	touched := make(map[string]*domain.Product, len(deltas))
	order := make([]string, 0, len(deltas))
	for _, d := range deltas {
		p, ok := touched[d.ProductID]
		if !ok {
			idx, exists := index[d.ProductID]
			if !exists {
				return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, d.ProductID)
			}
			dup := products[idx].Clone()
			p = &dup
			touched[d.ProductID] = p
			order = append(order, d.ProductID)
		}
		if err := applyOne(p, d, mode); err != nil {
			return nil, err
		}
	}

	updated := make([]domain.Product, 0, len(order))
	for _, id := range order {
		updated = append(updated, *touched[id])
	}
	return updated, nil
}

func applyOne(p *domain.Product, d Delta, mode Mode) error {
	if !p.HasVariants {
		if d.VariantID != "" {
			return fmt.Errorf("%w: %s has no variant %s", ErrUnknownVariant, p.ID, d.VariantID)
		}
		p.Stock = adjust(p.Stock, d.Quantity, mode)
		return nil
	}

	idx := p.Variant(d.VariantID)
	if d.VariantID == "" || idx < 0 {
		return fmt.Errorf("%w: %s variant %q", ErrUnknownVariant, p.ID, d.VariantID)
	}
	p.Variants[idx].Stock = adjust(p.Variants[idx].Stock, d.Quantity, mode)
	p.SyncVariantStock()
	return nil
}

func adjust(current int, delta int, mode Mode) int {
	next := current + delta
	if mode == FloorAtZero && next < 0 {
		return 0
	}
	return next
}

type Shortage struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// Shortages reports negative deltas that exceed the stock on hand, summing
// repeated lines for the same product and variant.
func Shortages(products []domain.Product, deltas []Delta) []Shortage {
	type key struct{ product, variant string }
	requested := make(map[key]int)
	order := make([]key, 0, len(deltas))
	for _, d := range deltas {
		if d.Quantity >= 0 {
			continue
		}
		k := key{d.ProductID, d.VariantID}
		if _, seen := requested[k]; !seen {
			order = append(order, k)
		}
		requested[k] += -d.Quantity
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var out []Shortage
	for _, k := range order {
		p, ok := byID[k.product]
		if !ok {
			continue
		}
		available := p.Stock
		if p.HasVariants {
			idx := p.Variant(k.variant)
			if idx < 0 {
				continue
			}
			available = p.Variants[idx].Stock
		}
		if requested[k] > available {
			out = append(out, Shortage{ProductID: k.product, VariantID: k.variant, Available: available, Requested: requested[k]})
		}
	}
	return out
}

func SaleDeltas(lines []domain.TransactionLine) []Delta {
	deltas := make([]Delta, 0, len(lines))
	for _, line := range lines {
		deltas = append(deltas, Delta{ProductID: line.ProductID, VariantID: line.VariantID, Quantity: -line.Quantity})
	}
	return deltas
}

// ReceptionDeltas adds every purchased unit, bonus units included. A negative
// sign produces the reversal deltas.
func ReceptionDeltas(items []domain.PurchaseItem, sign int) []Delta {
	deltas := make([]Delta, 0, len(items))
	for _, item := range items {
		deltas = append(deltas, Delta{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: sign * item.Quantity})
	}
	return deltas
}

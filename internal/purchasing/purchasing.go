// Package purchasing implements the purchase order lifecycle:
// BORRADOR -> CONFIRMADO, then reception (received NO -> YES) and its reversal.
// Each reception transition moves stock exactly once.
package purchasing

import (
	"errors"
	"slices"
	"time"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
	"tillbook/backend/internal/stock"
)

var ErrLocked = errors.New("purchase is received; items and amounts are read-only")

type Reception struct {
	Purchase domain.Purchase
	// Products holds the products whose stock, cost or price changed.
	Products []domain.Product
	// Applied is false when the transition was already in effect.
	Applied bool
}

func IsReceived(p domain.Purchase) bool {
	return p.Received == domain.ReceivedYes
}

// Confirm moves a draft to CONFIRMADO. Later states are left untouched.
func Confirm(p domain.Purchase, now time.Time) (domain.Purchase, bool) {
	if p.Status != "" && p.Status != domain.PurchaseStatusDraft {
		return p, false
	}
	p.Status = domain.PurchaseStatusConfirmed
	p.UpdatedAt = now
	return p, true
}

// ConfirmReception adds every line to stock and propagates cost and selling
// price onto the catalog. Bonus lines add stock but never overwrite cost.
func ConfirmReception(p domain.Purchase, products []domain.Product, now time.Time) (Reception, error) {
	if IsReceived(p) {
		return Reception{Purchase: p}, nil
	}

	updated, err := stock.Apply(products, stock.ReceptionDeltas(p.Items, 1), stock.Arithmetic)
	if err != nil {
		return Reception{}, err
	}

	byID := make(map[string]int, len(updated))
	for i, prod := range updated {
		byID[prod.ID] = i
	}
	for _, item := range p.Items {
		prod := &updated[byID[item.ProductID]]
		if !item.IsBonus && item.CostCents > 0 {
			prod.CostCents = item.CostCents
		}
		if item.NewSellPriceCents > 0 {
			applySellPrice(prod, item)
		}
		prod.UpdatedAt = now
	}

	p = p.Clone()
	p.Received = domain.ReceivedYes
	p.Status = domain.PurchaseStatusReceived
	p.ReceivedAt = &now
	p.UpdatedAt = now
	return Reception{Purchase: p, Products: updated, Applied: true}, nil
}

// RevertReception takes the received units back out of stock, never below zero.
// Cost and price changes made on reception stay in place.
func RevertReception(p domain.Purchase, products []domain.Product, now time.Time) (Reception, error) {
	if !IsReceived(p) {
		return Reception{Purchase: p}, nil
	}

	updated, err := stock.Apply(products, stock.ReceptionDeltas(p.Items, -1), stock.FloorAtZero)
	if err != nil {
		return Reception{}, err
	}
	for i := range updated {
		updated[i].UpdatedAt = now
	}

	p = p.Clone()
	p.Received = domain.ReceivedNo
	p.Status = domain.PurchaseStatusConfirmed
	p.ReceivedAt = nil
	p.UpdatedAt = now
	return Reception{Purchase: p, Products: updated, Applied: true}, nil
}

// GuardEdit rejects changes to lines and financial fields of a received purchase.
func GuardEdit(existing domain.Purchase, next domain.Purchase) error {
	if !IsReceived(existing) {
		return nil
	}
	if !slices.Equal(existing.Items, next.Items) ||
		existing.SupplierID != next.SupplierID ||
		existing.SubtotalCents != next.SubtotalCents ||
		existing.TaxCents != next.TaxCents ||
		existing.TotalCents != next.TotalCents ||
		existing.AmountPaidCents != next.AmountPaidCents ||
		existing.PaymentCondition != next.PaymentCondition ||
		existing.PaymentMethod != next.PaymentMethod ||
		existing.PayFromCash != next.PayFromCash ||
		existing.TaxIncluded != next.TaxIncluded {
		return ErrLocked
	}
	return nil
}

// Totals prices the purchase at cost. Bonus lines are free.
func Totals(items []domain.PurchaseItem, taxRatePercent float64, taxIncluded bool) money.Totals {
	lines := make([]money.Line, 0, len(items))
	for _, item := range items {
		cost := item.CostCents
		if item.IsBonus {
			cost = 0
		}
		lines = append(lines, money.Line{PriceCents: cost, Quantity: item.Quantity})
	}
	return money.Calculate(lines, money.TaxConfig{RatePercent: taxRatePercent, PricesIncludeTax: taxIncluded})
}

func applySellPrice(prod *domain.Product, item domain.PurchaseItem) {
	if item.VariantID != "" {
		if idx := prod.Variant(item.VariantID); idx >= 0 && prod.Variants[idx].PriceCents > 0 {
			prod.Variants[idx].PriceCents = item.NewSellPriceCents
			return
		}
	}
	prod.PriceCents = item.NewSellPriceCents
}

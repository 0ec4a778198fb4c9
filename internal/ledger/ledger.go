// Package ledger derives cash drawer figures for a shift from its transactions
// and movements. Nothing is accumulated incrementally, so replaying the same
// records always yields the same drawer.
package ledger

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tillbook/backend/internal/domain"
)

var (
	ErrShiftClosed   = errors.New("shift is closed")
	ErrNotesRequired = errors.New("critical cash variance requires closing notes")
)

const (
	VarianceNormal   = "normal"
	VarianceWarning  = "warning"
	VarianceCritical = "critical"
)

type Reconciliation struct {
	StartAmountCents  int64
	CashSalesCents    int64
	DigitalSalesCents int64
	CashInCents       int64
	CashOutCents      int64
	CashInDrawerCents int64
	Transactions      int
	ByMethod          []domain.MethodTotal
	// ClosingCounted is set once a CLOSE movement exists for the shift.
	ClosingCounted bool
}

// Reconcile computes
//
//	cash in drawer = start + cash tenders + IN - OUT
//	digital        = non-cash tenders
//
// over the records that belong to shift. Legacy transactions without a
// payment breakdown count their whole total under their single method.
func Reconcile(shift domain.CashShift, txs []domain.Transaction, movements []domain.CashMovement) Reconciliation {
	rec := Reconciliation{StartAmountCents: shift.StartAmountCents}
	byMethod := make(map[domain.PaymentMethod]*domain.MethodTotal)

	for _, tx := range txs {
		if tx.ShiftID != shift.ID {
			continue
		}
		rec.Transactions++
		seen := make(map[domain.PaymentMethod]bool, 2)
		for _, tender := range tx.Tenders() {
			if tender.Method.IsCash() {
				rec.CashSalesCents += tender.AmountCents
			} else {
				rec.DigitalSalesCents += tender.AmountCents
			}
			total, ok := byMethod[tender.Method]
			if !ok {
				total = &domain.MethodTotal{Method: tender.Method}
				byMethod[tender.Method] = total
			}
			total.AmountCents += tender.AmountCents
			if !seen[tender.Method] {
				total.Transactions++
				seen[tender.Method] = true
			}
		}
	}

	for _, m := range movements {
		if m.ShiftID != shift.ID {
			continue
		}
		switch m.Type {
		case domain.MovementIn:
			rec.CashInCents += m.AmountCents
		case domain.MovementOut:
			rec.CashOutCents += m.AmountCents
		case domain.MovementClose:
			rec.ClosingCounted = true
		}
	}

	rec.CashInDrawerCents = rec.StartAmountCents + rec.CashSalesCents + rec.CashInCents - rec.CashOutCents

	rec.ByMethod = make([]domain.MethodTotal, 0, len(byMethod))
	for _, total := range byMethod {
		rec.ByMethod = append(rec.ByMethod, *total)
	}
	sort.Slice(rec.ByMethod, func(i, j int) bool {
		return rec.ByMethod[i].Method < rec.ByMethod[j].Method
	})
	return rec
}

// ClassifyVariance compares the declared drawer with the expected one.
// Up to 1% is normal, up to 5% a warning, anything above is critical.
func ClassifyVariance(expectedCents int64, declaredCents int64) (int64, decimal.Decimal, string) {
	diff := declaredCents - expectedCents
	if diff == 0 {
		return 0, decimal.Zero, VarianceNormal
	}
	if expectedCents == 0 {
		return diff, decimal.NewFromInt(100), VarianceCritical
	}

	pct := decimal.NewFromInt(diff).
		Div(decimal.NewFromInt(expectedCents)).
		Mul(decimal.NewFromInt(100)).
		Round(2)

	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(decimal.NewFromInt(1)):
		return diff, pct, VarianceNormal
	case abs.LessThanOrEqual(decimal.NewFromInt(5)):
		return diff, pct, VarianceWarning
	default:
		return diff, pct, VarianceCritical
	}
}

// Close stamps the closing figures onto an open shift.
func Close(shift domain.CashShift, rec Reconciliation, endAmountCents int64, notes string, now time.Time) (domain.CashShift, error) {
	if shift.Status != domain.ShiftStatusOpen {
		return domain.CashShift{}, ErrShiftClosed
	}
	notes = strings.TrimSpace(notes)
	diff, _, variance := ClassifyVariance(rec.CashInDrawerCents, endAmountCents)
	if variance == VarianceCritical && notes == "" {
		return domain.CashShift{}, ErrNotesRequired
	}

	shift.Status = domain.ShiftStatusClosed
	shift.EndTime = &now
	shift.EndAmountCents = endAmountCents
	shift.TotalSalesCashCents = rec.CashSalesCents
	shift.TotalSalesDigitalCents = rec.DigitalSalesCents
	shift.ExpectedCashCents = rec.CashInDrawerCents
	shift.DiscrepancyCents = diff
	shift.Variance = variance
	if notes != "" {
		shift.Notes = notes
	}
	return shift, nil
}

func Summary(active domain.ActiveShift, rec Reconciliation) domain.ShiftSummary {
	summary := domain.ShiftSummary{
		Shift:             active.Shift,
		Pending:           active.Pending,
		Transactions:      rec.Transactions,
		StartAmountCents:  rec.StartAmountCents,
		CashSalesCents:    rec.CashSalesCents,
		DigitalSalesCents: rec.DigitalSalesCents,
		CashInCents:       rec.CashInCents,
		CashOutCents:      rec.CashOutCents,
		CashInDrawerCents: rec.CashInDrawerCents,
		ByMethod:          rec.ByMethod,
	}
	if active.Shift.Status == domain.ShiftStatusClosed {
		declared := active.Shift.EndAmountCents
		diff, pct, variance := ClassifyVariance(rec.CashInDrawerCents, declared)
		summary.DeclaredCashCents = &declared
		summary.DiscrepancyCents = &diff
		summary.DiscrepancyPercent = pct.StringFixed(2)
		summary.Variance = variance
	}
	return summary
}

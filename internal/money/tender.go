package money

import (
	"errors"
	"fmt"

	"tillbook/backend/internal/domain"
)

var (
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrChangeWithoutCash   = errors.New("change exceeds cash tendered")
)

type Settlement struct {
	// Payments is the recorded breakdown: change is netted out of the cash
	// lines, so the amounts sum to the transaction total.
	Payments          []domain.PaymentDetail
	PaidCents         int64
	CashReceivedCents int64
	ChangeCents       int64
}

// Settle checks tenders against totalCents and nets change out of cash.
// Integer cents need no rounding tolerance: 49.99 against 50.00 is short.
func Settle(totalCents int64, tenders []domain.PaymentDetail) (Settlement, error) {
	var paid, cash int64
	for _, t := range tenders {
		paid += t.AmountCents
		if t.Method.IsCash() {
			cash += t.AmountCents
		}
	}
	if paid < totalCents {
		return Settlement{}, fmt.Errorf("%w: paid %s of %s", ErrInsufficientPayment, Format(paid), Format(totalCents))
	}

	change := paid - totalCents
	if change > cash {
		return Settlement{}, fmt.Errorf("%w: change %s, cash %s", ErrChangeWithoutCash, Format(change), Format(cash))
	}

	net := make([]domain.PaymentDetail, len(tenders))
	copy(net, tenders)
	remaining := change
	for i := len(net) - 1; i >= 0 && remaining > 0; i-- {
		if !net[i].Method.IsCash() {
			continue
		}
		take := min(net[i].AmountCents, remaining)
		net[i].AmountCents -= take
		remaining -= take
	}

	recorded := make([]domain.PaymentDetail, 0, len(net))
	for _, p := range net {
		if p.AmountCents > 0 {
			recorded = append(recorded, p)
		}
	}

	return Settlement{
		Payments:          recorded,
		PaidCents:         paid,
		CashReceivedCents: cash,
		ChangeCents:       change,
	}, nil
}

// SummaryMethod is the legacy single-method value for a breakdown.
func SummaryMethod(payments []domain.PaymentDetail) domain.PaymentMethod {
	if len(payments) == 0 {
		return domain.PaymentCash
	}
	first := payments[0].Method
	for _, p := range payments[1:] {
		if p.Method != first {
			return domain.PaymentMixed
		}
	}
	return first
}

package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
)

var opened = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func openShift(start int64) domain.CashShift {
	return domain.CashShift{ID: "shift-1", TerminalID: "t1", Status: domain.ShiftStatusOpen, StartAmountCents: start, StartTime: opened}
}

func TestReconcileScenario(t *testing.T) {
	shift := openShift(2000)
	txs := []domain.Transaction{{
		ID:         "tx-1",
		ShiftID:    shift.ID,
		TotalCents: 3550,
		Payments:   []domain.PaymentDetail{{Method: domain.PaymentCash, AmountCents: 3550}},
	}}
	movements := []domain.CashMovement{
		{ShiftID: shift.ID, Type: domain.MovementOpen, AmountCents: 2000},
		{ShiftID: shift.ID, Type: domain.MovementOut, AmountCents: 1000},
	}

	rec := Reconcile(shift, txs, movements)
	assert.Equal(t, int64(4550), rec.CashInDrawerCents)
	assert.Equal(t, int64(3550), rec.CashSalesCents)
	assert.Zero(t, rec.DigitalSalesCents)
	assert.Equal(t, 1, rec.Transactions)
	assert.False(t, rec.ClosingCounted)

	movements = append(movements, domain.CashMovement{ShiftID: shift.ID, Type: domain.MovementClose, AmountCents: 4500})
	rec = Reconcile(shift, txs, movements)
	assert.True(t, rec.ClosingCounted)
	assert.Equal(t, int64(4550), rec.CashInDrawerCents)
}

func TestReconcileLegacyPaymentMethodFallback(t *testing.T) {
	shift := openShift(0)
	txs := []domain.Transaction{
		{ShiftID: shift.ID, TotalCents: 1200, PaymentMethod: domain.PaymentCard},
		{ShiftID: shift.ID, TotalCents: 800, PaymentMethod: domain.PaymentCash},
		{ShiftID: shift.ID, TotalCents: 500},
		{ShiftID: "other-shift", TotalCents: 9999, PaymentMethod: domain.PaymentCash},
	}

	rec := Reconcile(shift, txs, nil)
	assert.Equal(t, int64(1300), rec.CashSalesCents)
	assert.Equal(t, int64(1200), rec.DigitalSalesCents)
	assert.Equal(t, 3, rec.Transactions)
}

func TestReconcileSplitTenderByMethod(t *testing.T) {
	shift := openShift(10000)
	txs := []domain.Transaction{
		{ShiftID: shift.ID, TotalCents: 5000, PaymentMethod: domain.PaymentMixed, Payments: []domain.PaymentDetail{
			{Method: domain.PaymentQRIS, AmountCents: 3000},
			{Method: domain.PaymentCash, AmountCents: 2000},
		}},
		{ShiftID: shift.ID, TotalCents: 700, PaymentMethod: domain.PaymentQRIS},
	}

	rec := Reconcile(shift, txs, nil)
	assert.Equal(t, int64(12000), rec.CashInDrawerCents)
	assert.Equal(t, int64(3700), rec.DigitalSalesCents)
	require.Len(t, rec.ByMethod, 2)
	assert.Equal(t, domain.MethodTotal{Method: domain.PaymentCash, Transactions: 1, AmountCents: 2000}, rec.ByMethod[0])
	assert.Equal(t, domain.MethodTotal{Method: domain.PaymentQRIS, Transactions: 2, AmountCents: 3700}, rec.ByMethod[1])
}

func TestReconcileMovementOrderDoesNotMatter(t *testing.T) {
	shift := openShift(5000)
	movements := []domain.CashMovement{
		{ShiftID: shift.ID, Type: domain.MovementIn, AmountCents: 1500},
		{ShiftID: shift.ID, Type: domain.MovementOut, AmountCents: 700},
		{ShiftID: shift.ID, Type: domain.MovementIn, AmountCents: 250},
		{ShiftID: shift.ID, Type: domain.MovementOut, AmountCents: 3000},
		{ShiftID: shift.ID, Type: domain.MovementIn, AmountCents: 10},
	}
	txs := []domain.Transaction{{ShiftID: shift.ID, TotalCents: 4200, PaymentMethod: domain.PaymentCash}}
	want := int64(5000 + 4200 + 1500 + 250 + 10 - 700 - 3000)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]domain.CashMovement(nil), movements...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, Reconcile(shift, txs, shuffled).CashInDrawerCents)
	}
}

func TestClassifyVariance(t *testing.T) {
	cases := []struct {
		expected, declared int64
		class              string
		pct                string
	}{
		{10000, 10000, VarianceNormal, "0"},
		{10000, 9900, VarianceNormal, "-1"},
		{10000, 10300, VarianceWarning, "3"},
		{10000, 9400, VarianceCritical, "-6"},
		{0, 500, VarianceCritical, "100"},
	}
	for _, tc := range cases {
		_, pct, class := ClassifyVariance(tc.expected, tc.declared)
		assert.Equal(t, tc.class, class, "expected=%d declared=%d", tc.expected, tc.declared)
		assert.Equal(t, tc.pct, pct.String())
	}
}

func TestCloseStampsFigures(t *testing.T) {
	shift := openShift(2000)
	rec := Reconciliation{StartAmountCents: 2000, CashSalesCents: 3550, DigitalSalesCents: 800, CashOutCents: 1000, CashInDrawerCents: 4550}
	at := opened.Add(8 * time.Hour)

	closed, err := Close(shift, rec, 4500, "", at)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	assert.Equal(t, &at, closed.EndTime)
	assert.Equal(t, int64(4550), closed.ExpectedCashCents)
	assert.Equal(t, int64(-50), closed.DiscrepancyCents)
	assert.Equal(t, VarianceWarning, closed.Variance)
	assert.Equal(t, int64(800), closed.TotalSalesDigitalCents)

	_, err = Close(closed, rec, 4500, "", at)
	assert.ErrorIs(t, err, ErrShiftClosed)
}

func TestCloseCriticalVarianceNeedsNotes(t *testing.T) {
	rec := Reconciliation{CashInDrawerCents: 10000}

	_, err := Close(openShift(0), rec, 5000, "  ", opened)
	require.ErrorIs(t, err, ErrNotesRequired)

	closed, err := Close(openShift(0), rec, 5000, "uang diambil pemilik", opened)
	require.NoError(t, err)
	assert.Equal(t, VarianceCritical, closed.Variance)
}

func TestSummaryOfClosedShift(t *testing.T) {
	shift := openShift(1000)
	rec := Reconcile(shift, nil, nil)
	closed, err := Close(shift, rec, 1000, "", opened)
	require.NoError(t, err)

	summary := Summary(domain.ActiveShift{Shift: closed}, rec)
	require.NotNil(t, summary.DiscrepancyCents)
	assert.Zero(t, *summary.DiscrepancyCents)
	assert.Equal(t, "0.00", summary.DiscrepancyPercent)
	assert.Equal(t, VarianceNormal, summary.Variance)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
)

const testSupplier = "sup-sumber-rejeki"

func seedReceptionProduct(t *testing.T, f fixture) {
	t.Helper()
	_, err := f.repo.SaveProduct(context.Background(), domain.Product{ID: "p-rcv", StoreID: testStore, Name: "Gula 1kg", Category: "grocery", PriceCents: 400, CostCents: 150, Stock: 7, Active: true})
	require.NoError(t, err)
}

func receptionRequest() domain.PurchaseSaveRequest {
	return domain.PurchaseSaveRequest{
		SupplierID: testSupplier,
		Items: []domain.PurchaseItem{
			{ProductID: "p-rcv", Quantity: 10, CostCents: 200, NewSellPriceCents: 500},
		},
	}
}

func TestPurchaseReceptionRoundTrip(t *testing.T) {
	f := newFixture(t)
	seedReceptionProduct(t, f)
	sess := f.session(t, "t1")
	ctx := adminCtx()

	purchase, err := f.svc.CreatePurchase(ctx, sess, receptionRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusDraft, purchase.Status)
	assert.Equal(t, domain.ReceivedNo, purchase.Received)
	assert.EqualValues(t, 2000, purchase.TotalCents)

	confirmed, err := f.svc.ConfirmPurchase(ctx, sess, purchase.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.Applied)
	assert.Equal(t, domain.PurchaseStatusConfirmed, confirmed.Purchase.Status)

	received, err := f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	assert.True(t, received.Applied)
	assert.Equal(t, domain.PurchaseStatusReceived, received.Purchase.Status)
	assert.Equal(t, domain.ReceivedYes, received.Purchase.Received)

	product, err := f.repo.GetProduct(ctx, testStore, "p-rcv")
	require.NoError(t, err)
	assert.Equal(t, 17, product.Stock)
	assert.EqualValues(t, 500, product.PriceCents)
	assert.EqualValues(t, 200, product.CostCents)

	again, err := f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	assert.False(t, again.Applied)
	product, err = f.repo.GetProduct(ctx, testStore, "p-rcv")
	require.NoError(t, err)
	assert.Equal(t, 17, product.Stock)

	reverted, err := f.svc.RevertReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	assert.True(t, reverted.Applied)
	assert.Equal(t, domain.PurchaseStatusConfirmed, reverted.Purchase.Status)
	assert.Equal(t, domain.ReceivedNo, reverted.Purchase.Received)

	product, err = f.repo.GetProduct(ctx, testStore, "p-rcv")
	require.NoError(t, err)
	assert.Equal(t, 7, product.Stock)
	assert.EqualValues(t, 500, product.PriceCents)

	noop, err := f.svc.RevertReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	assert.False(t, noop.Applied)
	product, err = f.repo.GetProduct(ctx, testStore, "p-rcv")
	require.NoError(t, err)
	assert.Equal(t, 7, product.Stock)
}

func TestPurchaseBonusLinesKeepCost(t *testing.T) {
	f := newFixture(t)
	seedReceptionProduct(t, f)
	sess := f.session(t, "t1")
	ctx := adminCtx()

	purchase, err := f.svc.CreatePurchase(ctx, sess, domain.PurchaseSaveRequest{
		SupplierID: testSupplier,
		Items: []domain.PurchaseItem{
			{ProductID: "p-rcv", Quantity: 2, CostCents: 999, IsBonus: true},
			{ProductID: "pv", VariantID: "v2", Quantity: 4, CostCents: 1200},
		},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4800, purchase.TotalCents)

	_, err = f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.NoError(t, err)

	bonus, err := f.repo.GetProduct(ctx, testStore, "p-rcv")
	require.NoError(t, err)
	assert.Equal(t, 9, bonus.Stock)
	assert.EqualValues(t, 150, bonus.CostCents)

	variant, err := f.repo.GetProduct(ctx, testStore, "pv")
	require.NoError(t, err)
	assert.Equal(t, 7, variant.Variants[1].Stock)
	assert.Equal(t, 12, variant.Stock)
}

func TestReceivedPurchaseIsLocked(t *testing.T) {
	f := newFixture(t)
	seedReceptionProduct(t, f)
	sess := f.session(t, "t1")
	ctx := adminCtx()

	purchase, err := f.svc.CreatePurchase(ctx, sess, receptionRequest())
	require.NoError(t, err)
	_, err = f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.NoError(t, err)

	edit := receptionRequest()
	edit.Items[0].Quantity = 12
	_, err = f.svc.UpdatePurchase(ctx, sess, purchase.ID, edit)
	require.ErrorIs(t, err, ErrPurchaseLocked)

	// a tax change after reception does not lock out note edits
	_, err = f.svc.SaveSettings(ctx, sess, domain.SettingsUpdateRequest{TaxRatePercent: 11})
	require.NoError(t, err)

	notes := receptionRequest()
	notes.Notes = "box 3 dented"
	notes.InvoiceNumber = "INV-0042"
	updated, err := f.svc.UpdatePurchase(ctx, sess, purchase.ID, notes)
	require.NoError(t, err)
	assert.Equal(t, "box 3 dented", updated.Notes)
	assert.Equal(t, "INV-0042", updated.InvoiceNumber)
	assert.EqualValues(t, 2000, updated.TotalCents)
	assert.Equal(t, domain.ReceivedYes, updated.Received)

	_, err = f.svc.RevertReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	edited, err := f.svc.UpdatePurchase(ctx, sess, purchase.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, 12, edited.Items[0].Quantity)
}

func TestPurchasePaidFromDrawer(t *testing.T) {
	f := newFixture(t)
	seedReceptionProduct(t, f)
	sess := f.session(t, "t1")
	ctx := adminCtx()

	req := receptionRequest()
	req.PaymentCondition = domain.PaymentConditionCash
	req.PayFromCash = true
	req.AmountPaidCents = 2000
	purchase, err := f.svc.CreatePurchase(ctx, sess, req)
	require.NoError(t, err)

	_, err = f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.ErrorIs(t, err, ErrNoOpenShift)
	product, err := f.repo.GetProduct(ctx, testStore, "p-rcv")
	require.NoError(t, err)
	assert.Equal(t, 7, product.Stock)

	openShift(t, f.svc, sess, 10000)
	received, err := f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, received.Purchase.CashMovementID)

	summary, err := f.svc.ShiftSummary(ctx, sess, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2000, summary.CashOutCents)
	assert.EqualValues(t, 8000, summary.CashInDrawerCents)

	_, err = f.svc.RevertReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	summary, err = f.svc.ShiftSummary(ctx, sess, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2000, summary.CashInCents)
	assert.EqualValues(t, 10000, summary.CashInDrawerCents)

	// receive again, close the drawer, then revert with no shift to refund into
	_, err = f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.NoError(t, err)
	_, err = f.svc.CloseShift(ctx, sess, domain.ShiftCloseRequest{EndAmountCents: 8000})
	require.NoError(t, err)

	reverted, err := f.svc.RevertReception(ctx, sess, purchase.ID)
	require.ErrorIs(t, err, ErrReconciliationNeeded)
	assert.True(t, reverted.Applied)
	assert.Empty(t, reverted.Purchase.CashMovementID)

	published := f.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, domain.EventCashRefundPending, published[0].Kind)
	assert.Equal(t, purchase.ID, published[0].EntityID)

	pending, err := f.svc.PendingReconciliations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPurchaseValidation(t *testing.T) {
	f := newFixture(t)
	seedReceptionProduct(t, f)
	sess := f.session(t, "t1")

	_, err := f.svc.CreatePurchase(cashierCtx(), sess, receptionRequest())
	require.ErrorIs(t, err, ErrForbidden)

	unknown := receptionRequest()
	unknown.SupplierID = "sup-missing"
	_, err = f.svc.CreatePurchase(adminCtx(), sess, unknown)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	missing := receptionRequest()
	missing.Items[0].ProductID = "nope"
	_, err = f.svc.CreatePurchase(adminCtx(), sess, missing)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	credit := receptionRequest()
	credit.PaymentCondition = domain.PaymentConditionCredit
	credit.PayFromCash = true
	_, err = f.svc.CreatePurchase(adminCtx(), sess, credit)
	require.ErrorIs(t, err, ErrInvalidPayment)

	overpaid := receptionRequest()
	overpaid.AmountPaidCents = 2001
	_, err = f.svc.CreatePurchase(adminCtx(), sess, overpaid)
	require.ErrorIs(t, err, ErrInvalidPayment)

	_, err = f.svc.ListPurchases(adminCtx(), sess, "LOST", 0)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestReceivedPurchaseKeepsFrozenTotals(t *testing.T) {
	f := newFixture(t)
	seedReceptionProduct(t, f)
	sess := f.session(t, "t1")
	ctx := adminCtx()

	_, err := f.svc.SaveSettings(ctx, sess, domain.SettingsUpdateRequest{TaxRatePercent: 10})
	require.NoError(t, err)
	req := receptionRequest()
	req.AmountPaidCents = 2200
	purchase, err := f.svc.CreatePurchase(ctx, sess, req)
	require.NoError(t, err)
	assert.EqualValues(t, 2200, purchase.TotalCents)
	_, err = f.svc.ConfirmReception(ctx, sess, purchase.ID)
	require.NoError(t, err)

	_, err = f.svc.SaveSettings(ctx, sess, domain.SettingsUpdateRequest{TaxRatePercent: 0})
	require.NoError(t, err)
	req.Notes = "paid at the door"
	updated, err := f.svc.UpdatePurchase(ctx, sess, purchase.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "paid at the door", updated.Notes)
	assert.EqualValues(t, 2200, updated.TotalCents)
	assert.EqualValues(t, 200, updated.TaxCents)

	// the catalog is not consulted for paperwork edits
	require.NoError(t, f.svc.DeleteProduct(ctx, sess, "p-rcv"))
	req.InvoiceNumber = "INV-7"
	updated, err = f.svc.UpdatePurchase(ctx, sess, purchase.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "INV-7", updated.InvoiceNumber)

	req.AmountPaidCents = 2000
	_, err = f.svc.UpdatePurchase(ctx, sess, purchase.ID, req)
	require.ErrorIs(t, err, ErrPurchaseLocked)
}

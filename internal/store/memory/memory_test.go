package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
)

func TestSaveTransactionRejectsReusedIdempotencyKey(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	tx := domain.Transaction{
		ID:             "trx-1",
		StoreID:        "main-store",
		IdempotencyKey: "idem-1",
		Items:          []domain.TransactionLine{{ProductID: "air-600", Name: "Air Mineral 600ml", UnitPriceCents: 390000, Quantity: 1}},
		TotalCents:     390000,
	}
	_, err := s.SaveTransaction(ctx, tx)
	require.NoError(t, err)

	tx.ID = "trx-2"
	_, err = s.SaveTransaction(ctx, tx)
	require.ErrorIs(t, err, store.ErrConflict)

	found, err := s.FindTransactionByIdempotency(ctx, "main-store", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "trx-1", found.ID)
}

func TestClosedShiftIsReadOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	shift := domain.CashShift{ID: "shf-1", StoreID: "main-store", TerminalID: "T1", Status: domain.ShiftStatusOpen, StartTime: time.Now().UTC()}
	_, err := s.SaveShift(ctx, shift)
	require.NoError(t, err)

	second := shift
	second.ID = "shf-2"
	_, err = s.SaveShift(ctx, second)
	require.ErrorIs(t, err, store.ErrConflict, "one open shift per terminal")

	second.TerminalID = "T2"
	_, err = s.SaveShift(ctx, second)
	require.NoError(t, err)

	shift.Status = domain.ShiftStatusClosed
	_, err = s.SaveShift(ctx, shift)
	require.NoError(t, err)

	_, err = s.SaveShift(ctx, shift)
	require.ErrorIs(t, err, store.ErrShiftClosed)
	_, err = s.SaveMovement(ctx, domain.CashMovement{ID: "mov-1", StoreID: "main-store", ShiftID: "shf-1", Type: domain.MovementIn, AmountCents: 1000})
	require.ErrorIs(t, err, store.ErrShiftClosed)
}

func TestReceptionSyncIsGuardedByReceivedFlag(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	purchase := domain.Purchase{ID: "pur-1", StoreID: "main-store", Received: domain.ReceivedNo}
	_, err := s.SavePurchase(ctx, purchase)
	require.NoError(t, err)

	product, err := s.GetProduct(ctx, "main-store", "kopi-sachet")
	require.NoError(t, err)
	product.Stock += 50

	received := purchase
	received.Received = domain.ReceivedYes
	_, err = s.ConfirmReceptionAndSyncStock(ctx, received, []domain.Product{*product})
	require.NoError(t, err)

	stored, err := s.GetProduct(ctx, "main-store", "kopi-sachet")
	require.NoError(t, err)
	assert.Equal(t, 250, stored.Stock)

	_, err = s.ConfirmReceptionAndSyncStock(ctx, received, []domain.Product{*product})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.SavePurchase(ctx, purchase)
	require.ErrorIs(t, err, store.ErrConflict, "plain saves cannot flip the received flag")

	_, err = s.RevertReceptionAndSyncStock(ctx, purchase, []domain.Product{{ID: "missing", StoreID: "main-store"}})
	require.ErrorIs(t, err, store.ErrNotFound)
	storedPurchase, err := s.GetPurchase(ctx, "main-store", "pur-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReceivedYes, storedPurchase.Received)
}

func TestClonesDoNotLeakInternalState(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	product, err := s.GetProduct(ctx, "main-store", "kaos-polos")
	require.NoError(t, err)
	product.Variants[0].Stock = 999

	again, err := s.GetProduct(ctx, "main-store", "kaos-polos")
	require.NoError(t, err)
	assert.Equal(t, 12, again.Variants[0].Stock)
	assert.Equal(t, 24, again.Stock)
}

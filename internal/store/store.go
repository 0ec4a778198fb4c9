package store

import (
	"context"
	"errors"
	"time"

	"tillbook/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrConflict is returned when a write races an existing record: a second
	// open shift on a terminal, a reused idempotency key, or a reception that
	// already happened.
	ErrConflict = errors.New("conflict")
	// ErrShiftClosed is returned when a write targets a closed shift.
	ErrShiftClosed = errors.New("shift is closed")
)

// Repository is scoped by store id on every call. Writes are upserts keyed
// by record id unless stated otherwise.
type Repository interface {
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, storeID string, id string) (*domain.Product, error)
	SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SaveProducts(ctx context.Context, storeID string, products []domain.Product) error
	DeleteProduct(ctx context.Context, storeID string, id string) error

	ListTransactions(ctx context.Context, storeID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, storeID string, key string) (*domain.Transaction, error)
	// SaveTransaction inserts a transaction. Transactions are immutable except
	// for the stock sync flag.
	SaveTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	MarkStockSynced(ctx context.Context, storeID string, transactionID string) error

	ListShifts(ctx context.Context, storeID string) ([]domain.CashShift, error)
	GetShift(ctx context.Context, storeID string, id string) (*domain.CashShift, error)
	// SaveShift rejects overwriting a closed shift with ErrShiftClosed.
	SaveShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error)

	ListMovements(ctx context.Context, storeID string, shiftID string) ([]domain.CashMovement, error)
	SaveMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)

	ListPurchases(ctx context.Context, storeID string, status string, limit int) ([]domain.Purchase, error)
	GetPurchase(ctx context.Context, storeID string, id string) (*domain.Purchase, error)
	SavePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	// ConfirmReceptionAndSyncStock persists a received purchase together with
	// its product changes. It fails with ErrConflict when the stored
	// purchase is already received, so stock is never applied twice.
	ConfirmReceptionAndSyncStock(ctx context.Context, purchase domain.Purchase, products []domain.Product) (*domain.Purchase, error)
	// RevertReceptionAndSyncStock is the inverse and requires a received purchase.
	RevertReceptionAndSyncStock(ctx context.Context, purchase domain.Purchase, products []domain.Product) (*domain.Purchase, error)

	GetSettings(ctx context.Context, storeID string) (*domain.StoreSettings, error)
	SaveSettings(ctx context.Context, settings domain.StoreSettings) (*domain.StoreSettings, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, storeID string) ([]domain.Supplier, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// DefaultSettings is what a store gets before anyone saves settings.
func DefaultSettings(storeID string) domain.StoreSettings {
	return domain.StoreSettings{
		StoreID:        storeID,
		StoreName:      storeID,
		Currency:       "IDR",
		TaxRatePercent: 0,
	}
}

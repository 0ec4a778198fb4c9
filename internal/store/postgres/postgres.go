package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, store_id, name, category, price_cents, cost_cents, stock, has_variants, variants, is_pack, pack_items, active, updated_at`

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	var variants, packItems []byte
	if err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Category, &p.PriceCents, &p.CostCents, &p.Stock, &p.HasVariants, &variants, &p.IsPack, &packItems, &p.Active, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	if err := decodeJSON(variants, &p.Variants); err != nil {
		return domain.Product{}, err
	}
	if err := decodeJSON(packItems, &p.PackItems); err != nil {
		return domain.Product{}, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1
		ORDER BY category, name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, storeID string, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1 AND id = $2
	`, storeID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	if err := upsertProduct(ctx, s.db, product); err != nil {
		return nil, err
	}
	saved := product.Clone()
	return &saved, nil
}

func (s *Store) SaveProducts(ctx context.Context, storeID string, products []domain.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, p := range products {
		if p.ID == "" {
			return store.ErrInvalidTransaction
		}
		p.StoreID = storeID
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		if err := upsertProduct(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertProduct(ctx context.Context, db execer, p domain.Product) error {
	variants, err := encodeJSON(p.Variants)
	if err != nil {
		return err
	}
	packItems, err := encodeJSON(p.PackItems)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (store_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price_cents = EXCLUDED.price_cents,
			cost_cents = EXCLUDED.cost_cents,
			stock = EXCLUDED.stock,
			has_variants = EXCLUDED.has_variants,
			variants = EXCLUDED.variants,
			is_pack = EXCLUDED.is_pack,
			pack_items = EXCLUDED.pack_items,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.StoreID, p.Name, p.Category, p.PriceCents, p.CostCents, p.Stock, p.HasVariants, variants, p.IsPack, packItems, p.Active, p.UpdatedAt)
	return err
}

func (s *Store) DeleteProduct(ctx context.Context, storeID string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE store_id = $1 AND id = $2`, storeID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

const transactionColumns = `id, store_id, terminal_id, shift_id, idempotency_key, items, subtotal_cents, discount_cents, tax_cents, total_cents,
	tax_rate_percent, prices_include_tax, payment_method, payments, cash_received_cents, change_cents, stock_synced, created_at`

func scanTransaction(row scanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var items, payments []byte
	var method string
	if err := row.Scan(
		&tx.ID, &tx.StoreID, &tx.TerminalID, &tx.ShiftID, &tx.IdempotencyKey, &items,
		&tx.SubtotalCents, &tx.DiscountCents, &tx.TaxCents, &tx.TotalCents,
		&tx.TaxRatePercent, &tx.PricesIncludeTax, &method, &payments,
		&tx.CashReceivedCents, &tx.ChangeCents, &tx.StockSynced, &tx.CreatedAt,
	); err != nil {
		return domain.Transaction{}, err
	}
	if err := decodeJSON(items, &tx.Items); err != nil {
		return domain.Transaction{}, err
	}
	if err := decodeJSON(payments, &tx.Payments); err != nil {
		return domain.Transaction{}, err
	}
	tx.PaymentMethod = domain.PaymentMethod(method)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, storeID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE store_id = $1`
	args := []any{storeID}
	if filter.ShiftID != "" {
		args = append(args, filter.ShiftID)
		query += fmt.Sprintf(" AND shift_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, storeID string, key string) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE store_id = $1 AND idempotency_key = $2
	`, storeID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *Store) SaveTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" || tx.StoreID == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	items, err := encodeJSON(tx.Items)
	if err != nil {
		return nil, err
	}
	payments, err := encodeJSON(tx.Payments)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, tx.ID, tx.StoreID, tx.TerminalID, tx.ShiftID, tx.IdempotencyKey, items,
		tx.SubtotalCents, tx.DiscountCents, tx.TaxCents, tx.TotalCents,
		tx.TaxRatePercent, tx.PricesIncludeTax, string(tx.PaymentMethod), payments,
		tx.CashReceivedCents, tx.ChangeCents, tx.StockSynced, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := tx.Clone()
	return &saved, nil
}

func (s *Store) MarkStockSynced(ctx context.Context, storeID string, transactionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET stock_synced = true
		WHERE store_id = $1 AND id = $2
	`, storeID, transactionID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

const shiftColumns = `id, store_id, terminal_id, cashier_name, status, start_time, start_amount_cents, end_time, end_amount_cents,
	total_sales_cash_cents, total_sales_digital_cents, expected_cash_cents, discrepancy_cents, variance, notes`

func scanShift(row scanner) (domain.CashShift, error) {
	var shift domain.CashShift
	var endTime sql.NullTime
	if err := row.Scan(
		&shift.ID, &shift.StoreID, &shift.TerminalID, &shift.CashierName, &shift.Status, &shift.StartTime, &shift.StartAmountCents,
		&endTime, &shift.EndAmountCents, &shift.TotalSalesCashCents, &shift.TotalSalesDigitalCents,
		&shift.ExpectedCashCents, &shift.DiscrepancyCents, &shift.Variance, &shift.Notes,
	); err != nil {
		return domain.CashShift{}, err
	}
	shift.StartTime = shift.StartTime.UTC()
	if endTime.Valid {
		end := endTime.Time.UTC()
		shift.EndTime = &end
	}
	return shift, nil
}

func (s *Store) ListShifts(ctx context.Context, storeID string) ([]domain.CashShift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM cash_shifts
		WHERE store_id = $1
		ORDER BY start_time DESC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.CashShift, 0, 32)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shifts, nil
}

func (s *Store) GetShift(ctx context.Context, storeID string, id string) (*domain.CashShift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM cash_shifts
		WHERE store_id = $1 AND id = $2
	`, storeID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) SaveShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	if shift.ID == "" || shift.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM cash_shifts WHERE id = $1 FOR UPDATE`, shift.ID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	case status == domain.ShiftStatusClosed:
		return nil, store.ErrShiftClosed
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			end_amount_cents = EXCLUDED.end_amount_cents,
			total_sales_cash_cents = EXCLUDED.total_sales_cash_cents,
			total_sales_digital_cents = EXCLUDED.total_sales_digital_cents,
			expected_cash_cents = EXCLUDED.expected_cash_cents,
			discrepancy_cents = EXCLUDED.discrepancy_cents,
			variance = EXCLUDED.variance,
			notes = EXCLUDED.notes
	`, shift.ID, shift.StoreID, shift.TerminalID, shift.CashierName, shift.Status, shift.StartTime, shift.StartAmountCents,
		nullTime(shift.EndTime), shift.EndAmountCents, shift.TotalSalesCashCents, shift.TotalSalesDigitalCents,
		shift.ExpectedCashCents, shift.DiscrepancyCents, shift.Variance, shift.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	saved := shift
	return &saved, nil
}

func (s *Store) ListMovements(ctx context.Context, storeID string, shiftID string) ([]domain.CashMovement, error) {
	query := `
		SELECT id, store_id, shift_id, type, amount_cents, description, created_at
		FROM cash_movements
		WHERE store_id = $1`
	args := []any{storeID}
	if shiftID != "" {
		args = append(args, shiftID)
		query += ` AND shift_id = $2`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 16)
	for rows.Next() {
		var m domain.CashMovement
		if err := rows.Scan(&m.ID, &m.StoreID, &m.ShiftID, &m.Type, &m.AmountCents, &m.Description, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) SaveMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if movement.ID == "" || movement.StoreID == "" || movement.ShiftID == "" || movement.AmountCents < 0 {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM cash_shifts WHERE store_id = $1 AND id = $2 FOR SHARE`, movement.StoreID, movement.ShiftID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// the shift may not be readable yet; the movement still belongs to it
	case err != nil:
		return nil, err
	case status == domain.ShiftStatusClosed:
		return nil, store.ErrShiftClosed
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_movements (id, store_id, shift_id, type, amount_cents, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, movement.ID, movement.StoreID, movement.ShiftID, movement.Type, movement.AmountCents, movement.Description, movement.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &movement, nil
}

const purchaseColumns = `id, store_id, reference, date, supplier_id, invoice_number, items, subtotal_cents, tax_cents, total_cents,
	amount_paid_cents, payment_condition, payment_method, pay_from_cash, tax_included, status, received, received_at,
	cash_movement_id, notes, created_at, updated_at`

func scanPurchase(row scanner) (domain.Purchase, error) {
	var p domain.Purchase
	var items []byte
	var invoice, method, movementID, notes sql.NullString
	var receivedAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.StoreID, &p.Reference, &p.Date, &p.SupplierID, &invoice, &items,
		&p.SubtotalCents, &p.TaxCents, &p.TotalCents, &p.AmountPaidCents, &p.PaymentCondition, &method,
		&p.PayFromCash, &p.TaxIncluded, &p.Status, &p.Received, &receivedAt, &movementID, &notes,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Purchase{}, err
	}
	if err := decodeJSON(items, &p.Items); err != nil {
		return domain.Purchase{}, err
	}
	p.InvoiceNumber = invoice.String
	p.PaymentMethod = domain.PaymentMethod(method.String)
	p.CashMovementID = movementID.String
	p.Notes = notes.String
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		p.ReceivedAt = &at
	}
	p.Date = p.Date.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListPurchases(ctx context.Context, storeID string, status string, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE store_id = $1
			AND ($2 = '' OR status = $2)
		ORDER BY date DESC, id DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) GetPurchase(ctx context.Context, storeID string, id string) (*domain.Purchase, error) {
	p, err := scanPurchase(s.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE store_id = $1 AND id = $2
	`, storeID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.ID == "" || purchase.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockReceived(ctx, tx, purchase.StoreID, purchase.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err == nil && current != receivedOrNo(purchase.Received) {
		return nil, store.ErrConflict
	}
	if err := upsertPurchase(ctx, tx, purchase); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	saved := purchase.Clone()
	return &saved, nil
}

func (s *Store) ConfirmReceptionAndSyncStock(ctx context.Context, purchase domain.Purchase, products []domain.Product) (*domain.Purchase, error) {
	return s.syncReception(ctx, purchase, products, domain.ReceivedNo)
}

func (s *Store) RevertReceptionAndSyncStock(ctx context.Context, purchase domain.Purchase, products []domain.Product) (*domain.Purchase, error) {
	return s.syncReception(ctx, purchase, products, domain.ReceivedYes)
}

// syncReception locks the purchase row, checks it is still in the expected
// received state and writes the purchase with its products in one
// serializable transaction.
func (s *Store) syncReception(ctx context.Context, purchase domain.Purchase, products []domain.Product, want string) (*domain.Purchase, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockReceived(ctx, tx, purchase.StoreID, purchase.ID)
	if err != nil {
		return nil, err
	}
	if current != want {
		return nil, store.ErrConflict
	}

	for _, p := range products {
		variants, err := encodeJSON(p.Variants)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET price_cents = $3, cost_cents = $4, stock = $5, variants = $6, updated_at = $7
			WHERE store_id = $1 AND id = $2
		`, purchase.StoreID, p.ID, p.PriceCents, p.CostCents, p.Stock, variants, p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := expectAffected(res); err != nil {
			return nil, fmt.Errorf("%w: product %s", err, p.ID)
		}
	}
	if err := upsertPurchase(ctx, tx, purchase); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	saved := purchase.Clone()
	return &saved, nil
}

func lockReceived(ctx context.Context, tx *sql.Tx, storeID string, id string) (string, error) {
	var received string
	err := tx.QueryRowContext(ctx, `
		SELECT received FROM purchases
		WHERE store_id = $1 AND id = $2
		FOR UPDATE
	`, storeID, id).Scan(&received)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return receivedOrNo(received), nil
}

func receivedOrNo(received string) string {
	if received == "" {
		return domain.ReceivedNo
	}
	return received
}

func upsertPurchase(ctx context.Context, tx *sql.Tx, p domain.Purchase) error {
	items, err := encodeJSON(p.Items)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (id) DO UPDATE SET
			reference = EXCLUDED.reference,
			date = EXCLUDED.date,
			supplier_id = EXCLUDED.supplier_id,
			invoice_number = EXCLUDED.invoice_number,
			items = EXCLUDED.items,
			subtotal_cents = EXCLUDED.subtotal_cents,
			tax_cents = EXCLUDED.tax_cents,
			total_cents = EXCLUDED.total_cents,
			amount_paid_cents = EXCLUDED.amount_paid_cents,
			payment_condition = EXCLUDED.payment_condition,
			payment_method = EXCLUDED.payment_method,
			pay_from_cash = EXCLUDED.pay_from_cash,
			tax_included = EXCLUDED.tax_included,
			status = EXCLUDED.status,
			received = EXCLUDED.received,
			received_at = EXCLUDED.received_at,
			cash_movement_id = EXCLUDED.cash_movement_id,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.StoreID, p.Reference, p.Date, p.SupplierID, nullIfEmpty(p.InvoiceNumber), items,
		p.SubtotalCents, p.TaxCents, p.TotalCents, p.AmountPaidCents, p.PaymentCondition, nullIfEmpty(string(p.PaymentMethod)),
		p.PayFromCash, p.TaxIncluded, p.Status, receivedOrNo(p.Received), nullTime(p.ReceivedAt),
		nullIfEmpty(p.CashMovementID), nullIfEmpty(p.Notes), p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) GetSettings(ctx context.Context, storeID string) (*domain.StoreSettings, error) {
	var settings domain.StoreSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, store_name, currency, tax_rate_percent, prices_include_tax, allow_negative_stock, updated_at
		FROM store_settings
		WHERE store_id = $1
	`, storeID).Scan(&settings.StoreID, &settings.StoreName, &settings.Currency, &settings.TaxRatePercent, &settings.PricesIncludeTax, &settings.AllowNegativeStock, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			defaults := store.DefaultSettings(storeID)
			return &defaults, nil
		}
		return nil, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.StoreSettings) (*domain.StoreSettings, error) {
	if settings.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_settings (store_id, store_name, currency, tax_rate_percent, prices_include_tax, allow_negative_stock, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (store_id) DO UPDATE SET
			store_name = EXCLUDED.store_name,
			currency = EXCLUDED.currency,
			tax_rate_percent = EXCLUDED.tax_rate_percent,
			prices_include_tax = EXCLUDED.prices_include_tax,
			allow_negative_stock = EXCLUDED.allow_negative_stock,
			updated_at = EXCLUDED.updated_at
	`, settings.StoreID, settings.StoreName, settings.Currency, settings.TaxRatePercent, settings.PricesIncludeTax, settings.AllowNegativeStock, settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" || supplier.StoreID == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, store_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.StoreID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context, storeID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, name, phone, created_at
		FROM suppliers
		WHERE store_id = $1
		ORDER BY name ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sup domain.Supplier
		var phone sql.NullString
		if err := rows.Scan(&sup.ID, &sup.StoreID, &sup.Name, &phone, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.Phone = phone.String
		sup.CreatedAt = sup.CreatedAt.UTC()
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return []byte("[]"), nil
	}
	return raw, nil
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
	"tillbook/backend/internal/session"
	"tillbook/backend/internal/stock"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

// Checkout records a sale against the session's open shift and then takes
// the sold units out of stock. The two writes are not atomic: when the stock
// write fails the saved transaction is returned with a *ReconciliationError.
func (s *Service) Checkout(ctx context.Context, sess *session.Session, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if err := validate(req); err != nil {
		return domain.CheckoutResponse{}, err
	}

	active, err := s.activeShift(ctx, sess)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if active == nil {
		return domain.CheckoutResponse{}, ErrNoOpenShift
	}
	storeID := sess.StoreID()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if existing, err := s.repo.FindTransactionByIdempotency(ctx, storeID, req.IdempotencyKey); err == nil {
		return domain.CheckoutResponse{Transaction: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, err
	}

	settings, err := s.repo.GetSettings(ctx, storeID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	lines, err := buildLines(products, req.Items)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	deltas := stock.SaleDeltas(lines)
	if !settings.AllowNegativeStock {
		if shortages := stock.Shortages(products, deltas); len(shortages) > 0 {
			sh := shortages[0]
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, describeItem(sh.ProductID, sh.VariantID), sh.Available, sh.Requested)
		}
	}

	totals := money.Calculate(moneyLines(lines), money.TaxConfig{RatePercent: settings.TaxRatePercent, PricesIncludeTax: settings.PricesIncludeTax})

	tenders, err := tendersFor(req, totals.TotalCents)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	settlement, err := money.Settle(totals.TotalCents, tenders)
	if err != nil {
		if errors.Is(err, money.ErrChangeWithoutCash) {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: %w", ErrInvalidPayment, err)
		}
		return domain.CheckoutResponse{}, err
	}

	tx := domain.Transaction{
		ID:                xid.New("tx"),
		StoreID:           storeID,
		TerminalID:        sess.TerminalID(),
		ShiftID:           active.Shift.ID,
		IdempotencyKey:    req.IdempotencyKey,
		Items:             lines,
		SubtotalCents:     totals.SubtotalCents,
		DiscountCents:     totals.DiscountCents,
		TaxCents:          totals.TaxCents,
		TotalCents:        totals.TotalCents,
		TaxRatePercent:    settings.TaxRatePercent,
		PricesIncludeTax:  settings.PricesIncludeTax,
		PaymentMethod:     money.SummaryMethod(settlement.Payments),
		Payments:          settlement.Payments,
		CashReceivedCents: settlement.CashReceivedCents,
		ChangeCents:       settlement.ChangeCents,
		CreatedAt:         s.now(),
	}
	saved, err := s.repo.SaveTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if existing, ferr := s.repo.FindTransactionByIdempotency(ctx, storeID, req.IdempotencyKey); ferr == nil {
				return domain.CheckoutResponse{Transaction: *existing, Duplicate: true}, nil
			}
		}
		return domain.CheckoutResponse{}, err
	}

	s.logAudit(ctx, storeID, "checkout", "transaction", saved.ID, fmt.Sprintf("shift=%s,total=%s,method=%s,items=%d", saved.ShiftID, money.Format(saved.TotalCents), saved.PaymentMethod, len(saved.Items)))

	resp := domain.CheckoutResponse{Transaction: *saved}
	if err := s.syncSaleStock(ctx, storeID, products, deltas); err != nil {
		return resp, s.reconcile(ctx, domain.EventStockSyncFailed, storeID, "transaction", saved.ID,
			fmt.Sprintf("sale of %d lines recorded, stock not decremented", len(saved.Items)), err)
	}
	if err := s.repo.MarkStockSynced(ctx, storeID, saved.ID); err != nil {
		log.Warn().Str("component", "service").Err(err).Str("transaction_id", saved.ID).Msg("failed to flag transaction stock as synced")
	} else {
		resp.Transaction.StockSynced = true
	}
	return resp, nil
}

func (s *Service) syncSaleStock(ctx context.Context, storeID string, products []domain.Product, deltas []stock.Delta) error {
	updated, err := stock.Apply(products, deltas, stock.Arithmetic)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range updated {
		updated[i].UpdatedAt = now
	}
	return s.repo.SaveProducts(ctx, storeID, updated)
}

// PreviewTotals prices a cart under the store's tax settings without
// recording anything.
func (s *Service) PreviewTotals(ctx context.Context, sess *session.Session, req domain.TotalsRequest) (domain.TotalsResponse, error) {
	storeID, err := scope(sess)
	if err != nil {
		return domain.TotalsResponse{}, err
	}
	if err := validate(req); err != nil {
		return domain.TotalsResponse{}, err
	}

	settings, err := s.repo.GetSettings(ctx, storeID)
	if err != nil {
		return domain.TotalsResponse{}, err
	}
	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return domain.TotalsResponse{}, err
	}
	lines, err := buildLines(products, req.Items)
	if err != nil {
		return domain.TotalsResponse{}, err
	}

	totals := money.Calculate(moneyLines(lines), money.TaxConfig{RatePercent: settings.TaxRatePercent, PricesIncludeTax: settings.PricesIncludeTax})
	resp := domain.TotalsResponse{
		GrossCents:    totals.GrossCents,
		DiscountCents: totals.DiscountCents,
		SubtotalCents: totals.SubtotalCents,
		TaxCents:      totals.TaxCents,
		TotalCents:    totals.TotalCents,
	}
	resp.Display.Subtotal = money.Format(totals.SubtotalCents)
	resp.Display.Tax = money.Format(totals.TaxCents)
	resp.Display.Total = money.Format(totals.TotalCents)
	return resp, nil
}

func (s *Service) ListTransactions(ctx context.Context, sess *session.Session, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: to is before from", store.ErrInvalidTransaction)
	}
	return s.repo.ListTransactions(ctx, storeID, filter)
}

// buildLines freezes the product snapshot of each cart item.
func buildLines(products []domain.Product, items []domain.CartItem) ([]domain.TransactionLine, error) {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]domain.TransactionLine, 0, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		product, ok := byID[item.ProductID]
		if !ok || !product.Active {
			return nil, fmt.Errorf("%w: unknown product %s", store.ErrInvalidTransaction, item.ProductID)
		}
		line := domain.TransactionLine{
			ProductID:     product.ID,
			Name:          product.Name,
			Quantity:      item.Quantity,
			DiscountCents: item.DiscountCents,
		}
		switch {
		case product.HasVariants:
			idx := product.Variant(item.VariantID)
			if idx < 0 {
				return nil, fmt.Errorf("%w: %s needs a valid variant", store.ErrInvalidTransaction, product.ID)
			}
			line.VariantID = item.VariantID
			line.VariantName = product.Variants[idx].Name
		case item.VariantID != "":
			return nil, fmt.Errorf("%w: %s has no variants", store.ErrInvalidTransaction, product.ID)
		}
		line.UnitPriceCents = product.UnitPrice(line.VariantID)
		if line.DiscountCents > line.UnitPriceCents {
			return nil, fmt.Errorf("%w: discount exceeds unit price of %s", store.ErrInvalidTransaction, product.ID)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func moneyLines(lines []domain.TransactionLine) []money.Line {
	out := make([]money.Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, money.Line{PriceCents: line.UnitPriceCents, Quantity: line.Quantity, DiscountCents: line.DiscountCents})
	}
	return out
}

// tendersFor turns the request into tender lines. Without a breakdown the
// request is a single tender: cash uses the amount received, other methods
// default to the exact total.
func tendersFor(req domain.CheckoutRequest, totalCents int64) ([]domain.PaymentDetail, error) {
	if len(req.Payments) > 0 {
		tenders := make([]domain.PaymentDetail, 0, len(req.Payments))
		for _, p := range req.Payments {
			method, ok := domain.ParsePaymentMethod(p.Method)
			if !ok {
				return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidPayment, p.Method)
			}
			tenders = append(tenders, domain.PaymentDetail{Method: method, AmountCents: p.AmountCents})
		}
		return tenders, nil
	}

	raw := req.PaymentMethod
	if strings.TrimSpace(raw) == "" {
		raw = string(domain.PaymentCash)
	}
	method, ok := domain.ParsePaymentMethod(raw)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidPayment, raw)
	}
	amount := req.CashReceivedCents
	if !method.IsCash() && amount == 0 {
		amount = totalCents
	}
	return []domain.PaymentDetail{{Method: method, AmountCents: amount}}, nil
}

func describeItem(productID string, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + "/" + variantID
}

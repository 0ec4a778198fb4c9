package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
	"tillbook/backend/internal/purchasing"
	"tillbook/backend/internal/session"
	"tillbook/backend/internal/stock"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

func (s *Service) CreatePurchase(ctx context.Context, sess *session.Session, req domain.PurchaseSaveRequest) (domain.Purchase, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Purchase{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.Purchase{}, err
	}

	now := s.now()
	purchase := domain.Purchase{
		ID:        xid.New("pur"),
		StoreID:   storeID,
		Status:    domain.PurchaseStatusDraft,
		Received:  domain.ReceivedNo,
		CreatedAt: now,
	}
	purchase, err = s.applyPurchaseRequest(ctx, purchase, req)
	if err != nil {
		return domain.Purchase{}, err
	}
	if purchase.Reference == "" {
		purchase.Reference = strings.ToUpper(purchase.ID)
	}

	saved, err := s.repo.SavePurchase(ctx, purchase)
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, storeID, "purchase_create", "purchase", saved.ID, fmt.Sprintf("supplier=%s,items=%d,total=%s", saved.SupplierID, len(saved.Items), money.Format(saved.TotalCents)))
	return *saved, nil
}

// UpdatePurchase replaces the editable fields of a purchase. Once received,
// only notes, invoice number and reference may change.
func (s *Service) UpdatePurchase(ctx context.Context, sess *session.Session, id string, req domain.PurchaseSaveRequest) (domain.Purchase, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Purchase{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.Purchase{}, err
	}

	existing, err := s.repo.GetPurchase(ctx, storeID, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}
	var next domain.Purchase
	if purchasing.IsReceived(*existing) {
		next, err = s.applyReceivedEdit(*existing, req)
	} else {
		next, err = s.applyPurchaseRequest(ctx, existing.Clone(), req)
	}
	if err != nil {
		return domain.Purchase{}, err
	}
	if next.Reference == "" {
		next.Reference = existing.Reference
	}

	saved, err := s.repo.SavePurchase(ctx, next)
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, storeID, "purchase_update", "purchase", saved.ID, fmt.Sprintf("items=%d,total=%s", len(saved.Items), money.Format(saved.TotalCents)))
	return *saved, nil
}

// applyReceivedEdit copies the paperwork fields of req onto a received
// purchase. Totals stay frozen at the tax rate it was received under and the
// catalog is not consulted; any other change is rejected by GuardEdit.
func (s *Service) applyReceivedEdit(existing domain.Purchase, req domain.PurchaseSaveRequest) (domain.Purchase, error) {
	terms, err := purchaseTermsOf(&req)
	if err != nil {
		return domain.Purchase{}, err
	}

	next := existing.Clone()
	next.SupplierID = req.SupplierID
	next.Items = append([]domain.PurchaseItem(nil), req.Items...)
	next.AmountPaidCents = req.AmountPaidCents
	next.PaymentCondition = terms.condition
	next.PaymentMethod = terms.method
	next.PayFromCash = req.PayFromCash
	next.TaxIncluded = req.TaxIncluded
	if err := purchasing.GuardEdit(existing, next); err != nil {
		return domain.Purchase{}, err
	}

	next.Reference = strings.TrimSpace(req.Reference)
	next.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	next.Notes = strings.TrimSpace(req.Notes)
	next.UpdatedAt = s.now()
	return next, nil
}

type purchaseTerms struct {
	condition string
	method    domain.PaymentMethod
}

// purchaseTermsOf normalizes and validates req in place and resolves its
// payment condition and method.
func purchaseTermsOf(req *domain.PurchaseSaveRequest) (purchaseTerms, error) {
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.PaymentCondition = strings.ToUpper(strings.TrimSpace(req.PaymentCondition))
	if err := validate(*req); err != nil {
		return purchaseTerms{}, err
	}

	terms := purchaseTerms{condition: req.PaymentCondition}
	if terms.condition == "" {
		terms.condition = domain.PaymentConditionCash
	}
	if raw := strings.TrimSpace(req.PaymentMethod); raw != "" {
		parsed, ok := domain.ParsePaymentMethod(raw)
		if !ok {
			return purchaseTerms{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidPayment, raw)
		}
		terms.method = parsed
	} else if terms.condition == domain.PaymentConditionCash {
		terms.method = domain.PaymentCash
	}
	if req.PayFromCash && (terms.condition != domain.PaymentConditionCash || !terms.method.IsCash()) {
		return purchaseTerms{}, fmt.Errorf("%w: only cash CONTADO purchases can be paid from the drawer", ErrInvalidPayment)
	}
	return terms, nil
}

// applyPurchaseRequest validates req against the catalog and copies it onto p
// with recomputed totals.
func (s *Service) applyPurchaseRequest(ctx context.Context, p domain.Purchase, req domain.PurchaseSaveRequest) (domain.Purchase, error) {
	terms, err := purchaseTermsOf(&req)
	if err != nil {
		return domain.Purchase{}, err
	}

	suppliers, err := s.repo.ListSuppliers(ctx, p.StoreID)
	if err != nil {
		return domain.Purchase{}, err
	}
	known := false
	for _, sup := range suppliers {
		if sup.ID == req.SupplierID {
			known = true
			break
		}
	}
	if !known {
		return domain.Purchase{}, fmt.Errorf("%w: unknown supplier %s", store.ErrInvalidTransaction, req.SupplierID)
	}

	products, err := s.repo.ListProducts(ctx, p.StoreID)
	if err != nil {
		return domain.Purchase{}, err
	}
	// a dry run catches unknown products and variants before anything is saved
	if _, err := stock.Apply(products, stock.ReceptionDeltas(req.Items, 1), stock.Arithmetic); err != nil {
		return domain.Purchase{}, fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
	}

	settings, err := s.repo.GetSettings(ctx, p.StoreID)
	if err != nil {
		return domain.Purchase{}, err
	}
	totals := purchasing.Totals(req.Items, settings.TaxRatePercent, req.TaxIncluded)
	if req.AmountPaidCents > totals.TotalCents {
		return domain.Purchase{}, fmt.Errorf("%w: paid %s exceeds total %s", ErrInvalidPayment, money.Format(req.AmountPaidCents), money.Format(totals.TotalCents))
	}

	p.Reference = strings.TrimSpace(req.Reference)
	if req.Date != nil {
		p.Date = req.Date.UTC()
	} else if p.Date.IsZero() {
		p.Date = s.now()
	}
	p.SupplierID = req.SupplierID
	p.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	p.Items = append([]domain.PurchaseItem(nil), req.Items...)
	p.SubtotalCents = totals.SubtotalCents
	p.TaxCents = totals.TaxCents
	p.TotalCents = totals.TotalCents
	p.AmountPaidCents = req.AmountPaidCents
	p.PaymentCondition = terms.condition
	p.PaymentMethod = terms.method
	p.PayFromCash = req.PayFromCash
	p.TaxIncluded = req.TaxIncluded
	p.Notes = strings.TrimSpace(req.Notes)
	p.UpdatedAt = s.now()
	return p, nil
}

func (s *Service) ConfirmPurchase(ctx context.Context, sess *session.Session, id string) (domain.PurchaseResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PurchaseResponse{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	existing, err := s.repo.GetPurchase(ctx, storeID, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	confirmed, changed := purchasing.Confirm(*existing, s.now())
	if !changed {
		return domain.PurchaseResponse{Purchase: *existing}, nil
	}
	saved, err := s.repo.SavePurchase(ctx, confirmed)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, storeID, "purchase_confirm", "purchase", saved.ID, saved.Reference)
	return domain.PurchaseResponse{Purchase: *saved, Applied: true}, nil
}

// ConfirmReception adds the purchase to stock. A purchase paid from the
// drawer also takes its amount out of the active shift.
func (s *Service) ConfirmReception(ctx context.Context, sess *session.Session, id string) (domain.PurchaseResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PurchaseResponse{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	existing, err := s.repo.GetPurchase(ctx, storeID, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	if purchasing.IsReceived(*existing) {
		return domain.PurchaseResponse{Purchase: *existing}, nil
	}

	var shift *domain.ActiveShift
	if paysFromDrawer(*existing) {
		shift, err = s.activeShift(ctx, sess)
		if err != nil {
			return domain.PurchaseResponse{}, err
		}
		if shift == nil {
			return domain.PurchaseResponse{}, fmt.Errorf("%w: purchase is paid from the drawer", ErrNoOpenShift)
		}
	}

	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	now := s.now()
	reception, err := purchasing.ConfirmReception(*existing, products, now)
	if err != nil {
		return domain.PurchaseResponse{}, fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
	}
	var movement domain.CashMovement
	if shift != nil {
		movement = domain.CashMovement{
			ID:          xid.New("mov"),
			StoreID:     storeID,
			ShiftID:     shift.Shift.ID,
			Type:        domain.MovementOut,
			AmountCents: existing.AmountPaidCents,
			Description: "purchase " + existing.Reference,
			CreatedAt:   now,
		}
		reception.Purchase.CashMovementID = movement.ID
	}

	saved, err := s.repo.ConfirmReceptionAndSyncStock(ctx, reception.Purchase, reception.Products)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.currentPurchase(ctx, storeID, existing.ID)
		}
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, storeID, "purchase_receive", "purchase", saved.ID, fmt.Sprintf("items=%d,products=%d", len(saved.Items), len(reception.Products)))

	resp := domain.PurchaseResponse{Purchase: *saved, Applied: true}
	if shift != nil {
		if _, err := s.repo.SaveMovement(ctx, movement); err != nil {
			return resp, s.reconcile(ctx, domain.EventCashPaymentFailed, storeID, "purchase", saved.ID,
				fmt.Sprintf("drawer payment %s on shift %s not recorded", money.Format(movement.AmountCents), movement.ShiftID), err)
		}
	}
	return resp, nil
}

// RevertReception takes a received purchase back out of stock. Money paid
// from the drawer goes back into the open shift; without one the refund is
// left for an operator.
func (s *Service) RevertReception(ctx context.Context, sess *session.Session, id string) (domain.PurchaseResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PurchaseResponse{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	existing, err := s.repo.GetPurchase(ctx, storeID, strings.TrimSpace(id))
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	if !purchasing.IsReceived(*existing) {
		return domain.PurchaseResponse{Purchase: *existing}, nil
	}

	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	now := s.now()
	reception, err := purchasing.RevertReception(*existing, products, now)
	if err != nil {
		return domain.PurchaseResponse{}, fmt.Errorf("%w: %w", store.ErrInvalidTransaction, err)
	}
	paidFromDrawer := existing.CashMovementID != ""
	reception.Purchase.CashMovementID = ""

	saved, err := s.repo.RevertReceptionAndSyncStock(ctx, reception.Purchase, reception.Products)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.currentPurchase(ctx, storeID, existing.ID)
		}
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, storeID, "purchase_revert", "purchase", saved.ID, fmt.Sprintf("items=%d,products=%d", len(saved.Items), len(reception.Products)))

	resp := domain.PurchaseResponse{Purchase: *saved, Applied: true}
	if !paidFromDrawer {
		return resp, nil
	}

	refund := existing.AmountPaidCents
	shift, err := s.activeShift(ctx, sess)
	if err == nil && shift == nil {
		err = ErrNoOpenShift
	}
	if err == nil {
		_, err = s.repo.SaveMovement(ctx, domain.CashMovement{
			ID:          xid.New("mov"),
			StoreID:     storeID,
			ShiftID:     shift.Shift.ID,
			Type:        domain.MovementIn,
			AmountCents: refund,
			Description: "purchase " + existing.Reference + " reverted",
			CreatedAt:   now,
		})
	}
	if err != nil {
		log.Warn().Str("component", "service").Err(err).Str("purchase_id", saved.ID).Msg("reverted purchase refund not returned to a drawer")
		return resp, s.reconcile(ctx, domain.EventCashRefundPending, storeID, "purchase", saved.ID,
			fmt.Sprintf("refund %s paid from drawer movement %s", money.Format(refund), existing.CashMovementID), err)
	}
	return resp, nil
}

func (s *Service) ListPurchases(ctx context.Context, sess *session.Session, status string, limit int) ([]domain.Purchase, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "", domain.PurchaseStatusDraft, domain.PurchaseStatusConfirmed, domain.PurchaseStatusReceived:
	default:
		return nil, fmt.Errorf("%w: unknown status %s", store.ErrInvalidTransaction, status)
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListPurchases(ctx, storeID, status, limit)
}

func (s *Service) GetPurchase(ctx context.Context, sess *session.Session, id string) (domain.Purchase, error) {
	storeID, err := scope(sess)
	if err != nil {
		return domain.Purchase{}, err
	}
	p, err := s.repo.GetPurchase(ctx, storeID, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}
	return *p, nil
}

func (s *Service) currentPurchase(ctx context.Context, storeID string, id string) (domain.PurchaseResponse, error) {
	p, err := s.repo.GetPurchase(ctx, storeID, id)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}
	return domain.PurchaseResponse{Purchase: *p}, nil
}

func paysFromDrawer(p domain.Purchase) bool {
	return p.PayFromCash && p.PaymentCondition == domain.PaymentConditionCash && p.AmountPaidCents > 0
}

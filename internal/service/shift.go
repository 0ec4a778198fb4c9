package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/ledger"
	"tillbook/backend/internal/money"
	"tillbook/backend/internal/session"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

// activeShift resolves the session's shift against storage and refreshes
// the session pointer: a stale pointer is dropped, a shift found only in
// storage is cached again.
func (s *Service) activeShift(ctx context.Context, sess *session.Session) (*domain.ActiveShift, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	ptr, err := sess.ShiftPointer()
	if err != nil {
		return nil, err
	}
	shifts, err := s.repo.ListShifts(ctx, storeID)
	if err != nil {
		return nil, err
	}

	res := ledger.Resolve(shifts, sess.TerminalID(), ptr)
	if res.Drop {
		if err := sess.ClearShiftPointer(ctx); err != nil {
			log.Warn().Str("component", "service").Err(err).Str("shift_id", ptr.ShiftID).Msg("failed to drop stale shift pointer")
		}
	}
	if res.Cache != nil {
		if err := sess.SetShiftPointer(ctx, *res.Cache); err != nil {
			log.Warn().Str("component", "service").Err(err).Str("shift_id", res.Cache.ShiftID).Msg("failed to cache active shift")
		}
	}
	return res.Active, nil
}

func (s *Service) ActiveShift(ctx context.Context, sess *session.Session) (domain.ActiveShift, error) {
	active, err := s.activeShift(ctx, sess)
	if err != nil {
		return domain.ActiveShift{}, err
	}
	if active == nil {
		return domain.ActiveShift{}, ErrNoOpenShift
	}
	return *active, nil
}

func (s *Service) OpenShift(ctx context.Context, sess *session.Session, req domain.ShiftOpenRequest) (domain.CashShift, error) {
	req.CashierName = strings.TrimSpace(req.CashierName)
	if err := validate(req); err != nil {
		return domain.CashShift{}, err
	}

	active, err := s.activeShift(ctx, sess)
	if err != nil {
		return domain.CashShift{}, err
	}
	if active != nil {
		return domain.CashShift{}, fmt.Errorf("%w: %s", ErrShiftAlreadyOpen, active.Shift.ID)
	}

	storeID := sess.StoreID()
	now := s.now()
	shift := domain.CashShift{
		ID:               xid.New("shift"),
		StoreID:          storeID,
		TerminalID:       sess.TerminalID(),
		CashierName:      req.CashierName,
		Status:           domain.ShiftStatusOpen,
		StartTime:        now,
		StartAmountCents: req.StartAmountCents,
		Notes:            strings.TrimSpace(req.Notes),
	}
	saved, err := s.repo.SaveShift(ctx, shift)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CashShift{}, ErrShiftAlreadyOpen
		}
		return domain.CashShift{}, err
	}
	if err := sess.SetShiftPointer(ctx, ledger.PointerFor(*saved)); err != nil {
		log.Warn().Str("component", "service").Err(err).Str("shift_id", saved.ID).Msg("failed to cache opened shift")
	}

	s.logAudit(ctx, storeID, "shift_open", "shift", saved.ID, fmt.Sprintf("cashier=%s,start=%s", saved.CashierName, money.Format(saved.StartAmountCents)))

	if _, err := s.repo.SaveMovement(ctx, domain.CashMovement{
		ID:          xid.New("mov"),
		StoreID:     storeID,
		ShiftID:     saved.ID,
		Type:        domain.MovementOpen,
		AmountCents: saved.StartAmountCents,
		Description: "opening float",
		CreatedAt:   now,
	}); err != nil {
		return *saved, s.reconcile(ctx, domain.EventOpenMovementFailed, storeID, "shift", saved.ID,
			fmt.Sprintf("opening float %s not recorded", money.Format(saved.StartAmountCents)), err)
	}
	return *saved, nil
}

func (s *Service) RecordMovement(ctx context.Context, sess *session.Session, req domain.MovementRequest) (domain.CashMovement, error) {
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	req.Description = strings.TrimSpace(req.Description)
	if err := validate(req); err != nil {
		return domain.CashMovement{}, err
	}

	active, err := s.activeShift(ctx, sess)
	if err != nil {
		return domain.CashMovement{}, err
	}
	if active == nil {
		return domain.CashMovement{}, ErrNoOpenShift
	}

	saved, err := s.repo.SaveMovement(ctx, domain.CashMovement{
		ID:          xid.New("mov"),
		StoreID:     sess.StoreID(),
		ShiftID:     active.Shift.ID,
		Type:        req.Type,
		AmountCents: req.AmountCents,
		Description: req.Description,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.CashMovement{}, err
	}

	s.logAudit(ctx, saved.StoreID, "cash_movement", "shift", saved.ShiftID, fmt.Sprintf("type=%s,amount=%s,desc=%s", saved.Type, money.Format(saved.AmountCents), saved.Description))
	return *saved, nil
}

// CloseShift reconciles the drawer, stamps the closing figures and forgets
// the terminal's pointer. A pending shift is closed from its placeholder.
func (s *Service) CloseShift(ctx context.Context, sess *session.Session, req domain.ShiftCloseRequest) (domain.ShiftSummary, error) {
	if err := validate(req); err != nil {
		return domain.ShiftSummary{}, err
	}

	active, err := s.activeShift(ctx, sess)
	if err != nil {
		return domain.ShiftSummary{}, err
	}
	if active == nil {
		return domain.ShiftSummary{}, ErrNoOpenShift
	}

	storeID := sess.StoreID()
	rec, err := s.reconcileShift(ctx, storeID, active.Shift)
	if err != nil {
		return domain.ShiftSummary{}, err
	}

	now := s.now()
	closed, err := ledger.Close(active.Shift, rec, req.EndAmountCents, req.Notes, now)
	if err != nil {
		if errors.Is(err, ledger.ErrShiftClosed) {
			return domain.ShiftSummary{}, ErrShiftClosed
		}
		return domain.ShiftSummary{}, err
	}
	// the closing count goes in first: a closed shift takes no more movements.
	// A retry after a failed shift write reuses the count already recorded.
	if !rec.ClosingCounted {
		if _, err := s.repo.SaveMovement(ctx, domain.CashMovement{
			ID:          xid.New("mov"),
			StoreID:     storeID,
			ShiftID:     closed.ID,
			Type:        domain.MovementClose,
			AmountCents: closed.EndAmountCents,
			Description: "closing count",
			CreatedAt:   now,
		}); err != nil {
			return domain.ShiftSummary{}, err
		}
	}
	saved, err := s.repo.SaveShift(ctx, closed)
	if err != nil {
		return domain.ShiftSummary{}, s.reconcile(ctx, domain.EventCloseShiftFailed, storeID, "shift", closed.ID,
			fmt.Sprintf("closing count %s recorded but shift still open", money.Format(closed.EndAmountCents)), err)
	}
	if err := sess.ClearShiftPointer(ctx); err != nil {
		log.Warn().Str("component", "service").Err(err).Str("shift_id", saved.ID).Msg("failed to clear shift pointer")
	}

	s.logAudit(ctx, storeID, "shift_close", "shift", saved.ID, fmt.Sprintf("declared=%s,expected=%s,variance=%s", money.Format(saved.EndAmountCents), money.Format(saved.ExpectedCashCents), saved.Variance))
	return ledger.Summary(domain.ActiveShift{Shift: *saved}, rec), nil
}

// ShiftSummary reports the live drawer of a shift. An empty id means the
// session's active shift.
func (s *Service) ShiftSummary(ctx context.Context, sess *session.Session, shiftID string) (domain.ShiftSummary, error) {
	storeID, err := scope(sess)
	if err != nil {
		return domain.ShiftSummary{}, err
	}

	shiftID = strings.TrimSpace(shiftID)
	var target domain.ActiveShift
	if shiftID == "" {
		target, err = s.ActiveShift(ctx, sess)
		if err != nil {
			return domain.ShiftSummary{}, err
		}
	} else {
		shift, err := s.repo.GetShift(ctx, storeID, shiftID)
		switch {
		case err == nil:
			target = domain.ActiveShift{Shift: *shift}
		case errors.Is(err, store.ErrNotFound):
			active, aerr := s.activeShift(ctx, sess)
			if aerr != nil {
				return domain.ShiftSummary{}, aerr
			}
			if active == nil || active.Shift.ID != shiftID {
				return domain.ShiftSummary{}, err
			}
			target = *active
		default:
			return domain.ShiftSummary{}, err
		}
	}

	rec, err := s.reconcileShift(ctx, storeID, target.Shift)
	if err != nil {
		return domain.ShiftSummary{}, err
	}
	return ledger.Summary(target, rec), nil
}

func (s *Service) ListShifts(ctx context.Context, sess *session.Session, limit int) ([]domain.CashShift, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	shifts, err := s.repo.ListShifts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(shifts) > limit {
		shifts = shifts[:limit]
	}
	return shifts, nil
}

func (s *Service) ListMovements(ctx context.Context, sess *session.Session, shiftID string) ([]domain.CashMovement, error) {
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return nil, fmt.Errorf("%w: shift id is required", store.ErrInvalidTransaction)
	}
	return s.repo.ListMovements(ctx, storeID, shiftID)
}

func (s *Service) reconcileShift(ctx context.Context, storeID string, shift domain.CashShift) (ledger.Reconciliation, error) {
	txs, err := s.repo.ListTransactions(ctx, storeID, domain.TransactionFilter{ShiftID: shift.ID})
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	movements, err := s.repo.ListMovements(ctx, storeID, shift.ID)
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	return ledger.Reconcile(shift, txs, movements), nil
}

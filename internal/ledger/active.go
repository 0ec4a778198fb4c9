package ledger

import (
	"tillbook/backend/internal/domain"
)

// Resolution is the outcome of matching stored shifts against a terminal's
// cached pointer. Drop and Cache tell the caller how to refresh the pointer.
type Resolution struct {
	Active *domain.ActiveShift
	Drop   bool
	Cache  *domain.ShiftPointer
}

// Resolve finds the terminal's open shift. A pointer whose shift storage
// has not returned yet yields a pending placeholder built from the pointer;
// a pointer to a closed shift is stale and must be dropped.
func Resolve(shifts []domain.CashShift, terminalID string, ptr *domain.ShiftPointer) Resolution {
	var res Resolution
	if ptr != nil && ptr.ShiftID != "" {
		found := false
		for _, s := range shifts {
			if s.ID != ptr.ShiftID {
				continue
			}
			found = true
			if s.Status == domain.ShiftStatusOpen {
				res.Active = &domain.ActiveShift{Shift: s}
				return res
			}
			res.Drop = true
			break
		}
		if !found {
			res.Active = &domain.ActiveShift{Shift: Placeholder(*ptr), Pending: true}
			return res
		}
	}

	var open *domain.CashShift
	for i := range shifts {
		s := shifts[i]
		if s.Status != domain.ShiftStatusOpen || s.TerminalID != terminalID {
			continue
		}
		if open == nil || s.StartTime.After(open.StartTime) {
			open = &shifts[i]
		}
	}
	if open != nil {
		res.Active = &domain.ActiveShift{Shift: *open}
		ptr := PointerFor(*open)
		res.Cache = &ptr
	}
	return res
}

func Placeholder(ptr domain.ShiftPointer) domain.CashShift {
	return domain.CashShift{
		ID:               ptr.ShiftID,
		StoreID:          ptr.StoreID,
		TerminalID:       ptr.TerminalID,
		CashierName:      ptr.CashierName,
		Status:           domain.ShiftStatusOpen,
		StartTime:        ptr.StartTime,
		StartAmountCents: ptr.StartAmountCents,
	}
}

func PointerFor(s domain.CashShift) domain.ShiftPointer {
	return domain.ShiftPointer{
		ShiftID:          s.ID,
		StoreID:          s.StoreID,
		TerminalID:       s.TerminalID,
		CashierName:      s.CashierName,
		StartAmountCents: s.StartAmountCents,
		StartTime:        s.StartTime,
	}
}

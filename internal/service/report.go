package service

import (
	"context"
	"sort"
	"time"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/session"
)

// DailyReport sums one UTC day of sales. Tenders follow the same legacy
// fallback as the shift ledger.
func (s *Service) DailyReport(ctx context.Context, sess *session.Session, date string) (domain.DailyReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.DailyReport{}, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return domain.DailyReport{}, err
	}
	from, err := parseDay(date, s.now())
	if err != nil {
		return domain.DailyReport{}, err
	}
	to := from.Add(24 * time.Hour)

	txs, err := s.repo.ListTransactions(ctx, storeID, domain.TransactionFilter{From: from, To: to})
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := domain.DailyReport{StoreID: storeID, Date: from.Format(time.DateOnly)}
	byMethod := make(map[domain.PaymentMethod]*domain.MethodTotal)
	for _, tx := range txs {
		report.Transactions++
		for _, line := range tx.Items {
			report.GrossSalesCents += line.UnitPriceCents * int64(line.Quantity)
		}
		report.DiscountCents += tx.DiscountCents
		report.TaxCents += tx.TaxCents
		report.NetSalesCents += tx.TotalCents
		if !tx.StockSynced {
			report.UnsyncedStock++
		}
		seen := make(map[domain.PaymentMethod]bool, 2)
		for _, tender := range tx.Tenders() {
			total, ok := byMethod[tender.Method]
			if !ok {
				total = &domain.MethodTotal{Method: tender.Method}
				byMethod[tender.Method] = total
			}
			total.AmountCents += tender.AmountCents
			if !seen[tender.Method] {
				total.Transactions++
				seen[tender.Method] = true
			}
		}
	}

	report.ByPayment = make([]domain.MethodTotal, 0, len(byMethod))
	for _, total := range byMethod {
		report.ByPayment = append(report.ByPayment, *total)
	}
	sort.Slice(report.ByPayment, func(i, j int) bool {
		return report.ByPayment[i].AmountCents > report.ByPayment[j].AmountCents
	})
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, sess *session.Session, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	storeID, err := scope(sess)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if date == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		from, err = parseDay(date, s.now())
		if err != nil {
			return nil, err
		}
	}
	return s.repo.ListAuditLogs(ctx, storeID, from, from.Add(24*time.Hour), limit)
}

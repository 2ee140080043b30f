package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/domain"
)

const defaultSaleListLimit = 500

// ListSales flattens committed sales into one row per line item, newest
// sale first. Purchase price is the medicine's current purchase price.
func (s *Service) ListSales(ctx context.Context, limit int) (domain.SaleListResponse, error) {
	if limit < 1 {
		limit = defaultSaleListLimit
	}
	sales, err := s.repo.ListSales(ctx, limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	medicines, err := s.repo.ListMedicines(ctx)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	purchasePrice := make(map[string]decimal.Decimal, len(medicines))
	for _, m := range medicines {
		purchasePrice[m.Name] = m.PurchasePrice
	}

	rows := make([]domain.SaleRow, 0, len(sales))
	for _, sale := range sales {
		for _, item := range sale.Items {
			rows = append(rows, domain.SaleRow{
				SaleID:        sale.ID,
				CustomerName:  sale.PatientName,
				MedicineName:  item.Name,
				Quantity:      item.Quantity,
				Price:         item.Price,
				PurchasePrice: purchasePrice[item.Name],
				TotalAmount:   item.Total,
				Pharmacist:    sale.Cashier,
				Date:          sale.CreatedAt,
			})
		}
	}
	return domain.SaleListResponse{Items: rows}, nil
}

// SalesSummary reports revenue totals. Day and month boundaries are taken in
// the server's local time zone.
func (s *Service) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	if cached, ok, err := s.summaries.Get(ctx, cache.SummaryKey); err != nil {
		s.logger.Warn("sales summary cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	sales, err := s.repo.ListSales(ctx, 0)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	summary := summarize(sales, s.now())

	if err := s.summaries.Set(ctx, cache.SummaryKey, &summary, s.summaryTTL); err != nil {
		s.logger.Warn("sales summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

func summarize(sales []domain.Sale, now time.Time) domain.SalesSummary {
	loc := now.Location()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	startOfLastMonth := startOfMonth.AddDate(0, -1, 0)

	summary := domain.SalesSummary{
		TotalRevenue:     decimal.Zero,
		TodayRevenue:     decimal.Zero,
		ThisMonthRevenue: decimal.Zero,
		LastMonthRevenue: decimal.Zero,
		GeneratedAt:      now.UTC(),
	}
	for _, sale := range sales {
		at := sale.CreatedAt
		summary.TotalRevenue = summary.TotalRevenue.Add(sale.GrandTotal)
		if !at.Before(startOfDay) {
			summary.TodayRevenue = summary.TodayRevenue.Add(sale.GrandTotal)
		}
		if !at.Before(startOfMonth) {
			summary.ThisMonthRevenue = summary.ThisMonthRevenue.Add(sale.GrandTotal)
		} else if !at.Before(startOfLastMonth) {
			summary.LastMonthRevenue = summary.LastMonthRevenue.Add(sale.GrandTotal)
		}
	}

	if !summary.LastMonthRevenue.IsZero() {
		summary.Growth = summary.ThisMonthRevenue.
			Sub(summary.LastMonthRevenue).
			Div(summary.LastMonthRevenue).
			Mul(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	}
	return summary
}

// StockReport classifies every medicine with the same threshold the sale
// path uses for alerts. Quantities are sellable stock, so units sitting in
// expired batches are not counted.
func (s *Service) StockReport(ctx context.Context) (domain.StockReportResponse, error) {
	medicines, err := s.repo.ListMedicines(ctx)
	if err != nil {
		return domain.StockReportResponse{}, err
	}
	rows := make([]domain.StockReportRow, 0, len(medicines))
	for _, m := range medicines {
		available, err := s.ledger.GetAvailable(ctx, m.ID)
		if err != nil {
			return domain.StockReportResponse{}, err
		}
		rows = append(rows, domain.StockReportRow{
			MedicineID:      m.ID,
			Name:            m.Name,
			QuantityInStock: available,
			ReorderLevel:    m.ReorderLevel,
			Status:          s.monitor.Status(available),
		})
	}
	return domain.StockReportResponse{Threshold: s.monitor.Threshold(), Items: rows}, nil
}

func (s *Service) Availability(ctx context.Context, medicineID string) (domain.AvailabilityResponse, error) {
	available, err := s.ledger.GetAvailable(ctx, medicineID)
	if err != nil {
		return domain.AvailabilityResponse{}, err
	}
	return domain.AvailabilityResponse{MedicineID: medicineID, Available: available}, nil
}

package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

const (
	nearExpiryWindow        = 90 * 24 * time.Hour
	defaultSalesSummaryDays = 7
	defaultAuditLimit       = 50
	maxAuditLimit           = 500
)

// ExpiryReport splits medicines with an expiry date into already expired and expiring
// within the near-expiry window.
type ExpiryReport struct {
	Expired    []domain.Medicine
	NearExpiry []domain.Medicine
}

type ReportService struct {
	repo port.Repository
	options
}

func NewReportService(repo port.Repository, opts ...Option) *ReportService {
	return &ReportService{repo: repo, options: newOptions(opts)}
}

// LowStock lists inventory records at or below their reorder threshold.
func (s *ReportService) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	items, err := s.repo.LowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("low stock: %w", err)
	}
	return items, nil
}

func (s *ReportService) Expiring(ctx context.Context) (ExpiryReport, error) {
	today := domain.Day(s.now())
	meds, err := s.repo.ListExpiringBefore(ctx, today.Add(nearExpiryWindow+24*time.Hour))
	if err != nil {
		return ExpiryReport{}, fmt.Errorf("expiring medicines: %w", err)
	}

	var report ExpiryReport
	for _, m := range meds {
		if m.ExpiryDate == nil {
			continue
		}
		if m.ExpiredAt(today) {
			report.Expired = append(report.Expired, m)
		} else {
			report.NearExpiry = append(report.NearExpiry, m)
		}
	}
	return report, nil
}

// AboveAveragePrice lists medicines priced above the catalog average, retired ones
// included, most expensive first.
func (s *ReportService) AboveAveragePrice(ctx context.Context) ([]domain.Medicine, error) {
	meds, err := s.repo.AboveAveragePrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("above average price: %w", err)
	}
	return meds, nil
}

// SalesSummary aggregates orders per UTC day over the last days, newest day first.
func (s *ReportService) SalesSummary(ctx context.Context, days int) ([]domain.DailySales, error) {
	if days <= 0 {
		days = defaultSalesSummaryDays
	}
	since := domain.Day(s.now()).AddDate(0, 0, -(days - 1))
	orders, err := s.repo.ListOrdersSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("sales summary: %w", err)
	}

	byDay := make(map[time.Time]*domain.DailySales)
	for _, o := range orders {
		day := domain.Day(o.CreatedAt)
		row, ok := byDay[day]
		if !ok {
			row = &domain.DailySales{Day: day, TotalSales: decimal.Zero}
			byDay[day] = row
		}
		row.Orders++
		row.TotalSales = row.TotalSales.Add(o.TotalAmount)
	}

	summary := make([]domain.DailySales, 0, len(byDay))
	for _, row := range byDay {
		row.AvgOrder = row.TotalSales.DivRound(decimal.NewFromInt(row.Orders), 2)
		summary = append(summary, *row)
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Day.After(summary[j].Day)
	})
	return summary, nil
}

// AuditLog returns the most recent audit entries, newest first.
func (s *ReportService) AuditLog(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)
	entries, err := s.repo.RecentAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	return entries, nil
}

func (s *ReportService) SupplierPerformance(ctx context.Context) ([]domain.SupplierPerformance, error) {
	perf, err := s.repo.SupplierPerformance(ctx)
	if err != nil {
		return nil, fmt.Errorf("supplier performance: %w", err)
	}
	return perf, nil
}

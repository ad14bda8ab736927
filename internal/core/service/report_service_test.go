package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestSalesSummary(t *testing.T) {
	clock := &stepClock{now: fixedNow.AddDate(0, 0, -3)}
	f := newFixture(t, WithClock(clock.Now))
	ctx := context.Background()
	med := f.addMedicine(t, "2.50", 100, nil)

	place := func(qty int64) {
		t.Helper()
		_, err := f.orders.PlaceOrder(ctx, PlaceOrderRequest{Lines: lines(med, qty)})
		require.NoError(t, err)
	}

	// outside a two-day window
	place(1)

	clock.Set(fixedNow.AddDate(0, 0, -1))
	place(2)

	clock.Set(fixedNow)
	place(1)
	place(2)
	place(4)

	summary, err := f.reports.SalesSummary(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	assert.Equal(t, domain.Day(fixedNow), summary[0].Day)
	assert.Equal(t, int64(3), summary[0].Orders)
	assert.True(t, summary[0].TotalSales.Equal(decimal.RequireFromString("17.50")), "total %s", summary[0].TotalSales)
	assert.True(t, summary[0].AvgOrder.Equal(decimal.RequireFromString("5.83")), "avg %s", summary[0].AvgOrder)

	assert.Equal(t, domain.Day(fixedNow.AddDate(0, 0, -1)), summary[1].Day)
	assert.Equal(t, int64(1), summary[1].Orders)

	summary, err = f.reports.SalesSummary(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, summary, 3)
}

func TestExpiring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired := f.addMedicine(t, "1.00", 1, daysFromNow(-2))
	today := f.addMedicine(t, "1.00", 1, daysFromNow(0))
	edge := f.addMedicine(t, "1.00", 1, daysFromNow(90))
	f.addMedicine(t, "1.00", 1, daysFromNow(91))
	f.addMedicine(t, "1.00", 1, nil)

	report, err := f.reports.Expiring(ctx)
	require.NoError(t, err)

	require.Len(t, report.Expired, 1)
	assert.Equal(t, expired, report.Expired[0].ID)

	var near []int64
	for _, m := range report.NearExpiry {
		near = append(near, m.ID)
	}
	assert.Equal(t, []int64{today, edge}, near)
}

func TestLowStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	low := f.addMedicine(t, "1.00", 2, nil)
	atThreshold := f.addMedicine(t, "1.00", domain.DefaultMinThreshold, nil)
	f.addMedicine(t, "1.00", 50, nil)

	items, err := f.reports.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, low, items[0].MedicineID)
	assert.Equal(t, atThreshold, items[1].MedicineID)
}

func TestAboveAveragePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	meds, err := f.reports.AboveAveragePrice(ctx)
	require.NoError(t, err)
	assert.Empty(t, meds)

	f.addMedicine(t, "1.00", 5, nil)
	f.addMedicine(t, "3.00", 5, nil)
	atAverage := f.addMedicine(t, "3.50", 5, nil)
	first := f.addMedicine(t, "5.00", 5, nil)
	second := f.addMedicine(t, "5.00", 5, nil)
	require.NoError(t, f.inventory.Retire(ctx, second))

	meds, err = f.reports.AboveAveragePrice(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, first, meds[0].ID)
	assert.Equal(t, second, meds[1].ID)
	assert.False(t, meds[1].Active)
	for _, m := range meds {
		assert.NotEqual(t, atAverage, m.ID)
	}
}

func TestSupplierPerformance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acme, err := f.catalog.RegisterSupplier(ctx, domain.Supplier{Name: "Acme"})
	require.NoError(t, err)
	_, err = f.catalog.RegisterSupplier(ctx, domain.Supplier{Name: "Idle"})
	require.NoError(t, err)

	for i, price := range []string{"2.00", "5.00", "3.50"} {
		_, err := f.catalog.RegisterMedicine(ctx, RegisterMedicineRequest{
			Name:       "Acme-" + string(rune('A'+i)),
			UnitPrice:  decimal.RequireFromString(price),
			SupplierID: &acme.ID,
		})
		require.NoError(t, err)
	}

	perf, err := f.reports.SupplierPerformance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 2)
	assert.Equal(t, acme.ID, perf[0].SupplierID)
	assert.Equal(t, int64(3), perf[0].MedicinesCount)
	assert.True(t, perf[0].AvgPrice.Equal(decimal.RequireFromString("3.50")))
	assert.True(t, perf[0].MaxPrice.Equal(decimal.RequireFromString("5.00")))
	assert.Equal(t, int64(0), perf[1].MedicinesCount)
}

func TestAuditLog_Limits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for range 60 {
		f.addMedicine(t, "1.00", 1, nil)
	}

	entries, err := f.reports.AuditLog(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, defaultAuditLimit)

	entries, err = f.reports.AuditLog(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Greater(t, entries[0].ID, entries[4].ID)
}

package service

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/platform/metrics"
)

func TestAdjustStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	med := f.addMedicine(t, "1.00", 5, nil)

	rec, err := f.inventory.AdjustStock(ctx, med, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.Quantity)

	rec, err = f.inventory.AdjustStock(ctx, med, -12)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Quantity)
	assert.Equal(t, int64(0), f.quantity(t, med))

	entries, err := f.reports.AuditLog(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.AuditObjectInventory, entries[0].Object)
	assert.Contains(t, entries[0].Detail, "-12")
}

func TestAdjustStock_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	med := f.addMedicine(t, "1.00", 5, nil)
	retired := f.addMedicine(t, "1.00", 5, nil)
	require.NoError(t, f.inventory.Retire(ctx, retired))
	auditBefore := f.auditCount(t)

	tests := []struct {
		name       string
		medicineID int64
		delta      int64
		wantErr    error
	}{
		{"zero delta", med, 0, domain.ErrInvalidInput},
		{"bad id", 0, 1, domain.ErrInvalidInput},
		{"below zero", med, -6, domain.ErrInsufficientStock},
		{"unknown medicine", 31337, 4, domain.ErrMedicineNotFound},
		{"retired medicine", retired, 4, domain.ErrMedicineRetired},
		{"quantity overflows", med, math.MaxInt64, domain.ErrInvalidInput},
		{"most negative delta", med, math.MinInt64, domain.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.inventory.AdjustStock(ctx, tc.medicineID, tc.delta)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Equal(t, int64(5), f.quantity(t, med))
	assert.Equal(t, auditBefore, f.auditCount(t))
}

func TestAdjustStock_CreatesMissingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Seed([]domain.Medicine{{
		ID: 700, Name: "Unstocked", UnitPrice: decimal.NewFromInt(2), Active: true,
	}}, nil, nil))

	_, err := f.inventory.AdjustStock(ctx, 700, -1)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	rec, err := f.inventory.AdjustStock(ctx, 700, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(15), rec.Quantity)
	assert.Equal(t, int64(domain.DefaultMinThreshold), rec.MinThreshold)

	_, err = f.orders.PlaceOrder(ctx, PlaceOrderRequest{Lines: lines(700, 3)})
	require.NoError(t, err)
	assert.Equal(t, int64(12), f.quantity(t, 700))
}

func TestAdjustStock_ConcurrentWithOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	med := f.addMedicine(t, "1.00", 20, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var sold int64
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.orders.PlaceOrder(ctx, PlaceOrderRequest{Lines: lines(med, 2)}); err == nil {
				mu.Lock()
				sold += 2
				mu.Unlock()
			}
		}()
		go func(i int) {
			defer wg.Done()
			_, err := f.inventory.AdjustStock(ctx, med, 1)
			assert.NoError(t, err, "adjust %d", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20+20-sold, f.quantity(t, med))
}

func TestRetireAndRestore(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()
	med := f.addMedicine(t, "1.00", 9, nil)

	require.NoError(t, f.inventory.Retire(ctx, med))
	assert.Equal(t, int64(0), f.quantity(t, med))

	stored, err := f.store.GetMedicine(ctx, med)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.RetiredAt)
	assert.Equal(t, fixedNow, *stored.RetiredAt)

	err = f.inventory.Retire(ctx, med)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	items, err := f.catalog.ListInventory(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, f.inventory.Restore(ctx, med))
	err = f.inventory.Restore(ctx, med)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err = f.store.GetMedicine(ctx, med)
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Nil(t, stored.RetiredAt)
	assert.Equal(t, int64(0), f.quantity(t, med))

	_, err = f.orders.PlaceOrder(ctx, PlaceOrderRequest{Lines: lines(med, 1)})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockChanges.WithLabelValues("retire", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockChanges.WithLabelValues("retire", "invalid_state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockChanges.WithLabelValues("restore", "ok")))
}

func TestRetire_UnknownMedicine(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.inventory.Retire(context.Background(), 8080), domain.ErrMedicineNotFound)
	assert.ErrorIs(t, f.inventory.Restore(context.Background(), 8080), domain.ErrMedicineNotFound)
	assert.ErrorIs(t, f.inventory.Retire(context.Background(), -1), domain.ErrInvalidInput)
}

func TestStockChange_StorageFailure(t *testing.T) {
	svc := NewInventoryService(failingTx{err: errStorageDown})

	_, err := svc.AdjustStock(context.Background(), 1, 1)
	assert.ErrorIs(t, err, errStorageDown)
	assert.Equal(t, "internal", domain.ErrorCode(err))
}

package handler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-orders/internal/adapter/storage"
	"github.com/rl1809/pharmacy-orders/internal/core/service"
	"github.com/rl1809/pharmacy-orders/internal/platform/logger"
)

var testNow = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	store     *storage.MemoryStore
	orders    *service.OrderService
	inventory *service.InventoryService
	catalog   *service.CatalogService
	reports   *service.ReportService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore(storage.WithMemoryLockTimeout(200 * time.Millisecond))
	opts := []service.Option{
		service.WithClock(func() time.Time { return testNow }),
		service.WithLogger(logger.NewWithWriter(io.Discard, "error", "json")),
		service.WithIdempotency(storage.NewMemoryIdempotency()),
	}
	return &testEnv{
		store:     store,
		orders:    service.NewOrderService(store, store, opts...),
		inventory: service.NewInventoryService(store, opts...),
		catalog:   service.NewCatalogService(store, store, opts...),
		reports:   service.NewReportService(store, opts...),
	}
}

func (e *testEnv) medicine(t *testing.T, name, price string, qty int64, expiry *time.Time) int64 {
	t.Helper()
	med, err := e.catalog.RegisterMedicine(context.Background(), service.RegisterMedicineRequest{
		Name:            name,
		Form:            "Tablet",
		UnitPrice:       decimal.RequireFromString(price),
		ExpiryDate:      expiry,
		InitialQuantity: qty,
	})
	require.NoError(t, err)
	return med.ID
}

func (e *testEnv) quantity(t *testing.T, id int64) int64 {
	t.Helper()
	rec, err := e.store.GetInventory(context.Background(), id)
	require.NoError(t, err)
	return rec.Quantity
}

func registerWithSupplier(name, price string, supplierID int64) service.RegisterMedicineRequest {
	return service.RegisterMedicineRequest{
		Name:       name,
		UnitPrice:  decimal.RequireFromString(price),
		SupplierID: &supplierID,
	}
}

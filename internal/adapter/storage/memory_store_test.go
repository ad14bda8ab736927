package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

func memoryFactory() storeFactory {
	var mu sync.Mutex
	stores := make(map[*testing.T]*MemoryStore)
	return func(t *testing.T, lockTimeout time.Duration) port.Store {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := stores[t]; ok {
			return s
		}
		s := NewMemoryStore(WithMemoryLockTimeout(lockTimeout))
		stores[t] = s
		return s
	}
}

func TestMemoryStore_Conformance(t *testing.T) {
	runStoreConformance(t, memoryFactory())
}

func TestMemoryStore_ConcurrentDecrementsNeverOversell(t *testing.T) {
	store := NewMemoryStore()
	id := seedMedicine(t, store, 50, "1.00")

	var success atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
				rec, err := tx.LockInventory(ctx, id)
				if err != nil {
					return err
				}
				if rec.Quantity < 1 {
					return domain.InsufficientStock(id, rec.Quantity, 1)
				}
				return tx.SetQuantity(ctx, id, rec.Quantity-1)
			})
			if err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	rec, err := store.GetInventory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int32(50), success.Load())
	assert.Zero(t, rec.Quantity)
}

func TestMemoryStore_SetQuantityRequiresLock(t *testing.T) {
	store := NewMemoryStore()
	id := seedMedicine(t, store, 5, "1.00")

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.SetQuantity(ctx, id, 1)
	})
	assert.Error(t, err)

	err = store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.LockInventory(ctx, id); err != nil {
			return err
		}
		return tx.SetQuantity(ctx, id, -1)
	})
	assert.Error(t, err)
}

func TestMemoryStore_UncommittedWritesInvisible(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id := seedMedicine(t, store, 8, "1.00")

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
			if _, err := tx.LockInventory(ctx, id); err != nil {
				return err
			}
			if err := tx.SetQuantity(ctx, id, 1); err != nil {
				return err
			}
			close(inside)
			<-release
			return nil
		})
		close(release)
	}()

	<-inside
	rec, err := store.GetInventory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.Quantity)
	release <- struct{}{}
	<-release

	rec, err = store.GetInventory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Quantity)
}

func TestMemoryStore_TxTimeoutAbortsCommit(t *testing.T) {
	store := NewMemoryStore(WithMemoryTxTimeout(50 * time.Millisecond))
	id := seedMedicine(t, store, 3, "1.00")

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.LockInventory(ctx, id); err != nil {
			return err
		}
		if err := tx.SetQuantity(ctx, id, 0); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, err := store.GetInventory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Quantity)
}

func TestMemoryStore_Reports(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	supplier := int64(1)
	soon := time.Now().UTC().AddDate(0, 0, 10)
	require.NoError(t, store.Seed(
		[]domain.Medicine{
			{ID: 1, Name: "Alpha", UnitPrice: decimal.RequireFromString("4.00"), SupplierID: &supplier, ExpiryDate: &soon, Active: true},
			{ID: 2, Name: "Beta", UnitPrice: decimal.RequireFromString("8.00"), SupplierID: &supplier, Active: false},
		},
		[]domain.InventoryRecord{
			{MedicineID: 1, Quantity: 3, MinThreshold: 10},
			{MedicineID: 2, Quantity: 40, MinThreshold: 10},
		},
		nil,
	))
	err := store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertSupplier(ctx, &domain.Supplier{Name: "Acme"})
	})
	require.NoError(t, err)

	low, err := store.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Alpha", low[0].Name)

	active, err := store.ListInventory(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := store.ListInventory(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	expiring, err := store.ListExpiringBefore(ctx, time.Now().AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, int64(1), expiring[0].ID)

	perf, err := store.SupplierPerformance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, int64(2), perf[0].MedicinesCount)
	assert.Equal(t, "6", perf[0].AvgPrice.String())
	assert.Equal(t, "8", perf[0].MaxPrice.String())
}

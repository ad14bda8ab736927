package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

// storeFactory returns a store; calls within one test share state.
type storeFactory func(t *testing.T, lockTimeout time.Duration) port.Store

var errRollback = errors.New("rollback requested")

func seedMedicine(t *testing.T, store port.Store, qty int64, price string) int64 {
	t.Helper()
	var id int64
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		m := &domain.Medicine{
			Name:      "Test-" + uuid.NewString()[:8],
			Form:      "Tablet",
			Strength:  "500mg",
			UnitPrice: decimal.RequireFromString(price),
			Active:    true,
		}
		if err := tx.InsertMedicine(ctx, m); err != nil {
			return err
		}
		id = m.ID
		return tx.CreateInventory(ctx, domain.InventoryRecord{
			MedicineID:   m.ID,
			Quantity:     qty,
			MinThreshold: domain.DefaultMinThreshold,
		})
	})
	require.NoError(t, err)
	return id
}

func runStoreConformance(t *testing.T, newStore storeFactory) {
	t.Run("commit applies every write", func(t *testing.T) {
		store := newStore(t, time.Second)
		ctx := context.Background()
		id := seedMedicine(t, store, 10, "2.50")

		var orderID int64
		err := store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
			rec, err := tx.LockInventory(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.SetQuantity(ctx, id, rec.Quantity-4); err != nil {
				return err
			}
			order := domain.NewOrder(nil, []domain.LineRequest{{MedicineID: id, Quantity: 4}},
				map[int64]decimal.Decimal{id: decimal.RequireFromString("2.50")}, time.Now())
			if err := tx.InsertOrder(ctx, &order); err != nil {
				return err
			}
			orderID = order.ID
			return tx.Append(ctx, &domain.AuditEntry{
				Actor: "tester", Action: domain.AuditActionOrder, Object: domain.AuditObjectOrders, Detail: "conformance",
			})
		})
		require.NoError(t, err)

		rec, err := store.GetInventory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(6), rec.Quantity)

		order, err := store.GetOrder(ctx, orderID)
		require.NoError(t, err)
		require.Len(t, order.Lines, 1)
		assert.Equal(t, domain.OrderStatusCompleted, order.Status)
		assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("10.00")), "total %s", order.TotalAmount)
		assert.True(t, order.TotalAmount.Equal(order.LinesTotal()))
		assert.Equal(t, orderID, order.Lines[0].OrderID)
	})

	t.Run("rollback discards every write", func(t *testing.T) {
		store := newStore(t, time.Second)
		ctx := context.Background()
		id := seedMedicine(t, store, 10, "1.00")
		before, err := store.RecentAudit(ctx, 1)
		require.NoError(t, err)

		var orderID int64
		err = store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
			if _, err := tx.LockInventory(ctx, id); err != nil {
				return err
			}
			if err := tx.SetQuantity(ctx, id, 0); err != nil {
				return err
			}
			order := domain.NewOrder(nil, []domain.LineRequest{{MedicineID: id, Quantity: 10}},
				map[int64]decimal.Decimal{id: decimal.NewFromInt(1)}, time.Now())
			if err := tx.InsertOrder(ctx, &order); err != nil {
				return err
			}
			orderID = order.ID
			if err := tx.Append(ctx, &domain.AuditEntry{
				Actor: "tester", Action: domain.AuditActionOrder, Object: domain.AuditObjectOrders, Detail: "discarded",
			}); err != nil {
				return err
			}
			return errRollback
		})
		require.ErrorIs(t, err, errRollback)

		rec, err := store.GetInventory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(10), rec.Quantity)

		_, err = store.GetOrder(ctx, orderID)
		assert.ErrorIs(t, err, port.ErrNotFound)

		after, err := store.RecentAudit(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("missing inventory reports not found", func(t *testing.T) {
		store := newStore(t, time.Second)
		err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			_, err := tx.LockInventory(ctx, 987654321)
			return err
		})
		assert.ErrorIs(t, err, port.ErrNotFound)
	})

	t.Run("lock wait times out", func(t *testing.T) {
		waiter := newStore(t, time.Second)
		holder := newStore(t, time.Second)
		id := seedMedicine(t, holder, 5, "1.00")

		locked := make(chan struct{})
		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = holder.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
				if _, err := tx.LockInventory(ctx, id); err != nil {
					close(locked)
					return err
				}
				close(locked)
				<-done
				return nil
			})
		}()
		<-locked

		start := time.Now()
		err := waiter.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			_, err := tx.LockInventory(ctx, id)
			return err
		})
		close(done)
		wg.Wait()

		assert.ErrorIs(t, err, port.ErrLockTimeout)
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("outbox marks entries published", func(t *testing.T) {
		store := newStore(t, time.Second)
		ctx := context.Background()
		detail := "outbox-" + uuid.NewString()
		err := store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
			return tx.Append(ctx, &domain.AuditEntry{
				Actor: "tester", Action: domain.AuditActionUpdate, Object: domain.AuditObjectInventory, Detail: detail,
			})
		})
		require.NoError(t, err)

		pending, err := store.UnpublishedAudit(ctx, 1000)
		require.NoError(t, err)
		var id int64
		for _, e := range pending {
			if e.Detail == detail {
				id = e.ID
			}
		}
		require.NotZero(t, id)

		require.NoError(t, store.MarkAuditPublished(ctx, []int64{id}, time.Now()))
		pending, err = store.UnpublishedAudit(ctx, 1000)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, id, e.ID)
		}
	})

	t.Run("above average price", func(t *testing.T) {
		store := newStore(t, time.Second)
		ctx := context.Background()
		cheap := seedMedicine(t, store, 1, "0.01")
		dear := seedMedicine(t, store, 1, "99999.99")

		meds, err := store.AboveAveragePrice(ctx)
		require.NoError(t, err)
		var ids []int64
		for i, m := range meds {
			ids = append(ids, m.ID)
			if i > 0 {
				assert.False(t, m.UnitPrice.GreaterThan(meds[i-1].UnitPrice), "not sorted by price descending")
			}
		}
		assert.Contains(t, ids, dear)
		assert.NotContains(t, ids, cheap)
	})

	t.Run("same product lookup ignores case", func(t *testing.T) {
		store := newStore(t, time.Second)
		expiry := time.Date(2031, 3, 1, 0, 0, 0, 0, time.UTC)
		name := "Dedupe-" + uuid.NewString()[:8]
		err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			return tx.InsertMedicine(ctx, &domain.Medicine{
				Name: name, Form: "Syrup", Strength: "5ml", UnitPrice: decimal.NewFromInt(3), ExpiryDate: &expiry, Active: true,
			})
		})
		require.NoError(t, err)

		err = store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
			laterSameDay := expiry.Add(6 * time.Hour)
			found, err := tx.FindSameProduct(ctx, domain.Medicine{
				Name: strings.ToUpper(name), Form: "syrup", Strength: "5ML", ExpiryDate: &laterSameDay,
			})
			require.NoError(t, err)
			require.NotNil(t, found)

			otherDay := expiry.AddDate(0, 0, 1)
			found, err = tx.FindSameProduct(ctx, domain.Medicine{Name: name, Form: "Syrup", Strength: "5ml", ExpiryDate: &otherDay})
			require.NoError(t, err)
			assert.Nil(t, found)
			return nil
		})
		require.NoError(t, err)
	})
}

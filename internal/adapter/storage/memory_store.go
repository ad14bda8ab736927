package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

const (
	DefaultLockTimeout = 5 * time.Second
	DefaultTxTimeout   = 15 * time.Second
)

var _ port.Store = (*MemoryStore)(nil)

// MemoryStore is a process-local port.Store. Each medicine has an exclusive inventory
// lock; writes of a unit of work are buffered and applied together on commit.
type MemoryStore struct {
	lockTimeout time.Duration
	txTimeout   time.Duration

	mu        sync.RWMutex
	medicines map[int64]domain.Medicine
	inventory map[int64]domain.InventoryRecord
	orders    map[int64]domain.Order
	suppliers map[int64]domain.Supplier
	customers map[int64]domain.Customer
	audit     []domain.AuditEntry

	locksMu sync.Mutex
	locks   map[int64]*semaphore.Weighted

	medicineSeq atomic.Int64
	orderSeq    atomic.Int64
	supplierSeq atomic.Int64
	customerSeq atomic.Int64
	auditSeq    atomic.Int64
}

type MemoryOption func(*MemoryStore)

func WithMemoryLockTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.lockTimeout = d
	}
}

func WithMemoryTxTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.txTimeout = d
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		lockTimeout: DefaultLockTimeout,
		txTimeout:   DefaultTxTimeout,
		medicines:   make(map[int64]domain.Medicine),
		inventory:   make(map[int64]domain.InventoryRecord),
		orders:      make(map[int64]domain.Order),
		suppliers:   make(map[int64]domain.Supplier),
		customers:   make(map[int64]domain.Customer),
		locks:       make(map[int64]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) lockFor(medicineID int64) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[medicineID]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[medicineID] = l
	}
	return l
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	tx := newMemTx(s)
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range tx.medicines {
		s.medicines[id] = m
	}
	for id, rec := range tx.inventory {
		s.inventory[id] = rec
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
	}
	for _, sup := range tx.suppliers {
		s.suppliers[sup.ID] = sup
	}
	for _, c := range tx.customers {
		s.customers[c.ID] = c
	}
	// Audit ids are assigned under the store lock so the log stays in commit order.
	for _, e := range tx.audit {
		e.ID = s.auditSeq.Add(1)
		s.audit = append(s.audit, e)
	}
}

type memTx struct {
	store *MemoryStore
	held  []int64

	medicines map[int64]domain.Medicine
	inventory map[int64]domain.InventoryRecord
	orders    []domain.Order
	suppliers []domain.Supplier
	customers []domain.Customer
	audit     []domain.AuditEntry
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		store:     s,
		medicines: make(map[int64]domain.Medicine),
		inventory: make(map[int64]domain.InventoryRecord),
	}
}

func (t *memTx) releaseLocks() {
	for _, id := range t.held {
		t.store.lockFor(id).Release(1)
	}
	t.held = nil
}

func (t *memTx) holds(medicineID int64) bool {
	return slices.Contains(t.held, medicineID)
}

func (t *memTx) LockInventory(ctx context.Context, medicineID int64) (*domain.InventoryRecord, error) {
	if !t.holds(medicineID) {
		lockCtx, cancel := context.WithTimeout(ctx, t.store.lockTimeout)
		err := t.store.lockFor(medicineID).Acquire(lockCtx, 1)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("lock inventory %d: %w", medicineID, ctxErr)
			}
			return nil, fmt.Errorf("lock inventory %d: %w", medicineID, port.ErrLockTimeout)
		}
		t.held = append(t.held, medicineID)
	}

	rec, ok := t.inventoryRecord(medicineID)
	if !ok {
		return nil, port.ErrNotFound
	}
	return &rec, nil
}

func (t *memTx) inventoryRecord(medicineID int64) (domain.InventoryRecord, bool) {
	if rec, ok := t.inventory[medicineID]; ok {
		return rec, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.inventory[medicineID]
	return rec, ok
}

func (t *memTx) SetQuantity(_ context.Context, medicineID, quantity int64) error {
	if !t.holds(medicineID) {
		return fmt.Errorf("inventory %d is not locked by this transaction", medicineID)
	}
	if quantity < 0 {
		return fmt.Errorf("inventory %d: negative quantity %d", medicineID, quantity)
	}
	rec, ok := t.inventoryRecord(medicineID)
	if !ok {
		return port.ErrNotFound
	}
	rec.Quantity = quantity
	rec.UpdatedAt = time.Now()
	t.inventory[medicineID] = rec
	return nil
}

func (t *memTx) CreateInventory(_ context.Context, rec domain.InventoryRecord) error {
	if rec.Quantity < 0 {
		return fmt.Errorf("inventory %d: negative quantity %d", rec.MedicineID, rec.Quantity)
	}
	if _, ok := t.inventoryRecord(rec.MedicineID); ok {
		return fmt.Errorf("inventory %d already exists", rec.MedicineID)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	t.inventory[rec.MedicineID] = rec
	return nil
}

func (t *memTx) GetMedicine(_ context.Context, id int64) (*domain.Medicine, error) {
	m, ok := t.medicine(id)
	if !ok {
		return nil, port.ErrNotFound
	}
	return &m, nil
}

func (t *memTx) medicine(id int64) (domain.Medicine, bool) {
	if m, ok := t.medicines[id]; ok {
		return m, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	m, ok := t.store.medicines[id]
	return m, ok
}

func (t *memTx) CustomerExists(_ context.Context, id int64) (bool, error) {
	for _, c := range t.customers {
		if c.ID == id {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.customers[id]
	return ok, nil
}

func (t *memTx) FindSameProduct(_ context.Context, m domain.Medicine) (*domain.Medicine, error) {
	for _, existing := range t.medicines {
		if existing.SameProduct(m) {
			return &existing, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, existing := range t.store.medicines {
		if existing.SameProduct(m) {
			return &existing, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertMedicine(_ context.Context, m *domain.Medicine) error {
	m.ID = t.store.medicineSeq.Add(1)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	t.medicines[m.ID] = *m
	return nil
}

func (t *memTx) UpdateMedicinePrice(_ context.Context, id int64, price decimal.Decimal) error {
	m, ok := t.medicine(id)
	if !ok {
		return port.ErrNotFound
	}
	m.UnitPrice = price
	t.medicines[id] = m
	return nil
}

func (t *memTx) SetMedicineActive(_ context.Context, id int64, active bool, retiredAt *time.Time) error {
	m, ok := t.medicine(id)
	if !ok {
		return port.ErrNotFound
	}
	m.Active = active
	m.RetiredAt = retiredAt
	t.medicines[id] = m
	return nil
}

func (t *memTx) SupplierExists(_ context.Context, s domain.Supplier) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, existing := range t.store.suppliers {
		if sameSupplier(existing, s) {
			return true, nil
		}
	}
	for _, existing := range t.suppliers {
		if sameSupplier(existing, s) {
			return true, nil
		}
	}
	return false, nil
}

func sameSupplier(a, b domain.Supplier) bool {
	return a.Name == b.Name ||
		(a.Email != "" && a.Email == b.Email) ||
		(a.Phone != "" && a.Phone == b.Phone)
}

func (t *memTx) InsertSupplier(_ context.Context, s *domain.Supplier) error {
	s.ID = t.store.supplierSeq.Add(1)
	t.suppliers = append(t.suppliers, *s)
	return nil
}

func (t *memTx) InsertCustomer(_ context.Context, c *domain.Customer) error {
	c.ID = t.store.customerSeq.Add(1)
	t.customers = append(t.customers, *c)
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	o.ID = t.store.orderSeq.Add(1)
	for i := range o.Lines {
		o.Lines[i].OrderID = o.ID
	}
	stored := *o
	stored.Lines = slices.Clone(o.Lines)
	t.orders = append(t.orders, stored)
	return nil
}

func (t *memTx) Append(_ context.Context, e *domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	t.audit = append(t.audit, *e)
	return nil
}

func (s *MemoryStore) GetMedicine(_ context.Context, id int64) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.medicines[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) GetInventory(_ context.Context, medicineID int64) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.inventory[medicineID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListInventory(_ context.Context, includeInactive bool) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.InventoryItem, 0, len(s.medicines))
	for id, m := range s.medicines {
		if !m.Active && !includeInactive {
			continue
		}
		items = append(items, domain.InventoryItem{Medicine: m, Quantity: s.inventory[id].Quantity})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Medicine.ID < items[j].Medicine.ID
	})
	return items, nil
}

func (s *MemoryStore) LowStock(_ context.Context) ([]domain.LowStockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []domain.LowStockItem
	for id, rec := range s.inventory {
		m, ok := s.medicines[id]
		if !ok || !rec.BelowThreshold() {
			continue
		}
		items = append(items, domain.LowStockItem{
			MedicineID:   id,
			Name:         m.Name,
			Quantity:     rec.Quantity,
			MinThreshold: rec.MinThreshold,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Quantity != items[j].Quantity {
			return items[i].Quantity < items[j].Quantity
		}
		return items[i].MedicineID < items[j].MedicineID
	})
	return items, nil
}

func (s *MemoryStore) ListExpiringBefore(_ context.Context, before time.Time) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var meds []domain.Medicine
	for _, m := range s.medicines {
		if m.ExpiryDate != nil && m.ExpiryDate.Before(before) {
			meds = append(meds, m)
		}
	}
	sort.Slice(meds, func(i, j int) bool {
		if !meds[i].ExpiryDate.Equal(*meds[j].ExpiryDate) {
			return meds[i].ExpiryDate.Before(*meds[j].ExpiryDate)
		}
		return meds[i].ID < meds[j].ID
	})
	return meds, nil
}

func (s *MemoryStore) AboveAveragePrice(_ context.Context) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.medicines) == 0 {
		return nil, nil
	}
	sum := decimal.Zero
	for _, m := range s.medicines {
		sum = sum.Add(m.UnitPrice)
	}
	// price > sum/n, compared without dividing
	n := decimal.NewFromInt(int64(len(s.medicines)))
	var meds []domain.Medicine
	for _, m := range s.medicines {
		if m.UnitPrice.Mul(n).GreaterThan(sum) {
			meds = append(meds, m)
		}
	}
	sort.Slice(meds, func(i, j int) bool {
		if !meds[i].UnitPrice.Equal(meds[j].UnitPrice) {
			return meds[i].UnitPrice.GreaterThan(meds[j].UnitPrice)
		}
		return meds[i].ID < meds[j].ID
	})
	return meds, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		o.Lines = slices.Clone(o.Lines)
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID > orders[j].ID
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *MemoryStore) ListOrdersSince(_ context.Context, since time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []domain.Order
	for _, o := range s.orders {
		if o.CreatedAt.Before(since) {
			continue
		}
		o.Lines = nil
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func (s *MemoryStore) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		suppliers = append(suppliers, sup)
	}
	sort.Slice(suppliers, func(i, j int) bool {
		return suppliers[i].Name < suppliers[j].Name
	})
	return suppliers, nil
}

func (s *MemoryStore) SupplierPerformance(_ context.Context) ([]domain.SupplierPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySupplier := make(map[int64]*domain.SupplierPerformance, len(s.suppliers))
	sums := make(map[int64]decimal.Decimal, len(s.suppliers))
	for id, sup := range s.suppliers {
		bySupplier[id] = &domain.SupplierPerformance{SupplierID: id, Name: sup.Name}
	}
	for _, m := range s.medicines {
		if m.SupplierID == nil {
			continue
		}
		p, ok := bySupplier[*m.SupplierID]
		if !ok {
			continue
		}
		p.MedicinesCount++
		sums[p.SupplierID] = sums[p.SupplierID].Add(m.UnitPrice)
		if m.UnitPrice.GreaterThan(p.MaxPrice) {
			p.MaxPrice = m.UnitPrice
		}
	}

	perf := make([]domain.SupplierPerformance, 0, len(bySupplier))
	for _, p := range bySupplier {
		if p.MedicinesCount > 0 {
			p.AvgPrice = sums[p.SupplierID].DivRound(decimal.NewFromInt(p.MedicinesCount), 2)
		}
		perf = append(perf, *p)
	}
	sort.Slice(perf, func(i, j int) bool {
		if perf[i].MedicinesCount != perf[j].MedicinesCount {
			return perf[i].MedicinesCount > perf[j].MedicinesCount
		}
		return perf[i].SupplierID < perf[j].SupplierID
	})
	return perf, nil
}

func (s *MemoryStore) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool {
		return customers[i].Name < customers[j].Name
	})
	return customers, nil
}

func (s *MemoryStore) RecentAudit(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, len(s.audit))
	if limit <= 0 {
		n = len(s.audit)
	}
	entries := make([]domain.AuditEntry, 0, n)
	for i := len(s.audit) - 1; i >= 0 && len(entries) < n; i-- {
		entries = append(entries, s.audit[i])
	}
	return entries, nil
}

func (s *MemoryStore) UnpublishedAudit(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []domain.AuditEntry
	for _, e := range s.audit {
		if e.PublishedAt != nil {
			continue
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (s *MemoryStore) MarkAuditPublished(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.audit {
		if slices.Contains(ids, s.audit[i].ID) && s.audit[i].PublishedAt == nil {
			published := at
			s.audit[i].PublishedAt = &published
		}
	}
	return nil
}

// Seed writes fixtures outside of any unit of work. Zero ids are assigned.
func (s *MemoryStore) Seed(meds []domain.Medicine, inv []domain.InventoryRecord, customers []domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range meds {
		if m.ID == 0 {
			m.ID = s.medicineSeq.Add(1)
		} else if m.ID > s.medicineSeq.Load() {
			s.medicineSeq.Store(m.ID)
		}
		s.medicines[m.ID] = m
	}
	for _, rec := range inv {
		if _, ok := s.medicines[rec.MedicineID]; !ok {
			return errors.New("seed inventory for unknown medicine")
		}
		if rec.Quantity < 0 {
			return fmt.Errorf("seed inventory %d: negative quantity", rec.MedicineID)
		}
		s.inventory[rec.MedicineID] = rec
	}
	for _, c := range customers {
		if c.ID == 0 {
			c.ID = s.customerSeq.Add(1)
		} else if c.ID > s.customerSeq.Load() {
			s.customerSeq.Store(c.ID)
		}
		s.customers[c.ID] = c
	}
	return nil
}

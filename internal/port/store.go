package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
)

// Infrastructure facts returned by stores; services translate them into domain errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrLockTimeout = errors.New("lock wait timeout")
	ErrConflict    = errors.New("transaction conflict")
)

// TxRunner runs fn as one unit of work. Everything fn writes through tx commits
// together when fn returns nil and is discarded otherwise. Row locks taken through
// tx are held until the unit of work ends.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	CatalogTx
	InventoryTx
	OrderWriter
	AuditRecorder
}

type CatalogTx interface {
	// GetMedicine returns ErrNotFound when the medicine does not exist.
	GetMedicine(ctx context.Context, id int64) (*domain.Medicine, error)
	CustomerExists(ctx context.Context, id int64) (bool, error)

	// FindSameProduct returns nil when no medicine matches the registration dedupe rule.
	FindSameProduct(ctx context.Context, m domain.Medicine) (*domain.Medicine, error)
	InsertMedicine(ctx context.Context, m *domain.Medicine) error
	UpdateMedicinePrice(ctx context.Context, id int64, price decimal.Decimal) error
	SetMedicineActive(ctx context.Context, id int64, active bool, retiredAt *time.Time) error

	SupplierExists(ctx context.Context, s domain.Supplier) (bool, error)
	InsertSupplier(ctx context.Context, s *domain.Supplier) error
	InsertCustomer(ctx context.Context, c *domain.Customer) error
}

type InventoryTx interface {
	// LockInventory takes the per-medicine row lock and returns the record under it.
	// The lock is taken even when the record is missing, in which case ErrNotFound is
	// returned. A lock wait that outlives the store's timeout returns ErrLockTimeout.
	LockInventory(ctx context.Context, medicineID int64) (*domain.InventoryRecord, error)
	SetQuantity(ctx context.Context, medicineID, quantity int64) error
	CreateInventory(ctx context.Context, rec domain.InventoryRecord) error
}

type OrderWriter interface {
	// InsertOrder persists the order and its lines, assigning order.ID.
	InsertOrder(ctx context.Context, order *domain.Order) error
}

type AuditRecorder interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
}

// Repository serves the reads of the CRUD and reporting collaborators.
type Repository interface {
	GetMedicine(ctx context.Context, id int64) (*domain.Medicine, error)
	GetInventory(ctx context.Context, medicineID int64) (*domain.InventoryRecord, error)
	ListInventory(ctx context.Context, includeInactive bool) ([]domain.InventoryItem, error)
	LowStock(ctx context.Context) ([]domain.LowStockItem, error)
	// ListExpiringBefore returns medicines whose expiry date is before the given instant.
	ListExpiringBefore(ctx context.Context, before time.Time) ([]domain.Medicine, error)
	// AboveAveragePrice returns medicines priced strictly above the catalog average,
	// most expensive first.
	AboveAveragePrice(ctx context.Context) ([]domain.Medicine, error)

	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	// ListOrdersSince returns order headers without lines.
	ListOrdersSince(ctx context.Context, since time.Time) ([]domain.Order, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	SupplierPerformance(ctx context.Context) ([]domain.SupplierPerformance, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// AuditOutbox exposes committed audit entries that have not been relayed yet.
type AuditOutbox interface {
	UnpublishedAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	MarkAuditPublished(ctx context.Context, ids []int64, at time.Time) error
}

// Store is what a storage adapter provides as a whole.
type Store interface {
	TxRunner
	Repository
	AuditOutbox
}

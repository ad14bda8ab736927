package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

type dialect interface {
	name() string
	driverName() string
	rebind(query string) string
	setLockTimeout(ctx context.Context, tx *sql.Tx, d time.Duration) error
	insertID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error)
	classify(err error) error
	schema() []string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres", "pgx":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

var _ port.Store = (*SQLStore)(nil)

// SQLStore implements port.Store on MySQL or PostgreSQL. Inventory rows are locked
// with SELECT ... FOR UPDATE and held until the transaction ends.
type SQLStore struct {
	db          *sql.DB
	d           dialect
	lockTimeout time.Duration
	txTimeout   time.Duration
}

type SQLOption func(*SQLStore)

func WithLockTimeout(d time.Duration) SQLOption {
	return func(s *SQLStore) {
		s.lockTimeout = d
	}
}

func WithTxTimeout(d time.Duration) SQLOption {
	return func(s *SQLStore) {
		s.txTimeout = d
	}
}

// OpenDB opens and pings a database for the given driver ("mysql" or "postgres").
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name(), err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name(), err)
	}
	return db, nil
}

func NewSQLStore(db *sql.DB, driver string, opts ...SQLOption) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{
		db:          db,
		d:           d,
		lockTimeout: DefaultLockTimeout,
		txTimeout:   DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate creates the schema when it does not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.name(), err)
		}
	}
	return nil
}

func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) (err error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", s.d.classify(err))
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err := s.d.setLockTimeout(ctx, sqlTx, s.lockTimeout); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if err := fn(ctx, &sqlTxn{tx: sqlTx, d: s.d}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", s.d.classify(err))
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

const medicineColumns = `id, name, form, strength, unit_price, supplier_id, expiry_date, active, retired_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(row rowScanner) (*domain.Medicine, error) {
	var (
		m         domain.Medicine
		supplier  sql.NullInt64
		expiry    sql.NullTime
		retiredAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Form, &m.Strength, &m.UnitPrice,
		&supplier, &expiry, &m.Active, &retiredAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	if supplier.Valid {
		m.SupplierID = &supplier.Int64
	}
	if expiry.Valid {
		day := domain.Day(expiry.Time)
		m.ExpiryDate = &day
	}
	if retiredAt.Valid {
		m.RetiredAt = &retiredAt.Time
	}
	return &m, nil
}

func (s *SQLStore) GetMedicine(ctx context.Context, id int64) (*domain.Medicine, error) {
	m, err := scanMedicine(s.queryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query medicine: %w", err)
	}
	return m, nil
}

func (s *SQLStore) GetInventory(ctx context.Context, medicineID int64) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := s.queryRow(ctx, `
		SELECT medicine_id, quantity, min_threshold, updated_at
		FROM inventory WHERE medicine_id = ?`, medicineID,
	).Scan(&rec.MedicineID, &rec.Quantity, &rec.MinThreshold, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) ListInventory(ctx context.Context, includeInactive bool) ([]domain.InventoryItem, error) {
	query := `
		SELECT m.id, m.name, m.form, m.strength, m.unit_price, m.supplier_id, m.expiry_date,
		       m.active, m.retired_at, m.created_at, COALESCE(i.quantity, 0)
		FROM medicines m
		LEFT JOIN inventory i ON i.medicine_id = m.id`
	if !includeInactive {
		query += ` WHERE m.active = TRUE`
	}
	query += ` ORDER BY m.id`

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var (
			item      domain.InventoryItem
			supplier  sql.NullInt64
			expiry    sql.NullTime
			retiredAt sql.NullTime
		)
		m := &item.Medicine
		if err := rows.Scan(&m.ID, &m.Name, &m.Form, &m.Strength, &m.UnitPrice, &supplier, &expiry,
			&m.Active, &retiredAt, &m.CreatedAt, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		if supplier.Valid {
			m.SupplierID = &supplier.Int64
		}
		if expiry.Valid {
			day := domain.Day(expiry.Time)
			m.ExpiryDate = &day
		}
		if retiredAt.Valid {
			m.RetiredAt = &retiredAt.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLStore) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	rows, err := s.query(ctx, `
		SELECT m.id, m.name, i.quantity, i.min_threshold
		FROM inventory i
		JOIN medicines m ON m.id = i.medicine_id
		WHERE i.quantity <= i.min_threshold
		ORDER BY i.quantity ASC, m.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var items []domain.LowStockItem
	for rows.Next() {
		var it domain.LowStockItem
		if err := rows.Scan(&it.MedicineID, &it.Name, &it.Quantity, &it.MinThreshold); err != nil {
			return nil, fmt.Errorf("scan low stock: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLStore) ListExpiringBefore(ctx context.Context, before time.Time) ([]domain.Medicine, error) {
	rows, err := s.query(ctx, `
		SELECT `+medicineColumns+` FROM medicines
		WHERE expiry_date IS NOT NULL AND expiry_date < ?
		ORDER BY expiry_date ASC, id ASC`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("query expiring: %w", err)
	}
	defer rows.Close()

	var meds []domain.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		meds = append(meds, *m)
	}
	return meds, rows.Err()
}

func (s *SQLStore) AboveAveragePrice(ctx context.Context) ([]domain.Medicine, error) {
	rows, err := s.query(ctx, `
		SELECT `+medicineColumns+` FROM medicines
		WHERE unit_price > (SELECT AVG(unit_price) FROM medicines)
		ORDER BY unit_price DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query above average price: %w", err)
	}
	defer rows.Close()

	var meds []domain.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		meds = append(meds, *m)
	}
	return meds, rows.Err()
}

const orderColumns = `id, customer_id, created_at, total_amount, status`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o        domain.Order
		customer sql.NullInt64
	)
	if err := row.Scan(&o.ID, &customer, &o.CreatedAt, &o.TotalAmount, &o.Status); err != nil {
		return o, err
	}
	if customer.Valid {
		o.CustomerID = &customer.Int64
	}
	return o, nil
}

func (s *SQLStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := scanOrder(s.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	orders := []domain.Order{o}
	if err := s.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (s *SQLStore) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	orders, err := s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	if err := s.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SQLStore) ListOrdersSince(ctx context.Context, since time.Time) ([]domain.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE created_at >= ? ORDER BY id`, since.UTC())
}

func (s *SQLStore) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLStore) attachLines(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[int64]int, len(orders))
	args := make([]any, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		args[i] = o.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orders)), ",")

	rows, err := s.query(ctx, `
		SELECT order_id, medicine_id, quantity, unit_price, line_total
		FROM order_lines WHERE order_id IN (`+placeholders+`)
		ORDER BY order_id, line_no`, args...)
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.OrderID, &l.MedicineID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		i := index[l.OrderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return rows.Err()
}

func (s *SQLStore) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.query(ctx, `SELECT id, name, email, phone, created_at FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []domain.Supplier
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Email, &sup.Phone, &sup.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}

func (s *SQLStore) SupplierPerformance(ctx context.Context) ([]domain.SupplierPerformance, error) {
	rows, err := s.query(ctx, `
		SELECT s.id, s.name, COUNT(m.id), AVG(m.unit_price), MAX(m.unit_price)
		FROM suppliers s
		LEFT JOIN medicines m ON m.supplier_id = s.id
		GROUP BY s.id, s.name
		ORDER BY COUNT(m.id) DESC, s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query supplier performance: %w", err)
	}
	defer rows.Close()

	var perf []domain.SupplierPerformance
	for rows.Next() {
		var (
			p        domain.SupplierPerformance
			avg, top decimal.NullDecimal
		)
		if err := rows.Scan(&p.SupplierID, &p.Name, &p.MedicinesCount, &avg, &top); err != nil {
			return nil, fmt.Errorf("scan supplier performance: %w", err)
		}
		if avg.Valid {
			p.AvgPrice = avg.Decimal.Round(2)
		}
		if top.Valid {
			p.MaxPrice = top.Decimal
		}
		perf = append(perf, p)
	}
	return perf, rows.Err()
}

func (s *SQLStore) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.query(ctx, `SELECT id, name, phone, email, address, created_at FROM customers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

const auditColumns = `id, actor, action, object_name, detail, created_at, published_at`

func (s *SQLStore) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
}

func (s *SQLStore) UnpublishedAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return s.listAudit(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE published_at IS NULL ORDER BY id LIMIT ?`, limit)
}

func (s *SQLStore) listAudit(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e         domain.AuditEntry
			published sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Object, &e.Detail, &e.CreatedAt, &published); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if published.Valid {
			e.PublishedAt = &published.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLStore) MarkAuditPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		UPDATE audit_log SET published_at = ?
		WHERE published_at IS NULL AND id IN (`+placeholders+`)`), args...)
	if err != nil {
		return fmt.Errorf("mark audit published: %w", err)
	}
	return nil
}

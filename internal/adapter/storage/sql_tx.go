package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

// sqlTxn is the port.Tx handed to a unit of work.
type sqlTxn struct {
	tx *sql.Tx
	d  dialect
}

func (t *sqlTxn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.d.rebind(query), args...)
	if err != nil {
		return nil, t.d.classify(err)
	}
	return res, nil
}

func (t *sqlTxn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(query), args...)
}

func (t *sqlTxn) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	id, err := t.d.insertID(ctx, t.tx, t.d.rebind(query), args...)
	if err != nil {
		return 0, t.d.classify(err)
	}
	return id, nil
}

func (t *sqlTxn) LockInventory(ctx context.Context, medicineID int64) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := t.queryRow(ctx, `
		SELECT medicine_id, quantity, min_threshold, updated_at
		FROM inventory WHERE medicine_id = ?
		FOR UPDATE`, medicineID,
	).Scan(&rec.MedicineID, &rec.Quantity, &rec.MinThreshold, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock inventory %d: %w", medicineID, t.d.classify(err))
	}
	return &rec, nil
}

func (t *sqlTxn) SetQuantity(ctx context.Context, medicineID, quantity int64) error {
	if quantity < 0 {
		return fmt.Errorf("inventory %d: negative quantity %d", medicineID, quantity)
	}
	res, err := t.exec(ctx, `
		UPDATE inventory SET quantity = ?, updated_at = ?
		WHERE medicine_id = ?`, quantity, time.Now().UTC(), medicineID)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return port.ErrNotFound
	}
	return nil
}

func (t *sqlTxn) CreateInventory(ctx context.Context, rec domain.InventoryRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := t.exec(ctx, `
		INSERT INTO inventory (medicine_id, quantity, min_threshold, updated_at)
		VALUES (?, ?, ?, ?)`,
		rec.MedicineID, rec.Quantity, rec.MinThreshold, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

// GetMedicine reads under a shared lock so the row cannot change before commit.
func (t *sqlTxn) GetMedicine(ctx context.Context, id int64) (*domain.Medicine, error) {
	m, err := scanMedicine(t.queryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = ? FOR SHARE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query medicine %d: %w", id, t.d.classify(err))
	}
	return m, nil
}

func (t *sqlTxn) CustomerExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := t.queryRow(ctx, `SELECT COUNT(*) FROM customers WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query customer: %w", t.d.classify(err))
	}
	return n > 0, nil
}

func (t *sqlTxn) FindSameProduct(ctx context.Context, m domain.Medicine) (*domain.Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines
		WHERE LOWER(name) = LOWER(?) AND LOWER(form) = LOWER(?) AND LOWER(strength) = LOWER(?)`
	args := []any{m.Name, m.Form, m.Strength}
	if m.ExpiryDate == nil {
		query += ` AND expiry_date IS NULL`
	} else {
		query += ` AND expiry_date = ?`
		args = append(args, domain.Day(*m.ExpiryDate))
	}
	query += ` ORDER BY id LIMIT 1`

	found, err := scanMedicine(t.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query same product: %w", t.d.classify(err))
	}
	return found, nil
}

func (t *sqlTxn) InsertMedicine(ctx context.Context, m *domain.Medicine) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var expiry any
	if m.ExpiryDate != nil {
		expiry = domain.Day(*m.ExpiryDate)
	}
	id, err := t.insertID(ctx, `
		INSERT INTO medicines (name, form, strength, unit_price, supplier_id, expiry_date, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Form, m.Strength, m.UnitPrice, m.SupplierID, expiry, m.Active, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert medicine: %w", err)
	}
	m.ID = id
	return nil
}

func (t *sqlTxn) UpdateMedicinePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	// MySQL reports zero affected rows for an unchanged price, so existence is the caller's check.
	if _, err := t.exec(ctx, `UPDATE medicines SET unit_price = ? WHERE id = ?`, price, id); err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	return nil
}

func (t *sqlTxn) SetMedicineActive(ctx context.Context, id int64, active bool, retiredAt *time.Time) error {
	var retired any
	if retiredAt != nil {
		retired = retiredAt.UTC()
	}
	res, err := t.exec(ctx, `UPDATE medicines SET active = ?, retired_at = ? WHERE id = ?`, active, retired, id)
	if err != nil {
		return fmt.Errorf("update medicine state: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return port.ErrNotFound
	}
	return nil
}

func (t *sqlTxn) SupplierExists(ctx context.Context, s domain.Supplier) (bool, error) {
	var n int
	err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM suppliers
		WHERE name = ? OR (email <> '' AND email = ?) OR (phone <> '' AND phone = ?)`,
		s.Name, s.Email, s.Phone,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query supplier: %w", t.d.classify(err))
	}
	return n > 0, nil
}

func (t *sqlTxn) InsertSupplier(ctx context.Context, s *domain.Supplier) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	id, err := t.insertID(ctx, `
		INSERT INTO suppliers (name, email, phone, created_at) VALUES (?, ?, ?, ?)`,
		s.Name, s.Email, s.Phone, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert supplier: %w", err)
	}
	s.ID = id
	return nil
}

func (t *sqlTxn) InsertCustomer(ctx context.Context, c *domain.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	id, err := t.insertID(ctx, `
		INSERT INTO customers (name, phone, email, address, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.Name, c.Phone, c.Email, c.Address, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	c.ID = id
	return nil
}

func (t *sqlTxn) InsertOrder(ctx context.Context, o *domain.Order) error {
	id, err := t.insertID(ctx, `
		INSERT INTO orders (customer_id, created_at, total_amount, status) VALUES (?, ?, ?, ?)`,
		o.CustomerID, o.CreatedAt.UTC(), o.TotalAmount, string(o.Status))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	o.ID = id

	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = id
		if _, err := t.exec(ctx, `
			INSERT INTO order_lines (order_id, line_no, medicine_id, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, i+1, l.MedicineID, l.Quantity, l.UnitPrice, l.LineTotal); err != nil {
			return fmt.Errorf("insert order line %d: %w", i+1, err)
		}
	}
	return nil
}

func (t *sqlTxn) Append(ctx context.Context, e *domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	id, err := t.insertID(ctx, `
		INSERT INTO audit_log (actor, action, object_name, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Actor, string(e.Action), string(e.Object), e.Detail, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	e.ID = id
	return nil
}

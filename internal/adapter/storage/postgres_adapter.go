package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rl1809/pharmacy-orders/internal/port"
)

// SQLSTATE codes the store reacts to.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

// driverName is the database/sql name registered by pgx/v5/stdlib.
func (postgresDialect) driverName() string { return "pgx" }

// rebind turns ? placeholders into $n.
func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresDialect) setLockTimeout(ctx context.Context, tx *sql.Tx, d time.Duration) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds()))
	return err
}

func (postgresDialect) insertID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
	return id, err
}

func (postgresDialect) classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgLockNotAvailable:
		return fmt.Errorf("%w: %v", port.ErrLockTimeout, err)
	case pgDeadlockDetected, pgSerializationFailure, pgUniqueViolation:
		return fmt.Errorf("%w: %v", port.ErrConflict, err)
	}
	return err
}

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS suppliers (
			id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			email VARCHAR(200) NOT NULL DEFAULT '',
			phone VARCHAR(50) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS medicines (
			id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			form VARCHAR(100) NOT NULL DEFAULT '',
			strength VARCHAR(100) NOT NULL DEFAULT '',
			unit_price NUMERIC(12,2) NOT NULL CHECK (unit_price >= 0),
			supplier_id BIGINT NULL REFERENCES suppliers(id),
			expiry_date DATE NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			retired_at TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			medicine_id BIGINT PRIMARY KEY REFERENCES medicines(id),
			quantity BIGINT NOT NULL CHECK (quantity >= 0),
			min_threshold BIGINT NOT NULL DEFAULT 10,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			phone VARCHAR(50) NOT NULL DEFAULT '',
			email VARCHAR(200) NOT NULL DEFAULT '',
			address VARCHAR(500) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			customer_id BIGINT NULL REFERENCES customers(id),
			created_at TIMESTAMPTZ NOT NULL,
			total_amount NUMERIC(14,2) NOT NULL,
			status VARCHAR(20) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			order_id BIGINT NOT NULL REFERENCES orders(id),
			line_no INT NOT NULL,
			medicine_id BIGINT NOT NULL REFERENCES medicines(id),
			quantity BIGINT NOT NULL CHECK (quantity > 0),
			unit_price NUMERIC(12,2) NOT NULL,
			line_total NUMERIC(14,2) NOT NULL,
			PRIMARY KEY (order_id, line_no)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			actor VARCHAR(100) NOT NULL,
			action VARCHAR(20) NOT NULL,
			object_name VARCHAR(40) NOT NULL,
			detail VARCHAR(1000) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_unpublished ON audit_log (id) WHERE published_at IS NULL`,
	}
}

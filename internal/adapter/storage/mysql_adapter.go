package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/pharmacy-orders/internal/port"
)

// MySQL server error numbers the store reacts to.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) rebind(query string) string { return query }

func (mysqlDialect) setLockTimeout(ctx context.Context, tx *sql.Tx, d time.Duration) error {
	// innodb_lock_wait_timeout has whole-second granularity.
	secs := max(1, int(math.Ceil(d.Seconds())))
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs))
	return err
}

func (mysqlDialect) insertID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (mysqlDialect) classify(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case mysqlErrLockWaitTimeout:
		return fmt.Errorf("%w: %v", port.ErrLockTimeout, err)
	case mysqlErrDeadlock, mysqlErrDupEntry:
		return fmt.Errorf("%w: %v", port.ErrConflict, err)
	}
	return err
}

func (mysqlDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS suppliers (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			email VARCHAR(200) NOT NULL DEFAULT '',
			phone VARCHAR(50) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS medicines (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			form VARCHAR(100) NOT NULL DEFAULT '',
			strength VARCHAR(100) NOT NULL DEFAULT '',
			unit_price DECIMAL(12,2) NOT NULL,
			supplier_id BIGINT NULL,
			expiry_date DATE NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			retired_at DATETIME(6) NULL,
			created_at DATETIME(6) NOT NULL,
			CONSTRAINT chk_medicines_price CHECK (unit_price >= 0),
			CONSTRAINT fk_medicines_supplier FOREIGN KEY (supplier_id) REFERENCES suppliers(id)
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			medicine_id BIGINT PRIMARY KEY,
			quantity BIGINT NOT NULL,
			min_threshold BIGINT NOT NULL DEFAULT 10,
			updated_at DATETIME(6) NOT NULL,
			CONSTRAINT chk_inventory_quantity CHECK (quantity >= 0),
			CONSTRAINT fk_inventory_medicine FOREIGN KEY (medicine_id) REFERENCES medicines(id)
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			phone VARCHAR(50) NOT NULL DEFAULT '',
			email VARCHAR(200) NOT NULL DEFAULT '',
			address VARCHAR(500) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			customer_id BIGINT NULL,
			created_at DATETIME(6) NOT NULL,
			total_amount DECIMAL(14,2) NOT NULL,
			status VARCHAR(20) NOT NULL,
			INDEX idx_orders_created_at (created_at),
			CONSTRAINT fk_orders_customer FOREIGN KEY (customer_id) REFERENCES customers(id)
		)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			order_id BIGINT NOT NULL,
			line_no INT NOT NULL,
			medicine_id BIGINT NOT NULL,
			quantity BIGINT NOT NULL,
			unit_price DECIMAL(12,2) NOT NULL,
			line_total DECIMAL(14,2) NOT NULL,
			PRIMARY KEY (order_id, line_no),
			CONSTRAINT chk_order_lines_quantity CHECK (quantity > 0),
			CONSTRAINT fk_order_lines_order FOREIGN KEY (order_id) REFERENCES orders(id),
			CONSTRAINT fk_order_lines_medicine FOREIGN KEY (medicine_id) REFERENCES medicines(id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			actor VARCHAR(100) NOT NULL,
			action VARCHAR(20) NOT NULL,
			object_name VARCHAR(40) NOT NULL,
			detail VARCHAR(1000) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			published_at DATETIME(6) NULL,
			INDEX idx_audit_unpublished (published_at, id)
		)`,
	}
}

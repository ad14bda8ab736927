package domain

import (
	"errors"
	"fmt"
)

// Structural errors are raised before any lock is taken.
var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrLineCountMismatch = errors.New("item and quantity lists differ in length")
	ErrInvalidInput      = errors.New("invalid input")
)

// Business-rule and data-integrity failures.
var (
	ErrMedicineNotFound  = errors.New("medicine not found")
	ErrExpiredMedicine   = errors.New("cannot sell expired medicine")
	ErrMedicineRetired   = errors.New("medicine is retired")
	ErrInventoryMissing  = errors.New("inventory record missing")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateRequest  = errors.New("duplicate request")
)

// ErrContention marks lock-wait timeouts and commit conflicts. The whole call may be retried.
var ErrContention = errors.New("inventory contention")

// LineError carries the medicine a failure refers to. Available and Requested are only
// meaningful for ErrInsufficientStock.
type LineError struct {
	MedicineID int64
	Available  int64
	Requested  int64
	Err        error
}

func (e *LineError) Error() string {
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("%v: medicine %d has %d, requested %d", e.Err, e.MedicineID, e.Available, e.Requested)
	}
	return fmt.Sprintf("%v: medicine %d", e.Err, e.MedicineID)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

func MedicineNotFound(id int64) error {
	return &LineError{MedicineID: id, Err: ErrMedicineNotFound}
}

func ExpiredMedicine(id int64) error {
	return &LineError{MedicineID: id, Err: ErrExpiredMedicine}
}

func MedicineRetired(id int64) error {
	return &LineError{MedicineID: id, Err: ErrMedicineRetired}
}

func InventoryRecordMissing(id int64) error {
	return &LineError{MedicineID: id, Err: ErrInventoryMissing}
}

func InsufficientStock(id, available, requested int64) error {
	return &LineError{MedicineID: id, Available: available, Requested: requested, Err: ErrInsufficientStock}
}

// IsRetryable reports whether resubmitting the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// ErrorCode maps an error to a stable code for transports and metric labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLineCountMismatch):
		return "line_count_mismatch"
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrInvalidInput):
		return "invalid_request"
	case errors.Is(err, ErrMedicineNotFound):
		return "medicine_not_found"
	case errors.Is(err, ErrExpiredMedicine):
		return "expired_medicine"
	case errors.Is(err, ErrMedicineRetired):
		return "medicine_retired"
	case errors.Is(err, ErrInventoryMissing):
		return "inventory_record_missing"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrCustomerNotFound):
		return "customer_not_found"
	case errors.Is(err, ErrContention):
		return "contention"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineError(t *testing.T) {
	err := fmt.Errorf("place order: %w", InsufficientStock(7, 1, 2))

	require.ErrorIs(t, err, ErrInsufficientStock)
	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, int64(7), lineErr.MedicineID)
	assert.Contains(t, err.Error(), "medicine 7 has 1, requested 2")

	assert.Equal(t, "cannot sell expired medicine: medicine 3", ExpiredMedicine(3).Error())
}

func TestErrorCode(t *testing.T) {
	tests := map[string]error{
		"ok":                       nil,
		"line_count_mismatch":      ErrLineCountMismatch,
		"invalid_request":          fmt.Errorf("x: %w", ErrInvalidInput),
		"medicine_not_found":       MedicineNotFound(1),
		"expired_medicine":         ExpiredMedicine(1),
		"medicine_retired":         MedicineRetired(1),
		"inventory_record_missing": InventoryRecordMissing(1),
		"insufficient_stock":       InsufficientStock(1, 0, 1),
		"customer_not_found":       ErrCustomerNotFound,
		"contention":               fmt.Errorf("op: %w: %w", ErrContention, errors.New("lock wait timeout")),
		"duplicate_request":        ErrDuplicateRequest,
		"internal":                 errors.New("boom"),
	}
	for want, err := range tests {
		assert.Equal(t, want, ErrorCode(err), "error %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("place order: %w", ErrContention)))
	assert.False(t, IsRetryable(InsufficientStock(1, 0, 1)))
	assert.False(t, IsRetryable(nil))
}

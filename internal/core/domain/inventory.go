package domain

import "time"

// DefaultMinThreshold is the reorder threshold given to new inventory records.
const DefaultMinThreshold = 10

type InventoryRecord struct {
	MedicineID   int64
	Quantity     int64
	MinThreshold int64
	UpdatedAt    time.Time
}

func (r InventoryRecord) BelowThreshold() bool {
	return r.Quantity <= r.MinThreshold
}

// LowStockItem is a reporting row joining inventory with the medicine name.
type LowStockItem struct {
	MedicineID   int64
	Name         string
	Quantity     int64
	MinThreshold int64
}

// InventoryItem is the catalog view of a medicine with its on-hand quantity.
type InventoryItem struct {
	Medicine Medicine
	Quantity int64
}

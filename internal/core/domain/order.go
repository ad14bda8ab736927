package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

// OrderStatusCompleted is the only status an order ever has; placement is all-or-nothing.
const OrderStatusCompleted OrderStatus = "COMPLETED"

type Order struct {
	ID          int64
	CustomerID  *int64
	CreatedAt   time.Time
	TotalAmount decimal.Decimal
	Status      OrderStatus
	Lines       []OrderLine
}

type OrderLine struct {
	OrderID    int64
	MedicineID int64
	Quantity   int64
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
}

// LineRequest is one requested (medicine, quantity) pair of a placement.
type LineRequest struct {
	MedicineID int64
	Quantity   int64
}

// LinesFromParallel zips the parallel item/quantity lists accepted by the order endpoints.
func LinesFromParallel(medicineIDs, quantities []int64) ([]LineRequest, error) {
	if len(medicineIDs) != len(quantities) {
		return nil, fmt.Errorf("%w: %d items, %d quantities", ErrLineCountMismatch, len(medicineIDs), len(quantities))
	}
	lines := make([]LineRequest, len(medicineIDs))
	for i := range medicineIDs {
		lines[i] = LineRequest{MedicineID: medicineIDs[i], Quantity: quantities[i]}
	}
	return lines, nil
}

// ValidateLines performs the structural checks done before any lock is taken.
func ValidateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInvalidOrder)
	}
	totals := make(map[int64]int64, len(lines))
	for i, l := range lines {
		if l.MedicineID <= 0 {
			return fmt.Errorf("%w: line %d has no medicine id", ErrInvalidOrder, i+1)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive, got %d", ErrInvalidOrder, i+1, l.Quantity)
		}
		// the per-medicine sum is what gets checked against stock, so it must not wrap
		if totals[l.MedicineID] > math.MaxInt64-l.Quantity {
			return fmt.Errorf("%w: total quantity of medicine %d overflows", ErrInvalidOrder, l.MedicineID)
		}
		totals[l.MedicineID] += l.Quantity
	}
	return nil
}

// RequestedByMedicine sums quantities per medicine id. Lines must have passed ValidateLines.
func RequestedByMedicine(lines []LineRequest) map[int64]int64 {
	totals := make(map[int64]int64, len(lines))
	for _, l := range lines {
		totals[l.MedicineID] += l.Quantity
	}
	return totals
}

// NewOrder prices the lines with the snapshotted unit prices and sums the total.
func NewOrder(customerID *int64, lines []LineRequest, prices map[int64]decimal.Decimal, now time.Time) Order {
	order := Order{
		CustomerID:  customerID,
		CreatedAt:   now,
		TotalAmount: decimal.Zero,
		Status:      OrderStatusCompleted,
		Lines:       make([]OrderLine, 0, len(lines)),
	}
	for _, l := range lines {
		price := prices[l.MedicineID]
		line := OrderLine{
			MedicineID: l.MedicineID,
			Quantity:   l.Quantity,
			UnitPrice:  price,
			LineTotal:  price.Mul(decimal.NewFromInt(l.Quantity)),
		}
		order.TotalAmount = order.TotalAmount.Add(line.LineTotal)
		order.Lines = append(order.Lines, line)
	}
	return order
}

// LinesTotal recomputes the sum of line totals, used to check read-back consistency.
func (o Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.LineTotal)
	}
	return total
}

// DailySales is one row of the sales summary report.
type DailySales struct {
	Day        time.Time
	Orders     int64
	TotalSales decimal.Decimal
	AvgOrder   decimal.Decimal
}

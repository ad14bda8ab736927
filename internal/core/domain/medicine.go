package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Medicine struct {
	ID         int64
	Name       string
	Form       string
	Strength   string
	UnitPrice  decimal.Decimal
	SupplierID *int64
	ExpiryDate *time.Time
	Active     bool
	RetiredAt  *time.Time
	CreatedAt  time.Time
}

// ExpiredAt reports whether the expiry date falls strictly before the UTC day of now.
// A medicine expiring today is still sellable.
func (m Medicine) ExpiredAt(now time.Time) bool {
	if m.ExpiryDate == nil {
		return false
	}
	return Day(*m.ExpiryDate).Before(Day(now))
}

// SameProduct matches the registration dedupe rule: case-insensitive name, form and
// strength with an identical expiry day.
func (m Medicine) SameProduct(other Medicine) bool {
	if !strings.EqualFold(m.Name, other.Name) ||
		!strings.EqualFold(m.Form, other.Form) ||
		!strings.EqualFold(m.Strength, other.Strength) {
		return false
	}
	switch {
	case m.ExpiryDate == nil && other.ExpiryDate == nil:
		return true
	case m.ExpiryDate == nil || other.ExpiryDate == nil:
		return false
	}
	return Day(*m.ExpiryDate).Equal(Day(*other.ExpiryDate))
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

type Supplier struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// SupplierPerformance aggregates the catalog of one supplier.
type SupplierPerformance struct {
	SupplierID     int64
	Name           string
	MedicinesCount int64
	AvgPrice       decimal.Decimal
	MaxPrice       decimal.Decimal
}

type Customer struct {
	ID        int64
	Name      string
	Phone     string
	Email     string
	Address   string
	CreatedAt time.Time
}

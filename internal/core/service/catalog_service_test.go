package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
)

func TestRegisterMedicine(t *testing.T) {
	f := newFixture(t)
	ctx := domain.WithActor(context.Background(), "admin")
	expiry := time.Date(2027, 1, 31, 17, 45, 0, 0, time.UTC)

	med, err := f.catalog.RegisterMedicine(ctx, RegisterMedicineRequest{
		Name:            "  Amoxicillin ",
		Form:            "Capsule",
		Strength:        "250mg",
		UnitPrice:       decimal.RequireFromString("4.555"),
		ExpiryDate:      &expiry,
		InitialQuantity: 40,
	})
	require.NoError(t, err)

	assert.Equal(t, "Amoxicillin", med.Name)
	assert.True(t, med.Active)
	assert.True(t, med.UnitPrice.Equal(decimal.RequireFromString("4.56")), "price %s", med.UnitPrice)
	require.NotNil(t, med.ExpiryDate)
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), *med.ExpiryDate)
	assert.Equal(t, int64(40), f.quantity(t, med.ID))

	entries, err := f.reports.AuditLog(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Equal(t, domain.AuditActionInsert, entries[0].Action)
	assert.Equal(t, domain.AuditObjectMedicines, entries[0].Object)

	_, err = f.catalog.RegisterMedicine(ctx, RegisterMedicineRequest{
		Name: "AMOXICILLIN", Form: "capsule", Strength: "250MG",
		UnitPrice: decimal.NewFromInt(5), ExpiryDate: &expiry,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	other := expiry.AddDate(0, 1, 0)
	_, err = f.catalog.RegisterMedicine(ctx, RegisterMedicineRequest{
		Name: "Amoxicillin", Form: "Capsule", Strength: "250mg",
		UnitPrice: decimal.NewFromInt(5), ExpiryDate: &other,
	})
	assert.NoError(t, err)
}

func TestRegisterMedicine_Invalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  RegisterMedicineRequest
	}{
		{"blank name", RegisterMedicineRequest{Name: "  ", UnitPrice: decimal.NewFromInt(1)}},
		{"negative price", RegisterMedicineRequest{Name: "X", UnitPrice: decimal.NewFromInt(-1)}},
		{"negative quantity", RegisterMedicineRequest{Name: "X", UnitPrice: decimal.NewFromInt(1), InitialQuantity: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.catalog.RegisterMedicine(context.Background(), tc.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Zero(t, f.auditCount(t))
}

func TestUpdatePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	med := f.addMedicine(t, "2.00", 1, nil)

	require.NoError(t, f.catalog.UpdatePrice(ctx, med, decimal.RequireFromString("2.345")))
	stored, err := f.store.GetMedicine(ctx, med)
	require.NoError(t, err)
	assert.True(t, stored.UnitPrice.Equal(decimal.RequireFromString("2.35")))

	entries, err := f.reports.AuditLog(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Medicine %d price 2.00 -> 2.35", med), entries[0].Detail)

	assert.ErrorIs(t, f.catalog.UpdatePrice(ctx, 999, decimal.NewFromInt(1)), domain.ErrMedicineNotFound)
	assert.ErrorIs(t, f.catalog.UpdatePrice(ctx, med, decimal.NewFromInt(-1)), domain.ErrInvalidInput)
}

func TestRegisterSupplier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sup, err := f.catalog.RegisterSupplier(ctx, domain.Supplier{Name: "Acme Pharma", Email: "orders@acme.test", Phone: "555-0100"})
	require.NoError(t, err)
	assert.NotZero(t, sup.ID)

	_, err = f.catalog.RegisterSupplier(ctx, domain.Supplier{Name: "Other", Email: "orders@acme.test"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = f.catalog.RegisterSupplier(ctx, domain.Supplier{Name: "Acme Pharma"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = f.catalog.RegisterSupplier(ctx, domain.Supplier{Name: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.catalog.RegisterSupplier(ctx, domain.Supplier{Name: "Bolt Labs"})
	require.NoError(t, err)

	suppliers, err := f.catalog.ListSuppliers(ctx)
	require.NoError(t, err)
	require.Len(t, suppliers, 2)
	assert.Equal(t, "Acme Pharma", suppliers[0].Name)
}

func TestRegisterCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.RegisterCustomer(ctx, domain.Customer{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	c, err := f.catalog.RegisterCustomer(ctx, domain.Customer{Name: " Ann Lee ", Email: "ann@example.test"})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", c.Name)

	customers, err := f.catalog.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, c.ID, customers[0].ID)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

type RegisterMedicineRequest struct {
	Name            string
	Form            string
	Strength        string
	UnitPrice       decimal.Decimal
	SupplierID      *int64
	ExpiryDate      *time.Time
	InitialQuantity int64
}

// CatalogService manages medicines, suppliers and customers.
type CatalogService struct {
	tx   port.TxRunner
	repo port.Repository
	options
}

func NewCatalogService(tx port.TxRunner, repo port.Repository, opts ...Option) *CatalogService {
	return &CatalogService{tx: tx, repo: repo, options: newOptions(opts)}
}

// RegisterMedicine adds a medicine together with its inventory record. A medicine with
// the same name, form, strength and expiry day is rejected with ErrAlreadyExists.
func (s *CatalogService) RegisterMedicine(ctx context.Context, req RegisterMedicineRequest) (*domain.Medicine, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: medicine name is required", domain.ErrInvalidInput)
	}
	if req.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidInput)
	}
	if req.InitialQuantity < 0 {
		return nil, fmt.Errorf("%w: initial quantity must not be negative", domain.ErrInvalidInput)
	}

	now := s.now()
	med := domain.Medicine{
		Name:       name,
		Form:       strings.TrimSpace(req.Form),
		Strength:   strings.TrimSpace(req.Strength),
		UnitPrice:  req.UnitPrice.Round(2),
		SupplierID: req.SupplierID,
		Active:     true,
		CreatedAt:  now,
	}
	if req.ExpiryDate != nil {
		expiry := domain.Day(*req.ExpiryDate)
		med.ExpiryDate = &expiry
	}

	actor := s.actor(ctx)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		dup, err := tx.FindSameProduct(ctx, med)
		if err != nil {
			return fmt.Errorf("find same product: %w", err)
		}
		if dup != nil {
			return fmt.Errorf("%w: medicine %q matches id %d", domain.ErrAlreadyExists, med.Name, dup.ID)
		}
		if err := tx.InsertMedicine(ctx, &med); err != nil {
			return fmt.Errorf("insert medicine: %w", err)
		}
		if err := tx.CreateInventory(ctx, domain.InventoryRecord{
			MedicineID:   med.ID,
			Quantity:     req.InitialQuantity,
			MinThreshold: domain.DefaultMinThreshold,
			UpdatedAt:    now,
		}); err != nil {
			return fmt.Errorf("create inventory: %w", err)
		}
		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionInsert,
			Object:    domain.AuditObjectMedicines,
			Detail:    fmt.Sprintf("Added medicine %s (id %d) with qty %d", med.Name, med.ID, req.InitialQuantity),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, translate("register medicine", err)
	}
	s.logger.Info("medicine registered", "medicine_id", med.ID, "name", med.Name)
	return &med, nil
}

// UpdatePrice changes the unit price used by future orders. Committed order lines
// keep the price they were sold at.
func (s *CatalogService) UpdatePrice(ctx context.Context, medicineID int64, price decimal.Decimal) error {
	if medicineID <= 0 {
		return fmt.Errorf("%w: medicine id must be positive", domain.ErrInvalidInput)
	}
	if price.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidInput)
	}
	price = price.Round(2)

	actor := s.actor(ctx)
	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context, tx port.Tx) error {
		// Same lock order as order placement: inventory row first, then the medicine.
		if _, err := tx.LockInventory(ctx, medicineID); err != nil && !errors.Is(err, port.ErrNotFound) {
			return fmt.Errorf("lock inventory %d: %w", medicineID, err)
		}
		med, err := tx.GetMedicine(ctx, medicineID)
		if errors.Is(err, port.ErrNotFound) {
			return domain.MedicineNotFound(medicineID)
		}
		if err != nil {
			return fmt.Errorf("get medicine %d: %w", medicineID, err)
		}
		if err := tx.UpdateMedicinePrice(ctx, medicineID, price); err != nil {
			return fmt.Errorf("update price %d: %w", medicineID, err)
		}
		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionUpdate,
			Object:    domain.AuditObjectMedicines,
			Detail:    fmt.Sprintf("Medicine %d price %s -> %s", medicineID, med.UnitPrice.StringFixed(2), price.StringFixed(2)),
			CreatedAt: s.now(),
		})
	})
	if err != nil {
		return translate("update price", err)
	}
	s.logger.Info("medicine price updated", "medicine_id", medicineID, "price", price.String())
	return nil
}

// RegisterSupplier adds a supplier unless one with the same name, email or phone exists.
func (s *CatalogService) RegisterSupplier(ctx context.Context, sup domain.Supplier) (*domain.Supplier, error) {
	sup.Name = strings.TrimSpace(sup.Name)
	sup.Email = strings.TrimSpace(sup.Email)
	sup.Phone = strings.TrimSpace(sup.Phone)
	if sup.Name == "" {
		return nil, fmt.Errorf("%w: supplier name is required", domain.ErrInvalidInput)
	}
	sup.CreatedAt = s.now()

	actor := s.actor(ctx)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		exists, err := tx.SupplierExists(ctx, sup)
		if err != nil {
			return fmt.Errorf("check supplier: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: supplier %q", domain.ErrAlreadyExists, sup.Name)
		}
		if err := tx.InsertSupplier(ctx, &sup); err != nil {
			return fmt.Errorf("insert supplier: %w", err)
		}
		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionInsert,
			Object:    domain.AuditObjectSuppliers,
			Detail:    fmt.Sprintf("Added supplier %s (id %d)", sup.Name, sup.ID),
			CreatedAt: sup.CreatedAt,
		})
	})
	if err != nil {
		return nil, translate("register supplier", err)
	}
	return &sup, nil
}

func (s *CatalogService) RegisterCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", domain.ErrInvalidInput)
	}
	c.CreatedAt = s.now()

	actor := s.actor(ctx)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.InsertCustomer(ctx, &c); err != nil {
			return fmt.Errorf("insert customer: %w", err)
		}
		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionInsert,
			Object:    domain.AuditObjectCustomers,
			Detail:    fmt.Sprintf("Added customer %s (id %d)", c.Name, c.ID),
			CreatedAt: c.CreatedAt,
		})
	})
	if err != nil {
		return nil, translate("register customer", err)
	}
	return &c, nil
}

func (s *CatalogService) ListInventory(ctx context.Context, includeInactive bool) ([]domain.InventoryItem, error) {
	items, err := s.repo.ListInventory(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return items, nil
}

func (s *CatalogService) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	suppliers, err := s.repo.ListSuppliers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	return suppliers, nil
}

func (s *CatalogService) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

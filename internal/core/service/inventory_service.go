package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

// InventoryService owns the stock mutations other than order placement. It takes the
// same per-medicine inventory lock as PlaceOrder, before any medicine read.
type InventoryService struct {
	tx port.TxRunner
	options
}

func NewInventoryService(tx port.TxRunner, opts ...Option) *InventoryService {
	return &InventoryService{tx: tx, options: newOptions(opts)}
}

// AdjustStock adds delta to the on-hand quantity of a medicine. A missing inventory
// record is created on a positive delta. The quantity never goes below zero.
func (s *InventoryService) AdjustStock(ctx context.Context, medicineID, delta int64) (*domain.InventoryRecord, error) {
	if medicineID <= 0 {
		return nil, fmt.Errorf("%w: medicine id must be positive", domain.ErrInvalidInput)
	}
	if delta == 0 {
		return nil, fmt.Errorf("%w: quantity change must not be zero", domain.ErrInvalidInput)
	}
	if delta == math.MinInt64 {
		return nil, fmt.Errorf("%w: quantity change %d out of range", domain.ErrInvalidInput, delta)
	}

	actor := s.actor(ctx)
	var result domain.InventoryRecord
	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context, tx port.Tx) error {
		rec, err := tx.LockInventory(ctx, medicineID)
		missing := errors.Is(err, port.ErrNotFound)
		if err != nil && !missing {
			return fmt.Errorf("lock inventory %d: %w", medicineID, err)
		}

		med, err := tx.GetMedicine(ctx, medicineID)
		if errors.Is(err, port.ErrNotFound) {
			return domain.MedicineNotFound(medicineID)
		}
		if err != nil {
			return fmt.Errorf("get medicine %d: %w", medicineID, err)
		}
		if !med.Active {
			return domain.MedicineRetired(medicineID)
		}

		now := s.now()
		if missing {
			if delta < 0 {
				return domain.InsufficientStock(medicineID, 0, -delta)
			}
			result = domain.InventoryRecord{
				MedicineID:   medicineID,
				Quantity:     delta,
				MinThreshold: domain.DefaultMinThreshold,
				UpdatedAt:    now,
			}
			if err := tx.CreateInventory(ctx, result); err != nil {
				return fmt.Errorf("create inventory %d: %w", medicineID, err)
			}
		} else {
			if delta > 0 && rec.Quantity > math.MaxInt64-delta {
				return fmt.Errorf("%w: medicine %d has %d, adding %d overflows", domain.ErrInvalidInput, medicineID, rec.Quantity, delta)
			}
			next := rec.Quantity + delta
			if next < 0 {
				return domain.InsufficientStock(medicineID, rec.Quantity, -delta)
			}
			if err := tx.SetQuantity(ctx, medicineID, next); err != nil {
				return fmt.Errorf("set quantity %d: %w", medicineID, err)
			}
			result = *rec
			result.Quantity = next
			result.UpdatedAt = now
		}

		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionUpdate,
			Object:    domain.AuditObjectInventory,
			Detail:    fmt.Sprintf("Medicine %d qty change %+d", medicineID, delta),
			CreatedAt: now,
		})
	})
	s.observe("adjust", err)
	if err != nil {
		return nil, translate("adjust stock", err)
	}
	s.logger.Info("stock adjusted", "medicine_id", medicineID, "delta", delta, "quantity", result.Quantity)
	return &result, nil
}

// Retire deactivates a medicine and zeroes its stock; it can no longer be sold or restocked.
func (s *InventoryService) Retire(ctx context.Context, medicineID int64) error {
	if medicineID <= 0 {
		return fmt.Errorf("%w: medicine id must be positive", domain.ErrInvalidInput)
	}

	actor := s.actor(ctx)
	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context, tx port.Tx) error {
		_, err := tx.LockInventory(ctx, medicineID)
		missing := errors.Is(err, port.ErrNotFound)
		if err != nil && !missing {
			return fmt.Errorf("lock inventory %d: %w", medicineID, err)
		}

		med, err := tx.GetMedicine(ctx, medicineID)
		if errors.Is(err, port.ErrNotFound) {
			return domain.MedicineNotFound(medicineID)
		}
		if err != nil {
			return fmt.Errorf("get medicine %d: %w", medicineID, err)
		}
		if !med.Active {
			return fmt.Errorf("%w: medicine %d is already retired", domain.ErrInvalidState, medicineID)
		}

		if !missing {
			if err := tx.SetQuantity(ctx, medicineID, 0); err != nil {
				return fmt.Errorf("zero inventory %d: %w", medicineID, err)
			}
		}
		now := s.now()
		if err := tx.SetMedicineActive(ctx, medicineID, false, &now); err != nil {
			return fmt.Errorf("retire medicine %d: %w", medicineID, err)
		}
		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionRetire,
			Object:    domain.AuditObjectMedicines,
			Detail:    fmt.Sprintf("Medicine %d (%s) retired", medicineID, med.Name),
			CreatedAt: now,
		})
	})
	s.observe("retire", err)
	if err != nil {
		return translate("retire medicine", err)
	}
	s.logger.Info("medicine retired", "medicine_id", medicineID)
	return nil
}

// Restore reactivates a retired medicine. Its stock stays at zero until adjusted.
func (s *InventoryService) Restore(ctx context.Context, medicineID int64) error {
	if medicineID <= 0 {
		return fmt.Errorf("%w: medicine id must be positive", domain.ErrInvalidInput)
	}

	actor := s.actor(ctx)
	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context, tx port.Tx) error {
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
		if med.Active {
			return fmt.Errorf("%w: medicine %d is not retired", domain.ErrInvalidState, medicineID)
		}

		if err := tx.SetMedicineActive(ctx, medicineID, true, nil); err != nil {
			return fmt.Errorf("restore medicine %d: %w", medicineID, err)
		}
		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionRestore,
			Object:    domain.AuditObjectMedicines,
			Detail:    fmt.Sprintf("Medicine %d (%s) restored", medicineID, med.Name),
			CreatedAt: s.now(),
		})
	})
	s.observe("restore", err)
	if err != nil {
		return translate("restore medicine", err)
	}
	s.logger.Info("medicine restored", "medicine_id", medicineID)
	return nil
}

func (s *InventoryService) observe(kind string, err error) {
	code := domain.ErrorCode(err)
	s.metrics.IncStockChange(kind, code)
	if code == "internal" {
		s.logger.Error("stock change failed", "kind", kind, "error", err)
	}
}

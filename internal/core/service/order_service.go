package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

var tracer = otel.Tracer("github.com/rl1809/pharmacy-orders/internal/core/service")

const (
	defaultOrderListLimit = 100
	maxOrderListLimit     = 1000
)

type PlaceOrderRequest struct {
	// RequestID is an optional client token; a repeated id is rejected with ErrDuplicateRequest.
	RequestID string
	// CustomerID zero means a walk-in customer.
	CustomerID int64
	Lines      []domain.LineRequest
}

type OrderService struct {
	tx   port.TxRunner
	repo port.Repository
	options
}

func NewOrderService(tx port.TxRunner, repo port.Repository, opts ...Option) *OrderService {
	return &OrderService{
		tx:      tx,
		repo:    repo,
		options: newOptions(opts),
	}
}

// PlaceOrder validates and commits an order as one unit of work: the order, its
// lines, every stock decrement and one audit entry, or nothing at all.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	start := s.now()
	ctx, span := tracer.Start(ctx, "OrderService.PlaceOrder", trace.WithAttributes(
		attribute.Int("order.lines", len(req.Lines)),
		attribute.Int64("order.customer_id", req.CustomerID),
	))
	defer span.End()

	order, err := s.placeOrder(ctx, req)
	code := domain.ErrorCode(err)
	s.metrics.ObservePlacement(code, s.now().Sub(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		level := s.logger.Info
		if code == "internal" {
			level = s.logger.Error
		}
		level("order rejected",
			"reason", code,
			"customer_id", req.CustomerID,
			"request_id", req.RequestID,
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	s.logger.Info("order placed",
		"order_id", order.ID,
		"customer_id", req.CustomerID,
		"total", order.TotalAmount.String(),
		"lines", len(order.Lines),
	)
	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := domain.ValidateLines(req.Lines); err != nil {
		return nil, err
	}
	if req.CustomerID < 0 {
		return nil, fmt.Errorf("%w: customer id must not be negative", domain.ErrInvalidOrder)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("order aborted before start: %w", err)
	}

	if req.RequestID == "" || s.idempotency == nil {
		return s.commitOrder(ctx, req)
	}

	ok, err := s.idempotency.Claim(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return nil, domain.ErrDuplicateRequest
	}

	order, err := s.commitOrder(ctx, req)
	// The claim bookkeeping must not be cut short by the caller once the order is decided.
	bookCtx := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := s.idempotency.Release(bookCtx, req.RequestID); relErr != nil {
			s.logger.Warn("release request id failed", "request_id", req.RequestID, "error", relErr)
		}
		return nil, err
	}
	if compErr := s.idempotency.Complete(bookCtx, req.RequestID, order.ID); compErr != nil {
		s.logger.Warn("complete request id failed", "request_id", req.RequestID, "order_id", order.ID, "error", compErr)
	}
	return order, nil
}

func (s *OrderService) commitOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	var customerID *int64
	if req.CustomerID > 0 {
		id := req.CustomerID
		customerID = &id
	}

	requested := domain.RequestedByMedicine(req.Lines)
	lockOrder := make([]int64, 0, len(requested))
	for id := range requested {
		lockOrder = append(lockOrder, id)
	}
	// Ascending ids on every call site keeps two orders over the same medicines deadlock free.
	slices.Sort(lockOrder)

	actor := s.actor(ctx)
	var order domain.Order

	// Once locks are taken the unit of work runs to commit or abort; caller cancellation
	// does not reach it. The store bounds it with its own lock and transaction timeouts.
	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context, tx port.Tx) error {
		if customerID != nil {
			exists, err := tx.CustomerExists(ctx, *customerID)
			if err != nil {
				return fmt.Errorf("check customer: %w", err)
			}
			if !exists {
				return fmt.Errorf("%w: %d", domain.ErrCustomerNotFound, *customerID)
			}
		}

		locked := make(map[int64]*domain.InventoryRecord, len(lockOrder))
		for _, id := range lockOrder {
			rec, err := tx.LockInventory(ctx, id)
			switch {
			case errors.Is(err, port.ErrNotFound):
				// reported per line below, after the medicine checks
			case err != nil:
				return fmt.Errorf("lock inventory %d: %w", id, err)
			default:
				locked[id] = rec
			}
		}

		now := s.now()
		prices := make(map[int64]decimal.Decimal, len(lockOrder))
		for _, line := range req.Lines {
			id := line.MedicineID
			if _, checked := prices[id]; checked {
				continue
			}
			med, err := tx.GetMedicine(ctx, id)
			if errors.Is(err, port.ErrNotFound) {
				return domain.MedicineNotFound(id)
			}
			if err != nil {
				return fmt.Errorf("get medicine %d: %w", id, err)
			}
			if med.ExpiredAt(now) {
				return domain.ExpiredMedicine(id)
			}
			if !med.Active {
				return domain.MedicineRetired(id)
			}
			rec, ok := locked[id]
			if !ok {
				return domain.InventoryRecordMissing(id)
			}
			if rec.Quantity < requested[id] {
				return domain.InsufficientStock(id, rec.Quantity, requested[id])
			}
			prices[id] = med.UnitPrice
		}

		order = domain.NewOrder(customerID, req.Lines, prices, now)

		for _, id := range lockOrder {
			if err := tx.SetQuantity(ctx, id, locked[id].Quantity-requested[id]); err != nil {
				return fmt.Errorf("decrement inventory %d: %w", id, err)
			}
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return tx.Append(ctx, &domain.AuditEntry{
			Actor:     actor,
			Action:    domain.AuditActionOrder,
			Object:    domain.AuditObjectOrders,
			Detail:    orderDetail(order),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, translate("place order", err)
	}
	return &order, nil
}

func orderDetail(o domain.Order) string {
	customer := "walk-in"
	if o.CustomerID != nil {
		customer = fmt.Sprintf("customer %d", *o.CustomerID)
	}
	return fmt.Sprintf("Order %d placed for %s, %d lines, total %s", o.ID, customer, len(o.Lines), o.TotalAmount.StringFixed(2))
}

// GetOrder reads an order back with its lines.
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: order id must be positive", domain.ErrInvalidInput)
	}
	order, err := s.repo.GetOrder(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListOrders returns the most recent orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	limit = min(limit, maxOrderListLimit)
	orders, err := s.repo.ListOrders(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

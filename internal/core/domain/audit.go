package domain

import (
	"context"
	"time"
)

type AuditAction string

const (
	AuditActionInsert  AuditAction = "INSERT"
	AuditActionUpdate  AuditAction = "UPDATE"
	AuditActionOrder   AuditAction = "ORDER"
	AuditActionRetire  AuditAction = "RETIRE"
	AuditActionRestore AuditAction = "RESTORE"
)

type AuditObject string

const (
	AuditObjectOrders    AuditObject = "ORDERS"
	AuditObjectInventory AuditObject = "INVENTORY"
	AuditObjectMedicines AuditObject = "MEDICINES"
	AuditObjectSuppliers AuditObject = "SUPPLIERS"
	AuditObjectCustomers AuditObject = "CUSTOMERS"
)

// AuditEntry is append-only. PublishedAt is set once the outbox relay has shipped it.
type AuditEntry struct {
	ID          int64
	Actor       string
	Action      AuditAction
	Object      AuditObject
	Detail      string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type actorKey struct{}

// WithActor records who is acting for audit entries written under ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok && actor != ""
}

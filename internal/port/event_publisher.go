package port

import (
	"context"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
)

type EventPublisher interface {
	// PublishAudit ships the entries in order; an error means none may be marked published.
	PublishAudit(ctx context.Context, entries []domain.AuditEntry) error
}

package messaging

import (
	"context"
	"log/slog"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
)

// LogPublisher writes audit events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishAudit(ctx context.Context, entries []domain.AuditEntry) error {
	for _, e := range entries {
		ev := EventFromAudit(e)
		p.logger.LogAttrs(ctx, slog.LevelInfo, "audit event",
			slog.String("event_id", ev.EventID),
			slog.Int64("audit_id", ev.AuditID),
			slog.String("actor", ev.Actor),
			slog.String("action", ev.Action),
			slog.String("object", ev.Object),
			slog.String("detail", ev.Detail),
		)
	}
	return nil
}

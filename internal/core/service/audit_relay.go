package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

const defaultRelayBatch = 100

// AuditRelay ships committed audit entries to a publisher and marks them published.
// Delivery is at least once: a crash between publish and mark re-sends the batch.
type AuditRelay struct {
	outbox    port.AuditOutbox
	publisher port.EventPublisher
	interval  time.Duration
	batch     int
	options
}

func NewAuditRelay(outbox port.AuditOutbox, publisher port.EventPublisher, interval time.Duration, opts ...Option) *AuditRelay {
	return &AuditRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batch:     defaultRelayBatch,
		options:   newOptions(opts),
	}
}

// Run relays on every tick until ctx is done. Failed rounds are logged and retried on the next tick.
func (r *AuditRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("audit relay started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("audit relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("audit relay round failed", "error", err)
			}
		}
	}
}

// RelayOnce drains the outbox in batches and returns how many entries were published.
func (r *AuditRelay) RelayOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		entries, err := r.outbox.UnpublishedAudit(ctx, r.batch)
		if err != nil {
			return total, fmt.Errorf("read outbox: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}
		if err := r.publisher.PublishAudit(ctx, entries); err != nil {
			return total, fmt.Errorf("publish %d audit entries: %w", len(entries), err)
		}
		if err := r.outbox.MarkAuditPublished(ctx, auditIDs(entries), r.now()); err != nil {
			return total, fmt.Errorf("mark audit published: %w", err)
		}
		total += len(entries)
		r.metrics.AddAuditRelayed(len(entries))
		r.logger.Debug("audit entries relayed", "count", len(entries), "last_id", entries[len(entries)-1].ID)
		if len(entries) < r.batch {
			return total, nil
		}
	}
}

func auditIDs(entries []domain.AuditEntry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

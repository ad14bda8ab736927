package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/platform/metrics"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

type Option func(*options)

type options struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	idempotency  port.IdempotencyStore
	defaultActor string
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides time.Now; expiry checks and timestamps use it.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIdempotency enables request-id deduplication of order placements.
func WithIdempotency(store port.IdempotencyStore) Option {
	return func(o *options) {
		o.idempotency = store
	}
}

// WithDefaultActor names the audit actor used when the context carries none.
func WithDefaultActor(actor string) Option {
	return func(o *options) {
		o.defaultActor = actor
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       slog.Default(),
		now:          time.Now,
		defaultActor: "system",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) actor(ctx context.Context) string {
	if actor, ok := domain.ActorFrom(ctx); ok {
		return actor
	}
	return o.defaultActor
}

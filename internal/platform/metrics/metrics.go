package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the order engine and its collaborators.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	OrdersPlaced      prometheus.Counter
	OrderFailures     *prometheus.CounterVec
	PlacementDuration prometheus.Histogram
	StockChanges      *prometheus.CounterVec
	AuditRelayed      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_orders_placed_total",
			Help: "Total number of orders committed",
		}),
		OrderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_order_failures_total",
			Help: "Total number of rejected or aborted order placements by reason",
		}, []string{"reason"}),
		PlacementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmacy_order_placement_duration_seconds",
			Help:    "Latency of order placement including lock waits",
			Buckets: prometheus.DefBuckets,
		}),
		StockChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_stock_changes_total",
			Help: "Stock adjustments, retirements and restores by kind and outcome",
		}, []string{"kind", "outcome"}),
		AuditRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_audit_entries_relayed_total",
			Help: "Audit entries published to the broker",
		}),
	}
}

// ObservePlacement records one placement attempt; reason is "ok" on success.
func (m *Metrics) ObservePlacement(reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PlacementDuration.Observe(elapsed.Seconds())
	if reason == "ok" {
		m.OrdersPlaced.Inc()
		return
	}
	m.OrderFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncStockChange(kind, outcome string) {
	if m == nil {
		return
	}
	m.StockChanges.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) AddAuditRelayed(n int) {
	if m == nil {
		return
	}
	m.AuditRelayed.Add(float64(n))
}

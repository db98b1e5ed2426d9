package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ticketgate"

// Устройство контролера.
var (
	GateValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "validations_total",
			Help:      "Validation attempts by outcome, rejection reason and input method",
		},
		[]string{"outcome", "reason", "method"},
	)

	GatePendingRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "pending_records",
			Help:      "Validation records waiting to be synced",
		},
	)

	GateSnapshotTickets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "snapshot_tickets",
			Help:      "Tickets in the local snapshot",
		},
	)

	GateOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "online",
			Help:      "1 when the authority is reachable",
		},
	)

	GateFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "flushes_total",
			Help:      "Flush attempts by result",
		},
		[]string{"result"},
	)

	GateVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "verdicts_total",
			Help:      "Verdicts applied to local records",
		},
		[]string{"verdict"},
	)

	GateRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "request_duration_seconds",
			Help:      "Local API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Авторитет.
var (
	AuthorityVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "verdicts_total",
			Help:      "Verdicts issued for submitted validation records",
		},
		[]string{"verdict"},
	)

	AuthorityRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthorityRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"operation"},
	)
)

func BoolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

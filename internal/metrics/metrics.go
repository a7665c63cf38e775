package metrics

import (
	"net/http"

	"adledger/internal/ledger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements ledger.Metrics on a private registry so several engines
// (tests, tools) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	decisionsTotal      *prometheus.CounterVec
	entriesTotal        *prometheus.CounterVec
	postedAmountTotal   *prometheus.CounterVec
	conflictRetries     *prometheus.CounterVec
	couponOpsTotal      *prometheus.CounterVec
	idempotentReplays   prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adledger",
				Subsystem: "workflow",
				Name:      "decisions_total",
				Help:      "Request decisions partitioned by kind and resulting status.",
			},
			[]string{"kind", "status"},
		),
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adledger",
				Subsystem: "ledger",
				Name:      "entries_total",
				Help:      "Ledger entries appended partitioned by entry kind and direction.",
			},
			[]string{"kind", "direction"},
		),
		postedAmountTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adledger",
				Subsystem: "ledger",
				Name:      "posted_amount_total",
				Help:      "Sum of posted amounts partitioned by entry kind.",
			},
			[]string{"kind"},
		),
		conflictRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adledger",
				Subsystem: "ledger",
				Name:      "conflict_retries_total",
				Help:      "Atomic units re-run after a concurrency conflict, by operation.",
			},
			[]string{"op"},
		),
		couponOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adledger",
				Subsystem: "coupons",
				Name:      "operations_total",
				Help:      "Coupon give/take calls partitioned by outcome.",
			},
			[]string{"op", "outcome"},
		),
		idempotentReplays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "adledger",
				Subsystem: "http",
				Name:      "idempotent_replays_total",
				Help:      "Responses served from the Idempotency-Key cache.",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "adledger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests partitioned by route and status code.",
			},
			[]string{"route", "method", "code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "adledger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	reg.MustRegister(
		m.decisionsTotal,
		m.entriesTotal,
		m.postedAmountTotal,
		m.conflictRetries,
		m.couponOpsTotal,
		m.idempotentReplays,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveDecision(kind ledger.RequestKind, status ledger.Status) {
	m.decisionsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) ObserveEntries(entries []ledger.Entry) {
	for _, e := range entries {
		m.entriesTotal.WithLabelValues(string(e.Kind), string(e.Direction)).Inc()
		m.postedAmountTotal.WithLabelValues(string(e.Kind)).Add(e.Amount.InexactFloat64())
	}
}

func (m *Metrics) ObserveConflictRetry(op string) {
	m.conflictRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveCouponOp(op ledger.CouponOp, outcome string) {
	m.couponOpsTotal.WithLabelValues(string(op), outcome).Inc()
}

func (m *Metrics) ObserveIdempotentReplay() {
	m.idempotentReplays.Inc()
}

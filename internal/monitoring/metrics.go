package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order flow metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_orders_total",
			Help: "Total number of orders submitted to venues",
		},
		[]string{"venue", "side", "status"},
	)

	orderSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradegate_order_size_usd",
			Help:    "Distribution of submitted order sizes in USD",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"venue"},
	)

	gateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_gate_rejections_total",
			Help: "Buy intents rejected by the hardening gate chain",
		},
		[]string{"venue", "gate"},
	)

	// Venue call metrics
	venueCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_venue_calls_total",
			Help: "Venue API calls by outcome",
		},
		[]string{"venue", "operation", "outcome"},
	)

	venueLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradegate_venue_latency_seconds",
			Help:    "Venue API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"venue", "operation"},
	)

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradegate_circuit_state",
			Help: "Circuit breaker state per connection (0=closed, 1=open, 2=half-open)",
		},
		[]string{"account", "venue"},
	)

	// Portfolio metrics
	riskState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradegate_risk_state",
			Help: "Portfolio risk state (0=normal, 1=cautious, 2=stressed, 3=crisis, 4=recovery, 5=halt)",
		},
	)

	workerCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_worker_cycles_total",
			Help: "Worker evaluation cycles by outcome",
		},
		[]string{"account", "venue", "outcome"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradegate_retries_total",
			Help: "Retry attempts by failure kind",
		},
		[]string{"venue", "kind"},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(orderSize)
	prometheus.MustRegister(gateRejectionsTotal)
	prometheus.MustRegister(venueCallsTotal)
	prometheus.MustRegister(venueLatency)
	prometheus.MustRegister(circuitState)
	prometheus.MustRegister(riskState)
	prometheus.MustRegister(workerCyclesTotal)
	prometheus.MustRegister(retriesTotal)
}

// MetricsHandler handles the Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrder records a submitted order and its outcome
func RecordOrder(venueID, side, status string, sizeUSD float64) {
	ordersTotal.WithLabelValues(venueID, side, status).Inc()
	orderSize.WithLabelValues(venueID).Observe(sizeUSD)
}

// RecordGateRejection records a gate-chain rejection. Rejections are
// normal decisions, kept separate from error metrics.
func RecordGateRejection(venueID, gate string) {
	gateRejectionsTotal.WithLabelValues(venueID, gate).Inc()
}

// RecordVenueCall records one venue API call
func RecordVenueCall(venueID, operation, outcome string, latency time.Duration) {
	venueCallsTotal.WithLabelValues(venueID, operation, outcome).Inc()
	venueLatency.WithLabelValues(venueID, operation).Observe(latency.Seconds())
}

// UpdateCircuitState updates the circuit breaker state gauge
func UpdateCircuitState(accountID, venueID string, state float64) {
	circuitState.WithLabelValues(accountID, venueID).Set(state)
}

// UpdateRiskState updates the portfolio risk state gauge
func UpdateRiskState(state float64) {
	riskState.Set(state)
}

// RecordWorkerCycle records one worker evaluation cycle
func RecordWorkerCycle(accountID, venueID, outcome string) {
	workerCyclesTotal.WithLabelValues(accountID, venueID, outcome).Inc()
}

// RecordRetry records a retry attempt by failure kind
func RecordRetry(venueID, kind string) {
	retriesTotal.WithLabelValues(venueID, kind).Inc()
}

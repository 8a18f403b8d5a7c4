package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets       = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	invocationDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// Metrics holds all Prometheus metric instruments.
type Metrics struct {
	// HTTP host metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseBytes   *prometheus.HistogramVec

	// Invocation metrics
	InvocationsTotal       *prometheus.CounterVec
	InvocationDuration     *prometheus.HistogramVec
	MandatoryWarningsTotal *prometheus.CounterVec
	IdempotentReplaysTotal *prometheus.CounterVec
	BatchItemsTotal        *prometheus.CounterVec

	// Transport metrics
	ClientsCreatedTotal *prometheus.CounterVec
	TransportRequests   *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	// Table metrics
	OperationsLoaded         prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqctl_http_requests_total",
			Help: "Total number of HTTP requests served by the host.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seqctl_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seqctl_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: []float64{100, 1024, 10240, 102400, 1048576},
		}, []string{"method", "path_pattern"}),

		InvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqctl_invocations_total",
			Help: "Total number of operation invocations by outcome.",
		}, []string{"operation", "outcome"}),
		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seqctl_invocation_duration_seconds",
			Help:    "Operation invocation duration in seconds.",
			Buckets: invocationDurationBuckets,
		}, []string{"operation"}),
		MandatoryWarningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqctl_mandatory_warnings_total",
			Help: "Invocations attempted with a mandatory parameter unset.",
		}, []string{"operation", "parameter"}),
		IdempotentReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqctl_idempotent_replays_total",
			Help: "Invocations answered from the idempotency store.",
		}, []string{"operation"}),
		BatchItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqctl_batch_items_total",
			Help: "Batch items processed by outcome.",
		}, []string{"outcome"}),

		ClientsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqctl_clients_created_total",
			Help: "Transport clients created per region and profile.",
		}, []string{"region", "profile", "status"}),
		TransportRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqctl_transport_requests_total",
			Help: "Requests sent to remote services by status code.",
		}, []string{"service", "status"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seqctl_circuit_breaker_state",
			Help: "Circuit breaker state per service (0=closed, 1=open, 2=half-open).",
		}, []string{"service"}),

		OperationsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seqctl_operations_loaded",
			Help: "Number of operations in the loaded table.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seqctl_openapi_operations_indexed",
			Help: "Number of OpenAPI operations indexed per service.",
		}, []string{"service"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseBytes,
		m.InvocationsTotal,
		m.InvocationDuration,
		m.MandatoryWarningsTotal,
		m.IdempotentReplaysTotal,
		m.BatchItemsTotal,
		m.ClientsCreatedTotal,
		m.TransportRequests,
		m.CircuitBreakerState,
		m.OperationsLoaded,
		m.OpenAPIOperationsIndexed,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordInvocation records the outcome of one invocation. Outcome is "ok" or
// an error code such as CANCELLED.
func (m *Metrics) RecordInvocation(operation, outcome string, duration time.Duration) {
	m.InvocationsTotal.WithLabelValues(operation, outcome).Inc()
	m.InvocationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMandatoryWarning records an invocation attempted without a
// mandatory parameter.
func (m *Metrics) RecordMandatoryWarning(operation, parameter string) {
	m.MandatoryWarningsTotal.WithLabelValues(operation, parameter).Inc()
}

// RecordIdempotentReplay records an invocation answered from the store.
func (m *Metrics) RecordIdempotentReplay(operation string) {
	m.IdempotentReplaysTotal.WithLabelValues(operation).Inc()
}

// RecordBatchItem records one processed batch item.
func (m *Metrics) RecordBatchItem(outcome string) {
	m.BatchItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordClientCreated records a transport client build attempt.
func (m *Metrics) RecordClientCreated(region, profile string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ClientsCreatedTotal.WithLabelValues(region, profile, status).Inc()
}

// RecordTransportRequest records a request sent to a remote service.
func (m *Metrics) RecordTransportRequest(service string, status int) {
	m.TransportRequests.WithLabelValues(service, strconv.Itoa(status)).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(service string, state float64) {
	m.CircuitBreakerState.WithLabelValues(service).Set(state)
}

// SetOperationsLoaded sets the number of loaded operations.
func (m *Metrics) SetOperationsLoaded(count float64) {
	m.OperationsLoaded.Set(count)
}

// SetOpenAPIOperationsIndexed sets the number of indexed operations for a service.
func (m *Metrics) SetOpenAPIOperationsIndexed(service string, count float64) {
	m.OpenAPIOperationsIndexed.WithLabelValues(service).Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

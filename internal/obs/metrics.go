package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the whole API surface.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service readiness probe passes.",
	})
)

// Reconciliation engine metrics.
var (
	reconcileUsersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trainhub_reconcile_users_total",
		Help: "Users processed by the reconciliation engine.",
	})

	reconcileAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainhub_reconcile_assignments_total",
			Help: "Assignment classifications applied, by action.",
		},
		[]string{"action"},
	)

	reconcileItemErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trainhub_reconcile_item_errors_total",
		Help: "Per-item failures tolerated during plan execution.",
	})

	reconcileRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trainhub_reconcile_run_duration_seconds",
		Help:    "Wall time of batch reconciliation runs.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		reconcileUsersTotal, reconcileAssignmentsTotal, reconcileItemErrorsTotal, reconcileRunDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady reflects the readiness probe result in the metrics.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
	} else {
		readyGauge.Set(0)
	}
}

// ObserveReconcileUser records one user's reconciliation outcome.
func ObserveReconcileUser(kept, added, removed, errs int) {
	reconcileUsersTotal.Inc()
	reconcileAssignmentsTotal.WithLabelValues("kept").Add(float64(kept))
	reconcileAssignmentsTotal.WithLabelValues("added").Add(float64(added))
	reconcileAssignmentsTotal.WithLabelValues("removed").Add(float64(removed))
	reconcileItemErrorsTotal.Add(float64(errs))
}

// ObserveReconcileRun records the duration of one batch run.
func ObserveReconcileRun(seconds float64) {
	reconcileRunDuration.Observe(seconds)
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-entity path segments so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/reconcile/users/", "/v1/completions/", "/v1/assignments/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			return prefix + ":id"
		}
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

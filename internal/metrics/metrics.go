// Package metrics provides Prometheus instrumentation for the balance engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades, partitioned by result.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvex_trades_total",
		Help: "Total number of trades settled",
	}, []string{"result"})

	// ConversionsTotal counts executed currency conversions.
	ConversionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinvex_conversions_total",
		Help: "Total number of currency conversions executed",
	})

	// FundingRequestsTotal counts submitted funding requests by kind.
	FundingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvex_funding_requests_total",
		Help: "Total deposit/withdrawal requests submitted",
	}, []string{"kind"})

	// FundingTransitionsTotal counts admin adjudications by kind and outcome.
	FundingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvex_funding_transitions_total",
		Help: "Total deposit/withdrawal status transitions applied",
	}, []string{"kind", "status"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinvex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinvex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the route surface is small
		// enough to keep cardinality in check.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Package metrics holds the prometheus collectors of the service.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	messageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_message_operations_total",
			Help: "Message operations by outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// Message operation labels.
const (
	OpSend     = "send"
	OpView     = "view"
	OpMarkRead = "mark_read"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeForbidden = "forbidden"
	OutcomeNotFound  = "not_found"
	OutcomeRepeat    = "repeat"
	OutcomeError     = "error"
)

// RecordMessageOp counts one message operation.
func RecordMessageOp(op, outcome string) {
	messageOpsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveRequest records one finished HTTP request. route is the matched
// ServeMux pattern, or "unmatched".
func ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics exposes Prometheus instruments for the record store, the
// event bus, consistency rules and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperationsTotal counts record store calls.
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicdesk_store_operations_total",
			Help: "Total number of record store operations",
		},
		[]string{"collection", "op", "result"},
	)

	// StoreOperationDuration observes record store latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinicdesk_store_operation_duration_seconds",
			Help:    "Duration of record store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "op"},
	)

	// StoreRecoveriesTotal counts collections reset after a decode failure.
	StoreRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicdesk_store_recoveries_total",
			Help: "Collections reset to empty after unreadable persisted data",
		},
		[]string{"collection"},
	)

	// EventsPublishedTotal counts event bus publications.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicdesk_events_published_total",
			Help: "Total number of events published on the bus",
		},
		[]string{"topic", "scope"}, // scope: "local", "remote"
	)

	// RuleOutcomesTotal counts consistency rule evaluations.
	RuleOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicdesk_rule_outcomes_total",
			Help: "Consistency rule outcomes",
		},
		[]string{"rule", "result"}, // result: "applied", "warning"
	)

	// HTTPRequestsTotal counts HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTPRequestDuration observes HTTP latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinicdesk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

// RecordStoreOperation records one record store call.
func RecordStoreOperation(collection, op string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	StoreOperationsTotal.WithLabelValues(collection, op, result).Inc()
	StoreOperationDuration.WithLabelValues(collection, op).Observe(duration.Seconds())
}

// RecordRecovery records a corruption reset.
func RecordRecovery(collection string) {
	StoreRecoveriesTotal.WithLabelValues(collection).Inc()
}

// RecordEvent records a bus publication.
func RecordEvent(topic, scope string) {
	EventsPublishedTotal.WithLabelValues(topic, scope).Inc()
}

// RecordRuleOutcome records a rule evaluation result.
func RecordRuleOutcome(rule, result string) {
	RuleOutcomesTotal.WithLabelValues(rule, result).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

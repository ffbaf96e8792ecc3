// Package metrics defines the Prometheus collectors exported by the push
// gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for DispatchOutcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeTransient = "transient"
)

// Token refresh result labels.
const (
	RefreshOK     = "ok"
	RefreshFailed = "failed"
)

// Metrics holds every collector the gateway records into. A single
// instance is created at startup and threaded through construction.
type Metrics struct {
	// NotificationsReceived counts notification pokes accepted by the
	// ingress, before any routing.
	NotificationsReceived prometheus.Counter

	// DevicePushes counts devices routed to a pushkin, labelled by pushkin.
	DevicePushes *prometheus.CounterVec

	// DispatchOutcomes counts per-device dispatch results by pushkin and
	// outcome (accepted, rejected, transient).
	DispatchOutcomes *prometheus.CounterVec

	// ResponseCodes counts HTTP status codes returned on the push
	// gateway API.
	ResponseCodes *prometheus.CounterVec

	// NotifyDuration observes time taken to handle a /notify request.
	NotifyDuration *prometheus.HistogramVec

	// InflightPermits tracks concurrency permits currently held, per
	// pushkin.
	InflightPermits *prometheus.GaugeVec

	// TokenRefreshes counts provider credential refresh attempts by
	// pushkin and result.
	TokenRefreshes *prometheus.CounterVec
}

// New registers the gateway's collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "pushgateway_notifications_received_total",
			Help: "Number of notification pokes received.",
		}),
		DevicePushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgateway_device_pushes_total",
			Help: "Number of devices asked to push, by pushkin.",
		}, []string{"pushkin"}),
		DispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgateway_dispatch_outcomes_total",
			Help: "Per-device dispatch outcomes, by pushkin and outcome.",
		}, []string{"pushkin", "outcome"}),
		ResponseCodes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgateway_http_responses_total",
			Help: "HTTP response codes given on the push gateway API.",
		}, []string{"code"}),
		NotifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pushgateway_notify_duration_seconds",
			Help:    "Time taken to handle a /notify request.",
			Buckets: prometheus.DefBuckets,
		}, []string{"code"}),
		InflightPermits: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pushgateway_inflight_permits",
			Help: "Concurrency permits currently held, by pushkin.",
		}, []string{"pushkin"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgateway_token_refreshes_total",
			Help: "Provider credential refresh attempts, by pushkin and result.",
		}, []string{"pushkin", "result"}),
	}
}

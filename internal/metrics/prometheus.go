package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the MEC app
type Metrics struct {
	// UDP datagram metrics
	DatagramsReceived prometheus.Counter
	DatagramsDropped  *prometheus.CounterVec

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Alert metrics
	AlertsSent     *prometheus.CounterVec
	ResendRequests prometheus.Counter

	// Location service metrics
	SubscriptionRequests *prometheus.CounterVec
	SubscriptionFailures prometheus.Counter
	NotificationLatency  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP datagram metrics
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mec_datagrams_received_total",
			Help: "Total number of UDP datagrams received from UEs",
		}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mec_datagrams_dropped_total",
			Help: "Total number of UDP datagrams dropped",
		}, []string{"reason"}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mec_active_sessions",
			Help: "Current number of monitoring sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mec_sessions_started_total",
			Help: "Total number of monitoring sessions started",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mec_sessions_finished_total",
			Help: "Total number of monitoring sessions finished",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mec_session_duration_seconds",
			Help:    "Duration of monitoring sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Alert metrics
		AlertsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mec_alerts_sent_total",
			Help: "Total number of alerts sent to UEs",
		}, []string{"kind"}),
		ResendRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "mec_resend_requests_total",
			Help: "Total number of start resend requests sent to UEs",
		}),

		// Location service metrics
		SubscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mec_subscription_requests_total",
			Help: "Total number of subscription changes by criterion",
		}, []string{"criterion"}),
		SubscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mec_subscription_failures_total",
			Help: "Total number of failed subscription changes",
		}),
		NotificationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mec_notification_wait_seconds",
			Help:    "Time between arming a criterion and the alert it produced",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5 minutes
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mec_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mec_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mec_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagramReceived increments the datagrams received counter
func (m *Metrics) RecordDatagramReceived() {
	m.DatagramsReceived.Inc()
}

// RecordDatagramDropped increments the dropped counter for reason
func (m *Metrics) RecordDatagramDropped(reason string) {
	m.DatagramsDropped.WithLabelValues(reason).Inc()
}

// RecordSessionStarted counts a new session and marks it active
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFinished records the outcome and duration of a session
func (m *Metrics) RecordSessionFinished(outcome string, durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAlertSent records an alert and how long it took to fire
func (m *Metrics) RecordAlertSent(entered bool, waitSeconds float64) {
	kind := "left"
	if entered {
		kind = "entered"
	}
	m.AlertsSent.WithLabelValues(kind).Inc()
	m.NotificationLatency.Observe(waitSeconds)
}

// RecordResendRequest increments the resend requests counter
func (m *Metrics) RecordResendRequest() {
	m.ResendRequests.Inc()
}

// RecordSubscription records a subscription change and whether it failed
func (m *Metrics) RecordSubscription(criterion string, failed bool) {
	m.SubscriptionRequests.WithLabelValues(criterion).Inc()
	if failed {
		m.SubscriptionFailures.Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "abuseguard_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// rate limit checks per limiter scope (user, ip)
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_ratelimit_requests_total",
			Help: "Total rate limit checks per scope",
		},
		[]string{"scope"},
	)

	// rate limit denials per limiter scope
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_ratelimit_hits_total",
			Help: "Total rate limit denials per scope",
		},
		[]string{"scope"},
	)

	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_auth_failures_total",
			Help: "Failed attempts recorded, by attempt type",
		},
		[]string{"attempt_type"},
	)

	// lockouts started, by attempt type
	Lockouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_lockouts_total",
			Help: "Lockouts applied, by attempt type",
		},
		[]string{"attempt_type"},
	)

	SuspensionDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseguard_suspension_denials_total",
			Help: "Requests denied because the user is suspended",
		},
	)

	SuspensionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_suspension_changes_total",
			Help: "Suspensions created or lifted",
		},
		[]string{"action"},
	)

	// screening flags by type and whether they blocked the upload
	ScreeningFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_screening_flags_total",
			Help: "Content screening flags raised",
		},
		[]string{"flag_type", "outcome"},
	)

	PatternAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_pattern_alerts_total",
			Help: "Anomalous upload patterns detected, by reason",
		},
		[]string{"reason"},
	)

	ReportCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseguard_reports_total",
			Help: "Total abuse reports submitted",
		},
	)

	ReportTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_report_transitions_total",
			Help: "Abuse report status transitions, by new status",
		},
		[]string{"status"},
	)

	// store failures by store name (counter, lockout, suspension, ...)
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_store_errors_total",
			Help: "Backing store failures",
		},
		[]string{"store"},
	)

	PurgedCounters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abuseguard_purged_counters_total",
			Help: "Expired rate window counters removed by housekeeping",
		},
	)

	// audit events emitted, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuseguard_events_total",
			Help: "Total admission events recorded",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		RateLimitRequests,
		RateLimitHits,
		AuthFailures,
		Lockouts,
		SuspensionDenials,
		SuspensionChanges,
		ScreeningFlags,
		PatternAlerts,
		ReportCount,
		ReportTransitions,
		StoreErrors,
		PurgedCounters,
		EventCount,
	)
}

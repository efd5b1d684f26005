package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// so components take metrics by injection instead of touching globals.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Rate limiting metrics
	IncrementRateLimitRequests(scope string)
	IncrementRateLimitHits(scope string)

	// Lockout metrics
	IncrementAuthFailures(attemptType string)
	IncrementLockouts(attemptType string)

	// Suspension metrics
	IncrementSuspensionDenials()
	IncrementSuspensionChanges(action string)

	// Screening metrics
	IncrementScreeningFlags(flagType, outcome string)
	IncrementPatternAlerts(reason string)

	// Report metrics
	IncrementReports()
	IncrementReportTransitions(status string)

	// Store and housekeeping metrics
	IncrementStoreErrors(store string)
	AddPurgedCounters(n int64)

	// Audit events
	IncrementEvent(eventType string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementRateLimitRequests(scope string) {
	RateLimitRequests.WithLabelValues(scope).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(scope string) {
	RateLimitHits.WithLabelValues(scope).Inc()
}

func (r *PrometheusRegistry) IncrementAuthFailures(attemptType string) {
	AuthFailures.WithLabelValues(attemptType).Inc()
}

func (r *PrometheusRegistry) IncrementLockouts(attemptType string) {
	Lockouts.WithLabelValues(attemptType).Inc()
}

func (r *PrometheusRegistry) IncrementSuspensionDenials() {
	SuspensionDenials.Inc()
}

func (r *PrometheusRegistry) IncrementSuspensionChanges(action string) {
	SuspensionChanges.WithLabelValues(action).Inc()
}

func (r *PrometheusRegistry) IncrementScreeningFlags(flagType, outcome string) {
	ScreeningFlags.WithLabelValues(flagType, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementPatternAlerts(reason string) {
	PatternAlerts.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) IncrementReports() {
	ReportCount.Inc()
}

func (r *PrometheusRegistry) IncrementReportTransitions(status string) {
	ReportTransitions.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) IncrementStoreErrors(store string) {
	StoreErrors.WithLabelValues(store).Inc()
}

func (r *PrometheusRegistry) AddPurgedCounters(n int64) {
	PurgedCounters.Add(float64(n))
}

func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementRateLimitRequests(scope string)                              {}
func (r *NoOpRegistry) IncrementRateLimitHits(scope string)                                  {}
func (r *NoOpRegistry) IncrementAuthFailures(attemptType string)                             {}
func (r *NoOpRegistry) IncrementLockouts(attemptType string)                                 {}
func (r *NoOpRegistry) IncrementSuspensionDenials()                                          {}
func (r *NoOpRegistry) IncrementSuspensionChanges(action string)                             {}
func (r *NoOpRegistry) IncrementScreeningFlags(flagType, outcome string)                     {}
func (r *NoOpRegistry) IncrementPatternAlerts(reason string)                                 {}
func (r *NoOpRegistry) IncrementReports()                                                    {}
func (r *NoOpRegistry) IncrementReportTransitions(status string)                             {}
func (r *NoOpRegistry) IncrementStoreErrors(store string)                                    {}
func (r *NoOpRegistry) AddPurgedCounters(n int64)                                            {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}

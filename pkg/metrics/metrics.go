// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the passkey service:
// ceremony outcomes, token issuance, uploads, challenge sweeping, HTTP traffic
// and process resources.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all service metrics
	Namespace = "passkeys"

	// Label names
	LabelCeremony   = "ceremony"
	LabelStep       = "step"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelProvider   = "provider"
	LabelBackend    = "backend"
	LabelProtocol   = "protocol"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Ceremony names
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"

	// Step names
	StepBegin    = "begin"
	StepComplete = "complete"
)

var (
	// CeremoniesTotal counts ceremony steps by ceremony, step and status.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of WebAuthn ceremony steps by ceremony, step, and status",
		},
		[]string{LabelCeremony, LabelStep, LabelStatus},
	)

	// CeremonyDuration tracks how long each ceremony step takes server side.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of WebAuthn ceremony steps in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony, LabelStep},
	)

	// ErrorsTotal counts ceremony failures by error type (e.g. "challenge_not_found").
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of ceremony errors by ceremony and error type",
		},
		[]string{LabelCeremony, LabelErrorType},
	)

	// TokensIssuedTotal counts session tokens minted by provider and status.
	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_issued_total",
			Help:      "Total number of session tokens minted by provider and status",
		},
		[]string{LabelProvider, LabelStatus},
	)

	// UploadsTotal counts blog uploads by status.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "uploads_total",
			Help:      "Total number of blog uploads by status",
		},
		[]string{LabelStatus},
	)

	// ChallengesSweptTotal counts expired challenges removed by the sweeper.
	ChallengesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_swept_total",
			Help:      "Total number of expired challenges removed by the sweeper",
		},
	)

	// ActiveConnections tracks in-flight requests by protocol.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// StorageHealthy is 1 when the storage backend answered its last ping.
	StorageHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "storage_healthy",
			Help:      "Indicates whether the storage backend is healthy (1) or unhealthy (0)",
		},
		[]string{LabelBackend},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordCeremony records one ceremony step with its duration and status.
//
// Example:
//
//	start := time.Now()
//	result, err := svc.CompleteRegistration(ctx, email, body)
//	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.StepComplete,
//	    metrics.StatusFor(err), time.Since(start).Seconds())
func RecordCeremony(ceremony, step, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, step, status).Inc()
	CeremonyDuration.WithLabelValues(ceremony, step).Observe(duration)
}

// RecordError records a ceremony failure by type.
func RecordError(ceremony, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(ceremony, errorType).Inc()
}

// RecordTokenIssued records a mint attempt for the given provider.
func RecordTokenIssued(provider, status string) {
	if !enabled.Load() {
		return
	}
	TokensIssuedTotal.WithLabelValues(provider, status).Inc()
}

// RecordUpload records a blog upload attempt.
func RecordUpload(status string) {
	if !enabled.Load() {
		return
	}
	UploadsTotal.WithLabelValues(status).Inc()
}

// RecordChallengesSwept adds n to the swept challenge counter.
func RecordChallengesSwept(n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	ChallengesSweptTotal.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// SetStorageHealth sets the health gauge of a storage backend.
func SetStorageHealth(backend string, healthy bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	StorageHealthy.WithLabelValues(backend).Set(value)
}

// StatusFor maps an error to StatusSuccess or StatusError.
func StatusFor(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

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

package rest

import (
	"net/http"

	"github.com/jeremyhahn/go-passkeys/pkg/health"
)

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	// Status is the overall health status
	Status health.Status `json:"status"`
	// Message provides additional context
	Message string `json:"message,omitempty"`
	// Checks contains individual check results (for readiness)
	Checks []health.CheckResult `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health/live requests.
//
// Liveness only fails if the process is in an unrecoverable state.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthChecker == nil {
		s.writeJSON(w, HealthCheckResponse{Status: health.StatusHealthy, Message: "Service is alive"}, http.StatusOK)
		return
	}

	result := s.healthChecker.Live(r.Context())
	s.writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, healthStatusCode(result.Status))
}

// ReadinessHandler handles GET /health/ready requests.
//
// Readiness fails while the credential store is unreachable. A degraded
// service keeps serving traffic.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthChecker == nil {
		s.writeJSON(w, HealthCheckResponse{Status: health.StatusHealthy, Message: "Service is ready"}, http.StatusOK)
		return
	}

	results := s.healthChecker.Ready(r.Context())
	overallStatus := health.AggregateStatus(results)

	resp := HealthCheckResponse{
		Status: overallStatus,
		Checks: results,
	}

	switch overallStatus {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
	}

	s.writeJSON(w, resp, healthStatusCode(overallStatus))
}

// StartupHandler handles GET /health/startup requests.
func (s *Server) StartupHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthChecker == nil {
		s.writeJSON(w, HealthCheckResponse{Status: health.StatusHealthy, Message: "Service has started"}, http.StatusOK)
		return
	}

	result := s.healthChecker.Startup(r.Context())
	s.writeJSON(w, HealthCheckResponse{Status: result.Status, Message: result.Message}, healthStatusCode(result.Status))
}

func healthStatusCode(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/tradewinds/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Liveness never
// touches dependencies; readiness asks the system service for a report.
type HealthHandlers struct {
	system services.SystemService
}

// NewHealthHandlers constructs probe handlers. A nil system service leaves
// readiness reporting ready, which suits tests and local tooling.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{system: system}
}

type healthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CheckedAt   string `json:"checked_at,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Readyz reports whether dependencies answer. Failed probes return 503 so
// load balancers rotate the instance out without killing it.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status: "error",
			Detail: "health report unavailable",
		})
		return
	}

	payload := healthResponse{
		Status:      "ok",
		Environment: strings.TrimSpace(report.Environment),
		StartedAt:   formatTime(report.StartedAt),
		CheckedAt:   formatTime(report.CheckedAt),
		Detail:      strings.TrimSpace(report.Detail),
	}
	status := http.StatusOK
	if !report.Healthy {
		payload.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/paygate/internal/engine"
	"github.com/onnwee/paygate/internal/middleware"
	"github.com/onnwee/paygate/internal/reconcile"
	"github.com/onnwee/paygate/internal/safety"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

// Checker is implemented by dependency health checkers.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers holds dependencies for health endpoints.
type HealthHandlers struct {
	checkers  map[string]Checker
	gate      *safety.Gate
	engine    *engine.Engine
	reconcile *reconcile.Job
}

// NewHealthHandlers creates a new HealthHandlers instance. Checkers maps
// dependency names (such as "database" or "redis") to their probes; gate,
// engine, and reconcile job may be nil in reduced deployments.
func NewHealthHandlers(checkers map[string]Checker, gate *safety.Gate, eng *engine.Engine, job *reconcile.Job) *HealthHandlers {
	return &HealthHandlers{
		checkers:  checkers,
		gate:      gate,
		engine:    eng,
		reconcile: job,
	}
}

// HandleHealth is the unauthenticated liveness probe.
// GET /health
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthDetails is the authenticated operational snapshot.
type HealthDetails struct {
	Status         string             `json:"status"`
	Dependencies   map[string]string  `json:"dependencies,omitempty"`
	SystemState    safety.SystemState `json:"system_state"`
	Throughput     engine.Stats       `json:"throughput"`
	Reconciliation *reconcile.Result  `json:"reconciliation,omitempty"`
}

// HandleHealthDetails reports dependency health, safety state, recent
// throughput, and the last reconciliation result.
// GET /health/details
func (h *HealthHandlers) HandleHealthDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	details := HealthDetails{
		Status:       "ok",
		Dependencies: make(map[string]string, len(h.checkers)),
	}

	for name, checker := range h.checkers {
		probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := checker.HealthCheck(probeCtx)
		cancel()
		if err != nil {
			details.Dependencies[name] = err.Error()
			details.Status = "degraded"
			continue
		}
		details.Dependencies[name] = "ok"
	}

	if h.gate != nil {
		state, err := h.gate.State(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load system state", "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load system state")
			return
		}
		details.SystemState = state
	}
	if h.engine != nil {
		details.Throughput = h.engine.Stats()
	}
	if h.reconcile != nil {
		details.Reconciliation = h.reconcile.LastResult()
		if details.Reconciliation != nil && details.Reconciliation.Status != reconcile.StatusHealthy {
			details.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, details)
}

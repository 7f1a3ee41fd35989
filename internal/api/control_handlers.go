package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/paygate/internal/middleware"
	"github.com/onnwee/paygate/internal/safety"
)

// Control actions accepted by the control endpoint.
const (
	ControlActionFreeze      = "freeze"
	ControlActionUnfreeze    = "unfreeze"
	ControlActionSetThrottle = "set_throttle"
	ControlActionKill        = "kill"
)

// ControlHandlers holds dependencies for operator control handlers.
type ControlHandlers struct {
	gate *safety.Gate
}

// NewControlHandlers creates a new ControlHandlers instance.
func NewControlHandlers(gate *safety.Gate) *ControlHandlers {
	return &ControlHandlers{gate: gate}
}

// ControlRequest is the request body for a control command.
type ControlRequest struct {
	Action   string   `json:"action"`
	Reason   string   `json:"reason,omitempty"`
	Throttle *float64 `json:"throttle,omitempty"`
}

// ControlResponse carries the resulting system state.
type ControlResponse struct {
	State     safety.SystemState `json:"state"`
	Timestamp time.Time          `json:"timestamp"`
}

// HandleControl applies a freeze/unfreeze/set_throttle/kill command. The
// acting operator comes from the validated token, and the safety gate
// separately enforces its allowed-actor set.
// POST /control
func (h *ControlHandlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	var state safety.SystemState
	var err error
	switch req.Action {
	case ControlActionFreeze:
		state, err = h.gate.Freeze(ctx, actor, req.Reason)
	case ControlActionUnfreeze:
		state, err = h.gate.Unfreeze(ctx, actor, req.Reason)
	case ControlActionSetThrottle:
		if req.Throttle == nil {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "throttle is required for set_throttle")
			return
		}
		state, err = h.gate.SetThrottle(ctx, actor, *req.Throttle)
	case ControlActionKill:
		state, err = h.gate.Kill(ctx, actor, req.Reason)
	default:
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "unknown control action")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, safety.ErrActorNotAllowed):
			ctx = middleware.SetErrorCode(ctx, ErrCodeForbidden)
			WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "actor not allowed to issue control commands")
		case errors.Is(err, safety.ErrInvalidThrottle):
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "throttle must be between 0 and 1")
		default:
			slog.ErrorContext(ctx, "control command failed", "action", req.Action, "actor", actor, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "control command failed")
		}
		return
	}

	slog.InfoContext(ctx, "control command applied", "action", req.Action, "actor", actor)
	writeJSON(w, http.StatusOK, ControlResponse{
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/onnwee/paygate/internal/dedup"
	"github.com/onnwee/paygate/internal/engine"
	"github.com/onnwee/paygate/internal/ledger"
	"github.com/onnwee/paygate/internal/middleware"
	"github.com/onnwee/paygate/internal/safety"
)

// WebhookHandlers holds dependencies for processor webhook handlers.
type WebhookHandlers struct {
	webhookSecret string
	engine        *engine.Engine
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(webhookSecret string, eng *engine.Engine) *WebhookHandlers {
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		engine:        eng,
	}
}

// HandleStripeWebhook processes Stripe webhook events with signature
// verification. Duplicate deliveries and out-of-order terminal events are
// acknowledged with 200 so Stripe stops retrying; they were already decided.
// POST /internal/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "missing Stripe-Signature header")
		return
	}

	event, err := webhook.ConstructEvent(body, signature, h.webhookSecret)
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
		return
	}

	// Log minimal event info (type and ID only, not full payload).
	slog.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		slog.ErrorContext(ctx, "failed to parse event object", "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "malformed event object")
		return
	}

	_, err = h.engine.ApplyEvent(ctx, engine.InboundEvent{
		ID:                event.ID,
		Type:              string(event.Type),
		ExternalReference: intent.ID,
		OccurredAt:        time.Unix(event.Created, 0).UTC(),
	})
	switch {
	case err == nil:
	case errors.Is(err, dedup.ErrEventAlreadyProcessed):
		// Acknowledge the redelivery; the first delivery already applied.
	case errors.Is(err, ledger.ErrMonotonicityViolation), errors.Is(err, ledger.ErrInvalidTransition):
		// A late event cannot move the entry backwards, terminal or not.
		// Acknowledge it so the processor stops retrying.
	case errors.Is(err, engine.ErrUnknownEventType):
		slog.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type, "event_id", event.ID)
	case errors.Is(err, safety.ErrSystemLocked), errors.Is(err, safety.ErrThrottled):
		// Refuse while locked or shedding; the processor will redeliver.
		ctx = middleware.SetErrorCode(ctx, ErrCodeSystemLocked)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeSystemLocked, "system not accepting events")
		return
	case errors.Is(err, ledger.ErrEntryNotFound):
		slog.WarnContext(ctx, "event for unknown object",
			"event_id", event.ID, "object_id", intent.ID)
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "no ledger entry for object")
		return
	default:
		slog.ErrorContext(ctx, "failed to apply webhook event", "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	w.WriteHeader(http.StatusOK)
}

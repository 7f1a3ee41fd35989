package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/paygate/internal/engine"
	"github.com/onnwee/paygate/internal/ledger"
	"github.com/onnwee/paygate/internal/middleware"
	"github.com/onnwee/paygate/internal/safety"
	"github.com/onnwee/paygate/internal/validate"
)

// PaymentHandlers holds dependencies for payment-related HTTP handlers.
type PaymentHandlers struct {
	engine     *engine.Engine
	ledgerRepo ledger.Repository
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(eng *engine.Engine, ledgerRepo ledger.Repository) *PaymentHandlers {
	return &PaymentHandlers{
		engine:     eng,
		ledgerRepo: ledgerRepo,
	}
}

// CreatePaymentRequest is the request body for creating a payment.
type CreatePaymentRequest struct {
	BusinessKey           string            `json:"business_key"`
	Amount                int64             `json:"amount"`
	Currency              string            `json:"currency"`
	CounterpartyReference string            `json:"counterparty_reference,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// HandleCreatePayment creates a payment attempt.
// POST /payments
func (h *PaymentHandlers) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	businessKey, err := validate.BusinessKey(req.BusinessKey)
	if err == nil {
		req.Currency, err = validate.Currency(req.Currency)
	}
	if err == nil {
		err = validate.Amount(req.Amount)
	}
	if err == nil {
		err = validate.Metadata(req.Metadata)
	}
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	req.BusinessKey = businessKey

	result, err := h.engine.CreatePayment(ctx, engine.CreatePaymentRequest{
		BusinessKey:           req.BusinessKey,
		Amount:                req.Amount,
		Currency:              req.Currency,
		CounterpartyReference: req.CounterpartyReference,
		Metadata:              req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, safety.ErrSystemLocked):
			ctx = middleware.SetErrorCode(ctx, ErrCodeSystemLocked)
			WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeSystemLocked, "system is frozen, retry later")
		case errors.Is(err, safety.ErrThrottled):
			ctx = middleware.SetErrorCode(ctx, ErrCodeThrottled)
			WriteError(w, ctx, http.StatusTooManyRequests, ErrCodeThrottled, "request shed by throttle, retry later")
		case errors.Is(err, engine.ErrPolicyBlocked):
			ctx = middleware.SetErrorCode(ctx, ErrCodePolicyBlocked)
			WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodePolicyBlocked, result.Decision.Reason)
		case errors.Is(err, engine.ErrAlreadyPaid):
			ctx = middleware.SetErrorCode(ctx, ErrCodeAlreadyPaid)
			WriteError(w, ctx, http.StatusConflict, ErrCodeAlreadyPaid, "business key already has a completed payment")
		default:
			slog.ErrorContext(ctx, "failed to create payment", "business_key", req.BusinessKey, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to create payment")
		}
		return
	}

	writeJSON(w, http.StatusCreated, result.Entry)
}

// HandleGetPayments returns all ledger entries for a business key.
// GET /payments/{business_key}
func (h *PaymentHandlers) HandleGetPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	businessKey := r.PathValue("business_key")
	if businessKey == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "business_key is required")
		return
	}

	entries, err := h.ledgerRepo.GetByBusinessKey(ctx, businessKey)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list entries", "business_key", businessKey, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to list entries")
		return
	}
	if len(entries) == 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "no entries for business key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

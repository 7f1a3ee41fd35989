package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/paygate/internal/auth"
	"github.com/onnwee/paygate/internal/middleware"
)

// Deps bundles the handlers and services the router wires together.
type Deps struct {
	Payments   *PaymentHandlers
	Webhooks   *WebhookHandlers
	Control    *ControlHandlers
	Audit      *AuditHandlers
	Health     *HealthHandlers
	JWTService *auth.JWTService
	Registry   *prometheus.Registry
}

// NewMux assembles the route table. Operator and audit surfaces require a
// valid actor token; payment creation and the processor webhook do not
// (the webhook authenticates via its signature).
func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /payments", deps.Payments.HandleCreatePayment)
	mux.HandleFunc("GET /payments/{business_key}", RequireActor(deps.JWTService, deps.Payments.HandleGetPayments))

	mux.HandleFunc("POST /internal/stripe", deps.Webhooks.HandleStripeWebhook)

	mux.HandleFunc("POST /control", RequireActor(deps.JWTService, deps.Control.HandleControl))

	mux.HandleFunc("GET /audit", RequireActor(deps.JWTService, deps.Audit.HandleExport))
	mux.HandleFunc("GET /audit/verify", RequireActor(deps.JWTService, deps.Audit.HandleVerify))

	mux.HandleFunc("GET /health", deps.Health.HandleHealth)
	mux.HandleFunc("GET /health/details", RequireActor(deps.JWTService, deps.Health.HandleHealthDetails))

	if deps.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	return mux
}

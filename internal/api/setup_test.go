package api

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/paygate/internal/audit"
	"github.com/onnwee/paygate/internal/auth"
	"github.com/onnwee/paygate/internal/dedup"
	"github.com/onnwee/paygate/internal/engine"
	"github.com/onnwee/paygate/internal/governance"
	"github.com/onnwee/paygate/internal/ledger"
	"github.com/onnwee/paygate/internal/processor"
	"github.com/onnwee/paygate/internal/safety"
)

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "whsec_test"
)

// testServer bundles the full in-memory stack behind the route table.
type testServer struct {
	mux       *http.ServeMux
	jwt       *auth.JWTService
	engine    *engine.Engine
	ledger    *ledger.InMemoryRepository
	processor *processor.InMemoryClient
	audit     *audit.InMemoryRepository
	safety    *safety.Gate
}

// newTestServer assembles the API over in-memory stores with one allowed
// operator.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	auditRepo := audit.NewInMemoryRepository()
	ledgerRepo := ledger.NewInMemoryRepository(auditRepo)
	client := processor.NewInMemoryClient()
	gate := safety.NewGate(safety.NewInMemoryStateStore(), []safety.Actor{
		{ID: "operator-1", Role: auth.RoleOperator},
	}, auditRepo)
	policy := governance.NewGate(governance.Config{MaxAmount: 1000000, RefundRatifyThreshold: 50000})
	eng := engine.New(ledgerRepo, dedup.NewInMemoryStore(), gate, policy, client, engine.NewMetrics(), nil)
	jwtService := auth.NewJWTService(testJWTSecret)

	mux := NewMux(Deps{
		Payments:   NewPaymentHandlers(eng, ledgerRepo),
		Webhooks:   NewWebhookHandlers(testWebhookSecret, eng),
		Control:    NewControlHandlers(gate),
		Audit:      NewAuditHandlers(auditRepo),
		Health:     NewHealthHandlers(nil, gate, eng, nil),
		JWTService: jwtService,
		Registry:   prometheus.NewRegistry(),
	})

	return &testServer{
		mux:       mux,
		jwt:       jwtService,
		engine:    eng,
		ledger:    ledgerRepo,
		processor: client,
		audit:     auditRepo,
		safety:    gate,
	}
}

// actorToken returns a bearer token for the given actor.
func (s *testServer) actorToken(t *testing.T, actor string) string {
	t.Helper()
	token, err := s.jwt.GenerateActorToken(actor, auth.RoleOperator)
	if err != nil {
		t.Fatalf("GenerateActorToken() error = %v", err)
	}
	return "Bearer " + token
}

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/paygate/internal/ledger"
)

// signWebhook computes a Stripe-Signature header for the payload using the
// test endpoint secret.
func signWebhook(payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// webhookPayload builds a minimal Stripe event envelope for a payment intent.
func webhookPayload(t *testing.T, eventID, eventType, intentID, status string) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"type":        eventType,
		"api_version": "2025-02-24.acacia",
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":     intentID,
				"status": status,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

// postWebhook delivers a signed webhook payload.
func postWebhook(s *testServer, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

// TestHandleStripeWebhook_MissingSignature tests that unsigned deliveries
// are rejected.
func TestHandleStripeWebhook_MissingSignature(t *testing.T) {
	s := newTestServer(t)

	payload := webhookPayload(t, "evt_1", "payment_intent.succeeded", "pi_1", "succeeded")
	if rec := postWebhook(s, payload, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing signature: status = %d, want 400", rec.Code)
	}
}

// TestHandleStripeWebhook_InvalidSignature tests that a bad signature is
// rejected.
func TestHandleStripeWebhook_InvalidSignature(t *testing.T) {
	s := newTestServer(t)

	payload := webhookPayload(t, "evt_1", "payment_intent.succeeded", "pi_1", "succeeded")
	sig := fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), "deadbeef")
	if rec := postWebhook(s, payload, sig); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid signature: status = %d, want 400", rec.Code)
	}
}

// TestHandleStripeWebhook_AppliesEvent tests the full signed delivery path.
func TestHandleStripeWebhook_AppliesEvent(t *testing.T) {
	s := newTestServer(t)

	rec := postPayment(t, s, CreatePaymentRequest{BusinessKey: "O1", Amount: 5000, Currency: "usd"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	var entry ledger.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}

	payload := webhookPayload(t, "evt_1", "payment_intent.succeeded", entry.ExternalReference, "succeeded")
	if rec := postWebhook(s, payload, signWebhook(payload, time.Now())); rec.Code != http.StatusOK {
		t.Fatalf("delivery: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	updated, err := s.ledger.GetByExternalReference(context.Background(), entry.ExternalReference)
	if err != nil {
		t.Fatalf("GetByExternalReference() error = %v", err)
	}
	if updated.State != ledger.StateSucceeded {
		t.Errorf("state = %s, want succeeded", updated.State)
	}
}

// TestHandleStripeWebhook_DuplicateDelivery tests that a redelivered event
// is acknowledged without being applied twice.
func TestHandleStripeWebhook_DuplicateDelivery(t *testing.T) {
	s := newTestServer(t)

	rec := postPayment(t, s, CreatePaymentRequest{BusinessKey: "O1", Amount: 5000, Currency: "usd"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	var entry ledger.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}

	payload := webhookPayload(t, "evt_1", "payment_intent.succeeded", entry.ExternalReference, "succeeded")
	for range 2 {
		if rec := postWebhook(s, payload, signWebhook(payload, time.Now())); rec.Code != http.StatusOK {
			t.Fatalf("delivery: status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
	}

	updated, err := s.ledger.GetByExternalReference(context.Background(), entry.ExternalReference)
	if err != nil {
		t.Fatalf("GetByExternalReference() error = %v", err)
	}
	if updated.State != ledger.StateSucceeded {
		t.Errorf("state = %s, want succeeded", updated.State)
	}
	if len(updated.Events) != 1 || updated.Events[0] != "evt_1" {
		t.Errorf("events = %v, want [evt_1] applied exactly once", updated.Events)
	}
}

// TestHandleStripeWebhook_LateNonTerminalEvent tests that a delayed
// non-terminal event is acknowledged so the processor stops redelivering it.
func TestHandleStripeWebhook_LateNonTerminalEvent(t *testing.T) {
	s := newTestServer(t)

	rec := postPayment(t, s, CreatePaymentRequest{BusinessKey: "O1", Amount: 5000, Currency: "usd"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	var entry ledger.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}

	payload := webhookPayload(t, "evt_proc", "payment_intent.processing", entry.ExternalReference, "processing")
	if rec := postWebhook(s, payload, signWebhook(payload, time.Now())); rec.Code != http.StatusOK {
		t.Fatalf("processing delivery: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	late := webhookPayload(t, "evt_late", "payment_intent.requires_action", entry.ExternalReference, "requires_action")
	if rec := postWebhook(s, late, signWebhook(late, time.Now())); rec.Code != http.StatusOK {
		t.Fatalf("late delivery: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	updated, err := s.ledger.GetByExternalReference(context.Background(), entry.ExternalReference)
	if err != nil {
		t.Fatalf("GetByExternalReference() error = %v", err)
	}
	if updated.State != ledger.StateProcessing {
		t.Errorf("state = %s, want processing preserved", updated.State)
	}
}

// TestHandleStripeWebhook_UnknownObject tests that an event for an object the
// ledger never saw is reported rather than silently dropped.
func TestHandleStripeWebhook_UnknownObject(t *testing.T) {
	s := newTestServer(t)

	payload := webhookPayload(t, "evt_1", "payment_intent.succeeded", "pi_ghost", "succeeded")
	if rec := postWebhook(s, payload, signWebhook(payload, time.Now())); rec.Code != http.StatusNotFound {
		t.Errorf("unknown object: status = %d, want 404", rec.Code)
	}
}

// TestHandleStripeWebhook_UnknownType tests that unhandled event types are
// acknowledged.
func TestHandleStripeWebhook_UnknownType(t *testing.T) {
	s := newTestServer(t)

	payload := webhookPayload(t, "evt_1", "charge.refunded", "ch_1", "succeeded")
	if rec := postWebhook(s, payload, signWebhook(payload, time.Now())); rec.Code != http.StatusOK {
		t.Errorf("unhandled type: status = %d, want 200", rec.Code)
	}
}

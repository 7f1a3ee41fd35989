package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/event"
	"github.com/stripe/stripe-go/v81/paymentintent"
)

// StripeClient implements the Client interface using the real Stripe SDK.
type StripeClient struct{}

// NewStripeClient creates a new Stripe client with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// CreateObject creates a PaymentIntent under the given idempotency key.
func (c *StripeClient) CreateObject(ctx context.Context, params CreateObjectParams) (*PaymentObject, error) {
	intentParams := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.Amount),
		Currency: stripe.String(params.Currency),
	}
	intentParams.Context = ctx
	if params.IdempotencyKey != "" {
		intentParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	if params.CounterpartyReference != "" {
		intentParams.Customer = stripe.String(params.CounterpartyReference)
	}
	intentParams.AddMetadata("business_key", params.BusinessKey)
	for key, value := range params.Metadata {
		intentParams.AddMetadata(key, value)
	}

	intent, err := paymentintent.New(intentParams)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return fromIntent(intent), nil
}

// GetObject fetches a PaymentIntent by ID.
func (c *StripeClient) GetObject(ctx context.Context, id string) (*PaymentObject, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return fromIntent(intent), nil
}

// ListObjectsSince returns PaymentIntents created at or after the given time.
func (c *StripeClient) ListObjectsSince(ctx context.Context, since time.Time) ([]*PaymentObject, error) {
	params := &stripe.PaymentIntentListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: since.Unix(),
		},
	}
	params.Context = ctx

	var objects []*PaymentObject
	iter := paymentintent.List(params)
	for iter.Next() {
		objects = append(objects, fromIntent(iter.PaymentIntent()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}
	return objects, nil
}

// ListEventsSince returns Stripe's event feed created at or after the given
// time.
func (c *StripeClient) ListEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	params := &stripe.EventListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: since.Unix(),
		},
	}
	params.Context = ctx

	var events []Event
	iter := event.List(params)
	for iter.Next() {
		ev := iter.Event()
		events = append(events, Event{
			ID:         ev.ID,
			Type:       string(ev.Type),
			OccurredAt: time.Unix(ev.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// fromIntent converts a Stripe PaymentIntent to the normalized object.
func fromIntent(intent *stripe.PaymentIntent) *PaymentObject {
	return &PaymentObject{
		ID:        intent.ID,
		Status:    normalizeStatus(intent.Status),
		Amount:    intent.Amount,
		Currency:  string(intent.Currency),
		Metadata:  intent.Metadata,
		CreatedAt: time.Unix(intent.Created, 0).UTC(),
	}
}

// normalizeStatus maps Stripe intent statuses onto the ledger vocabulary.
func normalizeStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	default:
		// requires_payment_method, requires_confirmation, requires_action,
		// requires_capture all need counterparty or operator input.
		return StatusRequiresAction
	}
}

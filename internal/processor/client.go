// Package processor provides the external payment processor integration:
// a mockable client interface, the Stripe implementation, and an
// optimistic-locking wrapper for processor-side object metadata.
package processor

import (
	"context"
	"time"
)

// Object statuses as reported by the processor, normalized to the ledger's
// vocabulary so callers need no second mapping.
const (
	StatusRequiresAction = "requires_action"
	StatusProcessing     = "processing"
	StatusSucceeded      = "succeeded"
	StatusFailed         = "failed"
)

// PaymentObject is the processor-side record for one payment attempt.
type PaymentObject struct {
	ID        string
	Status    string
	Amount    int64
	Currency  string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Event is one entry of the processor's notification feed, used to
// cross-check webhook deliveries against dedup records.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time
}

// CreateObjectParams are the inputs for creating a processor object.
// IdempotencyKey is forwarded to the processor so a retried create with the
// same key returns the original object instead of charging twice.
type CreateObjectParams struct {
	IdempotencyKey        string
	Amount                int64
	Currency              string
	CounterpartyReference string
	BusinessKey           string
	Metadata              map[string]string
}

// Client is an interface for processor operations to enable testing with mocks.
type Client interface {
	// CreateObject creates a payment object under the given idempotency key.
	CreateObject(ctx context.Context, params CreateObjectParams) (*PaymentObject, error)

	// GetObject fetches a payment object by its processor ID.
	GetObject(ctx context.Context, id string) (*PaymentObject, error)

	// ListObjectsSince returns objects created at or after the given time,
	// for reconciliation sweeps.
	ListObjectsSince(ctx context.Context, since time.Time) ([]*PaymentObject, error)

	// ListEventsSince returns feed entries created at or after the given
	// time, for delivery-gap detection.
	ListEventsSince(ctx context.Context, since time.Time) ([]Event, error)
}

package processor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryClient implements Client with in-memory storage. It honors
// idempotency keys the way a real processor does: a retried create with a
// known key returns the original object.
type InMemoryClient struct {
	mu     sync.Mutex
	nextID int
	byID   map[string]*PaymentObject
	byKey  map[string]string // idempotency key -> object ID
	events []Event

	// CreateErr, when set, is returned by CreateObject to simulate outages.
	CreateErr error
}

// NewInMemoryClient creates an empty in-memory processor client.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{
		byID:  make(map[string]*PaymentObject),
		byKey: make(map[string]string),
	}
}

// CreateObject creates a payment object, folding idempotency-key retries.
func (c *InMemoryClient) CreateObject(ctx context.Context, params CreateObjectParams) (*PaymentObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	if id, ok := c.byKey[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return cloneObject(c.byID[id]), nil
	}

	c.nextID++
	metadata := map[string]string{"business_key": params.BusinessKey}
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	obj := &PaymentObject{
		ID:        fmt.Sprintf("pi_mem_%d", c.nextID),
		Status:    StatusRequiresAction,
		Amount:    params.Amount,
		Currency:  params.Currency,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	c.byID[obj.ID] = obj
	if params.IdempotencyKey != "" {
		c.byKey[params.IdempotencyKey] = obj.ID
	}
	return cloneObject(obj), nil
}

// GetObject fetches a payment object by ID.
func (c *InMemoryClient) GetObject(ctx context.Context, id string) (*PaymentObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return cloneObject(obj), nil
}

// ListObjectsSince returns objects created at or after the given time.
func (c *InMemoryClient) ListObjectsSince(ctx context.Context, since time.Time) ([]*PaymentObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var objects []*PaymentObject
	for _, obj := range c.byID {
		if !obj.CreatedAt.Before(since) {
			objects = append(objects, cloneObject(obj))
		}
	}
	return objects, nil
}

// ListEventsSince returns recorded feed entries at or after the given time.
func (c *InMemoryClient) ListEventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []Event
	for _, ev := range c.events {
		if !ev.OccurredAt.Before(since) {
			events = append(events, ev)
		}
	}
	return events, nil
}

// RecordEvent appends an entry to the simulated event feed.
func (c *InMemoryClient) RecordEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// SetStatus moves an object to the given status, simulating processor-side
// progress between webhook deliveries.
func (c *InMemoryClient) SetStatus(id, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	obj.Status = status
	return nil
}

// Inject adds an object that no ledger entry knows about, simulating an
// orphan for reconciliation tests.
func (c *InMemoryClient) Inject(obj *PaymentObject) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[obj.ID] = cloneObject(obj)
}

func cloneObject(obj *PaymentObject) *PaymentObject {
	clone := *obj
	clone.Metadata = copyMetadata(obj.Metadata)
	return &clone
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/paygate/internal/audit"
)

// Repository errors.
var (
	// ErrEntryNotFound is returned when no ledger entry matches the lookup.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrDuplicatePayment is returned when a business key already has a
	// succeeded entry. Callers surface it as "already paid", not as a
	// generic failure.
	ErrDuplicatePayment = errors.New("business key already has a succeeded payment")
)

// CreateParams are the inputs for a new ledger entry.
type CreateParams struct {
	BusinessKey           string
	ExternalReference     string
	IdempotencyKey        string
	Amount                int64
	Currency              string
	CounterpartyReference string
	Metadata              map[string]string
}

// Repository defines ledger entry persistence. An entry update and its audit
// append succeed or fail together; implementations must not expose a state
// change without its audit record or vice versa.
type Repository interface {
	// CreateEntry creates an entry in StateInitiated and audits the creation.
	// Rejects with ErrDuplicatePayment if an entry with the
	// same business key is already succeeded (or reconciled from succeeded).
	// A retry carrying an idempotency key already present is folded into the
	// existing entry rather than creating a duplicate.
	CreateEntry(ctx context.Context, params CreateParams, actor string) (*Entry, error)

	// UpdateState applies a state-machine transition to the entry with the
	// given external reference and appends the matching audit record
	// atomically. evidenceID must be non-empty for terminal transitions.
	UpdateState(ctx context.Context, externalRef, newState, evidenceID, actor string) (*Entry, error)

	// GetByExternalReference returns the entry mapped to a processor object.
	GetByExternalReference(ctx context.Context, externalRef string) (*Entry, error)

	// GetByBusinessKey returns all entries for a business key.
	GetByBusinessKey(ctx context.Context, businessKey string) ([]*Entry, error)

	// IsPaid reports whether a business key has a completed payment
	// (succeeded, or reconciled absorbed from succeeded).
	IsPaid(ctx context.Context, businessKey string) (bool, error)
}

// InMemoryRepository implements Repository with in-memory storage. The
// duplicate-payment check, transition, and audit append all run under one
// mutex, which stands in for the storage-level constraints of the Postgres
// implementation.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry // keyed by entry ID
	byExt   map[string]string // external reference -> entry ID
	byIdem  map[string]string // idempotency key -> entry ID
	audit   audit.Repository
}

// NewInMemoryRepository creates an in-memory ledger repository writing audit
// records to the given trail.
func NewInMemoryRepository(auditRepo audit.Repository) *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]*Entry),
		byExt:   make(map[string]string),
		byIdem:  make(map[string]string),
		audit:   auditRepo,
	}
}

// CreateEntry creates an entry in StateInitiated and audits the creation.
func (r *InMemoryRepository) CreateEntry(ctx context.Context, params CreateParams, actor string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Fold retries: the same idempotency key always maps to the same entry.
	if id, ok := r.byIdem[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return r.entries[id].clone(), nil
	}

	for _, entry := range r.entries {
		if entry.BusinessKey == params.BusinessKey && entry.Paid() {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePayment, params.BusinessKey)
		}
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:                    uuid.New().String(),
		ExternalReference:     params.ExternalReference,
		IdempotencyKey:        params.IdempotencyKey,
		BusinessKey:           params.BusinessKey,
		Amount:                params.Amount,
		Currency:              params.Currency,
		CounterpartyReference: params.CounterpartyReference,
		Metadata:              params.Metadata,
		State:                 StateInitiated,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	_, err := r.audit.Append(ctx, audit.Entry{
		SubjectID: entry.ID,
		Actor:     actor,
		Action:    audit.ActionEntryCreated,
		Details:   fmt.Sprintf("business_key=%s amount=%d %s", entry.BusinessKey, entry.Amount, entry.Currency),
	})
	if err != nil {
		return nil, fmt.Errorf("audit append failed, entry not created: %w", err)
	}

	r.entries[entry.ID] = entry
	if entry.ExternalReference != "" {
		r.byExt[entry.ExternalReference] = entry.ID
	}
	if entry.IdempotencyKey != "" {
		r.byIdem[entry.IdempotencyKey] = entry.ID
	}

	return entry.clone(), nil
}

// UpdateState applies a transition and its audit record atomically.
func (r *InMemoryRepository) UpdateState(ctx context.Context, externalRef, newState, evidenceID, actor string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byExt[externalRef]
	if !ok {
		return nil, fmt.Errorf("%w: external reference %s", ErrEntryNotFound, externalRef)
	}
	entry := r.entries[id]

	// Apply to a copy; the stored entry must not change if the audit append fails.
	updated := entry.clone()
	prevState := updated.State
	if err := Apply(updated, newState, evidenceID); err != nil {
		return nil, err
	}

	_, err := r.audit.Append(ctx, audit.Entry{
		SubjectID: entry.ID,
		Actor:     actor,
		Action:    audit.ActionStateTransition,
		Details:   fmt.Sprintf("%s->%s evidence=%s", prevState, newState, evidenceID),
	})
	if err != nil {
		return nil, fmt.Errorf("audit append failed, transition rolled back: %w", err)
	}

	r.entries[id] = updated
	return updated.clone(), nil
}

// GetByExternalReference returns the entry mapped to a processor object.
func (r *InMemoryRepository) GetByExternalReference(ctx context.Context, externalRef string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExt[externalRef]
	if !ok {
		return nil, fmt.Errorf("%w: external reference %s", ErrEntryNotFound, externalRef)
	}
	return r.entries[id].clone(), nil
}

// GetByBusinessKey returns all entries for a business key.
func (r *InMemoryRepository) GetByBusinessKey(ctx context.Context, businessKey string) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	for _, entry := range r.entries {
		if entry.BusinessKey == businessKey {
			results = append(results, entry.clone())
		}
	}
	return results, nil
}

// IsPaid reports whether a business key has a completed payment.
func (r *InMemoryRepository) IsPaid(ctx context.Context, businessKey string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.BusinessKey == businessKey && entry.Paid() {
			return true, nil
		}
	}
	return false, nil
}

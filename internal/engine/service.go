// Package engine orchestrates payment coordination: it chains the safety
// gate, governance gate, deduplication, processor, and ledger into the two
// flows everything else calls, payment creation and evidence application.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/paygate/internal/canon"
	"github.com/onnwee/paygate/internal/dedup"
	"github.com/onnwee/paygate/internal/governance"
	"github.com/onnwee/paygate/internal/ledger"
	"github.com/onnwee/paygate/internal/processor"
	"github.com/onnwee/paygate/internal/safety"
	"github.com/onnwee/paygate/internal/tracing"
)

// Engine errors.
var (
	// ErrPolicyBlocked is returned when the governance gate rejects a
	// payment command. The Decision carries the reason.
	ErrPolicyBlocked = errors.New("payment blocked by governance policy")

	// ErrAlreadyPaid is returned when the business key already has a
	// completed payment.
	ErrAlreadyPaid = errors.New("business key already paid")

	// ErrUnknownEventType is returned for processor events the engine does
	// not route.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMissingReference is returned when an event carries no object
	// reference to apply evidence against.
	ErrMissingReference = errors.New("event missing external reference")
)

// Processor event types routed to ledger transitions.
var eventStates = map[string]string{
	"payment_intent.created":         ledger.StateCreated,
	"payment_intent.requires_action": ledger.StateRequiresAction,
	"payment_intent.processing":      ledger.StateProcessing,
	"payment_intent.succeeded":       ledger.StateSucceeded,
	"payment_intent.payment_failed":  ledger.StateFailed,
	"payment_intent.canceled":        ledger.StateFailed,
}

// InboundEvent is one processor notification after signature verification.
type InboundEvent struct {
	ID                string
	Type              string
	ExternalReference string
	OccurredAt        time.Time
}

// CreatePaymentRequest is one payment command from the API surface.
type CreatePaymentRequest struct {
	BusinessKey           string
	Amount                int64
	Currency              string
	CounterpartyReference string
	Metadata              map[string]string
}

// CreatePaymentResult carries the created entry, or the governance decision
// when the command was blocked.
type CreatePaymentResult struct {
	Entry    *ledger.Entry
	Decision governance.Decision
}

// Stats is a point-in-time throughput snapshot for the health endpoint.
type Stats struct {
	EventsProcessed uint64    `json:"events_processed"`
	EventsRejected  uint64    `json:"events_rejected"`
	PaymentsCreated uint64    `json:"payments_created"`
	LastEventAt     time.Time `json:"last_event_at,omitzero"`
}

// Engine coordinates the gates, ledger, dedup store, and processor.
type Engine struct {
	ledger     ledger.Repository
	dedup      dedup.Store
	safety     *safety.Gate
	governance *governance.Gate
	processor  processor.Client
	metrics    *Metrics
	logger     *slog.Logger

	eventsProcessed atomic.Uint64
	eventsRejected  atomic.Uint64
	paymentsCreated atomic.Uint64
	lastEventUnix   atomic.Int64
}

// New creates an engine over the given collaborators. metrics may be nil.
func New(ledgerRepo ledger.Repository, dedupStore dedup.Store, safetyGate *safety.Gate, governanceGate *governance.Gate, client processor.Client, metrics *Metrics, logger *slog.Logger) *Engine {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:     ledgerRepo,
		dedup:      dedupStore,
		safety:     safetyGate,
		governance: governanceGate,
		processor:  client,
		metrics:    metrics,
		logger:     logger,
	}
}

// CreatePayment runs one payment command through the gates, derives its
// idempotency key from the canonical parameters, creates the processor
// object, and records the attempt in the ledger. Retries with identical
// parameters converge on the same processor object and ledger entry.
func (e *Engine) CreatePayment(ctx context.Context, req CreatePaymentRequest) (result *CreatePaymentResult, retErr error) {
	ctx, endSpan := tracing.StartSpan(ctx, "create_payment")
	defer func() { endSpan(retErr) }()

	if err := e.safety.Admit(ctx); err != nil {
		e.metrics.IncPaymentsBlocked(rejectionReason(err))
		return nil, err
	}

	decision := e.governance.CheckCreatePayment(req.Amount, req.Currency, req.Metadata)
	if !decision.Allowed {
		e.metrics.IncPaymentsBlocked(ReasonPolicy)
		e.logger.InfoContext(ctx, "payment blocked by policy",
			"business_key", req.BusinessKey, "reason", decision.Reason)
		return &CreatePaymentResult{Decision: decision}, ErrPolicyBlocked
	}

	paid, err := e.ledger.IsPaid(ctx, req.BusinessKey)
	if err != nil {
		return nil, fmt.Errorf("check paid: %w", err)
	}
	if paid {
		e.metrics.IncPaymentsBlocked(ReasonAlreadyPaid)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPaid, req.BusinessKey)
	}

	key, err := canon.DeriveKey(map[string]any{
		"business_key": req.BusinessKey,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"counterparty": req.CounterpartyReference,
	})
	if err != nil {
		return nil, fmt.Errorf("derive idempotency key: %w", err)
	}

	object, err := e.processor.CreateObject(ctx, processor.CreateObjectParams{
		IdempotencyKey:        key,
		Amount:                req.Amount,
		Currency:              req.Currency,
		CounterpartyReference: req.CounterpartyReference,
		BusinessKey:           req.BusinessKey,
		Metadata:              req.Metadata,
	})
	if err != nil {
		e.metrics.IncPaymentsBlocked(ReasonError)
		return nil, fmt.Errorf("create processor object: %w", err)
	}

	entry, err := e.ledger.CreateEntry(ctx, ledger.CreateParams{
		BusinessKey:           req.BusinessKey,
		ExternalReference:     object.ID,
		IdempotencyKey:        key,
		Amount:                req.Amount,
		Currency:              req.Currency,
		CounterpartyReference: req.CounterpartyReference,
		Metadata:              req.Metadata,
	}, "engine")
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicatePayment) {
			e.metrics.IncPaymentsBlocked(ReasonAlreadyPaid)
			return nil, fmt.Errorf("%w: %s", ErrAlreadyPaid, req.BusinessKey)
		}
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}

	// A folded retry may already be past initiated, and a concurrent retry
	// may win the advance between our create and update.
	if entry.State == ledger.StateInitiated {
		entry, err = e.ledger.UpdateState(ctx, object.ID, ledger.StateCreated, "", "engine")
		if errors.Is(err, ledger.ErrInvalidTransition) || errors.Is(err, ledger.ErrMonotonicityViolation) {
			entry, err = e.ledger.GetByExternalReference(ctx, object.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("advance to created: %w", err)
		}
	}

	e.paymentsCreated.Add(1)
	e.metrics.IncPaymentsCreated()
	e.logger.InfoContext(ctx, "payment created",
		"business_key", req.BusinessKey, "external_reference", object.ID, "amount", req.Amount)
	return &CreatePaymentResult{Entry: entry, Decision: decision}, nil
}

// ApplyEvent applies one processor event as evidence: safety check, atomic
// dedup, then the ledger transition. Duplicates and out-of-order terminal
// events come back as distinct errors so the caller can acknowledge them
// without retrying.
func (e *Engine) ApplyEvent(ctx context.Context, event InboundEvent) (entry *ledger.Entry, retErr error) {
	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "apply_event")
	defer func() { endSpan(retErr) }()

	if err := e.safety.Admit(ctx); err != nil {
		e.reject(rejectionReason(err))
		return nil, err
	}

	state, ok := eventStates[event.Type]
	if !ok {
		e.reject(ReasonUnknownEvent)
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}
	if event.ExternalReference == "" {
		e.reject(ReasonError)
		return nil, fmt.Errorf("%w: event %s", ErrMissingReference, event.ID)
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	if err := e.dedup.MarkProcessed(ctx, event.ID, event.Type, occurred); err != nil {
		if errors.Is(err, dedup.ErrEventAlreadyProcessed) {
			e.reject(ReasonDuplicate)
			e.logger.InfoContext(ctx, "duplicate event skipped", "event_id", event.ID, "type", event.Type)
			return nil, err
		}
		e.reject(ReasonError)
		return nil, fmt.Errorf("mark event processed: %w", err)
	}
	tracing.AddEvent(ctx, "dedup_checked", attribute.String("event_id", event.ID))

	entry, err := e.ledger.UpdateState(ctx, event.ExternalReference, state, event.ID, "processor")
	if err != nil {
		if errors.Is(err, ledger.ErrMonotonicityViolation) || errors.Is(err, ledger.ErrInvalidTransition) {
			// Final decisions, not transient failures: a delayed event cannot
			// move the entry backwards whether or not it is terminal. The mark
			// stays so redeliveries of this late event keep being swallowed.
			e.reject(ReasonOutOfOrder)
			e.logger.InfoContext(ctx, "out-of-order event rejected",
				"event_id", event.ID, "type", event.Type, "external_reference", event.ExternalReference)
			return nil, err
		}
		// Transient failure after the mark: release it so the processor's
		// redelivery is not swallowed as a duplicate.
		if unmarkErr := e.dedup.Unmark(ctx, event.ID); unmarkErr != nil {
			e.logger.ErrorContext(ctx, "failed to release dedup mark",
				"event_id", event.ID, "error", unmarkErr)
		}
		e.reject(ReasonError)
		return nil, fmt.Errorf("apply event %s: %w", event.ID, err)
	}

	e.eventsProcessed.Add(1)
	e.lastEventUnix.Store(time.Now().Unix())
	e.metrics.IncEventsProcessed()
	e.metrics.ObserveApplyDuration(time.Since(start).Seconds())
	e.logger.InfoContext(ctx, "event applied",
		"event_id", event.ID, "type", event.Type, "state", entry.State)
	return entry, nil
}

// Stats returns a throughput snapshot.
func (e *Engine) Stats() Stats {
	stats := Stats{
		EventsProcessed: e.eventsProcessed.Load(),
		EventsRejected:  e.eventsRejected.Load(),
		PaymentsCreated: e.paymentsCreated.Load(),
	}
	if unix := e.lastEventUnix.Load(); unix > 0 {
		stats.LastEventAt = time.Unix(unix, 0).UTC()
	}
	return stats
}

func (e *Engine) reject(reason string) {
	e.eventsRejected.Add(1)
	e.metrics.IncEventsRejected(reason)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, safety.ErrSystemLocked):
		return ReasonSystemLocked
	case errors.Is(err, safety.ErrThrottled):
		return ReasonThrottled
	default:
		return ReasonError
	}
}

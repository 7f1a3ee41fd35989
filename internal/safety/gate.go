// Package safety provides the process-wide frozen/throttled/killed state
// that blocks or probabilistically rejects new event processing, under
// operator control with authority separation.
package safety

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/onnwee/paygate/internal/audit"
)

// Gate errors. ErrSystemLocked is deliberately distinct from generic
// failures so callers can tell an operator freeze from an outage.
var (
	ErrSystemLocked    = errors.New("system locked")
	ErrThrottled       = errors.New("request rejected by throttle")
	ErrActorNotAllowed = errors.New("actor not in allowed set")
	ErrInvalidThrottle = errors.New("throttle must be in [0,1]")
	ErrVersionConflict = errors.New("system state version conflict")
)

// SystemState is the singleton control record. Throttle is the probability
// in [0,1] that a new inbound event is rejected; 1.0 rejects everything.
// Version increments on every mutation so the record can be shared by
// multiple engine instances behind a compare-and-swap store.
type SystemState struct {
	Frozen       bool      `json:"is_frozen"`
	FreezeReason string    `json:"freeze_reason,omitempty"`
	Throttle     float64   `json:"throttle"`
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StateStore persists the versioned system state record.
type StateStore interface {
	// Load returns the current system state.
	Load(ctx context.Context) (SystemState, error)
	// Save writes the state if the stored version still equals
	// expectedVersion, returning ErrVersionConflict otherwise.
	Save(ctx context.Context, state SystemState, expectedVersion uint64) error
}

// InMemoryStateStore implements StateStore for single-instance deployments
// and tests.
type InMemoryStateStore struct {
	mu    sync.RWMutex
	state SystemState
}

// NewInMemoryStateStore creates an in-memory system state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{}
}

// Load returns the current system state.
func (s *InMemoryStateStore) Load(ctx context.Context) (SystemState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// Save writes the state if the version still matches.
func (s *InMemoryStateStore) Save(ctx context.Context, state SystemState, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.state = state
	return nil
}

// Actor is one entry of the allowed-actor reference set.
type Actor struct {
	ID   string
	Role string
}

// Gate is the safety checkpoint consulted before every inbound event.
// Control transitions persist through the versioned store before they are
// audited, so a conflicted save never leaves a phantom audit record.
type Gate struct {
	mu     sync.Mutex
	store  StateStore
	actors map[string]string // actor ID -> role
	audit  audit.Repository
	rand   func() float64
}

// NewGate creates a safety gate over the given state store, allowed-actor
// set, and audit trail.
func NewGate(store StateStore, actors []Actor, auditRepo audit.Repository) *Gate {
	allowed := make(map[string]string, len(actors))
	for _, a := range actors {
		allowed[a.ID] = a.Role
	}
	return &Gate{
		store:  store,
		actors: allowed,
		audit:  auditRepo,
		rand:   rand.Float64,
	}
}

// Admit reports whether a new inbound event may be processed.
// Returns ErrSystemLocked when frozen and ErrThrottled when the throttle
// draw rejects the request. Throttling is controlled degradation, not a
// correctness mechanism.
func (g *Gate) Admit(ctx context.Context) error {
	state, err := g.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load system state: %w", err)
	}

	if state.Frozen {
		if state.FreezeReason != "" {
			return fmt.Errorf("%w: %s", ErrSystemLocked, state.FreezeReason)
		}
		return ErrSystemLocked
	}
	if state.Throttle > 0 && g.rand() < state.Throttle {
		return ErrThrottled
	}
	return nil
}

// State returns the current system state.
func (g *Gate) State(ctx context.Context) (SystemState, error) {
	return g.store.Load(ctx)
}

// Freeze halts all new event processing.
func (g *Gate) Freeze(ctx context.Context, actor, reason string) (SystemState, error) {
	return g.mutate(ctx, actor, audit.ActionFreeze, reason, func(s *SystemState) {
		s.Frozen = true
		s.FreezeReason = reason
	})
}

// Unfreeze resumes event processing.
func (g *Gate) Unfreeze(ctx context.Context, actor, reason string) (SystemState, error) {
	return g.mutate(ctx, actor, audit.ActionUnfreeze, reason, func(s *SystemState) {
		s.Frozen = false
		s.FreezeReason = ""
	})
}

// SetThrottle sets the probabilistic rejection rate.
func (g *Gate) SetThrottle(ctx context.Context, actor string, value float64) (SystemState, error) {
	if value < 0 || value > 1 {
		return SystemState{}, fmt.Errorf("%w: %v", ErrInvalidThrottle, value)
	}
	details := fmt.Sprintf("throttle=%.2f", value)
	return g.mutate(ctx, actor, audit.ActionSetThrottle, details, func(s *SystemState) {
		s.Throttle = value
	})
}

// Kill freezes the system and sets the throttle to maximum rejection.
func (g *Gate) Kill(ctx context.Context, actor, reason string) (SystemState, error) {
	return g.mutate(ctx, actor, audit.ActionKill, reason, func(s *SystemState) {
		s.Frozen = true
		s.FreezeReason = reason
		s.Throttle = 1.0
	})
}

// mutate applies a control transition: actor check, the versioned save, then
// the audit append. Saving first means a conflicted save leaves no audit
// record for an action that never took effect. The gate mutex serializes
// local mutations; the version check guards against a concurrent instance
// writing the shared record.
func (g *Gate) mutate(ctx context.Context, actor, action, details string, apply func(*SystemState)) (SystemState, error) {
	if _, ok := g.actors[actor]; !ok {
		return SystemState{}, fmt.Errorf("%w: %s", ErrActorNotAllowed, actor)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.store.Load(ctx)
	if err != nil {
		return SystemState{}, fmt.Errorf("load system state: %w", err)
	}

	prev := state.Version
	apply(&state)
	state.Version = prev + 1
	state.UpdatedAt = time.Now().UTC()

	if err := g.store.Save(ctx, state, prev); err != nil {
		return SystemState{}, err
	}

	_, err = g.audit.Append(ctx, audit.Entry{
		SubjectID: audit.SubjectSystem,
		Actor:     actor,
		Action:    action,
		Details:   details,
	})
	if err != nil {
		return state, fmt.Errorf("control action applied but audit append failed: %w", err)
	}
	return state, nil
}

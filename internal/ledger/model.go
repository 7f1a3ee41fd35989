// Package ledger provides the attempt state machine and the evidence ledger:
// the durable record of payment and control attempts, mutated only through
// guarded state transitions.
package ledger

import "time"

// Attempt states. An entry starts in StateInitiated and can only advance
// along the transition graph in state.go; StateReconciled is terminal with
// no outgoing edges.
const (
	StateInitiated      = "initiated"
	StateCreated        = "created"
	StateRequiresAction = "requires_action"
	StateProcessing     = "processing"
	StateSucceeded      = "succeeded"
	StateFailed         = "failed"
	StateReconciled     = "reconciled"
)

// Entry is one ledger record per payment or control attempt.
//
// Entries are created once and mutated only through the state machine's
// transition function; they become logically immutable once reconciled.
type Entry struct {
	ID                    string            `json:"id"`
	ExternalReference     string            `json:"external_reference,omitempty"` // processor object ID; empty until created
	IdempotencyKey        string            `json:"idempotency_key"`
	BusinessKey           string            `json:"business_key"`
	Amount                int64             `json:"amount"` // minor units
	Currency              string            `json:"currency"`
	CounterpartyReference string            `json:"counterparty_reference,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	State                 string            `json:"state"`
	Outcome               string            `json:"outcome,omitempty"` // succeeded or failed, fixed at the terminal transition
	Events                []string          `json:"events"`            // evidence-event IDs, one per transition that carried evidence
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// IsTerminal reports whether the entry has reached succeeded or failed.
// Terminal entries accept only the reconciliation exit.
func (e *Entry) IsTerminal() bool {
	return e.State == StateSucceeded || e.State == StateFailed
}

// Paid reports whether the entry represents a completed payment: it is in
// succeeded, or in reconciled absorbed from succeeded.
func (e *Entry) Paid() bool {
	if e.State == StateSucceeded {
		return true
	}
	return e.State == StateReconciled && e.Outcome == StateSucceeded
}

// clone returns a deep copy of the entry to prevent external mutation.
func (e *Entry) clone() *Entry {
	copied := *e
	if e.Metadata != nil {
		copied.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = v
		}
	}
	copied.Events = append([]string(nil), e.Events...)
	return &copied
}

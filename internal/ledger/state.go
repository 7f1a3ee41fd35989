package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Transition errors. ErrMonotonicityViolation indicates an attempt to move a
// terminal entry anywhere but reconciled; it is never retried and callers
// surface it as a critical alert, because it means either a bug or a
// compromised notification source.
var (
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrMonotonicityViolation = errors.New("terminal state cannot be reversed")
	ErrEvidenceRequired      = errors.New("terminal transition requires an evidence event")
	ErrUnknownState          = errors.New("unknown state")
)

// successors maps each state to its allowed successor set.
var successors = map[string]map[string]bool{
	StateInitiated: {StateCreated: true},
	StateCreated: {
		StateRequiresAction: true,
		StateProcessing:     true,
		StateSucceeded:      true,
		StateFailed:         true,
	},
	StateRequiresAction: {
		StateProcessing: true,
		StateSucceeded:  true,
		StateFailed:     true,
	},
	StateProcessing: {
		StateSucceeded: true,
		StateFailed:    true,
	},
	StateSucceeded:  {StateReconciled: true},
	StateFailed:     {StateReconciled: true},
	StateReconciled: {},
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to string) bool {
	return successors[from][to]
}

// Apply transitions the entry to newState in place, appending evidenceID to
// the entry's event list. The caller is responsible for persisting the entry
// and emitting the matching audit record through the ledger's write path.
//
// Rules, checked in order:
//  1. newState must be in the allowed successor set of the current state.
//  2. Monotonicity: a terminal entry (succeeded/failed) accepts only
//     reconciled; anything else is ErrMonotonicityViolation, which is what
//     stops a late out-of-order webhook from un-succeeding a payment.
//  3. Terminal transitions require a non-empty evidenceID.
func Apply(entry *Entry, newState, evidenceID string) error {
	if _, known := successors[entry.State]; !known {
		return fmt.Errorf("%w: %q", ErrUnknownState, entry.State)
	}
	if _, known := successors[newState]; !known {
		return fmt.Errorf("%w: %q", ErrUnknownState, newState)
	}

	if entry.IsTerminal() && newState != StateReconciled {
		return fmt.Errorf("%w: %s -> %s", ErrMonotonicityViolation, entry.State, newState)
	}

	if !CanTransition(entry.State, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.State, newState)
	}

	if (newState == StateSucceeded || newState == StateFailed) && evidenceID == "" {
		return fmt.Errorf("%w: transition to %s", ErrEvidenceRequired, newState)
	}

	if evidenceID != "" {
		entry.Events = append(entry.Events, evidenceID)
	}
	if newState == StateSucceeded || newState == StateFailed {
		entry.Outcome = newState
	}
	entry.State = newState
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

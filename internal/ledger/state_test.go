package ledger

import (
	"errors"
	"testing"
	"time"
)

// newEntry returns an entry in the given state for transition tests.
func newEntry(state string) *Entry {
	now := time.Now().UTC()
	return &Entry{
		ID:          "entry-1",
		BusinessKey: "O1",
		Amount:      5000,
		Currency:    "usd",
		State:       state,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TestApply_AllowedTransitions walks every edge of the state graph.
func TestApply_AllowedTransitions(t *testing.T) {
	cases := []struct {
		from, to string
	}{
		{StateInitiated, StateCreated},
		{StateCreated, StateRequiresAction},
		{StateCreated, StateProcessing},
		{StateCreated, StateSucceeded},
		{StateCreated, StateFailed},
		{StateRequiresAction, StateProcessing},
		{StateRequiresAction, StateSucceeded},
		{StateRequiresAction, StateFailed},
		{StateProcessing, StateSucceeded},
		{StateProcessing, StateFailed},
		{StateSucceeded, StateReconciled},
		{StateFailed, StateReconciled},
	}

	for _, tc := range cases {
		entry := newEntry(tc.from)
		if err := Apply(entry, tc.to, "ev-1"); err != nil {
			t.Errorf("Apply(%s -> %s) error = %v, want nil", tc.from, tc.to, err)
			continue
		}
		if entry.State != tc.to {
			t.Errorf("Apply(%s -> %s): state = %s", tc.from, tc.to, entry.State)
		}
	}
}

// TestApply_InvalidTransitions tests edges not in the graph.
func TestApply_InvalidTransitions(t *testing.T) {
	cases := []struct {
		from, to string
	}{
		{StateInitiated, StateSucceeded},
		{StateInitiated, StateProcessing},
		{StateProcessing, StateCreated},
		{StateProcessing, StateRequiresAction},
		{StateCreated, StateInitiated},
		{StateCreated, StateReconciled},
	}

	for _, tc := range cases {
		entry := newEntry(tc.from)
		err := Apply(entry, tc.to, "ev-1")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Apply(%s -> %s) error = %v, want ErrInvalidTransition", tc.from, tc.to, err)
		}
		if entry.State != tc.from {
			t.Errorf("rejected transition mutated state to %s", entry.State)
		}
	}
}

// TestApply_Monotonicity tests that terminal entries accept only the
// reconciliation exit. Once succeeded, no sequence of calls can reach failed.
func TestApply_Monotonicity(t *testing.T) {
	for _, terminal := range []string{StateSucceeded, StateFailed} {
		for _, target := range []string{StateInitiated, StateCreated, StateRequiresAction, StateProcessing, StateSucceeded, StateFailed} {
			entry := newEntry(terminal)
			err := Apply(entry, target, "ev-late")
			if !errors.Is(err, ErrMonotonicityViolation) {
				t.Errorf("Apply(%s -> %s) error = %v, want ErrMonotonicityViolation", terminal, target, err)
			}
		}
	}

	// A late out-of-order "failed" webhook against a succeeded entry is the
	// canonical case: it must be rejected, not applied.
	entry := newEntry(StateSucceeded)
	if err := Apply(entry, StateFailed, "ev-out-of-order"); !errors.Is(err, ErrMonotonicityViolation) {
		t.Fatalf("late failure webhook: error = %v, want ErrMonotonicityViolation", err)
	}
	if entry.State != StateSucceeded {
		t.Errorf("state = %s, want succeeded preserved", entry.State)
	}
}

// TestApply_ReconciledIsAbsorbing tests that reconciled has no outgoing edges.
func TestApply_ReconciledIsAbsorbing(t *testing.T) {
	for _, target := range []string{StateInitiated, StateCreated, StateRequiresAction, StateProcessing, StateSucceeded, StateFailed, StateReconciled} {
		entry := newEntry(StateReconciled)
		if err := Apply(entry, target, "ev-1"); err == nil {
			t.Errorf("Apply(reconciled -> %s) should fail", target)
		}
	}
}

// TestApply_EvidenceRequired tests that terminal transitions demand evidence.
func TestApply_EvidenceRequired(t *testing.T) {
	for _, target := range []string{StateSucceeded, StateFailed} {
		entry := newEntry(StateProcessing)
		err := Apply(entry, target, "")
		if !errors.Is(err, ErrEvidenceRequired) {
			t.Errorf("Apply(processing -> %s, no evidence) error = %v, want ErrEvidenceRequired", target, err)
		}
		if len(entry.Events) != 0 {
			t.Error("rejected transition should not record evidence")
		}
	}

	// Non-terminal transitions do not require evidence.
	entry := newEntry(StateInitiated)
	if err := Apply(entry, StateCreated, ""); err != nil {
		t.Errorf("Apply(initiated -> created, no evidence) error = %v", err)
	}
}

// TestApply_RecordsEvidenceAndOutcome tests event accumulation and the
// terminal outcome marker.
func TestApply_RecordsEvidenceAndOutcome(t *testing.T) {
	entry := newEntry(StateInitiated)

	steps := []struct {
		state    string
		evidence string
	}{
		{StateCreated, "ev-create"},
		{StateProcessing, "ev-processing"},
		{StateSucceeded, "ev-succeeded"},
		{StateReconciled, "ev-recon"},
	}
	for _, step := range steps {
		if err := Apply(entry, step.state, step.evidence); err != nil {
			t.Fatalf("Apply(-> %s) error = %v", step.state, err)
		}
	}

	if len(entry.Events) != 4 {
		t.Errorf("events = %v, want 4 entries", entry.Events)
	}
	if entry.Outcome != StateSucceeded {
		t.Errorf("outcome = %s, want succeeded", entry.Outcome)
	}
	if !entry.Paid() {
		t.Error("reconciled entry absorbed from succeeded should report paid")
	}

	// A reconciled entry absorbed from failed is not paid.
	failed := newEntry(StateProcessing)
	if err := Apply(failed, StateFailed, "ev-f"); err != nil {
		t.Fatalf("Apply(-> failed) error = %v", err)
	}
	if err := Apply(failed, StateReconciled, "ev-r"); err != nil {
		t.Fatalf("Apply(-> reconciled) error = %v", err)
	}
	if failed.Paid() {
		t.Error("reconciled entry absorbed from failed should not report paid")
	}
}

// TestApply_UnknownState tests rejection of states outside the graph.
func TestApply_UnknownState(t *testing.T) {
	entry := newEntry(StateCreated)
	if err := Apply(entry, "refunded", "ev-1"); !errors.Is(err, ErrUnknownState) {
		t.Errorf("Apply(-> refunded) error = %v, want ErrUnknownState", err)
	}

	entry.State = "bogus"
	if err := Apply(entry, StateProcessing, "ev-1"); !errors.Is(err, ErrUnknownState) {
		t.Errorf("Apply(bogus -> processing) error = %v, want ErrUnknownState", err)
	}
}

// Package audit provides the hash-chained, append-only record of every
// state transition and control action, independent of the ledger's mutable
// current-state view. Any break in the chain is a detectable integrity
// violation.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SubjectSystem is the subject identifier for system-wide control actions
// (freeze, unfreeze, throttle changes) that reference no single ledger entry.
const SubjectSystem = "system"

// Actions recorded in the audit trail.
const (
	ActionEntryCreated    = "entry_created"
	ActionStateTransition = "state_transition"
	ActionFreeze          = "freeze"
	ActionUnfreeze        = "unfreeze"
	ActionSetThrottle     = "set_throttle"
	ActionKill            = "kill"
	ActionReconcileRepair = "reconcile_repair"
)

// Record is a single immutable audit record. SequenceID is monotonic across
// the whole trail; PrevHash of record n equals Hash of record n-1, with the
// first record carrying an empty PrevHash.
type Record struct {
	SequenceID uint64    `json:"sequence_id" cbor:"1,keyasint"`
	SubjectID  string    `json:"subject_id" cbor:"2,keyasint"`
	Actor      string    `json:"actor" cbor:"3,keyasint"`
	Action     string    `json:"action" cbor:"4,keyasint"`
	Details    string    `json:"details" cbor:"5,keyasint"`
	PrevHash   string    `json:"prev_hash" cbor:"6,keyasint"`
	Hash       string    `json:"hash" cbor:"7,keyasint"`
	CreatedAt  time.Time `json:"created_at" cbor:"8,keyasint"`
}

// Entry is the input for appending a record. Sequence, hashes, and timestamp
// are assigned by the repository.
type Entry struct {
	SubjectID string
	Actor     string
	Action    string
	Details   string
}

// ComputeHash computes the record hash over
// (sequence_id, subject_id, actor, action, details, prev_hash).
// Fields are length-prefixed before hashing so no two field boundaries can
// produce the same preimage.
func ComputeHash(sequenceID uint64, subjectID, actor, action, details, prevHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d", sequenceID)
	for _, field := range []string{subjectID, actor, action, details, prevHash} {
		fmt.Fprintf(h, "|%d:%s", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

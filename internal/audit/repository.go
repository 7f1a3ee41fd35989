package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Validation errors for audit entries.
var (
	ErrInvalidSubjectID = errors.New("subject ID cannot be empty")
	ErrInvalidActor     = errors.New("actor cannot be empty")
	ErrInvalidAction    = errors.New("action cannot be empty")
)

// Repository defines the interface for audit trail operations.
// Implementations must assign sequence numbers and chain hashes atomically:
// two concurrent appends must never observe the same predecessor hash.
type Repository interface {
	// Append creates a new record at the head of the chain and returns it.
	// Records are created exactly once per transition and never mutated.
	Append(ctx context.Context, entry Entry) (*Record, error)

	// Range returns up to limit records with SequenceID > afterSeq, in
	// sequence order. A limit of 0 applies DefaultPageSize.
	Range(ctx context.Context, afterSeq uint64, limit int) ([]*Record, error)

	// BySubject returns records for a subject in sequence order, up to limit
	// (0 = no limit).
	BySubject(ctx context.Context, subjectID string, limit int) ([]*Record, error)

	// LastHash returns the hash at the head of the chain, or the empty
	// string for an empty trail.
	LastHash(ctx context.Context) (string, error)
}

// DefaultPageSize bounds Range reads when the caller passes no limit.
const DefaultPageSize = 100

// validateEntry checks required entry fields before any write.
func validateEntry(entry Entry) error {
	if entry.SubjectID == "" {
		return ErrInvalidSubjectID
	}
	if entry.Actor == "" {
		return ErrInvalidActor
	}
	if entry.Action == "" {
		return ErrInvalidAction
	}
	return nil
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe; the sequence counter and chain head are guarded by one mutex
// so appends are serialized.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records []*Record
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Append creates a new record chained to the current head.
func (r *InMemoryRepository) Append(ctx context.Context, entry Entry) (*Record, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prevHash := ""
	if n := len(r.records); n > 0 {
		prevHash = r.records[n-1].Hash
	}

	seq := uint64(len(r.records) + 1)
	record := &Record{
		SequenceID: seq,
		SubjectID:  entry.SubjectID,
		Actor:      entry.Actor,
		Action:     entry.Action,
		Details:    entry.Details,
		PrevHash:   prevHash,
		Hash:       ComputeHash(seq, entry.SubjectID, entry.Actor, entry.Action, entry.Details, prevHash),
		CreatedAt:  time.Now().UTC(),
	}
	r.records = append(r.records, record)

	copied := *record
	return &copied, nil
}

// Range returns up to limit records with SequenceID > afterSeq in sequence order.
func (r *InMemoryRepository) Range(ctx context.Context, afterSeq uint64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Record
	for _, record := range r.records {
		if record.SequenceID <= afterSeq {
			continue
		}
		copied := *record
		results = append(results, &copied)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// BySubject returns records for a subject in sequence order.
func (r *InMemoryRepository) BySubject(ctx context.Context, subjectID string, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Record
	for _, record := range r.records {
		if record.SubjectID != subjectID {
			continue
		}
		copied := *record
		results = append(results, &copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// LastHash returns the hash at the head of the chain.
func (r *InMemoryRepository) LastHash(ctx context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.records) == 0 {
		return "", nil
	}
	return r.records[len(r.records)-1].Hash, nil
}

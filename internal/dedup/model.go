// Package dedup tracks which inbound event identifiers have been applied
// and maintains per-event-class watermarks, so duplicate deliveries are
// rejected and missing deliveries are detectable.
package dedup

import (
	"context"
	"errors"
	"time"
)

// ErrEventAlreadyProcessed is returned when attempting to mark a duplicate event.
var ErrEventAlreadyProcessed = errors.New("event already processed")

// DefaultWindow is the default retention window for dedup records. Records
// older than this may be evicted by the cleanup job; it therefore also
// bounds the window inside which a redelivered event is guaranteed to be
// recognized as a duplicate.
const DefaultWindow = 24 * time.Hour

// ProcessedEvent records a single applied inbound event identifier.
type ProcessedEvent struct {
	EventID     string
	EventClass  string
	ObservedAt  time.Time
	ProcessedAt time.Time
}

// Store defines dedup record persistence.
//
// MarkProcessed must be atomic with respect to concurrent delivery of the
// same event identifier: of N concurrent calls with one event_id, exactly
// one succeeds and the rest receive ErrEventAlreadyProcessed.
type Store interface {
	// MarkProcessed records an event identifier as applied and advances the
	// event-class watermark to observedAt if it is later than the current one.
	// Returns ErrEventAlreadyProcessed if the identifier was already recorded.
	MarkProcessed(ctx context.Context, eventID, eventClass string, observedAt time.Time) error

	// Unmark removes a previously recorded event identifier so a redelivery
	// can apply it. Used as compensation when the work guarded by
	// MarkProcessed failed transiently. Watermarks are not rewound.
	Unmark(ctx context.Context, eventID string) error

	// IsDuplicate reports whether an event identifier has already been applied.
	IsDuplicate(ctx context.Context, eventID string) (bool, error)

	// Watermark returns the highest observedAt recorded for an event class.
	// The zero time is returned when no event of that class has been seen.
	Watermark(ctx context.Context, eventClass string) (time.Time, error)

	// DetectGaps returns the subset of expectedIDs that have never been
	// recorded as processed. This feeds the reconciliation job.
	DetectGaps(ctx context.Context, eventClass string, expectedIDs []string) ([]string, error)

	// DeleteOlderThan removes dedup records processed before the cutoff
	// implied by the given retention duration. Returns the number removed.
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

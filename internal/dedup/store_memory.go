// Package dedup provides store implementations for dedup record persistence.
package dedup

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore implements Store with in-memory storage.
// The check-and-mark in MarkProcessed is atomic under the store mutex.
type InMemoryStore struct {
	mu         sync.RWMutex
	events     map[string]*ProcessedEvent
	watermarks map[string]time.Time
}

// NewInMemoryStore creates a new in-memory dedup store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:     make(map[string]*ProcessedEvent),
		watermarks: make(map[string]time.Time),
	}
}

// MarkProcessed records an event identifier as applied.
// Returns ErrEventAlreadyProcessed if the identifier was already recorded.
func (s *InMemoryStore) MarkProcessed(ctx context.Context, eventID, eventClass string, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[eventID]; exists {
		return ErrEventAlreadyProcessed
	}

	s.events[eventID] = &ProcessedEvent{
		EventID:     eventID,
		EventClass:  eventClass,
		ObservedAt:  observedAt,
		ProcessedAt: time.Now(),
	}

	if observedAt.After(s.watermarks[eventClass]) {
		s.watermarks[eventClass] = observedAt
	}

	return nil
}

// Unmark removes a previously recorded event identifier.
func (s *InMemoryStore) Unmark(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventID)
	return nil
}

// IsDuplicate reports whether an event identifier has already been applied.
func (s *InMemoryStore) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.events[eventID]
	return exists, nil
}

// Watermark returns the highest observedAt recorded for an event class.
func (s *InMemoryStore) Watermark(ctx context.Context, eventClass string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.watermarks[eventClass], nil
}

// DetectGaps returns the subset of expectedIDs never recorded as processed.
func (s *InMemoryStore) DetectGaps(ctx context.Context, eventClass string, expectedIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, id := range expectedIDs {
		if _, exists := s.events[id]; !exists {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// DeleteOlderThan removes dedup records processed before the retention cutoff.
// Watermarks are left in place; they record observation history, not liveness.
func (s *InMemoryStore) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	deleted := int64(0)

	for id, event := range s.events {
		if event.ProcessedAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}

	return deleted, nil
}

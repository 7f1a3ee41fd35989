package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Optimistic locking errors.
var (
	// ErrVersionConflict is returned by WriteConditional when the object
	// changed since it was read.
	ErrVersionConflict = errors.New("object version conflict")

	// ErrOptimisticLockFailed is returned when every retry attempt lost the
	// race. The read-modify-write was NOT applied.
	ErrOptimisticLockFailed = errors.New("optimistic lock failed after retries")

	// ErrObjectNotFound is returned for unknown object IDs.
	ErrObjectNotFound = errors.New("processor object not found")
)

// ObjectStore reads and conditionally writes processor-side object metadata.
// The processor's conditional-write semantics are not contractually
// guaranteed, so callers must go through OptimisticWriter rather than
// assuming a bare write is safe.
type ObjectStore interface {
	// ReadVersioned returns the object metadata and its version token.
	ReadVersioned(ctx context.Context, objectID string) (map[string]string, string, error)

	// WriteConditional writes the metadata if the stored version still
	// equals expectedVersion, returning ErrVersionConflict otherwise.
	WriteConditional(ctx context.Context, objectID string, metadata map[string]string, expectedVersion string) error
}

// OptimisticWriter retries read-modify-write cycles against an ObjectStore
// with bounded attempts and exponential backoff.
type OptimisticWriter struct {
	store       ObjectStore
	maxAttempts int
	baseDelay   time.Duration
}

// NewOptimisticWriter creates a writer with the given retry bounds.
// maxAttempts must be at least 1; baseDelay is doubled after each conflict.
func NewOptimisticWriter(store ObjectStore, maxAttempts int, baseDelay time.Duration) *OptimisticWriter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &OptimisticWriter{
		store:       store,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// Update runs mutate against a fresh read of the object and writes the
// result conditionally, retrying on version conflicts. mutate receives a
// copy it may modify in place.
func (w *OptimisticWriter) Update(ctx context.Context, objectID string, mutate func(metadata map[string]string)) error {
	delay := w.baseDelay
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		metadata, version, err := w.store.ReadVersioned(ctx, objectID)
		if err != nil {
			return fmt.Errorf("read object %s: %w", objectID, err)
		}

		updated := make(map[string]string, len(metadata))
		for k, v := range metadata {
			updated[k] = v
		}
		mutate(updated)

		err = w.store.WriteConditional(ctx, objectID, updated, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("write object %s: %w", objectID, err)
		}
	}
	return fmt.Errorf("%w: object %s, %d attempts", ErrOptimisticLockFailed, objectID, w.maxAttempts)
}

// InMemoryObjectStore implements ObjectStore with per-object versions.
type InMemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string]versionedObject
}

type versionedObject struct {
	metadata map[string]string
	version  uint64
}

// NewInMemoryObjectStore creates an empty in-memory object store.
func NewInMemoryObjectStore() *InMemoryObjectStore {
	return &InMemoryObjectStore{objects: make(map[string]versionedObject)}
}

// Put seeds an object, bumping its version unconditionally.
func (s *InMemoryObjectStore) Put(objectID string, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[objectID]
	obj.metadata = copyMetadata(metadata)
	obj.version++
	s.objects[objectID] = obj
}

// ReadVersioned returns the object metadata and its version token.
func (s *InMemoryObjectStore) ReadVersioned(ctx context.Context, objectID string) (map[string]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[objectID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
	}
	return copyMetadata(obj.metadata), fmt.Sprintf("%d", obj.version), nil
}

// WriteConditional writes the metadata if the version still matches.
func (s *InMemoryObjectStore) WriteConditional(ctx context.Context, objectID string, metadata map[string]string, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[objectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
	}
	if fmt.Sprintf("%d", obj.version) != expectedVersion {
		return ErrVersionConflict
	}
	obj.metadata = copyMetadata(metadata)
	obj.version++
	s.objects[objectID] = obj
	return nil
}

func copyMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

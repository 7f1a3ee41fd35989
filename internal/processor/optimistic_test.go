package processor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

// TestOptimisticWriter_Update tests a plain read-modify-write.
func TestOptimisticWriter_Update(t *testing.T) {
	store := NewInMemoryObjectStore()
	store.Put("pi_1", map[string]string{"note": "initial"})

	writer := NewOptimisticWriter(store, 3, time.Millisecond)
	err := writer.Update(context.Background(), "pi_1", func(metadata map[string]string) {
		metadata["note"] = "updated"
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	metadata, _, err := store.ReadVersioned(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("ReadVersioned() error = %v", err)
	}
	if metadata["note"] != "updated" {
		t.Errorf("note = %q, want updated", metadata["note"])
	}
}

// TestOptimisticWriter_NoLostUpdates tests that concurrent increments through
// the writer all land. This is the reason the wrapper exists: unconditional
// writes would silently drop racing updates.
func TestOptimisticWriter_NoLostUpdates(t *testing.T) {
	store := NewInMemoryObjectStore()
	store.Put("pi_1", map[string]string{"counter": "0"})

	writer := NewOptimisticWriter(store, 100, time.Microsecond)

	const numGoroutines = 25
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			err := writer.Update(context.Background(), "pi_1", func(metadata map[string]string) {
				n, _ := strconv.Atoi(metadata["counter"])
				metadata["counter"] = strconv.Itoa(n + 1)
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	metadata, _, _ := store.ReadVersioned(context.Background(), "pi_1")
	if metadata["counter"] != strconv.Itoa(numGoroutines) {
		t.Errorf("counter = %s, want %d", metadata["counter"], numGoroutines)
	}
}

// TestOptimisticWriter_BoundedRetries tests that the writer gives up after
// maxAttempts conflicts instead of spinning forever.
func TestOptimisticWriter_BoundedRetries(t *testing.T) {
	store := &alwaysConflictStore{}
	writer := NewOptimisticWriter(store, 4, time.Microsecond)

	err := writer.Update(context.Background(), "pi_1", func(metadata map[string]string) {})
	if !errors.Is(err, ErrOptimisticLockFailed) {
		t.Fatalf("Update() error = %v, want ErrOptimisticLockFailed", err)
	}
	if store.writes != 4 {
		t.Errorf("writes = %d, want 4 attempts", store.writes)
	}
}

// TestOptimisticWriter_ContextCancellation tests that a cancelled context
// stops the backoff loop.
func TestOptimisticWriter_ContextCancellation(t *testing.T) {
	store := &alwaysConflictStore{}
	writer := NewOptimisticWriter(store, 10, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := writer.Update(ctx, "pi_1", func(metadata map[string]string) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Update() error = %v, want context.Canceled", err)
	}
}

// TestOptimisticWriter_UnknownObject tests lookup failure propagation.
func TestOptimisticWriter_UnknownObject(t *testing.T) {
	writer := NewOptimisticWriter(NewInMemoryObjectStore(), 3, time.Millisecond)

	err := writer.Update(context.Background(), "pi_missing", func(metadata map[string]string) {})
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Update() error = %v, want ErrObjectNotFound", err)
	}
}

// alwaysConflictStore rejects every conditional write.
type alwaysConflictStore struct {
	mu     sync.Mutex
	writes int
}

func (s *alwaysConflictStore) ReadVersioned(ctx context.Context, objectID string) (map[string]string, string, error) {
	return map[string]string{}, "1", nil
}

func (s *alwaysConflictStore) WriteConditional(ctx context.Context, objectID string, metadata map[string]string, expectedVersion string) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return ErrVersionConflict
}

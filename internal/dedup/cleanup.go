// Package dedup provides cleanup utilities for dedup record retention.
package dedup

import (
	"context"
	"log/slog"
	"time"
)

// CleanupOldRecords removes dedup records older than the retention window.
// Returns the number of records deleted and any error encountered.
//
// Shrinking the window below the processor's webhook retry horizon would
// allow a very late redelivery to be applied twice, so retention should stay
// at or above DefaultWindow.
func CleanupOldRecords(ctx context.Context, store Store, retention time.Duration) (int64, error) {
	deleted, err := store.DeleteOlderThan(ctx, retention)
	if err != nil {
		slog.Error("failed to cleanup old dedup records", "error", err)
		return 0, err
	}

	if deleted > 0 {
		slog.Info("cleaned up old dedup records", "deleted", deleted, "older_than", retention)
	}

	return deleted, nil
}

// RunPeriodicCleanup runs the cleanup job at the specified interval until
// the stop channel is closed or the context is cancelled. This function
// blocks and should typically be run in a goroutine.
func RunPeriodicCleanup(ctx context.Context, store Store, interval, retention time.Duration, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	if _, err := CleanupOldRecords(ctx, store, retention); err != nil {
		slog.Error("initial dedup cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupOldRecords(ctx, store, retention); err != nil {
				slog.Error("periodic dedup cleanup failed", "error", err)
			}
		case <-stopChan:
			slog.Info("stopping dedup cleanup")
			return
		case <-ctx.Done():
			slog.Info("stopping dedup cleanup", "reason", ctx.Err())
			return
		}
	}
}

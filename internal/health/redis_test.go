package health

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// TestRedisChecker_New tests checker construction.
func TestRedisChecker_New(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	checker := NewRedisChecker(client)
	if checker == nil {
		t.Fatal("expected checker to be non-nil")
	}
	if checker.client != client {
		t.Error("expected checker client to match provided client")
	}
}

// TestRedisChecker_ContextCancellation tests that a cancelled context fails
// the check instead of hanging.
func TestRedisChecker_ContextCancellation(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:1", // nothing listens here
	})

	checker := NewRedisChecker(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := checker.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}
}

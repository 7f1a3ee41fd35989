package processor

import (
	"context"
	"testing"
	"time"
)

// TestInMemoryClient_IdempotencyKeyFolding tests that a retried create with
// the same key returns the original object.
func TestInMemoryClient_IdempotencyKeyFolding(t *testing.T) {
	client := NewInMemoryClient()
	ctx := context.Background()

	params := CreateObjectParams{
		IdempotencyKey: "key-1",
		Amount:         5000,
		Currency:       "usd",
		BusinessKey:    "O1",
	}

	first, err := client.CreateObject(ctx, params)
	if err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}
	second, err := client.CreateObject(ctx, params)
	if err != nil {
		t.Fatalf("retried CreateObject() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("retry created a second object: %s vs %s", first.ID, second.ID)
	}

	// A different key creates a distinct object.
	params.IdempotencyKey = "key-2"
	third, err := client.CreateObject(ctx, params)
	if err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}
	if third.ID == first.ID {
		t.Error("distinct key returned the same object")
	}
}

// TestInMemoryClient_ListObjectsSince tests the reconciliation listing window.
func TestInMemoryClient_ListObjectsSince(t *testing.T) {
	client := NewInMemoryClient()
	ctx := context.Background()

	old := &PaymentObject{ID: "pi_old", Status: StatusSucceeded, CreatedAt: time.Now().Add(-48 * time.Hour)}
	client.Inject(old)
	if _, err := client.CreateObject(ctx, CreateObjectParams{Amount: 100, Currency: "usd"}); err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}

	recent, err := client.ListObjectsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListObjectsSince() error = %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("recent objects = %d, want 1", len(recent))
	}
	if recent[0].ID == "pi_old" {
		t.Error("listing included an object outside the window")
	}
}

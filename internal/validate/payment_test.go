package validate

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestBusinessKey tests trimming, length, and character checks.
func TestBusinessKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain key", "ORDER-2026-001", "ORDER-2026-001", nil},
		{"trimmed", "  inv_42  ", "inv_42", nil},
		{"dotted and scoped", "tenant:a.b", "tenant:a.b", nil},
		{"empty", "", "", ErrEmpty},
		{"whitespace only", "   ", "", ErrEmpty},
		{"too long", strings.Repeat("x", MaxBusinessKeyLength+1), "", ErrTooLong},
		{"spaces inside", "order 42", "", ErrInvalidCharacters},
		{"control characters", "order\n42", "", ErrInvalidCharacters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BusinessKey(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BusinessKey(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("BusinessKey(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestCurrency tests normalization and format checks.
func TestCurrency(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"lowercase", "usd", "usd", nil},
		{"uppercase normalized", "EUR", "eur", nil},
		{"trimmed", " gbp ", "gbp", nil},
		{"empty", "", "", ErrEmpty},
		{"too short", "us", "", ErrInvalidCurrency},
		{"numeric", "us1", "", ErrInvalidCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Currency(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Currency(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Currency(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestAmount tests the positive minor-unit check.
func TestAmount(t *testing.T) {
	if err := Amount(1); err != nil {
		t.Errorf("Amount(1) error = %v", err)
	}
	if err := Amount(0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Amount(0) error = %v, want ErrInvalidAmount", err)
	}
	if err := Amount(-500); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Amount(-500) error = %v, want ErrInvalidAmount", err)
	}
}

// TestMetadata tests entry count and size limits.
func TestMetadata(t *testing.T) {
	if err := Metadata(map[string]string{"note": "rush order"}); err != nil {
		t.Errorf("Metadata(small) error = %v", err)
	}
	if err := Metadata(nil); err != nil {
		t.Errorf("Metadata(nil) error = %v", err)
	}

	big := make(map[string]string, MaxMetadataEntries+1)
	for i := range MaxMetadataEntries + 1 {
		big[fmt.Sprintf("key-%d", i)] = "v"
	}
	if err := Metadata(big); !errors.Is(err, ErrTooManyMetadata) {
		t.Errorf("Metadata(big) error = %v, want ErrTooManyMetadata", err)
	}

	if err := Metadata(map[string]string{strings.Repeat("k", MaxMetadataKeyLength+1): "v"}); !errors.Is(err, ErrTooLong) {
		t.Errorf("long key error = %v, want ErrTooLong", err)
	}
	if err := Metadata(map[string]string{"k": strings.Repeat("v", MaxMetadataValueLength+1)}); !errors.Is(err, ErrTooLong) {
		t.Errorf("long value error = %v, want ErrTooLong", err)
	}
	if err := Metadata(map[string]string{"": "v"}); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty key error = %v, want ErrEmpty", err)
	}
}

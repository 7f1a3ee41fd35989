// Package validate provides input validation for payment commands before
// they reach the engine. Parameters feed idempotency-key derivation, so
// normalization here (trimming, lowercasing) also keeps retries converging
// on the same key.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors.
var (
	ErrEmpty             = errors.New("value is empty")
	ErrTooLong           = errors.New("value is too long")
	ErrInvalidCharacters = errors.New("value contains invalid characters")
	ErrInvalidAmount     = errors.New("amount must be a positive number of minor units")
	ErrInvalidCurrency   = errors.New("currency must be a three-letter ISO code")
	ErrTooManyMetadata   = errors.New("too many metadata entries")
)

// Limits on payment parameters. Metadata limits follow the processor's.
const (
	MaxBusinessKeyLength   = 128
	MaxMetadataEntries     = 50
	MaxMetadataKeyLength   = 40
	MaxMetadataValueLength = 500
)

var (
	businessKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	currencyPattern    = regexp.MustCompile(`^[a-z]{3}$`)
)

// BusinessKey validates and trims a business key.
func BusinessKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("business_key: %w", ErrEmpty)
	}
	if utf8.RuneCountInString(s) > MaxBusinessKeyLength {
		return "", fmt.Errorf("business_key: %w: maximum is %d", ErrTooLong, MaxBusinessKeyLength)
	}
	if !businessKeyPattern.MatchString(s) {
		return "", fmt.Errorf("business_key: %w", ErrInvalidCharacters)
	}
	return s, nil
}

// Currency validates a currency code and normalizes it to lowercase.
func Currency(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("currency: %w", ErrEmpty)
	}
	if !currencyPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return s, nil
}

// Amount validates a payment amount in minor units.
func Amount(v int64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, v)
	}
	return nil
}

// Metadata validates metadata entry count and sizes.
func Metadata(m map[string]string) error {
	if len(m) > MaxMetadataEntries {
		return fmt.Errorf("%w: %d entries, maximum is %d", ErrTooManyMetadata, len(m), MaxMetadataEntries)
	}
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("metadata key: %w", ErrEmpty)
		}
		if utf8.RuneCountInString(k) > MaxMetadataKeyLength {
			return fmt.Errorf("metadata key %q: %w: maximum is %d", k, ErrTooLong, MaxMetadataKeyLength)
		}
		if utf8.RuneCountInString(v) > MaxMetadataValueLength {
			return fmt.Errorf("metadata value for %q: %w: maximum is %d", k, ErrTooLong, MaxMetadataValueLength)
		}
	}
	return nil
}

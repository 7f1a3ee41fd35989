// Package governance screens payment commands before they reach the
// processor: amount ceilings, sensitive-metadata detection, and refund
// ratification thresholds.
package governance

import (
	"fmt"
	"regexp"
	"strings"
)

// Required actions attached to blocked or escalated decisions.
const (
	ActionNone   = ""
	ActionRatify = "ratify"
)

// Decision is the outcome of a governance check. A disallowed decision
// carries a human-readable reason; RequiredAction is set when the command
// may proceed only after an out-of-band approval.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	RequiredAction string `json:"required_action,omitempty"`
}

// Config holds governance thresholds.
type Config struct {
	// MaxAmount is the largest payment accepted, in minor units.
	MaxAmount int64
	// MaxAmountByCurrency overrides MaxAmount for specific currencies,
	// keyed by lowercase ISO code.
	MaxAmountByCurrency map[string]int64
	// RefundRatifyThreshold is the refund amount, in minor units, above
	// which a full refund requires ratification before execution.
	RefundRatifyThreshold int64
}

// sensitivePatterns match metadata values that must never be forwarded to
// the processor. Formats, not semantics: a value that looks like a
// government identifier is rejected even if it is something else.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),    // US SSN
	regexp.MustCompile(`\b\d{9}\b`),                // bare 9-digit identifier
	regexp.MustCompile(`\b[A-Z]{2}\d{6}[A-Z]?\b`),  // passport-style
	regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`), // PAN
}

// sensitiveKeywords flag metadata keys or values referencing regulated
// categories.
var sensitiveKeywords = []string{
	"ssn", "social_security", "passport", "tax_id", "national_id",
	"diagnosis", "medical", "prescription", "health_record",
}

// Gate applies governance policy to payment commands.
type Gate struct {
	cfg Config
}

// NewGate creates a governance gate with the given thresholds.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// CheckCreatePayment screens a payment creation command. Blocks amounts
// above the currency's ceiling, non-positive amounts, missing currencies,
// and sensitive metadata.
func (g *Gate) CheckCreatePayment(amount int64, currency string, metadata map[string]string) Decision {
	if amount <= 0 {
		return Decision{Reason: "amount must be positive"}
	}
	if currency == "" {
		return Decision{Reason: "currency is required"}
	}
	ceiling := g.cfg.MaxAmount
	if override, ok := g.cfg.MaxAmountByCurrency[currency]; ok {
		ceiling = override
	}
	if ceiling > 0 && amount > ceiling {
		return Decision{Reason: fmt.Sprintf("amount %d exceeds maximum %d for %s", amount, ceiling, currency)}
	}
	if field, ok := findSensitive(metadata); ok {
		return Decision{Reason: fmt.Sprintf("metadata field %q contains sensitive data", field)}
	}
	return Decision{Allowed: true}
}

// CheckRefund screens a refund command against the original payment amount.
// A full refund above the ratification threshold is allowed only with
// RequiredAction set, so callers hold it until an operator ratifies; partial
// refunds are not escalated.
func (g *Gate) CheckRefund(amount, originalAmount int64) Decision {
	if amount <= 0 {
		return Decision{Reason: "refund amount must be positive"}
	}
	if originalAmount > 0 && amount > originalAmount {
		return Decision{Reason: fmt.Sprintf("refund %d exceeds original amount %d", amount, originalAmount)}
	}
	if g.cfg.RefundRatifyThreshold > 0 && amount == originalAmount && amount > g.cfg.RefundRatifyThreshold {
		return Decision{
			Allowed:        true,
			Reason:         fmt.Sprintf("full refund %d exceeds ratification threshold %d", amount, g.cfg.RefundRatifyThreshold),
			RequiredAction: ActionRatify,
		}
	}
	return Decision{Allowed: true}
}

// findSensitive returns the first metadata field that trips a sensitive
// pattern or keyword.
func findSensitive(metadata map[string]string) (string, bool) {
	for key, value := range metadata {
		lowerKey := strings.ToLower(key)
		lowerValue := strings.ToLower(value)
		for _, kw := range sensitiveKeywords {
			if strings.Contains(lowerKey, kw) || strings.Contains(lowerValue, kw) {
				return key, true
			}
		}
		for _, pattern := range sensitivePatterns {
			if pattern.MatchString(value) {
				return key, true
			}
		}
	}
	return "", false
}

// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database. Optional; the server falls back to in-memory stores when
	// unset, which is only suitable for development.
	DatabaseURL string `koanf:"database_url"`

	// Redis, for the dedup store. Optional with the same in-memory fallback.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// JWT Authentication. The previous secret is accepted for validation
	// during rotation and may be empty.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Stripe
	StripeAPIKey        string `koanf:"stripe_api_key"`
	StripeWebhookSecret string `koanf:"stripe_webhook_secret"`

	// Governance thresholds, in minor units. 0 disables a threshold.
	MaxPaymentAmount      int64 `koanf:"max_payment_amount"`
	RefundRatifyThreshold int64 `koanf:"refund_ratify_threshold"`

	// Safety gate. Comma-separated "id:role" pairs of actors allowed to
	// issue control commands.
	AllowedActors string `koanf:"allowed_actors"`

	// Reconciliation job
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
	ReconcileLookback time.Duration `koanf:"reconcile_lookback"`

	// Dedup retention window
	DedupWindow time.Duration `koanf:"dedup_window"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret           = errors.New("JWT_SECRET is required")
	ErrMissingStripeAPIKey        = errors.New("STRIPE_API_KEY is required")
	ErrMissingStripeWebhookSecret = errors.New("STRIPE_WEBHOOK_SECRET is required")
	ErrMissingAllowedActors       = errors.New("ALLOWED_ACTORS is required")
	ErrMalformedAllowedActors     = errors.New("ALLOWED_ACTORS entries must be id:role pairs")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
	ErrInvalidDuration            = errors.New("duration values must parse with time.ParseDuration")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultReconcileInterval = 5 * time.Minute
	DefaultReconcileLookback = 24 * time.Hour
	DefaultDedupWindow       = 24 * time.Hour
	DefaultTracingSampleRate = 0.1
)

// Actor is one parsed entry of the allowed-actor list.
type Actor struct {
	ID   string
	Role string
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	maxAmount, maxErr := getEnvInt64OrDefault("MAX_PAYMENT_AMOUNT", k.Int64("max_payment_amount"), 0)
	if maxErr != nil {
		loadErrs = append(loadErrs, maxErr)
	}
	refundThreshold, refundErr := getEnvInt64OrDefault("REFUND_RATIFY_THRESHOLD", k.Int64("refund_ratify_threshold"), 0)
	if refundErr != nil {
		loadErrs = append(loadErrs, refundErr)
	}

	reconcileInterval, err := getEnvDurationOrDefault("RECONCILE_INTERVAL", k.Duration("reconcile_interval"), DefaultReconcileInterval)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	reconcileLookback, err := getEnvDurationOrDefault("RECONCILE_LOOKBACK", k.Duration("reconcile_lookback"), DefaultReconcileLookback)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	dedupWindow, err := getEnvDurationOrDefault("DEDUP_WINDOW", k.Duration("dedup_window"), DefaultDedupWindow)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefaultMulti([]string{"ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:             getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:         getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		JWTSecret:             getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:     getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		StripeAPIKey:          getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),
		StripeWebhookSecret:   getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		MaxPaymentAmount:      maxAmount,
		RefundRatifyThreshold: refundThreshold,
		AllowedActors:         getEnvOrKoanf("ALLOWED_ACTORS", k, "allowed_actors"),
		ReconcileInterval:     reconcileInterval,
		ReconcileLookback:     reconcileLookback,
		DedupWindow:           dedupWindow,
		TracingEnabled:        getEnvBool("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingExporter:       getEnvOrKoanf("TRACING_EXPORTER", k, "tracing_exporter"),
		OTLPEndpoint:          getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate:     sampleRate,
		TracingInsecure:       getEnvBool("TRACING_INSECURE", k.Bool("tracing_insecure")),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvInt64OrDefault returns the environment variable as int64 if set, otherwise the koanf value, or default.
func getEnvInt64OrDefault(envKey string, koanfVal int64, defaultVal int64) (int64, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBool returns the environment variable as a bool if set, otherwise the
// koanf value. Unrecognized values leave the koanf value in place.
func getEnvBool(envKey string, koanfVal bool) bool {
	switch strings.ToLower(os.Getenv(envKey)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return koanfVal
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.StripeAPIKey == "" {
		errs = append(errs, ErrMissingStripeAPIKey)
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, ErrMissingStripeWebhookSecret)
	}
	if c.AllowedActors == "" {
		errs = append(errs, ErrMissingAllowedActors)
	} else if _, err := c.ActorList(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// ActorList parses the allowed-actor list into id/role pairs.
func (c *Config) ActorList() ([]Actor, error) {
	if c.AllowedActors == "" {
		return nil, nil
	}

	var actors []Actor
	for _, raw := range strings.Split(c.AllowedActors, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, role, ok := strings.Cut(raw, ":")
		if !ok || id == "" || role == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedAllowedActors, raw)
		}
		actors = append(actors, Actor{ID: id, Role: role})
	}
	return actors, nil
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                    fmt.Sprintf("%d", c.Port),
		"env":                     c.Env,
		"database_url":            maskDatabaseURL(c.DatabaseURL),
		"redis_addr":              valueOrUnset(c.RedisAddr),
		"redis_password":          maskSecret(c.RedisPassword),
		"jwt_secret":              maskSecret(c.JWTSecret),
		"jwt_previous_secret":     maskSecret(c.JWTPreviousSecret),
		"stripe_api_key":          maskStripeKey(c.StripeAPIKey),
		"stripe_webhook_secret":   maskSecret(c.StripeWebhookSecret),
		"max_payment_amount":      fmt.Sprintf("%d", c.MaxPaymentAmount),
		"refund_ratify_threshold": fmt.Sprintf("%d", c.RefundRatifyThreshold),
		"allowed_actors":          c.AllowedActors,
		"reconcile_interval":      c.ReconcileInterval.String(),
		"reconcile_lookback":      c.ReconcileLookback.String(),
		"dedup_window":            c.DedupWindow.String(),
		"tracing_enabled":         fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":           valueOrUnset(c.OTLPEndpoint),
	}
}

// valueOrUnset returns the value or a placeholder when empty.
func valueOrUnset(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_, sk_test_, etc.)
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Stripe keys have format like sk_live_..., sk_test_..., pk_live_..., etc.
	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	// Fallback to generic masking
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}

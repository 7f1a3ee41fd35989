package tracing

import (
	"context"
	"testing"
	"time"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: false})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider to be non-nil")
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
}

func TestNewProvider_InvalidSamplingRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"negative", -0.1},
		{"greater than 1", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Enabled:      true,
				SamplingRate: tt.rate,
			}

			_, err := NewProvider(cfg)
			if err == nil {
				t.Fatalf("expected error for sampling rate %f", tt.rate)
			}
		})
	}
}

func TestNewProvider_ValidConfig(t *testing.T) {
	tests := []struct {
		name         string
		exporterType string
		samplingRate float64
		endpoint     string
		insecure     bool
	}{
		{
			name:         "otlp-http with 10% sampling",
			exporterType: "otlp-http",
			samplingRate: 0.1,
			endpoint:     "localhost:4318",
			insecure:     true,
		},
		{
			name:         "otlp-grpc with 100% sampling",
			exporterType: "otlp-grpc",
			samplingRate: 1.0,
			endpoint:     "localhost:4317",
			insecure:     true,
		},
		{
			name:         "default exporter with 0% sampling",
			exporterType: "",
			samplingRate: 0.0,
			endpoint:     "",
			insecure:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Enabled:      true,
				Environment:  "test",
				ExporterType: tt.exporterType,
				OTLPEndpoint: tt.endpoint,
				SamplingRate: tt.samplingRate,
				InsecureMode: tt.insecure,
			}

			provider, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				t.Errorf("unexpected shutdown error: %v", err)
			}
		})
	}
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		ExporterType: "jaeger",
		SamplingRate: 0.5,
	}

	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestProvider_Tracer(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tracer := provider.Tracer("paygate/test")
	if tracer == nil {
		t.Fatal("expected a tracer even when disabled")
	}
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	provider := &Provider{}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil shutdown on empty provider, got %v", err)
	}
}

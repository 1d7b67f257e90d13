package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/skypro1111/live-caption-service/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSetupTracingModes(t *testing.T) {
	tests := []struct {
		name        string
		tracing     string
		expectError bool
	}{
		{name: "disabled", tracing: "none", expectError: false},
		{name: "stdout", tracing: "stdout", expectError: false},
		{name: "unknown exporter", tracing: "zipkin", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Telemetry
			cfg.Tracing = tt.tracing

			shutdown, err := Setup(context.Background(), cfg, prometheus.NewRegistry(), testLogger())
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			_, span := otel.Tracer("telemetry-test").Start(context.Background(), "test-span")
			span.End()

			if err := shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown failed: %v", err)
			}
		})
	}
}

func TestMeterExportsToRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	shutdown, err := Setup(context.Background(), config.Default().Telemetry, registry, testLogger())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer shutdown(context.Background())

	counter, err := otel.Meter("telemetry-test").Int64Counter("telemetry.test.events")
	if err != nil {
		t.Fatalf("Failed to create counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from metrics handler, got %d", rec.Code)
	}

	found := false
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "telemetry_test_events_total") {
			continue
		}
		found = true
		if !strings.HasSuffix(line, " 3") {
			t.Errorf("Expected counter value 3, got %q", line)
		}
	}
	if !found {
		t.Errorf("Expected otel counter in the metrics output, got:\n%s", rec.Body.String())
	}
}

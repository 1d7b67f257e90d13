package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/live-caption-service/internal/broadcast"
	"github.com/skypro1111/live-caption-service/internal/config"
	"github.com/skypro1111/live-caption-service/internal/metrics"
	"github.com/skypro1111/live-caption-service/internal/stream"
	"github.com/skypro1111/live-caption-service/internal/transcription"
	"github.com/skypro1111/live-caption-service/internal/vad"
)

type testServer struct {
	http        *HTTPServer
	server      *httptest.Server
	config      *config.Config
	manager     *stream.Manager
	registry    *broadcast.Registry
	coordinator *transcription.Coordinator
}

func newTestServer(t *testing.T, ready bool) *testServer {
	t.Helper()
	return newTestServerWithEngine(t, transcription.NewMockEngine(false), ready)
}

func newTestServerWithEngine(t *testing.T, engine transcription.Engine, ready bool) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	cfg := config.Default()
	cfg.Server.StaticDir = t.TempDir()
	cfg.Engine.APIKey = "sk-secret"

	coordinator, err := transcription.NewCoordinator(engine,
		transcription.CoordinatorConfig{SampleRate: cfg.Audio.SampleRate}, logger, m)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	coordinator.SetReady(ready)

	listeners := broadcast.NewRegistry(logger, m)

	manager, err := stream.NewManager(logger, stream.ManagerConfig{
		Gate:       vad.DefaultGateConfig(),
		SampleRate: cfg.Audio.SampleRate,
		ScratchDir: t.TempDir(),
	}, coordinator, listeners, m)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	h := NewHTTPServer(&cfg, logger, manager, coordinator, m, registry)
	server := httptest.NewServer(h.Handler())

	t.Cleanup(func() {
		manager.Stop()
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		listeners.Close(ctx)
	})

	return &testServer{
		http:        h,
		server:      server,
		config:      &cfg,
		manager:     manager,
		registry:    listeners,
		coordinator: coordinator,
	}
}

func (s *testServer) do(t *testing.T, method, path string, header http.Header) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(method, s.server.URL+path, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
	}{
		{name: "model loaded", ready: true},
		{name: "model not loaded", ready: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.ready)

			resp, body := s.do(t, http.MethodGet, "/api/health", nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}

			var health struct {
				Status      string `json:"status"`
				ModelLoaded bool   `json:"model_loaded"`
			}
			if err := json.Unmarshal([]byte(body), &health); err != nil {
				t.Fatalf("Failed to parse health response: %v", err)
			}
			if health.Status != "ASR Backend is running" {
				t.Errorf("Unexpected status %q", health.Status)
			}
			if health.ModelLoaded != tt.ready {
				t.Errorf("Expected model_loaded=%v, got %v", tt.ready, health.ModelLoaded)
			}

			resp, _ = s.do(t, http.MethodHead, "/api/health", nil)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("Expected 200 for HEAD, got %d", resp.StatusCode)
			}

			resp, _ = s.do(t, http.MethodPost, "/api/health", nil)
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("Expected 405 for POST, got %d", resp.StatusCode)
			}
		})
	}
}

func TestRootHead(t *testing.T) {
	s := newTestServer(t, true)

	resp, _ := s.do(t, http.MethodHead, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
}

func TestFrontendServing(t *testing.T) {
	s := newTestServer(t, true)

	// No build yet
	resp, body := s.do(t, http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without a build, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Frontend build not found") {
		t.Errorf("Expected build hint, got %q", body)
	}

	dir := s.config.Server.StaticDir
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>captions</html>"), 0644); err != nil {
		t.Fatalf("Failed to write index: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0755); err != nil {
		t.Fatalf("Failed to create assets dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0644); err != nil {
		t.Fatalf("Failed to write asset: %v", err)
	}

	tests := []struct {
		name       string
		path       string
		statusCode int
		contains   string
	}{
		{name: "index", path: "/", statusCode: http.StatusOK, contains: "captions"},
		{name: "asset", path: "/assets/app.js", statusCode: http.StatusOK, contains: "console.log"},
		{name: "client route falls back to index", path: "/display/fullscreen", statusCode: http.StatusOK, contains: "captions"},
		{name: "directory falls back to index", path: "/assets", statusCode: http.StatusOK, contains: "captions"},
		{name: "traversal stays inside static dir", path: "/../../etc/passwd", statusCode: http.StatusOK, contains: "captions"},
		{name: "unknown api route", path: "/api/unknown", statusCode: http.StatusNotFound, contains: "Not Found"},
		{name: "ws prefixed path", path: "/ws-debug", statusCode: http.StatusNotFound, contains: "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodGet, tt.path, nil)
			if resp.StatusCode != tt.statusCode {
				t.Errorf("Expected %d, got %d", tt.statusCode, resp.StatusCode)
			}
			if !strings.Contains(body, tt.contains) {
				t.Errorf("Expected body to contain %q, got %q", tt.contains, body)
			}
		})
	}
}

func TestConfigEndpointOmitsSecrets(t *testing.T) {
	s := newTestServer(t, true)

	resp, body := s.do(t, http.MethodGet, "/api/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if strings.Contains(body, "sk-secret") || strings.Contains(body, "api_key") {
		t.Errorf("Config endpoint leaked credentials: %s", body)
	}
	if !strings.Contains(body, `"energy_threshold":0.03`) {
		t.Errorf("Expected silence settings in config, got %s", body)
	}
}

func TestStatsAndSessionsEndpoints(t *testing.T) {
	s := newTestServer(t, true)

	resp, body := s.do(t, http.MethodGet, "/api/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var stats struct {
		Sessions      stream.ManagerStats              `json:"sessions"`
		Transcription transcription.CoordinatorStats `json:"transcription"`
	}
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("Failed to parse stats: %v", err)
	}
	if stats.Sessions.ActiveSessions != 0 || !stats.Transcription.Ready {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	resp, body = s.do(t, http.MethodGet, "/api/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"total_sessions":0`) {
		t.Errorf("Expected no sessions, got %s", body)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/sessions/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestStatsIncludeHTTPEngine(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "hello"}`))
	}))
	defer backend.Close()

	engine, err := transcription.NewHTTPEngine(transcription.HTTPConfig{Endpoint: backend.URL})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}
	s := newTestServerWithEngine(t, engine, true)

	if _, err := s.coordinator.Transcribe(context.Background(), make([]float32, 1600), nil); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	_, body := s.do(t, http.MethodGet, "/api/stats", nil)
	var stats struct {
		Engine *transcription.HTTPStats `json:"engine"`
	}
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("Failed to parse stats: %v", err)
	}
	if stats.Engine == nil {
		t.Fatalf("Expected engine stats in %s", body)
	}
	if stats.Engine.TotalRequests != 1 || stats.Engine.SuccessRequests != 1 {
		t.Errorf("Unexpected engine stats: %+v", stats.Engine)
	}
}

func TestStatsOmitEngineForMock(t *testing.T) {
	s := newTestServer(t, true)

	_, body := s.do(t, http.MethodGet, "/api/stats", nil)
	if strings.Contains(body, `"engine"`) {
		t.Errorf("Expected no engine stats for the mock engine, got %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, true)

	// Generate at least one recorded request
	s.do(t, http.MethodGet, "/api/health", nil)

	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "caption_http_requests_total") {
		t.Errorf("Expected HTTP request metric, got:\n%s", body)
	}
	if !strings.Contains(body, "caption_engine_ready 1") {
		t.Errorf("Expected engine ready gauge, got:\n%s", body)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, true)

	tests := []struct {
		name        string
		method      string
		header      http.Header
		statusCode  int
		allowOrigin string
	}{
		{
			name:        "allowed origin",
			method:      http.MethodGet,
			header:      http.Header{"Origin": {"http://localhost:5173"}},
			statusCode:  http.StatusOK,
			allowOrigin: "http://localhost:5173",
		},
		{
			name:        "foreign origin gets no grant",
			method:      http.MethodGet,
			header:      http.Header{"Origin": {"http://evil.example"}},
			statusCode:  http.StatusOK,
			allowOrigin: "",
		},
		{
			name:   "allowed preflight",
			method: http.MethodOptions,
			header: http.Header{
				"Origin":                        {"http://localhost:8000"},
				"Access-Control-Request-Method": {"POST"},
			},
			statusCode:  http.StatusOK,
			allowOrigin: "http://localhost:8000",
		},
		{
			name:   "preflight from foreign origin",
			method: http.MethodOptions,
			header: http.Header{
				"Origin":                        {"http://evil.example"},
				"Access-Control-Request-Method": {"GET"},
			},
			statusCode:  http.StatusBadRequest,
			allowOrigin: "",
		},
		{
			name:   "preflight for disallowed method",
			method: http.MethodOptions,
			header: http.Header{
				"Origin":                        {"http://localhost:8000"},
				"Access-Control-Request-Method": {"DELETE"},
			},
			statusCode:  http.StatusBadRequest,
			allowOrigin: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := s.do(t, tt.method, "/api/health", tt.header)
			if resp.StatusCode != tt.statusCode {
				t.Errorf("Expected %d, got %d", tt.statusCode, resp.StatusCode)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.allowOrigin {
				t.Errorf("Expected Access-Control-Allow-Origin %q, got %q", tt.allowOrigin, got)
			}
		})
	}
}

func TestStartAndStop(t *testing.T) {
	s := newTestServer(t, true)
	s.config.Server.Address = "127.0.0.1"
	s.config.Server.Port = 0

	h := NewHTTPServer(s.config, s.http.logger, s.manager, s.coordinator, nil, prometheus.NewRegistry())
	if err := h.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + h.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := h.Stop(t.Context()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/live-caption-service/internal/config"
	"github.com/skypro1111/live-caption-service/internal/metrics"
	"github.com/skypro1111/live-caption-service/internal/stream"
	"github.com/skypro1111/live-caption-service/internal/transcription"
)

const (
	serviceName    = "live-caption-service"
	serviceVersion = "1.0.0"

	healthStatus = "ASR Backend is running"
)

// HTTPServer serves the caption WebSocket, the monitoring API and the built frontend
type HTTPServer struct {
	server      *http.Server
	listener    net.Listener
	handler     http.Handler
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	config      *config.Config
	streamMgr   *stream.Manager
	coordinator *transcription.Coordinator
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates the HTTP server. A nil gatherer exposes the default
// Prometheus registry on /metrics.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, streamMgr *stream.Manager,
	coordinator *transcription.Coordinator, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		streamMgr:   streamMgr,
		coordinator: coordinator,
		metrics:     m,
		gatherer:    gatherer,
		startTime:   time.Now(),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     h.checkOrigin,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = h.withCORS(mux)

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Address, appConfig.Server.Port),
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// WebSocket endpoint, unwrapped so the connection can be hijacked
	mux.HandleFunc(h.config.Server.WSPath, h.handleWebSocket)

	// Monitoring API
	mux.HandleFunc("/api/health", h.withMetrics("/api/health", h.handleHealth))
	mux.HandleFunc("/api/sessions", h.withMetrics("/api/sessions", h.handleSessions))
	mux.HandleFunc("/api/sessions/{id}", h.withMetrics("/api/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("/api/stats", h.withMetrics("/api/stats", h.handleStats))
	mux.HandleFunc("/api/config", h.withMetrics("/api/config", h.handleConfig))
	mux.HandleFunc("/api/", h.withMetrics("/api/*", h.handleAPINotFound))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Readiness probe and frontend
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the root handler including CORS
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start binds the listening socket and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	h.logger.Info("Starting HTTP server",
		slog.String("address", listener.Addr().String()),
		slog.String("ws_path", h.config.Server.WSPath),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded
func (h *HTTPServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.listener == nil {
		return h.server.Addr
	}
	return h.listener.Addr().String()
}

// Stop gracefully stops the HTTP server. Hijacked WebSocket connections are
// closed by stopping the session manager.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /api/health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       healthStatus,
		"model_loaded": h.coordinator.Ready(),
	})
}

// handleSessions implements the /api/sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessions := h.streamMgr.GetAllSessions()
	sessionInfos := make([]stream.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		sessionInfos = append(sessionInfos, session.GetSessionInfo())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessionInfos),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessionInfos,
	})
}

// handleSessionDetail implements the /api/sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	session, exists := h.streamMgr.GetSession(sessionID)
	if !exists {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, session.GetSessionInfo())
}

// handleStats implements the /api/stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := map[string]interface{}{
		"service":       serviceName,
		"version":       serviceVersion,
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"sessions":      h.streamMgr.GetStats(),
		"transcription": h.coordinator.GetStats(),
	}
	if engineStats, ok := h.coordinator.EngineStats(); ok {
		stats["engine"] = engineStats
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /api/config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Credentials are never exposed
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"address":         h.config.Server.Address,
			"port":            h.config.Server.Port,
			"ws_path":         h.config.Server.WSPath,
			"allowed_origins": h.config.Server.AllowedOrigins,
			"static_dir":      h.config.Server.StaticDir,
			"write_timeout":   h.config.Server.WriteTimeout,
		},
		"audio": map[string]interface{}{
			"sample_rate":   h.config.Audio.SampleRate,
			"frame_samples": h.config.Audio.FrameSamples,
		},
		"silence": map[string]interface{}{
			"energy_threshold": h.config.Silence.EnergyThreshold,
			"duration":         h.config.Silence.Duration,
		},
		"engine": map[string]interface{}{
			"mode":        h.config.Engine.Mode,
			"model":       h.config.Engine.Model,
			"language":    h.config.Engine.Language,
			"timeout":     h.config.Engine.Timeout,
			"max_retries": h.config.Engine.MaxRetries,
			"warmup":      h.config.Engine.Warmup,
		},
		"bus": map[string]interface{}{
			"enabled":  h.config.Bus.Enabled,
			"embedded": h.config.Bus.Embedded,
			"subject":  h.config.Bus.Subject,
		},
		"telemetry": map[string]interface{}{
			"tracing": h.config.Telemetry.Tracing,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

func (h *HTTPServer) handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not Found")
}

// handleRoot answers the HEAD readiness probe and serves the frontend
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		if r.URL.Path == "/" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		h.serveFrontend(w, r)
	case http.MethodGet:
		h.serveFrontend(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// serveFrontend serves a file from the static directory, falling back to
// index.html for client-side routes
func (h *HTTPServer) serveFrontend(w http.ResponseWriter, r *http.Request) {
	requested := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if strings.HasPrefix(requested, "api/") || strings.HasPrefix(requested, "ws") {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	staticDir := h.config.Server.StaticDir
	if staticDir == "" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	if requested != "" {
		if h.serveStaticFile(w, r, filepath.Join(staticDir, filepath.FromSlash(requested))) {
			return
		}
	}

	if h.serveStaticFile(w, r, filepath.Join(staticDir, "index.html")) {
		return
	}

	writeError(w, http.StatusNotFound, "Frontend build not found. Run 'npm run build' first.")
}

// serveStaticFile writes the file at name and reports whether it was a regular file
func (h *HTTPServer) serveStaticFile(w http.ResponseWriter, r *http.Request, name string) bool {
	file, err := os.Open(name)
	if err != nil {
		return false
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/live-caption-service/internal/audio"
	"github.com/skypro1111/live-caption-service/internal/broadcast"
	"github.com/skypro1111/live-caption-service/internal/metrics"
	"github.com/skypro1111/live-caption-service/internal/protocol"
	"github.com/skypro1111/live-caption-service/internal/transcription"
	"github.com/skypro1111/live-caption-service/internal/vad"
)

// ErrEngineUnavailable is returned by Serve when the recognition engine is not loaded
var ErrEngineUnavailable = errors.New("model not loaded")

// Conn is a client connection: a broadcast listener that also delivers audio frames
type Conn interface {
	broadcast.Channel
	// ReadFrame blocks for the next binary frame. It returns io.EOF when the
	// client closed the connection normally.
	ReadFrame(ctx context.Context) ([]byte, error)
	RemoteAddr() string
}

// Transcriber recognizes accumulated audio with exclusive engine access
type Transcriber interface {
	Ready() bool
	Transcribe(ctx context.Context, samples []float32, scratch transcription.Scratch) (transcription.Result, error)
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Gate       vad.GateConfig
	SampleRate int
	ScratchDir string // os.TempDir when empty
}

// Manager owns all active sessions and runs their receive loops
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig

	transcriber Transcriber
	registry    *broadcast.Registry
	metrics     *metrics.Metrics

	// Statistics
	totalSessions   uint64
	refusedSessions uint64

	// Shutdown management
	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerStats represents manager statistics
type ManagerStats struct {
	ActiveSessions  int    `json:"active_sessions"`
	TotalSessions   uint64 `json:"total_sessions"`
	RefusedSessions uint64 `json:"refused_sessions"`
	Listeners       int    `json:"listeners"`
}

// NewManager creates a new session manager
func NewManager(logger *slog.Logger, config ManagerConfig, transcriber Transcriber, registry *broadcast.Registry, m *metrics.Metrics) (*Manager, error) {
	if err := config.Gate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid silence gate config: %w", err)
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		sessions:    make(map[string]*Session),
		logger:      logger,
		config:      config,
		transcriber: transcriber,
		registry:    registry,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Serve runs the receive loop for one connection until it closes. It returns
// ErrEngineUnavailable without registering the connection when the engine is
// not loaded, nil on a normal close or shutdown, and the transport error otherwise.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	if !m.transcriber.Ready() {
		m.recordRefused()
		m.logger.Warn("Refusing connection, engine not loaded",
			slog.String("remote_addr", conn.RemoteAddr()),
		)
		return ErrEngineUnavailable
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	session, err := m.createSession(conn)
	if err != nil {
		return err
	}
	defer m.closeSession(session, conn)

	m.registry.Register(conn)

	for {
		data, err := conn.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("Connection error",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to read frame: %w", err)
		}

		m.handleFrame(ctx, session, data)
	}
}

// handleFrame processes one frame. Errors stay inside this call.
func (m *Manager) handleFrame(ctx context.Context, session *Session, data []byte) {
	m.metrics.RecordFrameReceived()

	samples, err := protocol.DecodeFrame(data)
	if err != nil {
		session.recordDecodeError()
		m.metrics.RecordDecodeError()
		m.logger.Warn("Dropping malformed frame",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	decision := session.Ingest(samples)

	switch decision.Action {
	case ActionDiscard:
		m.metrics.RecordFrameDiscarded()

	case ActionEmitClear:
		m.metrics.RecordSilenceClear()
		m.logger.Info("Extended silence, clearing transcript",
			slog.String("session_id", session.ID),
			slog.Int("silence_run", session.gate.SilenceRun()),
		)
		m.broadcast(ctx, session, protocol.ClearEvent())

	case ActionRunInference:
		result, err := m.transcriber.Transcribe(ctx, decision.Samples, session.Scratch())
		session.recordTranscription(result.Text, err)
		if err != nil {
			var inferenceErr *transcription.InferenceError
			if errors.As(err, &inferenceErr) {
				m.logger.Error("Transcription failed",
					slog.String("session_id", session.ID),
					slog.String("in_memory_error", inferenceErr.InMemory.Error()),
					slog.String("file_error", inferenceErr.File.Error()),
				)
			} else {
				m.logger.Warn("Transcription skipped",
					slog.String("session_id", session.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if result.Empty() {
			return
		}

		m.logger.Debug("Transcript",
			slog.String("session_id", session.ID),
			slog.String("path", string(result.Path)),
			slog.Duration("inference_time", result.Duration),
			slog.String("text", result.Text),
		)
		m.broadcast(ctx, session, protocol.NewTranscriptEvent(result.Text))
	}
}

// broadcast queues the event for all listeners even if this session is going away
func (m *Manager) broadcast(ctx context.Context, session *Session, event protocol.TranscriptEvent) {
	report, err := m.registry.Broadcast(context.WithoutCancel(ctx), event)
	if err != nil {
		m.logger.Error("Broadcast failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(report.Pruned) > 0 {
		m.logger.Info("Removed stalled listeners",
			slog.String("session_id", session.ID),
			slog.Int("pruned", len(report.Pruned)),
			slog.Int("queued", report.Queued),
		)
	}
}

// createSession registers a new session with its own gate, buffer and scratch file
func (m *Manager) createSession(conn Conn) (*Session, error) {
	gate, err := vad.NewGate(m.config.Gate)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence gate: %w", err)
	}

	scratch, err := audio.NewScratchFile(m.config.ScratchDir, m.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create session scratch file: %w", err)
	}

	session := NewSession(uuid.NewString(), conn.RemoteAddr(), gate, audio.NewBuffer(m.config.SampleRate), scratch)

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.totalSessions++
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordSessionCreated(active)
	m.logger.Info("Session started",
		slog.String("session_id", session.ID),
		slog.String("remote_addr", session.RemoteAddr),
		slog.Int("active_sessions", active),
	)

	return session, nil
}

// closeSession unregisters the connection and releases the session's resources
func (m *Manager) closeSession(session *Session, conn Conn) {
	m.registry.Unregister(conn)

	m.mu.Lock()
	delete(m.sessions, session.ID)
	active := len(m.sessions)
	m.mu.Unlock()

	if err := session.scratch.Remove(); err != nil {
		m.logger.Warn("Failed to remove scratch file",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	info := session.GetSessionInfo()
	m.metrics.RecordSessionClosed(active, info.Duration.Seconds())
	m.logger.Info("Session closed",
		slog.String("session_id", session.ID),
		slog.Duration("duration", info.Duration),
		slog.Uint64("frames_received", info.FramesReceived),
		slog.Uint64("transcriptions", info.Transcriptions),
		slog.Int("active_sessions", active),
	)
}

func (m *Manager) recordRefused() {
	m.mu.Lock()
	m.refusedSessions++
	m.mu.Unlock()
	m.metrics.RecordSessionRefused()
}

// GetSession retrieves an active session by ID
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// GetStats returns current manager statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		ActiveSessions:  len(m.sessions),
		TotalSessions:   m.totalSessions,
		RefusedSessions: m.refusedSessions,
		Listeners:       m.registry.Len(),
	}
}

// Stop ends all receive loops
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager",
		slog.Int("active_sessions", m.GetActiveSessionCount()),
	)
	m.cancel()
}

// Wait blocks until every session has closed or ctx is done
func (m *Manager) Wait(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for m.GetActiveSessionCount() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
	"github.com/skypro1111/live-caption-service/internal/vad"
)

// Action tells the session loop what to do with a frame
type Action int

const (
	// ActionDiscard drops the frame
	ActionDiscard Action = iota
	// ActionEmitClear broadcasts an empty transcript after the buffer was reset
	ActionEmitClear
	// ActionRunInference transcribes the accumulated buffer
	ActionRunInference
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case ActionDiscard:
		return "discard"
	case ActionEmitClear:
		return "emit_clear"
	case ActionRunInference:
		return "run_inference"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// Decision is the outcome of ingesting one frame
type Decision struct {
	Action         Action
	Classification vad.Classification
	Samples        []float32 // whole buffer, only set for ActionRunInference
}

// Session represents one connected audio client
type Session struct {
	ID           string
	RemoteAddr   string
	StartTime    time.Time
	LastActivity time.Time

	buffer  *audio.Buffer
	gate    *vad.Gate
	scratch *audio.ScratchFile

	// Statistics
	framesReceived      uint64
	framesDropped       uint64
	framesDiscarded     uint64
	clears              uint64
	transcriptions      uint64
	transcriptionErrors uint64
	lastText            string

	mu sync.RWMutex
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID           string        `json:"id"`
	RemoteAddr   string        `json:"remote_addr"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	// Frame statistics
	FramesReceived  uint64 `json:"frames_received"`
	FramesDropped   uint64 `json:"frames_dropped"`
	FramesDiscarded uint64 `json:"frames_discarded"`
	Clears          uint64 `json:"clears"`

	// Transcription statistics
	Transcriptions      uint64 `json:"transcriptions"`
	TranscriptionErrors uint64 `json:"transcription_errors"`
	LastText            string `json:"last_text"`

	Buffer  audio.BufferStats `json:"buffer"`
	Silence vad.GateStats     `json:"silence"`
}

// NewSession creates a session with an empty buffer
func NewSession(id, remoteAddr string, gate *vad.Gate, buffer *audio.Buffer, scratch *audio.ScratchFile) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		LastActivity: now,
		buffer:       buffer,
		gate:         gate,
		scratch:      scratch,
	}
}

// Ingest classifies one decoded frame and updates the buffer. Frames during
// extended silence are never buffered; the first of them resets a non-empty
// buffer and asks for a clear.
func (s *Session) Ingest(samples []float32) Decision {
	s.recordFrame()

	classification := s.gate.Classify(samples)

	if classification == vad.SilenceExceeded {
		if s.buffer.Len() > 0 {
			s.buffer.Reset()
			s.mu.Lock()
			s.clears++
			s.mu.Unlock()
			return Decision{Action: ActionEmitClear, Classification: classification}
		}
		s.recordDiscard()
		return Decision{Action: ActionDiscard, Classification: classification}
	}

	// Nothing new and nothing buffered: no audio to recognize
	if len(samples) == 0 && s.buffer.Len() == 0 {
		s.recordDiscard()
		return Decision{Action: ActionDiscard, Classification: classification}
	}

	return Decision{
		Action:         ActionRunInference,
		Classification: classification,
		Samples:        s.buffer.Append(samples),
	}
}

// Scratch returns the session's scratch file
func (s *Session) Scratch() *audio.ScratchFile {
	return s.scratch
}

// BufferedSamples returns the number of samples waiting for recognition
func (s *Session) BufferedSamples() int {
	return s.buffer.Len()
}

func (s *Session) recordFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesReceived++
	s.LastActivity = time.Now()
}

func (s *Session) recordDiscard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesDiscarded++
}

func (s *Session) recordDecodeError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesReceived++
	s.framesDropped++
	s.LastActivity = time.Now()
}

func (s *Session) recordTranscription(text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.transcriptionErrors++
		return
	}
	s.transcriptions++
	s.lastText = text
}

// GetSessionInfo returns session information including buffer and silence stats
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:                  s.ID,
		RemoteAddr:          s.RemoteAddr,
		StartTime:           s.StartTime,
		LastActivity:        s.LastActivity,
		Duration:            time.Since(s.StartTime),
		FramesReceived:      s.framesReceived,
		FramesDropped:       s.framesDropped,
		FramesDiscarded:     s.framesDiscarded,
		Clears:              s.clears,
		Transcriptions:      s.transcriptions,
		TranscriptionErrors: s.transcriptionErrors,
		LastText:            s.lastText,
		Buffer:              s.buffer.GetStats(),
		Silence:             s.gate.GetStats(),
	}
}

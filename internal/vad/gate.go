package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// Classification is the gate's verdict for a single frame
type Classification int

const (
	// Speech means the frame's energy reached the threshold
	Speech Classification = iota
	// Silence means the frame is quiet but the silence run is still within limit
	Silence
	// SilenceExceeded means the silence run is longer than the configured duration.
	// It is reported for every further quiet frame until speech resumes.
	SilenceExceeded
)

// String returns the classification name
func (c Classification) String() string {
	switch c {
	case Speech:
		return "speech"
	case Silence:
		return "silence"
	case SilenceExceeded:
		return "silence_exceeded"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Defaults match the browser client: 4096-sample frames at 16kHz
const (
	DefaultEnergyThreshold = 0.03
	DefaultSilenceDuration = 3 * time.Second
	DefaultFrameSamples    = 4096
	DefaultSampleRate      = 16000
)

// GateConfig holds silence gate configuration
type GateConfig struct {
	EnergyThreshold float64       // RMS below this is silence
	SilenceDuration time.Duration // Silence longer than this resets the utterance
	FrameSamples    int           // Nominal samples per client frame
	SampleRate      int           // Samples per second
}

// DefaultGateConfig returns the standard gate configuration
func DefaultGateConfig() GateConfig {
	return GateConfig{
		EnergyThreshold: DefaultEnergyThreshold,
		SilenceDuration: DefaultSilenceDuration,
		FrameSamples:    DefaultFrameSamples,
		SampleRate:      DefaultSampleRate,
	}
}

// Validate validates gate configuration
func (c GateConfig) Validate() error {
	if c.EnergyThreshold <= 0 || c.EnergyThreshold >= 1 {
		return fmt.Errorf("energy threshold must be between 0 and 1 (exclusive), got %f", c.EnergyThreshold)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.SilenceDuration)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("frame samples must be positive, got %d", c.FrameSamples)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	return nil
}

// MaxSilentFrames converts the silence duration into a frame count.
// With the defaults this is int(3.0 / 0.256) = 11.
func (c GateConfig) MaxSilentFrames() int {
	frameSeconds := float64(c.FrameSamples) / float64(c.SampleRate)
	return int(c.SilenceDuration.Seconds() / frameSeconds)
}

// Gate classifies frames as speech or silence and tracks the silence run
type Gate struct {
	threshold       float64
	maxSilentFrames int

	// Gate state
	silenceRun int
	lastEnergy float64

	// Statistics
	totalFrames  uint64
	speechFrames uint64
	exceeded     uint64

	mu sync.RWMutex
}

// GateStats represents silence gate statistics
type GateStats struct {
	Threshold       float64 `json:"threshold"`
	MaxSilentFrames int     `json:"max_silent_frames"`
	SilenceRun      int     `json:"silence_run"`
	LastEnergy      float64 `json:"last_energy"`
	TotalFrames     uint64  `json:"total_frames"`
	SpeechFrames    uint64  `json:"speech_frames"`
	ExceededFrames  uint64  `json:"exceeded_frames"`
}

// NewGate creates a silence gate
func NewGate(cfg GateConfig) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Gate{
		threshold:       cfg.EnergyThreshold,
		maxSilentFrames: cfg.MaxSilentFrames(),
	}, nil
}

// Classify updates the silence run with one frame and returns its classification
func (g *Gate) Classify(samples []float32) Classification {
	energy := audio.RMS(samples)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalFrames++
	g.lastEnergy = energy

	quiet := energy < g.threshold
	if quiet {
		g.silenceRun++
	} else {
		g.silenceRun = 0
		g.speechFrames++
	}

	if g.silenceRun > g.maxSilentFrames {
		g.exceeded++
		return SilenceExceeded
	}

	if quiet {
		return Silence
	}
	return Speech
}

// SilenceRun returns the number of consecutive quiet frames
func (g *Gate) SilenceRun() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.silenceRun
}

// MaxSilentFrames returns the silence run length after which the gate fires
func (g *Gate) MaxSilentFrames() int {
	return g.maxSilentFrames
}

// Reset clears the silence run and statistics
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.silenceRun = 0
	g.lastEnergy = 0
	g.totalFrames = 0
	g.speechFrames = 0
	g.exceeded = 0
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return GateStats{
		Threshold:       g.threshold,
		MaxSilentFrames: g.maxSilentFrames,
		SilenceRun:      g.silenceRun,
		LastEnergy:      g.lastEnergy,
		TotalFrames:     g.totalFrames,
		SpeechFrames:    g.speechFrames,
		ExceededFrames:  g.exceeded,
	}
}

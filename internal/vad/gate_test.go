package vad

import (
	"testing"
	"time"
)

// constantFrame builds a frame whose RMS equals level
func constantFrame(n int, level float32) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = level
		} else {
			frame[i] = -level
		}
	}
	return frame
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	gate, err := NewGate(DefaultGateConfig())
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	return gate
}

func TestMaxSilentFrames(t *testing.T) {
	tests := []struct {
		name     string
		config   GateConfig
		expected int
	}{
		{
			name:     "defaults",
			config:   DefaultGateConfig(),
			expected: 11,
		},
		{
			name: "one second of 2048-sample frames",
			config: GateConfig{
				EnergyThreshold: 0.03,
				SilenceDuration: time.Second,
				FrameSamples:    2048,
				SampleRate:      16000,
			},
			expected: 7,
		},
		{
			name: "exact multiple",
			config: GateConfig{
				EnergyThreshold: 0.03,
				SilenceDuration: 2 * time.Second,
				FrameSamples:    16000,
				SampleRate:      16000,
			},
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.MaxSilentFrames(); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestGateConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*GateConfig)
	}{
		{name: "zero threshold", modify: func(c *GateConfig) { c.EnergyThreshold = 0 }},
		{name: "threshold above one", modify: func(c *GateConfig) { c.EnergyThreshold = 1.5 }},
		{name: "zero duration", modify: func(c *GateConfig) { c.SilenceDuration = 0 }},
		{name: "zero frame samples", modify: func(c *GateConfig) { c.FrameSamples = 0 }},
		{name: "zero sample rate", modify: func(c *GateConfig) { c.SampleRate = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGateConfig()
			tt.modify(&cfg)
			if _, err := NewGate(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestClassifySpeechResetsRun(t *testing.T) {
	gate := newTestGate(t)

	for i := 0; i < 20; i++ {
		gate.Classify(constantFrame(4096, 0))
	}
	if gate.SilenceRun() != 20 {
		t.Fatalf("Expected silence run 20, got %d", gate.SilenceRun())
	}

	if got := gate.Classify(constantFrame(4096, 0.2)); got != Speech {
		t.Errorf("Expected Speech, got %v", got)
	}

	if gate.SilenceRun() != 0 {
		t.Errorf("Expected silence run reset to 0, got %d", gate.SilenceRun())
	}
}

func TestClassifyThresholdBoundary(t *testing.T) {
	gate := newTestGate(t)

	if got := gate.Classify(constantFrame(1024, 0.031)); got != Speech {
		t.Errorf("Expected Speech above threshold, got %v", got)
	}

	if got := gate.Classify(constantFrame(1024, 0.029)); got != Silence {
		t.Errorf("Expected Silence below threshold, got %v", got)
	}
}

func TestClassifySilenceExceeded(t *testing.T) {
	gate := newTestGate(t)
	max := gate.MaxSilentFrames()

	for i := 1; i <= max; i++ {
		if got := gate.Classify(constantFrame(16000, 0)); got != Silence {
			t.Fatalf("Frame %d: expected Silence, got %v", i, got)
		}
	}

	// Every further quiet frame keeps signalling excess silence
	for i := 0; i < 5; i++ {
		if got := gate.Classify(constantFrame(16000, 0)); got != SilenceExceeded {
			t.Fatalf("Frame %d past limit: expected SilenceExceeded, got %v", i, got)
		}
	}

	if got := gate.Classify(constantFrame(16000, 0.5)); got != Speech {
		t.Errorf("Expected Speech after silence, got %v", got)
	}

	if got := gate.Classify(constantFrame(16000, 0)); got != Silence {
		t.Errorf("Expected Silence to restart counting, got %v", got)
	}
}

func TestClassifyEmptyFrameIsSilent(t *testing.T) {
	gate := newTestGate(t)

	if got := gate.Classify(nil); got != Silence {
		t.Errorf("Expected Silence for empty frame, got %v", got)
	}
}

func TestGateStatsAndReset(t *testing.T) {
	gate := newTestGate(t)

	gate.Classify(constantFrame(512, 0.5))
	for i := 0; i < 13; i++ {
		gate.Classify(constantFrame(512, 0))
	}

	stats := gate.GetStats()
	if stats.TotalFrames != 14 {
		t.Errorf("Expected 14 frames, got %d", stats.TotalFrames)
	}
	if stats.SpeechFrames != 1 {
		t.Errorf("Expected 1 speech frame, got %d", stats.SpeechFrames)
	}
	if stats.ExceededFrames != 2 {
		t.Errorf("Expected 2 exceeded frames, got %d", stats.ExceededFrames)
	}

	gate.Reset()
	if gate.SilenceRun() != 0 || gate.GetStats().TotalFrames != 0 {
		t.Error("Expected reset gate state")
	}
}

func TestClassificationString(t *testing.T) {
	if Speech.String() != "speech" || SilenceExceeded.String() != "silence_exceeded" {
		t.Error("Unexpected classification names")
	}
}

package transcription

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// MockEngine produces deterministic text describing the audio it receives.
// It is meant for running the service without a real recognizer.
type MockEngine struct {
	// FileOnly makes RecognizeSamples return ErrInMemoryUnsupported
	FileOnly bool
}

// NewMockEngine creates a mock engine
func NewMockEngine(fileOnly bool) *MockEngine {
	return &MockEngine{FileOnly: fileOnly}
}

// RecognizeSamples describes the samples held in memory
func (e *MockEngine) RecognizeSamples(ctx context.Context, samples []float32, sampleRate int) ([]Hypothesis, error) {
	if e.FileOnly {
		return nil, ErrInMemoryUnsupported
	}
	return []Hypothesis{TextHypothesis(describe(len(samples), sampleRate, peak(samples)))}, nil
}

// RecognizeFile describes the WAV file at path
func (e *MockEngine) RecognizeFile(ctx context.Context, path string) ([]Hypothesis, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio file: %w", err)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / 32768
	}
	return []Hypothesis{TextHypothesis(describe(len(samples), int(decoder.SampleRate), peak(samples)))}, nil
}

// describe returns an empty string for silence so nothing is broadcast
func describe(samples, sampleRate int, peak float64) string {
	if peak < 1.0/32768 || sampleRate <= 0 {
		return ""
	}
	return fmt.Sprintf("[%.2fs of audio]", float64(samples)/float64(sampleRate))
}

func peak(samples []float32) float64 {
	var highest float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > highest {
			highest = v
		}
	}
	return highest
}

package audio

import (
	"sync"
	"time"
)

// Buffer accumulates normalized samples for one session. It only grows until
// Reset is called.
type Buffer struct {
	sampleRate int
	samples    []float32

	// Statistics
	totalAppended uint64
	resets        uint64
	lastUpdate    time.Time

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Samples       int     `json:"buffered_samples"`
	Duration      float64 `json:"buffered_seconds"`
	TotalAppended uint64  `json:"total_samples_appended"`
	Resets        uint64  `json:"resets"`
}

// NewBuffer creates an empty sample buffer
func NewBuffer(sampleRate int) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		lastUpdate: time.Now(),
	}
}

// Append adds samples to the end of the buffer and returns the whole
// accumulated buffer. The returned slice must not be modified.
func (b *Buffer) Append(samples []float32) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)
	b.totalAppended += uint64(len(samples))
	b.lastUpdate = time.Now()

	return b.samples
}

// Samples returns the accumulated samples without copying
func (b *Buffer) Samples() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.samples
}

// Len returns the number of accumulated samples
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Reset drops all accumulated samples. A fresh backing array is used so
// slices handed out earlier stay intact.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = nil
	b.resets++
	b.lastUpdate = time.Now()
}

// Duration returns the accumulated audio duration
func (b *Buffer) Duration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.durationLocked()
}

func (b *Buffer) durationLocked() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Samples:       len(b.samples),
		Duration:      b.durationLocked().Seconds(),
		TotalAppended: b.totalAppended,
		Resets:        b.resets,
	}
}

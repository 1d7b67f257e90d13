package audio

import (
	"math"
	"testing"
	"time"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{name: "empty", samples: nil, expected: 0},
		{name: "silence", samples: make([]float32, 16000), expected: 0},
		{name: "constant", samples: []float32{0.5, -0.5, 0.5, -0.5}, expected: 0.5},
		{name: "mixed", samples: []float32{0.3, 0.4}, expected: math.Sqrt((0.09 + 0.16) / 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(tt.samples)
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("Expected RMS %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestBufferAppend(t *testing.T) {
	buffer := NewBuffer(16000)

	all := buffer.Append([]float32{0.1, 0.2})
	if len(all) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(all))
	}

	all = buffer.Append([]float32{0.3})
	if len(all) != 3 || all[2] != 0.3 {
		t.Fatalf("Expected appended sample at the end, got %v", all)
	}

	if buffer.Len() != 3 {
		t.Errorf("Expected length 3, got %d", buffer.Len())
	}
}

func TestBufferResetKeepsEarlierSlices(t *testing.T) {
	buffer := NewBuffer(16000)
	first := buffer.Append([]float32{0.1, 0.2, 0.3})

	buffer.Reset()
	if buffer.Len() != 0 {
		t.Fatalf("Expected empty buffer after reset, got %d", buffer.Len())
	}

	buffer.Append([]float32{0.9, 0.9, 0.9})
	if first[0] != 0.1 || first[2] != 0.3 {
		t.Errorf("Earlier slice was overwritten: %v", first)
	}
}

func TestBufferDurationAndStats(t *testing.T) {
	buffer := NewBuffer(16000)
	buffer.Append(make([]float32, 8000))

	if d := buffer.Duration(); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", d)
	}

	buffer.Reset()
	buffer.Append(make([]float32, 100))

	stats := buffer.GetStats()
	if stats.Samples != 100 {
		t.Errorf("Expected 100 buffered samples, got %d", stats.Samples)
	}
	if stats.TotalAppended != 8100 {
		t.Errorf("Expected 8100 appended samples, got %d", stats.TotalAppended)
	}
	if stats.Resets != 1 {
		t.Errorf("Expected 1 reset, got %d", stats.Resets)
	}
}

package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Wire constants
const (
	// SampleRate is the fixed rate of inbound PCM frames
	SampleRate = 16000

	// BytesPerSample is the size of one signed 16-bit sample
	BytesPerSample = 2

	// sampleScale normalizes int16 samples into [-1.0, 1.0)
	sampleScale = 32768.0

	// EventTypeTranscript is the only outbound event type
	EventTypeTranscript = "transcript"
)

// DecodeError reports a malformed inbound frame. The frame is dropped and the
// connection stays open.
type DecodeError struct {
	Length int // Byte length of the rejected frame
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed PCM frame: length %d is not a multiple of %d", e.Length, BytesPerSample)
}

// DecodeFrame converts a little-endian PCM-16 frame into float samples.
// Each raw sample is divided by 32768.0.
func DecodeFrame(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, &DecodeError{Length: len(data)}
	}

	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float32(raw) / sampleScale
	}

	return samples, nil
}

// EncodeFrame converts float samples back into a little-endian PCM-16 frame,
// clamping to [-1.0, 1.0] the same way the browser worklet does.
func EncodeFrame(samples []float32) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(FloatToPCM16(s)))
	}
	return data
}

// FloatToPCM16 converts a normalized sample to int16 with clamping
func FloatToPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// FrameDuration returns the duration in seconds covered by n samples
func FrameDuration(samples int) float64 {
	return float64(samples) / float64(SampleRate)
}

// TranscriptEvent is the outbound message broadcast to listeners.
// An empty Text tells displays to clear the current caption.
type TranscriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTranscriptEvent creates a transcript event carrying text
func NewTranscriptEvent(text string) TranscriptEvent {
	return TranscriptEvent{Type: EventTypeTranscript, Text: text}
}

// ClearEvent creates the event emitted when extended silence resets a session
func ClearEvent() TranscriptEvent {
	return NewTranscriptEvent("")
}

// IsClear reports whether the event clears the displayed transcript
func (e TranscriptEvent) IsClear() bool {
	return e.Text == ""
}

// Marshal serializes the event to its JSON wire form
func (e TranscriptEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcript event: %w", err)
	}
	return data, nil
}

// ParseTranscriptEvent parses a JSON transcript event
func ParseTranscriptEvent(data []byte) (TranscriptEvent, error) {
	var event TranscriptEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return TranscriptEvent{}, fmt.Errorf("failed to parse transcript event: %w", err)
	}
	if event.Type != EventTypeTranscript {
		return TranscriptEvent{}, fmt.Errorf("unexpected event type %q", event.Type)
	}
	return event, nil
}

// String returns a human-readable representation of the event
func (e TranscriptEvent) String() string {
	return fmt.Sprintf("TranscriptEvent{Type:%s, Text:%q}", e.Type, e.Text)
}

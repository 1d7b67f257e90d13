package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/skypro1111/live-caption-service/internal/protocol"
)

// ScratchFile is the per-session WAV file used for file-based recognition.
// Every Write replaces the whole file with the full buffer.
type ScratchFile struct {
	path       string
	sampleRate int
}

// NewScratchFile reserves a uniquely named WAV file in dir (os.TempDir when empty)
func NewScratchFile(dir string, sampleRate int) (*ScratchFile, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	file, err := os.CreateTemp(dir, "caption_session_*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close scratch file: %w", err)
	}

	return &ScratchFile{path: path, sampleRate: sampleRate}, nil
}

// Path returns the scratch file location
func (s *ScratchFile) Path() string {
	return s.path
}

// Write truncates the scratch file and stores samples as mono PCM-16 WAV
func (s *ScratchFile) Write(samples []float32) error {
	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to open scratch file: %w", err)
	}

	if err := writeWAV(file, samples, s.sampleRate); err != nil {
		file.Close()
		return err
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close scratch file: %w", err)
	}
	return nil
}

// Remove deletes the scratch file. Removing an already missing file is not an error.
func (s *ScratchFile) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove scratch file: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path as mono PCM-16 WAV, replacing any existing file
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := writeWAV(file, samples, sampleRate); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeWAV(file *os.File, samples []float32, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(protocol.FloatToPCM16(s))
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}

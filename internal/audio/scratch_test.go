package audio

import (
	"os"
	"testing"

	"github.com/go-audio/wav"
)

func readWAVFile(t *testing.T, path string) ([]int, int) {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open WAV file: %v", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		t.Fatal("Expected a valid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		t.Fatalf("Failed to decode WAV file: %v", err)
	}

	return buf.Data, int(decoder.SampleRate)
}

func TestScratchFileWriteOverwrites(t *testing.T) {
	scratch, err := NewScratchFile(t.TempDir(), 16000)
	if err != nil {
		t.Fatalf("NewScratchFile failed: %v", err)
	}
	defer scratch.Remove()

	if err := scratch.Write(make([]float32, 4096)); err != nil {
		t.Fatalf("First write failed: %v", err)
	}

	second := []float32{0.5, -0.5, 0.25}
	if err := scratch.Write(second); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	data, rate := readWAVFile(t, scratch.Path())
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}

	if len(data) != len(second) {
		t.Fatalf("Expected file to hold only the latest %d samples, got %d", len(second), len(data))
	}

	if data[0] != 16383 || data[1] != -16384 {
		t.Errorf("Unexpected sample values: %v", data)
	}
}

func TestScratchFileRemove(t *testing.T) {
	scratch, err := NewScratchFile(t.TempDir(), 16000)
	if err != nil {
		t.Fatalf("NewScratchFile failed: %v", err)
	}

	if _, err := os.Stat(scratch.Path()); err != nil {
		t.Fatalf("Expected scratch file to exist: %v", err)
	}

	if err := scratch.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := os.Stat(scratch.Path()); !os.IsNotExist(err) {
		t.Errorf("Expected scratch file to be gone, got %v", err)
	}

	// Second removal is a no-op
	if err := scratch.Remove(); err != nil {
		t.Errorf("Expected repeated Remove to succeed, got %v", err)
	}
}

func TestNewScratchFileInvalidRate(t *testing.T) {
	if _, err := NewScratchFile(t.TempDir(), 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

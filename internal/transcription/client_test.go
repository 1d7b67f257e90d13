package transcription

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

func TestNewHTTPEngineValidation(t *testing.T) {
	if _, err := NewHTTPEngine(HTTPConfig{}); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestHTTPEngineRecognizeSamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.FormValue("sample_rate") != "16000" || r.FormValue("language") != "th" {
			t.Errorf("Unexpected form fields: %v", r.MultipartForm.Value)
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file field: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if !wav.NewDecoder(bytes.NewReader(data)).IsValidFile() {
			t.Error("Uploaded file is not a WAV")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "sawasdee"}`))
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL, APIKey: "secret", Language: "th"})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}

	hypotheses, err := engine.RecognizeSamples(context.Background(), []float32{0.1, -0.1}, 16000)
	if err != nil {
		t.Fatalf("RecognizeSamples failed: %v", err)
	}
	if got := firstText(hypotheses); got != "sawasdee" {
		t.Errorf("Expected sawasdee, got %q", got)
	}

	stats := engine.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHTTPEngineRecognizeFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"text": "rate ` + r.FormValue("sample_rate") + `"}]`))
	}))
	defer server.Close()

	scratch, err := audio.NewScratchFile(t.TempDir(), 8000)
	if err != nil {
		t.Fatalf("NewScratchFile failed: %v", err)
	}
	if err := scratch.Write([]float32{0.2, 0.3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	engine, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}

	hypotheses, err := engine.RecognizeFile(context.Background(), scratch.Path())
	if err != nil {
		t.Fatalf("RecognizeFile failed: %v", err)
	}
	if got := firstText(hypotheses); got != "rate 8000" {
		t.Errorf("Expected sample rate from WAV header, got %q", got)
	}
}

func TestHTTPEngineRejectsInvalidFile(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"text": "unexpected"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("not a wav file"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	engine, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}

	if _, err := engine.RecognizeFile(context.Background(), path); err == nil {
		t.Error("Expected error for invalid WAV file")
	}
	if requests.Load() != 0 {
		t.Errorf("Expected no upload for an invalid file, got %d requests", requests.Load())
	}
}

func TestHTTPEngineRetries(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text": "third time"}`))
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}

	hypotheses, err := engine.RecognizeSamples(context.Background(), []float32{0.1}, 16000)
	if err != nil {
		t.Fatalf("RecognizeSamples failed: %v", err)
	}
	if got := firstText(hypotheses); got != "third time" {
		t.Errorf("Expected third attempt to succeed, got %q", got)
	}
	if stats := engine.GetStats(); stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.TotalRetries)
	}
}

func TestHTTPEngineDoesNotRetryClientErrors(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "unsupported audio", http.StatusBadRequest)
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(HTTPConfig{Endpoint: server.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}

	if _, err := engine.RecognizeSamples(context.Background(), []float32{0.1}, 16000); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if requests.Load() != 1 {
		t.Errorf("Expected a single request, got %d", requests.Load())
	}
	if stats := engine.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

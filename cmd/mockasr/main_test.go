package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/skypro1111/live-caption-service/internal/transcription"
)

func TestMockRecognizerWithHTTPEngine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	server := httptest.NewServer(newHandler(transcription.NewMockEngine(true), 0, logger))
	defer server.Close()

	engine, err := transcription.NewHTTPEngine(transcription.HTTPConfig{
		Endpoint:   server.URL + "/transcribe",
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	})
	if err != nil {
		t.Fatalf("NewHTTPEngine failed: %v", err)
	}

	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.25
	}

	hypotheses, err := engine.RecognizeSamples(context.Background(), samples, 16000)
	if err != nil {
		t.Fatalf("RecognizeSamples failed: %v", err)
	}
	if len(hypotheses) != 1 || hypotheses[0].Text != "[1.00s of audio]" {
		t.Errorf("Unexpected hypotheses: %+v", hypotheses)
	}

	silence := make([]float32, 8000)
	hypotheses, err = engine.RecognizeSamples(context.Background(), silence, 16000)
	if err != nil {
		t.Fatalf("RecognizeSamples failed: %v", err)
	}
	if len(hypotheses) > 0 && hypotheses[0].Text != "" {
		t.Errorf("Expected no text for silence, got %+v", hypotheses)
	}
}

func TestMockRecognizerRejectsBadRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	server := httptest.NewServer(newHandler(transcription.NewMockEngine(true), 0, logger))
	defer server.Close()

	resp, err := http.Get(server.URL + "/transcribe")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/transcribe", "text/plain", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

// Command mockasr is a stand-in recognition endpoint for running the caption
// service in http engine mode without a real model. It accepts the same
// multipart upload the service sends and describes the audio it received.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/live-caption-service/internal/transcription"
)

const maxUploadSize = 32 << 20

// TranscriptionResponse is the JSON body returned for each upload
type TranscriptionResponse struct {
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	Model       string    `json:"model,omitempty"`
	AudioBytes  int64     `json:"audio_bytes"`
	ProcessedAt time.Time `json:"processed_at"`
}

type handler struct {
	engine transcription.Engine
	delay  time.Duration
	logger *slog.Logger
}

func newHandler(engine transcription.Engine, delay time.Duration, logger *slog.Logger) http.Handler {
	h := &handler{engine: engine, delay: delay, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", h.transcribe)
	return mux
}

func (h *handler) transcribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// The engine reads from disk, so the upload is spooled to a temp file
	spool, err := os.CreateTemp("", "mockasr_*.wav")
	if err != nil {
		http.Error(w, "Error storing audio file", http.StatusInternalServerError)
		return
	}
	defer os.Remove(spool.Name())

	size, err := io.Copy(spool, file)
	spool.Close()
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Transcription request received",
		slog.String("filename", header.Filename),
		slog.Int64("audio_bytes", size),
		slog.String("sample_rate", r.FormValue("sample_rate")),
		slog.String("language", r.FormValue("language")),
		slog.String("model", r.FormValue("model")),
	)

	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-r.Context().Done():
			return
		}
	}

	hypotheses, err := h.engine.RecognizeFile(r.Context(), spool.Name())
	if err != nil {
		http.Error(w, fmt.Sprintf("Error decoding audio: %v", err), http.StatusUnprocessableEntity)
		return
	}

	var text string
	if len(hypotheses) > 0 {
		text = hypotheses[0].Text
	}

	response := TranscriptionResponse{
		Text:        text,
		Language:    r.FormValue("language"),
		Model:       r.FormValue("model"),
		AudioBytes:  size,
		ProcessedAt: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	h.logger.Info("Transcription response sent", slog.String("text", response.Text))
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time per request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	server := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(transcription.NewMockEngine(true), *delay, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Mock recognizer starting",
			slog.String("address", *addr),
			slog.String("endpoint", "/transcribe"),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

package transcription

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/skypro1111/live-caption-service/internal/audio"
)

// OpenAIConfig contains configuration for the OpenAI transcription engine
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // optional, for compatible servers
	Model    string
	Language string
}

// OpenAIEngine transcribes audio with the OpenAI audio transcription API
type OpenAIEngine struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIEngine creates a new OpenAI engine
func NewOpenAIEngine(config OpenAIConfig) (*OpenAIEngine, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// RecognizeSamples uploads the samples as an in-memory WAV
func (e *OpenAIEngine) RecognizeSamples(ctx context.Context, samples []float32, sampleRate int) ([]Hypothesis, error) {
	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WAV: %w", err)
	}

	return e.transcribe(ctx, openai.AudioRequest{
		Model:    e.config.Model,
		Reader:   bytes.NewReader(wavData),
		FilePath: "audio.wav",
		Language: e.config.Language,
	})
}

// RecognizeFile uploads the WAV file at path
func (e *OpenAIEngine) RecognizeFile(ctx context.Context, path string) ([]Hypothesis, error) {
	return e.transcribe(ctx, openai.AudioRequest{
		Model:    e.config.Model,
		FilePath: path,
		Language: e.config.Language,
	})
}

func (e *OpenAIEngine) transcribe(ctx context.Context, req openai.AudioRequest) ([]Hypothesis, error) {
	req.Format = openai.AudioResponseFormatJSON

	resp, err := e.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}
	return []Hypothesis{TextHypothesis(resp.Text)}, nil
}

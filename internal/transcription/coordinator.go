package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skypro1111/live-caption-service/internal/audio"
	"github.com/skypro1111/live-caption-service/internal/metrics"
)

const tracerName = "github.com/skypro1111/live-caption-service/internal/transcription"

// Path identifies how audio reached the engine
type Path string

const (
	// PathInMemory passes the samples directly to the engine
	PathInMemory Path = "in_memory"
	// PathFile writes the samples to the session scratch file first
	PathFile Path = "file"
)

// Scratch is the per-session file used by the file path
type Scratch interface {
	Path() string
	Write(samples []float32) error
}

// Result is the outcome of one successful transcription
type Result struct {
	Text        string
	Path        Path          // path that produced the text
	InMemoryErr error         // set when the in-memory path failed and the file path was used
	Duration    time.Duration // time spent holding the engine permit
}

// Empty reports whether the result has no text worth broadcasting
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// InferenceError is returned when both recognition paths failed
type InferenceError struct {
	InMemory error
	File     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("recognition failed: in-memory: %v; file: %v", e.InMemory, e.File)
}

func (e *InferenceError) Unwrap() []error {
	return []error{e.InMemory, e.File}
}

// CoordinatorConfig contains coordinator configuration
type CoordinatorConfig struct {
	SampleRate int
	Timeout    time.Duration // per engine call, 0 means unbounded
	ScratchDir string        // directory for the warmup file, os.TempDir when empty
}

// Coordinator gives one caller at a time exclusive use of the engine
type Coordinator struct {
	engine Engine
	config CoordinatorConfig
	permit chan struct{} // single slot, held for the whole in-memory + file attempt
	ready  atomic.Bool

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// Statistics
	waiting          atomic.Int64
	totalRequests    uint64
	inMemorySuccess  uint64
	fileSuccess      uint64
	failedRequests   uint64
	avgInferenceTime time.Duration

	mu sync.RWMutex
}

// CoordinatorStats represents coordinator statistics
type CoordinatorStats struct {
	Ready            bool          `json:"ready"`
	Busy             bool          `json:"busy"`
	Waiting          int64         `json:"waiting"`
	TotalRequests    uint64        `json:"total_requests"`
	InMemorySuccess  uint64        `json:"in_memory_success"`
	FileSuccess      uint64        `json:"file_success"`
	FailedRequests   uint64        `json:"failed_requests"`
	AvgInferenceTime time.Duration `json:"avg_inference_time"`
}

// NewCoordinator creates a coordinator for engine. A nil engine is accepted
// and leaves the coordinator permanently not ready.
func NewCoordinator(engine Engine, config CoordinatorConfig, logger *slog.Logger, m *metrics.Metrics) (*Coordinator, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative")
	}

	return &Coordinator{
		engine:  engine,
		config:  config,
		permit:  make(chan struct{}, 1),
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Ready reports whether the engine is loaded and accepting work
func (c *Coordinator) Ready() bool {
	return c.engine != nil && c.ready.Load()
}

// SetReady marks the engine as loaded or unloaded
func (c *Coordinator) SetReady(ready bool) {
	if c.engine == nil {
		ready = false
	}
	c.ready.Store(ready)
	c.metrics.SetEngineReady(ready)
}

// Transcribe recognizes the whole accumulated buffer. It waits for the engine
// permit; ctx only bounds that wait. Once the permit is held the engine calls
// run to completion even if ctx is cancelled.
func (c *Coordinator) Transcribe(ctx context.Context, samples []float32, scratch Scratch) (Result, error) {
	if c.engine == nil {
		return Result{}, errors.New("no recognition engine configured")
	}

	ctx, span := c.tracer.Start(ctx, "transcription.Transcribe",
		trace.WithAttributes(attribute.Int("audio.samples", len(samples))),
	)
	defer span.End()

	release, err := c.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "permit wait cancelled")
		return Result{}, err
	}
	defer release()

	c.metrics.RecordInferenceRequest(float64(len(samples)) / float64(c.config.SampleRate))
	c.incrementTotalRequests()

	callCtx := context.WithoutCancel(ctx)
	start := time.Now()

	hypotheses, memErr := c.recognize(callCtx, PathInMemory, func(ctx context.Context) ([]Hypothesis, error) {
		return c.engine.RecognizeSamples(ctx, samples, c.config.SampleRate)
	})
	if memErr == nil {
		result := Result{Text: firstText(hypotheses), Path: PathInMemory, Duration: time.Since(start)}
		c.recordSuccess(PathInMemory, result.Duration)
		span.SetAttributes(attribute.String("transcription.path", string(PathInMemory)))
		return result, nil
	}

	c.logger.Debug("In-memory recognition failed, falling back to file",
		slog.String("error", memErr.Error()),
	)

	hypotheses, fileErr := c.recognize(callCtx, PathFile, func(ctx context.Context) ([]Hypothesis, error) {
		if scratch == nil {
			return nil, errors.New("no scratch file for file recognition")
		}
		if err := scratch.Write(samples); err != nil {
			return nil, err
		}
		return c.engine.RecognizeFile(ctx, scratch.Path())
	})
	if fileErr != nil {
		c.incrementFailedRequests()
		c.metrics.RecordInferenceFailure()
		inferenceErr := &InferenceError{InMemory: memErr, File: fileErr}
		span.RecordError(inferenceErr)
		span.SetStatus(codes.Error, "all recognition paths failed")
		return Result{}, inferenceErr
	}

	result := Result{Text: firstText(hypotheses), Path: PathFile, InMemoryErr: memErr, Duration: time.Since(start)}
	c.recordSuccess(PathFile, result.Duration)
	span.SetAttributes(attribute.String("transcription.path", string(PathFile)))
	return result, nil
}

// Warmup runs one second of silence through the file path so the first real
// request does not pay the engine's initialization cost.
func (c *Coordinator) Warmup(ctx context.Context) error {
	if c.engine == nil {
		return errors.New("no recognition engine configured")
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	scratch, err := audio.NewScratchFile(c.config.ScratchDir, c.config.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to create warmup file: %w", err)
	}
	defer func() {
		if err := scratch.Remove(); err != nil {
			c.logger.Warn("Failed to remove warmup file", slog.String("error", err.Error()))
		}
	}()

	silence := make([]float32, c.config.SampleRate)
	start := time.Now()
	_, err = c.recognize(context.WithoutCancel(ctx), PathFile, func(ctx context.Context) ([]Hypothesis, error) {
		if err := scratch.Write(silence); err != nil {
			return nil, err
		}
		return c.engine.RecognizeFile(ctx, scratch.Path())
	})
	if err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}

	c.logger.Info("Engine warmup complete", slog.Duration("duration", time.Since(start)))
	return nil
}

// acquire waits for the engine permit. The returned func releases it.
func (c *Coordinator) acquire(ctx context.Context) (func(), error) {
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	waitStart := time.Now()
	select {
	case c.permit <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.metrics.RecordPermitWait(time.Since(waitStart).Seconds())

	return func() { <-c.permit }, nil
}

// recognize runs one engine call on path with the optional per-call timeout
func (c *Coordinator) recognize(ctx context.Context, path Path, call func(context.Context) ([]Hypothesis, error)) ([]Hypothesis, error) {
	ctx, span := c.tracer.Start(ctx, "transcription.recognize",
		trace.WithAttributes(attribute.String("transcription.path", string(path))),
	)
	defer span.End()

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	hypotheses, err := call(ctx)
	c.metrics.RecordInferenceAttempt(string(path), err == nil, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return hypotheses, nil
}

// Statistics methods
func (c *Coordinator) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Coordinator) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Coordinator) recordSuccess(path Path, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path == PathInMemory {
		c.inMemorySuccess++
	} else {
		c.fileSuccess++
	}

	// Simple moving average
	if c.avgInferenceTime == 0 {
		c.avgInferenceTime = duration
	} else {
		c.avgInferenceTime = (c.avgInferenceTime + duration) / 2
	}
}

// GetStats returns current coordinator statistics
func (c *Coordinator) GetStats() CoordinatorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CoordinatorStats{
		Ready:            c.Ready(),
		Busy:             len(c.permit) > 0,
		Waiting:          c.waiting.Load(),
		TotalRequests:    c.totalRequests,
		InMemorySuccess:  c.inMemorySuccess,
		FileSuccess:      c.fileSuccess,
		FailedRequests:   c.failedRequests,
		AvgInferenceTime: c.avgInferenceTime,
	}
}

// EngineStats returns the statistics kept by the HTTP engine, if that is the engine in use
func (c *Coordinator) EngineStats() (HTTPStats, bool) {
	engine, ok := c.engine.(*HTTPEngine)
	if !ok || engine == nil {
		return HTTPStats{}, false
	}
	return engine.GetStats(), true
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/live-caption-service/internal/broadcast"
	"github.com/skypro1111/live-caption-service/internal/bus"
	"github.com/skypro1111/live-caption-service/internal/config"
	"github.com/skypro1111/live-caption-service/internal/metrics"
	"github.com/skypro1111/live-caption-service/internal/server"
	"github.com/skypro1111/live-caption-service/internal/stream"
	"github.com/skypro1111/live-caption-service/internal/telemetry"
	"github.com/skypro1111/live-caption-service/internal/transcription"
	"github.com/skypro1111/live-caption-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "live-caption-service"
	serviceVersion    = "1.0.0"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	// Load .env if present
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
	}

	// Load configuration
	path := resolveConfigPath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", path),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.String("ws_path", cfg.Server.WSPath),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("energy_threshold", cfg.Silence.EnergyThreshold),
		slog.Duration("silence_duration", cfg.Silence.GetDuration()),
		slog.String("engine_mode", cfg.Engine.Mode),
		slog.Bool("bus_enabled", cfg.Bus.Enabled),
		slog.String("tracing", cfg.Telemetry.Tracing),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry and Prometheus metrics share the default registry
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// A missing engine keeps the service up but refuses audio connections
	engine, err := buildEngine(cfg.Engine)
	if err != nil {
		logger.Error("Failed to load recognition engine, audio connections will be refused",
			slog.String("mode", cfg.Engine.Mode),
			slog.String("error", err.Error()),
		)
	}

	coordinator, err := transcription.NewCoordinator(engine, transcription.CoordinatorConfig{
		SampleRate: cfg.Audio.SampleRate,
		Timeout:    cfg.Engine.GetTimeoutDuration(),
		ScratchDir: cfg.Audio.ScratchDir,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create inference coordinator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if engine != nil {
		if cfg.Engine.Warmup {
			if err := coordinator.Warmup(ctx); err != nil {
				logger.Warn("Engine warmup failed, continuing", slog.String("error", err.Error()))
			}
		}
		coordinator.SetReady(true)
		logger.Info("Recognition engine ready", slog.String("mode", cfg.Engine.Mode))
	}

	registry := broadcast.NewRegistry(logger, appMetrics)

	// Optional NATS sink, registered as one more listener
	embeddedNATS, publisher, err := startBus(cfg.Bus, registry, logger)
	if err != nil {
		logger.Error("Failed to start transcript bus", slog.String("error", err.Error()))
		os.Exit(1)
	}

	streamMgr, err := stream.NewManager(logger, stream.ManagerConfig{
		Gate: vad.GateConfig{
			EnergyThreshold: cfg.Silence.EnergyThreshold,
			SilenceDuration: cfg.Silence.GetDuration(),
			FrameSamples:    cfg.Audio.FrameSamples,
			SampleRate:      cfg.Audio.SampleRate,
		},
		SampleRate: cfg.Audio.SampleRate,
		ScratchDir: cfg.Audio.ScratchDir,
	}, coordinator, registry, appMetrics)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(cfg, logger, streamMgr, coordinator, appMetrics, prometheus.DefaultGatherer)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", httpServer.Addr()),
		slog.Bool("model_loaded", coordinator.Ready()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections first
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// End the receive loops of connected clients
	streamMgr.Stop()
	if err := streamMgr.Wait(shutdownCtx); err != nil {
		logger.Warn("Sessions still open at shutdown",
			slog.Int("active_sessions", streamMgr.GetActiveSessionCount()),
		)
	}

	// Flush transcripts still queued for listeners
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Warn("Listeners still pending at shutdown", slog.String("error", err.Error()))
	}

	publisher.Close()
	embeddedNATS.Shutdown()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("Error shutting down telemetry", slog.String("error", err.Error()))
	}

	// Get final statistics
	sessionStats := streamMgr.GetStats()
	engineStats := coordinator.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("total_sessions", sessionStats.TotalSessions),
		slog.Uint64("refused_sessions", sessionStats.RefusedSessions),
		slog.Uint64("transcriptions", engineStats.TotalRequests),
		slog.Uint64("failed_transcriptions", engineStats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// resolveConfigPath falls back to built-in defaults when the default config
// file is absent and no path was given explicitly
func resolveConfigPath(path string) string {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return ""
		}
	}
	return path
}

// buildEngine creates the recognition engine selected by cfg.Mode
func buildEngine(cfg config.EngineConfig) (transcription.Engine, error) {
	switch cfg.Mode {
	case "exec":
		engine, err := transcription.NewExecEngine(transcription.ExecConfig{
			Command:      cfg.Command,
			Model:        cfg.Model,
			Language:     cfg.Language,
			StdinSamples: cfg.StdinSamples,
		})
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "http":
		engine, err := transcription.NewHTTPEngine(transcription.HTTPConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Language:   cfg.Language,
			Timeout:    cfg.GetTimeoutDuration(),
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "openai":
		engine, err := transcription.NewOpenAIEngine(transcription.OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
		})
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "mock":
		return transcription.NewMockEngine(false), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}

// startBus starts the embedded NATS server and the transcript publisher when enabled
func startBus(cfg config.BusConfig, registry *broadcast.Registry, logger *slog.Logger) (*bus.EmbeddedServer, *bus.Publisher, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	embedded, err := bus.StartEmbedded(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if embedded != nil {
		cfg.Servers = []string{embedded.ClientURL()}
	}

	publisher, err := bus.Connect(cfg, logger)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, err
	}

	registry.Register(publisher)
	return embedded, publisher, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

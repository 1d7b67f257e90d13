package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override
const EnvPrefix = "CAPTION_"

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Silence   SilenceConfig   `yaml:"silence"`
	Engine    EngineConfig    `yaml:"engine"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP and WebSocket server configuration
type ServerConfig struct {
	Address        string   `yaml:"address"`
	Port           int      `yaml:"port"`
	WSPath         string   `yaml:"ws_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	StaticDir      string   `yaml:"static_dir"`    // built frontend, empty disables static serving
	WriteTimeout   int      `yaml:"write_timeout"` // seconds, per outbound WebSocket message
}

// AudioConfig contains audio input parameters
type AudioConfig struct {
	SampleRate   int    `yaml:"sample_rate"`
	FrameSamples int    `yaml:"frame_samples"` // nominal samples per client frame
	ScratchDir   string `yaml:"scratch_dir"`   // empty means the system temp dir
}

// SilenceConfig contains extended silence detection parameters
type SilenceConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"`
	Duration        float64 `yaml:"duration"` // seconds
}

// EngineConfig contains recognition engine configuration
type EngineConfig struct {
	Mode         string `yaml:"mode"` // exec, http, openai, mock
	Command      string `yaml:"command"`
	StdinSamples bool   `yaml:"stdin_samples"`
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	Language     string `yaml:"language"`
	Timeout      int    `yaml:"timeout"` // seconds, 0 means no limit
	MaxRetries   int    `yaml:"max_retries"`
	Warmup       bool   `yaml:"warmup"`
}

// BusConfig contains NATS transcript publishing configuration
type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"` // embedded server port
	Servers        []string `yaml:"servers"`
	Subject        string   `yaml:"subject"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// TelemetryConfig contains tracing configuration
type TelemetryConfig struct {
	Tracing      string `yaml:"tracing"` // none, stdout, otlp
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file overrides it
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8000,
			WSPath:  "/ws",
			AllowedOrigins: []string{
				"http://localhost:8000",
				"http://127.0.0.1:8000",
				"http://localhost:5173",
			},
			StaticDir:    "dist",
			WriteTimeout: 10,
		},
		Audio: AudioConfig{
			SampleRate:   16000,
			FrameSamples: 4096,
		},
		Silence: SilenceConfig{
			EnergyThreshold: 0.03,
			Duration:        3.0,
		},
		Engine: EngineConfig{
			Mode:       "mock",
			MaxRetries: 2,
			Warmup:     true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "captions.transcript",
			ConnectTimeout: 2000,
		},
		Telemetry: TelemetryConfig{
			Tracing:      "none",
			OTLPInsecure: true,
			ServiceName:  "live-caption-service",
			Environment:  "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(c *Config) {
	overrideString(&c.Server.Address, EnvPrefix+"SERVER_ADDRESS")
	overrideInt(&c.Server.Port, EnvPrefix+"SERVER_PORT")
	overrideStringSlice(&c.Server.AllowedOrigins, EnvPrefix+"SERVER_ALLOWED_ORIGINS")
	overrideString(&c.Server.StaticDir, EnvPrefix+"SERVER_STATIC_DIR")
	overrideString(&c.Audio.ScratchDir, EnvPrefix+"AUDIO_SCRATCH_DIR")
	overrideFloat(&c.Silence.EnergyThreshold, EnvPrefix+"SILENCE_ENERGY_THRESHOLD")
	overrideFloat(&c.Silence.Duration, EnvPrefix+"SILENCE_DURATION")
	overrideString(&c.Engine.Mode, EnvPrefix+"ENGINE_MODE")
	overrideString(&c.Engine.Command, EnvPrefix+"ENGINE_COMMAND")
	overrideString(&c.Engine.Endpoint, EnvPrefix+"ENGINE_ENDPOINT")
	overrideString(&c.Engine.APIKey, "OPENAI_API_KEY")
	overrideString(&c.Engine.APIKey, EnvPrefix+"ENGINE_API_KEY")
	overrideString(&c.Engine.Model, EnvPrefix+"ENGINE_MODEL")
	overrideString(&c.Engine.Language, EnvPrefix+"ENGINE_LANGUAGE")
	overrideInt(&c.Engine.Timeout, EnvPrefix+"ENGINE_TIMEOUT")
	overrideBool(&c.Bus.Enabled, EnvPrefix+"BUS_ENABLED")
	overrideBool(&c.Bus.Embedded, EnvPrefix+"BUS_EMBEDDED")
	overrideStringSlice(&c.Bus.Servers, EnvPrefix+"BUS_SERVERS")
	overrideString(&c.Bus.Subject, EnvPrefix+"BUS_SUBJECT")
	overrideString(&c.Bus.Token, EnvPrefix+"BUS_TOKEN")
	overrideString(&c.Telemetry.Tracing, EnvPrefix+"TELEMETRY_TRACING")
	overrideString(&c.Telemetry.OTLPEndpoint, EnvPrefix+"TELEMETRY_OTLP_ENDPOINT")
	overrideString(&c.Logging.Level, EnvPrefix+"LOG_LEVEL")
	overrideString(&c.Logging.Format, EnvPrefix+"LOG_FORMAT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Silence.Validate(); err != nil {
		return fmt.Errorf("silence config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("bus config: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !strings.HasPrefix(s.WSPath, "/") {
		return fmt.Errorf("ws_path must start with '/', got '%s'", s.WSPath)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz (clients send 16kHz PCM), got %d", a.SampleRate)
	}

	if a.FrameSamples < 1 {
		return fmt.Errorf("frame_samples must be positive, got %d", a.FrameSamples)
	}

	return nil
}

// Validate validates silence detection configuration
func (s *SilenceConfig) Validate() error {
	if s.EnergyThreshold <= 0 || s.EnergyThreshold >= 1 {
		return fmt.Errorf("energy_threshold must be between 0 and 1 (exclusive), got %f", s.EnergyThreshold)
	}

	if s.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", s.Duration)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	switch e.Mode {
	case "exec":
		if strings.TrimSpace(e.Command) == "" {
			return fmt.Errorf("command cannot be empty in exec mode")
		}
	case "http":
		if e.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty in http mode")
		}
	case "openai":
		if e.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty in openai mode")
		}
	case "mock":
	default:
		return fmt.Errorf("mode must be one of [exec, http, openai, mock], got '%s'", e.Mode)
	}

	if e.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", e.Timeout)
	}

	if e.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", e.MaxRetries)
	}

	return nil
}

// Validate validates bus configuration
func (b *BusConfig) Validate() error {
	if !b.Enabled {
		return nil
	}

	if b.Subject == "" {
		return fmt.Errorf("subject cannot be empty when the bus is enabled")
	}

	if !b.Embedded && len(b.Servers) == 0 {
		return fmt.Errorf("servers cannot be empty without an embedded server")
	}

	// -1 lets the embedded server pick a free port
	if b.Embedded && b.Port != -1 && (b.Port < 1 || b.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535 or -1, got %d", b.Port)
	}

	if b.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout_ms must be positive, got %d", b.ConnectTimeout)
	}

	return nil
}

// Validate validates telemetry configuration
func (t *TelemetryConfig) Validate() error {
	switch t.Tracing {
	case "none", "stdout":
	case "otlp":
		if t.OTLPEndpoint == "" {
			return fmt.Errorf("otlp_endpoint cannot be empty when tracing is 'otlp'")
		}
	default:
		return fmt.Errorf("tracing must be one of [none, stdout, otlp], got '%s'", t.Tracing)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Any other output value is treated as a file path
	return nil
}

// GetWriteTimeoutDuration returns the WebSocket write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetDuration returns the silence duration as a time.Duration
func (s *SilenceConfig) GetDuration() time.Duration {
	return time.Duration(s.Duration * float64(time.Second))
}

// GetTimeoutDuration returns the engine call timeout as a time.Duration
func (e *EngineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetConnectTimeoutDuration returns the NATS connect timeout as a time.Duration
func (b *BusConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Millisecond
}

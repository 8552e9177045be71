package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Backend Backend `yaml:"backend"`
	Audio   Audio   `yaml:"audio"`
	VAD     VAD     `yaml:"vad"`
	Session Session `yaml:"session"`
	Quality Quality `yaml:"quality"`
	Logging Logging `yaml:"logging"`
}

// Backend contains transcription backend connection settings
type Backend struct {
	URL            string `yaml:"url"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	Language       string `yaml:"language"`
	QualityMode    string `yaml:"quality_mode"` // "fast" or "accurate"
}

// Audio contains audio capture and chunking parameters
type Audio struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	ChunkDurationMs int `yaml:"chunk_duration_ms"`
	OverlapMs       int `yaml:"overlap_ms"`
}

// VAD contains voice activity gating configuration
type VAD struct {
	Threshold float64 `yaml:"threshold"` // RMS energy threshold
}

// Session contains connection lifecycle configuration
type Session struct {
	StartTimeout         int `yaml:"start_timeout"`      // seconds
	HeartbeatInterval    int `yaml:"heartbeat_interval"` // seconds
	IdleTimeout          int `yaml:"idle_timeout"`       // seconds
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	MaxSendRetries       int `yaml:"max_send_retries"`
	SendRetryDelayMs     int `yaml:"send_retry_delay_ms"`
}

// Quality contains transcript quality benchmark thresholds
type Quality struct {
	MaxWER           float64 `yaml:"max_wer"`
	MaxAvgLatencyMs  float64 `yaml:"max_avg_latency_ms"`
	MinAvgConfidence float64 `yaml:"min_avg_confidence"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ConfigurationError indicates invalid configuration detected at construction.
// It is fatal: the client refuses to start with a bad config.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Default returns a configuration with working defaults for a 16 kHz mono
// capture pipeline. Callers override fields before Validate.
func Default() *Config {
	return &Config{
		Backend: Backend{
			URL:            "ws://localhost:8090/v1/stream",
			ConnectTimeout: 5,
			Language:       "en",
			QualityMode:    "accurate",
		},
		Audio: Audio{
			SampleRate:      16000,
			Channels:        1,
			ChunkDurationMs: 300,
			OverlapMs:       50,
		},
		VAD: VAD{
			Threshold: 0.01,
		},
		Session: Session{
			StartTimeout:         10,
			HeartbeatInterval:    30,
			IdleTimeout:          60,
			MaxReconnectAttempts: 5,
			MaxSendRetries:       3,
			SendRetryDelayMs:     200,
		},
		Quality: Quality{
			MaxWER:           0.10,
			MaxAvgLatencyMs:  500,
			MinAvgConfidence: 0.95,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return err
	}

	if err := c.Audio.Validate(); err != nil {
		return err
	}

	if err := c.VAD.Validate(); err != nil {
		return err
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}

	if err := c.Quality.Validate(); err != nil {
		return err
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	return nil
}

// Validate validates backend configuration
func (b *Backend) Validate() error {
	if b.URL == "" {
		return &ConfigurationError{Field: "backend.url", Reason: "cannot be empty"}
	}

	if b.ConnectTimeout < 1 {
		return &ConfigurationError{
			Field:  "backend.connect_timeout",
			Reason: fmt.Sprintf("must be at least 1 second, got %d", b.ConnectTimeout),
		}
	}

	if b.QualityMode != "fast" && b.QualityMode != "accurate" {
		return &ConfigurationError{
			Field:  "backend.quality_mode",
			Reason: fmt.Sprintf("must be 'fast' or 'accurate', got %q", b.QualityMode),
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *Audio) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return &ConfigurationError{
			Field:  "audio.sample_rate",
			Reason: fmt.Sprintf("must be between 8000 and 48000 Hz, got %d", a.SampleRate),
		}
	}

	if a.Channels != 1 {
		return &ConfigurationError{
			Field:  "audio.channels",
			Reason: fmt.Sprintf("must be 1 (mono), got %d", a.Channels),
		}
	}

	if a.ChunkDurationMs < 1 {
		return &ConfigurationError{
			Field:  "audio.chunk_duration_ms",
			Reason: fmt.Sprintf("must be positive, got %d", a.ChunkDurationMs),
		}
	}

	if a.OverlapMs < 0 {
		return &ConfigurationError{
			Field:  "audio.overlap_ms",
			Reason: fmt.Sprintf("cannot be negative, got %d", a.OverlapMs),
		}
	}

	if a.OverlapMs >= a.ChunkDurationMs {
		return &ConfigurationError{
			Field:  "audio.overlap_ms",
			Reason: fmt.Sprintf("overlap (%d ms) must be less than chunk duration (%d ms)", a.OverlapMs, a.ChunkDurationMs),
		}
	}

	return nil
}

// Validate validates VAD configuration
func (v *VAD) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return &ConfigurationError{
			Field:  "vad.threshold",
			Reason: fmt.Sprintf("must be between 0 and 1, got %f", v.Threshold),
		}
	}

	return nil
}

// Validate validates session configuration
func (s *Session) Validate() error {
	if s.StartTimeout < 1 {
		return &ConfigurationError{
			Field:  "session.start_timeout",
			Reason: fmt.Sprintf("must be at least 1 second, got %d", s.StartTimeout),
		}
	}

	if s.HeartbeatInterval < 1 {
		return &ConfigurationError{
			Field:  "session.heartbeat_interval",
			Reason: fmt.Sprintf("must be at least 1 second, got %d", s.HeartbeatInterval),
		}
	}

	if s.IdleTimeout <= s.HeartbeatInterval {
		return &ConfigurationError{
			Field:  "session.idle_timeout",
			Reason: fmt.Sprintf("idle timeout (%d s) must exceed heartbeat interval (%d s)", s.IdleTimeout, s.HeartbeatInterval),
		}
	}

	if s.MaxReconnectAttempts < 1 {
		return &ConfigurationError{
			Field:  "session.max_reconnect_attempts",
			Reason: fmt.Sprintf("must be at least 1, got %d", s.MaxReconnectAttempts),
		}
	}

	if s.MaxSendRetries < 0 {
		return &ConfigurationError{
			Field:  "session.max_send_retries",
			Reason: fmt.Sprintf("cannot be negative, got %d", s.MaxSendRetries),
		}
	}

	if s.SendRetryDelayMs < 1 {
		return &ConfigurationError{
			Field:  "session.send_retry_delay_ms",
			Reason: fmt.Sprintf("must be at least 1 ms, got %d", s.SendRetryDelayMs),
		}
	}

	return nil
}

// Validate validates quality benchmark configuration
func (q *Quality) Validate() error {
	if q.MaxWER < 0 || q.MaxWER > 1 {
		return &ConfigurationError{
			Field:  "quality.max_wer",
			Reason: fmt.Sprintf("must be between 0 and 1, got %f", q.MaxWER),
		}
	}

	if q.MaxAvgLatencyMs <= 0 {
		return &ConfigurationError{
			Field:  "quality.max_avg_latency_ms",
			Reason: fmt.Sprintf("must be positive, got %f", q.MaxAvgLatencyMs),
		}
	}

	if q.MinAvgConfidence < 0 || q.MinAvgConfidence > 1 {
		return &ConfigurationError{
			Field:  "quality.min_avg_confidence",
			Reason: fmt.Sprintf("must be between 0 and 1, got %f", q.MinAvgConfidence),
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *Logging) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return &ConfigurationError{
			Field:  "logging.level",
			Reason: fmt.Sprintf("must be one of [debug, info, warn, error], got %q", l.Level),
		}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return &ConfigurationError{
			Field:  "logging.format",
			Reason: fmt.Sprintf("must be 'json' or 'text', got %q", l.Format),
		}
	}

	return nil
}

// GetConnectTimeout returns the backend connect timeout as a time.Duration
func (b *Backend) GetConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Second
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *Audio) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}

// GetOverlap returns the chunk overlap as a time.Duration
func (a *Audio) GetOverlap() time.Duration {
	return time.Duration(a.OverlapMs) * time.Millisecond
}

// GetStartTimeout returns the session start timeout as a time.Duration
func (s *Session) GetStartTimeout() time.Duration {
	return time.Duration(s.StartTimeout) * time.Second
}

// GetHeartbeatInterval returns the heartbeat interval as a time.Duration
func (s *Session) GetHeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatInterval) * time.Second
}

// GetIdleTimeout returns the dead-connection idle timeout as a time.Duration
func (s *Session) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetSendRetryDelay returns the per-chunk send retry base delay as a time.Duration
func (s *Session) GetSendRetryDelay() time.Duration {
	return time.Duration(s.SendRetryDelayMs) * time.Millisecond
}

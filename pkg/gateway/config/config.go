// Package config loads and validates the service configuration from YAML,
// with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	STT     STTConfig     `yaml:"stt"`
	LLM     LLMConfig     `yaml:"llm"`
	Memory  MemoryConfig  `yaml:"memory"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the HTTP/websocket server configuration.
type ServerConfig struct {
	Addr                 string `yaml:"addr"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

// STTConfig contains the streaming transcription provider configuration.
type STTConfig struct {
	BaseWSURL        string `yaml:"base_ws_url"`
	APIKey           string `yaml:"api_key"`
	ModelID          string `yaml:"model_id"`
	SampleRate       int    `yaml:"sample_rate"`
	MaxRetries       int    `yaml:"max_retries"`
	BackoffBaseMS    int    `yaml:"backoff_base_ms"`
	ReplayWindowSecs int    `yaml:"replay_window_seconds"`
}

// LLMConfig contains the structured-output model configuration.
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
}

// MemoryConfig contains the session memory configuration.
type MemoryConfig struct {
	Enabled            bool `yaml:"enabled"`
	RefreshInterval    int  `yaml:"refresh_interval"`
	MaxSummaryLength   int  `yaml:"max_summary_length"`
	RefreshWaitSeconds int  `yaml:"refresh_wait_seconds"`
}

// StorageConfig contains the persistence configuration. An empty path
// selects the in-memory store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                 ":8080",
			ShutdownGraceSeconds: 10,
		},
		STT: STTConfig{
			BaseWSURL:        "wss://api.elevenlabs.io",
			ModelID:          "scribe_v2_realtime",
			SampleRate:       16000,
			MaxRetries:       3,
			BackoffBaseMS:    1000,
			ReplayWindowSecs: 5,
		},
		LLM: LLMConfig{
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 8,
			CacheSize:      256,
		},
		Memory: MemoryConfig{
			Enabled:            true,
			RefreshInterval:    5,
			MaxSummaryLength:   500,
			RefreshWaitSeconds: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file, applies environment overrides, and
// validates the result. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides secrets and the listen address from the environment.
// Secrets never belong in the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.STT.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("VOICED_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("VOICED_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if s.ShutdownGraceSeconds < 1 {
		return fmt.Errorf("shutdown_grace_seconds must be at least 1, got %d", s.ShutdownGraceSeconds)
	}
	return nil
}

func (s *STTConfig) Validate() error {
	if s.BaseWSURL == "" {
		return fmt.Errorf("base_ws_url cannot be empty")
	}
	if s.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", s.SampleRate)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", s.MaxRetries)
	}
	if s.BackoffBaseMS < 1 {
		return fmt.Errorf("backoff_base_ms must be positive, got %d", s.BackoffBaseMS)
	}
	if s.ReplayWindowSecs < 1 {
		return fmt.Errorf("replay_window_seconds must be at least 1, got %d", s.ReplayWindowSecs)
	}
	return nil
}

func (l *LLMConfig) Validate() error {
	if l.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if l.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1, got %d", l.TimeoutSeconds)
	}
	if l.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1, got %d", l.CacheSize)
	}
	return nil
}

func (m *MemoryConfig) Validate() error {
	if m.RefreshInterval < 1 {
		return fmt.Errorf("refresh_interval must be at least 1, got %d", m.RefreshInterval)
	}
	if m.MaxSummaryLength < 1 {
		return fmt.Errorf("max_summary_length must be at least 1, got %d", m.MaxSummaryLength)
	}
	if m.RefreshWaitSeconds < 1 {
		return fmt.Errorf("refresh_wait_seconds must be at least 1, got %d", m.RefreshWaitSeconds)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}

// ShutdownGrace returns the shutdown grace period as a duration.
func (s *ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

// BackoffBase returns the reconnect backoff base as a duration.
func (s *STTConfig) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseMS) * time.Millisecond
}

// ReplayWindow returns the reconnect replay window as a duration.
func (s *STTConfig) ReplayWindow() time.Duration {
	return time.Duration(s.ReplayWindowSecs) * time.Second
}

// Timeout returns the per-utterance processing deadline as a duration.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// RefreshWait returns the bounded packet-build wait as a duration.
func (m *MemoryConfig) RefreshWait() time.Duration {
	return time.Duration(m.RefreshWaitSeconds) * time.Second
}

// Package config provides the configuration schema, loader, hot-reload watcher
// and storage driver registry for voxtodo.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the voxtodo server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto the matching [slog.Level]. Unknown and empty values
// map to [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Storage driver names understood by the default registry.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultTranscriptionTO     = 60 * time.Second
	DefaultBreakerMaxFailures  = 5
	DefaultBreakerResetTimeout = 30 * time.Second
	DefaultStopTimeout         = 5 * time.Second
	DefaultServiceName         = "voxtodo"
	DefaultMetricsPath         = "/metrics"
)

// Config is the root configuration structure for voxtodo.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Capture       CaptureConfig       `yaml:"capture"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is the only setting applied on hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	// Empty disables cross-origin access.
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig selects and configures the durable task store.
type StorageConfig struct {
	// Driver is one of sqlite, postgres or memory. Defaults to sqlite.
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Empty uses the per-user default.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// TranscriptionConfig points at the remote parse endpoint.
type TranscriptionConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding the parse endpoint.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CaptureConfig configures the external recorder used for microphone capture.
type CaptureConfig struct {
	// Command is the recorder argv. One argument must contain {output}.
	Command []string `yaml:"command"`

	// Dir is where recordings are written. Empty uses the OS temp dir.
	Dir string `yaml:"dir"`

	// StopTimeout bounds how long the recorder may take to exit after SIGINT.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// RemindersConfig controls reminder behaviour.
type RemindersConfig struct {
	// CancelOnDone withdraws a pending reminder when its task is marked done.
	// Nil means true.
	CancelOnDone *bool `yaml:"cancel_on_done"`

	// Command, when set, runs on every delivered reminder with {title} and
	// {body} substituted.
	Command []string `yaml:"command"`
}

// CancelOnDoneEnabled reports the effective cancel_on_done value.
func (r RemindersConfig) CancelOnDoneEnabled() bool {
	return r.CancelOnDone == nil || *r.CancelOnDone
}

// TelemetryConfig configures the OpenTelemetry provider and the metrics endpoint.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	MetricsPath string `yaml:"metrics_path"`
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Transcription.Timeout == 0 {
		cfg.Transcription.Timeout = DefaultTranscriptionTO
	}
	if cfg.Transcription.Breaker.MaxFailures == 0 {
		cfg.Transcription.Breaker.MaxFailures = DefaultBreakerMaxFailures
	}
	if cfg.Transcription.Breaker.ResetTimeout == 0 {
		cfg.Transcription.Breaker.ResetTimeout = DefaultBreakerResetTimeout
	}
	if cfg.Capture.StopTimeout == 0 {
		cfg.Capture.StopTimeout = DefaultStopTimeout
	}
	if cfg.Reminders.CancelOnDone == nil {
		on := true
		cfg.Reminders.CancelOnDone = &on
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

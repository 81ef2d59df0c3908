package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxtodo/pkg/capture/execrec"
)

// ValidDrivers lists the storage drivers known to [DefaultRegistry].
var ValidDrivers = []string{DriverSQLite, DriverPostgres, DriverMemory}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	for i, origin := range cfg.Server.CORSOrigins {
		if strings.TrimSpace(origin) == "" {
			errs = append(errs, fmt.Errorf("server.cors_origins[%d] is empty", i))
		}
	}

	// Storage
	switch cfg.Storage.Driver {
	case "", DriverSQLite, DriverMemory:
	case DriverPostgres:
		if cfg.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required when storage.driver is postgres"))
		}
	default:
		slog.Warn("unknown storage driver; it must be registered before startup",
			"driver", cfg.Storage.Driver,
			"known", ValidDrivers,
		)
	}
	if cfg.Storage.Driver == DriverMemory {
		slog.Warn("storage.driver is memory; tasks will not survive a restart")
	}

	// Transcription
	if cfg.Transcription.BaseURL == "" {
		slog.Warn("transcription.base_url is empty; voice capture will be unavailable")
	} else if u, err := url.Parse(cfg.Transcription.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("transcription.base_url %q is not an absolute URL", cfg.Transcription.BaseURL))
	}
	if cfg.Transcription.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %s must not be negative", cfg.Transcription.Timeout))
	}
	if cfg.Transcription.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcription.breaker.max_failures %d must not be negative", cfg.Transcription.Breaker.MaxFailures))
	}
	if cfg.Transcription.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.breaker.reset_timeout %s must not be negative", cfg.Transcription.Breaker.ResetTimeout))
	}

	// Capture
	if len(cfg.Capture.Command) > 0 {
		if !slices.ContainsFunc(cfg.Capture.Command, func(arg string) bool {
			return strings.Contains(arg, execrec.OutputPlaceholder)
		}) {
			errs = append(errs, fmt.Errorf("capture.command must contain the %s placeholder", execrec.OutputPlaceholder))
		}
	} else if cfg.Transcription.BaseURL != "" {
		slog.Warn("capture.command is empty; voice capture will be unavailable")
	}
	if cfg.Capture.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("capture.stop_timeout %s must not be negative", cfg.Capture.StopTimeout))
	}

	// Telemetry
	if cfg.Telemetry.MetricsPath != "" && !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", cfg.Telemetry.MetricsPath))
	}
	if strings.HasPrefix(cfg.Telemetry.MetricsPath, "/api/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q collides with the /api/ prefix", cfg.Telemetry.MetricsPath))
	}

	return errors.Join(errs...)
}

package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether any difference was found.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !slices.Equal(old.Server.CORSOrigins, new.Server.CORSOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !reflect.DeepEqual(old.Capture, new.Capture) {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Reminders.CancelOnDoneEnabled() != new.Reminders.CancelOnDoneEnabled() ||
		!slices.Equal(old.Reminders.Command, new.Reminders.Command) {
		d.RestartRequired = append(d.RestartRequired, "reminders")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

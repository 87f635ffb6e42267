package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the threshold and the log level are applied live; every other change
// is listed in RestartRequired.
type ConfigDiff struct {
	ThresholdChanged bool
	NewThreshold     int

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections (e.g. "audio",
	// "gate.trailing_frames") whose changes take effect only after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.ThresholdChanged || d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed. Both configs
// are expected to have defaults applied.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Threshold
	if ot, nt := deref(old.Gate.Threshold), deref(new.Gate.Threshold); ot != nt {
		d.ThresholdChanged = true
		d.NewThreshold = nt
	}

	// Everything else needs a restart.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if deref(old.Gate.TrailingFrames) != deref(new.Gate.TrailingFrames) {
		d.RestartRequired = append(d.RestartRequired, "gate.trailing_frames")
	}
	if old.Gate.MaxFrames != new.Gate.MaxFrames {
		d.RestartRequired = append(d.RestartRequired, "gate.max_frames")
	}
	if deref(old.Gate.SettleDelay) != deref(new.Gate.SettleDelay) {
		d.RestartRequired = append(d.RestartRequired, "gate.settle_delay")
	}
	if old.Gate.Decimation != new.Gate.Decimation {
		d.RestartRequired = append(d.RestartRequired, "gate.decimation")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}
	if old.Events != new.Events {
		d.RestartRequired = append(d.RestartRequired, "events")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}

	return d
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

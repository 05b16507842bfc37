package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RulesPathChanged bool
	NewRulesPath     string

	DefaultRulesetChanged bool
	NewDefaultRuleset     string

	// RestartRequired lists changed settings that only take effect after a
	// restart, by their YAML path.
	RestartRequired []string
}

// Changed reports whether any setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RulesPathChanged || d.DefaultRulesetChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Rules.Path != new.Rules.Path {
		d.RulesPathChanged = true
		d.NewRulesPath = new.Rules.Path
	}
	if old.Rules.Default != new.Rules.Default {
		d.DefaultRulesetChanged = true
		d.NewDefaultRuleset = new.Rules.Default
	}

	restart := []struct {
		path    string
		changed bool
	}{
		{"log_file", old.LogFile != new.LogFile},
		{"rules.dialect", old.Rules.Dialect != new.Rules.Dialect},
		{"rules.watch", old.Rules.Watch != new.Rules.Watch},
		{"status.hold", old.Status.Hold != new.Status.Hold},
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.shutdown_timeout", old.Server.ShutdownTimeout != new.Server.ShutdownTimeout},
		{"server.max_message_bytes", old.Server.MaxMessageBytes != new.Server.MaxMessageBytes},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.path)
		}
	}

	return d
}

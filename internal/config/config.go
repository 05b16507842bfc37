// Package config provides the configuration schema, loader and file watcher
// for livescribe.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/livescribe/internal/rules"
)

// LogLevel controls log verbosity.
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

// Level converts l to an [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for livescribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives log output of the terminal UI. Logs are discarded
	// when empty, since the UI owns the terminal. The server always logs to
	// stderr and additionally to LogFile when set.
	LogFile string `yaml:"log_file"`

	Rules  RulesConfig  `yaml:"rules"`
	Status StatusConfig `yaml:"status"`
	Server ServerConfig `yaml:"server"`
}

// RulesConfig selects the rules document and how it is compiled.
type RulesConfig struct {
	// Path is the rules document. Optional: the terminal UI asks for a file
	// when it is empty.
	Path string `yaml:"path"`

	// Default is the preferred rule set, chosen whenever the selection has
	// to be re-established after a load.
	Default string `yaml:"default"`

	// Dialect selects the regular expression engine. Default: re2.
	Dialect rules.Dialect `yaml:"dialect"`

	// Watch reloads the rules automatically when the file changes on disk.
	Watch bool `yaml:"watch"`
}

// StatusConfig tunes status notifications.
type StatusConfig struct {
	// Hold is the suggested minimum display time of a status message.
	// Default: 700ms.
	Hold time.Duration `yaml:"hold"`
}

// ServerConfig holds network settings for `livescribe serve`.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxMessageBytes limits a single inbound WebSocket message or request
	// body. Default: 1 MiB.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultStatusHold      = 700 * time.Millisecond
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxMessageBytes = 1 << 20
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogInfo
	}
	if c.Rules.Dialect == "" {
		c.Rules.Dialect = rules.DialectRE2
	}
	if c.Status.Hold == 0 {
		c.Status.Hold = DefaultStatusHold
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = DefaultMaxMessageBytes
	}
}

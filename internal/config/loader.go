package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvRules      = "LIVESCRIBE_RULES"
	EnvRuleset    = "LIVESCRIBE_RULESET"
	EnvLogLevel   = "LIVESCRIBE_LOG_LEVEL"
	EnvListenAddr = "LIVESCRIBE_LISTEN_ADDR"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Rules.Dialect != "" && !cfg.Rules.Dialect.IsValid() {
		errs = append(errs, fmt.Errorf("rules.dialect %q is invalid; valid values: re2, regexp2", cfg.Rules.Dialect))
	}
	if cfg.Rules.Watch && cfg.Rules.Path == "" {
		errs = append(errs, errors.New("rules.watch requires rules.path"))
	}
	if cfg.Status.Hold < 0 {
		errs = append(errs, fmt.Errorf("status.hold %v must not be negative", cfg.Status.Hold))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if cfg.Server.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_message_bytes %d must not be negative", cfg.Server.MaxMessageBytes))
	}
	if cfg.Rules.Default != "" && strings.TrimSpace(cfg.Rules.Default) == "" {
		errs = append(errs, errors.New("rules.default must not be blank"))
	}

	if cfg.Status.Hold > 0 && cfg.Status.Hold < 100*time.Millisecond {
		slog.Warn("status.hold is very short; status messages may flicker", "hold", cfg.Status.Hold)
	}

	return errors.Join(errs...)
}

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment. Variables that are already set win. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg fields from environment variables read through
// lookup (usually [os.LookupEnv]) and validates the result again.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRules); ok && v != "" {
		cfg.Rules.Path = v
	}
	if v, ok := lookup(EnvRuleset); ok && v != "" {
		cfg.Rules.Default = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config: environment overrides: %w", err)
	}
	return nil
}

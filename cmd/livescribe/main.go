// Command livescribe transcribes text with user-defined regular expression
// rules while it is typed.
//
// Without a subcommand it starts the terminal UI. `serve` exposes the same
// engine over HTTP and WebSocket, `apply` transcribes text from arguments or
// stdin and `list` prints the rule sets of a rules file.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/rules"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
	rulesPath  string
	ruleset    string
	dialect    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "livescribe [rules-file]",
		Short: "Live text transcription with regular expression rule sets",
		Long: `livescribe transcribes text as you type it. A rules file holds one or more
named rule sets, each an ordered list of "pattern": "replacement" pairs that
are applied one after the other.

Run without a subcommand to start the terminal UI. When no rules file is
given, a file picker asks for one.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				g.rulesPath = args[0]
			}
			return runUI(cmd, g)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "path to the YAML configuration file")
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file with LIVESCRIBE_* overrides")
	pf.StringVarP(&g.rulesPath, "rules", "f", "", "rules file (overrides rules.path)")
	pf.StringVarP(&g.ruleset, "ruleset", "r", "", "preferred rule set (overrides rules.default)")
	pf.StringVar(&g.dialect, "dialect", "", "pattern dialect: re2 or regexp2 (overrides rules.dialect)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides log_level)")

	root.AddCommand(newServeCmd(g), newApplyCmd(g), newListCmd(g))
	return root
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then environment variables, then command line flags.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(g.envFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found", g.configPath)
			}
			return nil, err
		}
		cfg = loaded
	}
	if err := g.override(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// override applies environment variables and flags to cfg. It is also used
// for configs reloaded while serving, so flags keep precedence.
func (g *globalFlags) override(cfg *config.Config) error {
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return err
	}
	if g.rulesPath != "" {
		cfg.Rules.Path = g.rulesPath
	}
	if g.ruleset != "" {
		cfg.Rules.Default = g.ruleset
	}
	if g.dialect != "" {
		cfg.Rules.Dialect = rules.Dialect(strings.ToLower(g.dialect))
	}
	if g.logLevel != "" {
		cfg.LogLevel = config.LogLevel(strings.ToLower(g.logLevel))
	}
	return config.Validate(cfg)
}

// newRegistry returns a registry configured from cfg, loaded when a rules
// file is set.
func newRegistry(cfg *config.Config, log *slog.Logger) (*rules.Registry, error) {
	reg := rules.NewRegistry(
		rules.WithRegistryDialect(cfg.Rules.Dialect),
		rules.WithDefault(cfg.Rules.Default),
		rules.WithLogger(log),
	)
	if cfg.Rules.Path == "" {
		return reg, nil
	}
	if err := reg.Load(cfg.Rules.Path); err != nil {
		return nil, err
	}
	return reg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openLogFile opens path for appending. An empty path yields a nil writer.
func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

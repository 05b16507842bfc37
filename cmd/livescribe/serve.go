package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
)

type serveFlags struct {
	addr  string
	watch bool
}

// apply lets serve flags win over the file, also for reloaded configs.
func (f *serveFlags) apply(cfg *config.Config) error {
	if f.addr != "" {
		cfg.Server.ListenAddr = f.addr
	}
	if f.watch {
		cfg.Rules.Watch = true
	}
	return config.Validate(cfg)
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve transcription over HTTP and WebSocket",
		Long: `serve exposes the transcription engine over HTTP.

  GET  /api/rulesets    list rule sets and the selection
  PUT  /api/selection   select a rule set
  POST /api/reload      reload the rules file
  POST /api/transcribe  transcribe a text
  GET  /ws              live session, one worker per connection
  GET  /metrics         Prometheus metrics
  GET  /healthz         liveness probe
  GET  /readyz          readiness probe

When --config is given, edits to the config file are applied while running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (overrides server.listen_addr)")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "reload the rules file when it changes")
	return cmd
}

func runServe(ctx context.Context, g *globalFlags, f *serveFlags) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if err := f.apply(cfg); err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var out io.Writer = os.Stderr
	logFile, err := openLogFile(cfg.LogFile)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
		out = io.MultiWriter(os.Stderr, logFile)
	}
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.Level())
	slog.SetDefault(newLogger(out, level))

	slog.Info("livescribe starting",
		"version", version,
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLevelVar(level)}
	if g.configPath != "" {
		opts = append(opts, app.WithConfigWatch(g.configPath, func(c *config.Config) error {
			if err := g.override(c); err != nil {
				return err
			}
			return f.apply(c)
		}))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

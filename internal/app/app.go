// Package app wires the livescribe server subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New loads the rules and builds all
// subsystems, Run serves HTTP and watches files, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/filewatch"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/server"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of `livescribe serve`.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	reg        *rules.Registry
	srv        *server.Server
	httpSrv    *http.Server
	rulesWatch *filewatch.Watcher
	cfgWatch   *config.Watcher
	metrics    *observe.Metrics

	// Injected through options.
	configPath string
	overrides  func(*config.Config) error
	level      *slog.LevelVar
	listener   net.Listener
	serverOpts []server.Option

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics sink. The OpenTelemetry provider setup is
// skipped when one is given.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigWatch watches the config file at path and applies changes that
// do not need a restart. overrides, when non-nil, is applied to every
// reloaded config, usually to keep environment variables in force.
func WithConfigWatch(path string, overrides func(*config.Config) error) Option {
	return func(a *App) {
		a.configPath = path
		a.overrides = overrides
	}
}

// WithLevelVar lets config reloads change the log level of the handler that
// reads lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithServerOptions passes extra options to the HTTP server.
func WithServerOptions(opts ...server.Option) Option {
	return func(a *App) { a.serverOpts = append(a.serverOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. A configured rules
// file must compile; a missing rules.path starts the server with an empty
// table that passes text through unchanged.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// 1. Telemetry.
	if a.metrics == nil {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			RulesPath:    cfg.Rules.Path,
			RulesDialect: string(cfg.Rules.Dialect),
		})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return shutdown(sctx)
		})
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: create metrics: %w", err)
		}
		a.metrics = m
	}

	// 2. Shared rules registry.
	a.reg = rules.NewRegistry(
		rules.WithRegistryDialect(cfg.Rules.Dialect),
		rules.WithDefault(cfg.Rules.Default),
	)
	if cfg.Rules.Path != "" {
		start := time.Now()
		if err := a.reg.Load(cfg.Rules.Path); err != nil {
			a.metrics.RecordReload(ctx, "error", time.Since(start), 0)
			return nil, fmt.Errorf("app: load rules: %w", err)
		}
		a.metrics.RecordReload(ctx, "ok", time.Since(start), a.reg.Len())
	}

	// 3. HTTP server.
	sopts := append([]server.Option{
		server.WithMetrics(a.metrics),
		server.WithStatusHold(cfg.Status.Hold),
		server.WithMaxMessageBytes(cfg.Server.MaxMessageBytes),
		server.WithDialect(cfg.Rules.Dialect),
		server.WithDefault(cfg.Rules.Default),
	}, a.serverOpts...)
	a.srv = server.New(a.reg, sopts...)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.closers = append(a.closers, a.srv.Close)

	// 4. Rules file watcher.
	if cfg.Rules.Watch {
		fw, err := filewatch.New(cfg.Rules.Path, a.onRulesChanged)
		if err != nil {
			return nil, fmt.Errorf("app: watch rules: %w", err)
		}
		a.rulesWatch = fw
		a.closers = append(a.closers, fw.Close)
	}

	// 5. Config file watcher.
	if a.configPath != "" {
		cw, err := config.NewWatcher(a.configPath, a.onConfigChanged, config.WithOverrides(a.overrides))
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.cfgWatch = cw
		a.closers = append(a.closers, cw.Close)
	}

	slog.Info("app initialised",
		"rules", cfg.Rules.Path,
		"rulesets", a.reg.Len(),
		"selected", a.reg.Selected(),
		"watch", cfg.Rules.Watch,
	)
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Registry returns the shared rules registry used by the JSON API.
func (a *App) Registry() *rules.Registry {
	return a.reg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and watches the rules and config files until ctx is
// cancelled or a subsystem fails. On cancellation the HTTP server is shut
// down gracefully within server.shutdown_timeout and Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if a.listener != nil {
			slog.Info("http server listening", "addr", a.listener.Addr().String())
			err = a.httpSrv.Serve(a.listener)
		} else {
			slog.Info("http server listening", "addr", a.httpSrv.Addr)
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		a.srv.Close()
		if err := a.httpSrv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	if a.rulesWatch != nil {
		g.Go(func() error { return a.rulesWatch.Run(gctx) })
	}
	if a.cfgWatch != nil {
		g.Go(func() error { return a.cfgWatch.Run(gctx) })
	}

	slog.Info("app running")
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// onRulesChanged reloads the shared table after the rules file changed on
// disk and asks every live session to follow.
func (a *App) onRulesChanged([]byte) {
	start := time.Now()
	if err := a.reg.Reload(); err != nil {
		a.metrics.RecordReload(context.Background(), "error", time.Since(start), 0)
		slog.Warn("rules changed on disk but failed to load, keeping previous table", "err", err)
		return
	}
	a.metrics.RecordReload(context.Background(), "ok", time.Since(start), a.reg.Len())
	a.srv.ReloadSessions()
	slog.Info("rules reloaded after file change", "path", a.reg.Path(), "rulesets", a.reg.Len())
}

// onConfigChanged applies the parts of a reloaded config that take effect
// without a restart.
func (a *App) onConfigChanged(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level change ignored, logger has a fixed level", "level", d.NewLogLevel)
		}
	}
	if d.DefaultRulesetChanged {
		a.srv.SetDefault(d.NewDefaultRuleset)
		slog.Info("default ruleset changed", "ruleset", d.NewDefaultRuleset)
	}
	if d.RulesPathChanged {
		switch {
		case d.NewRulesPath == "":
			slog.Warn("rules.path removed, keeping the loaded rules until restart")
		default:
			if err := a.srv.SwitchRules(d.NewRulesPath); err != nil {
				slog.Warn("switching rules file failed, keeping previous table", "path", d.NewRulesPath, "err", err)
			} else {
				slog.Info("rules file switched", "path", d.NewRulesPath)
			}
			if a.rulesWatch != nil {
				slog.Warn("rules watcher keeps following the previous file until restart", "path", a.rulesWatch.Path())
			}
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "settings", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

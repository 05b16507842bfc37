package main

import (
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livescribe/internal/tui"
)

// runUI starts the terminal UI. The UI owns the terminal, so logs go to
// log_file or nowhere.
func runUI(cmd *cobra.Command, g *globalFlags) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	var out io.Writer = io.Discard
	logFile, err := openLogFile(cfg.LogFile)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
		out = logFile
	}
	logger := newLogger(out, cfg.LogLevel.Level())
	slog.SetDefault(logger)

	reg, err := newRegistry(cfg, logger)
	if err != nil {
		return err
	}

	// ctrl+c reaches the UI as a key press, so only SIGTERM cancels.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	startDir := "."
	if cfg.Rules.Path != "" {
		startDir = filepath.Dir(cfg.Rules.Path)
	}
	slog.Info("livescribe ui starting", "rules", cfg.Rules.Path, "rulesets", reg.Len())
	return tui.Run(ctx, reg, tui.Config{
		Hold:       cfg.Status.Hold,
		AskForFile: cfg.Rules.Path == "",
		StartDir:   startDir,
		Watch:      cfg.Rules.Watch,
		Logger:     logger,
	})
}

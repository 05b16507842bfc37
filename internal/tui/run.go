package tui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/filewatch"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/worker"
)

// Bridge returns a subscriber that forwards worker callbacks to send,
// typically [tea.Program.Send].
func Bridge(send func(tea.Msg)) worker.Funcs {
	return worker.Funcs{
		OnTranscribed: func(text string) {
			send(transcribedMsg{text: text})
		},
		OnStatus: func(s worker.Status) {
			send(statusMsg{status: s})
		},
		OnRulesetsChanged: func(names []string, selected string) {
			send(rulesetsMsg{names: names, selected: selected})
		},
	}
}

// Config configures [Run].
type Config struct {
	// Hold is the display time of status messages. Zero means
	// [worker.DefaultStatusHold].
	Hold time.Duration

	// AskForFile opens the file picker in StartDir before editing starts.
	AskForFile bool
	StartDir   string

	// Watch reloads the rules whenever the file loaded at start changes on
	// disk. It has no effect when reg has no rules file yet.
	Watch bool

	Logger  *slog.Logger
	Metrics *observe.Metrics

	// ProgramOptions are appended to the defaults, e.g. to redirect input
	// and output.
	ProgramOptions []tea.ProgramOption
}

// Run starts a worker on reg and runs the UI until the user quits or ctx is
// cancelled. The worker has stopped when Run returns.
func Run(ctx context.Context, reg *rules.Registry, cfg Config) error {
	var p *tea.Program
	wk := worker.New(reg, Bridge(func(msg tea.Msg) { p.Send(msg) }),
		worker.WithLogger(cfg.Logger),
		worker.WithMetrics(cfg.Metrics),
		worker.WithStatusHold(cfg.Hold),
	)

	var opts []Option
	if cfg.AskForFile {
		opts = append(opts, WithFilePicker(cfg.StartDir))
	}
	opts = append(opts, WithStatusHold(cfg.Hold))

	p = tea.NewProgram(New(wk, opts...),
		append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, cfg.ProgramOptions...)...,
	)

	var fw *filewatch.Watcher
	if cfg.Watch && reg.Path() != "" {
		var err error
		fw, err = filewatch.New(reg.Path(), func([]byte) { wk.RequestReload() },
			filewatch.WithLogger(cfg.Logger))
		if err != nil {
			return fmt.Errorf("tui: watch rules: %w", err)
		}
		defer fw.Close()
	}

	wctx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	var g errgroup.Group
	if fw != nil {
		g.Go(func() error { return fw.Run(wctx) })
	}

	wk.Start(ctx)
	_, err := p.Run()

	stopWatch()
	_ = g.Wait()

	// The worker may still run when the program ended for another reason
	// than the quit key.
	wk.RequestExit(nil)
	<-wk.Done()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

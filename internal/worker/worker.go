// Package worker runs rule set transcription on a dedicated goroutine.
//
// A [Worker] serializes transcription and reload requests against one
// [rules.Registry]. Front ends never block on it: requests are written into
// single-value slots and the worker is woken through a capacity-1 channel.
// A new transcription request overwrites one that has not been picked up
// yet, so a burst of keystrokes produces a single result for the latest
// text.
//
// Each loop cycle handles exactly one intent, chosen in this order:
//
//  1. exit (an explicit [Worker.RequestExit] or a cancelled context)
//  2. the pending transcription
//  3. the pending reload
//  4. announcing a table installed by [Worker.LoadRuleset]
//
// Transcription wins over reload when both are pending, so the text the
// user just typed is rendered with the rule set it was typed against.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/transcript"
)

// ErrAlreadyStarted is returned by [Worker.Run] when the worker loop is
// already running or has run before.
var ErrAlreadyStarted = errors.New("worker: already started")

// Option configures a [Worker].
type Option func(*Worker)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithStatusHold sets the suggested display time attached to status
// messages. Non-positive values are ignored.
func WithStatusHold(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.hold = d
		}
	}
}

type intentKind int

const (
	intentNone intentKind = iota
	intentExit
	intentTranscribe
	intentReload
	intentAnnounce
)

type intent struct {
	kind intentKind
	text string
}

// Worker applies the selected rule set to submitted text on its own
// goroutine. All exported methods are safe for concurrent use.
type Worker struct {
	reg     *rules.Registry
	sub     Subscriber
	log     *slog.Logger
	metrics *observe.Metrics
	hold    time.Duration

	mu       sync.Mutex
	text     string
	hasText  bool
	reload   bool
	announce string
	exit     bool
	onExit   func()

	wake    chan struct{}
	done    chan struct{}
	state   atomic.Int32
	started atomic.Bool
}

// New returns a worker bound to reg that reports to sub. The worker owns reg
// from now on; it must not be shared with another worker.
func New(reg *rules.Registry, sub Subscriber, opts ...Option) *Worker {
	w := &Worker{
		reg:  reg,
		sub:  sub,
		log:  slog.Default(),
		hold: DefaultStatusHold,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Start runs the worker loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		if err := w.Run(ctx); err != nil {
			w.log.Error("worker: loop did not start", "err", err)
		}
	}()
}

// Run executes the worker loop until exit is requested or ctx is cancelled.
// It returns [ErrAlreadyStarted] when called more than once.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	mctx := context.WithoutCancel(ctx)
	w.metrics.ActiveWorkers.Add(mctx, 1)
	defer w.metrics.ActiveWorkers.Add(mctx, -1)

	w.log.Debug("worker: started")
	for {
		in := w.next(ctx)
		switch in.kind {
		case intentExit:
			w.finish()
			return nil
		case intentTranscribe:
			w.transcribe(mctx, in.text)
		case intentReload:
			w.reloadTable(mctx)
		case intentAnnounce:
			w.announceTable(in.text)
		}
		w.state.Store(int32(Idle))
	}
}

// Done is closed once the loop has stopped and the exit callback returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// State reports what the worker loop is currently doing.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// SubmitTranscription requests that text be transcribed. An earlier request
// that the worker has not picked up yet is discarded.
func (w *Worker) SubmitTranscription(text string) {
	w.mu.Lock()
	coalesced := w.hasText
	w.text, w.hasText = text, true
	w.mu.Unlock()

	if coalesced {
		w.metrics.CoalescedRequests.Add(context.Background(), 1)
	}
	w.poke()
}

// RequestReload asks the worker to recompile the current rules file.
func (w *Worker) RequestReload() {
	w.mu.Lock()
	w.reload = true
	w.mu.Unlock()
	w.poke()
}

// RequestExit asks the loop to stop before its next cycle. A request already
// being processed is finished first. onExit, when non-nil, replaces any
// earlier callback and runs on the worker goroutine after the loop stopped.
// If the worker has already exited, onExit runs immediately.
func (w *Worker) RequestExit(onExit func()) {
	w.mu.Lock()
	if w.State() == Exited {
		w.mu.Unlock()
		if onExit != nil {
			onExit()
		}
		return
	}
	w.exit = true
	if onExit != nil {
		w.onExit = onExit
	}
	w.mu.Unlock()
	w.poke()
}

// Select makes name the active rule set for subsequent transcriptions. A
// transcription already in progress keeps the rule set it started with.
func (w *Worker) Select(name string) error {
	if err := w.reg.Select(name); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	w.log.Debug("worker: ruleset selected", "ruleset", name)
	return nil
}

// Names returns the available rule set names in sorted order.
func (w *Worker) Names() []string {
	return w.reg.Names()
}

// Selected returns the active rule set name, or "" when none is selected.
func (w *Worker) Selected() string {
	return w.reg.Selected()
}

// Path returns the rules file currently in use.
func (w *Worker) Path() string {
	return w.reg.Path()
}

// LoadRuleset compiles the rules file at path and installs it. Compile errors
// are returned to the caller and leave the current table in place. On
// success the new names are announced to the subscriber through the loop,
// after any transcription or reload that is already pending.
func (w *Worker) LoadRuleset(path string) error {
	ctx := context.Background()
	start := time.Now()
	if err := w.reg.Load(path); err != nil {
		w.metrics.RecordReload(ctx, "error", time.Since(start), 0)
		return fmt.Errorf("worker: load %q: %w", path, err)
	}
	w.metrics.RecordReload(ctx, "ok", time.Since(start), w.reg.Len())
	w.mu.Lock()
	w.announce = path
	w.mu.Unlock()
	w.poke()
	return nil
}

// poke wakes the loop without blocking. One buffered token is enough since
// the loop drains every pending slot before it sleeps again.
func (w *Worker) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next blocks until an intent is available and claims it.
func (w *Worker) next(ctx context.Context) intent {
	for {
		if ctx.Err() != nil {
			return intent{kind: intentExit}
		}
		if in := w.take(); in.kind != intentNone {
			return in
		}
		select {
		case <-ctx.Done():
		case <-w.wake:
		}
	}
}

// take claims the highest-priority pending intent and clears its slot.
func (w *Worker) take() intent {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.exit:
		return intent{kind: intentExit}
	case w.hasText:
		text := w.text
		w.text, w.hasText = "", false
		w.state.Store(int32(ApplyingRules))
		return intent{kind: intentTranscribe, text: text}
	case w.reload:
		w.reload = false
		w.state.Store(int32(ReloadingTable))
		return intent{kind: intentReload}
	case w.announce != "":
		path := w.announce
		w.announce = ""
		return intent{kind: intentAnnounce, text: path}
	}
	return intent{}
}

func (w *Worker) transcribe(ctx context.Context, text string) {
	start := time.Now()
	rs, ok := w.reg.Current()
	if !ok {
		w.sub.Transcribed(text)
		w.metrics.RecordTranscription(ctx, "", "passthrough", time.Since(start))
		w.status("no ruleset selected, text left unchanged", nil)
		return
	}

	_, span := observe.StartSpan(ctx, "worker.transcribe")
	span.SetAttributes(observe.Attr("ruleset", rs.Name))
	out := transcript.Apply(text, rs.Rules)
	span.End()

	w.sub.Transcribed(out)
	w.metrics.RecordTranscription(ctx, rs.Name, "ok", time.Since(start))
	w.log.Debug("worker: transcription finished", "ruleset", rs.Name, "runes", len([]rune(text)))
	w.status(fmt.Sprintf("transcription (%s) finished", rs.Name), nil)
}

func (w *Worker) reloadTable(ctx context.Context) {
	w.status(fmt.Sprintf("reloading conversion table (%s@%s)", w.reg.Selected(), w.reg.Path()), nil)

	start := time.Now()
	_, span := observe.StartSpan(ctx, "worker.reload")
	err := w.reg.Reload()
	observe.EndSpan(span, err)

	if err != nil {
		w.metrics.RecordReload(ctx, "error", time.Since(start), 0)
		w.log.Warn("worker: reload failed", "path", w.reg.Path(), "err", err)
		w.status("reloading conversion table failed: "+err.Error(), err)
		return
	}

	names, selected := w.reg.Snapshot()
	w.metrics.RecordReload(ctx, "ok", time.Since(start), len(names))
	w.sub.RulesetsChanged(names, selected)
	w.status("reloading conversion table finished.", nil)
}

func (w *Worker) announceTable(path string) {
	names, selected := w.reg.Snapshot()
	w.sub.RulesetsChanged(names, selected)
	w.status(fmt.Sprintf("loaded %d rulesets from %s", len(names), path), nil)
}

func (w *Worker) status(msg string, err error) {
	w.sub.Status(Status{Message: msg, Hold: w.hold, Err: err})
}

// finish marks the worker exited and runs the exit callback.
func (w *Worker) finish() {
	w.mu.Lock()
	w.state.Store(int32(Exited))
	onExit := w.onExit
	w.onExit = nil
	w.mu.Unlock()

	w.log.Debug("worker: exited")
	if onExit != nil {
		onExit()
	}
	close(w.done)
}

// Package server exposes livescribe over HTTP.
//
// The JSON API under /api works on one shared [rules.Registry]:
//
//	GET  /api/rulesets     names, selection and rules file
//	PUT  /api/selection    select a rule set
//	POST /api/reload       recompile the rules file
//	POST /api/transcribe   transcribe a text, optionally with a rule trace
//
// GET /ws upgrades to a WebSocket live session. Every session owns its own
// registry and [worker.Worker], so typing in one session never races with
// selection changes in another. The probe endpoints /healthz and /readyz and
// the Prometheus endpoint /metrics complete the surface.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/worker"
)

// DefaultMaxMessageBytes bounds request bodies and inbound WebSocket
// messages unless [WithMaxMessageBytes] says otherwise.
const DefaultMaxMessageBytes = 1 << 20

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStatusHold sets the display hold attached to live session status
// messages.
func WithStatusHold(d time.Duration) Option {
	return func(s *Server) {
		s.hold = d
	}
}

// WithMaxMessageBytes limits request bodies and inbound WebSocket messages.
// Non-positive values are ignored.
func WithMaxMessageBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithDialect sets the pattern dialect for live session registries.
func WithDialect(d rules.Dialect) Option {
	return func(s *Server) {
		s.dialect = d
	}
}

// WithDefault sets the preferred rule set for live session registries.
func WithDefault(name string) Option {
	return func(s *Server) {
		s.preferred = name
	}
}

// WithOriginPatterns allows cross-origin WebSocket upgrades from hosts
// matching the given patterns. Same-origin requests are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.origins = append(s.origins, patterns...)
	}
}

// WithCheckers adds readiness checks next to the built-in rules check.
func WithCheckers(checkers ...health.Checker) Option {
	return func(s *Server) {
		s.checkers = append(s.checkers, checkers...)
	}
}

// WithMetricsHandler replaces the /metrics handler. Defaults to
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metricsHandler = h
		}
	}
}

// Server serves the JSON API and live sessions. All exported methods are
// safe for concurrent use.
type Server struct {
	reg            *rules.Registry
	log            *slog.Logger
	metrics        *observe.Metrics
	hold           time.Duration
	maxBytes       int64
	dialect        rules.Dialect
	origins        []string
	checkers       []health.Checker
	metricsHandler http.Handler

	mu        sync.Mutex
	preferred string
	sessions  map[string]*session

	handler http.Handler
}

// New returns a server for the shared registry reg.
func New(reg *rules.Registry, opts ...Option) *Server {
	s := &Server{
		reg:      reg,
		log:      slog.Default(),
		hold:     worker.DefaultStatusHold,
		maxBytes: DefaultMaxMessageBytes,
		dialect:  rules.DialectRE2,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/rulesets", s.handleRulesets)
	mux.HandleFunc("PUT /api/selection", s.handleSelect)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /ws", s.handleLive)
	mux.Handle("GET /metrics", s.metricsHandler)
	health.New(append([]health.Checker{health.RulesLoaded(reg)}, s.checkers...)...).Register(mux)

	s.handler = observe.Middleware(s.metrics,
		observe.WithQuietPaths("/healthz", "/readyz", "/metrics"),
	)(mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the number of connected live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ReloadSessions asks every live session to recompile its rules file. Each
// session reports the outcome to its own client.
func (s *Server) ReloadSessions() {
	for _, sess := range s.snapshot() {
		sess.worker.RequestReload()
	}
}

// SwitchRules loads the rules file at path into the shared registry and, on
// success, into every live session. A failed load leaves all tables as they
// were.
func (s *Server) SwitchRules(path string) error {
	start := time.Now()
	if err := s.reg.Load(path); err != nil {
		s.metrics.RecordReload(context.Background(), "error", time.Since(start), 0)
		return err
	}
	s.metrics.RecordReload(context.Background(), "ok", time.Since(start), s.reg.Len())

	for _, sess := range s.snapshot() {
		if err := sess.worker.LoadRuleset(path); err != nil {
			s.log.Warn("server: session kept its previous rules", "session_id", sess.id, "err", err)
		}
	}
	return nil
}

// SetDefault changes the preferred rule set of the shared registry, of every
// live session and of sessions connecting later.
func (s *Server) SetDefault(name string) {
	s.mu.Lock()
	s.preferred = name
	s.mu.Unlock()

	s.reg.SetDefault(name)
	for _, sess := range s.snapshot() {
		sess.reg.SetDefault(name)
	}
}

// Close ends every live session. Sessions also end on their own when the
// request context of their upgrade is cancelled.
func (s *Server) Close() error {
	for _, sess := range s.snapshot() {
		sess.cancel()
	}
	return nil
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) add(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(context.Background(), 1)
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(context.Background(), -1)
}

func (s *Server) defaultRuleset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferred
}

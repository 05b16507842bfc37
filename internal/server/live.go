package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/worker"
)

// eventBuffer decouples the worker from slow clients for short bursts.
const eventBuffer = 32

// Client message types.
const (
	MsgText   = "text"
	MsgSelect = "select"
	MsgReload = "reload"
)

// Server message types.
const (
	MsgSession       = "session"
	MsgTranscription = "transcription"
	MsgStatus        = "status"
	MsgRulesets      = "rulesets"
)

// ClientMessage is a message sent by a live session client.
type ClientMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Ruleset string `json:"ruleset,omitempty"`
}

// ServerMessage is a message sent to a live session client. Which fields are
// set depends on Type.
type ServerMessage struct {
	Type string `json:"type"`

	// MsgSession
	SessionID string `json:"session_id,omitempty"`

	// MsgTranscription
	Text string `json:"text,omitempty"`

	// MsgStatus
	Message string `json:"message,omitempty"`
	HoldMS  int64  `json:"hold_ms,omitempty"`
	Error   string `json:"error,omitempty"`

	// MsgRulesets
	Names    []string `json:"names,omitempty"`
	Selected string   `json:"selected,omitempty"`
}

// session is one connected live client.
type session struct {
	id     string
	reg    *rules.Registry
	worker *worker.Worker
	cancel context.CancelFunc

	// lastText is only touched by the read loop.
	lastText string
	hasText  bool
}

// handleLive upgrades the request and runs a live session until the client
// disconnects or the server shuts down.
//
// Protocol: the server greets with a session message, followed by the
// rulesets of the session. The client sends text, select and reload
// messages; the server answers with transcription, status and rulesets
// messages in the order the session worker produced them.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.log.Warn("server: websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.maxBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	log := observe.WithTrace(r.Context(), s.log).With("session_id", id)
	reg := rules.NewRegistry(
		rules.WithRegistryDialect(s.dialect),
		rules.WithDefault(s.defaultRuleset()),
		rules.WithLogger(log),
	)
	events := make(chan worker.Event, eventBuffer)
	wk := worker.New(reg, worker.Channels(events),
		worker.WithLogger(log),
		worker.WithMetrics(s.metrics),
		worker.WithStatusHold(s.hold),
	)
	sess := &session{id: id, reg: reg, worker: wk, cancel: cancel}

	// A successful load is announced by the worker once it runs.
	path := s.reg.Path()
	switch {
	case path == "":
		events <- worker.Event{Kind: worker.EventRulesetsChanged}
		events <- s.statusEvent("no rules file loaded, text is left unchanged", rules.ErrNoRulesFile)
	default:
		if err := wk.LoadRuleset(path); err != nil {
			events <- worker.Event{Kind: worker.EventRulesetsChanged}
			events <- s.statusEvent("loading rules failed: "+err.Error(), err)
		}
	}

	s.add(sess)
	defer s.remove(id)

	if err := wsjson.Write(ctx, conn, ServerMessage{Type: MsgSession, SessionID: id}); err != nil {
		log.Warn("server: live session greeting failed", "err", err)
		return
	}
	log.Info("server: live session started", "remote", r.RemoteAddr)

	var g errgroup.Group
	g.Go(func() error { return wk.Run(ctx) })
	g.Go(func() error {
		s.writeEvents(ctx, conn, events, wk.Done(), cancel)
		return nil
	})

	err = s.readMessages(ctx, conn, sess, events)
	cancel()
	if werr := g.Wait(); werr != nil {
		log.Error("server: live session worker failed", "err", werr)
	}

	switch {
	case websocket.CloseStatus(err) != -1:
		log.Info("server: live session closed by client", "code", websocket.CloseStatus(err))
	case ctx.Err() != nil:
		log.Info("server: live session ended")
	default:
		log.Warn("server: live session read failed", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readMessages dispatches client messages until reading fails. Every send to
// events happens before the worker is told to exit, so the writer is still
// draining the channel.
func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, sess *session, events chan<- worker.Event) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !emit(ctx, events, s.statusEvent("invalid message: "+err.Error(), err)) {
				return ctx.Err()
			}
			continue
		}

		switch msg.Type {
		case MsgText:
			sess.lastText, sess.hasText = msg.Text, true
			sess.worker.SubmitTranscription(msg.Text)
		case MsgSelect:
			if err := sess.worker.Select(msg.Ruleset); err != nil {
				if !emit(ctx, events, s.statusEvent(err.Error(), err)) {
					return ctx.Err()
				}
				continue
			}
			names, selected := sess.reg.Snapshot()
			if !emit(ctx, events, worker.Event{Kind: worker.EventRulesetsChanged, Names: names, Selected: selected}) {
				return ctx.Err()
			}
			// Re-render the text the client already has with the new rule set.
			if sess.hasText {
				sess.worker.SubmitTranscription(sess.lastText)
			}
		case MsgReload:
			sess.worker.RequestReload()
		default:
			err := fmt.Errorf("server: unknown message type %q", msg.Type)
			if !emit(ctx, events, s.statusEvent(err.Error(), err)) {
				return ctx.Err()
			}
		}
	}
}

// emit queues ev for the writer. It gives up when ctx ends, since the writer
// may be gone by then.
func emit(ctx context.Context, events chan<- worker.Event, ev worker.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeEvents forwards events to the client until the worker has exited. A
// failed write ends the session but events keep being drained so the worker
// never blocks on a dead connection.
func (s *Server) writeEvents(ctx context.Context, conn *websocket.Conn, events <-chan worker.Event, done <-chan struct{}, cancel context.CancelFunc) {
	failed := false
	for {
		select {
		case ev := <-events:
			if failed {
				continue
			}
			if err := wsjson.Write(ctx, conn, toMessage(ev)); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Debug("server: live session write failed", "err", err)
				}
				failed = true
				cancel()
			}
		case <-done:
			return
		}
	}
}

func (s *Server) statusEvent(msg string, err error) worker.Event {
	return worker.Event{Kind: worker.EventStatus, Status: worker.Status{Message: msg, Hold: s.hold, Err: err}}
}

func toMessage(ev worker.Event) ServerMessage {
	switch ev.Kind {
	case worker.EventTranscribed:
		return ServerMessage{Type: MsgTranscription, Text: ev.Text}
	case worker.EventRulesetsChanged:
		return ServerMessage{Type: MsgRulesets, Names: ev.Names, Selected: ev.Selected}
	default:
		msg := ServerMessage{
			Type:    MsgStatus,
			Message: ev.Status.Message,
			HoldMS:  ev.Status.Hold.Milliseconds(),
		}
		if ev.Status.Err != nil {
			msg.Error = ev.Status.Err.Error()
		}
		return msg
	}
}

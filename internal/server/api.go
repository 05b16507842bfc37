package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/transcript"
)

// RulesetsResponse is the body of GET /api/rulesets and of successful
// selection and reload calls.
type RulesetsResponse struct {
	Names    []string `json:"names"`
	Selected string   `json:"selected"`
	Path     string   `json:"path,omitempty"`
}

// SelectRequest is the body of PUT /api/selection.
type SelectRequest struct {
	Ruleset string `json:"ruleset"`
}

// TranscribeRequest is the body of POST /api/transcribe. Ruleset overrides
// the shared selection for this request only.
type TranscribeRequest struct {
	Text    string `json:"text"`
	Ruleset string `json:"ruleset,omitempty"`
	Trace   bool   `json:"trace,omitempty"`
}

// TranscribeResponse is the result of POST /api/transcribe. Ruleset is empty
// when no rule set was available and the text passed through unchanged.
type TranscribeResponse struct {
	Text    string      `json:"text"`
	Ruleset string      `json:"ruleset"`
	Steps   []TraceStep `json:"steps,omitempty"`
}

// TraceStep reports what one rule did during a traced transcription.
type TraceStep struct {
	Index       int    `json:"index"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Before      string `json:"before"`
	After       string `json:"after"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (s *Server) rulesets() RulesetsResponse {
	names, selected := s.reg.Snapshot()
	if names == nil {
		names = []string{}
	}
	return RulesetsResponse{Names: names, Selected: selected, Path: s.reg.Path()}
}

func (s *Server) handleRulesets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rulesets())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if !s.decode(w, r, &req) {
		return
	}
	log := observe.WithTrace(r.Context(), s.log)
	if err := s.reg.Select(req.Ruleset); err != nil {
		log.Debug("server: select rejected", "ruleset", req.Ruleset, "err", err)
		writeError(w, err)
		return
	}
	log.Info("server: ruleset selected", "ruleset", req.Ruleset)
	writeJSON(w, http.StatusOK, s.rulesets())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	log := observe.WithTrace(r.Context(), s.log)
	start := time.Now()
	if err := s.reg.Reload(); err != nil {
		s.metrics.RecordReload(r.Context(), "error", time.Since(start), 0)
		log.Warn("server: reload failed", "path", s.reg.Path(), "err", err)
		writeError(w, err)
		return
	}
	s.metrics.RecordReload(r.Context(), "ok", time.Since(start), s.reg.Len())
	log.Info("server: rules reloaded", "path", s.reg.Path(), "rulesets", s.reg.Len())
	s.ReloadSessions()
	writeJSON(w, http.StatusOK, s.rulesets())
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		rs *rules.RuleSet
		ok bool
	)
	if req.Ruleset != "" {
		if rs, ok = s.reg.Lookup(req.Ruleset); !ok {
			writeError(w, &rules.UnknownRuleSetError{Name: req.Ruleset})
			return
		}
	} else {
		rs, ok = s.reg.Current()
	}
	if !ok {
		s.metrics.RecordTranscription(r.Context(), "", "passthrough", 0)
		writeJSON(w, http.StatusOK, TranscribeResponse{Text: req.Text})
		return
	}

	_, span := observe.StartSpan(r.Context(), "server.transcribe")
	span.SetAttributes(observe.Attr("ruleset", rs.Name))
	start := time.Now()
	resp := TranscribeResponse{Ruleset: rs.Name}
	if req.Trace {
		var steps []transcript.Step
		resp.Text, steps = transcript.Trace(req.Text, rs.Rules)
		for _, st := range steps {
			resp.Steps = append(resp.Steps, TraceStep{
				Index:       st.Index,
				Pattern:     st.Pattern,
				Replacement: st.Replacement,
				Before:      st.Before,
				After:       st.After,
			})
		}
	} else {
		resp.Text = transcript.Apply(req.Text, rs.Rules)
	}
	elapsed := time.Since(start)
	s.metrics.RecordTranscription(r.Context(), rs.Name, "ok", elapsed)
	observe.WithTrace(r.Context(), s.log).Debug("server: transcribed",
		"ruleset", rs.Name, "runes", len([]rune(req.Text)), "trace", req.Trace, "elapsed", elapsed)
	span.End()

	writeJSON(w, http.StatusOK, resp)
}

// decode reads a size-limited JSON body into v. It writes the error response
// and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps rules errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		unknown   *rules.UnknownRuleSetError
		malformed *rules.MalformedRulesError
		invalid   *rules.InvalidPatternError
	)
	switch {
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Suggestion: unknown.Suggestion})
	case errors.Is(err, rules.ErrNoRulesFile):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.As(err, &malformed), errors.As(err, &invalid), errors.Is(err, fs.ErrNotExist):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

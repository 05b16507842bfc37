package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/rules"
	"github.com/MrWong99/livescribe/internal/server"
)

const testRules = `
name: upper
rules:
  - "a": "A"
---
name: double
rules:
  - "a": "b"
  - "b": "c"
`

func writeRules(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newServer starts a test server. When content is non-empty the shared
// registry is loaded from a rules file holding it, whose path is returned.
func newServer(t *testing.T, content string, opts ...server.Option) (*server.Server, *httptest.Server, string) {
	t.Helper()
	reg := rules.NewRegistry()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if content != "" {
		writeRules(t, path, content)
		if err := reg.Load(path); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	opts = append([]server.Option{
		server.WithMetrics(testMetrics(t)),
		server.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		})),
	}, opts...)
	srv := server.New(reg, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts, path
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return v
}

func TestRulesets(t *testing.T) {
	t.Parallel()

	_, ts, path := newServer(t, testRules)
	resp, data := do(t, http.MethodGet, ts.URL+"/api/rulesets", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	got := decode[server.RulesetsResponse](t, data)
	want := server.RulesetsResponse{Names: []string{"double", "upper"}, Selected: "double", Path: path}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rulesets mismatch (-want +got):\n%s", diff)
	}
}

func TestRulesets_EmptyRegistry(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, "")
	_, data := do(t, http.MethodGet, ts.URL+"/api/rulesets", nil)
	if !strings.Contains(string(data), `"names":[]`) {
		t.Errorf("empty registry should report an empty name list, got %s", data)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, testRules)

	resp, data := do(t, http.MethodPut, ts.URL+"/api/selection", server.SelectRequest{Ruleset: "upper"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", resp.StatusCode, data)
	}
	if got := decode[server.RulesetsResponse](t, data).Selected; got != "upper" {
		t.Errorf("Selected: got %q, want %q", got, "upper")
	}

	resp, data = do(t, http.MethodPut, ts.URL+"/api/selection", server.SelectRequest{Ruleset: "uper"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
	if got := decode[server.ErrorResponse](t, data).Suggestion; got != "upper" {
		t.Errorf("Suggestion: got %q, want %q", got, "upper")
	}

	// The failed selection left the previous one in place.
	_, data = do(t, http.MethodGet, ts.URL+"/api/rulesets", nil)
	if got := decode[server.RulesetsResponse](t, data).Selected; got != "upper" {
		t.Errorf("Selected after unknown: got %q, want %q", got, "upper")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, testRules)

	tests := []struct {
		name string
		req  server.TranscribeRequest
		want server.TranscribeResponse
	}{
		{
			name: "selected ruleset chains rules",
			req:  server.TranscribeRequest{Text: "a"},
			want: server.TranscribeResponse{Text: "c", Ruleset: "double"},
		},
		{
			name: "ruleset override",
			req:  server.TranscribeRequest{Text: "banana", Ruleset: "upper"},
			want: server.TranscribeResponse{Text: "bAnAnA", Ruleset: "upper"},
		},
		{
			name: "trace",
			req:  server.TranscribeRequest{Text: "ab", Trace: true},
			want: server.TranscribeResponse{
				Text:    "cc",
				Ruleset: "double",
				Steps: []server.TraceStep{
					{Index: 0, Pattern: "a", Replacement: "b", Before: "ab", After: "bb"},
					{Index: 1, Pattern: "b", Replacement: "c", Before: "bb", After: "cc"},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, data := do(t, http.MethodPost, ts.URL+"/api/transcribe", tt.req)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status: got %d, want 200 (%s)", resp.StatusCode, data)
			}
			got := decode[server.TranscribeResponse](t, data)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranscribe_UnknownRuleset(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, testRules)
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/transcribe", server.TranscribeRequest{Text: "a", Ruleset: "nope"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestTranscribe_PassThroughWithoutRules(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, "")
	resp, data := do(t, http.MethodPost, ts.URL+"/api/transcribe", server.TranscribeRequest{Text: "kana"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if diff := cmp.Diff(server.TranscribeResponse{Text: "kana"}, decode[server.TranscribeResponse](t, data)); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestTranscribe_BadBodies(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, testRules, server.WithMaxMessageBytes(32))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"text":`, http.StatusBadRequest},
		{"unknown field", `{"txt":"a"}`, http.StatusBadRequest},
		{"too large", `{"text":"` + strings.Repeat("a", 64) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, data := do(t, http.MethodPost, ts.URL+"/api/transcribe", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d (%s)", resp.StatusCode, tt.want, data)
			}
			if decode[server.ErrorResponse](t, data).Error == "" {
				t.Error("error response should carry a message")
			}
		})
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	_, ts, path := newServer(t, testRules)

	writeRules(t, path, "name: fresh\nrules:\n  - \"x\": \"y\"\n")
	resp, data := do(t, http.MethodPost, ts.URL+"/api/reload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", resp.StatusCode, data)
	}
	got := decode[server.RulesetsResponse](t, data)
	if diff := cmp.Diff([]string{"fresh"}, got.Names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if got.Selected != "fresh" {
		t.Errorf("Selected: got %q, want %q", got.Selected, "fresh")
	}
}

func TestReload_FailureKeepsTable(t *testing.T) {
	t.Parallel()

	_, ts, path := newServer(t, testRules)

	writeRules(t, path, "name: broken\nrules:\n  - \"(\": \"x\"\n")
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/reload", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", resp.StatusCode)
	}

	_, data := do(t, http.MethodGet, ts.URL+"/api/rulesets", nil)
	got := decode[server.RulesetsResponse](t, data)
	if diff := cmp.Diff([]string{"double", "upper"}, got.Names); diff != "" {
		t.Errorf("names after failed reload (-want +got):\n%s", diff)
	}
}

func TestReload_NoRulesFile(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, "")
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/reload", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status: got %d, want 409", resp.StatusCode)
	}
}

func TestProbes(t *testing.T) {
	t.Parallel()

	_, loaded, _ := newServer(t, testRules)
	_, empty, _ := newServer(t, "")

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"healthz", loaded.URL + "/healthz", http.StatusOK},
		{"readyz with rules", loaded.URL + "/readyz", http.StatusOK},
		{"readyz without rules", empty.URL + "/readyz", http.StatusServiceUnavailable},
		{"metrics", loaded.URL + "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, _ := do(t, http.MethodGet, tt.url, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, ts, _ := newServer(t, testRules)
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/reload", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestSwitchRules(t *testing.T) {
	t.Parallel()

	srv, ts, _ := newServer(t, testRules)

	other := filepath.Join(t.TempDir(), "other.yaml")
	writeRules(t, other, "name: other\nrules: []\n")
	if err := srv.SwitchRules(other); err != nil {
		t.Fatalf("SwitchRules: %v", err)
	}
	_, data := do(t, http.MethodGet, ts.URL+"/api/rulesets", nil)
	got := decode[server.RulesetsResponse](t, data)
	if got.Path != other || got.Selected != "other" {
		t.Errorf("after switch: got %+v", got)
	}

	if err := srv.SwitchRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing rules file")
	}
}

func TestSetDefault(t *testing.T) {
	t.Parallel()

	srv, ts, path := newServer(t, testRules)
	srv.SetDefault("upper")

	// The current selection stays until the next load has to reselect.
	writeRules(t, path, testRules+"\n---\nname: extra\nrules: []\n")
	_, data := do(t, http.MethodGet, ts.URL+"/api/rulesets", nil)
	if got := decode[server.RulesetsResponse](t, data).Selected; got != "double" {
		t.Errorf("Selected before reload: got %q, want %q", got, "double")
	}

	other := filepath.Join(t.TempDir(), "other.yaml")
	writeRules(t, other, "name: other\nrules: []\n")
	if err := srv.SwitchRules(other); err != nil {
		t.Fatal(err)
	}
	if err := srv.SwitchRules(path); err != nil {
		t.Fatal(err)
	}
	_, data = do(t, http.MethodGet, ts.URL+"/api/rulesets", nil)
	if got := decode[server.RulesetsResponse](t, data).Selected; got != "upper" {
		t.Errorf("Selected after reselect: got %q, want %q", got, "upper")
	}
}

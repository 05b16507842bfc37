package worker_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/MrWong99/livescribe/internal/worker"
)

func TestFuncs_NilFieldsAreIgnored(t *testing.T) {
	t.Parallel()

	var sub worker.Subscriber = worker.Funcs{}
	sub.Transcribed("x")
	sub.Status(worker.Status{Message: "x"})
	sub.RulesetsChanged([]string{"a"}, "a")
}

func TestChannels_ForwardsCallbacks(t *testing.T) {
	t.Parallel()

	ch := make(chan worker.Event, 3)
	var sub worker.Subscriber = worker.Channels(ch)
	boom := errors.New("boom")

	sub.Transcribed("かな")
	sub.Status(worker.Status{Message: "failed", Err: boom})
	sub.RulesetsChanged([]string{"a", "b"}, "b")
	close(ch)

	var got []worker.Event
	for ev := range ch {
		got = append(got, ev)
	}
	want := []worker.Event{
		{Kind: worker.EventTranscribed, Text: "かな"},
		{Kind: worker.EventStatus, Status: worker.Status{Message: "failed", Err: boom}},
		{Kind: worker.EventRulesetsChanged, Names: []string{"a", "b"}, Selected: "b"},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[worker.State]string{
		worker.Idle:           "idle",
		worker.ApplyingRules:  "applying_rules",
		worker.ReloadingTable: "reloading_table",
		worker.Exited:         "exited",
		worker.State(42):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

package worker

import "time"

// DefaultStatusHold is the suggested minimum display time of a status
// message.
const DefaultStatusHold = 700 * time.Millisecond

// Status is a human-readable progress or error notification.
type Status struct {
	Message string

	// Hold is how long a front end should keep the message visible at least.
	Hold time.Duration

	// Err is set when the status reports a failure.
	Err error
}

// Subscriber receives the worker's output. All methods are called on the
// worker goroutine in the order the results were produced; implementations
// must not call back into the worker synchronously with blocking operations.
type Subscriber interface {
	// Transcribed delivers the result of one transcription request.
	Transcribed(text string)

	// Status delivers a progress or error message.
	Status(s Status)

	// RulesetsChanged reports the available rule set names after a load,
	// together with the selection that is now active.
	RulesetsChanged(names []string, selected string)
}

// Funcs adapts plain functions to a [Subscriber]. Nil fields are ignored.
type Funcs struct {
	OnTranscribed     func(text string)
	OnStatus          func(s Status)
	OnRulesetsChanged func(names []string, selected string)
}

// Transcribed implements [Subscriber].
func (f Funcs) Transcribed(text string) {
	if f.OnTranscribed != nil {
		f.OnTranscribed(text)
	}
}

// Status implements [Subscriber].
func (f Funcs) Status(s Status) {
	if f.OnStatus != nil {
		f.OnStatus(s)
	}
}

// RulesetsChanged implements [Subscriber].
func (f Funcs) RulesetsChanged(names []string, selected string) {
	if f.OnRulesetsChanged != nil {
		f.OnRulesetsChanged(names, selected)
	}
}

// EventKind identifies the payload of an [Event].
type EventKind int

const (
	EventTranscribed EventKind = iota + 1
	EventStatus
	EventRulesetsChanged
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventTranscribed:
		return "transcribed"
	case EventStatus:
		return "status"
	case EventRulesetsChanged:
		return "rulesets_changed"
	default:
		return "unknown"
	}
}

// Event is one [Subscriber] callback captured as a value.
type Event struct {
	Kind EventKind

	// Text is set for EventTranscribed.
	Text string

	// Status is set for EventStatus.
	Status Status

	// Names and Selected are set for EventRulesetsChanged.
	Names    []string
	Selected string
}

// Channels adapts a channel to a [Subscriber]. Sends block, so the receiver
// must keep draining the channel until the worker is done; a buffered
// channel decouples short bursts.
type Channels chan<- Event

// Transcribed implements [Subscriber].
func (c Channels) Transcribed(text string) {
	c <- Event{Kind: EventTranscribed, Text: text}
}

// Status implements [Subscriber].
func (c Channels) Status(s Status) {
	c <- Event{Kind: EventStatus, Status: s}
}

// RulesetsChanged implements [Subscriber].
func (c Channels) RulesetsChanged(names []string, selected string) {
	c <- Event{Kind: EventRulesetsChanged, Names: names, Selected: selected}
}

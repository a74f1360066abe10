package stats

import (
	"sync"
)

// Stage names the part of the run that emitted an event.
type Stage string

const (
	StageMailbox   Stage = "mailbox"
	StageInference Stage = "inference"
)

type EventType string

const (
	EventTypeMatched       EventType = "matched"
	EventTypeFetched       EventType = "fetched"
	EventTypeFetchFailed   EventType = "fetch_failed"
	EventTypeProtocolError EventType = "protocol_error"
	EventTypeSuccess       EventType = "success"
	EventTypeTimeout       EventType = "timeout"
	EventTypeFailure       EventType = "failure"
	// EventTypeSkipped marks a run that printed the plain summary instead of
	// calling the model.
	EventTypeSkipped EventType = "skipped"
)

// Event is one observation. Count is only set for EventTypeMatched.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Count     int
	Err       error
}

// Recorder receives run events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(evt Event)
}

// Discard drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Event) {}

// Summary aggregates the events of one run.
type Summary struct {
	Matched        int
	Fetched        int
	FetchFailed    int
	ProtocolErrors int
	Outcome        EventType
	LastError      error
}

// LogAttrs returns the summary as slog key/value pairs.
func (s Summary) LogAttrs() []any {
	attrs := []any{
		"matched", s.Matched,
		"fetched", s.Fetched,
		"fetchFailed", s.FetchFailed,
		"protocolErrors", s.ProtocolErrors,
	}
	if s.Outcome != "" {
		attrs = append(attrs, "outcome", string(s.Outcome))
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector is a Recorder that keeps a running Summary.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Record folds evt into the summary. The last error seen is kept.
func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeMatched:
		c.summary.Matched += evt.Count
	case EventTypeFetched:
		c.summary.Fetched++
	case EventTypeFetchFailed:
		c.summary.FetchFailed++
	case EventTypeProtocolError:
		c.summary.ProtocolErrors++
	case EventTypeSuccess, EventTypeTimeout, EventTypeFailure, EventTypeSkipped:
		c.summary.Outcome = evt.Type
	}
	if evt.Err != nil {
		c.summary.LastError = evt.Err
	}
}

// Snapshot returns a copy of the current summary.
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// #region event-type
// EventType names a telemetry event.
type EventType string

const (
	EventSessionInitialized EventType = "session.initialized"
	EventAdaptation         EventType = "adaptation.computed"
	EventSafetyViolation    EventType = "safety.violation"
	EventFeedback           EventType = "feedback.received"
	EventModuleSwapped      EventType = "module.swapped"
	EventSessionEnded       EventType = "session.ended"
	EventCheckpointSaved    EventType = "checkpoint.saved"
	EventCheckpointLoaded   EventType = "checkpoint.loaded"
	EventCheckpointFailed   EventType = "checkpoint.failed"
)

// #endregion event-type

// #region event
// Event is one observation emitted by the engine. Sinks never influence decisions.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Policy    string         `json:"policy,omitempty"`
	Time      time.Time      `json:"time"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType, sessionID, policy string, fields map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		SessionID: sessionID,
		Policy:    policy,
		Time:      time.Now().UTC(),
		Fields:    fields,
	}
}

// #endregion event

// #region contracts
// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// Sink delivers an event to a backend. It may block on I/O.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Emit(context.Context, Event) error { return nil }

// #endregion contracts

// #region recorder
// Recorder keeps events in memory. It serves as both Publisher and Sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.Publish(ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// #endregion recorder

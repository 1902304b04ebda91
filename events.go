package toolforge

import "time"

// EventKind identifies the type of event emitted by the engine.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventNodeStarted  EventKind = "node_started"
	EventNodeFinished EventKind = "node_finished"
	EventNodeFailed   EventKind = "node_failed"
	EventNodeBlocked  EventKind = "node_blocked"
	EventNodeSkipped  EventKind = "node_skipped"
	EventNodeRetried  EventKind = "node_retried"
	EventRunFinished  EventKind = "run_finished"
)

// Event is a structured, streamable record of what happened during a run.
// Events stay small; full payloads live in the run store and memory.
type Event struct {
	Kind     EventKind
	RunID    string
	ToolID   string
	NodeID   string
	NodeKind string
	Time     time.Time
	Attempt  int
	Elapsed  time.Duration
	Payload  map[string]any
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID, toolID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		ToolID:  toolID,
		Time:    time.Now(),
		Attempt: 1,
		Payload: make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID, nodeKind string) Event {
	e.NodeID = nodeID
	e.NodeKind = nodeKind
	return e
}

// WithAttempt sets the attempt number on the event.
func (e Event) WithAttempt(attempt int) Event {
	e.Attempt = attempt
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventHandler receives engine events. Implementations can log, store, or
// forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

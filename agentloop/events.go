package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies an observer event.
type EventKind string

const (
	EventContent            EventKind = "content"
	EventThought            EventKind = "thought"
	EventToolCall           EventKind = "tool_call"
	EventToolResult         EventKind = "tool_result"
	EventToolConfirmRequest EventKind = "tool_confirm_request"
	EventToolCancelled      EventKind = "tool_cancelled"
	EventToolError          EventKind = "tool_error"
	EventError              EventKind = "error"
	EventChatCompressed     EventKind = "chat_compressed"
	EventFinished           EventKind = "finished"
	EventCancelled          EventKind = "cancelled"
)

// Terminal reports whether the kind ends a turn. Every turn publishes
// exactly one terminal event.
func (k EventKind) Terminal() bool {
	return k == EventFinished || k == EventCancelled || k == EventError
}

// Event is the observer-facing shape of loop progress.
type Event struct {
	Kind      EventKind `json:"type"`
	SessionID string    `json:"session_id"`
	PromptID  string    `json:"prompt_id"`
	Timestamp time.Time `json:"timestamp"`

	CallID   string         `json:"call_id,omitempty"`
	Text     string         `json:"text,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Result   any            `json:"result,omitempty"`
	Details  string         `json:"details,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Observer receives events as soon as they are produced. Calls for one turn
// are serialized and never happen after the turn's terminal event.
type Observer func(Event)

// turnPublisher stamps events with turn identity and enforces the single
// terminal event rule.
type turnPublisher struct {
	sessionID string
	promptID  string
	observer  Observer

	mu     sync.Mutex
	closed bool
}

func newTurnPublisher(sessionID, promptID string, observer Observer) *turnPublisher {
	if observer == nil {
		observer = func(Event) {}
	}
	return &turnPublisher{sessionID: sessionID, promptID: promptID, observer: observer}
}

// publish delivers ev and reports whether it was delivered.
func (p *turnPublisher) publish(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	ev.SessionID = p.sessionID
	ev.PromptID = p.promptID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Kind.Terminal() {
		p.closed = true
	}
	p.observer(ev)
	return true
}

// EventEmitter adapts an Observer into a channel for hosts that prefer to
// range over events. Observe blocks while the buffer is full, so no event
// is lost, until Close is called.
type EventEmitter struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
	mu   sync.RWMutex
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		ch:   make(chan Event, bufferSize),
		done: make(chan struct{}),
	}
}

// Observe is an Observer.
func (e *EventEmitter) Observe(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.ch <- ev:
	case <-e.done:
	}
}

// Events returns the read side.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close unblocks pending senders and closes the channel. Safe to call
// multiple times.
func (e *EventEmitter) Close() {
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		close(e.ch)
		e.mu.Unlock()
	})
}

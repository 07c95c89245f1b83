package agentloop

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptedModel replays one scripted round per SendMessageStream call.
type scriptedModel struct {
	mu      sync.Mutex
	rounds  [][]StreamEvent
	repeat  bool // replay the last round once the script runs out
	hang    bool // keep the stream open after the script until ctx ends
	openErr error
	calls   [][]Part
}

func (m *scriptedModel) SendMessageStream(ctx context.Context, parts []Part, promptID string) (<-chan StreamEvent, error) {
	m.mu.Lock()
	m.calls = append(m.calls, parts)
	idx := len(m.calls) - 1
	var events []StreamEvent
	switch {
	case idx < len(m.rounds):
		events = m.rounds[idx]
	case m.repeat && len(m.rounds) > 0:
		events = m.rounds[len(m.rounds)-1]
	}
	openErr, hang := m.openErr, m.hang
	m.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (m *scriptedModel) sent() [][]Part {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Part(nil), m.calls...)
}

// factoryFor serves one scripted model per model id.
func factoryFor(models map[string]*scriptedModel) ModelSessionFactory {
	return func(cfg ModelConfig) (ModelSession, error) {
		m, ok := models[cfg.Model]
		if !ok {
			return nil, fmt.Errorf("no scripted model %q", cfg.Model)
		}
		return m, nil
	}
}

// fakeScheduler runs each batch through run in its own goroutine.
type fakeScheduler struct {
	mu        sync.Mutex
	batches   [][]ToolCallRequest
	rejectErr error
	run       func(ctx context.Context, reqs []ToolCallRequest, h ScheduleHandlers)
}

func (s *fakeScheduler) Schedule(ctx context.Context, reqs []ToolCallRequest, h ScheduleHandlers) error {
	s.mu.Lock()
	s.batches = append(s.batches, reqs)
	s.mu.Unlock()
	if s.rejectErr != nil {
		return s.rejectErr
	}
	run := s.run
	if run == nil {
		run = succeedAll
	}
	go run(ctx, reqs, h)
	return nil
}

// succeedAll completes every call with its arguments echoed as output.
func succeedAll(ctx context.Context, reqs []ToolCallRequest, h ScheduleHandlers) {
	calls := make([]ToolCall, len(reqs))
	for i, r := range reqs {
		calls[i] = ToolCall{Request: r, Status: StatusSuccess, Response: map[string]any{"output": fmt.Sprint(r.Args)}}
	}
	h.OnUpdate(calls)
	h.OnComplete(calls)
}

// confirmingScheduler asks for approval on every call, then succeeds or
// cancels each according to its outcome.
func confirmingScheduler(ctx context.Context, reqs []ToolCallRequest, h ScheduleHandlers) {
	var mu sync.Mutex
	calls := make([]ToolCall, len(reqs))
	update := func(i int, fn func(*ToolCall)) {
		mu.Lock()
		defer mu.Unlock()
		fn(&calls[i])
		h.OnUpdate(append([]ToolCall(nil), calls...))
	}

	details := make([]*ConfirmationDetails, len(reqs))
	mu.Lock()
	for i, r := range reqs {
		details[i] = NewConfirmationDetails("Confirm "+r.Name, fmt.Sprintf("%s %v", r.Name, r.Args))
		calls[i] = ToolCall{Request: r, Status: StatusAwaitingApproval, Confirmation: details[i]}
	}
	h.OnUpdate(append([]ToolCall(nil), calls...))
	mu.Unlock()

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case o := <-details[i].Outcome():
				if o == Cancel {
					update(i, func(c *ToolCall) { c.Status, c.Confirmation = StatusCancelled, nil })
					return
				}
				update(i, func(c *ToolCall) {
					c.Status, c.Confirmation = StatusSuccess, nil
					c.Response = map[string]any{"output": "done"}
				})
			case <-ctx.Done():
				update(i, func(c *ToolCall) { c.Status, c.Confirmation = StatusCancelled, nil })
			}
		}()
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	h.OnComplete(append([]ToolCall(nil), calls...))
}

// eventLog is a thread-safe Observer that also forwards to a channel.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 256)}
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.ch <- ev:
	default:
	}
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// next waits for the next event of kind.
func (l *eventLog) next(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event; saw %v", kind, l.kinds())
			return Event{}
		}
	}
}

func newTestSession(t *testing.T, models map[string]*scriptedModel, chain []string, sched Scheduler, mutate func(*SessionConfig)) *Session {
	t.Helper()
	cfg := DefaultSessionConfig()
	cfg.Models = chain
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(factoryFor(models), sched, &cfg, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func toolRequest(id, name string, args map[string]any) ToolCallRequestEvent {
	return ToolCallRequestEvent{Request: ToolCallRequest{CallID: id, Name: name, Args: args}}
}

package toolsched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/toolloop/agentloop"
)

// stubModel replays one scripted round per call.
type stubModel struct {
	mu     sync.Mutex
	rounds [][]agentloop.StreamEvent
	n      int
}

func (m *stubModel) SendMessageStream(ctx context.Context, parts []agentloop.Part, promptID string) (<-chan agentloop.StreamEvent, error) {
	m.mu.Lock()
	var events []agentloop.StreamEvent
	if m.n < len(m.rounds) {
		events = m.rounds[m.n]
	}
	m.n++
	m.mu.Unlock()

	ch := make(chan agentloop.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type kindLog struct {
	mu    sync.Mutex
	kinds []agentloop.EventKind
}

func (l *kindLog) observe(ev agentloop.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, ev.Kind)
}

func (l *kindLog) snapshot() []agentloop.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]agentloop.EventKind(nil), l.kinds...)
}

func TestSessionStartsFreshTurnAfterCancellingTools(t *testing.T) {
	started := make(chan struct{}, 1)
	reg := NewRegistry()
	reg.Register(Tool{
		Definition: Definition{Name: "slow"},
		Kind:       KindRead,
		Executor: func(ctx context.Context, args map[string]any, env Environment) (any, error) {
			started <- struct{}{}
			<-ctx.Done()
			// Stopping takes a while, as a killed process group would.
			time.Sleep(200 * time.Millisecond)
			return nil, ctx.Err()
		},
	})
	sched := New(reg, NewLocalEnvironment(t.TempDir()), DefaultConfig(), nil)

	model := &stubModel{rounds: [][]agentloop.StreamEvent{
		{agentloop.ToolCallRequestEvent{Request: agentloop.ToolCallRequest{CallID: "c1", Name: "slow", Args: map[string]any{}}}, agentloop.FinishedEvent{}},
		{agentloop.ContentEvent{Text: "hello again"}, agentloop.FinishedEvent{}},
	}}
	cfg := agentloop.DefaultSessionConfig()
	cfg.Models = []string{"m"}
	factory := func(agentloop.ModelConfig) (agentloop.ModelSession, error) { return model, nil }
	s, err := agentloop.NewSession(factory, sched, &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	first := &kindLog{}
	h, err := s.Begin(context.Background(), "first", first.observe)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}
	s.CancelCurrentRequest()

	if _, err := h.Wait(); !errors.Is(err, agentloop.ErrTurnCancelled) {
		t.Fatalf("expected ErrTurnCancelled, got %v", err)
	}
	kinds := first.snapshot()
	want := []agentloop.EventKind{agentloop.EventToolCall, agentloop.EventToolCancelled, agentloop.EventCancelled}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
	if sched.Busy() {
		t.Error("the cancelled batch should have finished before the turn returned")
	}

	second := &kindLog{}
	res, err := s.SendMessage(context.Background(), "second", second.observe)
	if err != nil {
		t.Fatalf("second turn: %v (events %v)", err, second.snapshot())
	}
	if res.Outcome != agentloop.OutcomeFinished {
		t.Errorf("second turn outcome = %s", res.Outcome)
	}
}

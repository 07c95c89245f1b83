package agentloop

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTurnPublisherStopsAfterTerminal(t *testing.T) {
	var got []Event
	p := newTurnPublisher("s1", "p1", func(ev Event) { got = append(got, ev) })

	p.publish(Event{Kind: EventContent, Text: "a"})
	p.publish(Event{Kind: EventCancelled})
	if p.publish(Event{Kind: EventError, Message: "late"}) {
		t.Error("publish after a terminal event should be rejected")
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.SessionID != "s1" || ev.PromptID != "p1" || ev.Timestamp.IsZero() {
			t.Errorf("event not stamped: %+v", ev)
		}
	}
}

func TestEventKindTerminal(t *testing.T) {
	for _, k := range []EventKind{EventFinished, EventCancelled, EventError} {
		if !k.Terminal() {
			t.Errorf("%s should be terminal", k)
		}
	}
	for _, k := range []EventKind{EventContent, EventToolError, EventToolCancelled} {
		if k.Terminal() {
			t.Errorf("%s should not be terminal", k)
		}
	}
}

func TestEventJSONShape(t *testing.T) {
	ev := Event{Kind: EventToolCall, SessionID: "s", PromptID: "p", CallID: "c", ToolName: "ls"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "tool_call" || m["tool_name"] != "ls" {
		t.Errorf("unexpected JSON %s", data)
	}
	if _, ok := m["text"]; ok {
		t.Errorf("empty fields should be omitted: %s", data)
	}
}

func TestEventEmitter(t *testing.T) {
	e := NewEventEmitter(1)
	e.Observe(Event{Kind: EventContent, Text: "one"})

	blocked := make(chan struct{})
	go func() {
		e.Observe(Event{Kind: EventContent, Text: "two"})
		close(blocked)
	}()

	if ev := <-e.Events(); ev.Text != "one" {
		t.Errorf("first event = %q", ev.Text)
	}
	if ev := <-e.Events(); ev.Text != "two" {
		t.Errorf("second event = %q", ev.Text)
	}
	<-blocked

	e.Close()
	e.Close()
	e.Observe(Event{Kind: EventFinished})
	if _, ok := <-e.Events(); ok {
		t.Error("channel should be closed")
	}
}

func TestEventEmitterCloseUnblocksSender(t *testing.T) {
	e := NewEventEmitter(1)
	e.Observe(Event{Kind: EventContent})

	done := make(chan struct{})
	go func() {
		e.Observe(Event{Kind: EventContent})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	e.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close should unblock a pending Observe")
	}
}

package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/martinemde/toolloop/agentloop"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestAppendAndSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	events := []agentloop.Event{
		{Kind: agentloop.EventToolCall, SessionID: "s1", PromptID: "p1", Timestamp: now, ToolName: "ls", Args: map[string]any{"path": "."}},
		{Kind: agentloop.EventContent, SessionID: "s2", PromptID: "p9", Timestamp: now, Text: "other session"},
		{Kind: agentloop.EventContent, SessionID: "s1", PromptID: "p1", Timestamp: now, Text: "Found 2 files"},
		{Kind: agentloop.EventFinished, SessionID: "s1", PromptID: "p1", Timestamp: now},
	}
	var ids []int64
	for _, ev := range events {
		id, err := store.Append(ctx, ev)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %v", ids)
		}
	}

	all, err := store.Since(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events for s1, got %d", len(all))
	}
	if all[0].Event.ToolName != "ls" || all[0].Event.Args["path"] != "." {
		t.Errorf("tool call did not round-trip: %+v", all[0].Event)
	}

	tail, err := store.Since(ctx, "s1", all[0].ID)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(tail) != 2 || tail[0].Event.Text != "Found 2 files" || tail[1].Event.Kind != agentloop.EventFinished {
		t.Errorf("unexpected tail %+v", tail)
	}
}

func TestTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, ev := range []agentloop.Event{
		{Kind: agentloop.EventContent, SessionID: "s1", PromptID: "p1"},
		{Kind: agentloop.EventCancelled, SessionID: "s1", PromptID: "p1"},
		{Kind: agentloop.EventContent, SessionID: "s1", PromptID: "p2"},
	} {
		if _, err := store.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := store.Turns(ctx, "s1")
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].PromptID != "p1" || turns[0].Events != 2 || turns[0].Outcome != agentloop.EventCancelled {
		t.Errorf("turn 1 = %+v", turns[0])
	}
	if turns[1].PromptID != "p2" || turns[1].Outcome != "" {
		t.Errorf("turn 2 should still be running: %+v", turns[1])
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Append(context.Background(), agentloop.Event{Kind: agentloop.EventContent, SessionID: "s"}); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	records, err := second.Since(context.Background(), "s", 0)
	if err != nil || len(records) != 1 {
		t.Errorf("expected the stored event after reopening, got %d, %v", len(records), err)
	}
}

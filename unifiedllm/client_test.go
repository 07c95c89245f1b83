package unifiedllm

import (
	"context"
	"testing"
	"time"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name      string
	events    []StreamEvent
	openErrs  []error // returned by successive Stream calls before succeeding
	calls     int
	lastModel string
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	m.calls++
	m.lastModel = req.Model
	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		return nil, err
	}
	ch := make(chan StreamEvent, len(m.events))
	for _, e := range m.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		events: []StreamEvent{
			{Type: StreamStart},
			{Type: TextDelta, Delta: text, TextID: "t0"},
			{Type: StreamFinish, FinishReason: &FinishReason{Reason: "stop"}},
		},
	}
}

func fastRetry() ClientOption {
	return WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func drainText(t *testing.T, ch <-chan StreamEvent) string {
	t.Helper()
	var text string
	for ev := range ch {
		if ev.Type == TextDelta {
			text += ev.Delta
		}
	}
	return text
}

func TestClientStreamProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	// Explicit provider.
	ch, err := client.Stream(context.Background(), Request{Model: "x", Provider: "anthropic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainText(t, ch); got != "Anthropic response" {
		t.Errorf("expected Anthropic response, got %q", got)
	}

	// Catalog lookup by model.
	ch, err = client.Stream(context.Background(), Request{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainText(t, ch); got != "Anthropic response" {
		t.Errorf("expected catalog routing to anthropic, got %q", got)
	}

	// Default provider.
	ch, err = client.Stream(context.Background(), Request{Model: "unknown-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainText(t, ch); got != "OpenAI response" {
		t.Errorf("expected OpenAI response, got %q", got)
	}
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Stream(context.Background(), Request{Model: "test-model"})
	if err == nil {
		t.Fatal("expected error for no provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestClientStreamMiddlewareOrder(t *testing.T) {
	mock := newMockAdapter("test", "response")
	var order []int

	mw := func(n int) StreamMiddleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
			order = append(order, n)
			ch, err := next(ctx, req)
			order = append(order, -n)
			return ch, err
		}
	}

	client := NewClient(WithProvider("test", mock), WithStreamMiddleware(mw(1), mw(2)))
	ch, err := client.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drainText(t, ch)

	expected := []int{1, 2, -2, -1}
	if len(order) != len(expected) {
		t.Fatalf("expected %d middleware calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %d, got %d", i, v, order[i])
		}
	}
}

func TestClientStreamRetriesOpenFailure(t *testing.T) {
	mock := newMockAdapter("test", "ok")
	mock.openErrs = []error{&ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "502"}, Retryable: true}}}

	client := NewClient(WithProvider("test", mock), fastRetry())
	ch, err := client.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainText(t, ch); got != "ok" {
		t.Errorf("expected %q, got %q", "ok", got)
	}
	if mock.calls != 2 {
		t.Errorf("expected 2 stream attempts, got %d", mock.calls)
	}
}

func TestClientStreamSurfacesQuotaImmediately(t *testing.T) {
	mock := newMockAdapter("test", "ok")
	mock.openErrs = []error{&QuotaExceededError{ProviderError: ProviderError{SDKError: SDKError{Message: "quota"}}}}

	client := NewClient(WithProvider("test", mock), fastRetry())
	_, err := client.Stream(context.Background(), Request{Model: "m"})
	if !IsQuotaError(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", mock.calls)
	}
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	client.RegisterProvider("late", newMockAdapter("late", "hi"))
	if names := client.Providers(); len(names) != 1 || names[0] != "late" {
		t.Fatalf("unexpected providers: %v", names)
	}
	ch, err := client.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainText(t, ch); got != "hi" {
		t.Errorf("expected %q, got %q", "hi", got)
	}
}

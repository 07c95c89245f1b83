package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/martinemde/toolloop/unifiedllm"
)

// defaultContextWindow is used for models missing from the catalog.
const defaultContextWindow = 128000

// Streamer opens a streaming LLM request. *unifiedllm.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)
}

// LLMSession is a ModelSession backed by a unifiedllm client. It keeps the
// conversation history and commits a round to it only when the round
// finishes.
type LLMSession struct {
	client        Streamer
	config        ModelConfig
	tools         []unifiedllm.ToolDefinition
	systemPrompt  string
	contextWindow int

	mu      sync.Mutex
	history []HistoryEntry
}

// NewLLMSession creates a session for cfg.Model offering tools.
func NewLLMSession(client Streamer, cfg ModelConfig, tools []unifiedllm.ToolDefinition) *LLMSession {
	return &LLMSession{
		client:        client,
		config:        cfg,
		tools:         tools,
		systemPrompt:  BuildSystemPrompt(cfg),
		contextWindow: unifiedllm.ContextWindow(cfg.Model, defaultContextWindow),
	}
}

// NewLLMSessionFactory returns a factory building LLMSessions on client.
func NewLLMSessionFactory(client Streamer, tools []unifiedllm.ToolDefinition) ModelSessionFactory {
	return func(cfg ModelConfig) (ModelSession, error) {
		if client == nil {
			return nil, fmt.Errorf("no LLM client for model %s", cfg.Model)
		}
		return NewLLMSession(client, cfg, tools), nil
	}
}

// History returns a copy of the conversation history.
func (s *LLMSession) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

// RestoreHistory replaces the conversation history.
func (s *LLMSession) RestoreHistory(history []HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]HistoryEntry(nil), history...)
}

// SendMessageStream sends parts as the next round of the conversation.
func (s *LLMSession) SendMessageStream(ctx context.Context, parts []Part, promptID string) (<-chan StreamEvent, error) {
	pending := entriesFromParts(parts)

	s.mu.Lock()
	history := s.history
	kept, before, after, compressed := compressHistory(history, pending, s.contextWindow)
	if compressed {
		s.history = kept
		history = kept
	}
	history = append(append([]HistoryEntry(nil), history...), pending...)
	seen := recordedCallIDs(history)
	s.mu.Unlock()

	req := unifiedllm.Request{
		Model:      s.config.Model,
		Messages:   append([]unifiedllm.Message{unifiedllm.SystemMessage(s.systemPrompt)}, ConvertHistoryToMessages(history)...),
		ToolDefs:   s.tools,
		ToolChoice: &unifiedllm.ToolChoice{Mode: "auto"},
		Metadata: map[string]string{
			"session_id": s.config.SessionID,
			"prompt_id":  promptID,
		},
	}
	if len(s.tools) == 0 {
		req.ToolChoice = nil
	}

	in, err := s.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		if compressed {
			if !sendEvent(ctx, out, ChatCompressedEvent{OriginalTokens: before, NewTokens: after}) {
				return
			}
		}
		s.relay(ctx, in, out, pending, seen)
	}()
	return out, nil
}

// relay translates provider stream events and commits the round on finish.
// seen holds the call ids already recorded in history; a repeated id is
// replaced before it is recorded or emitted.
func (s *LLMSession) relay(ctx context.Context, in <-chan unifiedllm.StreamEvent, out chan<- StreamEvent, pending []HistoryEntry, seen map[string]bool) {
	var text, reasoning strings.Builder
	var calls []unifiedllm.ToolCallData

	for {
		var ev unifiedllm.StreamEvent
		var ok bool
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-in:
		}
		if !ok {
			// Provider closed without a finish event.
			s.commit(pending, text.String(), reasoning.String(), calls, unifiedllm.Usage{})
			sendEvent(ctx, out, FinishedEvent{Reason: "stop"})
			return
		}

		switch ev.Type {
		case unifiedllm.TextDelta:
			if ev.Delta == "" {
				continue
			}
			text.WriteString(ev.Delta)
			if !sendEvent(ctx, out, ContentEvent{Text: ev.Delta}) {
				return
			}

		case unifiedllm.ReasoningDelta:
			reasoning.WriteString(ev.Delta)
			subject, description := parseThought(ev.Delta)
			if !sendEvent(ctx, out, ThoughtEvent{Subject: subject, Description: description}) {
				return
			}

		case unifiedllm.ToolCallEnd:
			if ev.ToolCall == nil {
				continue
			}
			req, call, err := toolCallRequest(*ev.ToolCall, seen)
			if err != nil {
				sendEvent(ctx, out, ErrorEvent{Message: err.Error(), Kind: ErrorKindMalformed, Err: err})
				return
			}
			calls = append(calls, call)
			if !sendEvent(ctx, out, ToolCallRequestEvent{Request: req}) {
				return
			}

		case unifiedllm.StreamError:
			err := ev.Error
			if err == nil {
				err = fmt.Errorf("stream error")
			}
			kind := ErrorKindProvider
			if unifiedllm.IsQuotaError(err) {
				kind = ErrorKindQuota
			}
			sendEvent(ctx, out, ErrorEvent{Message: err.Error(), Kind: kind, Err: err})
			return

		case unifiedllm.StreamFinish:
			var usage unifiedllm.Usage
			if ev.Usage != nil {
				usage = *ev.Usage
			}
			reason := "stop"
			if ev.FinishReason != nil && ev.FinishReason.Reason != "" {
				reason = ev.FinishReason.Reason
			}
			s.commit(pending, text.String(), reasoning.String(), calls, usage)
			sendEvent(ctx, out, FinishedEvent{Reason: reason})
			return
		}
	}
}

func (s *LLMSession) commit(pending []HistoryEntry, text, reasoning string, calls []unifiedllm.ToolCallData, usage unifiedllm.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, pending...)
	s.history = append(s.history, NewAssistantEntry(text, calls, reasoning, usage))
}

// recordedCallIDs collects the tool call ids of every assistant entry.
func recordedCallIDs(history []HistoryEntry) map[string]bool {
	seen := make(map[string]bool)
	for _, e := range history {
		if e.Kind != EntryAssistant || e.Assistant == nil {
			continue
		}
		for _, tc := range e.Assistant.ToolCalls {
			seen[tc.ID] = true
		}
	}
	return seen
}

// toolCallRequest validates a provider tool call. Missing or repeated ids
// are replaced with "<name>-<uuid>".
func toolCallRequest(tc unifiedllm.ToolCall, seen map[string]bool) (ToolCallRequest, unifiedllm.ToolCallData, error) {
	if tc.Name == "" {
		return ToolCallRequest{}, unifiedllm.ToolCallData{}, fmt.Errorf("tool call %q has no name", tc.ID)
	}
	args := map[string]any{}
	raw := tc.Arguments
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return ToolCallRequest{}, unifiedllm.ToolCallData{}, fmt.Errorf("tool call %s: invalid arguments: %w", tc.Name, err)
		}
	} else {
		raw = json.RawMessage(`{}`)
	}
	id := tc.ID
	if id == "" || seen[id] {
		id = fmt.Sprintf("%s-%s", tc.Name, uuid.New().String())
	}
	seen[id] = true
	return ToolCallRequest{CallID: id, Name: tc.Name, Args: args},
		unifiedllm.ToolCallData{ID: id, Name: tc.Name, Arguments: raw, Type: "function"},
		nil
}

// parseThought splits a "**Subject** description" annotation.
func parseThought(text string) (subject, description string) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "**") {
		if end := strings.Index(trimmed[2:], "**"); end >= 0 {
			return strings.TrimSpace(trimmed[2 : 2+end]), strings.TrimSpace(trimmed[4+end:])
		}
	}
	return "", trimmed
}

func sendEvent(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

package agentloop

import (
	"encoding/json"
	"time"

	"github.com/martinemde/toolloop/unifiedllm"
)

// EntryKind discriminates between history entry types.
type EntryKind string

const (
	EntryUser        EntryKind = "user"
	EntryAssistant   EntryKind = "assistant"
	EntryToolResults EntryKind = "tool_results"
)

// HistoryEntry is a single entry in a model session's conversation history.
type HistoryEntry struct {
	Kind        EntryKind         `json:"kind"`
	Timestamp   time.Time         `json:"timestamp"`
	User        *UserEntry        `json:"user,omitempty"`
	Assistant   *AssistantEntry   `json:"assistant,omitempty"`
	ToolResults *ToolResultsEntry `json:"tool_results,omitempty"`
}

// UserEntry holds user input.
type UserEntry struct {
	Content string `json:"content"`
}

// AssistantEntry holds one model round.
type AssistantEntry struct {
	Content   string                    `json:"content"`
	ToolCalls []unifiedllm.ToolCallData `json:"tool_calls,omitempty"`
	Reasoning string                    `json:"reasoning,omitempty"`
	Usage     unifiedllm.Usage          `json:"usage"`
}

// ToolResultsEntry holds the responses to an assistant entry's tool calls.
type ToolResultsEntry struct {
	Results []FunctionResponse `json:"results"`
}

// NewUserEntry creates an entry wrapping user input.
func NewUserEntry(content string) HistoryEntry {
	return HistoryEntry{
		Kind:      EntryUser,
		Timestamp: time.Now(),
		User:      &UserEntry{Content: content},
	}
}

// NewAssistantEntry creates an entry wrapping a model round.
func NewAssistantEntry(content string, toolCalls []unifiedllm.ToolCallData, reasoning string, usage unifiedllm.Usage) HistoryEntry {
	return HistoryEntry{
		Kind:      EntryAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantEntry{
			Content:   content,
			ToolCalls: toolCalls,
			Reasoning: reasoning,
			Usage:     usage,
		},
	}
}

// NewToolResultsEntry creates an entry wrapping tool responses.
func NewToolResultsEntry(results []FunctionResponse) HistoryEntry {
	return HistoryEntry{
		Kind:        EntryToolResults,
		Timestamp:   time.Now(),
		ToolResults: &ToolResultsEntry{Results: results},
	}
}

// entriesFromParts turns the parts of one round into history entries:
// text parts become a user entry, function responses a tool results entry.
func entriesFromParts(parts []Part) []HistoryEntry {
	var text string
	var results []FunctionResponse
	for _, p := range parts {
		if p.FunctionResponse != nil {
			results = append(results, *p.FunctionResponse)
			continue
		}
		if text != "" && p.Text != "" {
			text += "\n"
		}
		text += p.Text
	}
	var entries []HistoryEntry
	if len(results) > 0 {
		entries = append(entries, NewToolResultsEntry(results))
	}
	if text != "" {
		entries = append(entries, NewUserEntry(text))
	}
	return entries
}

// approxChars sizes an entry for the token estimate.
func (e HistoryEntry) approxChars() int {
	n := 0
	switch e.Kind {
	case EntryUser:
		if e.User != nil {
			n += len(e.User.Content)
		}
	case EntryAssistant:
		if e.Assistant != nil {
			n += len(e.Assistant.Content) + len(e.Assistant.Reasoning)
			for _, tc := range e.Assistant.ToolCalls {
				n += len(tc.Name) + len(tc.Arguments)
			}
		}
	case EntryToolResults:
		if e.ToolResults != nil {
			for _, r := range e.ToolResults.Results {
				raw, _ := json.Marshal(r.Response)
				n += len(r.Name) + len(raw)
			}
		}
	}
	return n
}

// estimateTokens approximates the token count of history at four
// characters per token.
func estimateTokens(history []HistoryEntry) int {
	chars := 0
	for _, e := range history {
		chars += e.approxChars()
	}
	return chars / 4
}

// compressHistory drops the oldest exchanges once history exceeds 80% of
// the context window. Cuts happen only in front of a user entry so tool
// calls and their responses stay together. The entries of the round being
// sent count towards the budget but are never dropped.
func compressHistory(history, pending []HistoryEntry, contextWindow int) (kept []HistoryEntry, before, after int, ok bool) {
	if contextWindow <= 0 {
		return history, 0, 0, false
	}
	pendingTokens := estimateTokens(pending)
	before = estimateTokens(history) + pendingTokens
	if before <= contextWindow*8/10 {
		return history, before, before, false
	}

	target := contextWindow / 2
	cut := -1
	for i := 1; i < len(history); i++ {
		if history[i].Kind != EntryUser {
			continue
		}
		cut = i
		if estimateTokens(history[i:])+pendingTokens <= target {
			break
		}
	}
	if cut < 0 {
		return history, before, before, false
	}
	kept = append([]HistoryEntry(nil), history[cut:]...)
	return kept, before, estimateTokens(kept) + pendingTokens, true
}

// ConvertHistoryToMessages converts the history into LLM messages.
func ConvertHistoryToMessages(history []HistoryEntry) []unifiedllm.Message {
	var messages []unifiedllm.Message
	for _, entry := range history {
		switch entry.Kind {
		case EntryUser:
			if entry.User != nil {
				messages = append(messages, unifiedllm.UserMessage(entry.User.Content))
			}
		case EntryAssistant:
			if entry.Assistant != nil {
				msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
				if entry.Assistant.Content != "" {
					msg.Content = append(msg.Content, unifiedllm.TextPart(entry.Assistant.Content))
				}
				for _, tc := range entry.Assistant.ToolCalls {
					msg.Content = append(msg.Content, unifiedllm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
				}
				messages = append(messages, msg)
			}
		case EntryToolResults:
			if entry.ToolResults != nil {
				for _, r := range entry.ToolResults.Results {
					_, isError := r.Response["error"]
					messages = append(messages, unifiedllm.ToolResultMessage(r.CallID, r.Name, r.Response, isError))
				}
			}
		}
	}
	return messages
}

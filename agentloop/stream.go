package agentloop

import (
	"context"
	"errors"
)

// ErrorKind classifies an ErrorEvent.
type ErrorKind string

const (
	ErrorKindProvider  ErrorKind = "provider"
	ErrorKindQuota     ErrorKind = "quota"
	ErrorKindMalformed ErrorKind = "malformed_response"
)

// StreamEvent is one event of a model round. The set of variants is closed:
// ContentEvent, ThoughtEvent, ToolCallRequestEvent, ErrorEvent,
// ChatCompressedEvent and FinishedEvent.
type StreamEvent interface {
	streamEvent()
}

// ContentEvent carries a fragment of assistant text.
type ContentEvent struct {
	Text string
}

// ThoughtEvent carries a reasoning annotation.
type ThoughtEvent struct {
	Subject     string
	Description string
}

// ToolCallRequestEvent asks the loop to run a tool.
type ToolCallRequestEvent struct {
	Request ToolCallRequest
}

// ErrorEvent is terminal for the round. No events follow it.
type ErrorEvent struct {
	Message string
	Kind    ErrorKind
	Err     error
}

// ChatCompressedEvent reports that the model session shrank its history
// before sending the round.
type ChatCompressedEvent struct {
	OriginalTokens int
	NewTokens      int
}

// FinishedEvent marks the natural end of a round.
type FinishedEvent struct {
	Reason string
}

func (ContentEvent) streamEvent()         {}
func (ThoughtEvent) streamEvent()         {}
func (ToolCallRequestEvent) streamEvent() {}
func (ErrorEvent) streamEvent()           {}
func (ChatCompressedEvent) streamEvent()  {}
func (FinishedEvent) streamEvent()        {}

// err returns the error carried by the event, building one from the message
// when the producer did not attach a cause.
func (e ErrorEvent) err() error {
	if e.Err != nil {
		return e.Err
	}
	return errors.New(e.Message)
}

// Part is one piece of message content sent to the model session: either
// text or a response to an earlier tool call.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// FunctionResponse answers a single tool call.
type FunctionResponse struct {
	CallID   string         `json:"call_id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// TextPart builds a text Part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ResponsePart builds a Part answering callID.
func ResponsePart(callID, name string, response map[string]any) Part {
	return Part{FunctionResponse: &FunctionResponse{CallID: callID, Name: name, Response: response}}
}

// ModelConfig binds a model session to one model of the fallback chain.
type ModelConfig struct {
	Model        string
	SessionID    string
	WorkingDir   string
	Trusted      bool
	SystemPrompt string
}

// ModelSession streams one round of model output.
//
// Implementations deliver events in production order, stop sending once ctx
// is done, and close the channel after at most one terminal event
// (ErrorEvent or FinishedEvent). The prompt id is shared by every round of
// one user turn. Sessions that record tool calls in their own history must
// emit call ids that are unique across that history, since the loop answers
// each call under the id it was emitted with.
type ModelSession interface {
	SendMessageStream(ctx context.Context, parts []Part, promptID string) (<-chan StreamEvent, error)
}

// ModelSessionFactory builds a model session for a configuration. The
// fallback policy calls it whenever the active model changes.
type ModelSessionFactory func(ModelConfig) (ModelSession, error)

// HistoryCarrier is implemented by model sessions that keep conversation
// history. The session snapshots it before a turn and restores it when the
// turn does not finish, so a failed or restarted turn leaves no partial
// exchange behind.
type HistoryCarrier interface {
	History() []HistoryEntry
	RestoreHistory([]HistoryEntry)
}

package agentloop

import (
	"context"
	"sync"
)

// ToolCallRequest identifies one requested tool invocation. CallID is unique
// within a turn.
type ToolCallRequest struct {
	CallID   string         `json:"call_id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	PromptID string         `json:"prompt_id,omitempty"`
}

// ToolCallStatus is a state of a scheduled call.
type ToolCallStatus string

const (
	StatusValidating       ToolCallStatus = "validating"
	StatusScheduled        ToolCallStatus = "scheduled"
	StatusAwaitingApproval ToolCallStatus = "awaiting_approval"
	StatusExecuting        ToolCallStatus = "executing"
	StatusSuccess          ToolCallStatus = "success"
	StatusError            ToolCallStatus = "error"
	StatusCancelled        ToolCallStatus = "cancelled"
)

// Terminal reports whether no further transitions follow.
func (s ToolCallStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ToolCall is the scheduler's view of one call at a point in time.
type ToolCall struct {
	Request ToolCallRequest `json:"request"`
	Status  ToolCallStatus  `json:"status"`

	// Response is the model-facing payload. It is set on success and may be
	// set on error.
	Response map[string]any `json:"response,omitempty"`

	// Result is the observer-facing rendition of a successful call.
	Result any `json:"result,omitempty"`

	// Error describes a failed call.
	Error string `json:"error,omitempty"`

	// Confirmation is set while Status is awaiting_approval.
	Confirmation *ConfirmationDetails `json:"-"`
}

// ScheduleHandlers receives scheduler notifications for one batch.
// OnUpdate is called on every status change with a snapshot of the batch.
// OnComplete is called exactly once, after every call reached a terminal
// status.
type ScheduleHandlers struct {
	OnUpdate   func(calls []ToolCall)
	OnComplete func(calls []ToolCall)
}

// Scheduler validates, confirms and executes tool calls.
//
// Schedule returns as soon as the batch is accepted; outcomes arrive through
// the handlers. A returned error means the batch was rejected and no handler
// will be called. Cancelling ctx asks in-flight calls to stop; they still
// reach a terminal status.
type Scheduler interface {
	Schedule(ctx context.Context, requests []ToolCallRequest, handlers ScheduleHandlers) error
}

// ConfirmationOutcome is a decision on a call awaiting approval.
type ConfirmationOutcome string

const (
	ProceedOnce         ConfirmationOutcome = "proceed_once"
	ProceedAlways       ConfirmationOutcome = "proceed_always"
	ProceedAlwaysTool   ConfirmationOutcome = "proceed_always_tool"
	ProceedAlwaysServer ConfirmationOutcome = "proceed_always_server"
	Cancel              ConfirmationOutcome = "cancel"
)

// ParseConfirmationOutcome maps a wire name to an outcome.
func ParseConfirmationOutcome(s string) (ConfirmationOutcome, bool) {
	switch o := ConfirmationOutcome(s); o {
	case ProceedOnce, ProceedAlways, ProceedAlwaysTool, ProceedAlwaysServer, Cancel:
		return o, true
	}
	return "", false
}

// ConfirmationDetails describes a call awaiting approval and carries its
// one-shot resolution channel. The scheduler waits on Outcome; the session
// delivers the observer's decision through Resolve.
type ConfirmationDetails struct {
	Title       string `json:"title"`
	Description string `json:"description"`

	outcome chan ConfirmationOutcome
	once    sync.Once
}

// NewConfirmationDetails returns an unresolved confirmation.
func NewConfirmationDetails(title, description string) *ConfirmationDetails {
	return &ConfirmationDetails{
		Title:       title,
		Description: description,
		outcome:     make(chan ConfirmationOutcome, 1),
	}
}

// Resolve delivers o. Only the first call has an effect; it reports whether
// this call was the one that resolved the confirmation.
func (d *ConfirmationDetails) Resolve(o ConfirmationOutcome) bool {
	resolved := false
	d.once.Do(func() {
		d.outcome <- o
		resolved = true
	})
	return resolved
}

// Outcome yields the decision once it is made.
func (d *ConfirmationDetails) Outcome() <-chan ConfirmationOutcome {
	return d.outcome
}

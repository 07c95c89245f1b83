package agentloop

import "fmt"

// TransformStreamEvent maps a model stream event to its observer event.
// It reports false for events that have no observer shape.
func TransformStreamEvent(ev StreamEvent) (Event, bool) {
	switch e := ev.(type) {
	case ContentEvent:
		return Event{Kind: EventContent, Text: e.Text}, true
	case ThoughtEvent:
		text := e.Subject
		switch {
		case e.Subject == "":
			text = e.Description
		case e.Description != "":
			text = fmt.Sprintf("%s: %s", e.Subject, e.Description)
		}
		return Event{Kind: EventThought, Text: text}, true
	case ToolCallRequestEvent:
		return Event{
			Kind:     EventToolCall,
			CallID:   e.Request.CallID,
			ToolName: e.Request.Name,
			Args:     e.Request.Args,
		}, true
	case ErrorEvent:
		return Event{Kind: EventError, Message: e.Message}, true
	case ChatCompressedEvent:
		return Event{Kind: EventChatCompressed}, true
	default:
		// FinishedEvent ends a round, not the turn; the loop decides what
		// the observer sees. Unknown kinds are dropped.
		return Event{}, false
	}
}

// TransformToolUpdate maps a scheduler status for call to its observer
// event. Awaiting approval is handled by the confirmation gate, so it is
// not mapped here.
func TransformToolUpdate(call ToolCall) (Event, bool) {
	base := Event{CallID: call.Request.CallID, ToolName: call.Request.Name}
	switch call.Status {
	case StatusSuccess:
		base.Kind = EventToolResult
		base.Result = call.Result
		if base.Result == nil && call.Response != nil {
			base.Result = call.Response["output"]
		}
		return base, true
	case StatusCancelled:
		base.Kind = EventToolCancelled
		return base, true
	case StatusError:
		base.Kind = EventToolError
		base.Message = call.Error
		return base, true
	default:
		return Event{}, false
	}
}

// confirmRequestEvent renders a pending confirmation.
func confirmRequestEvent(call ToolCall) Event {
	ev := Event{
		Kind:     EventToolConfirmRequest,
		CallID:   call.Request.CallID,
		ToolName: call.Request.Name,
		Args:     call.Request.Args,
	}
	if d := call.Confirmation; d != nil {
		ev.Details = d.Description
		if ev.Details == "" {
			ev.Details = d.Title
		}
	}
	return ev
}

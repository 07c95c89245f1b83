package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const (
	cancelledResponse = "Tool execution was cancelled"
	failedResponse    = "Tool execution failed or returned no response"
)

// reconciler runs one round's tool calls through the scheduler and turns
// the completed calls into exactly one response part per request.
type reconciler struct {
	sched   Scheduler
	gate    *confirmationGate
	publish func(Event) bool
	logger  *slog.Logger

	ctx      context.Context
	mu       sync.Mutex
	statuses map[string]ToolCallStatus
	returned bool
}

func (r *reconciler) aborted() bool {
	return r.ctx != nil && r.ctx.Err() != nil
}

func (r *reconciler) run(ctx context.Context, requests []ToolCallRequest) ([]Part, error) {
	r.statuses = make(map[string]ToolCallStatus, len(requests))
	r.ctx = ctx
	done := make(chan []ToolCall, 1)
	var once sync.Once

	handlers := ScheduleHandlers{
		OnUpdate: r.observe,
		OnComplete: func(calls []ToolCall) {
			r.observe(calls)
			once.Do(func() { done <- calls })
		},
	}

	if err := r.sched.Schedule(ctx, requests, handlers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScheduleRejected, err)
	}

	defer func() {
		r.mu.Lock()
		r.returned = true
		r.mu.Unlock()
	}()

	// The batch is a join point even when aborted: every call reaches a
	// terminal status before the turn can end and release the scheduler.
	abort := ctx.Done()
	for {
		select {
		case calls := <-done:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return buildResponseParts(requests, calls)
		case <-abort:
			abort = nil
			r.logger.Debug("waiting for aborted tool calls to stop", "calls", len(requests))
		case <-r.gate.wake:
			if ctx.Err() != nil {
				continue
			}
			r.mu.Lock()
			r.surfaceNext()
			r.mu.Unlock()
		}
	}
}

// observe applies a scheduler snapshot. Only transitions are published, so
// repeated snapshots of an unchanged call produce no events.
func (r *reconciler) observe(calls []ToolCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.returned {
		return
	}
	for _, call := range calls {
		id := call.Request.CallID
		prev, seen := r.statuses[id]
		if seen && prev == call.Status {
			continue
		}
		r.statuses[id] = call.Status

		if prev == StatusAwaitingApproval {
			r.gate.withdraw(id)
			r.surfaceNext()
		}

		if call.Status == StatusAwaitingApproval {
			if r.aborted() {
				continue
			}
			if r.gate.offer(call) {
				r.publish(confirmRequestEvent(call))
			}
			continue
		}
		if ev, ok := TransformToolUpdate(call); ok {
			if call.Status == StatusError {
				r.logger.Warn("tool call failed", "tool", call.Request.Name, "call_id", id, "error", call.Error)
			}
			r.publish(ev)
		}
	}
}

// surfaceNext publishes the next queued confirmation. Callers hold r.mu.
func (r *reconciler) surfaceNext() {
	if next, ok := r.gate.promote(); ok {
		r.publish(confirmRequestEvent(next))
	}
}

// buildResponseParts orders completions by request and substitutes a
// structured failure for every call that did not succeed with content.
func buildResponseParts(requests []ToolCallRequest, calls []ToolCall) ([]Part, error) {
	byID := make(map[string]ToolCall, len(calls))
	for _, c := range calls {
		byID[c.Request.CallID] = c
	}
	parts := make([]Part, 0, len(requests))
	for _, req := range requests {
		call, ok := byID[req.CallID]
		if !ok {
			return nil, fmt.Errorf("%w: no completion for call %s (%s)", ErrResponseMismatch, req.CallID, req.Name)
		}
		parts = append(parts, responseFor(req, call))
	}
	return parts, nil
}

func responseFor(req ToolCallRequest, call ToolCall) Part {
	switch {
	case call.Status == StatusSuccess && len(call.Response) > 0:
		return ResponsePart(req.CallID, req.Name, call.Response)
	case call.Status == StatusCancelled:
		return ResponsePart(req.CallID, req.Name, map[string]any{"error": cancelledResponse})
	default:
		return ResponsePart(req.CallID, req.Name, map[string]any{"error": failedResponse})
	}
}

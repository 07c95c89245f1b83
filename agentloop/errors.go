package agentloop

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTurnInFlight is returned when a message is sent while another turn
	// of the same session is still running.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")

	// ErrMaxRoundsExceeded ends a turn whose model kept requesting tools past
	// the configured round budget.
	ErrMaxRoundsExceeded = errors.New("maximum conversation turns exceeded")

	// ErrTurnCancelled is returned when the turn was aborted.
	ErrTurnCancelled = errors.New("turn cancelled")

	// ErrNoPendingConfirmation is returned by ConfirmTool when nothing is
	// awaiting approval.
	ErrNoPendingConfirmation = errors.New("no tool confirmation is pending")

	// ErrFallbackExhausted is wrapped by FallbackExhaustedError.
	ErrFallbackExhausted = errors.New("all models in the fallback chain exhausted their quota")

	// ErrScheduleRejected wraps a scheduler dispatch failure.
	ErrScheduleRejected = errors.New("tool scheduler rejected the batch")

	// ErrResponseMismatch signals that a scheduler completion did not cover
	// every request of its batch.
	ErrResponseMismatch = errors.New("tool responses do not match tool requests")
)

// FallbackExhaustedError names every model of the chain once the last one
// also failed with a quota error.
type FallbackExhaustedError struct {
	Models []string
	Cause  error
}

func (e *FallbackExhaustedError) Error() string {
	msg := fmt.Sprintf("%v: tried %s", ErrFallbackExhausted, strings.Join(e.Models, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FallbackExhaustedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrFallbackExhausted}
	}
	return []error{ErrFallbackExhausted, e.Cause}
}

// StreamError is a terminal error reported by a model session, either when
// opening the stream or as its ErrorEvent.
type StreamError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("model stream error (%s): %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error { return e.Cause }

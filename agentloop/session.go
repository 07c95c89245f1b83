package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxRounds    int      `json:"max_rounds"`
	Models       []string `json:"models"` // fallback chain, strongest first
	WorkingDir   string   `json:"working_dir"`
	Trusted      bool     `json:"trusted"`
	SystemPrompt string   `json:"system_prompt,omitempty"` // appended last to the system prompt

	// LoopDetectionWindow is how many recent tool calls are checked for a
	// repeating pattern. Zero disables the check.
	LoopDetectionWindow int `json:"loop_detection_window"`
}

// DefaultMaxRounds bounds the model/tool rounds of one turn.
const DefaultMaxRounds = 50

// DefaultSessionConfig returns the default configuration. Models must still
// be filled in.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{MaxRounds: DefaultMaxRounds, LoopDetectionWindow: DefaultLoopDetectionWindow}
}

// TurnOutcome is how a turn ended.
type TurnOutcome string

const (
	OutcomeFinished  TurnOutcome = "finished"
	OutcomeErrored   TurnOutcome = "errored"
	OutcomeCancelled TurnOutcome = "cancelled"
)

// TurnResult summarizes a completed turn.
type TurnResult struct {
	PromptID string      `json:"prompt_id"`
	Rounds   int         `json:"rounds"`
	Outcome  TurnOutcome `json:"outcome"`
	Model    string      `json:"model"`
}

// Session runs user turns against a model session and a tool scheduler.
// At most one turn runs at a time.
type Session struct {
	id       string
	config   SessionConfig
	fallback *FallbackPolicy
	sched    Scheduler
	gate     *confirmationGate
	logger   *slog.Logger

	mu              sync.Mutex
	active          bool
	cancel          context.CancelFunc
	cancelRequested bool
}

// NewSession creates a session. A nil config uses DefaultSessionConfig and a
// nil logger uses slog.Default.
func NewSession(factory ModelSessionFactory, sched Scheduler, config *SessionConfig, logger *slog.Logger) (*Session, error) {
	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if sched == nil {
		return nil, errors.New("tool scheduler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New().String()
	fallback, err := NewFallbackPolicy(cfg.Models, ModelConfig{
		SessionID:    id,
		WorkingDir:   cfg.WorkingDir,
		Trusted:      cfg.Trusted,
		SystemPrompt: cfg.SystemPrompt,
	}, factory, logger)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:       id,
		config:   cfg,
		fallback: fallback,
		sched:    sched,
		gate:     newConfirmationGate(),
		logger:   logger.With("session_id", id),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Model returns the active model of the fallback chain.
func (s *Session) Model() string { return s.fallback.Model() }

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// HasPendingConfirmation reports whether a tool call awaits approval.
func (s *Session) HasPendingConfirmation() bool {
	return s.gate.hasPending()
}

// TurnHandle tracks a turn started with Begin.
type TurnHandle struct {
	PromptID string

	done   chan struct{}
	result TurnResult
	err    error
}

// Done is closed when the turn has returned.
func (h *TurnHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the turn returns.
func (h *TurnHandle) Wait() (TurnResult, error) {
	<-h.done
	return h.result, h.err
}

// SendMessage runs one user turn to completion, publishing progress to
// observer. It returns ErrTurnInFlight if another turn is running.
func (s *Session) SendMessage(ctx context.Context, text string, observer Observer) (TurnResult, error) {
	h, err := s.Begin(ctx, text, observer)
	if err != nil {
		return TurnResult{}, err
	}
	return h.Wait()
}

// Begin claims the session for a new turn and runs it in the background.
func (s *Session) Begin(ctx context.Context, text string, observer Observer) (*TurnHandle, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	s.active = true
	s.cancelRequested = false
	s.mu.Unlock()

	h := &TurnHandle{PromptID: uuid.New().String(), done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.result, h.err = s.run(ctx, h.PromptID, text, observer)
	}()
	return h, nil
}

// ConfirmTool resolves the pending confirmation: true proceeds once, false
// cancels the call.
func (s *Session) ConfirmTool(confirmed bool) error {
	if confirmed {
		return s.ResolveConfirmation(ProceedOnce)
	}
	return s.ResolveConfirmation(Cancel)
}

// ResolveConfirmation delivers an explicit outcome to the pending
// confirmation.
func (s *Session) ResolveConfirmation(outcome ConfirmationOutcome) error {
	call, err := s.gate.resolve(outcome)
	if err != nil {
		s.logger.Warn("tool confirmation received with nothing pending", "outcome", outcome)
		return err
	}
	s.logger.Debug("tool confirmation resolved", "tool", call.Request.Name, "call_id", call.Request.CallID, "outcome", outcome)
	return nil
}

// CancelCurrentRequest aborts the in-flight turn. It reports whether a turn
// was running; calling it again, or with no turn running, has no effect.
func (s *Session) CancelCurrentRequest() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.cancelRequested = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.gate.clear()
	return true
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
	if s.cancelRequested {
		cancel()
	}
}

func (s *Session) endTurn() {
	s.mu.Lock()
	s.active = false
	s.cancel = nil
	s.cancelRequested = false
	s.mu.Unlock()
	s.gate.clear()
}

// quotaFailure marks a round that ended on a quota error. It never reaches
// callers; the fallback loop consumes it.
type quotaFailure struct {
	err error
}

func (q *quotaFailure) Error() string { return q.err.Error() }
func (q *quotaFailure) Unwrap() error { return q.err }

// run drives a turn, restarting it from the original message on the next
// model of the chain whenever a round ends on a quota error. The restart is
// bounded by the chain length.
func (s *Session) run(ctx context.Context, promptID, text string, observer Observer) (TurnResult, error) {
	defer s.endTurn()
	pub := newTurnPublisher(s.id, promptID, observer)
	logger := s.logger.With("prompt_id", promptID)
	snapshot := s.snapshotHistory()

	logger.Info("turn started", "model", s.fallback.Model())
	for {
		turnCtx, cancel := context.WithCancel(ctx)
		s.setCancel(cancel)
		res, err := s.runTurn(turnCtx, pub, promptID, text)
		cancel()
		res.PromptID = promptID

		var quota *quotaFailure
		if errors.As(err, &quota) {
			from := s.fallback.Model()
			if s.fallback.SwitchToNextModel() {
				to := s.fallback.Model()
				logger.Warn("model over quota, retrying turn", "from", from, "to", to, "error", quota.err)
				s.restoreHistory(snapshot)
				pub.publish(Event{
					Kind: EventContent,
					Text: fmt.Sprintf("Model %s is over its quota; switching to %s and retrying.", from, to),
				})
				continue
			}
			exhausted := &FallbackExhaustedError{Models: s.fallback.Models(), Cause: quota.err}
			pub.publish(Event{Kind: EventError, Message: exhausted.Error()})
			res.Outcome = OutcomeErrored
			err = exhausted
		}

		if res.Outcome != OutcomeFinished {
			s.restoreHistory(snapshot)
		}
		logger.Info("turn ended", "outcome", res.Outcome, "rounds", res.Rounds, "model", res.Model)
		return res, err
	}
}

// runTurn is one attempt at a turn on the active model.
func (s *Session) runTurn(ctx context.Context, pub *turnPublisher, promptID, text string) (TurnResult, error) {
	res := TurnResult{Model: s.fallback.Model()}
	model := s.fallback.Session()
	parts := []Part{TextPart(text)}
	callIDs := make(map[string]bool)
	loops := newLoopDetector(s.config.LoopDetectionWindow)

	for res.Rounds < s.config.MaxRounds {
		res.Rounds++
		if ctx.Err() != nil {
			return s.cancelled(pub, res)
		}

		requests, err := s.runRound(ctx, pub, model, parts, promptID, callIDs)
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelled(pub, res)
			}
			var quota *quotaFailure
			if errors.As(err, &quota) {
				res.Outcome = OutcomeErrored
				return res, err
			}
			return s.failed(pub, res, err)
		}

		if len(requests) == 0 {
			pub.publish(Event{Kind: EventFinished})
			res.Outcome = OutcomeFinished
			return res, nil
		}

		rec := &reconciler{sched: s.sched, gate: s.gate, publish: pub.publish, logger: s.logger}
		parts, err = rec.run(ctx, requests)
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelled(pub, res)
			}
			if errors.Is(err, ErrScheduleRejected) {
				s.logger.Error("scheduler rejected tool batch", "prompt_id", promptID, "error", err)
			}
			return s.failed(pub, res, err)
		}

		if loops.observe(requests) {
			s.logger.Warn("tool loop detected", "prompt_id", promptID, "window", loops.window)
			parts = append(parts, TextPart(loops.warning()))
		}
	}

	return s.failed(pub, res, ErrMaxRoundsExceeded)
}

// runRound streams one model round, publishing every event as it arrives,
// and returns the tool calls it requested.
func (s *Session) runRound(ctx context.Context, pub *turnPublisher, model ModelSession, parts []Part, promptID string, callIDs map[string]bool) ([]ToolCallRequest, error) {
	stream, err := model.SendMessageStream(ctx, parts, promptID)
	if err != nil {
		serr := &StreamError{Kind: ErrorKindProvider, Message: err.Error(), Cause: err}
		if s.fallback.IsQuotaError(err) {
			return nil, &quotaFailure{err: serr}
		}
		return nil, serr
	}

	var requests []ToolCallRequest
	for {
		var ev StreamEvent
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok = <-stream:
		}
		if !ok {
			return requests, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch e := ev.(type) {
		case ErrorEvent:
			serr := &StreamError{Kind: e.Kind, Message: e.Message, Cause: e.err()}
			if e.Kind == ErrorKindQuota || s.fallback.IsQuotaError(e.err()) {
				return nil, &quotaFailure{err: serr}
			}
			return nil, serr
		case ToolCallRequestEvent:
			req := e.Request
			if _, recorded := model.(HistoryCarrier); recorded && req.CallID != "" && callIDs[req.CallID] {
				// Renaming would leave the recorded call unanswered.
				msg := fmt.Sprintf("tool call id %q repeated within the turn", req.CallID)
				return nil, &StreamError{Kind: ErrorKindMalformed, Message: msg, Cause: errors.New(msg)}
			}
			if req.CallID == "" || callIDs[req.CallID] {
				fresh := fmt.Sprintf("%s-%s", req.Name, uuid.New().String())
				s.logger.Warn("reassigning tool call id", "tool", req.Name, "call_id", req.CallID, "new_call_id", fresh)
				req.CallID = fresh
			}
			callIDs[req.CallID] = true
			req.PromptID = promptID
			requests = append(requests, req)
			ev = ToolCallRequestEvent{Request: req}
		}

		if out, ok := TransformStreamEvent(ev); ok {
			pub.publish(out)
		}
	}
}

func (s *Session) cancelled(pub *turnPublisher, res TurnResult) (TurnResult, error) {
	pub.publish(Event{Kind: EventCancelled})
	res.Outcome = OutcomeCancelled
	return res, ErrTurnCancelled
}

func (s *Session) failed(pub *turnPublisher, res TurnResult, err error) (TurnResult, error) {
	msg := err.Error()
	var serr *StreamError
	if errors.As(err, &serr) {
		msg = serr.Message
	}
	pub.publish(Event{Kind: EventError, Message: msg})
	res.Outcome = OutcomeErrored
	return res, err
}

func (s *Session) snapshotHistory() []HistoryEntry {
	if c, ok := s.fallback.Session().(HistoryCarrier); ok {
		return c.History()
	}
	return nil
}

func (s *Session) restoreHistory(snapshot []HistoryEntry) {
	if c, ok := s.fallback.Session().(HistoryCarrier); ok {
		c.RestoreHistory(snapshot)
	}
}

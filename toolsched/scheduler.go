package toolsched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martinemde/toolloop/agentloop"
)

var (
	ErrSchedulerBusy = errors.New("toolsched: a batch is already running")
	ErrEmptyBatch    = errors.New("toolsched: empty batch")
	ErrUnknownTool   = errors.New("unknown tool")
)

// Config configures a Scheduler.
type Config struct {
	ApprovalMode ApprovalMode

	// DefaultTimeout bounds a single tool execution. Zero means no bound
	// beyond the batch context.
	DefaultTimeout time.Duration

	CharLimits map[string]int
	LineLimits map[string]int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		ApprovalMode:   ApprovalDefault,
		DefaultTimeout: 15 * time.Minute,
		CharLimits:     DefaultCharLimits,
		LineLimits:     DefaultLineLimits,
	}
}

// Scheduler validates, confirms and executes tool calls from a Registry in
// an Environment. Calls in a batch run concurrently. One batch runs at a
// time.
type Scheduler struct {
	registry *Registry
	env      Environment
	config   Config
	policy   *ApprovalPolicy
	logger   *slog.Logger

	mu   sync.Mutex
	busy bool
}

var _ agentloop.Scheduler = (*Scheduler)(nil)

// New creates a Scheduler. A nil config means DefaultConfig.
func New(reg *Registry, env Environment, config *Config, logger *slog.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: reg,
		env:      env,
		config:   *config,
		policy:   NewApprovalPolicy(config.ApprovalMode),
		logger:   logger,
	}
}

// Policy exposes the session-scoped approval policy.
func (s *Scheduler) Policy() *ApprovalPolicy {
	return s.policy
}

// Busy reports whether a batch is running.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Schedule starts a batch. It returns once the batch is accepted.
func (s *Scheduler) Schedule(ctx context.Context, requests []agentloop.ToolCallRequest, handlers agentloop.ScheduleHandlers) error {
	if len(requests) == 0 {
		return ErrEmptyBatch
	}
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.logger.Warn("rejected tool batch", "calls", len(requests), "reason", "busy")
		return ErrSchedulerBusy
	}
	s.busy = true
	s.mu.Unlock()

	b := &batch{
		sched:    s,
		handlers: handlers,
		calls:    make([]agentloop.ToolCall, len(requests)),
		tools:    make([]*Tool, len(requests)),
	}
	for i, req := range requests {
		b.calls[i] = agentloop.ToolCall{Request: req, Status: agentloop.StatusValidating}
		b.tools[i] = s.registry.Get(req.Name)
	}
	go b.run(ctx)
	return nil
}

type batch struct {
	sched    *Scheduler
	handlers agentloop.ScheduleHandlers

	mu    sync.Mutex
	calls []agentloop.ToolCall
	tools []*Tool
}

func (b *batch) run(ctx context.Context) {
	b.mu.Lock()
	b.notify()
	b.mu.Unlock()

	var wg sync.WaitGroup
	for i := range b.calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.runCall(ctx, i)
		}()
	}
	wg.Wait()

	b.sched.mu.Lock()
	b.sched.busy = false
	b.sched.mu.Unlock()

	if b.handlers.OnComplete != nil {
		b.handlers.OnComplete(b.snapshot())
	}
}

func (b *batch) runCall(ctx context.Context, i int) {
	req := b.calls[i].Request
	tool := b.tools[i]
	log := b.sched.logger.With("call_id", req.CallID, "tool", req.Name)

	if tool == nil {
		b.fail(i, fmt.Errorf("%w: %s", ErrUnknownTool, req.Name))
		return
	}
	if err := tool.validateArgs(req.Args); err != nil {
		b.fail(i, err)
		return
	}

	if b.sched.policy.NeedsConfirmation(tool) {
		details := agentloop.NewConfirmationDetails(confirmTitle(tool), describe(tool, req.Args))
		b.update(i, func(c *agentloop.ToolCall) {
			c.Status = agentloop.StatusAwaitingApproval
			c.Confirmation = details
		})
		select {
		case o := <-details.Outcome():
			if o == agentloop.Cancel {
				b.cancel(i)
				return
			}
			b.sched.policy.Apply(o, tool)
			b.releaseApproved()
		case <-ctx.Done():
			b.cancel(i)
			return
		}
	}

	if ctx.Err() != nil {
		b.cancel(i)
		return
	}
	b.update(i, func(c *agentloop.ToolCall) {
		c.Status = agentloop.StatusScheduled
		c.Confirmation = nil
	})
	b.update(i, func(c *agentloop.ToolCall) { c.Status = agentloop.StatusExecuting })

	execCtx := ctx
	if timeout := b.sched.config.DefaultTimeout; timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result, err := tool.Executor(execCtx, req.Args, b.sched.env)
	switch {
	case ctx.Err() != nil:
		b.cancel(i)
	case err != nil:
		log.Info("tool failed", "error", err)
		b.fail(i, err)
	default:
		output := Truncate(stringify(result), req.Name, b.sched.config.CharLimits, b.sched.config.LineLimits)
		b.update(i, func(c *agentloop.ToolCall) {
			c.Status = agentloop.StatusSuccess
			c.Result = result
			c.Response = map[string]any{"output": output}
		})
	}
}

// releaseApproved resolves other waiting calls that the policy now allows.
func (b *batch) releaseApproved() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.calls {
		if c.Status != agentloop.StatusAwaitingApproval || c.Confirmation == nil {
			continue
		}
		if !b.sched.policy.NeedsConfirmation(b.tools[i]) {
			c.Confirmation.Resolve(agentloop.ProceedOnce)
		}
	}
}

func (b *batch) fail(i int, err error) {
	b.update(i, func(c *agentloop.ToolCall) {
		c.Status = agentloop.StatusError
		c.Error = err.Error()
		c.Response = map[string]any{"error": err.Error()}
		c.Confirmation = nil
	})
}

func (b *batch) cancel(i int) {
	b.update(i, func(c *agentloop.ToolCall) {
		c.Status = agentloop.StatusCancelled
		c.Confirmation = nil
	})
}

// update applies fn to call i and notifies with the new snapshot. Updates
// are serialized so observers see transitions in order.
func (b *batch) update(i int, fn func(*agentloop.ToolCall)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.calls[i])
	b.notify()
}

// notify must be called with b.mu held.
func (b *batch) notify() {
	if b.handlers.OnUpdate != nil {
		b.handlers.OnUpdate(b.copyCalls())
	}
}

func (b *batch) snapshot() []agentloop.ToolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyCalls()
}

func (b *batch) copyCalls() []agentloop.ToolCall {
	out := make([]agentloop.ToolCall, len(b.calls))
	copy(out, b.calls)
	return out
}

func confirmTitle(t *Tool) string {
	switch t.Kind {
	case KindEdit:
		return "Confirm edit: " + t.Definition.Name
	case KindExecute:
		return "Confirm command: " + t.Definition.Name
	case KindMCP:
		return fmt.Sprintf("Confirm %s (%s)", t.Definition.Name, t.Server)
	default:
		return "Confirm " + t.Definition.Name
	}
}

func describe(t *Tool, args map[string]any) string {
	if t.Describe != nil {
		return t.Describe(args)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return t.Definition.Name
	}
	return fmt.Sprintf("%s %s", t.Definition.Name, data)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

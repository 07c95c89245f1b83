package agentloop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/martinemde/toolloop/unifiedllm"
)

// FallbackPolicy owns the ordered model chain (strongest first) and the
// model session bound to the active entry.
type FallbackPolicy struct {
	models  []string
	base    ModelConfig
	factory ModelSessionFactory
	logger  *slog.Logger

	mu      sync.Mutex
	index   int
	session ModelSession
}

// NewFallbackPolicy binds a session to the first model of the chain.
func NewFallbackPolicy(models []string, base ModelConfig, factory ModelSessionFactory, logger *slog.Logger) (*FallbackPolicy, error) {
	if len(models) == 0 {
		return nil, errors.New("fallback chain needs at least one model")
	}
	if factory == nil {
		return nil, errors.New("model session factory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &FallbackPolicy{
		models:  append([]string(nil), models...),
		base:    base,
		factory: factory,
		logger:  logger,
	}
	sess, err := f.build(0)
	if err != nil {
		return nil, err
	}
	f.session = sess
	return f, nil
}

// IsQuotaError reports whether err carries a provider quota or rate limit
// signature.
func (f *FallbackPolicy) IsQuotaError(err error) bool {
	return unifiedllm.IsQuotaError(err)
}

// SwitchToNextModel moves to the next weaker model, rebuilding the model
// session with the same identity and workspace settings. It returns false
// when the chain is exhausted or the next session cannot be built.
func (f *FallbackPolicy) SwitchToNextModel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for next := f.index + 1; next < len(f.models); next++ {
		sess, err := f.build(next)
		if err != nil {
			f.logger.Warn("skipping fallback model", "model", f.models[next], "error", err)
			continue
		}
		f.logger.Info("switched model", "from", f.models[f.index], "to", f.models[next])
		f.index = next
		f.session = sess
		return true
	}
	return false
}

// Model returns the active model.
func (f *FallbackPolicy) Model() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models[f.index]
}

// Session returns the model session bound to the active model.
func (f *FallbackPolicy) Session() ModelSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Models returns the whole chain.
func (f *FallbackPolicy) Models() []string {
	return append([]string(nil), f.models...)
}

func (f *FallbackPolicy) build(index int) (ModelSession, error) {
	cfg := f.base
	cfg.Model = f.models[index]
	sess, err := f.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("building session for %s: %w", cfg.Model, err)
	}
	return sess, nil
}

package toolsched

import (
	"fmt"
	"sync"

	"github.com/martinemde/toolloop/agentloop"
)

// ApprovalMode decides which tool kinds run without asking.
type ApprovalMode string

const (
	// ApprovalDefault confirms anything that is not a read.
	ApprovalDefault ApprovalMode = "default"
	// ApprovalAutoEdit additionally lets edits through.
	ApprovalAutoEdit ApprovalMode = "auto_edit"
	// ApprovalYolo confirms nothing.
	ApprovalYolo ApprovalMode = "yolo"
)

// ParseApprovalMode validates a mode name. The empty string is the default.
func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch m := ApprovalMode(s); m {
	case "":
		return ApprovalDefault, nil
	case ApprovalDefault, ApprovalAutoEdit, ApprovalYolo:
		return m, nil
	}
	return "", fmt.Errorf("unknown approval mode %q", s)
}

// ApprovalPolicy tracks what the user has already allowed. It belongs to a
// single scheduler and so to a single session.
type ApprovalPolicy struct {
	mu      sync.Mutex
	mode    ApprovalMode
	tools   map[string]bool
	servers map[string]bool
}

// NewApprovalPolicy creates a policy starting in mode.
func NewApprovalPolicy(mode ApprovalMode) *ApprovalPolicy {
	if mode == "" {
		mode = ApprovalDefault
	}
	return &ApprovalPolicy{
		mode:    mode,
		tools:   make(map[string]bool),
		servers: make(map[string]bool),
	}
}

// Mode returns the current mode.
func (p *ApprovalPolicy) Mode() ApprovalMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// NeedsConfirmation reports whether a call to t must wait for the user.
func (p *ApprovalPolicy) NeedsConfirmation(t *Tool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == ApprovalYolo || t.Kind == KindRead {
		return false
	}
	if p.tools[t.Definition.Name] {
		return false
	}
	if t.Server != "" && p.servers[t.Server] {
		return false
	}
	if t.Kind == KindEdit && p.mode == ApprovalAutoEdit {
		return false
	}
	return true
}

// Apply records a "proceed always" style outcome for t. Other outcomes
// leave the policy unchanged.
func (p *ApprovalPolicy) Apply(o agentloop.ConfirmationOutcome, t *Tool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch o {
	case agentloop.ProceedAlways:
		if t.Kind == KindEdit {
			if p.mode == ApprovalDefault {
				p.mode = ApprovalAutoEdit
			}
			return
		}
		p.tools[t.Definition.Name] = true
	case agentloop.ProceedAlwaysTool:
		p.tools[t.Definition.Name] = true
	case agentloop.ProceedAlwaysServer:
		if t.Server != "" {
			p.servers[t.Server] = true
		} else {
			p.tools[t.Definition.Name] = true
		}
	}
}

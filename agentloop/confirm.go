package agentloop

import "sync"

// confirmationGate holds the session's single pending confirmation and the
// queue of calls that asked for approval while it was occupied.
type confirmationGate struct {
	mu      sync.Mutex
	pending *ToolCall
	queue   []ToolCall

	// wake is signalled when the pending slot frees up so the waiting
	// reconciler can surface the next queued call.
	wake chan struct{}
}

func newConfirmationGate() *confirmationGate {
	return &confirmationGate{wake: make(chan struct{}, 1)}
}

// offer registers call as awaiting approval. It reports true when call
// became the pending confirmation and must be surfaced now.
func (g *confirmationGate) offer(call ToolCall) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := call.Request.CallID
	if g.pending != nil {
		if g.pending.Request.CallID == id {
			return false
		}
		for _, q := range g.queue {
			if q.Request.CallID == id {
				return false
			}
		}
		g.queue = append(g.queue, call)
		return false
	}
	c := call
	g.pending = &c
	return true
}

// withdraw forgets callID, which left awaiting_approval without going
// through the gate (cancelled, auto-approved, aborted).
func (g *confirmationGate) withdraw(callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil && g.pending.Request.CallID == callID {
		g.pending = nil
		g.signal()
		return
	}
	for i, q := range g.queue {
		if q.Request.CallID == callID {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return
		}
	}
}

// resolve delivers o to the pending call and frees the slot.
func (g *confirmationGate) resolve(o ConfirmationOutcome) (ToolCall, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return ToolCall{}, ErrNoPendingConfirmation
	}
	call := *g.pending
	g.pending = nil
	if call.Confirmation != nil {
		call.Confirmation.Resolve(o)
	}
	g.signal()
	return call, nil
}

// promote moves the next queued call into the free slot. It reports false
// when the slot is occupied or nothing is queued.
func (g *confirmationGate) promote() (ToolCall, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil || len(g.queue) == 0 {
		return ToolCall{}, false
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	g.pending = &next
	return next, true
}

// hasPending reports whether a confirmation is outstanding.
func (g *confirmationGate) hasPending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// clear drops every outstanding confirmation. Used when a turn ends.
func (g *confirmationGate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
	g.queue = nil
	select {
	case <-g.wake:
	default:
	}
}

func (g *confirmationGate) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

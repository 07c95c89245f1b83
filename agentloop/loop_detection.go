package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// DefaultLoopDetectionWindow is the number of recent tool calls checked for
// a repeating pattern.
const DefaultLoopDetectionWindow = 10

// loopDetector watches the tool calls of one turn for a repeating pattern.
type loopDetector struct {
	window int
	sigs   []string
}

func newLoopDetector(window int) *loopDetector {
	return &loopDetector{window: window}
}

// observe records a round's requests and reports whether the last window
// calls repeat a pattern of length 1, 2 or 3. A detection resets the
// history so the next warning needs a fresh window.
func (d *loopDetector) observe(requests []ToolCallRequest) bool {
	if d.window <= 0 {
		return false
	}
	for _, req := range requests {
		d.sigs = append(d.sigs, requestSignature(req))
	}
	if len(d.sigs) > d.window {
		d.sigs = d.sigs[len(d.sigs)-d.window:]
	}
	if !repeatsPattern(d.sigs, d.window) {
		return false
	}
	d.sigs = d.sigs[:0]
	return true
}

func (d *loopDetector) warning() string {
	return fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", d.window)
}

// requestSignature is the tool name plus a hash of the arguments. Map keys
// marshal sorted, so equal arguments hash equally.
func requestSignature(req ToolCallRequest) string {
	data, _ := json.Marshal(req.Args)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", req.Name, h[:8])
}

func repeatsPattern(sigs []string, window int) bool {
	if len(sigs) < window {
		return false
	}
	sigs = sigs[len(sigs)-window:]
	for n := 1; n <= 3; n++ {
		if window%n != 0 {
			continue
		}
		match := true
		for i := n; i < window && match; i++ {
			match = sigs[i] == sigs[i%n]
		}
		if match {
			return true
		}
	}
	return false
}

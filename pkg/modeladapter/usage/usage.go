// Package usage accumulates token counts reported by model providers.
package usage

import (
	"fmt"
	"sync"
)

// TokenCount holds input and output token counts for one or more model calls.
type TokenCount struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the sum of input and output tokens.
func (tc TokenCount) Total() int {
	return tc.InputTokens + tc.OutputTokens
}

func (tc TokenCount) String() string {
	return fmt.Sprintf("%d in / %d out", tc.InputTokens, tc.OutputTokens)
}

// Tracker accumulates token usage across model calls. It is safe for
// concurrent use; the zero value is ready.
type Tracker struct {
	mu    sync.Mutex
	total TokenCount
	calls int
}

// Add records the usage of one call.
func (t *Tracker) Add(tc TokenCount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.InputTokens += tc.InputTokens
	t.total.OutputTokens += tc.OutputTokens
	t.calls++
}

// Total returns the aggregate token count.
func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Calls returns the number of recorded calls.
func (t *Tracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls
}

// Summary renders the totals for the end-of-run report.
func (t *Tracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("%d model calls, %s tokens", t.calls, t.total)
}

// Package ledger tracks how many times each tool has failed within one
// driver session.
package ledger

// DefaultMaxRetries allows one retry after the first failed attempt.
const DefaultMaxRetries = 1

// Ledger is a per-tool failure counter. Counts only grow; a session that
// needs a clean slate creates a new Ledger. The zero value uses
// DefaultMaxRetries. Ledger is not safe for concurrent use.
type Ledger struct {
	maxRetries int
	counts     map[string]int
	set        bool
}

// New creates a Ledger that allows maxRetries retries per tool. Negative
// values are treated as zero.
func New(maxRetries int) *Ledger {
	return &Ledger{maxRetries: max(maxRetries, 0), set: true}
}

// MaxRetries returns the configured ceiling.
func (l *Ledger) MaxRetries() int {
	if !l.set {
		return DefaultMaxRetries
	}
	return l.maxRetries
}

// Record counts one failure of tool and returns the new count.
func (l *Ledger) Record(tool string) int {
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[tool]++
	return l.counts[tool]
}

// Count returns the number of failures recorded for tool.
func (l *Ledger) Count(tool string) int {
	return l.counts[tool]
}

// Exhausted reports whether tool has failed more times than the ceiling
// allows. An exhausted tool must not be called again in the session.
func (l *Ledger) Exhausted(tool string) bool {
	return l.Count(tool) > l.MaxRetries()
}

// Remaining returns how many more failures tool may absorb before it is
// exhausted.
func (l *Ledger) Remaining(tool string) int {
	return max(l.MaxRetries()-l.Count(tool)+1, 0)
}

// Snapshot returns a copy of all counters.
func (l *Ledger) Snapshot() map[string]int {
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

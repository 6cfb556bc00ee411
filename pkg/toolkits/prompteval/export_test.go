package prompteval

import (
	"context"
	"time"
)

// SetSleepFunc overrides the backoff sleep (for testing).
func (e *Evaluator) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) { e.sleep = fn }

package modeladapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/germanamz/stepwise/pkg/modeladapter/usage"
)

var _ Completer = (*RateLimitedCompleter)(nil)

// DefaultMaxRetries is the retry budget for rate-limited calls when none is configured.
const DefaultMaxRetries = 4

// Backoff selects how the delay between rate-limit retries grows.
type Backoff string

const (
	// BackoffLinear waits base, 2*base, 3*base, ...
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits base, 2*base, 4*base, ...
	BackoffExponential Backoff = "exponential"
)

// ParseBackoff maps a config value to a Backoff. Empty means linear.
func ParseBackoff(s string) (Backoff, error) {
	switch b := Backoff(s); b {
	case "":
		return BackoffLinear, nil
	case BackoffLinear, BackoffExponential:
		return b, nil
	default:
		return "", fmt.Errorf("modeladapter: unknown backoff %q (want linear or exponential)", s)
	}
}

// step returns the un-jittered delay before retry number attempt (0-based).
func (b Backoff) step(base time.Duration, attempt int) time.Duration {
	if b == BackoffExponential {
		return base << attempt
	}
	return base * time.Duration(attempt+1)
}

// RateLimitOpts configures the RateLimitedCompleter.
type RateLimitOpts struct {
	InputTPM   int           // Input tokens per minute (0 = no limit).
	OutputTPM  int           // Output tokens per minute (0 = no limit).
	RPM        int           // Requests per minute (0 = no limit).
	MaxRetries int           // Max retries on rate-limit errors (default 4).
	BaseDelay  time.Duration // First backoff delay (default 1s).
	Backoff    Backoff       // Delay growth (default linear).
	Logger     *slog.Logger  // Receives one warning per retry (default slog.Default).
}

// request is one completed call inside the one-minute window.
type request struct {
	at      time.Time
	in, out int
}

// RateLimitedCompleter wraps a Completer with proactive RPM and TPM throttling
// and retries rate-limit errors with a jittered backoff. A RetryAfter hint
// from the provider is honoured when it exceeds the computed delay.
type RateLimitedCompleter struct {
	inner Completer
	opts  RateLimitOpts

	mu     sync.Mutex
	recent []request

	// callMu serializes inner calls so usage deltas are attributed to one request.
	callMu   sync.Mutex
	fallback usage.Tracker

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
	randFunc  func() float64
}

// NewRateLimitedCompleter wraps a Completer with rate limiting.
func NewRateLimitedCompleter(inner Completer, opts RateLimitOpts) *RateLimitedCompleter {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Backoff == "" {
		opts.Backoff = BackoffLinear
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &RateLimitedCompleter{
		inner:     inner,
		opts:      opts,
		nowFunc:   time.Now,
		sleepFunc: contextSleep,
		randFunc:  rand.Float64,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *RateLimitedCompleter) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (r *RateLimitedCompleter) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// SetRandFunc overrides the jitter source (for testing).
func (r *RateLimitedCompleter) SetRandFunc(fn func() float64) { r.randFunc = fn }

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete implements Completer. Errors that are not rate limits are returned
// on the first attempt.
func (r *RateLimitedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.throttle(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		text, err := r.call(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if !IsRateLimit(err) {
			return "", err
		}
		lastErr = err

		if attempt >= r.opts.MaxRetries {
			break
		}

		d := r.delay(attempt, err)
		r.opts.Logger.WarnContext(ctx, "rate limited; backing off",
			"attempt", attempt+1, "max_retries", r.opts.MaxRetries, "delay", d)
		if err := r.sleepFunc(ctx, d); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

// call runs one inner completion and records it in the window.
func (r *RateLimitedCompleter) call(ctx context.Context, prompt string) (string, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()

	ur, reports := r.inner.(UsageReporter)
	var before usage.TokenCount
	if reports {
		before = ur.UsageTracker().Total()
	}

	text, err := r.inner.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	req := request{at: r.nowFunc()}
	if reports {
		after := ur.UsageTracker().Total()
		req.in = after.InputTokens - before.InputTokens
		req.out = after.OutputTokens - before.OutputTokens
	}

	r.mu.Lock()
	r.recent = append(r.recent, req)
	r.mu.Unlock()

	return text, nil
}

// delay is the jittered backoff before retry attempt, raised to the
// provider's RetryAfter hint when that is longer.
func (r *RateLimitedCompleter) delay(attempt int, err error) time.Duration {
	d := r.opts.Backoff.step(r.opts.BaseDelay, attempt)

	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > d {
		d = rle.RetryAfter
	}

	// Jitter factor in [0.75, 1.25).
	return time.Duration(float64(d) * (0.75 + r.randFunc()*0.5)) //nolint:mnd // ±25% jitter
}

// throttle blocks until the window has room under every configured limit.
func (r *RateLimitedCompleter) throttle(ctx context.Context) error {
	if r.opts.InputTPM <= 0 && r.opts.OutputTPM <= 0 && r.opts.RPM <= 0 {
		return nil
	}

	const minWait = 10 * time.Millisecond
	for {
		wait, ok := r.capacity()
		if ok {
			return nil
		}
		if err := r.sleepFunc(ctx, max(wait, minWait)); err != nil {
			return err
		}
	}
}

// capacity drops requests older than a minute and reports whether another
// request fits. When it does not, wait is the time until the oldest
// request leaves the window.
func (r *RateLimitedCompleter) capacity() (wait time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	cutoff := now.Add(-time.Minute)
	keep := r.recent[:0]
	var in, out int
	for _, req := range r.recent {
		if req.at.After(cutoff) {
			keep = append(keep, req)
			in += req.in
			out += req.out
		}
	}
	r.recent = keep

	if under(in, r.opts.InputTPM) && under(out, r.opts.OutputTPM) && under(len(r.recent), r.opts.RPM) {
		return 0, true
	}
	if len(r.recent) == 0 {
		return 0, false
	}
	return r.recent[0].at.Add(time.Minute).Sub(now), false
}

func under(n, limit int) bool { return limit <= 0 || n < limit }

// UsageTracker forwards to the inner completer if it implements UsageReporter.
func (r *RateLimitedCompleter) UsageTracker() *usage.Tracker {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.UsageTracker()
	}
	return &r.fallback
}

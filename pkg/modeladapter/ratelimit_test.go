package modeladapter_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/stepwise/pkg/modeladapter"
	"github.com/germanamz/stepwise/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompleter is a test double for modeladapter.Completer that also
// implements UsageReporter.
type fakeCompleter struct {
	tracker usage.Tracker
	handler func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f.handler(ctx, prompt)
}

func (f *fakeCompleter) UsageTracker() *usage.Tracker { return &f.tracker }

func TestRateLimitedCompleter_PassthroughOnSuccess(t *testing.T) {
	fc := &fakeCompleter{
		handler: func(_ context.Context, prompt string) (string, error) {
			return "echo: " + prompt, nil
		},
	}

	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{})
	out, err := rl.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestRateLimitedCompleter_RetryOn429(t *testing.T) {
	var calls atomic.Int32
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			if calls.Add(1) <= 2 {
				return "", &modeladapter.RateLimitError{Body: "slow down"}
			}
			return "FINAL_ANSWER: [1]", nil
		},
	}

	sleeps := 0
	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	})
	rl.SetSleepFunc(func(_ context.Context, _ time.Duration) error {
		sleeps++
		return nil
	})
	rl.SetRandFunc(func() float64 { return 0.5 }) // zero jitter

	out, err := rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "FINAL_ANSWER: [1]", out)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, sleeps)
}

func TestRateLimitedCompleter_RetryOnQuotaMessage(t *testing.T) {
	var calls atomic.Int32
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("Error 429, Message: RESOURCE_EXHAUSTED")
			}
			return "ok", nil
		},
	}

	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{BaseDelay: time.Millisecond})
	rl.SetSleepFunc(func(_ context.Context, _ time.Duration) error { return nil })

	out, err := rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimitedCompleter_MaxRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			calls.Add(1)
			return "", &modeladapter.RateLimitError{Body: "overloaded"}
		},
	}

	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
	})
	rl.SetSleepFunc(func(_ context.Context, _ time.Duration) error { return nil })

	_, err := rl.Complete(context.Background(), "p")
	require.Error(t, err)

	var rle *modeladapter.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "overloaded", rle.Body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitedCompleter_DefaultRetries(t *testing.T) {
	var calls atomic.Int32
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			calls.Add(1)
			return "", &modeladapter.RateLimitError{}
		},
	}

	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{})
	rl.SetSleepFunc(func(_ context.Context, _ time.Duration) error { return nil })

	_, err := rl.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, int32(modeladapter.DefaultMaxRetries+1), calls.Load())
}

func TestRateLimitedCompleter_ContextCancellation(t *testing.T) {
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			return "", &modeladapter.RateLimitError{Body: "wait"}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		MaxRetries: 5,
		BaseDelay:  time.Millisecond,
	})
	rl.SetSleepFunc(func(_ context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := rl.Complete(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitedCompleter_InputTPMThrottling(t *testing.T) {
	fc := &fakeCompleter{}
	fc.handler = func(_ context.Context, _ string) (string, error) {
		fc.tracker.Add(usage.TokenCount{InputTokens: 80, OutputTokens: 20})
		return "ok", nil
	}

	currentTime := time.Now()
	sleepCalled := false

	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		InputTPM:   80,
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
	})
	rl.SetNowFunc(func() time.Time { return currentTime })
	rl.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		sleepCalled = true
		currentTime = currentTime.Add(d)
		return nil
	})

	_, err := rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, sleepCalled)

	// Window holds 80 input tokens, at the limit.
	_, err = rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.True(t, sleepCalled)
}

func TestRateLimitedCompleter_IndependentLimits(t *testing.T) {
	fc := &fakeCompleter{}
	fc.handler = func(_ context.Context, _ string) (string, error) {
		fc.tracker.Add(usage.TokenCount{InputTokens: 90, OutputTokens: 10})
		return "ok", nil
	}

	currentTime := time.Now()
	sleepCalled := false

	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		InputTPM:   90,
		OutputTPM:  200,
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
	})
	rl.SetNowFunc(func() time.Time { return currentTime })
	rl.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		sleepCalled = true
		currentTime = currentTime.Add(d)
		return nil
	})

	_, err := rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, sleepCalled)

	_, err = rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.True(t, sleepCalled)
}

func TestRateLimitedCompleter_RPMThrottling(t *testing.T) {
	// No usage reporting: RPM must still count requests.
	inner := modeladapter.CompleterFunc(func(_ context.Context, _ string) (string, error) {
		return "ok", nil
	})

	currentTime := time.Now()
	sleepCalled := false

	rl := modeladapter.NewRateLimitedCompleter(inner, modeladapter.RateLimitOpts{
		RPM:        1,
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
	})
	rl.SetNowFunc(func() time.Time { return currentTime })
	rl.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		sleepCalled = true
		currentTime = currentTime.Add(d)
		return nil
	})

	_, err := rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, sleepCalled)

	_, err = rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.True(t, sleepCalled)
}

func TestRateLimitedCompleter_UsageForwarding(t *testing.T) {
	fc := &fakeCompleter{handler: func(_ context.Context, _ string) (string, error) { return "", nil }}
	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{})
	assert.Same(t, fc.UsageTracker(), rl.UsageTracker())

	plain := modeladapter.NewRateLimitedCompleter(modeladapter.CompleterFunc(
		func(_ context.Context, _ string) (string, error) { return "", nil },
	), modeladapter.RateLimitOpts{})
	assert.NotNil(t, plain.UsageTracker())
	assert.Same(t, plain.UsageTracker(), plain.UsageTracker())
}

func TestRateLimitedCompleter_NonRateLimitErrorNotRetried(t *testing.T) {
	var calls int
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			calls++
			return "", assert.AnError
		},
	}

	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	})

	_, err := rl.Complete(context.Background(), "p")
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls, "non-rate-limit errors should not be retried")
}

func TestRateLimitedCompleter_RetryAfterUsed(t *testing.T) {
	var calls atomic.Int32
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			if calls.Add(1) <= 1 {
				return "", &modeladapter.RateLimitError{RetryAfter: 10 * time.Second, Body: "slow"}
			}
			return "ok", nil
		},
	}

	var sleepDur time.Duration
	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		MaxRetries: 2,
		BaseDelay:  time.Second,
	})
	rl.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		sleepDur = d
		return nil
	})
	rl.SetRandFunc(func() float64 { return 0.5 })

	_, err := rl.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, sleepDur)
}

func TestRateLimitedCompleter_BackoffGrowsExponentially(t *testing.T) {
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			return "", &modeladapter.RateLimitError{}
		},
	}

	var sleeps []time.Duration
	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Backoff:    modeladapter.BackoffExponential,
	})
	rl.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})
	rl.SetRandFunc(func() float64 { return 0.0 }) // factor 0.75

	_, err := rl.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		750 * time.Millisecond,
		1500 * time.Millisecond,
		3000 * time.Millisecond,
	}, sleeps)
}

func TestRateLimitedCompleter_BackoffIsLinearByDefault(t *testing.T) {
	fc := &fakeCompleter{
		handler: func(_ context.Context, _ string) (string, error) {
			return "", errors.New("429 RESOURCE_EXHAUSTED")
		},
	}

	var sleeps []time.Duration
	rl := modeladapter.NewRateLimitedCompleter(fc, modeladapter.RateLimitOpts{
		MaxRetries: 3,
		BaseDelay:  10 * time.Second,
	})
	rl.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})
	rl.SetRandFunc(func() float64 { return 0.5 }) // factor 1.0

	_, err := rl.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
	}, sleeps)
}

func TestParseBackoff(t *testing.T) {
	b, err := modeladapter.ParseBackoff("")
	require.NoError(t, err)
	assert.Equal(t, modeladapter.BackoffLinear, b)

	b, err = modeladapter.ParseBackoff("exponential")
	require.NoError(t, err)
	assert.Equal(t, modeladapter.BackoffExponential, b)

	_, err = modeladapter.ParseBackoff("fibonacci")
	assert.ErrorContains(t, err, "fibonacci")
}

func TestIsRateLimit(t *testing.T) {
	assert.False(t, modeladapter.IsRateLimit(nil))
	assert.False(t, modeladapter.IsRateLimit(errors.New("boom")))
	assert.True(t, modeladapter.IsRateLimit(&modeladapter.RateLimitError{}))
	assert.True(t, modeladapter.IsRateLimit(errors.Join(errors.New("x"), &modeladapter.RateLimitError{})))
	assert.True(t, modeladapter.IsRateLimit(errors.New("googleapi: Error 429: quota")))
	assert.True(t, modeladapter.IsRateLimit(errors.New("status RESOURCE_EXHAUSTED")))
	assert.True(t, modeladapter.IsRateLimit(errors.New("see RetryInfo for details")))
}

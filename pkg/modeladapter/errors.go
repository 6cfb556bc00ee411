package modeladapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyCompletion is returned when a model answers without any text.
var ErrEmptyCompletion = errors.New("model returned no text")

// RateLimitError is returned when the API responds with HTTP 429 or a
// RESOURCE_EXHAUSTED status. RetryAfter is the longer of the Retry-After
// header and the retryDelay of a RetryInfo detail, when either is present.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// APIError is a non-2xx response that is not a rate limit.
type APIError struct {
	StatusCode int
	// Status is the canonical status from a Google error envelope, e.g.
	// "INVALID_ARGUMENT". Empty when the body is not an envelope.
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("unexpected status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// rateLimitMarkers identify quota errors surfaced by SDKs that do not expose
// a typed status.
var rateLimitMarkers = []string{"429", "RESOURCE_EXHAUSTED", "RetryInfo"}

// IsRateLimit reports whether err is rate-limit shaped: a *RateLimitError in
// its chain or a message carrying a known quota marker.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	msg := err.Error()
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ParseRetryAfter parses a Retry-After header as whole seconds or an
// HTTP-date. Unparseable values and dates in the past yield zero.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

// envelope is the error body returned by Google APIs.
type envelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

// responseError converts a failed response into a *RateLimitError or an
// *APIError.
func responseError(status int, header http.Header, body []byte) error {
	var env envelope
	parsed := json.Unmarshal(body, &env) == nil && (env.Error.Status != "" || env.Error.Message != "")

	if status == http.StatusTooManyRequests || (parsed && env.Error.Status == "RESOURCE_EXHAUSTED") {
		wait := ParseRetryAfter(header.Get("Retry-After"))
		for _, d := range env.Error.Details {
			if !strings.HasSuffix(d.Type, "RetryInfo") {
				continue
			}
			if rd, err := time.ParseDuration(d.RetryDelay); err == nil && rd > wait {
				wait = rd
			}
		}
		return &RateLimitError{RetryAfter: wait, Body: string(body)}
	}

	if parsed {
		return &APIError{StatusCode: status, Status: env.Error.Status, Message: env.Error.Message}
	}
	return &APIError{StatusCode: status, Message: string(body)}
}

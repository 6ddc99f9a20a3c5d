package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// RateLimitError marks a rejection for exceeding a provider or agent rate
// limit. It is the only error class the retry policy acts on.
type RateLimitError struct {
	err error
}

func (e *RateLimitError) Error() string {
	return e.err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// NewRateLimitError wraps err as rate limited.
func NewRateLimitError(err error) error {
	return &RateLimitError{err: err}
}

// TimeoutError reports that a remote call exceeded its deadline. It is never
// retried.
type TimeoutError struct {
	Op  string
	err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.err)
}

func (e *TimeoutError) Unwrap() error {
	return e.err
}

// RetryExhaustedError is returned once every attempt allowed by a policy
// was rate limited.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// IsRateLimited reports whether err is, or wraps, a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ClassifyStatus converts a non-success HTTP status into an error, marking
// 429 responses as rate limited.
func ClassifyStatus(source string, statusCode int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	var err error
	if detail != "" {
		err = fmt.Errorf("%s error: %d %s: %s", source, statusCode, http.StatusText(statusCode), detail)
	} else {
		err = fmt.Errorf("%s error: %d %s", source, statusCode, http.StatusText(statusCode))
	}
	if statusCode == http.StatusTooManyRequests {
		return NewRateLimitError(err)
	}
	return err
}

// ClassifyTransport converts a transport failure. A deadline exceeded on the
// per-call context becomes a TimeoutError; cancellation by the caller is
// passed through unchanged.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, err: err}
	}
	return err
}

var statusTooMany = regexp.MustCompile(`(?i)\b(?:status|code|http)\W{0,3}429\b`)

// LooksRateLimited matches provider messages that signal throttling without
// a 429 status, such as JSON-RPC error payloads. A bare 429 only counts next
// to a status word, so identifiers containing those digits do not match.
func LooksRateLimited(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "ratelimit") ||
		statusTooMany.MatchString(message)
}

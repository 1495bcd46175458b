package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed model call.
type ErrorKind int

const (
	// KindUnknown is an error the client did not classify.
	KindUnknown ErrorKind = iota
	// KindTransient may succeed on retry or on another endpoint.
	KindTransient
	// KindFatal points at the request or configuration; retrying won't help.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// maxErrorBody caps the provider body quoted in an error message.
const maxErrorBody = 200

// CallError is a classified model call failure.
type CallError struct {
	Kind ErrorKind

	// StatusCode is the provider's HTTP status, or 0 when the call never
	// got an answer.
	StatusCode int

	err error
}

func (e *CallError) Error() string {
	return e.err.Error()
}

func (e *CallError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &CallError{Kind: KindTransient, err: err}
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &CallError{Kind: KindFatal, err: err}
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// ClassifyStatus turns a non-200 provider status into a CallError. Timeouts,
// rate limits and 5xx are transient; everything else is fatal.
func ClassifyStatus(statusCode int, body []byte) error {
	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}

	kind := KindFatal
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		kind = KindTransient
	}

	return &CallError{
		Kind:       kind,
		StatusCode: statusCode,
		err:        fmt.Errorf("model API error (status %d): %s", statusCode, msg),
	}
}

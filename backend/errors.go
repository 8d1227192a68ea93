package backend

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a submission failure.
type Kind int

const (
	// KindTransport covers connection failures and retryable server
	// responses (5xx, 408, 429).
	KindTransport Kind = iota
	// KindTimeout means the call exceeded its deadline.
	KindTimeout
	// KindRejected means the backend refused the job. Retrying cannot help.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified submission failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := "backend: " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool { return e.Kind != KindRejected }

// Transport wraps a connection-level failure.
func Transport(err error) *Error { return &Error{Kind: KindTransport, Err: err} }

// Timeout wraps a deadline failure.
func Timeout(err error) *Error { return &Error{Kind: KindTimeout, Err: err} }

// Rejected reports a refused submission.
func Rejected(statusCode int, message string) *Error {
	return &Error{Kind: KindRejected, StatusCode: statusCode, Message: message}
}

// KindOf classifies err. Unclassified errors count as transport failures,
// except deadline expiry which counts as a timeout.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) != KindRejected
}

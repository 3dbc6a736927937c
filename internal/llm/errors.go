package llm

import (
	"errors"
	"fmt"
)

// ErrorKind separates failures to reach a backend from failures it reported.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindBackend   ErrorKind = "backend"
)

var (
	// ErrUnsupportedDialect is returned when no extractor handles a dialect.
	ErrUnsupportedDialect = errors.New("unsupported backend dialect")
	// ErrMalformedResponse is returned when a body lacks the expected shape.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// CompletionError describes a failed backend call.
type CompletionError struct {
	Backend    string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *CompletionError) Error() string {
	msg := fmt.Sprintf("%s %s error", e.Backend, e.Kind)
	if e.StatusCode > 0 {
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

func (e *CompletionError) Unwrap() error { return e.Err }

// TransportError builds a CompletionError for a failure to reach the backend.
func TransportError(backend string, err error) *CompletionError {
	return &CompletionError{Backend: backend, Kind: KindTransport, Err: err}
}

// BackendError builds a CompletionError for an error reported by the backend.
func BackendError(backend string, status int, message string) *CompletionError {
	return &CompletionError{Backend: backend, Kind: KindBackend, StatusCode: status, Message: message}
}

// KindOf returns the kind of a completion failure, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

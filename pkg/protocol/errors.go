package protocol

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNonRetriable marks failures that retrying cannot fix.
	ErrNonRetriable = errors.New("non-retriable error")

	// ErrTransient marks failures of a side effect that may succeed when retried.
	ErrTransient = errors.New("transient error")
)

// NonRetriableError reports a configuration problem with a node.
type NonRetriableError struct {
	NodeID  string
	Field   string
	Message string
	Err     error
}

func (e *NonRetriableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *NonRetriableError) Unwrap() error {
	return e.Err
}

func (e *NonRetriableError) Is(target error) bool {
	return target == ErrNonRetriable
}

// NewConfigurationError creates a non-retriable error for a node field.
func NewConfigurationError(nodeID, field, message string) *NonRetriableError {
	return &NonRetriableError{NodeID: nodeID, Field: field, Message: message}
}

// NonRetriable wraps err so the runtime does not retry it.
func NonRetriable(nodeID string, err error) *NonRetriableError {
	return &NonRetriableError{NodeID: nodeID, Message: "non-retriable failure", Err: err}
}

// TransientError reports a side-effect failure worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// NewTransientError creates a transient error for the given operation.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// IsRetriable reports whether err may succeed on another attempt.
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, ErrNonRetriable) {
		return false
	}

	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IsNonRetriable checks if an error is a configuration failure.
func IsNonRetriable(err error) bool {
	return errors.Is(err, ErrNonRetriable)
}

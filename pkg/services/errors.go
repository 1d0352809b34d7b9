// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidGraph      = errors.New("invalid workflow graph")
	ErrInvalidNodeData   = errors.New("invalid node data")
	ErrUnknownVariable   = errors.New("template references an undeclared variable")
	ErrDuplicateInitial  = errors.New("workflow must have at most one INITIAL node")
	ErrNoWebhookTrigger  = errors.New("workflow has no webhook trigger")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrMissingOwner      = errors.New("owner is required")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrInvalidNodeData) ||
		errors.Is(err, ErrUnknownVariable) ||
		errors.Is(err, ErrDuplicateInitial) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrMissingOwner)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

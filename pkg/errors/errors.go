package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeProvider indicates a generative provider call failed
	// (network, timeout, non-2xx status or empty reply)
	ErrorTypeProvider ErrorType = "PROVIDER"

	// ErrorTypeCircuitOpen indicates a provider was skipped because its
	// breaker is open
	ErrorTypeCircuitOpen ErrorType = "CIRCUIT_OPEN"

	// ErrorTypeParse indicates a provider reply could not be interpreted
	ErrorTypeParse ErrorType = "PARSE"

	// ErrorTypeCancelled indicates the caller cancelled the request
	ErrorTypeCancelled ErrorType = "CANCELLED"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewProviderError creates a new provider failure
func NewProviderError(provider string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeProvider,
		Message: provider,
		Err:     err,
	}
}

// NewCircuitOpenError creates an error for a provider skipped by its breaker
func NewCircuitOpenError(provider string) *AppError {
	return &AppError{
		Type:    ErrorTypeCircuitOpen,
		Message: provider + " circuit is open",
	}
}

// ParseError keeps the raw provider reply that could not be interpreted.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unparsable provider reply: %v", ErrorTypeParse, e.Err)
	}
	return fmt.Sprintf("%s: unparsable provider reply", ErrorTypeParse)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewCancelledError creates a new cancellation error
func NewCancelledError(err error) *AppError {
	return &AppError{
		Type:    ErrorTypeCancelled,
		Message: "request cancelled",
		Err:     err,
	}
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

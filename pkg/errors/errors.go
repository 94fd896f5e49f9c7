// pkg/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// Sprintf is a convenience function for fmt.Sprintf
func Sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

// Sentinel errors shared across domains
var (
	// ErrNotFound indicates the requested state path or record is undefined
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyExists indicates a record is already registered
	ErrAlreadyExists = errors.New("resource already exists")
	// ErrInvalidInput indicates malformed command arguments
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotConnected indicates the bridge connection is not established
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout indicates an operation exceeded its deadline
	ErrTimeout = errors.New("operation timed out")
	// ErrUnavailable indicates a collaborator is unreachable
	ErrUnavailable = errors.New("service unavailable")
	// ErrInternal indicates an unexpected internal failure
	ErrInternal = errors.New("internal error")
)

// Unwrap provides compatibility with the standard errors package
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Is provides compatibility with the standard errors package
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As provides compatibility with the standard errors package
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New creates a new error with the given message
func New(message string) error {
	return errors.New(message)
}

// Error represents a domain error with additional context
type Error struct {
	// Original is the original error
	Original error
	// Domain is the domain of the error (e.g., "bridge", "txqueue", "dispatch")
	Domain string
	// Code is a machine-readable error code
	Code string
	// Message is a human-readable error message
	Message string
	// Operation is the operation that failed (e.g., "Dial", "Broadcast")
	Operation string
	// Fields contains additional context about the error
	Fields map[string]interface{}
}

// Error implements the error interface.
// Format: [Domain.Operation] Code=CODE: Message: Original
func (e *Error) Error() string {
	out := "["
	if e.Domain != "" {
		out += e.Domain
		if e.Operation != "" {
			out += "." + e.Operation
		}
	} else if e.Operation != "" {
		out += e.Operation
	}
	out += "] "

	if e.Code != "" {
		out += "Code=" + e.Code + ": "
	}
	if e.Message != "" {
		out += e.Message
	}
	if e.Original != nil {
		if e.Message != "" {
			out += ": "
		}
		out += e.Original.Error()
	}

	return out
}

// Unwrap implements the errors.Unwrapper interface
func (e *Error) Unwrap() error {
	return e.Original
}

// Wrap wraps an error with a message
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		clone := *domainErr
		clone.Message = message
		return &clone
	}

	return &Error{Original: err, Message: message}
}

// WrapWithDomain wraps an error with a domain
func WrapWithDomain(err error, domain string) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		clone := *domainErr
		clone.Domain = domain
		return &clone
	}

	return &Error{Original: err, Domain: domain}
}

// WrapWithOperation wraps an error with an operation
func WrapWithOperation(err error, operation string) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		clone := *domainErr
		clone.Operation = operation
		return &clone
	}

	return &Error{Original: err, Operation: operation}
}

// WrapWithCode wraps an error with a code
func WrapWithCode(err error, code string) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		clone := *domainErr
		clone.Code = code
		return &clone
	}

	return &Error{Original: err, Code: code}
}

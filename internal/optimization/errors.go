package optimization

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error produced by this module carries one of these so
// callers can classify failures with errors.Is.
var (
	// ErrInvalidConfig reports an unknown or mistyped optimizer option.
	ErrInvalidConfig = errors.New("invalid optimizer configuration")
	// ErrInvalidRequest reports a malformed optimization request.
	ErrInvalidRequest = errors.New("invalid optimization request")
	// ErrSolver reports a failure raised by the underlying minimizer.
	ErrSolver = errors.New("solver failure")
	// ErrObjective reports a failure returned by the objective or gradient.
	ErrObjective = errors.New("objective evaluation failed")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the error. It is one of the Err* sentinels.
	Kind error
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	if e == nil || e.Kind == nil {
		return false
	}
	return e.Kind == target
}

// WithKind sets the error kind.
func (e *Error) WithKind(kind error) *Error {
	e.Kind = kind
	return e
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsOptimizationError checks if an error is of type Error.
// If the error, or any error it wraps, is an optimization error, it returns
// that error and true. Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// configError builds an ErrInvalidConfig error for the named option.
func configError(option, format string, args ...interface{}) *Error {
	return NewErrorf(format, args...).
		WithKind(ErrInvalidConfig).
		WithOperation("validate").
		WithComponent("option " + option)
}

// requestError builds an ErrInvalidRequest error.
func requestError(format string, args ...interface{}) *Error {
	return NewErrorf(format, args...).
		WithKind(ErrInvalidRequest).
		WithOperation("validate request")
}

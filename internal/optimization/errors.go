package optimization

import "fmt"

// Kind classifies an optimization error. The trust-region loop uses the
// kind to decide whether a failure is absorbed (evaluation, fit, solve)
// or surfaced to the caller (configuration, repeated solve failures).
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindConfig marks an invalid constructor argument; raised eagerly,
	// never deferred to Optimize.
	KindConfig
	// KindEvaluation marks a simulator or constraint function failure;
	// the point is recorded as worst-case infeasible and the loop continues.
	KindEvaluation
	// KindFit marks a degenerate surrogate fit; triggers forced
	// re-sampling rather than aborting.
	KindFit
	// KindSolve marks a convex subproblem failure; the loop falls back
	// to the best known feasible point.
	KindSolve
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the error for the loop's recovery policy.
	Kind Kind
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

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
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
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// ConfigErrorf creates a configuration error with a formatted message.
func ConfigErrorf(format string, args ...interface{}) *Error {
	return NewErrorf(KindConfig, format, args...)
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an optimization error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := IsOptimizationError(err)
	return ok && e.Kind == kind
}

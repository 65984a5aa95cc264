package fault

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers branch with
// errors.Is; detail travels in the wrapped message.
var (
	// ErrValidation marks bad arguments or a sanitization rejection. The
	// tool was never executed.
	ErrValidation = errors.New("validation error")

	// ErrPermissionDenied marks an explicit or timeout-default deny. The
	// tool was never executed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrHandler marks a tool that executed but failed. Partial side
	// effects are possible and must be reported faithfully.
	ErrHandler = errors.New("handler error")

	// ErrResourceLimit marks a round, wall-clock, or call budget hit. The
	// run terminated and is not retried.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrProvider marks a model boundary that was unavailable or errored.
	ErrProvider = errors.New("provider error")
)

// Validation wraps a message as a validation error.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Denied wraps a message as a permission denial.
func Denied(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

// Handler wraps a tool execution failure, preserving the cause.
func Handler(tool string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrHandler, tool, cause)
}

// ResourceLimit wraps a budget violation.
func ResourceLimit(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrResourceLimit, fmt.Sprintf(format, args...))
}

// Provider wraps a model boundary failure, preserving the cause.
func Provider(cause error) error {
	return fmt.Errorf("%w: %v", ErrProvider, cause)
}

// Kind returns the taxonomy label for an error, or "internal" if the error
// is outside the taxonomy. Used for audit records and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrHandler):
		return "handler_error"
	case errors.Is(err, ErrResourceLimit):
		return "resource_limit"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	default:
		return "internal"
	}
}

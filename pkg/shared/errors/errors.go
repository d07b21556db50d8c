package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrTransient marks a failure worth retrying: timeouts, throttling, upstream 5xx.
	ErrTransient = stderrors.New("transient failure")
	// ErrCircuitOpen is returned without calling the backend while the breaker is open.
	ErrCircuitOpen = stderrors.New("circuit breaker is open")
	// ErrMalformedOutput marks an oracle response that could not be parsed.
	ErrMalformedOutput = stderrors.New("malformed oracle output")
)

// ConfigError is the only error class that fails a task outright.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(field, format string, args ...interface{}) error {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return stderrors.As(err, &cfgErr)
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// CommandError represents a failed CLI command together with its exit code.
type CommandError struct {
	ExitCode    int
	CommonError string
	Result      interface{}
}

// Error implements the error interface, returning the message from the common error.
func (e *CommandError) Error() string {
	return e.CommonError
}

// NewCommandError creates a new CommandError, keeping whatever partial result the command produced.
func NewCommandError(result interface{}, err error, code int) *CommandError {
	return &CommandError{
		ExitCode:    code,
		CommonError: err.Error(),
		Result:      result,
	}
}

package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrInvalidRequest = errors.New("invalid execution request")
	ErrStaging        = errors.New("staging source artifact failed")
	ErrSpawn          = errors.New("spawning interpreter failed")
	ErrCanceled       = errors.New("execution canceled by caller")
	ErrCapacity       = errors.New("no execution slot available")
	ErrClosed         = errors.New("sandbox is shut down")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsCapacity returns true if the request was turned away for lack of a slot.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}

// IsInfrastructure reports whether err is a service-side failure rather
// than something the submitter did.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrStaging) || errors.Is(err, ErrSpawn) || errors.Is(err, ErrClosed)
}

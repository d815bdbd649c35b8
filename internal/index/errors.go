package index

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every lookup miss. Callers should read it as
// "no implementors known yet": more shards may still arrive.
var ErrNotFound = errors.New("no records registered")

// NotFoundError reports the unit name a lookup or expansion missed.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError is returned for a malformed shard. A shard that fails
// validation is never partially applied.
type ValidationError struct {
	Reason string
	cause  error
}

func (e *ValidationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("invalid shard: %s: %v", e.Reason, e.cause)
	}
	return "invalid shard: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.cause }

func invalid(cause error, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...), cause: cause}
}

package management

import (
	"errors"
	"fmt"
)

// ErrNodeNotFound is returned by the API when the named node does not exist
var ErrNodeNotFound = errors.New("node not found")

// TransientError marks a failure worth retrying: the coordinator was
// unreachable, timed out or reported itself busy.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError is any other API failure (auth rejected, malformed request).
// It is never retried.
type FatalError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsTransient checks if err is retryable
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal checks if err is a non-retryable API failure
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

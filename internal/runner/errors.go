package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCommand is returned for an empty argv.
	ErrEmptyCommand = errors.New("empty argv")

	// ErrTimeoutExceeded is set on runs stopped by the wall-clock timeout.
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrUserCancelled is set on runs stopped by the skip token or by the
	// caller's context.
	ErrUserCancelled = errors.New("cancelled by user")
)

// SpawnError reports a command that could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// NonZeroExitError reports a command that exited with a failure status.
type NonZeroExitError struct {
	Code int
}

func (e *NonZeroExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

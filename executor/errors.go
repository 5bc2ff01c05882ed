package executor

import "errors"

// Sentinel errors for the executor package.
var (
	// ErrAlreadyRunning is returned when Start is called on a running executor.
	ErrAlreadyRunning = errors.New("executor is already running")

	// ErrNotRunning is returned when tasks are submitted to a stopped executor.
	ErrNotRunning = errors.New("executor is not running")

	// ErrNilTask is returned when a nil task is submitted.
	ErrNilTask = errors.New("task cannot be nil")
)

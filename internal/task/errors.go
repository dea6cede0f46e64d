package task

import "errors"

// Common engine errors.
var (
	// ErrTaskNotFound is returned when no task exists for a course.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNodeNotFound is returned when a task has no node with the given ID.
	ErrNodeNotFound = errors.New("node not found")

	// ErrItemNotFound is returned when no queue item has the given UUID.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrItemNotRetryable is returned when Retry targets an item that has not
	// failed.
	ErrItemNotRetryable = errors.New("only failed queue items can be retried")

	// ErrUnknownKind is returned for an item kind with no executor.
	ErrUnknownKind = errors.New("unknown queue item kind")

	// ErrStopRequested is recorded on an item cut short by a pause.
	ErrStopRequested = errors.New("generation stopped")

	// ErrExecutorPanic wraps a panic recovered while executing an item.
	ErrExecutorPanic = errors.New("executor panicked")

	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("engine is already running")

	// ErrSnapshotVersion is returned by Restore for an unknown snapshot version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

package scheduler

import "errors"

var (
	// ErrNotFound is returned for ids that are not currently scheduled.
	// Terminal tasks leave the schedule, so a completed task is "not found".
	ErrNotFound = errors.New("scheduler: task not found")

	// ErrNotPending is returned when an operation needs a task that is not
	// mid-execution, e.g. snoozing a running task.
	ErrNotPending = errors.New("scheduler: task is not pending")

	// ErrExecutionTimeout marks an execution that outlived its deadline.
	ErrExecutionTimeout = errors.New("scheduler: execution timed out")
)

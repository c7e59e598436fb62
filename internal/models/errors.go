package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for build admission and commits.
var (
	ErrNoBaseVersion  = errors.New("no ready version to update from")
	ErrNoReadyVersion = errors.New("no ready version")
	ErrStaleTask      = errors.New("task is not the current task")
	ErrEmptyData      = errors.New("data hook returned no text")
)

// TaskConflictError is returned when the admission CAS loses: another task
// holds the BUILDING/UPDATING state. It carries the observed state so the
// caller can report what is running.
type TaskConflictError struct {
	State       KGState
	CurrentTask *TaskInfo
}

// Error implements the error interface.
func (e *TaskConflictError) Error() string {
	return fmt.Sprintf("task running: status=%s task_id=%v", e.State.Status, e.State.CurrentTaskID)
}

// ErrFieldInvalid returns an error for a rejected request field.
func ErrFieldInvalid(field, reason string) error {
	return fmt.Errorf("%s %s", field, reason)
}

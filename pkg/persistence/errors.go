// Package persistence provides standardized error types shared by all
// storage backends.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphNotFound indicates no graph exists for the given id.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrRunNotFound indicates no run exists for the given id.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunConflict indicates a conditional run update lost a version
	// race; the caller must reload and retry under the run lock.
	ErrRunConflict = errors.New("run version conflict")

	// ErrValidationNotFound indicates no validation instance exists for
	// the given id.
	ErrValidationNotFound = errors.New("validation instance not found")

	// ErrEventNotFound indicates no event record exists for the given id.
	ErrEventNotFound = errors.New("event not found")

	// ErrTaskNotFound indicates no task exists for the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrRequestNotFound indicates no request exists for the given id.
	ErrRequestNotFound = errors.New("request not found")
)

// RunError wraps run-related storage errors with operation context.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a run storage error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// IsGraphNotFound checks if an error indicates a missing graph.
func IsGraphNotFound(err error) bool {
	return errors.Is(err, ErrGraphNotFound)
}

// IsRunNotFound checks if an error indicates a missing run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsRunConflict checks if an error indicates a lost version race.
func IsRunConflict(err error) bool {
	return errors.Is(err, ErrRunConflict)
}

// IsValidationNotFound checks if an error indicates a missing validation
// instance.
func IsValidationNotFound(err error) bool {
	return errors.Is(err, ErrValidationNotFound)
}

// IsTaskNotFound checks if an error indicates a missing task.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsRequestNotFound checks if an error indicates a missing request.
func IsRequestNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound)
}

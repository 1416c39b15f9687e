// Package syncerr provides the error types shared by the contentsync
// packages.
package syncerr

import (
	"fmt"
	"time"
)

// RetryableError marks an error of an operation that can be repeated.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time that the operation can be retried
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}

// Step identifies a step of the sync workflow.
type Step string

const (
	StepResolveBaseBranch Step = "resolving base branch"
	StepRender            Step = "rendering templates"
	StepGetFile           Step = "retrieving file"
	StepCompare           Step = "comparing content"
	StepGetBranch         Step = "retrieving base branch head"
	StepCreateBranch      Step = "creating branch"
	StepUpdateFile        Step = "updating file"
	StepCreatePullRequest Step = "creating pull request"
)

// StepError is returned when a step of the sync workflow failed.
// The message of the wrapped error is passed through unchanged.
type StepError struct {
	Step Step
	Err  error
}

func NewStepError(step Step, err error) *StepError {
	return &StepError{Step: step, Err: err}
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Step, e.Err)
}

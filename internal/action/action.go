// Package action holds the single-use contract shared by async actions: an
// action is entered exactly once and completes exactly once. Anything else is
// a programming error and panics with a *UsageError.
package action

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrAlreadyStarted is raised when an action's entry point is called twice
	ErrAlreadyStarted = errors.New("action already started")

	// ErrAlreadyCompleted is raised when an action tries to deliver a second result
	ErrAlreadyCompleted = errors.New("action already completed")

	// ErrNotStarted is raised when an action completes without being started
	ErrNotStarted = errors.New("action completed before it was started")
)

// UsageError reports a violation of the single-use contract
type UsageError struct {
	Action string
	Err    error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// Once enforces a single entry and a single completion. The zero value is
// ready to use.
type Once struct {
	started   atomic.Bool
	completed atomic.Bool
}

// Enter marks the action as started, panicking if it already was.
func (o *Once) Enter(name string) {
	if !o.started.CompareAndSwap(false, true) {
		panic(&UsageError{Action: name, Err: ErrAlreadyStarted})
	}
}

// Complete marks the action as completed, panicking if it was never started
// or already completed.
func (o *Once) Complete(name string) {
	if !o.started.Load() {
		panic(&UsageError{Action: name, Err: ErrNotStarted})
	}
	if !o.completed.CompareAndSwap(false, true) {
		panic(&UsageError{Action: name, Err: ErrAlreadyCompleted})
	}
}

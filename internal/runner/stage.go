package runner

import (
	"fmt"
)

// Stage is one step of an end-to-end run. Stages only ever advance in
// declaration order.
type Stage int

const (
	PullingImage Stage = iota + 1
	RunningContainer
	WaitingForExit
	FetchingLogs
	DeletingContainer
)

func (s Stage) String() string {
	switch s {
	case PullingImage:
		return "pulling-image"
	case RunningContainer:
		return "running-container"
	case WaitingForExit:
		return "waiting-for-exit"
	case FetchingLogs:
		return "fetching-logs"
	case DeletingContainer:
		return "deleting-container"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// FailureDetail says whether a run failed and, if so, at which stage. The
// zero value means success.
type FailureDetail struct {
	Failed bool
	Stage  Stage
}

// Succeeded is the failure detail of a successful run
var Succeeded = FailureDetail{}

// Failed returns the failure detail for a run that failed at s
func Failed(s Stage) FailureDetail {
	return FailureDetail{Failed: true, Stage: s}
}

// OK reports whether the detail describes a successful run
func (f FailureDetail) OK() bool {
	return !f.Failed
}

func (f FailureDetail) String() string {
	if !f.Failed {
		return "ok"
	}
	return f.Stage.String()
}

// StageError is the error carried by a failed run. It wraps whatever the
// engine reported for the failing stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

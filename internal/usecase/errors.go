package usecase

import "fmt"

// Step names one side-effecting stage of the relay pipeline.
type Step string

const (
	StepRecordInbound  Step = "record_inbound"
	StepCompletion     Step = "completion"
	StepDispatch       Step = "dispatch"
	StepRecordResponse Step = "record_response"
)

// Error is the failure value returned by a pipeline step. Steps never abort
// the pipeline; their errors are collected on the Outcome.
type Error struct {
	Step   Step
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Step, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Step, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(step Step, reason string, err error) *Error {
	return &Error{Step: step, Reason: reason, Err: err}
}

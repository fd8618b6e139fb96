package types

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies the pipeline step an error came from.
type Stage string

const (
	StageExecute Stage = "execute"
	StageBuild   Stage = "build"
	StageUpload  Stage = "upload"
	StageVerify  Stage = "verify"
)

// StageError tags an error with the stage that produced it. The pipeline
// returns one of these for every fatal condition.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with its stage. A nil err yields nil.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage returns the stage recorded on err, if any.
func FailedStage(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}

// EnvironmentError represents a missing or invalid project, binary or
// credential. It is never retried.
type EnvironmentError struct {
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment error: %v", e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// NewEnvironmentError creates a new EnvironmentError
func NewEnvironmentError(err error) *EnvironmentError {
	return &EnvironmentError{Err: err}
}

// IsEnvironmentError checks if the error is or wraps an EnvironmentError
func IsEnvironmentError(err error) bool {
	var envErr *EnvironmentError
	return err != nil && errors.As(err, &envErr)
}

// HarnessFailure is returned when the test harness exits non-zero, times
// out, or does not report a recognisable summary.
type HarnessFailure struct {
	ExitCode   int
	TimedOut   bool
	StderrTail string
	Reason     string
}

func (e *HarnessFailure) Error() string {
	var b strings.Builder
	b.WriteString("harness failure: ")
	switch {
	case e.TimedOut:
		b.WriteString("deadline exceeded")
	case e.Reason != "":
		b.WriteString(e.Reason)
	default:
		fmt.Fprintf(&b, "exit code %d", e.ExitCode)
	}
	if e.StderrTail != "" {
		b.WriteString("\nstderr: ")
		b.WriteString(e.StderrTail)
	}
	return b.String()
}

// IsHarnessFailure checks if the error is or wraps a HarnessFailure
func IsHarnessFailure(err error) bool {
	var harnessErr *HarnessFailure
	return err != nil && errors.As(err, &harnessErr)
}

// InvariantViolation means manifest data is inconsistent. It points at a bug
// in the supplied breakdown and is never corrected automatically.
type InvariantViolation struct {
	Violations []Violation
}

func (e *InvariantViolation) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "invariant violation: " + strings.Join(parts, "; ")
}

// IsInvariantViolation checks if the error is or wraps an InvariantViolation
func IsInvariantViolation(err error) bool {
	var invErr *InvariantViolation
	return err != nil && errors.As(err, &invErr)
}

// TransportFailure is a network or HTTP failure talking to the gateway that
// persisted after the retry budget was spent.
type TransportFailure struct {
	Method     string
	URL        string
	Attempts   int
	HTTPStatus int // last status observed, 0 if no response was received
	Err        error
}

func (e *TransportFailure) Error() string {
	msg := fmt.Sprintf("transport failure: %s %s after %d attempt(s)", e.Method, e.URL, e.Attempts)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(", last status %d", e.HTTPStatus)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// IsTransportFailure checks if the error is or wraps a TransportFailure
func IsTransportFailure(err error) bool {
	var transportErr *TransportFailure
	return err != nil && errors.As(err, &transportErr)
}

// Mismatch is a single failed verification check.
type Mismatch struct {
	Check    string
	Expected string
	Actual   string
}

// VerificationMismatch means the persisted manifest disagrees with what was
// sent. It signals storage corruption or a concurrent writer.
type VerificationMismatch struct {
	ObjectKey  string
	Mismatches []Mismatch
}

func (e *VerificationMismatch) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = fmt.Sprintf("%s: expected %s, got %s", m.Check, m.Expected, m.Actual)
	}
	return fmt.Sprintf("verification mismatch for %s: %s", e.ObjectKey, strings.Join(parts, "; "))
}

// IsVerificationMismatch checks if the error is or wraps a VerificationMismatch
func IsVerificationMismatch(err error) bool {
	var mismatchErr *VerificationMismatch
	return err != nil && errors.As(err, &mismatchErr)
}

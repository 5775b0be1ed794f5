// Package joberrors defines the closed error taxonomy for job runs.
//
// Every terminal condition of a run maps to exactly one member of the
// taxonomy before it reaches the outcome record. Classification is
// total: an error that is not a declared member classifies as a
// dispatcher bug (LAVABug), never as an unreported failure.
package joberrors

import (
	"errors"
	"fmt"
)

// Kind is the stable error-kind tag reported in the outcome record.
//
// NOTE: These values are part of the reporting contract consumed by
// the scheduler; do not rename.
type Kind string

const (
	KindInfrastructure Kind = "Infrastructure"
	KindJob            Kind = "Job"
	KindConfiguration  Kind = "Configuration"
	KindTest           Kind = "Test"
	KindCanceled       Kind = "Canceled"
	KindBug            Kind = "LAVABug"
)

// Classified is implemented by every member of the taxonomy.
type Classified interface {
	error
	Kind() Kind
	Hint() string
}

// InfrastructureError covers environment and setup failures outside
// the job's own logic: unreadable device dictionaries, output
// directory creation failures, missing host tools.
type InfrastructureError struct {
	Msg string
	Err error
}

func (e *InfrastructureError) Error() string { return message(e.Msg, e.Err) }
func (e *InfrastructureError) Unwrap() error { return e.Err }
func (e *InfrastructureError) Kind() Kind    { return KindInfrastructure }
func (e *InfrastructureError) Hint() string {
	return "The infrastructure is not working correctly. Please report this error to the admins."
}

// JobError covers problems with the submitted job itself: an
// unreadable or malformed definition, an empty pipeline.
type JobError struct {
	Msg string
	Err error
}

func (e *JobError) Error() string { return message(e.Msg, e.Err) }
func (e *JobError) Unwrap() error { return e.Err }
func (e *JobError) Kind() Kind    { return KindJob }
func (e *JobError) Hint() string {
	return "Check the job definition; the job cannot run as submitted."
}

// ConfigurationError covers invalid dispatcher or device
// configuration supplied alongside the job.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string { return message(e.Msg, e.Err) }
func (e *ConfigurationError) Unwrap() error { return e.Err }
func (e *ConfigurationError) Kind() Kind    { return KindConfiguration }
func (e *ConfigurationError) Hint() string {
	return "The dispatcher is not configured correctly. Please report this error to the admins."
}

// TestError covers failures raised by the executing test actions.
type TestError struct {
	Msg string
	Err error
}

func (e *TestError) Error() string { return message(e.Msg, e.Err) }
func (e *TestError) Unwrap() error { return e.Err }
func (e *TestError) Kind() Kind    { return KindTest }
func (e *TestError) Hint() string {
	return "A test failed to run; look at the error message."
}

// JobCanceled is raised when an external termination signal arrives.
// Escalated marks the second-stage posture after a further signal.
type JobCanceled struct {
	Escalated bool
}

func (e *JobCanceled) Error() string {
	if e.Escalated {
		return "The job was canceled again (too long to cancel)"
	}
	return "The job was canceled"
}
func (e *JobCanceled) Kind() Kind { return KindCanceled }
func (e *JobCanceled) Hint() string {
	return "The job was canceled by an external request."
}

// Bug is the catch-all for unanticipated failures: panics, programming
// defects, anything outside the declared taxonomy. Reported under the
// LAVABug kind tag.
type Bug struct {
	Err error
}

func (e *Bug) Error() string {
	if e.Err == nil {
		return "unknown internal error"
	}
	return e.Err.Error()
}
func (e *Bug) Unwrap() error { return e.Err }
func (e *Bug) Kind() Kind    { return KindBug }
func (e *Bug) Hint() string {
	return "This is probably a bug in the dispatcher, please report it."
}

// Classification is the terminal form of an error: the message, hint
// and kind tag that reach the outcome record.
type Classification struct {
	Message string
	Hint    string
	Kind    Kind
}

// Classify maps any error onto the taxonomy. Declared members keep
// their own message, hint and kind; everything else becomes a bug.
// Classify is total and never returns a zero Classification for a
// non-nil error.
func Classify(err error) Classification {
	var c Classified
	if errors.As(err, &c) {
		return Classification{Message: c.Error(), Hint: c.Hint(), Kind: c.Kind()}
	}
	bug := &Bug{Err: err}
	return Classification{Message: bug.Error(), Hint: bug.Hint(), Kind: bug.Kind()}
}

func message(msg string, err error) string {
	switch {
	case msg == "" && err == nil:
		return "unknown error"
	case msg == "":
		return err.Error()
	case err == nil:
		return msg
	default:
		return fmt.Sprintf("%s: %v", msg, err)
	}
}

// Compile-time checks that every member implements Classified.
var (
	_ Classified = (*InfrastructureError)(nil)
	_ Classified = (*JobError)(nil)
	_ Classified = (*ConfigurationError)(nil)
	_ Classified = (*TestError)(nil)
	_ Classified = (*JobCanceled)(nil)
	_ Classified = (*Bug)(nil)
)

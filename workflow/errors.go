package workflow

import (
	"errors"
	"fmt"

	"github.com/fortressi/feesaga/gateway"
	"github.com/fortressi/feesaga/retry"
)

// Kind classifies why a fee saga did not complete.
type Kind int

const (
	// ValidationFailure: the request did not pass the validate step.
	ValidationFailure Kind = iota + 1
	// StepExecutionFailure: a retry-wrapped step failed. The saga may be
	// run again.
	StepExecutionFailure
	// ComplianceRejected: the compliance workflow returned a negative
	// verdict.
	ComplianceRejected
	// CrossCallFailure: the compliance workflow could not be reached.
	CrossCallFailure
	// PersistenceFailure: the transaction or the saga journal could not be
	// stored.
	PersistenceFailure
)

var kindNames = map[Kind]string{
	ValidationFailure:    "ValidationFailure",
	StepExecutionFailure: "StepExecutionFailure",
	ComplianceRejected:   "ComplianceRejected",
	CrossCallFailure:     "CrossCallFailure",
	PersistenceFailure:   "PersistenceFailure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrNotCompliant is the cause of a ComplianceRejected failure.
var ErrNotCompliant = errors.New("compliance check failed")

// ErrInvalidRequest is the cause of a ValidationFailure.
var ErrInvalidRequest = errors.New("transaction validation failed")

// Error is the terminal failure of a fee saga.
type Error struct {
	Kind          Kind
	TransactionID string
	// Step is the step that failed, empty when the saga could not start.
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s for %s: %v", e.Kind, e.TransactionID, e.Err)
	}
	return fmt.Sprintf("%s for %s at %s: %v", e.Kind, e.TransactionID, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a saga failure, or 0 when err is not one.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return 0
}

// classify turns whatever the executor returned into an *Error. Errors the
// steps did not classify themselves are sorted by their sentinel; anything
// else happened in the journal and counts as a persistence fault.
func classify(transactionID string, err error) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}

	kind := PersistenceFailure
	switch {
	case errors.Is(err, retry.ErrStepExecution):
		kind = StepExecutionFailure
	case errors.Is(err, gateway.ErrCrossCall):
		kind = CrossCallFailure
	}
	return &Error{Kind: kind, TransactionID: transactionID, Err: err}
}

// Package retry keeps per-step attempt counters and fails the first attempts
// of every step on purpose.
//
// Each saga step is wrapped so that its first maxFailures invocations for a
// given entity fail without running the step body. The saga invocation fails
// with it, and the caller (the durable-execution substrate, or workflow.Runner
// in process) invokes the saga again with the same entity ID; the counter
// advances and the step eventually runs. This demonstrates replay semantics.
// It does not recover from real transient faults.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrStepExecution is the sentinel wrapped by every StepExecutionError.
var ErrStepExecution = errors.New("step execution failure")

// Key identifies one step of one entity.
type Key struct {
	EntityID string
	Step     string
}

func (k Key) String() string {
	return k.EntityID + ":" + k.Step
}

// StepExecutionError is returned for an attempt that was failed on purpose.
type StepExecutionError struct {
	Key         Key
	Attempt     int64
	MaxFailures int
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("error in step '%s' for %s (attempt %d of %d forced failures)",
		e.Key.Step, e.Key.EntityID, e.Attempt, e.MaxFailures)
}

// Unwrap lets errors.Is match ErrStepExecution.
func (e *StepExecutionError) Unwrap() error {
	return ErrStepExecution
}

// Tracker owns the attempt counters. Counters live as long as the Tracker and
// never decrease. A Tracker is safe for concurrent use.
type Tracker struct {
	counters *xsync.MapOf[Key, *atomic.Int64]
	logger   *slog.Logger
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		counters: xsync.NewMapOf[Key, *atomic.Int64](),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used for attempt logging.
func (t *Tracker) WithLogger(logger *slog.Logger) *Tracker {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// next increments and returns the attempt counter for key.
func (t *Tracker) next(key Key) int64 {
	counter, _ := t.counters.LoadOrCompute(key, func() *atomic.Int64 {
		return new(atomic.Int64)
	})
	return counter.Add(1)
}

// Attempts returns how many times the step for key has been invoked.
func (t *Tracker) Attempts(key Key) int64 {
	counter, ok := t.counters.Load(key)
	if !ok {
		return 0
	}
	return counter.Load()
}

// Execute counts an attempt for key. While the attempt number is at most
// maxFailures it returns a *StepExecutionError without calling op; after
// that it returns op's result.
func Execute[R any](ctx context.Context, t *Tracker, key Key, maxFailures int, op func(context.Context) (R, error)) (R, error) {
	attempt := t.next(key)
	log := t.logger.With("transaction_id", key.EntityID, "step", key.Step, "attempt", attempt)
	log.Info("step attempt")

	if attempt <= int64(maxFailures) {
		var zero R
		err := &StepExecutionError{Key: key, Attempt: attempt, MaxFailures: maxFailures}
		log.Error("step failed", "error", err)
		return zero, err
	}

	if err := ctx.Err(); err != nil {
		var zero R
		return zero, err
	}

	result, err := op(ctx)
	if err != nil {
		return result, err
	}
	log.Info("step succeeded")
	return result, nil
}

package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fortressi/feesaga/transaction"
)

// DefaultMaxAttempts bounds how often a Runner invokes a saga.
const DefaultMaxAttempts = 20

// InvocationsNeeded returns how many invocations a saga needs to complete
// when each retry-wrapped step is forced to fail maxFailures times. Every
// step but the compliance check is wrapped.
func InvocationsNeeded(maxFailures int) uint64 {
	if maxFailures <= 0 {
		return 1
	}
	return uint64(len(Steps)-1)*uint64(maxFailures) + 1
}

// Runner re-invokes a fee saga after a StepExecutionFailure, the way a
// durable execution engine re-runs a workflow whose step threw. Completed
// steps are replayed from the journal on every invocation. Any other failure
// ends the run.
type Runner struct {
	workflow    *FeeWorkflow
	newBackOff  func() backoff.BackOff
	maxAttempts uint64
	logger      *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBackOff sets the policy between invocations. newBackOff is called once
// per Run.
func WithBackOff(newBackOff func() backoff.BackOff) RunnerOption {
	return func(r *Runner) {
		r.newBackOff = newBackOff
	}
}

// WithMaxAttempts bounds the invocations of one Run. Zero keeps the default,
// which is DefaultMaxAttempts or InvocationsNeeded for the workflow, whichever
// is larger.
func WithMaxAttempts(n uint64) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRunnerLogger sets the Runner's logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	return b
}

// NewRunner returns a Runner for w.
func NewRunner(w *FeeWorkflow, opts ...RunnerOption) *Runner {
	r := &Runner{
		workflow:    w,
		newBackOff:  defaultBackOff,
		maxAttempts: max(DefaultMaxAttempts, InvocationsNeeded(w.maxFailures)),
		logger:      w.logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run invokes the saga until it completes, fails with a kind other than
// StepExecutionFailure, runs out of attempts or ctx is done.
func (r *Runner) Run(ctx context.Context, req transaction.Request) (transaction.Response, error) {
	log := r.logger.With("transaction_id", req.TransactionID)

	var attempt uint64
	op := func() (transaction.Response, error) {
		attempt++
		resp, err := r.workflow.Run(ctx, req)
		if err == nil {
			return resp, nil
		}
		if KindOf(err) != StepExecutionFailure {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("re-invoking saga workflow", "attempt", attempt, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxAttempts-1), ctx)
	resp, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		log.Error("saga workflow gave up", "attempts", attempt, "error", err)
		return transaction.Response{}, err
	}
	return resp, nil
}

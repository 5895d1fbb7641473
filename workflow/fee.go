// Package workflow runs the fee saga: seven steps executed in order on the
// saga engine, with every business step except the compliance call wrapped
// by the step retry tracker.
//
// A saga is journaled under its transaction id. Running the same
// transaction again replays the steps that already completed, so a saga
// that failed part way resumes from the failed step and a completed saga
// returns its recorded response without touching the transaction store.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fortressi/feesaga"
	"github.com/fortressi/feesaga/compliance"
	"github.com/fortressi/feesaga/fee"
	"github.com/fortressi/feesaga/gateway"
	"github.com/fortressi/feesaga/retry"
	"github.com/fortressi/feesaga/transaction"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/shopspring/decimal"
)

// SagaName names the fee saga's DAG and journal entries.
const SagaName feesaga.SagaName = "FeeWorkflow"

// Step names. They name both the DAG nodes and the retry tracker keys.
const (
	StepValidate      = "validateTransaction"
	StepBaseFee       = "calculateBaseFee"
	StepDiscount      = "applyDiscounts"
	StepAdditionalFee = "applyAdditionalFees"
	StepCompliance    = "checkExternalCompliance"
	StepFinalize      = "finalizeFeeCalculation"
	StepPersist       = "persistTransaction"
)

// Steps lists the saga's steps in execution order.
var Steps = []string{
	StepValidate,
	StepBaseFee,
	StepDiscount,
	StepAdditionalFee,
	StepCompliance,
	StepFinalize,
	StepPersist,
}

// DefaultMaxFailures is how many attempts of each wrapped step fail before
// the step runs.
const DefaultMaxFailures = 2

// completedSteps is reported in the final description; it counts the steps
// that shape the fee response, persistence excluded.
const completedSteps = 6

// FeeSaga is the saga context: the request the saga was started with.
type FeeSaga struct {
	Request transaction.Request
}

func (s *FeeSaga) ExecContext() transaction.Request {
	return s.Request
}

// Journal stores fee saga journals.
type Journal = feesaga.Store[transaction.Request]

// Config holds the collaborators of a FeeWorkflow. Gateway and Transactions
// are required.
type Config struct {
	Gateway      gateway.Gateway
	Transactions transaction.Store
	// Journal defaults to an in-memory journal.
	Journal Journal
	// Tracker defaults to a new tracker owned by the workflow.
	Tracker     *retry.Tracker
	MaxFailures int
	Metrics     *Metrics
	Logger      *slog.Logger
	// Now defaults to time.Now. It stamps persisted transactions.
	Now func() time.Time
}

// FeeWorkflow is the fee saga orchestrator.
type FeeWorkflow struct {
	gateway     gateway.Gateway
	service     *transaction.Service
	journal     Journal
	tracker     *retry.Tracker
	maxFailures int
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time

	registry *feesaga.ActionRegistry[transaction.Request, *FeeSaga]
	dag      *feesaga.SagaDag

	// One run per transaction id at a time.
	locks *xsync.MapOf[string, *runLock]
}

// New builds the fee saga DAG and returns its orchestrator.
func New(cfg Config) (*FeeWorkflow, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("fee workflow needs a gateway")
	}
	if cfg.Transactions == nil {
		return nil, errors.New("fee workflow needs a transaction store")
	}

	w := &FeeWorkflow{
		gateway:     cfg.Gateway,
		service:     transaction.NewService(cfg.Transactions),
		journal:     cfg.Journal,
		tracker:     cfg.Tracker,
		maxFailures: cfg.MaxFailures,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
		registry:    feesaga.NewActionRegistry[transaction.Request, *FeeSaga](),
		locks:       xsync.NewMapOf[string, *runLock](),
	}
	if w.journal == nil {
		w.journal = feesaga.NewMemoryStore[transaction.Request]()
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.tracker == nil {
		w.tracker = retry.NewTracker().WithLogger(w.logger)
	}
	if w.maxFailures < 0 {
		w.maxFailures = 0
	}
	if w.metrics == nil {
		w.metrics = NewMetrics(nil)
	}
	if w.now == nil {
		w.now = time.Now
	}

	d, err := w.buildDag()
	if err != nil {
		return nil, fmt.Errorf("build fee saga: %w", err)
	}
	w.dag = feesaga.NewSagaDag(d, nil)
	return w, nil
}

// Dag returns the fee saga DAG.
func (w *FeeWorkflow) Dag() *feesaga.SagaDag {
	return w.dag
}

// Tracker returns the retry tracker the wrapped steps count attempts on.
func (w *FeeWorkflow) Tracker() *retry.Tracker {
	return w.tracker
}

type (
	feeAction     = feesaga.ActionContext[transaction.Request, *FeeSaga]
	feeActionNode = feesaga.ActionNodeKind[transaction.Request, *FeeSaga]
)

func action[R any](name string, fn func(ctx context.Context, ac feeAction) (R, error)) *feeActionNode {
	return &feeActionNode{
		NodeName: feesaga.NodeName(name),
		Action: feesaga.NewActionFunc[transaction.Request, *FeeSaga, R](
			feesaga.ActionName(name), fn),
		Label: name,
	}
}

func (w *FeeWorkflow) buildDag() (*feesaga.Dag, error) {
	builder := feesaga.NewDagBuilder(SagaName, w.registry)
	nodes := []feesaga.Node{
		action(StepValidate, w.validate),
		action(StepBaseFee, w.calculateBaseFee),
		action(StepDiscount, w.applyDiscounts),
		action(StepAdditionalFee, w.applyAdditionalFees),
		action(StepCompliance, w.checkCompliance),
		action(StepFinalize, w.finalize),
		action(StepPersist, w.persist),
	}
	for _, n := range nodes {
		if err := builder.Append(n); err != nil {
			return nil, err
		}
	}
	return builder.Build()
}

// Run executes the fee saga for req and returns the finalized response.
// Failures are returned as *Error.
func (w *FeeWorkflow) Run(ctx context.Context, req transaction.Request) (transaction.Response, error) {
	started := time.Now()
	if req.TransactionID == "" {
		err := &Error{Kind: ValidationFailure, Err: fmt.Errorf("%w: missing transaction id", ErrInvalidRequest)}
		w.metrics.saga(err.Kind.String(), started)
		return transaction.Response{}, err
	}

	unlock := w.lock(req.TransactionID)
	defer unlock()

	log := w.logger.With("transaction_id", req.TransactionID)
	log.Info("starting saga workflow")

	exec, err := feesaga.LoadExecutor(ctx, w.dag, w.registry, &FeeSaga{Request: req}, req.TransactionID, w.journal)
	if err != nil {
		werr := &Error{Kind: PersistenceFailure, TransactionID: req.TransactionID, Err: err}
		w.metrics.saga(werr.Kind.String(), started)
		return transaction.Response{}, werr
	}
	exec.SetLogger(log)

	if err := exec.Execute(ctx); err != nil {
		werr := classify(req.TransactionID, err)
		log.Error("saga workflow failed", "kind", werr.Kind, "step", werr.Step, "error", werr.Err)
		w.metrics.saga(werr.Kind.String(), started)
		return transaction.Response{}, werr
	}

	resp, ok := feesaga.LookupOutput[transaction.Response](exec, StepFinalize)
	if !ok {
		werr := &Error{
			Kind:          PersistenceFailure,
			TransactionID: req.TransactionID,
			Step:          StepFinalize,
			Err:           errors.New("journal holds no finalized response"),
		}
		w.metrics.saga(werr.Kind.String(), started)
		return transaction.Response{}, werr
	}

	log.Info("saga workflow completed", "fee", resp.Fee.String(), "invocations", exec.Invocations())
	w.metrics.saga(OutcomeSucceeded, started)
	return resp, nil
}

// runLock serialises runs of one transaction id. users counts the runs
// holding or waiting for mu; the entry is dropped when it reaches zero.
type runLock struct {
	mu    sync.Mutex
	users int
}

func (w *FeeWorkflow) lock(id string) (unlock func()) {
	l, _ := w.locks.Compute(id, func(l *runLock, loaded bool) (*runLock, bool) {
		if !loaded {
			l = &runLock{}
		}
		l.users++
		return l, false
	})
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.locks.Compute(id, func(l *runLock, _ bool) (*runLock, bool) {
			l.users--
			return l, l.users == 0
		})
	}
}

// wrapped runs body under the retry tracker for (transaction id, step).
func wrapped[R any](ctx context.Context, w *FeeWorkflow, ac feeAction, step string, body func(context.Context) (R, error)) (R, error) {
	req := ac.UserContext
	if ac.Replayed {
		w.logger.Debug("resuming saga at step", "transaction_id", req.TransactionID, "step", step)
	}
	out, err := retry.Execute(ctx, w.tracker, retry.Key{EntityID: req.TransactionID, Step: step}, w.maxFailures, body)
	if err == nil {
		w.metrics.stepAttempt(step, OutcomeSucceeded)
		return out, nil
	}

	var werr *Error
	switch {
	case errors.As(err, &werr):
		w.metrics.stepAttempt(step, OutcomeFailed)
		return out, werr
	case errors.Is(err, retry.ErrStepExecution):
		w.metrics.stepAttempt(step, OutcomeForced)
	default:
		w.metrics.stepAttempt(step, OutcomeFailed)
	}
	return out, &Error{Kind: StepExecutionFailure, TransactionID: req.TransactionID, Step: step, Err: err}
}

// valid reports whether req is well formed enough to price.
func valid(req transaction.Request) error {
	switch {
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: amount %s is not positive", ErrInvalidRequest, req.Amount)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidRequest, req.Type)
	case !req.AssetType.Valid():
		return fmt.Errorf("%w: unsupported asset type %q", ErrInvalidRequest, req.AssetType)
	}
	return nil
}

func (w *FeeWorkflow) validate(ctx context.Context, ac feeAction) (bool, error) {
	req := ac.UserContext
	ok, err := wrapped(ctx, w, ac, StepValidate, func(context.Context) (bool, error) {
		if err := valid(req); err != nil {
			w.logger.Warn("transaction rejected by validation", "transaction_id", req.TransactionID, "error", err)
			return false, nil
		}
		w.logger.Info("transaction validated", "transaction_id", req.TransactionID)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &Error{Kind: ValidationFailure, TransactionID: req.TransactionID, Step: StepValidate, Err: ErrInvalidRequest}
	}
	return true, nil
}

func (w *FeeWorkflow) calculateBaseFee(ctx context.Context, ac feeAction) (decimal.Decimal, error) {
	req := ac.UserContext
	return wrapped(ctx, w, ac, StepBaseFee, func(context.Context) (decimal.Decimal, error) {
		rate, err := fee.Rate(req.Type)
		if err != nil {
			return decimal.Decimal{}, &Error{Kind: ValidationFailure, TransactionID: req.TransactionID, Step: StepBaseFee, Err: err}
		}
		base := fee.BaseFee(req.Amount, rate)
		w.logger.Info("base fee calculated", "transaction_id", req.TransactionID, "fee", base.String())
		return base, nil
	})
}

func (w *FeeWorkflow) applyDiscounts(ctx context.Context, ac feeAction) (decimal.Decimal, error) {
	base, err := feesaga.MustLookup[decimal.Decimal](ac, StepBaseFee)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return wrapped(ctx, w, ac, StepDiscount, func(context.Context) (decimal.Decimal, error) {
		discounted := fee.ApplyDiscount(base)
		w.logger.Info("discount applied", "transaction_id", ac.UserContext.TransactionID,
			"base", base.String(), "fee", discounted.String())
		return discounted, nil
	})
}

func (w *FeeWorkflow) applyAdditionalFees(ctx context.Context, ac feeAction) (decimal.Decimal, error) {
	discounted, err := feesaga.MustLookup[decimal.Decimal](ac, StepDiscount)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return wrapped(ctx, w, ac, StepAdditionalFee, func(context.Context) (decimal.Decimal, error) {
		total := fee.ApplyAdditionalFee(discounted)
		w.logger.Info("additional fee applied", "transaction_id", ac.UserContext.TransactionID,
			"additional", fee.AdditionalFee.String(), "fee", total.String())
		return total, nil
	})
}

// checkCompliance is not retry-wrapped: it is a single call to the
// compliance workflow of this transaction.
func (w *FeeWorkflow) checkCompliance(ctx context.Context, ac feeAction) (transaction.ComplianceResponse, error) {
	req := ac.UserContext
	total, err := feesaga.MustLookup[decimal.Decimal](ac, StepAdditionalFee)
	if err != nil {
		return transaction.ComplianceResponse{}, err
	}

	w.logger.Info("performing external compliance check", "transaction_id", req.TransactionID)
	compliant, err := compliance.Check(ctx, w.gateway, transaction.ComplianceRequest{Request: req, Fee: total})
	if err != nil {
		return transaction.ComplianceResponse{}, &Error{Kind: CrossCallFailure, TransactionID: req.TransactionID, Step: StepCompliance, Err: err}
	}
	if !compliant {
		return transaction.ComplianceResponse{}, &Error{Kind: ComplianceRejected, TransactionID: req.TransactionID, Step: StepCompliance, Err: ErrNotCompliant}
	}
	return transaction.ComplianceResponse{IsCompliant: true}, nil
}

func (w *FeeWorkflow) finalize(ctx context.Context, ac feeAction) (transaction.Response, error) {
	req := ac.UserContext
	total, err := feesaga.MustLookup[decimal.Decimal](ac, StepAdditionalFee)
	if err != nil {
		return transaction.Response{}, err
	}
	return wrapped(ctx, w, ac, StepFinalize, func(context.Context) (transaction.Response, error) {
		rate, err := fee.Rate(req.Type)
		if err != nil {
			return transaction.Response{}, &Error{Kind: ValidationFailure, TransactionID: req.TransactionID, Step: StepFinalize, Err: err}
		}
		resp := transaction.Response{
			TransactionID: req.TransactionID,
			Amount:        req.Amount,
			Asset:         req.Asset,
			Type:          req.Type,
			Fee:           fee.Round2(total),
			Rate:          rate,
			Description:   fmt.Sprintf("Fee calculation completed after %d saga steps", completedSteps),
		}
		w.logger.Info("fee calculation finalized", "transaction_id", req.TransactionID, "fee", resp.Fee.String())
		return resp, nil
	})
}

// persist stores the finished transaction once. A transaction already in
// the store is returned as is.
func (w *FeeWorkflow) persist(ctx context.Context, ac feeAction) (transaction.Transaction, error) {
	req := ac.UserContext
	resp, err := feesaga.MustLookup[transaction.Response](ac, StepFinalize)
	if err != nil {
		return transaction.Transaction{}, err
	}
	return wrapped(ctx, w, ac, StepPersist, func(ctx context.Context) (transaction.Transaction, error) {
		persistFailed := func(err error) (transaction.Transaction, error) {
			return transaction.Transaction{}, &Error{Kind: PersistenceFailure, TransactionID: req.TransactionID, Step: StepPersist, Err: err}
		}

		existing, err := w.service.GetByID(ctx, resp.TransactionID)
		if err != nil {
			return persistFailed(err)
		}
		if existing != nil {
			w.logger.Info("transaction already persisted", "transaction_id", req.TransactionID)
			return *existing, nil
		}

		tx := transaction.FromResponse(req, resp, transaction.StateCompleted, transaction.Timestamp(w.now()))
		saved, err := w.service.Create(ctx, tx)
		if err != nil {
			return persistFailed(err)
		}
		w.logger.Info("transaction persisted", "transaction_id", req.TransactionID, "state", saved.State)
		return saved, nil
	})
}

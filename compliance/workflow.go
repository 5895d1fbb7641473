package compliance

import (
	"context"

	"github.com/fortressi/feesaga/gateway"
	"github.com/fortressi/feesaga/transaction"
)

const (
	// WorkflowType addresses the compliance workflow on a gateway.
	WorkflowType = "ComplianceWorkflow"
	// MethodCheck is the method that evaluates a ComplianceRequest.
	MethodCheck = "checkExternalComplianceWithRequest"
)

// Workflow is the compliance workflow. One instance is addressed per
// transaction id.
type Workflow struct {
	evaluator *Evaluator
}

// NewWorkflow returns a Workflow deciding with evaluator.
func NewWorkflow(evaluator *Evaluator) *Workflow {
	if evaluator == nil {
		evaluator = defaultEvaluator
	}
	return &Workflow{evaluator: evaluator}
}

// CheckExternalComplianceWithRequest evaluates the request. It never fails;
// faults come back as non-compliant.
func (w *Workflow) CheckExternalComplianceWithRequest(_ context.Context, req transaction.ComplianceRequest) (transaction.ComplianceResponse, error) {
	return transaction.ComplianceResponse{
		IsCompliant: w.evaluator.Evaluate(req.Request, req.Fee),
	}, nil
}

// Register serves the workflow's methods on router.
func (w *Workflow) Register(router *gateway.Router) error {
	return router.Handle(WorkflowType, MethodCheck, gateway.TypedHandler(
		func(ctx context.Context, _ string, req transaction.ComplianceRequest) (transaction.ComplianceResponse, error) {
			return w.CheckExternalComplianceWithRequest(ctx, req)
		}))
}

// Target addresses the compliance check of one transaction.
func Target(transactionID string) gateway.Target {
	return gateway.Target{WorkflowType: WorkflowType, Key: transactionID, Method: MethodCheck}
}

// Check calls the compliance workflow of req's transaction through gw.
func Check(ctx context.Context, gw gateway.Gateway, req transaction.ComplianceRequest) (bool, error) {
	resp, err := gateway.Invoke[transaction.ComplianceRequest, transaction.ComplianceResponse](
		ctx, gw, Target(req.Request.TransactionID), req)
	if err != nil {
		return false, err
	}
	return resp.IsCompliant, nil
}

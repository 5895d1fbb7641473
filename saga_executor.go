package feesaga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/topo"
)

// ActionState represents the execution state of an action
type ActionState int

const (
	ActionStatePending ActionState = iota
	ActionStateRunning
	ActionStateCompleted
	ActionStateFailed
)

func (s ActionState) String() string {
	switch s {
	case ActionStatePending:
		return "pending"
	case ActionStateRunning:
		return "running"
	case ActionStateCompleted:
		return "completed"
	case ActionStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExecutionNode represents a node in the execution context
type ExecutionNode struct {
	NodeIndex int64
	NodeName  NodeName
	State     ActionState
	Result    *ActionResult[ActionData]
	Error     error
}

// ExecutionRecord tracks the execution of a single action
type ExecutionRecord struct {
	ActionName string
	NodeID     int64
	StartTime  time.Time
	EndTime    time.Time
	Status     ActionState
	Error      error
}

// SagaExecutor runs the nodes of a saga in dependency order.
type SagaExecutor[T any, S SagaType[T]] struct {
	dag            *SagaDag
	actionRegistry *ActionRegistry[T, S]
	sagaContext    S

	nodes        map[int64]*ExecutionNode
	ancestorTree *btree.Map[NodeName, any]
	completed    []int64
	failed       []int64
	// restored holds nodes whose outputs came from a journal.
	restored map[int64]bool

	executionTrace []ExecutionRecord
	sagaLog        *SagaLog

	store       Store[T]
	sagaID      string
	runID       string
	status      string
	invocations int
	startedAt   time.Time

	logger *slog.Logger
}

// NewSagaExecutor creates a new saga executor with required persistence
func NewSagaExecutor[T any, S SagaType[T]](
	dag *SagaDag,
	actionRegistry *ActionRegistry[T, S],
	sagaContext S,
	sagaID string,
	store Store[T],
) *SagaExecutor[T, S] {
	executor := &SagaExecutor[T, S]{
		dag:            dag,
		actionRegistry: actionRegistry,
		sagaContext:    sagaContext,
		sagaID:         sagaID,
		runID:          uuid.NewString(),
		store:          store,
		nodes:          make(map[int64]*ExecutionNode),
		ancestorTree:   btree.NewMap[NodeName, any](10),
		restored:       make(map[int64]bool),
		executionTrace: make([]ExecutionRecord, 0),
		sagaLog:        NewEmptySagaLog(SagaID(sagaID)),
		startedAt:      time.Now(),
		logger:         slog.Default(),
	}

	executor.initializeNodes()

	return executor
}

// NewExecutorFromState creates an executor that replays the completed actions
// recorded in a journal instead of running them again.
func NewExecutorFromState[T any, S SagaType[T]](
	dag *SagaDag,
	registry *ActionRegistry[T, S],
	sagaContext S,
	state *State[T],
	store Store[T],
) *SagaExecutor[T, S] {
	executor := NewSagaExecutor(dag, registry, sagaContext, state.SagaID, store)
	executor.startedAt = state.CreatedAt
	executor.status = state.Status
	executor.invocations = state.Invocations

	for _, completedAction := range state.CompletedActions {
		nodeID, err := dag.GetNodeIndex(completedAction.Name)
		if err != nil {
			executor.logger.Warn("journal action not found in DAG",
				"saga_id", state.SagaID, "action", completedAction.Name)
			continue
		}

		executor.completed = append(executor.completed, nodeID)
		executor.restored[nodeID] = true
		if node, ok := executor.nodes[nodeID]; ok {
			node.State = ActionStateCompleted
			node.Result = &ActionResult[ActionData]{
				Output:    completedAction.Output,
				StartTime: completedAction.StartTime,
				EndTime:   completedAction.EndTime,
			}
		}
		_ = executor.sagaLog.Record(&SagaNodeEvent{
			SagaID:    SagaID(state.SagaID),
			NodeID:    nodeID,
			NodeName:  NodeName(completedAction.Name),
			EventType: EventReplayed,
			At:        time.Now(),
		})

		// Kept as json.RawMessage so LookupTyped can decode into the
		// caller's type.
		if completedAction.Output != nil {
			executor.ancestorTree.Set(NodeName(completedAction.Name), completedAction.Output)
		}
	}

	return executor
}

// LoadExecutor restores the executor for sagaID from store, or creates a
// fresh one when the saga has no journal yet.
func LoadExecutor[T any, S SagaType[T]](
	ctx context.Context,
	dag *SagaDag,
	registry *ActionRegistry[T, S],
	sagaContext S,
	sagaID string,
	store Store[T],
) (*SagaExecutor[T, S], error) {
	state, err := store.Load(ctx, sagaID)
	if errors.Is(err, ErrStateNotFound) {
		return NewSagaExecutor(dag, registry, sagaContext, sagaID, store), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga %s: %w", sagaID, err)
	}
	return NewExecutorFromState(dag, registry, sagaContext, state, store), nil
}

// SetLogger replaces the executor's logger.
func (e *SagaExecutor[T, S]) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// initializeNodes sets up the execution state for all nodes
func (e *SagaExecutor[T, S]) initializeNodes() {
	for nodeIndex, internalNode := range e.dag.Nodes {
		var nodeName NodeName
		if name := internalNode.NodeName(); name != nil {
			nodeName = *name
		}

		e.nodes[nodeIndex] = &ExecutionNode{
			NodeIndex: nodeIndex,
			NodeName:  nodeName,
			State:     ActionStatePending,
		}
	}
}

// Execute runs every node that is not already completed in the journal.
// It stops at the first failing node; completed nodes are not undone.
func (e *SagaExecutor[T, S]) Execute(ctx context.Context) error {
	if e.status == SagaStatusCompleted {
		e.logger.Debug("saga already completed, replaying journal", "saga_id", e.sagaID)
		return nil
	}

	e.invocations++
	if err := e.persistState(ctx, SagaStatusRunning); err != nil {
		return fmt.Errorf("failed to save initial state: %w", err)
	}

	executionOrder, err := e.getTopologicalOrder()
	if err != nil {
		return fmt.Errorf("failed to get execution order: %w", err)
	}

	for _, nodeIndex := range executionOrder {
		if e.restored[nodeIndex] {
			continue
		}
		if err := e.executeNode(ctx, nodeIndex); err != nil {
			e.failed = append(e.failed, nodeIndex)

			if persistErr := e.persistState(ctx, SagaStatusFailed); persistErr != nil {
				e.logger.Warn("failed to persist failure state", "saga_id", e.sagaID, "error", persistErr)
			}
			return fmt.Errorf("saga failed at node %d: %w", nodeIndex, err)
		}
		e.completed = append(e.completed, nodeIndex)

		if persistErr := e.persistState(ctx, SagaStatusRunning); persistErr != nil {
			e.logger.Warn("failed to persist execution state", "saga_id", e.sagaID, "error", persistErr)
		}
	}

	if err := e.persistState(ctx, SagaStatusCompleted); err != nil {
		e.logger.Warn("failed to persist completion state", "saga_id", e.sagaID, "error", err)
	}

	return nil
}

// executeNode executes a single node
func (e *SagaExecutor[T, S]) executeNode(ctx context.Context, nodeIndex int64) error {
	execNode := e.nodes[nodeIndex]
	internalNode := e.dag.Nodes[nodeIndex]

	actionNode, ok := internalNode.(*ActionNodeInternal)
	if !ok {
		// Start and end nodes have nothing to run.
		execNode.State = ActionStateCompleted
		return nil
	}

	action, err := e.actionRegistry.Get(actionNode.ActionName)
	if err != nil {
		execNode.State = ActionStateFailed
		execNode.Error = err
		return fmt.Errorf("action not found: %s", actionNode.ActionName)
	}

	execNode.State = ActionStateRunning
	e.recordEvent(nodeIndex, execNode.NodeName, EventStarted)

	startTime := time.Now()
	result, err := action.DoIt(ctx, e.actionContext(nodeIndex))
	endTime := time.Now()

	result.StartTime = startTime
	result.EndTime = endTime

	finalStatus := ActionStateCompleted
	if err != nil {
		execNode.State = ActionStateFailed
		execNode.Error = err
		finalStatus = ActionStateFailed
		e.recordEvent(nodeIndex, execNode.NodeName, EventFailed)
	} else {
		execNode.State = ActionStateCompleted
		execNode.Error = nil
		execNode.Result = &result
		e.recordEvent(nodeIndex, execNode.NodeName, EventSucceeded)

		if execNode.NodeName != "" {
			e.ancestorTree.Set(execNode.NodeName, result.Output)
		}
	}

	e.executionTrace = append(e.executionTrace, ExecutionRecord{
		ActionName: string(actionNode.ActionName),
		NodeID:     nodeIndex,
		StartTime:  startTime,
		EndTime:    endTime,
		Status:     finalStatus,
		Error:      err,
	})

	if err != nil {
		return fmt.Errorf("action %s failed: %w", actionNode.ActionName, err)
	}
	return nil
}

func (e *SagaExecutor[T, S]) actionContext(nodeIndex int64) ActionContext[T, S] {
	return ActionContext[T, S]{
		AncestorTree: e.ancestorTree,
		NodeID:       int(nodeIndex),
		DAG:          e.dag,
		UserContext:  e.sagaContext.ExecContext(),
		Replayed:     len(e.restored) > 0,
	}
}

func (e *SagaExecutor[T, S]) recordEvent(nodeIndex int64, name NodeName, eventType SagaNodeEventType) {
	err := e.sagaLog.Record(&SagaNodeEvent{
		SagaID:    SagaID(e.sagaID),
		NodeID:    nodeIndex,
		NodeName:  name,
		EventType: eventType,
		At:        time.Now(),
	})
	if err != nil {
		e.logger.Warn("saga log rejected event", "saga_id", e.sagaID, "error", err)
	}
}

// getTopologicalOrder returns nodes in execution order, ties broken by node ID.
func (e *SagaExecutor[T, S]) getTopologicalOrder() ([]int64, error) {
	sorted, err := topo.SortStabilized(e.dag.Graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}

	order := make([]int64, len(sorted))
	for i, node := range sorted {
		order[i] = node.ID()
	}
	return order, nil
}

// LookupOutput returns the output of a named node, whether it ran in this
// invocation or was replayed from the journal.
func LookupOutput[R any, T any, S SagaType[T]](e *SagaExecutor[T, S], nodeName NodeName) (R, bool) {
	return LookupTyped[R](ActionContext[T, S]{AncestorTree: e.ancestorTree}, nodeName)
}

// SagaID returns the ID the executor journals under.
func (e *SagaExecutor[T, S]) SagaID() string {
	return e.sagaID
}

// Status returns the journal status after the last Execute.
func (e *SagaExecutor[T, S]) Status() string {
	return e.status
}

// Invocations returns how many times Execute has run for this saga,
// including invocations before the journal was restored.
func (e *SagaExecutor[T, S]) Invocations() int {
	return e.invocations
}

// Log returns the saga's node event log for this invocation.
func (e *SagaExecutor[T, S]) Log() *SagaLog {
	return e.sagaLog
}

// GetExecutionState returns the current state of all nodes
func (e *SagaExecutor[T, S]) GetExecutionState() map[int64]*ExecutionNode {
	result := make(map[int64]*ExecutionNode, len(e.nodes))
	for k, v := range e.nodes {
		result[k] = v
	}
	return result
}

// GetCompletedNodes returns the list of completed node indices
func (e *SagaExecutor[T, S]) GetCompletedNodes() []int64 {
	return append([]int64(nil), e.completed...)
}

// GetFailedNodes returns the list of failed node indices
func (e *SagaExecutor[T, S]) GetFailedNodes() []int64 {
	return append([]int64(nil), e.failed...)
}

// GetExecutionTrace returns a copy of the execution trace.
func (e *SagaExecutor[T, S]) GetExecutionTrace() []ExecutionRecord {
	trace := make([]ExecutionRecord, len(e.executionTrace))
	copy(trace, e.executionTrace)
	return trace
}

// GetExecutionOrder returns the action names executed in this invocation,
// in order. Replayed actions are not included.
func (e *SagaExecutor[T, S]) GetExecutionOrder() []string {
	order := make([]string, len(e.executionTrace))
	for i, record := range e.executionTrace {
		order[i] = record.ActionName
	}
	return order
}

// persistState saves the journal through the Store.
func (e *SagaExecutor[T, S]) persistState(ctx context.Context, status string) error {
	e.status = status
	completedActions := make([]CompletedAction, 0, len(e.completed))

	for _, nodeID := range e.completed {
		node := e.nodes[nodeID]
		if node == nil || node.NodeName == "" {
			continue
		}

		var output json.RawMessage
		if val, ok := e.ancestorTree.Get(node.NodeName); ok && val != nil {
			if raw, isRaw := val.(json.RawMessage); isRaw {
				output = raw
			} else {
				data, err := json.Marshal(val)
				if err != nil {
					return fmt.Errorf("failed to marshal action output for %s: %w", node.NodeName, err)
				}
				output = data
			}
		}

		ca := CompletedAction{
			Name:   string(node.NodeName),
			Output: output,
		}
		if node.Result != nil {
			ca.StartTime = node.Result.StartTime
			ca.EndTime = node.Result.EndTime
		}
		completedActions = append(completedActions, ca)
	}

	state := State[T]{
		SagaID:           e.sagaID,
		SagaName:         string(e.dag.SagaName),
		Status:           status,
		Context:          e.sagaContext.ExecContext(),
		CompletedActions: completedActions,
		Invocations:      e.invocations,
		RunID:            e.runID,
		CreatedAt:        e.startedAt,
		UpdatedAt:        time.Now(),
	}

	return e.store.Save(ctx, e.sagaID, state)
}

package feesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/btree"
)

// SagaType defines the type signature for a saga.
type SagaType[T any] interface {
	ExecContext() T
}

// ActionData represents data that can be serialized in the saga journal.
type ActionData interface{}

// ActionName represents a unique name for a saga Action.
type ActionName string

// Action represents the building blocks of sagas.
type Action[T any, S SagaType[T]] interface {
	DoIt(ctx context.Context, sgctx ActionContext[T, S]) (ActionResult[ActionData], error)
	Name() ActionName
}

// ActionContext provides context to individual actions.
type ActionContext[T any, S SagaType[T]] struct {
	AncestorTree *btree.Map[NodeName, any]
	NodeID       int
	DAG          *SagaDag
	UserContext  T
	// Replayed is true when the executor was restored from a journal.
	Replayed bool
}

// Lookup retrieves the output from a previous node by name.
func (ac *ActionContext[T, S]) Lookup(nodeName NodeName) (any, bool) {
	if ac.AncestorTree == nil {
		return nil, false
	}
	return ac.AncestorTree.Get(nodeName)
}

// LookupTyped retrieves the output from a previous node with type assertion.
// If the value is stored as json.RawMessage (restored from a journal), it is
// unmarshaled into R.
func LookupTyped[R any, T any, S SagaType[T]](ac ActionContext[T, S], nodeName NodeName) (R, bool) {
	var zero R
	value, found := ac.Lookup(nodeName)
	if !found {
		return zero, false
	}

	if typed, ok := value.(R); ok {
		return typed, true
	}

	if jsonData, ok := value.(json.RawMessage); ok {
		var result R
		if err := json.Unmarshal(jsonData, &result); err == nil {
			return result, true
		}
	}

	return zero, false
}

// MustLookup is LookupTyped for actions that cannot run without the output
// of an ancestor node.
func MustLookup[R any, T any, S SagaType[T]](ac ActionContext[T, S], nodeName NodeName) (R, error) {
	value, ok := LookupTyped[R](ac, nodeName)
	if !ok {
		var zero R
		return zero, ActionFailed(fmt.Errorf("no output of type %T for node %q", zero, nodeName))
	}
	return value, nil
}

// ActionResult represents the result of a saga action.
type ActionResult[T any] struct {
	Output T

	// Set by the executor; values written by the action are overwritten.
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns how long the action took, or zero if timing is unset.
func (r ActionResult[T]) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

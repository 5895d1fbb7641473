package feesaga

import (
	"context"
	"encoding/json"
	"fmt"
)

// DoItFunc is the function type wrapped by ActionFunc.
type DoItFunc[T any, S SagaType[T], R ActionData] func(ctx context.Context, sgctx ActionContext[T, S]) (R, error)

// ActionFunc is an implementation of Action that uses an ordinary function.
type ActionFunc[T any, S SagaType[T], R ActionData] struct {
	name       ActionName
	actionFunc DoItFunc[T, S, R]
}

// NewActionFunc constructs a new ActionFunc.
func NewActionFunc[T any, S SagaType[T], R ActionData](name ActionName, actionFunc DoItFunc[T, S, R]) *ActionFunc[T, S, R] {
	return &ActionFunc[T, S, R]{
		name:       name,
		actionFunc: actionFunc,
	}
}

// DoIt implements the Action interface for ActionFunc.
func (af *ActionFunc[T, S, R]) DoIt(ctx context.Context, sgctx ActionContext[T, S]) (ActionResult[ActionData], error) {
	output, err := af.actionFunc(ctx, sgctx)
	if err != nil {
		return ActionResult[ActionData]{}, err
	}

	// Outputs end up in the journal, so they have to survive JSON.
	if _, err := json.Marshal(output); err != nil {
		return ActionResult[ActionData]{}, ActionFailed(NewSerializeError(err))
	}

	return ActionResult[ActionData]{Output: output}, nil
}

// Name implements the Action interface for ActionFunc.
func (af *ActionFunc[T, S, R]) Name() ActionName {
	return af.name
}

// String implements the fmt.Stringer interface for ActionFunc.
func (af *ActionFunc[T, S, R]) String() string {
	return fmt.Sprintf("ActionFunc[%s]", af.name)
}

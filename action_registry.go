package feesaga

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// ActionRegistry is a registry of saga actions that can be used across
// multiple sagas.
//
// Actions are identified by their ActionName. A journal only records node
// names and outputs, so when an executor is restored from a journal the
// registry is the only way to get back from a node to the function it runs.
type ActionRegistry[T any, S SagaType[T]] struct {
	actions *xsync.MapOf[ActionName, Action[T, S]]
}

// NewActionRegistry creates a new ActionRegistry.
func NewActionRegistry[T any, S SagaType[T]]() *ActionRegistry[T, S] {
	return &ActionRegistry[T, S]{
		actions: xsync.NewMapOf[ActionName, Action[T, S]](),
	}
}

// Register adds an action to the registry.
func (r *ActionRegistry[T, S]) Register(action Action[T, S]) error {
	if _, loaded := r.actions.LoadOrStore(action.Name(), action); loaded {
		return fmt.Errorf("action with name '%s' already registered", action.Name())
	}
	return nil
}

// Get retrieves an action from the registry by its name.
func (r *ActionRegistry[T, S]) Get(name ActionName) (Action[T, S], error) {
	action, ok := r.actions.Load(name)
	if !ok {
		return nil, NotFoundError(name)
	}
	return action, nil
}

// Len returns the number of registered actions.
func (r *ActionRegistry[T, S]) Len() int {
	return r.actions.Size()
}

package feesaga

import (
	"errors"
	"fmt"
)

// ErrStateNotFound is returned by a Store when no journal exists for a saga.
var ErrStateNotFound = errors.New("saga state not found")

// ActionError represents an error produced by a saga action.
type ActionError struct {
	error
}

// Unwrap returns the wrapped error.
func (e *ActionError) Unwrap() error {
	return e.error
}

// ActionFailed wraps a user-provided error in an ActionError.
func ActionFailed(err error) error {
	return &ActionError{fmt.Errorf("action failed: %w", err)}
}

// DeserializeFailed indicates a failure to deserialize saga data.
func DeserializeFailed(message string) error {
	return &ActionError{fmt.Errorf("deserialize failed: %s", message)}
}

// SerializeFailed indicates a failure to serialize saga data.
func SerializeFailed(message string) error {
	return &ActionError{fmt.Errorf("serialize failed: %s", message)}
}

// NewSerializeError creates a new SerializeFailed error.
func NewSerializeError(err error) error {
	return SerializeFailed(err.Error())
}

// NewDeserializeError creates a new DeserializeFailed error.
func NewDeserializeError(err error) error {
	return DeserializeFailed(err.Error())
}

// ActionRegistryError represents an error returned from ActionRegistry.Get().
type ActionRegistryError struct {
	error
}

// NotFoundError indicates that an action with the given name was not found.
func NotFoundError(name ActionName) error {
	return &ActionRegistryError{fmt.Errorf("action %q not found", name)}
}

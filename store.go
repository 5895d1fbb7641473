package feesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store defines the interface for persisting saga journals.
// It is generic over T, the saga context type.
type Store[T any] interface {
	// Save persists the current saga state
	Save(ctx context.Context, sagaID string, state State[T]) error

	// Load retrieves a saga state by ID. It returns an error wrapping
	// ErrStateNotFound when the saga has never been saved.
	Load(ctx context.Context, sagaID string) (*State[T], error)

	// Delete removes a saga state
	Delete(ctx context.Context, sagaID string) error
}

// State is the journal of one saga: enough to replay completed actions when
// the saga is invoked again.
type State[T any] struct {
	SagaID           string            `json:"saga_id"`
	SagaName         string            `json:"saga_name"`
	Status           string            `json:"status"`
	Context          T                 `json:"context"`
	CompletedActions []CompletedAction `json:"completed_actions"`
	// Invocations counts calls to Execute across the saga's lifetime.
	Invocations int       `json:"invocations"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CompletedAction records an action that has been successfully executed,
// along with its output.
type CompletedAction struct {
	Name      string          `json:"name"`
	Output    json.RawMessage `json:"output,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
}

// Saga status constants
const (
	SagaStatusRunning   = "running"
	SagaStatusCompleted = "completed"
	SagaStatusFailed    = "failed"
)

// MemoryStore provides an in-memory implementation of Store for testing
// or scenarios where persistence is not required.
type MemoryStore[T any] struct {
	states map[string]*State[T]
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		states: make(map[string]*State[T]),
	}
}

// Save stores the saga state in memory.
func (m *MemoryStore[T]) Save(ctx context.Context, sagaID string, state State[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stateCopy := state
	stateCopy.CompletedActions = append([]CompletedAction(nil), state.CompletedActions...)
	stateCopy.UpdatedAt = time.Now()

	m.states[sagaID] = &stateCopy
	return nil
}

// Load retrieves the saga state from memory.
func (m *MemoryStore[T]) Load(ctx context.Context, sagaID string) (*State[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[sagaID]
	if !exists {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrStateNotFound)
	}

	stateCopy := *state
	stateCopy.CompletedActions = append([]CompletedAction(nil), state.CompletedActions...)
	return &stateCopy, nil
}

// Delete removes the saga state from memory.
func (m *MemoryStore[T]) Delete(ctx context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, sagaID)
	return nil
}

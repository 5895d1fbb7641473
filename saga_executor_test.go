package feesaga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test saga: order processing
// Flow: reserve -> charge -> ship

type OrderState struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

type OrderSaga struct {
	State OrderState
}

func (s *OrderSaga) ExecContext() OrderState {
	return s.State
}

type ChargeResult struct {
	PaymentID string `json:"payment_id"`
	Charged   int    `json:"charged"`
}

type orderAction = ActionContext[OrderState, *OrderSaga]

// orderHarness builds the three-step order saga. Each action counts its runs
// in calls; failCharge makes the charge action fail while it is true.
type orderHarness struct {
	dag        *SagaDag
	registry   *ActionRegistry[OrderState, *OrderSaga]
	calls      map[string]int
	replayed   map[string]bool
	failCharge bool
}

func newOrderHarness(t *testing.T) *orderHarness {
	t.Helper()
	h := &orderHarness{
		registry: NewActionRegistry[OrderState, *OrderSaga](),
		calls:    make(map[string]int),
		replayed: make(map[string]bool),
	}

	reserve := NewActionFunc[OrderState, *OrderSaga, string]("reserve",
		func(ctx context.Context, sgctx orderAction) (string, error) {
			h.calls["reserve"]++
			return "rsv-" + sgctx.UserContext.OrderID, nil
		})

	charge := NewActionFunc[OrderState, *OrderSaga, ChargeResult]("charge",
		func(ctx context.Context, sgctx orderAction) (ChargeResult, error) {
			h.calls["charge"]++
			h.replayed["charge"] = sgctx.Replayed
			if h.failCharge {
				return ChargeResult{}, errors.New("card declined")
			}
			reservation, err := MustLookup[string](sgctx, "reserve")
			if err != nil {
				return ChargeResult{}, err
			}
			return ChargeResult{PaymentID: "pay-" + reservation, Charged: sgctx.UserContext.Amount}, nil
		})

	ship := NewActionFunc[OrderState, *OrderSaga, string]("ship",
		func(ctx context.Context, sgctx orderAction) (string, error) {
			h.calls["ship"]++
			payment, ok := LookupTyped[ChargeResult](sgctx, "charge")
			if !ok {
				return "", ActionFailed(errors.New("no payment"))
			}
			return "shipped with " + payment.PaymentID, nil
		})

	builder := NewDagBuilder("OrderSaga", h.registry)
	require.NoError(t, builder.Append(&ActionNodeKind[OrderState, *OrderSaga]{NodeName: "reserve", Action: reserve, Label: "Reserve stock"}))
	require.NoError(t, builder.Append(&ActionNodeKind[OrderState, *OrderSaga]{NodeName: "charge", Action: charge, Label: "Charge card"}))
	require.NoError(t, builder.Append(&ActionNodeKind[OrderState, *OrderSaga]{NodeName: "ship", Action: ship, Label: "Ship order"}))

	d, err := builder.Build()
	require.NoError(t, err)
	h.dag = NewSagaDag(d, nil)
	return h
}

func (h *orderHarness) load(t *testing.T, store Store[OrderState]) *SagaExecutor[OrderState, *OrderSaga] {
	t.Helper()
	sagaCtx := &OrderSaga{State: OrderState{OrderID: "order-1", Amount: 42}}
	exec, err := LoadExecutor(context.Background(), h.dag, h.registry, sagaCtx, "order-1", store)
	require.NoError(t, err)
	return exec
}

func TestSagaExecutorSequential(t *testing.T) {
	h := newOrderHarness(t)
	store := NewMemoryStore[OrderState]()
	exec := h.load(t, store)

	require.NoError(t, exec.Execute(context.Background()))

	assert.Equal(t, []string{"reserve", "charge", "ship"}, exec.GetExecutionOrder())
	assert.Equal(t, SagaStatusCompleted, exec.Status())
	assert.Empty(t, exec.GetFailedNodes())

	shipped, ok := LookupOutput[string](exec, "ship")
	require.True(t, ok)
	assert.Equal(t, "shipped with pay-rsv-order-1", shipped)

	for _, record := range exec.GetExecutionTrace() {
		assert.Equal(t, ActionStateCompleted, record.Status)
		assert.False(t, record.EndTime.Before(record.StartTime))
	}

	state, err := store.Load(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "OrderSaga", state.SagaName)
	assert.Equal(t, OrderState{OrderID: "order-1", Amount: 42}, state.Context)
	require.Len(t, state.CompletedActions, 3)
	assert.JSONEq(t, `{"payment_id":"pay-rsv-order-1","charged":42}`, string(state.CompletedActions[1].Output))
}

func TestSagaExecutorStopsAtFailure(t *testing.T) {
	h := newOrderHarness(t)
	h.failCharge = true
	store := NewMemoryStore[OrderState]()
	exec := h.load(t, store)

	err := exec.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "card declined")

	assert.Equal(t, 0, h.calls["ship"])
	assert.False(t, h.replayed["charge"])
	require.Len(t, exec.GetFailedNodes(), 1)
	chargeID, err := h.dag.GetNodeIndex("charge")
	require.NoError(t, err)
	assert.Equal(t, []int64{chargeID}, exec.GetFailedNodes())
	assert.EqualError(t, exec.GetExecutionState()[chargeID].Error, "card declined")
	assert.True(t, exec.Log().Failed())

	state, err := store.Load(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, SagaStatusFailed, state.Status)
	require.Len(t, state.CompletedActions, 1)
	assert.Equal(t, "reserve", state.CompletedActions[0].Name)
}

func TestSagaExecutorResumesFromJournal(t *testing.T) {
	h := newOrderHarness(t)
	h.failCharge = true
	store := NewMemoryStore[OrderState]()

	require.Error(t, h.load(t, store).Execute(context.Background()))

	h.failCharge = false
	exec := h.load(t, store)
	require.NoError(t, exec.Execute(context.Background()))

	assert.Equal(t, 1, h.calls["reserve"], "completed actions are replayed, not re-run")
	assert.Equal(t, 2, h.calls["charge"])
	assert.True(t, h.replayed["charge"], "actions see that earlier ones came from the journal")
	assert.Equal(t, 1, h.calls["ship"])
	assert.Equal(t, []string{"charge", "ship"}, exec.GetExecutionOrder())
	assert.Equal(t, 2, exec.Invocations())

	reserveID, err := h.dag.GetNodeIndex("reserve")
	require.NoError(t, err)
	assert.Equal(t, LoadSucceeded, exec.Log().Status(reserveID))

	shipped, ok := LookupOutput[string](exec, "ship")
	require.True(t, ok)
	assert.Equal(t, "shipped with pay-rsv-order-1", shipped)
}

func TestSagaExecutorCompletedSagaRunsNothing(t *testing.T) {
	h := newOrderHarness(t)
	store := NewMemoryStore[OrderState]()

	require.NoError(t, h.load(t, store).Execute(context.Background()))

	exec := h.load(t, store)
	require.NoError(t, exec.Execute(context.Background()))

	assert.Empty(t, exec.GetExecutionOrder())
	assert.Equal(t, 1, h.calls["reserve"])
	assert.Equal(t, 1, h.calls["ship"])
	assert.Equal(t, 1, exec.Invocations())

	payment, ok := LookupOutput[ChargeResult](exec, "charge")
	require.True(t, ok)
	assert.Equal(t, 42, payment.Charged)
}

func TestSagaExecutorRejectsUnserializableOutput(t *testing.T) {
	registry := NewActionRegistry[OrderState, *OrderSaga]()
	builder := NewDagBuilder("BadSaga", registry)

	bad := NewActionFunc[OrderState, *OrderSaga, chan int]("bad",
		func(ctx context.Context, sgctx orderAction) (chan int, error) {
			return make(chan int), nil
		})
	require.NoError(t, builder.Append(&ActionNodeKind[OrderState, *OrderSaga]{NodeName: "bad", Action: bad}))
	d, err := builder.Build()
	require.NoError(t, err)

	exec := NewSagaExecutor(NewSagaDag(d, nil), registry, &OrderSaga{}, "bad-1", NewMemoryStore[OrderState]())
	err = exec.Execute(context.Background())
	require.Error(t, err)

	var actionErr *ActionError
	assert.ErrorAs(t, err, &actionErr)
}

func TestLoadExecutorStoreError(t *testing.T) {
	h := newOrderHarness(t)
	_, err := LoadExecutor(context.Background(), h.dag, h.registry, &OrderSaga{}, "order-1", brokenStore{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStateNotFound)
}

type brokenStore struct{}

func (brokenStore) Save(context.Context, string, State[OrderState]) error {
	return errors.New("unavailable")
}

func (brokenStore) Load(context.Context, string) (*State[OrderState], error) {
	return nil, errors.New("unavailable")
}

func (brokenStore) Delete(context.Context, string) error {
	return errors.New("unavailable")
}

func TestSagaDagExportToDot(t *testing.T) {
	h := newOrderHarness(t)

	out, err := h.dag.ExportToDot()
	require.NoError(t, err)
	assert.Contains(t, out, "OrderSaga")
	assert.Contains(t, out, "rankdir=LR")
	assert.Contains(t, out, "node_name=charge")
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Value int `json:"value"`
}

type echoResponse struct {
	Key     string `json:"key"`
	Doubled int    `json:"doubled"`
}

const (
	echoType   = "EchoWorkflow"
	echoMethod = "double"
)

func newEchoRouter(t *testing.T, calls *atomic.Int64) *Router {
	t.Helper()
	r := NewRouter(time.Second, nil)
	t.Cleanup(r.Close)

	err := r.Handle(echoType, echoMethod, TypedHandler(func(_ context.Context, key string, req echoRequest) (echoResponse, error) {
		calls.Add(1)
		return echoResponse{Key: key, Doubled: req.Value * 2}, nil
	}))
	require.NoError(t, err)
	return r
}

func TestRouterInvoke(t *testing.T) {
	var calls atomic.Int64
	r := newEchoRouter(t, &calls)

	resp, err := Invoke[echoRequest, echoResponse](context.Background(), r,
		Target{WorkflowType: echoType, Key: "tx-1", Method: echoMethod}, echoRequest{Value: 21})
	require.NoError(t, err)

	assert.Equal(t, "tx-1", resp.Key)
	assert.Equal(t, 42, resp.Doubled)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRouterRemembersReplyPerInstance(t *testing.T) {
	var calls atomic.Int64
	r := newEchoRouter(t, &calls)
	ctx := context.Background()

	target := Target{WorkflowType: echoType, Key: "tx-1", Method: echoMethod}
	first, err := Invoke[echoRequest, echoResponse](ctx, r, target, echoRequest{Value: 1})
	require.NoError(t, err)
	second, err := Invoke[echoRequest, echoResponse](ctx, r, target, echoRequest{Value: 5})
	require.NoError(t, err)

	assert.Equal(t, first, second, "same instance replays its first reply")
	assert.Equal(t, int64(1), calls.Load())

	other, err := Invoke[echoRequest, echoResponse](ctx, r,
		Target{WorkflowType: echoType, Key: "tx-2", Method: echoMethod}, echoRequest{Value: 5})
	require.NoError(t, err)
	assert.Equal(t, 10, other.Doubled)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 2, r.Instances())
}

func TestRouterUnknownTarget(t *testing.T) {
	r := NewRouter(time.Second, nil)
	defer r.Close()

	_, err := r.Call(context.Background(), Target{WorkflowType: "Nope", Key: "k", Method: "m"}, []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrossCall)
	assert.ErrorIs(t, err, ErrNoHandler)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "Nope", callErr.Target.WorkflowType)
}

func TestRouterDuplicateHandler(t *testing.T) {
	r := NewRouter(time.Second, nil)
	defer r.Close()

	h := func(context.Context, string, []byte) ([]byte, error) { return nil, nil }
	require.NoError(t, r.Handle(echoType, echoMethod, h))
	assert.Error(t, r.Handle(echoType, echoMethod, h))
}

func TestRouterTimeout(t *testing.T) {
	r := NewRouter(20*time.Millisecond, nil)
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, r.Handle(echoType, echoMethod, func(context.Context, string, []byte) ([]byte, error) {
		<-release
		return []byte(`{}`), nil
	}))

	_, err := r.Call(context.Background(), Target{WorkflowType: echoType, Key: "slow", Method: echoMethod}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrossCall)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouterHandlerFailureIsNotRemembered(t *testing.T) {
	r := NewRouter(time.Second, nil)
	defer r.Close()

	var calls atomic.Int64
	require.NoError(t, r.Handle(echoType, echoMethod, func(context.Context, string, []byte) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return []byte(`"ok"`), nil
	}))

	target := Target{WorkflowType: echoType, Key: "k", Method: echoMethod}
	_, err := r.Call(context.Background(), target, nil)
	assert.ErrorIs(t, err, ErrCrossCall)

	out, err := r.Call(context.Background(), target, nil)
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(out))
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	r := NewRouter(time.Second, nil)
	defer r.Close()

	require.NoError(t, r.Handle(echoType, echoMethod, func(context.Context, string, []byte) ([]byte, error) {
		panic("boom")
	}))

	_, err := r.Call(context.Background(), Target{WorkflowType: echoType, Key: "k", Method: echoMethod}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrossCall)
	assert.Contains(t, err.Error(), "boom")
}

func TestRouterSerializesCallsPerInstance(t *testing.T) {
	r := NewRouter(time.Second, nil)
	defer r.Close()

	var active, maxActive atomic.Int64
	require.NoError(t, r.Handle(echoType, echoMethod, func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return nil, errors.New("not remembered")
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Call(context.Background(), Target{WorkflowType: echoType, Key: "same", Method: echoMethod}, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxActive.Load())
}

func TestRouterIdleInstancesHoldNoGoroutines(t *testing.T) {
	var calls atomic.Int64
	r := newEchoRouter(t, &calls)
	ctx := context.Background()
	before := runtime.NumGoroutine()

	for i := 0; i < 200; i++ {
		target := Target{WorkflowType: echoType, Key: fmt.Sprintf("tx-%d", i), Method: echoMethod}
		_, err := Invoke[echoRequest, echoResponse](ctx, r, target, echoRequest{Value: i})
		require.NoError(t, err)
	}
	assert.Equal(t, 200, r.Instances())

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, time.Second, 5*time.Millisecond, "goroutines grow with the number of instances")

	// Replies survive while idle.
	again, err := Invoke[echoRequest, echoResponse](ctx, r,
		Target{WorkflowType: echoType, Key: "tx-7", Method: echoMethod}, echoRequest{Value: 100})
	require.NoError(t, err)
	assert.Equal(t, 14, again.Doubled)
	assert.Equal(t, int64(200), calls.Load())
}

func TestRouterClosed(t *testing.T) {
	var calls atomic.Int64
	r := newEchoRouter(t, &calls)
	r.Close()

	_, err := r.Call(context.Background(), Target{WorkflowType: echoType, Key: "k", Method: echoMethod}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrCrossCall)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInvokeBadResponse(t *testing.T) {
	r := NewRouter(time.Second, nil)
	defer r.Close()

	require.NoError(t, r.Handle(echoType, echoMethod, func(context.Context, string, []byte) ([]byte, error) {
		return []byte("not json"), nil
	}))

	_, err := Invoke[echoRequest, echoResponse](context.Background(), r,
		Target{WorkflowType: echoType, Key: "k", Method: echoMethod}, echoRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCrossCall)
	assert.Contains(t, err.Error(), "deserialize response")
}

func TestNATSGatewayBoundsCalls(t *testing.T) {
	g := NewNATSGateway(nil, "feesaga", 50*time.Millisecond)

	ctx, cancel := g.callContext(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok, "a call without a deadline still gets one")
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	parent, cancelParent := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelParent()
	parentDeadline, _ := parent.Deadline()
	ctx, cancel = g.callContext(parent)
	defer cancel()
	deadline, _ = ctx.Deadline()
	assert.Equal(t, parentDeadline, deadline, "an earlier caller deadline wins")

	assert.Equal(t, DefaultCallTimeout, NewNATSGateway(nil, "feesaga", 0).timeout)
}

func TestSubject(t *testing.T) {
	target := Target{WorkflowType: "ComplianceWorkflow", Key: "tx-1", Method: "check"}
	subject := Subject("feesaga", target)
	assert.Equal(t, "feesaga.ComplianceWorkflow.check", subject)

	workflowType, method, err := parseSubject("feesaga", subject)
	require.NoError(t, err)
	assert.Equal(t, "ComplianceWorkflow", workflowType)
	assert.Equal(t, "check", method)

	for _, bad := range []string{"other.A.b", "feesaga.A", "feesaga.A.b.c", "feesaga..b"} {
		_, _, err := parseSubject("feesaga", bad)
		assert.Error(t, err, bad)
	}
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "W/k/m", Target{WorkflowType: "W", Key: "k", Method: "m"}.String())
}

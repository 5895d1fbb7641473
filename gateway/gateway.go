// Package gateway addresses workflow instances by (workflow type, instance
// key, method) and calls them with request/reply semantics.
//
// The caller blocks until the reply arrives, the context is done or the call
// times out. Every failure to complete a call is reported as ErrCrossCall;
// the gateway itself never retries.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCrossCall is matched by every error a Gateway returns.
var ErrCrossCall = errors.New("cross-workflow call failure")

// ErrClosed is returned by calls to a closed Router.
var ErrClosed = errors.New("gateway closed")

// ErrNoHandler is returned when nothing serves the addressed method.
var ErrNoHandler = errors.New("no handler for target")

// Target addresses one method of one workflow instance.
type Target struct {
	WorkflowType string
	Key          string
	Method       string
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.WorkflowType, t.Key, t.Method)
}

// Gateway sends a serialized request to a target and returns the serialized
// reply.
type Gateway interface {
	Call(ctx context.Context, target Target, payload []byte) ([]byte, error)
}

// CallError describes a call that could not be completed.
type CallError struct {
	Target Target
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s: %v", e.Target, e.Err)
}

// Unwrap matches both ErrCrossCall and the underlying cause.
func (e *CallError) Unwrap() []error {
	return []error{ErrCrossCall, e.Err}
}

func callFailed(target Target, err error) error {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return err
	}
	return &CallError{Target: target, Err: err}
}

// Invoke JSON-encodes req, calls target through gw and decodes the reply.
// Encoding and decoding faults are reported as ErrCrossCall too.
func Invoke[Req, Resp any](ctx context.Context, gw Gateway, target Target, req Req) (Resp, error) {
	var resp Resp

	payload, err := json.Marshal(req)
	if err != nil {
		return resp, callFailed(target, fmt.Errorf("serialize request: %w", err))
	}

	out, err := gw.Call(ctx, target, payload)
	if err != nil {
		return resp, callFailed(target, err)
	}

	if err := json.Unmarshal(out, &resp); err != nil {
		return resp, callFailed(target, fmt.Errorf("deserialize response: %w", err))
	}
	return resp, nil
}

// Handler serves one method of a workflow type. key is the addressed
// instance.
type Handler func(ctx context.Context, key string, payload []byte) ([]byte, error)

// TypedHandler adapts a function over decoded values into a Handler.
func TypedHandler[Req, Resp any](fn func(ctx context.Context, key string, req Req) (Resp, error)) Handler {
	return func(ctx context.Context, key string, payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("deserialize request: %w", err)
		}
		resp, err := fn(ctx, key, req)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("serialize response: %w", err)
		}
		return out, nil
	}
}

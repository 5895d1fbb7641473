package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultCallTimeout bounds a call when the Router has no other timeout.
const DefaultCallTimeout = 30 * time.Second

type handlerKey struct {
	workflowType string
	method       string
}

type instanceKey struct {
	workflowType string
	key          string
}

type reply struct {
	payload []byte
	err     error
}

// instance is one addressed workflow instance. Holding turn is the right to
// run one of its methods; results keeps its successful replies.
type instance struct {
	key     instanceKey
	turn    chan struct{}
	results *xsync.MapOf[string, []byte]
}

// Router is an in-process Gateway. Calls to the same instance are served one
// at a time; different instances run concurrently. A successful reply is
// remembered per (instance, method) and returned again to later calls, so a
// workflow method runs at most once per instance key. Only calls in flight
// hold a goroutine; an idle instance is just its recorded replies.
type Router struct {
	handlers  *xsync.MapOf[handlerKey, Handler]
	instances *xsync.MapOf[instanceKey, *instance]
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewRouter returns a Router whose calls time out after timeout. A zero
// timeout selects DefaultCallTimeout.
func NewRouter(timeout time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers:  xsync.NewMapOf[handlerKey, Handler](),
		instances: xsync.NewMapOf[instanceKey, *instance](),
		timeout:   timeout,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Handle registers the handler for a method of a workflow type.
func (r *Router) Handle(workflowType, method string, h Handler) error {
	if _, loaded := r.handlers.LoadOrStore(handlerKey{workflowType, method}, h); loaded {
		return fmt.Errorf("handler for %s.%s already registered", workflowType, method)
	}
	return nil
}

// Call implements Gateway.
func (r *Router) Call(ctx context.Context, target Target, payload []byte) ([]byte, error) {
	handler, ok := r.handlers.Load(handlerKey{target.WorkflowType, target.Method})
	if !ok {
		return nil, callFailed(target, ErrNoHandler)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	inst, err := r.instance(target)
	if err != nil {
		return nil, callFailed(target, err)
	}
	if cached, ok := inst.results.Load(target.Method); ok {
		return cached, nil
	}

	select {
	case inst.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, callFailed(target, ctx.Err())
	case <-r.done:
		return nil, callFailed(target, ErrClosed)
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		<-inst.turn
		return nil, callFailed(target, ErrClosed)
	}
	r.wg.Add(1)
	r.mu.RUnlock()

	// Buffered so serve never blocks on a caller that gave up.
	res := make(chan reply, 1)
	go r.serve(ctx, inst, target.Method, handler, payload, res)

	select {
	case rep := <-res:
		if rep.err != nil {
			return nil, callFailed(target, rep.err)
		}
		return rep.payload, nil
	case <-ctx.Done():
		return nil, callFailed(target, ctx.Err())
	}
}

func (r *Router) instance(target Target) (*instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	key := instanceKey{target.WorkflowType, target.Key}
	inst, _ := r.instances.LoadOrCompute(key, func() *instance {
		return &instance{
			key:     key,
			turn:    make(chan struct{}, 1),
			results: xsync.NewMapOf[string, []byte](),
		}
	})
	return inst, nil
}

// serve runs one method of inst while holding its turn and releases the turn
// when done.
func (r *Router) serve(ctx context.Context, inst *instance, method string, h Handler, payload []byte, res chan<- reply) {
	defer r.wg.Done()
	defer func() { <-inst.turn }()
	log := r.logger.With("workflow", inst.key.workflowType, "key", inst.key.key, "method", method)

	// A call that queued behind the first one finds its reply here.
	if cached, ok := inst.results.Load(method); ok {
		log.Debug("returning recorded reply")
		res <- reply{payload: cached}
		return
	}
	if err := ctx.Err(); err != nil {
		res <- reply{err: err}
		return
	}

	out, err := invokeHandler(ctx, h, inst.key.key, payload)
	if err != nil {
		log.Error("workflow method failed", "error", err)
	} else {
		inst.results.Store(method, out)
	}
	res <- reply{payload: out, err: err}
}

func invokeHandler(ctx context.Context, h Handler, key string, payload []byte) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h(ctx, key, payload)
}

// Instances returns the number of instances that have been addressed.
func (r *Router) Instances() int {
	return r.instances.Size()
}

// Close waits for calls in flight. Waiting and later calls fail with
// ErrClosed.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
}

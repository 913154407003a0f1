package mprpc

import (
	"context"
	"sync"
)

// HandlerFunc handles one inbound Request or Notification's params and
// either produces a result value or fails. ctx is cancelled when the
// owning Session's consumer pipeline is cancelled (graceful shutdown) or
// when both pipelines are torn down (forced shutdown); long-running
// handlers should select on ctx.Done().
type HandlerFunc func(ctx context.Context, params []any) (any, error)

// Dispatcher maps method names to handlers (spec.md §3/§4.3). It is safe
// for concurrent use: the consumer pipeline dispatches to it from any
// number of concurrently running detached tasks, and callers may mutate
// it (via HandleFunc/Remove) at any time — the Session always observes
// the Dispatcher's contents at the moment of each dispatch, never a
// snapshot taken at Session construction.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher returns an empty Dispatcher. A Request dispatched
// against an empty Dispatcher always fails with *MethodNotFoundError.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// HandleFunc registers fn as the handler for method, replacing any
// previous handler for that name. This is registration sugar over the
// underlying map (spec.md's Dispatcher is a flat name→handler table, not
// a reflected service registry like some peers in the wider RPC
// ecosystem).
func (d *Dispatcher) HandleFunc(method string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = fn
}

// Remove deletes the handler for method, if any.
func (d *Dispatcher) Remove(method string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, method)
}

// has reports whether method currently has a registered handler,
// without invoking it — spec.md §4.3 requires distinguishing "missing
// entry" from "entry raised a failure that happens to look missing".
func (d *Dispatcher) has(method string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.handlers[method]
	return fn, ok
}

// dispatch invokes the handler registered for method with params,
// returning *MethodNotFoundError if none is registered. Handler failures
// propagate unchanged: dispatch never swallows or rewrites them.
func (d *Dispatcher) dispatch(ctx context.Context, method string, params []any) (any, error) {
	fn, ok := d.has(method)
	if !ok {
		return nil, &MethodNotFoundError{Method: method}
	}
	return fn(ctx, params)
}

// Package correlation matches asynchronous replies to the calls that are
// waiting for them.
//
// A caller registers a fresh id, publishes a request carrying that id, and
// blocks on the returned Call. The subscriber for the reply channel calls
// Complete (or Fail) with the same id. Every id is fulfilled at most once:
// whichever of completion, failure, timeout or cancellation happens first
// removes the entry, and anything arriving afterwards is dropped.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrDuplicateID = errors.New("correlation id already registered")
	ErrTimeout     = errors.New("timed out waiting for reply")
	ErrAbandoned   = errors.New("call abandoned")
)

// Result is what a waiter receives: either a payload or a failure.
type Result struct {
	Payload []byte
	Err     error
}

// Call is the waiting side of one registered id.
type Call struct {
	ID     string
	router *Router
	done   chan Result // buffered(1), written at most once under the router lock
}

// Router owns the table of in-flight calls. Construct with NewRouter.
type Router struct {
	mu      sync.Mutex
	pending map[string]*Call
}

func NewRouter() *Router {
	return &Router{pending: make(map[string]*Call)}
}

// Register inserts an unfulfilled slot for id. A reply that lands before
// the caller reaches Wait is kept in the slot.
func (r *Router) Register(id string) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c := &Call{ID: id, router: r, done: make(chan Result, 1)}
	r.pending[id] = c
	return c, nil
}

// Complete fulfils id with payload. It reports false when id is not (or no
// longer) registered, in which case payload is discarded.
func (r *Router) Complete(id string, payload []byte) bool {
	return r.fulfil(id, Result{Payload: payload})
}

// Fail fulfils id with err so the waiter returns immediately.
func (r *Router) Fail(id string, err error) bool {
	return r.fulfil(id, Result{Err: err})
}

// Abandon removes id; a waiter, if any, gets ErrAbandoned.
func (r *Router) Abandon(id string) {
	r.fulfil(id, Result{Err: fmt.Errorf("%w: %s", ErrAbandoned, id)})
}

func (r *Router) fulfil(id string, res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[id]
	if !ok {
		return false
	}
	delete(r.pending, id)
	c.done <- res
	return true
}

// Pending returns the number of in-flight calls.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Wait blocks until the call is fulfilled, timeout elapses or ctx ends. On
// timeout or cancellation the entry is removed, so a late reply is dropped.
// Only one goroutine may wait on a Call.
func (c *Call) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-c.done:
		return res.Payload, res.Err
	case <-timer.C:
		return c.expire(fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, c.ID))
	case <-ctx.Done():
		return c.expire(ctx.Err())
	}
}

// expire removes the entry unless a reply won the race, in which case the
// reply is returned instead of cause.
func (c *Call) expire(cause error) ([]byte, error) {
	r := c.router
	r.mu.Lock()
	if cur, ok := r.pending[c.ID]; ok && cur == c {
		delete(r.pending, c.ID)
		r.mu.Unlock()
		return nil, cause
	}
	r.mu.Unlock()

	// Removed entries were fulfilled under the lock, so the result is buffered.
	select {
	case res := <-c.done:
		return res.Payload, res.Err
	default:
		return nil, cause
	}
}

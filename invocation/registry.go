package invocation

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Controller is the cancellation trigger exclusively owned by one invocation.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newController() *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{ctx: ctx, cancel: cancel}
}

// Done returns a channel closed once the controller has been triggered.
func (c *Controller) Done() <-chan struct{} { return c.ctx.Done() }

// Cancelled reports whether the controller has been triggered.
func (c *Controller) Cancelled() bool { return c.ctx.Err() != nil }

// Cancel triggers the controller. Repeated calls are no-ops.
func (c *Controller) Cancel() { c.cancel() }

// Registry tracks in-flight invocations by id. Every mutation is a point-wise
// insert or delete under one mutex; there is no cross-key locking.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Controller
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Controller)}
}

// Register creates and stores a fresh controller for id. An id that is
// already tracked is rejected rather than overwritten.
func (r *Registry) Register(id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("invocation %s already registered", id)
	}
	c := newController()
	r.entries[id] = c
	return c, nil
}

// Cancel triggers and removes the controller for id. Unknown or already
// terminal ids are a no-op. The return value reports whether an entry was
// cancelled.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	c, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	c.Cancel()
	return true
}

// Deregister removes id and releases its controller. It is idempotent and may
// be called from any terminal path without checking prior state.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	c, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		c.Cancel()
	}
}

// Has reports whether id is currently tracked.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of tracked invocations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the tracked ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Package sessions tracks running session coordinators so shutdown can
// cancel and drain them. No ambient global state; the server owns one
// Registry.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the registry can do to a running coordinator.
type Handle struct {
	Cancel func()
}

type entry struct {
	handle Handle
	once   sync.Once
}

// Registry is a concurrent-safe map of live coordinators keyed by session id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a coordinator and returns its unregister func. A stale
// entry under the same session id is canceled and replaced.
func (r *Registry) Register(sessionID string, h Handle) (unregister func()) {
	e := &entry{handle: h}

	r.mu.Lock()
	old := r.entries[sessionID]
	r.entries[sessionID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		r.unregister(sessionID, old)
	}

	return func() { r.unregister(sessionID, e) }
}

func (r *Registry) unregister(sessionID string, e *entry) {
	e.once.Do(func() {
		r.mu.Lock()
		if r.entries[sessionID] == e {
			delete(r.entries, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Count reports the number of live coordinators.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CancelAll asks every live coordinator to stop. It does not wait.
func (r *Registry) CancelAll() (canceled int) {
	var cancels []func()
	r.mu.Lock()
	for _, e := range r.entries {
		if e.handle.Cancel != nil {
			cancels = append(cancels, e.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered coordinator has unregistered or ctx
// expires. Reports whether the drain completed.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

package session

import (
	"fmt"
	"sync"
)

// Registry maps session IDs to running controllers. A ptyshare process
// normally hosts exactly one session, but the registry exists so the
// HTTP surface can look sessions up by ID uniformly and so a future
// multi-session mode (not part of this spec) has somewhere to live.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Controller)}
}

// Register adds a controller, keyed by its own ID.
func (r *Registry) Register(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
}

// Unregister removes a controller by ID.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Get looks up a controller by ID.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// MustGet looks up a controller by ID, returning an error suitable for
// an HTTP 404 if it is not found.
func (r *Registry) MustGet(id string) (*Controller, error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: not found", id)
	}
	return c, nil
}

// List returns every currently registered session ID.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

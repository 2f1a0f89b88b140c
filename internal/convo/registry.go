package convo

import "sync"

// Registry is the process-wide table of live sessions, keyed by session id.
// It is injected into the server and each coordinator rather than living as
// a package-level singleton, so lifetime is tied to the process explicitly.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Coordinator
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Coordinator)}
}

// Put registers a coordinator under its session id.
func (r *Registry) Put(id string, c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = c
}

// Get returns the coordinator for id, if registered.
func (r *Registry) Get(id string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Delete removes id. Removing an absent id is a no-op.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// DestroyAll destroys every registered session. Called on shutdown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		coords = append(coords, c)
	}
	r.mu.Unlock()

	for _, c := range coords {
		c.Destroy()
	}
}

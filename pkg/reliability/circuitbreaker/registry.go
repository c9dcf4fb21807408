package circuitbreaker

import "sync"

// Registry holds named breakers, creating them lazily with a shared default
// Config on first use (§4.4 "named registry; reset-all for tests").
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a registry; cfg is applied to every breaker it creates.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the named breaker, creating it if this is the first reference.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = newBreaker(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// ResetAll forces every known breaker back to closed. Intended for test
// teardown between cases that share a registry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.reset()
	}
}

// Package registry is the explicit "acquire-or-create" singleton object for
// process-wide breaker and cache instances, replacing the hidden global
// mutable state the source shape relied on (see the re-architecture notes).
package registry

import (
	"sync"

	"github.com/stablereq/stablereq/internal/breaker"
	"github.com/stablereq/stablereq/internal/cache"
)

// Registry keys instances by name; "first configuration wins" — a second
// AcquireBreaker/AcquireCache call with the same key returns the existing
// instance regardless of the config it was called with.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
	caches   map[string]*cache.Cache
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		breakers: map[string]*breaker.Breaker{},
		caches:   map[string]*cache.Cache{},
	}
}

// defaultRegistry is the process-wide registry used when callers do not supply
// their own instances explicitly.
var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// AcquireBreaker returns the breaker registered under key, constructing it
// with factory on first use.
func (r *Registry) AcquireBreaker(key string, factory func() *breaker.Breaker) *breaker.Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := factory()
	r.breakers[key] = b
	return b
}

// AcquireCache returns the cache registered under key, constructing it with
// factory on first use.
func (r *Registry) AcquireCache(key string, factory func() *cache.Cache) *cache.Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[key]; ok {
		return c
	}
	c := factory()
	r.caches[key] = c
	return c
}

// Reset clears every registered instance. Intended for tests and explicit
// process-lifecycle resets; never called implicitly.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = map[string]*breaker.Breaker{}
	r.caches = map[string]*cache.Cache{}
}

package engine

import (
	"sort"
	"sync"
)

// Reaction is what a hook or resolver contributes: follow-up events for the
// cascade and new interactions for the stack.
type Reaction struct {
	Events       []Event
	Interactions []Descriptor
}

// Hook reacts to an event on behalf of one trigger source.
type Hook[C Core[C]] func(state State[C], ev Event, t Trigger, rnd Random) (Reaction, error)

// Resolver turns a player's choice into a reaction.
type Resolver[C Core[C]] func(state State[C], player PlayerID, choice Choice, rnd Random, now int64) (Reaction, error)

// Refresher rebuilds a queued interaction's options when it becomes current.
type Refresher[C Core[C]] func(state State[C], d Descriptor) []Option

// Registry holds hooks and resolvers for one game. It is built once and
// passed to the pipeline explicitly.
type Registry[C Core[C]] struct {
	mu        sync.RWMutex
	hooks     map[string]Hook[C]
	resolvers map[string]Resolver[C]
	refresh   map[string]Refresher[C]
}

// NewRegistry creates an empty registry.
func NewRegistry[C Core[C]]() *Registry[C] {
	return &Registry[C]{
		hooks:     make(map[string]Hook[C]),
		resolvers: make(map[string]Resolver[C]),
		refresh:   make(map[string]Refresher[C]),
	}
}

// RegisterHook adds a hook. The first registration of a key wins; a repeat
// returns false and changes nothing.
func (r *Registry[C]) RegisterHook(key string, h Hook[C]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[key]; exists {
		return false
	}
	r.hooks[key] = h
	return true
}

// RegisterResolver adds a resolver with the same first-wins rule.
func (r *Registry[C]) RegisterResolver(key string, fn Resolver[C]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resolvers[key]; exists {
		return false
	}
	r.resolvers[key] = fn
	return true
}

// RegisterRefresher adds an options refresher with the same first-wins rule.
func (r *Registry[C]) RegisterRefresher(key string, fn Refresher[C]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.refresh[key]; exists {
		return false
	}
	r.refresh[key] = fn
	return true
}

func (r *Registry[C]) Hook(key string) (Hook[C], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[key]
	return h, ok
}

func (r *Registry[C]) Resolver(key string) (Resolver[C], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.resolvers[key]
	return fn, ok
}

func (r *Registry[C]) Refresher(key string) (Refresher[C], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.refresh[key]
	return fn, ok
}

// HookKeys returns the registered hook keys, sorted.
func (r *Registry[C]) HookKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.hooks))
	for k := range r.hooks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

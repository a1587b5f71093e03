package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry indexes providers by name, field and tier. It is long-lived and
// safe for concurrent use; registration normally happens once at assembly.
type Registry struct {
	mu        sync.RWMutex
	ordered   []Provider
	byName    map[string]Provider
}

// NewRegistry creates a registry holding the given providers in order.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a provider. Names must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[p.Name()]; dup {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.byName[p.Name()] = p
	r.ordered = append(r.ordered, p)
	return nil
}

// ByName returns the provider with the given name.
func (r *Registry) ByName(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return p, nil
}

// ByField returns all providers able to enrich field, sorted by tier
// (free first) with registration order as the tie-break.
func (r *Registry) ByField(field string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, p := range r.ordered {
		if p.CanEnrich(field) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Tier().Rank() < out[j].Tier().Rank()
	})
	return out
}

// ByTier returns all providers of the given tier in registration order.
func (r *Registry) ByTier(tier Tier) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, p := range r.ordered {
		if p.Tier() == tier {
			out = append(out, p)
		}
	}
	return out
}

// All returns every registered provider in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.ordered...)
}

// Names returns the registered provider names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ordered))
	for _, p := range r.ordered {
		names = append(names, p.Name())
	}
	return names
}

package core

import (
	"fmt"
	"slices"
	"sync"
)

// Registry is the central, thread-safe directory of agent profiles keyed by
// agent id. Components hold ids and look profiles up here instead of keeping
// references to each other. Roster order is insertion order.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]AgentProfile
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]AgentProfile)}
}

// Add validates and registers a new profile.
func (r *Registry) Add(p AgentProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, p.ID)
	}
	r.profiles[p.ID] = p.Clone()
	r.order = append(r.order, p.ID)
	return nil
}

// Update replaces an existing profile. The id cannot change.
func (r *Registry) Update(p AgentProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, p.ID)
	}
	r.profiles[p.ID] = p.Clone()
	return nil
}

// Remove deletes a profile.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	delete(r.profiles, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return nil
}

// Get returns a copy of the profile for id.
func (r *Registry) Get(id string) (AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return AgentProfile{}, false
	}
	return p.Clone(), true
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[id]
	return ok
}

// Role returns the role of id.
func (r *Registry) Role(id string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p.Role, ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// IDs returns agent ids in roster order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// List returns copies of all profiles in roster order.
func (r *Registry) List() []AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentProfile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id].Clone())
	}
	return out
}

// GroupMembers returns the ids in group (GroupAll matches everyone) with the
// given role; an empty role matches any role.
func (r *Registry) GroupMembers(group string, role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		p := r.profiles[id]
		if group != GroupAll && p.Group != group {
			continue
		}
		if role != "" && p.Role != role {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Groups returns the distinct groups in roster order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		g := r.profiles[id].Group
		if g != "" && !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	return out
}

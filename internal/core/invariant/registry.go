package invariant

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the catalog of invariants keyed by id.
type Registry struct {
	mu         sync.RWMutex
	invariants map[ID]*Invariant
}

func NewRegistry() *Registry {
	return &Registry{invariants: make(map[ID]*Invariant)}
}

func (r *Registry) Register(inv *Invariant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.invariants[inv.ID]; exists {
		return fmt.Errorf("invariant %s already registered", inv.ID)
	}
	r.invariants[inv.ID] = inv
	return nil
}

func (r *Registry) MustRegister(invs ...*Invariant) {
	for _, inv := range invs {
		if err := r.Register(inv); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(id ID) (*Invariant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invariants[id]
	return inv, ok
}

func (r *Registry) MustGet(id ID) *Invariant {
	inv, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("invariant %s not registered", id))
	}
	return inv
}

// IDs returns every registered id, sorted.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.invariants))
	for id := range r.invariants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve orders the given invariant set by declared dependencies
// (Kahn's algorithm). Only edges between members of the set are
// considered. Ties break by invariant id so ledgers are reproducible.
// A dependency cycle is an error.
func (r *Registry) Resolve(ids []ID) ([]*Invariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member := make(map[ID]*Invariant, len(ids))
	for _, id := range ids {
		inv, ok := r.invariants[id]
		if !ok {
			return nil, fmt.Errorf("invariant %s not registered", id)
		}
		member[id] = inv
	}

	indegree := make(map[ID]int, len(member))
	dependents := make(map[ID][]ID, len(member))
	for id, inv := range member {
		if _, seen := indegree[id]; !seen {
			indegree[id] = 0
		}
		for _, dep := range inv.DependsOn {
			if _, in := member[dep]; !in {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []ID
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	ordered := make([]*Invariant, 0, len(member))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, member[id])

		released := false
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				released = true
			}
		}
		if released {
			sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		}
	}

	if len(ordered) != len(member) {
		return nil, fmt.Errorf("dependency cycle among invariants %v", ids)
	}
	return ordered, nil
}

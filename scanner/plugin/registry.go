package plugin

import (
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/pscanner/pscan"
)

// Descriptor of a registered rule
type Descriptor struct {
	ID      int
	Name    string
	Enabled bool
	Rule    pscan.Rule
}

// Registry for concurrent safe access to rules, kept in insertion order so
// evaluation order is the same across runs
type Registry struct {
	lock  *sync.RWMutex
	order []int
	rules map[int]*Descriptor
}

// NewRegistry for rules
func NewRegistry() *Registry {
	return &Registry{
		lock:  &sync.RWMutex{},
		order: make([]int, 0),
		rules: make(map[int]*Descriptor),
	}
}

// Register an enabled rule
func (r *Registry) Register(rule pscan.Rule) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	id := rule.ID()
	if _, exist := r.rules[id]; exist {
		return errors.Wrapf(pscan.ErrDuplicateRule, "id %d", id)
	}
	r.rules[id] = &Descriptor{ID: id, Name: rule.Name(), Enabled: true, Rule: rule}
	r.order = append(r.order, id)
	return nil
}

// Unregister a rule from our registry
func (r *Registry) Unregister(id int) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exist := r.rules[id]; !exist {
		return errors.Wrapf(pscan.ErrUnknownRule, "id %d", id)
	}
	delete(r.rules, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Enable a previously disabled rule
func (r *Registry) Enable(id int) error {
	return r.setEnabled(id, true)
}

// Disable a rule without discarding it (or its loaded configuration)
func (r *Registry) Disable(id int) error {
	return r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id int, enabled bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	desc, exist := r.rules[id]
	if !exist {
		return errors.Wrapf(pscan.ErrUnknownRule, "id %d", id)
	}
	desc.Enabled = enabled
	return nil
}

// ActiveRules returns the enabled rules in registration order. The returned
// slice is a snapshot and safe to iterate while the registry changes.
func (r *Registry) ActiveRules() []pscan.Rule {
	r.lock.RLock()
	defer r.lock.RUnlock()

	active := make([]pscan.Rule, 0, len(r.order))
	for _, id := range r.order {
		if desc := r.rules[id]; desc.Enabled {
			active = append(active, desc.Rule)
		}
	}
	return active
}

// Descriptors copies of every registered rule in registration order
func (r *Registry) Descriptors() []Descriptor {
	r.lock.RLock()
	defer r.lock.RUnlock()

	descs := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		descs = append(descs, *r.rules[id])
	}
	return descs
}

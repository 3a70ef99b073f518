package cachemanager

import (
	"sort"
	"sync"
)

// Bootstrap provides application resources by name. The manager only asks
// it for a default logger.
type Bootstrap interface {
	Resource(name string) (any, bool)
}

// MapBootstrap is a Bootstrap backed by a map.
type MapBootstrap map[string]any

// Resource implements Bootstrap.
func (b MapBootstrap) Resource(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

// Resource feeds named template options into a Manager the way an
// application bootstrap does: options for a name with a template are merged
// into it, other names become new templates.
type Resource struct {
	options     map[string]Template
	managerOpts []ManagerOption
	bootstrap   Bootstrap

	mu      sync.Mutex
	manager *Manager
}

// NewResource returns a resource registering options into a manager built
// with opts.
func NewResource(options map[string]Template, opts ...ManagerOption) *Resource {
	cloned := make(map[string]Template, len(options))
	for name, tmpl := range options {
		cloned[name] = tmpl.Clone()
	}
	return &Resource{options: cloned, managerOpts: opts}
}

// SetBootstrap sets the bootstrap handed to the manager. It has no effect
// once the manager exists.
func (r *Resource) SetBootstrap(b Bootstrap) *Resource {
	r.mu.Lock()
	r.bootstrap = b
	r.mu.Unlock()
	return r
}

// Init builds the manager and registers all options. Later calls return the
// same manager.
func (r *Resource) Init() (*Manager, error) {
	return r.Manager()
}

// Manager returns the manager, creating it on first use. A registration
// failure is returned and the next call starts over.
func (r *Resource) Manager() (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manager != nil {
		return r.manager, nil
	}

	opts := r.managerOpts
	if r.bootstrap != nil {
		opts = append(append([]ManagerOption(nil), opts...), WithBootstrap(r.bootstrap))
	}
	m := NewManager(opts...)

	names := make([]string, 0, len(r.options))
	for name := range r.options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.RegisterTemplate(name, r.options[name]); err != nil {
			return nil, err
		}
	}
	r.manager = m
	return m, nil
}

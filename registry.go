package cachemanager

import (
	"sort"
	"sync"
)

// Built-in template names.
const (
	TemplateDefault = "default"
	TemplatePage    = "page"
	TemplatePageTag = "pagetag"
)

// DefaultTemplates returns the built-in templates every registry starts with:
//   - default: Core frontend over a File backend
//   - page: Capture frontend over a Static backend tagged through "pagetag"
//   - pagetag: Core frontend over a File backend, entries never expire
func DefaultTemplates() map[string]Template {
	return map[string]Template{
		TemplateDefault: {
			Frontend: FrontendConfig{
				Name:    "Core",
				Options: Options{"automatic_serialization": true},
			},
			Backend: BackendConfig{
				Name:    "File",
				Options: Options{"cache_dir": "../cache"},
			},
		},
		TemplatePage: {
			Frontend: FrontendConfig{
				Name:    "Capture",
				Options: Options{"ignore_user_abort": true},
			},
			Backend: BackendConfig{
				Name: "Static",
				Options: Options{
					"public_dir": "../public",
					"tag_cache":  TemplatePageTag,
				},
			},
		},
		TemplatePageTag: {
			Frontend: FrontendConfig{
				Name: "Core",
				Options: Options{
					"automatic_serialization": true,
					"lifetime":                0,
				},
			},
			Backend: BackendConfig{
				Name: "File",
				Options: Options{
					"cache_dir":       "../cache",
					"cache_file_perm": 0o600,
				},
			},
		},
	}
}

// TemplateRegistry maps template names to templates. Lookups are exact and
// case-sensitive. It is safe for concurrent use; readers receive copies.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateRegistry returns a registry preloaded with DefaultTemplates.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: DefaultTemplates()}
}

// NewEmptyTemplateRegistry returns a registry without built-in templates.
func NewEmptyTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]Template)}
}

// Get returns a copy of the template registered under name.
func (r *TemplateRegistry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[name]
	if !ok {
		return Template{}, false
	}
	return tmpl.Clone(), true
}

// Has reports whether a template is registered under name.
func (r *TemplateRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// Set stores a copy of tmpl under name, replacing any previous template.
func (r *TemplateRegistry) Set(name string, tmpl Template) {
	tmpl = tmpl.Clone()
	r.mu.Lock()
	r.templates[name] = tmpl
	r.mu.Unlock()
}

// Update applies fn to the template under name while holding the write lock,
// so concurrent merges into the same template never interleave.
func (r *TemplateRegistry) Update(name string, fn func(current Template) (Template, error)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.templates[name]
	if !ok {
		return false, nil
	}
	next, err := fn(current.Clone())
	if err != nil {
		return true, err
	}
	r.templates[name] = next.Clone()
	return true, nil
}

// Upsert applies fn to a copy of the template under name, or to nil when
// there is none, and stores the result. The lookup and the write happen under
// one write lock.
func (r *TemplateRegistry) Upsert(name string, fn func(current *Template) (Template, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var current *Template
	if tmpl, ok := r.templates[name]; ok {
		tmpl = tmpl.Clone()
		current = &tmpl
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	r.templates[name] = next.Clone()
	return nil
}

// Names returns the registered template names in sorted order.
func (r *TemplateRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

package cachemanager

import "github.com/goforj/cachemanager/cachecore"

// Options holds frontend or backend settings keyed by option name.
type Options = cachecore.Options

// Template is a named, reusable cache configuration. Names are kept exactly
// as supplied; nothing in this package changes their case.
type Template struct {
	Frontend FrontendConfig `yaml:"frontend,omitempty"`
	Backend  BackendConfig  `yaml:"backend,omitempty"`

	// FrontendBackendAutoload lets the factory consult its load path for
	// frontend/backend implementations it does not know.
	FrontendBackendAutoload bool `yaml:"frontendBackendAutoload,omitempty"`
}

// FrontendConfig selects and configures the frontend of a template.
type FrontendConfig struct {
	Name    string  `yaml:"name,omitempty"`
	Options Options `yaml:"options,omitempty"`

	// CustomNaming treats Name as a custom implementation identifier
	// instead of a built-in alias.
	CustomNaming bool `yaml:"customFrontendNaming,omitempty"`
}

// BackendConfig selects and configures the backend of a template.
type BackendConfig struct {
	Name    string  `yaml:"name,omitempty"`
	Options Options `yaml:"options,omitempty"`

	// CustomNaming treats Name as a custom implementation identifier
	// instead of a built-in alias.
	CustomNaming bool `yaml:"customBackendNaming,omitempty"`
}

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	t.Frontend.Options = t.Frontend.Options.Clone()
	t.Backend.Options = t.Backend.Options.Clone()
	return t
}

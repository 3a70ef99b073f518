package cachemanager

// Loader is one entry of the factory's load path. It is consulted for
// implementations the factory does not know when a template enables
// FrontendBackendAutoload. Built-in aliases are passed in normalized form,
// custom identifiers verbatim.
type Loader interface {
	LoadBackend(name string) (BackendConstructor, bool)
	LoadFrontend(name string) (FrontendConstructor, bool)
}

// StaticLoader is a Loader backed by fixed constructor maps.
type StaticLoader struct {
	Backends  map[string]BackendConstructor
	Frontends map[string]FrontendConstructor
}

// LoadBackend implements Loader.
func (l StaticLoader) LoadBackend(name string) (BackendConstructor, bool) {
	ctor, ok := l.Backends[name]
	return ctor, ok && ctor != nil
}

// LoadFrontend implements Loader.
func (l StaticLoader) LoadFrontend(name string) (FrontendConstructor, bool) {
	ctor, ok := l.Frontends[name]
	return ctor, ok && ctor != nil
}

// LoaderFuncs adapts two functions to the Loader interface. Either may be nil.
type LoaderFuncs struct {
	Backend  func(name string) (BackendConstructor, bool)
	Frontend func(name string) (FrontendConstructor, bool)
}

// LoadBackend implements Loader.
func (l LoaderFuncs) LoadBackend(name string) (BackendConstructor, bool) {
	if l.Backend == nil {
		return nil, false
	}
	return l.Backend(name)
}

// LoadFrontend implements Loader.
func (l LoaderFuncs) LoadFrontend(name string) (FrontendConstructor, bool) {
	if l.Frontend == nil {
		return nil, false
	}
	return l.Frontend(name)
}

package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goforj/cachemanager/cachecore"
)

// Backend is the storage capability a frontend wraps.
type Backend = cachecore.Backend

// CleaningMode selects which entries Clean removes.
type CleaningMode = cachecore.CleaningMode

const (
	CleanAll            = cachecore.CleanAll
	CleanOld            = cachecore.CleanOld
	CleanMatchingTag    = cachecore.CleanMatchingTag
	CleanNotMatchingTag = cachecore.CleanNotMatchingTag
	CleanMatchingAnyTag = cachecore.CleanMatchingAnyTag
)

// BackendConstructor builds a backend from its options. It should return a
// ConfigError for invalid options and a BackendUnavailableError when a
// runtime dependency is missing.
type BackendConstructor func(ctx context.Context, opts Options) (Backend, error)

// FrontendConstructor builds a frontend owning backend.
type FrontendConstructor func(backend Backend, opts Options) (Frontend, error)

const (
	defaultFrontendName = "Core"
	defaultBackendName  = "File"
)

// Factory turns templates into frontend/backend pairs. Implementations are
// looked up by reference: built-in aliases and custom identifiers live in
// separate registries, and templates with FrontendBackendAutoload fall back
// to the load path.
type Factory struct {
	mu              sync.RWMutex
	backends        map[string]BackendConstructor
	frontends       map[string]FrontendConstructor
	customBackends  map[string]BackendConstructor
	customFrontends map[string]FrontendConstructor
	loadPath        []Loader
	binder          LoggerBinder
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLoader appends loader to the factory load path.
func WithLoader(loader Loader) FactoryOption {
	return func(f *Factory) {
		if loader != nil {
			f.loadPath = append(f.loadPath, loader)
		}
	}
}

// WithLoggerBinder replaces the binder used when frontends request logging.
func WithLoggerBinder(binder LoggerBinder) FactoryOption {
	return func(f *Factory) {
		f.binder = binder
	}
}

// NewFactory returns a factory knowing every built-in frontend and backend.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		backends: map[string]BackendConstructor{
			"BlackHole": newBlackHoleBackend,
			"File":      newFileBackend,
			"Memory":    newMemoryBackend,
			"Static":    newStaticBackend,
			"Redis":     newRedisBackend,
			"Sqlite":    newSqliteBackend,
			"Sql":       newSQLBackend,
			"Nats":      newNATSBackend,
			"DynamoDb":  newDynamoBackend,
		},
		frontends: map[string]FrontendConstructor{
			"Core":    newCoreFrontend,
			"Capture": newCaptureFrontend,
		},
		customBackends:  make(map[string]BackendConstructor),
		customFrontends: make(map[string]FrontendConstructor),
		binder:          LoggerBinder{ResourceName: DefaultLoggerResource},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RegisterBackend registers ctor under a built-in alias.
func (f *Factory) RegisterBackend(alias string, ctor BackendConstructor) {
	f.mu.Lock()
	f.backends[NormalizeAlias(alias)] = ctor
	f.mu.Unlock()
}

// RegisterFrontend registers ctor under a built-in alias.
func (f *Factory) RegisterFrontend(alias string, ctor FrontendConstructor) {
	f.mu.Lock()
	f.frontends[NormalizeAlias(alias)] = ctor
	f.mu.Unlock()
}

// RegisterCustomBackend registers ctor under a verbatim custom identifier.
func (f *Factory) RegisterCustomBackend(identifier string, ctor BackendConstructor) {
	f.mu.Lock()
	f.customBackends[identifier] = ctor
	f.mu.Unlock()
}

// RegisterCustomFrontend registers ctor under a verbatim custom identifier.
func (f *Factory) RegisterCustomFrontend(identifier string, ctor FrontendConstructor) {
	f.mu.Lock()
	f.customFrontends[identifier] = ctor
	f.mu.Unlock()
}

// AddLoader appends loader to the load path.
func (f *Factory) AddLoader(loader Loader) {
	if loader == nil {
		return
	}
	f.mu.Lock()
	f.loadPath = append(f.loadPath, loader)
	f.mu.Unlock()
}

// BuildEnv carries the collaborators a build may need besides the template.
type BuildEnv struct {
	// Bootstrap is asked for a default logger resource.
	Bootstrap Bootstrap
	// OnWarning receives non-fatal diagnostics such as LoggerBindWarning.
	OnWarning func(error)
}

func (e BuildEnv) warn(err error) {
	if e.OnWarning != nil && err != nil {
		e.OnWarning(err)
	}
}

// Build constructs the backend described by tmpl, then the frontend wrapping
// it, then binds loggers when the frontend options ask for logging.
func (f *Factory) Build(ctx context.Context, tmpl Template, env BuildEnv) (Frontend, error) {
	backend, err := f.buildBackend(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	frontend, err := f.buildFrontend(backend, tmpl)
	if err != nil {
		if closeErr := closeBackend(backend); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}

	loggerOpts, err := LoggerOptionsFrom(tmpl.Frontend.Options)
	if err != nil {
		env.warn(&LoggerBindWarning{Err: err})
		return frontend, nil
	}
	if loggerOpts.Logging {
		env.warn(f.binder.Bind(frontend, loggerOpts, env.Bootstrap))
	}
	return frontend, nil
}

func (f *Factory) buildBackend(ctx context.Context, tmpl Template) (Backend, error) {
	name := tmpl.Backend.Name
	if name == "" {
		name = defaultBackendName
	}
	ref := refFor(name, tmpl.Backend.CustomNaming)
	ctor, ok := f.resolveBackend(ref, tmpl.FrontendBackendAutoload)
	if !ok {
		return nil, &BackendUnavailableError{Backend: name, Err: fmt.Errorf("no implementation for %s", describeRef(ref))}
	}

	shaping, err := decodeShaping(name, tmpl.Backend.Options)
	if err != nil {
		return nil, err
	}
	backend, err := ctor(ctx, tmpl.Backend.Options.Without(shapingKeys...))
	if err != nil {
		if errors.Is(err, ErrConfig) || errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		return nil, &BackendUnavailableError{Backend: name, Err: err}
	}
	if backend == nil {
		return nil, &BackendUnavailableError{Backend: name, Err: errors.New("constructor returned no backend")}
	}
	wrapped, err := shaping.wrap(name, backend)
	if err != nil {
		if closeErr := closeBackend(backend); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}
	return wrapped, nil
}

// closeBackend releases the connections of a backend that will not be
// handed out.
func closeBackend(backend Backend) error {
	closer, ok := UnwrapBackend(backend).(io.Closer)
	if !ok {
		return nil
	}
	return closer.Close()
}

func (f *Factory) buildFrontend(backend Backend, tmpl Template) (Frontend, error) {
	name := tmpl.Frontend.Name
	if name == "" {
		name = defaultFrontendName
	}
	ref := refFor(name, tmpl.Frontend.CustomNaming)
	ctor, ok := f.resolveFrontend(ref, tmpl.FrontendBackendAutoload)
	if !ok {
		return nil, cachecore.NewConfigError(fmt.Sprintf("frontend %q", name), "no implementation for %s", describeRef(ref))
	}
	frontend, err := ctor(backend, tmpl.Frontend.Options)
	if err != nil {
		if errors.Is(err, ErrConfig) {
			return nil, err
		}
		return nil, &ConfigError{Component: fmt.Sprintf("frontend %q", name), Err: err}
	}
	if frontend == nil {
		return nil, cachecore.NewConfigError(fmt.Sprintf("frontend %q", name), "constructor returned no frontend")
	}
	return frontend, nil
}

func (f *Factory) resolveBackend(ref Ref, autoload bool) (BackendConstructor, bool) {
	f.mu.RLock()
	var (
		ctor BackendConstructor
		ok   bool
	)
	switch ref.(type) {
	case CustomIdentifier:
		ctor, ok = f.customBackends[ref.Key()]
	default:
		ctor, ok = f.backends[ref.Key()]
	}
	loadPath := f.loadPath
	f.mu.RUnlock()

	if ok && ctor != nil {
		return ctor, true
	}
	if !autoload {
		return nil, false
	}
	for _, loader := range loadPath {
		if ctor, ok := loader.LoadBackend(ref.Key()); ok {
			return ctor, true
		}
	}
	return nil, false
}

func (f *Factory) resolveFrontend(ref Ref, autoload bool) (FrontendConstructor, bool) {
	f.mu.RLock()
	var (
		ctor FrontendConstructor
		ok   bool
	)
	switch ref.(type) {
	case CustomIdentifier:
		ctor, ok = f.customFrontends[ref.Key()]
	default:
		ctor, ok = f.frontends[ref.Key()]
	}
	loadPath := f.loadPath
	f.mu.RUnlock()

	if ok && ctor != nil {
		return ctor, true
	}
	if !autoload {
		return nil, false
	}
	for _, loader := range loadPath {
		if ctor, ok := loader.LoadFrontend(ref.Key()); ok {
			return ctor, true
		}
	}
	return nil, false
}

func describeRef(ref Ref) string {
	switch ref.(type) {
	case CustomIdentifier:
		return fmt.Sprintf("custom identifier %q", ref.Key())
	default:
		return fmt.Sprintf("built-in alias %q", ref.Key())
	}
}

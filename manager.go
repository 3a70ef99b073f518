package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/goforj/cachemanager/cachecore"
)

// OptionTagCache is the backend option naming the cache that stores tag
// indexes. A string value is resolved to that cache by the manager.
const OptionTagCache = "tag_cache"

// Manager hands out named caches. Each name is built at most once, from the
// template registered under it, and the same instance is returned on every
// later call.
type Manager struct {
	registry  *TemplateRegistry
	factory   *Factory
	bootstrap Bootstrap
	logger    *zap.Logger
	onWarning func(error)
	observer  Observer

	mu     sync.RWMutex
	caches map[string]Frontend
	group  singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBootstrap sets the collaborator queried for a default logger.
func WithBootstrap(b Bootstrap) ManagerOption {
	return func(m *Manager) {
		m.bootstrap = b
	}
}

// WithFactory replaces the factory used to build caches.
func WithFactory(f *Factory) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.factory = f
		}
	}
}

// WithRegistry replaces the template registry.
func WithRegistry(r *TemplateRegistry) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithLogger sets the logger for manager diagnostics.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithWarningHandler receives non-fatal diagnostics such as
// *LoggerBindWarning. They are also logged on the WithLogger logger.
func WithWarningHandler(fn func(error)) ManagerOption {
	return func(m *Manager) {
		m.onWarning = fn
	}
}

// WithObserver attaches o to every frontend the manager builds.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager returns a manager with the built-in templates and backends.
//
// Non-fatal diagnostics, such as a *LoggerBindWarning when a frontend asks
// for logging and no logger can be resolved, are logged at warn level on the
// WithLogger logger and passed to the WithWarningHandler handler. Without
// either option the logger is a no-op and these diagnostics are dropped.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: NewTemplateRegistry(),
		factory:  NewFactory(),
		logger:   zap.NewNop(),
		caches:   make(map[string]Frontend),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Factory returns the factory used to build caches.
func (m *Manager) Factory() *Factory { return m.factory }

// RegisterTemplate merges options into the template registered under name,
// or stores options as a new template when there is none.
func (m *Manager) RegisterTemplate(name string, options Template) error {
	return m.registry.Upsert(name, func(current *Template) (Template, error) {
		return MergeTemplate(current, options)
	})
}

// SetCacheTemplate stores tmpl under name, replacing any template there.
func (m *Manager) SetCacheTemplate(name string, tmpl Template) {
	m.registry.Set(name, tmpl)
}

// HasCacheTemplate reports whether a template is registered under name.
func (m *Manager) HasCacheTemplate(name string) bool {
	return m.registry.Has(name)
}

// SetTemplateOptions merges options over the template registered under name.
// Caches already built from that template are not rebuilt.
func (m *Manager) SetTemplateOptions(name string, options Template) error {
	found, err := m.registry.Update(name, func(current Template) (Template, error) {
		return MergeTemplate(&current, options)
	})
	if err != nil {
		return err
	}
	if !found {
		return &UnknownTemplateError{Name: name}
	}
	return nil
}

// GetCacheTemplate returns the merged template registered under name.
func (m *Manager) GetCacheTemplate(name string) (Template, error) {
	tmpl, ok := m.registry.Get(name)
	if !ok {
		return Template{}, &UnknownTemplateError{Name: name}
	}
	return tmpl, nil
}

// HasCache reports whether name has a cache instance or a template to
// build one from.
func (m *Manager) HasCache(name string) bool {
	if _, ok := m.cached(name); ok {
		return true
	}
	return m.HasCacheTemplate(name)
}

// SetCache registers an already built cache under name.
func (m *Manager) SetCache(name string, cache Frontend) {
	m.mu.Lock()
	m.caches[name] = cache
	m.mu.Unlock()
}

// GetCache returns the cache registered under name, building it from its
// template on first use. Concurrent first calls share one build. A failed
// build leaves nothing behind, so a later call retries.
func (m *Manager) GetCache(ctx context.Context, name string) (Frontend, error) {
	if f, ok := m.cached(name); ok {
		return f, nil
	}
	v, err, _ := m.group.Do(name, func() (any, error) {
		if f, ok := m.cached(name); ok {
			return f, nil
		}
		f, err := m.build(ctx, name)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.caches[name] = f
		m.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Frontend), nil
}

// Caches builds every registered template and returns all cache instances
// by name. Templates that fail to build are left out and their errors
// joined.
func (m *Manager) Caches(ctx context.Context) (map[string]Frontend, error) {
	var errs []error
	for _, name := range m.registry.Names() {
		if _, err := m.GetCache(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("cache %q: %w", name, err))
		}
	}
	m.mu.RLock()
	out := make(map[string]Frontend, len(m.caches))
	for name, f := range m.caches {
		out[name] = f
	}
	m.mu.RUnlock()
	return out, errors.Join(errs...)
}

// Close closes the backends of every built cache that hold connections.
func (m *Manager) Close() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		f, _ := m.cached(name)
		closer, ok := UnwrapBackend(f.Backend()).(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) cached(name string) (Frontend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.caches[name]
	return f, ok
}

func (m *Manager) build(ctx context.Context, name string) (Frontend, error) {
	tmpl, ok := m.registry.Get(name)
	if !ok {
		return nil, &UnknownTemplateError{Name: name}
	}
	if err := m.checkTagCacheChain(name); err != nil {
		return nil, err
	}
	if ref, ok := tmpl.Backend.Options[OptionTagCache].(string); ok {
		tagCache, err := m.GetCache(ctx, ref)
		if err != nil {
			return nil, &ConfigError{Component: fmt.Sprintf("cache %q tag_cache %q", name, ref), Err: err}
		}
		tmpl.Backend.Options[OptionTagCache] = tagCache
	}

	f, err := m.factory.Build(ctx, tmpl, BuildEnv{Bootstrap: m.bootstrap, OnWarning: m.warn})
	if err != nil {
		m.logger.Debug("cache build failed", zap.String("cache", name), zap.Error(err))
		return nil, err
	}
	if m.observer != nil {
		if o, ok := f.(observable); ok {
			o.SetObserver(m.observer)
		}
	}
	m.logger.Debug("cache built", zap.String("cache", name), zap.String("backend", f.Backend().Name()))
	return f, nil
}

// checkTagCacheChain follows tag_cache references from name until it
// reaches a cache that is built or has no tag cache, and rejects cycles.
func (m *Manager) checkTagCacheChain(name string) error {
	seen := map[string]bool{name: true}
	cur := name
	for {
		tmpl, ok := m.registry.Get(cur)
		if !ok {
			return nil
		}
		ref, ok := tmpl.Backend.Options[OptionTagCache].(string)
		if !ok {
			return nil
		}
		if seen[ref] {
			return cachecore.NewConfigError(fmt.Sprintf("cache %q", name), "tag_cache cycle through %q", ref)
		}
		if _, built := m.cached(ref); built {
			return nil
		}
		seen[ref] = true
		cur = ref
	}
}

func (m *Manager) warn(err error) {
	if err == nil {
		return
	}
	m.logger.Warn("cache manager warning", zap.Error(err))
	if m.onWarning != nil {
		m.onWarning(err)
	}
}

package cachemanager

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goforj/cachemanager/cachecore"
	"go.uber.org/zap"
)

// DefaultLifetime asks Save to use the frontend's configured lifetime.
const DefaultLifetime time.Duration = -1

// Frontend is the cache API wrapping exactly one backend.
type Frontend interface {
	Backend() Backend
	Load(ctx context.Context, id string) ([]byte, bool, error)
	Test(ctx context.Context, id string) (bool, error)
	// Save stores data under id. A lifetime of DefaultLifetime uses the
	// frontend default, zero stores without expiry.
	Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error
	Remove(ctx context.Context, id string) error
	Clean(ctx context.Context, mode CleaningMode, tags ...string) error
	SetLogger(logger *zap.Logger)
	Logger() *zap.Logger
}

// CoreOptions are the options understood by the Core frontend.
type CoreOptions struct {
	Caching       bool   `option:"caching"`
	CacheIDPrefix string `option:"cache_id_prefix"`
	// Lifetime is in seconds; 0 stores entries without expiry.
	Lifetime     int  `option:"lifetime"`
	Logging      bool `option:"logging"`
	Logger       any  `option:"logger"`
	WriteControl bool `option:"write_control"`

	AutomaticSerialization bool `option:"automatic_serialization"`
	// AutomaticCleaningFactor runs Clean(old) on every Nth save; 0 disables.
	AutomaticCleaningFactor int  `option:"automatic_cleaning_factor"`
	IgnoreUserAbort         bool `option:"ignore_user_abort"`
}

func defaultCoreOptions() CoreOptions {
	return CoreOptions{
		Caching:                 true,
		Lifetime:                3600,
		WriteControl:            true,
		AutomaticCleaningFactor: 10,
	}
}

func (o CoreOptions) lifetime() time.Duration {
	if o.Lifetime <= 0 {
		return 0
	}
	return time.Duration(o.Lifetime) * time.Second
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const reservedIDPrefix = "internal-"

func validateID(id string) error {
	if !validID.MatchString(id) || strings.HasPrefix(id, reservedIDPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func validateTags(tags []string) error {
	for _, tag := range tags {
		if err := validateID(tag); err != nil {
			return err
		}
	}
	return nil
}

// Core is the general purpose frontend. Custom frontends usually embed it.
type Core struct {
	backend  Backend
	opts     CoreOptions
	logger   atomic.Pointer[zap.Logger]
	observer atomic.Pointer[Observer]
	saves    atomic.Uint64
}

// NewCore wraps backend with a Core frontend configured from opts.
//
// Example: in-memory core
//
//	backend := cachemanager.NewMemoryBackend(cachemanager.MemoryOptions{})
//	core, _ := cachemanager.NewCore(backend, cachemanager.Options{"lifetime": 60})
//	_ = core.Save(ctx, "greeting", []byte("hello"), nil, cachemanager.DefaultLifetime)
func NewCore(backend Backend, opts Options) (*Core, error) {
	if backend == nil {
		return nil, cachecore.NewConfigError(`frontend "Core"`, "backend is required")
	}
	cfg := defaultCoreOptions()
	if err := cachecore.DecodeOptions(`frontend "Core"`, opts, &cfg); err != nil {
		return nil, err
	}
	if cfg.Lifetime < 0 {
		return nil, cachecore.NewConfigError(`frontend "Core"`, "lifetime must not be negative")
	}
	if cfg.AutomaticCleaningFactor < 0 {
		return nil, cachecore.NewConfigError(`frontend "Core"`, "automatic_cleaning_factor must not be negative")
	}
	return &Core{backend: backend, opts: cfg}, nil
}

func newCoreFrontend(backend Backend, opts Options) (Frontend, error) {
	return NewCore(backend, opts)
}

// Backend returns the backend this frontend owns.
func (c *Core) Backend() Backend { return c.backend }

// Options returns the decoded frontend options.
func (c *Core) Options() CoreOptions { return c.opts }

// AutomaticSerialization reports whether typed helpers may encode values.
func (c *Core) AutomaticSerialization() bool { return c.opts.AutomaticSerialization }

// SetObserver attaches an observer receiving one event per operation.
func (c *Core) SetObserver(o Observer) {
	if o == nil {
		c.observer.Store(nil)
		return
	}
	c.observer.Store(&o)
}

// SetLogger binds logger to the frontend and to its backend.
func (c *Core) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger.Store(logger)
	if la, ok := c.backend.(cachecore.LoggerAware); ok {
		la.SetLogger(logger)
	}
}

// Logger returns the bound logger or a no-op logger.
func (c *Core) Logger() *zap.Logger {
	if l := c.logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Load returns the data stored under id.
func (c *Core) Load(ctx context.Context, id string) ([]byte, bool, error) {
	start := time.Now()
	if err := validateID(id); err != nil {
		c.observe(ctx, "load", id, false, err, start)
		return nil, false, err
	}
	if !c.opts.Caching {
		return nil, false, nil
	}
	body, ok, err := c.backend.Load(ctx, c.opts.CacheIDPrefix+id)
	c.observe(ctx, "load", id, ok, err, start)
	return body, ok, err
}

// Test reports whether id is cached.
func (c *Core) Test(ctx context.Context, id string) (bool, error) {
	_, ok, err := c.Load(ctx, id)
	return ok, err
}

// Save stores data under id with tags.
func (c *Core) Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	start := time.Now()
	err := c.save(ctx, id, data, tags, lifetime)
	c.observe(ctx, "save", id, false, err, start)
	return err
}

func (c *Core) save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := validateTags(tags); err != nil {
		return err
	}
	if !c.opts.Caching {
		return nil
	}
	if lifetime < 0 {
		lifetime = c.opts.lifetime()
	}
	caps := cachecore.CapabilitiesOf(c.backend)
	if len(tags) > 0 && !caps.Tags {
		c.Logger().Warn(
			fmt.Sprintf("%s backend does not support tags", c.backend.Name()),
			zap.String("backend", c.backend.Name()),
			zap.String("id", id),
		)
	}
	c.automaticClean(ctx, caps)

	key := c.opts.CacheIDPrefix + id
	if err := c.backend.Save(ctx, key, data, tags, lifetime); err != nil {
		return err
	}
	if !c.opts.WriteControl || !caps.Persistent {
		return nil
	}
	stored, ok, err := c.backend.Load(ctx, key)
	if err == nil && ok && bytes.Equal(stored, data) {
		return nil
	}
	c.Logger().Warn(
		fmt.Sprintf("%s backend: write control failed for %q", c.backend.Name(), id),
		zap.String("backend", c.backend.Name()),
		zap.String("id", id),
		zap.Error(err),
	)
	_ = c.backend.Remove(ctx, key)
	return fmt.Errorf("%w: %q", ErrWriteControl, id)
}

func (c *Core) automaticClean(ctx context.Context, caps cachecore.Capabilities) {
	factor := uint64(c.opts.AutomaticCleaningFactor)
	if factor == 0 || !caps.AutomaticCleaning {
		return
	}
	if c.saves.Add(1)%factor != 0 {
		return
	}
	if err := c.backend.Clean(ctx, CleanOld); err != nil {
		c.Logger().Warn("automatic cleaning failed", zap.String("backend", c.backend.Name()), zap.Error(err))
	}
}

// Remove deletes id.
func (c *Core) Remove(ctx context.Context, id string) error {
	start := time.Now()
	if err := validateID(id); err != nil {
		c.observe(ctx, "remove", id, false, err, start)
		return err
	}
	if !c.opts.Caching {
		return nil
	}
	err := c.backend.Remove(ctx, c.opts.CacheIDPrefix+id)
	c.observe(ctx, "remove", id, false, err, start)
	return err
}

// Clean removes entries selected by mode and tags.
func (c *Core) Clean(ctx context.Context, mode CleaningMode, tags ...string) error {
	start := time.Now()
	err := c.clean(ctx, mode, tags)
	c.observe(ctx, "clean", string(mode), false, err, start)
	return err
}

func (c *Core) clean(ctx context.Context, mode CleaningMode, tags []string) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCleaningMode, mode)
	}
	if err := validateTags(tags); err != nil {
		return err
	}
	if !c.opts.Caching {
		return nil
	}
	return c.backend.Clean(ctx, mode, tags...)
}

func (c *Core) observe(ctx context.Context, op, id string, hit bool, err error, start time.Time) {
	o := c.observer.Load()
	if o == nil {
		return
	}
	(*o).OnCacheOp(ctx, op, id, hit, err, time.Since(start), c.backend.Name())
}

package cachemanager

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goforj/cachemanager/cachecore"
)

const staticTagIndexID = "static_tagcache"

// StaticOptions configure the Static backend.
type StaticOptions struct {
	PublicDir     string `option:"public_dir"`
	FileExtension string `option:"file_extension"`
	IndexFilename string `option:"index_filename"`
	CacheFilePerm int    `option:"cache_file_perm"`
	// TagCache stores the id to tags index. It is usually another cache
	// resolved by the manager; without one the index lives in memory.
	TagCache       any  `option:"tag_cache"`
	DisableCaching bool `option:"disable_caching"`
}

func (o StaticOptions) withDefaults() StaticOptions {
	if o.FileExtension == "" {
		o.FileExtension = ".html"
	}
	if o.IndexFilename == "" {
		o.IndexFilename = "index"
	}
	if o.CacheFilePerm <= 0 {
		o.CacheFilePerm = 0o600
	}
	return o
}

// TagIndexStore persists the Static backend's tag index.
type TagIndexStore interface {
	Load(ctx context.Context, id string) ([]byte, bool, error)
	Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error
}

type memoryTagIndex struct {
	mu   sync.Mutex
	data []byte
}

func (m *memoryTagIndex) Load(context.Context, string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, m.data != nil, nil
}

func (m *memoryTagIndex) Save(_ context.Context, _ string, data []byte, _ []string, _ time.Duration) error {
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// staticBackend writes pages as plain files under a public directory so a
// web server can serve them without touching the application. Ids are
// hex-encoded request paths, see PageID.
type staticBackend struct {
	cachecore.Base
	opts  StaticOptions
	index TagIndexStore
	mu    sync.Mutex
}

// NewStaticBackend returns a Static backend.
func NewStaticBackend(opts StaticOptions) (Backend, error) {
	opts = opts.withDefaults()
	if opts.PublicDir == "" {
		return nil, cachecore.NewConfigError(`backend "Static"`, "public_dir is required")
	}
	if !strings.HasPrefix(opts.FileExtension, ".") {
		opts.FileExtension = "." + opts.FileExtension
	}
	var index TagIndexStore
	switch tc := opts.TagCache.(type) {
	case nil:
		index = &memoryTagIndex{}
	case TagIndexStore:
		index = tc
	case string:
		return nil, cachecore.NewConfigError(`backend "Static"`, "tag_cache %q names a cache; build through a Manager to resolve it", tc)
	default:
		return nil, cachecore.NewConfigError(`backend "Static"`, "tag_cache of type %T cannot store a tag index", tc)
	}
	return &staticBackend{Base: cachecore.NewBase("Static"), opts: opts, index: index}, nil
}

func newStaticBackend(_ context.Context, opts Options) (Backend, error) {
	var cfg StaticOptions
	if err := cachecore.DecodeOptions(`backend "Static"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewStaticBackend(cfg)
}

func (b *staticBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{Tags: true, Persistent: true}
}

func (b *staticBackend) Load(_ context.Context, id string) ([]byte, bool, error) {
	path, err := b.path(id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Save writes the page file. Static pages never expire, lifetime is ignored.
func (b *staticBackend) Save(ctx context.Context, id string, data []byte, tags []string, _ time.Duration) error {
	if b.opts.DisableCaching {
		return nil
	}
	path, err := b.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, os.FileMode(b.opts.CacheFilePerm)); err != nil {
		return err
	}
	return b.updateIndex(ctx, func(index map[string][]string) {
		index[id] = append([]string{}, tags...)
	})
}

func (b *staticBackend) Remove(ctx context.Context, id string) error {
	path, err := b.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return b.updateIndex(ctx, func(index map[string][]string) {
		delete(index, id)
	})
}

func (b *staticBackend) Clean(ctx context.Context, mode CleaningMode, tags ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	if mode == CleanOld {
		return b.Unsupported(mode)
	}
	var removeErr error
	err := b.updateIndex(ctx, func(index map[string][]string) {
		ids := make([]string, 0, len(index))
		for id := range index {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if !cachecore.MatchTags(mode, index[id], tags) {
				continue
			}
			path, err := b.path(id)
			if err == nil {
				err = os.Remove(path)
			}
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				removeErr = errors.Join(removeErr, err)
				continue
			}
			delete(index, id)
		}
	})
	return errors.Join(removeErr, err)
}

func (b *staticBackend) path(id string) (string, error) {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("static backend: id %q is not a hex-encoded path", id)
	}
	uri := string(raw)
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if uri == "" || strings.HasSuffix(uri, "/") {
		uri += b.opts.IndexFilename
	}
	// Cleaning a rooted path drops any leading "..", keeping it inside
	// public_dir.
	clean := filepath.Clean("/" + filepath.FromSlash(uri))
	return filepath.Join(b.opts.PublicDir, clean+b.opts.FileExtension), nil
}

func (b *staticBackend) updateIndex(ctx context.Context, fn func(map[string][]string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	index := make(map[string][]string)
	body, ok, err := b.index.Load(ctx, staticTagIndexID)
	if err != nil {
		return err
	}
	if ok && len(body) > 0 {
		if err := json.Unmarshal(body, &index); err != nil {
			return fmt.Errorf("static backend: corrupt tag index: %w", err)
		}
	}
	fn(index)
	out, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return b.index.Save(ctx, staticTagIndexID, out, nil, 0)
}

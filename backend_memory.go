package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/goforj/cachemanager/cachecore"
)

const defaultMemoryCleanupInterval = 10 * time.Minute

// MemoryOptions configure the Memory backend.
type MemoryOptions struct {
	// CleanupInterval is in seconds.
	CleanupInterval int `option:"cleanup_interval"`
}

func (o MemoryOptions) withDefaults() MemoryOptions {
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = int(defaultMemoryCleanupInterval / time.Second)
	}
	return o
}

type memoryEntry struct {
	data []byte
	tags []string
}

type memoryBackend struct {
	cachecore.Base
	cache *gocache.Cache
}

// NewMemoryBackend returns an in-process backend.
func NewMemoryBackend(opts MemoryOptions) Backend {
	opts = opts.withDefaults()
	return &memoryBackend{
		Base:  cachecore.NewBase("Memory"),
		cache: gocache.New(gocache.NoExpiration, time.Duration(opts.CleanupInterval)*time.Second),
	}
}

func newMemoryBackend(_ context.Context, opts Options) (Backend, error) {
	var cfg MemoryOptions
	if err := cachecore.DecodeOptions(`backend "Memory"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewMemoryBackend(cfg), nil
}

func (b *memoryBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{Tags: true, AutomaticCleaning: true, Persistent: true}
}

func (b *memoryBackend) Load(_ context.Context, id string) ([]byte, bool, error) {
	item, ok := b.cache.Get(id)
	if !ok {
		return nil, false, nil
	}
	entry, ok := item.(memoryEntry)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(entry.data), true, nil
}

func (b *memoryBackend) Save(_ context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	ttl := gocache.NoExpiration
	if lifetime > 0 {
		ttl = lifetime
	}
	b.cache.Set(id, memoryEntry{data: cloneBytes(data), tags: append([]string(nil), tags...)}, ttl)
	return nil
}

func (b *memoryBackend) Remove(_ context.Context, id string) error {
	b.cache.Delete(id)
	return nil
}

func (b *memoryBackend) Clean(_ context.Context, mode CleaningMode, tags ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	switch mode {
	case CleanAll:
		b.cache.Flush()
	case CleanOld:
		b.cache.DeleteExpired()
	default:
		for id, item := range b.cache.Items() {
			entry, ok := item.Object.(memoryEntry)
			if ok && cachecore.MatchTags(mode, entry.tags, tags) {
				b.cache.Delete(id)
			}
		}
	}
	return nil
}

func cloneBytes(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

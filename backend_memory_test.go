package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goforj/cachemanager/cachetest"
)

func TestMemoryBackendContract(t *testing.T) {
	cachetest.RunBackendContract(t, NewMemoryBackend(MemoryOptions{}), cachetest.Options{})
}

func TestMemoryBackendCleanOld(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(MemoryOptions{CleanupInterval: 3600})
	if err := backend.Save(ctx, "short", []byte("v"), nil, 10*time.Millisecond); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := backend.Save(ctx, "long", []byte("v"), []string{"keep"}, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := backend.Clean(ctx, CleanOld); err != nil {
		t.Fatalf("clean old failed: %v", err)
	}
	mem := backend.(*memoryBackend)
	if n := mem.cache.ItemCount(); n != 1 {
		t.Fatalf("expected one live item, got %d", n)
	}
}

func TestMemoryBackendOptions(t *testing.T) {
	if _, err := newMemoryBackend(context.Background(), Options{"cleanup_interval": "5"}); err != nil {
		t.Fatalf("expected weakly typed interval to decode: %v", err)
	}
	if _, err := newMemoryBackend(context.Background(), Options{"servers": []string{"a"}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

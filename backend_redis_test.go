package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/goforj/cachemanager/cachetest"
)

func newMiniredisBackend(t *testing.T) (Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	backend, err := NewRedisBackend(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "test"})
	if err != nil {
		t.Fatalf("new redis backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.(*redisBackend).Close() })
	return backend, mr
}

func TestRedisBackendContract(t *testing.T) {
	backend, _ := newMiniredisBackend(t)
	// miniredis only expires keys on FastForward.
	cachetest.RunBackendContract(t, backend, cachetest.Options{SkipTTL: true})
}

func TestRedisBackendTTL(t *testing.T) {
	ctx := context.Background()
	backend, mr := newMiniredisBackend(t)
	if err := backend.Save(ctx, "ttl", []byte("v"), nil, time.Second); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := backend.Save(ctx, "forever", []byte("v"), nil, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := backend.Load(ctx, "ttl"); ok {
		t.Fatalf("expected ttl entry expired")
	}
	if _, ok, _ := backend.Load(ctx, "forever"); !ok {
		t.Fatalf("expected zero lifetime entry kept")
	}
}

func TestRedisBackendKeyLayout(t *testing.T) {
	ctx := context.Background()
	backend, mr := newMiniredisBackend(t)
	if err := backend.Save(ctx, "post_1", []byte("v"), []string{"posts", "home"}, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !mr.Exists("test:e:post_1") {
		t.Fatalf("missing entry key, have %v", mr.Keys())
	}
	if ok, _ := mr.SIsMember("test:t:posts", "post_1"); !ok {
		t.Fatalf("missing tag membership")
	}

	// Re-saving with different tags drops stale memberships.
	if err := backend.Save(ctx, "post_1", []byte("v2"), []string{"archive"}, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if ok, _ := mr.SIsMember("test:t:posts", "post_1"); ok {
		t.Fatalf("stale tag membership kept")
	}
	if err := backend.Clean(ctx, CleanMatchingTag, "posts"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, ok, _ := backend.Load(ctx, "post_1"); !ok {
		t.Fatalf("entry removed by stale tag")
	}

	if err := backend.Remove(ctx, "post_1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys left, have %v", mr.Keys())
	}
}

func TestRedisBackendInjectedClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend, err := newRedisBackend(ctx, Options{"client": client})
	if err != nil {
		t.Fatalf("new redis backend: %v", err)
	}
	if err := backend.Save(ctx, "k", []byte("v"), nil, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !mr.Exists("cache:e:k") {
		t.Fatalf("expected default prefix, have %v", mr.Keys())
	}
	// Close leaves injected clients alone.
	if err := backend.(*redisBackend).Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("injected client closed: %v", err)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisBackend(context.Background(), RedisOptions{Addr: addr})
	var unavailable *BackendUnavailableError
	if !errors.As(err, &unavailable) || unavailable.Backend != "Redis" {
		t.Fatalf("expected BackendUnavailableError, got %v", err)
	}
	if _, err := NewRedisBackend(context.Background(), RedisOptions{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without addr, got %v", err)
	}
}

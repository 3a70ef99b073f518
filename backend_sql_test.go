package cachemanager

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goforj/cachemanager/cachetest"
)

func newTempSqliteBackend(t *testing.T, prefix string) Backend {
	t.Helper()
	backend, err := NewSqliteBackend(context.Background(), SqliteOptions{
		CacheDBCompletePath: filepath.Join(t.TempDir(), "cache.db"),
		Prefix:              prefix,
	})
	if err != nil {
		t.Fatalf("new sqlite backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.(*sqlBackend).Close() })
	return backend
}

func TestSqliteBackendContract(t *testing.T) {
	cachetest.RunBackendContract(t, newTempSqliteBackend(t, ""), cachetest.Options{})
}

func TestSqliteBackendContractWithPrefix(t *testing.T) {
	cachetest.RunBackendContract(t, newTempSqliteBackend(t, "app"), cachetest.Options{})
}

func TestSqlBackendWithSqliteDriver(t *testing.T) {
	ctx := context.Background()
	backend, err := newSQLBackend(ctx, Options{
		"driver": "sqlite",
		"dsn":    filepath.Join(t.TempDir(), "cache.db"),
		"table":  "page_cache",
	})
	if err != nil {
		t.Fatalf("new sql backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.(*sqlBackend).Close() })
	if backend.Name() != "Sql" {
		t.Fatalf("unexpected name %s", backend.Name())
	}
	if err := backend.Save(ctx, "k", []byte("v"), []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := backend.Clean(ctx, CleanMatchingTag, "b", "a"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, ok, _ := backend.Load(ctx, "k"); ok {
		t.Fatalf("expected tag clean to remove entry")
	}
}

func TestSqlitePrefixScopesCleanAll(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := NewSqliteBackend(ctx, SqliteOptions{CacheDBCompletePath: path, Prefix: "a"})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	t.Cleanup(func() { _ = a.(*sqlBackend).Close() })
	b, err := NewSqliteBackend(ctx, SqliteOptions{CacheDBCompletePath: path, Prefix: "b"})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	t.Cleanup(func() { _ = b.(*sqlBackend).Close() })

	if err := a.Save(ctx, "k", []byte("a"), nil, 0); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := b.Save(ctx, "k", []byte("b"), nil, 0); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := a.Clean(ctx, CleanAll); err != nil {
		t.Fatalf("clean a: %v", err)
	}
	if _, ok, _ := a.Load(ctx, "k"); ok {
		t.Fatalf("expected a cleared")
	}
	if body, ok, _ := b.Load(ctx, "k"); !ok || string(body) != "b" {
		t.Fatalf("expected b untouched")
	}
}

func TestSqlBackendOptions(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		opts Options
		want error
	}{
		{"missing dsn", Options{"driver": "sqlite"}, ErrConfig},
		{"bad table", Options{"driver": "sqlite", "dsn": ":memory:", "table": "x; drop"}, ErrConfig},
		{"unknown driver", Options{"driver": "oracle", "dsn": "x"}, ErrConfig},
		{"unknown option", Options{"driver": "sqlite", "dsn": ":memory:", "pool": 3}, ErrConfig},
	}
	for _, tc := range cases {
		if _, err := newSQLBackend(ctx, tc.opts); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := NewSqliteBackend(ctx, SqliteOptions{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without path, got %v", err)
	}
	if _, err := NewSqliteBackend(ctx, SqliteOptions{CacheDBCompletePath: filepath.Join(t.TempDir(), "missing", "dir", "cache.db")}); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable for unopenable path, got %v", err)
	}
}

package cachemanager

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goforj/cachemanager/cachecore"
	"github.com/goforj/cachemanager/cachefake"
)

func newTempStaticBackend(t *testing.T, index TagIndexStore) (Backend, string) {
	t.Helper()
	dir := t.TempDir()
	opts := StaticOptions{PublicDir: dir}
	if index != nil {
		opts.TagCache = index
	}
	backend, err := NewStaticBackend(opts)
	if err != nil {
		t.Fatalf("new static backend: %v", err)
	}
	return backend, dir
}

func TestStaticBackendPaths(t *testing.T) {
	backend, dir := newTempStaticBackend(t, nil)
	sb := backend.(*staticBackend)
	cases := map[string]string{
		"/":                 filepath.Join(dir, "index.html"),
		"/about":            filepath.Join(dir, "about.html"),
		"/blog/":            filepath.Join(dir, "blog", "index.html"),
		"/blog/post?page=2": filepath.Join(dir, "blog", "post.html"),
		"/../../etc/passwd": filepath.Join(dir, "etc", "passwd.html"),
	}
	for uri, want := range cases {
		got, err := sb.path(PageID(uri))
		if err != nil {
			t.Fatalf("path(%q) failed: %v", uri, err)
		}
		if got != want {
			t.Fatalf("path(%q) = %q, want %q", uri, got, want)
		}
	}
	if _, err := sb.path("not-hex"); err == nil {
		t.Fatalf("expected error for non-hex id")
	}
}

func TestStaticBackendSaveLoadRemove(t *testing.T) {
	ctx := context.Background()
	backend, dir := newTempStaticBackend(t, nil)
	id := PageID("/docs/intro")

	if err := backend.Save(ctx, id, []byte("<p>intro</p>"), []string{"docs"}, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	body, ok, err := backend.Load(ctx, id)
	if err != nil || !ok || string(body) != "<p>intro</p>" {
		t.Fatalf("unexpected load: ok=%v err=%v body=%q", ok, err, body)
	}
	if _, err := os.Stat(filepath.Join(dir, "docs", "intro.html")); err != nil {
		t.Fatalf("expected page on disk: %v", err)
	}
	if err := backend.Remove(ctx, id); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := backend.Load(ctx, id); ok {
		t.Fatalf("expected miss after remove")
	}
	if err := backend.Remove(ctx, id); err != nil {
		t.Fatalf("second remove failed: %v", err)
	}
}

func TestStaticBackendTagIndexInTagCache(t *testing.T) {
	ctx := context.Background()
	index := cachefake.New()
	backend, dir := newTempStaticBackend(t, index)

	pages := map[string][]string{
		"/a": {"red"},
		"/b": {"red", "blue"},
		"/c": {"green"},
	}
	for uri, tags := range pages {
		if err := backend.Save(ctx, PageID(uri), []byte(uri), tags, 0); err != nil {
			t.Fatalf("save %s failed: %v", uri, err)
		}
	}

	raw, ok, err := index.Load(ctx, staticTagIndexID)
	if err != nil || !ok {
		t.Fatalf("expected tag index in tag cache: ok=%v err=%v", ok, err)
	}
	var stored map[string][]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("index is not json: %v", err)
	}
	if len(stored) != 3 || len(stored[PageID("/b")]) != 2 {
		t.Fatalf("unexpected index %v", stored)
	}

	if err := backend.Clean(ctx, CleanMatchingAnyTag, "blue", "green"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	for uri, want := range map[string]bool{"a": true, "b": false, "c": false} {
		_, err := os.Stat(filepath.Join(dir, uri+".html"))
		if exists := err == nil; exists != want {
			t.Fatalf("page %s exists=%v, want %v", uri, exists, want)
		}
	}

	if err := backend.Clean(ctx, CleanAll); err != nil {
		t.Fatalf("clean all failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.html")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected clean all to remove pages")
	}
}

func TestStaticBackendCleanOldLogsUnsupported(t *testing.T) {
	backend, _ := newTempStaticBackend(t, nil)
	zc, logs := observer.New(zapcore.WarnLevel)
	backend.(cachecore.LoggerAware).SetLogger(zap.New(zc))

	if err := backend.Clean(context.Background(), CleanOld); err != nil {
		t.Fatalf("clean old must not fail: %v", err)
	}
	if logs.FilterMessageSnippet("Static").Len() != 1 {
		t.Fatalf("expected unsupported warning, got %v", logs.All())
	}
	if err := backend.Clean(context.Background(), "bogus"); !errors.Is(err, ErrInvalidCleaningMode) {
		t.Fatalf("expected ErrInvalidCleaningMode, got %v", err)
	}
}

func TestStaticBackendDisableCaching(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewStaticBackend(StaticOptions{PublicDir: dir, DisableCaching: true})
	if err != nil {
		t.Fatalf("new static backend: %v", err)
	}
	if err := backend.Save(context.Background(), PageID("/x"), []byte("x"), nil, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestStaticBackendOptions(t *testing.T) {
	if _, err := NewStaticBackend(StaticOptions{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without public_dir, got %v", err)
	}
	if _, err := NewStaticBackend(StaticOptions{PublicDir: t.TempDir(), TagCache: "pagetag"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unresolved tag_cache, got %v", err)
	}
	if _, err := NewStaticBackend(StaticOptions{PublicDir: t.TempDir(), TagCache: 5}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad tag_cache, got %v", err)
	}
	b, err := newStaticBackend(context.Background(), Options{"public_dir": t.TempDir(), "file_extension": "htm"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if ext := b.(*staticBackend).opts.FileExtension; ext != ".htm" {
		t.Fatalf("unexpected extension %q", ext)
	}
}

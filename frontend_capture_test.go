package cachemanager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestCapture(t *testing.T) (*Capture, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewStaticBackend(StaticOptions{PublicDir: dir})
	if err != nil {
		t.Fatalf("static backend: %v", err)
	}
	fe, err := newCaptureFrontend(backend, Options{"ignore_user_abort": true})
	if err != nil {
		t.Fatalf("capture frontend: %v", err)
	}
	return fe.(*Capture), dir
}

func TestCaptureRendersOnceThenServesCache(t *testing.T) {
	ctx := context.Background()
	capture, dir := newTestCapture(t)
	id := PageID("/articles/42?utm=1")

	renders := 0
	render := func(w io.Writer) error {
		renders++
		_, err := io.WriteString(w, "<h1>42</h1>")
		return err
	}

	var first bytes.Buffer
	hit, err := capture.Capture(ctx, id, []string{"articles"}, &first, render)
	if err != nil || hit {
		t.Fatalf("expected miss on first capture: hit=%v err=%v", hit, err)
	}
	if first.String() != "<h1>42</h1>" {
		t.Fatalf("render output not forwarded: %q", first.String())
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, "articles", "42.html"))
	if err != nil || string(onDisk) != "<h1>42</h1>" {
		t.Fatalf("expected static file, err=%v body=%q", err, onDisk)
	}

	var second bytes.Buffer
	hit, err = capture.Capture(ctx, id, nil, &second, render)
	if err != nil || !hit {
		t.Fatalf("expected hit on second capture: hit=%v err=%v", hit, err)
	}
	if second.String() != "<h1>42</h1>" || renders != 1 {
		t.Fatalf("unexpected second capture: body=%q renders=%d", second.String(), renders)
	}

	if err := capture.Clean(ctx, CleanMatchingTag, "articles"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "articles", "42.html")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected page removed, stat err=%v", err)
	}
}

func TestCaptureRenderFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	capture, _ := newTestCapture(t)
	id := PageID("/broken")
	boom := errors.New("template error")

	_, err := capture.Capture(ctx, id, nil, io.Discard, func(io.Writer) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected render error, got %v", err)
	}
	if hit, _ := capture.Test(ctx, id); hit {
		t.Fatalf("failed render must not be cached")
	}
	if _, err := capture.Capture(ctx, id, nil, io.Discard, nil); err == nil {
		t.Fatalf("expected error without render callback")
	}
}

func TestPageIDIsValidCacheID(t *testing.T) {
	for _, uri := range []string{"/", "/a/b?c=d", "/ünïcode"} {
		if err := validateID(PageID(uri)); err != nil {
			t.Fatalf("PageID(%q) is not a valid id: %v", uri, err)
		}
	}
}

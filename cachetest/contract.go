package cachetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/goforj/cachemanager/cachecore"
)

// Options configures shared backend contract checks.
type Options struct {
	// CaseName is used to namespace ids. Defaults to t.Name().
	CaseName string
	// NullSemantics enables relaxed expectations for backends that discard
	// writes.
	NullSemantics bool
	// SkipCloneCheck disables the "load returns a copy" assertion.
	SkipCloneCheck bool
	// SkipTags disables tag cleaning checks for backends without tags.
	SkipTags bool
	// SkipTTL disables the expiry check.
	SkipTTL bool
	// TTL controls the lifetime used in expiry tests.
	TTL time.Duration
	// TTLWait is how long the harness waits for expiry to occur.
	TTLWait time.Duration
	// SkipClean disables the clean-all assertion for backends where it is
	// expensive or unavailable.
	SkipClean bool
}

// Backend is the contract exercised by RunBackendContract.
type Backend = cachecore.Backend

// RunBackendContract runs a backend-agnostic contract suite. It assumes the
// backend is dedicated to the test: tag cleaning may remove unrelated
// entries.
func RunBackendContract(t *testing.T, backend Backend, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 50 * time.Millisecond
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = 120 * time.Millisecond
	}

	ctx := context.Background()
	id := func(s string) string {
		return sanitize(caseName) + "_" + s
	}

	// Save/Load round-trip.
	if err := backend.Save(ctx, id("alpha"), []byte("value"), nil, time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	body, ok, err := backend.Load(ctx, id("alpha"))
	if err != nil {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if opts.NullSemantics {
		if ok {
			t.Fatalf("expected miss for null semantics")
		}
	} else {
		if !ok || string(body) != "value" {
			t.Fatalf("unexpected load result: ok=%v body=%q", ok, string(body))
		}
		if !opts.SkipCloneCheck {
			body[0] = 'X'
			body2, ok2, err2 := backend.Load(ctx, id("alpha"))
			if err2 != nil || !ok2 || string(body2) != "value" {
				t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok2, string(body2), err2)
			}
		}
	}

	// Remove.
	if err := backend.Remove(ctx, id("alpha")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, err := backend.Load(ctx, id("alpha")); err != nil || ok {
		t.Fatalf("expected alpha removed; ok=%v err=%v", ok, err)
	}
	if err := backend.Remove(ctx, id("missing")); err != nil {
		t.Fatalf("remove of missing id failed: %v", err)
	}

	// Lifetime zero never expires.
	if err := backend.Save(ctx, id("forever"), []byte("f"), nil, 0); err != nil {
		t.Fatalf("save forever failed: %v", err)
	}
	if _, ok, err := backend.Load(ctx, id("forever")); err != nil || ok == opts.NullSemantics {
		t.Fatalf("unexpected forever load; ok=%v err=%v", ok, err)
	}

	// Expiry.
	if !opts.SkipTTL {
		if err := backend.Save(ctx, id("ttl"), []byte("v"), nil, ttl); err != nil {
			t.Fatalf("save ttl failed: %v", err)
		}
		if err := waitForMiss(ctx, backend, id("ttl"), wait); err != nil {
			t.Fatalf("expected ttl expiry: %v", err)
		}
	}

	// Tag cleaning.
	if !opts.SkipTags && !opts.NullSemantics {
		runTagContract(t, ctx, backend, id)
	}

	// Clean old never fails.
	if err := backend.Clean(ctx, cachecore.CleanOld); err != nil {
		t.Fatalf("clean old failed: %v", err)
	}

	// Unknown modes are rejected.
	if err := backend.Clean(ctx, cachecore.CleaningMode("bogus")); !errors.Is(err, cachecore.ErrInvalidCleaningMode) {
		t.Fatalf("expected ErrInvalidCleaningMode, got %v", err)
	}

	// Clean all.
	if !opts.SkipClean {
		if err := backend.Save(ctx, id("flush"), []byte("x"), nil, time.Minute); err != nil {
			t.Fatalf("save flush failed: %v", err)
		}
		if err := backend.Clean(ctx, cachecore.CleanAll); err != nil {
			t.Fatalf("clean all failed: %v", err)
		}
		if _, ok, err := backend.Load(ctx, id("flush")); err != nil || ok {
			t.Fatalf("expected clean all to clear id; ok=%v err=%v", ok, err)
		}
	}
}

func runTagContract(t *testing.T, ctx context.Context, backend Backend, id func(string) string) {
	t.Helper()
	save := func(name string, tags ...string) {
		if err := backend.Save(ctx, id(name), []byte(name), tags, time.Minute); err != nil {
			t.Fatalf("save %s failed: %v", name, err)
		}
	}
	present := func(name string) bool {
		_, ok, err := backend.Load(ctx, id(name))
		if err != nil {
			t.Fatalf("load %s failed: %v", name, err)
		}
		return ok
	}

	save("both", "red", "blue")
	save("red", "red")
	save("green", "green")

	if err := backend.Clean(ctx, cachecore.CleanMatchingTag, "red", "blue"); err != nil {
		t.Fatalf("clean matching tag failed: %v", err)
	}
	if present("both") || !present("red") || !present("green") {
		t.Fatalf("matching tag removed the wrong entries")
	}

	if err := backend.Clean(ctx, cachecore.CleanMatchingAnyTag, "green", "yellow"); err != nil {
		t.Fatalf("clean matching any tag failed: %v", err)
	}
	if present("green") || !present("red") {
		t.Fatalf("matching any tag removed the wrong entries")
	}

	save("plain")
	if err := backend.Clean(ctx, cachecore.CleanNotMatchingTag, "red"); err != nil {
		t.Fatalf("clean not matching tag failed: %v", err)
	}
	if present("plain") || !present("red") {
		t.Fatalf("not matching tag removed the wrong entries")
	}
}

func waitForMiss(ctx context.Context, backend Backend, id string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		_, ok, err := backend.Load(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, ok, err := backend.Load(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("id %q still present after %s", id, wait)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return '_'
	}, s)
}

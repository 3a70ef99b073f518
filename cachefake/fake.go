package cachefake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goforj/cachemanager/cachecore"
)

// Op identifies a backend operation for assertions.
type Op string

const (
	OpLoad   Op = "load"
	OpSave   Op = "save"
	OpRemove Op = "remove"
	OpClean  Op = "clean"
)

type entry struct {
	data      []byte
	tags      []string
	expiresAt time.Time
}

// Backend is a deterministic in-memory cachecore.Backend that records every
// call. Clean records the cleaning mode in place of an id.
type Backend struct {
	cachecore.Base

	mu      sync.Mutex
	entries map[string]entry
	counts  map[Op]map[string]int
	errs    map[Op]error
	caps    cachecore.Capabilities
}

// New returns a fake backend named "Fake" with tag and cleaning support.
func New() *Backend {
	return NewNamed("Fake")
}

// NewNamed returns a fake backend reporting name from Name.
func NewNamed(name string) *Backend {
	return &Backend{
		Base:    cachecore.NewBase(name),
		entries: make(map[string]entry),
		counts:  make(map[Op]map[string]int),
		errs:    make(map[Op]error),
		caps:    cachecore.Capabilities{Tags: true, AutomaticCleaning: true, Persistent: true},
	}
}

// SetCapabilities overrides the advertised capabilities.
func (b *Backend) SetCapabilities(caps cachecore.Capabilities) {
	b.mu.Lock()
	b.caps = caps
	b.mu.Unlock()
}

// Capabilities implements cachecore.Capable.
func (b *Backend) Capabilities() cachecore.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps
}

// FailWith makes every later call of op return err. A nil err clears it.
func (b *Backend) FailWith(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errs, op)
		return
	}
	b.errs[op] = err
}

// Put stores data under id without recording a call.
func (b *Backend) Put(id string, data []byte, tags ...string) {
	b.mu.Lock()
	b.entries[id] = entry{data: append([]byte(nil), data...), tags: tags}
	b.mu.Unlock()
}

func (b *Backend) Load(_ context.Context, id string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(OpLoad, id); err != nil {
		return nil, false, err
	}
	e, ok := b.entries[id]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(b.entries, id)
		return nil, false, nil
	}
	return append([]byte(nil), e.data...), true, nil
}

func (b *Backend) Save(_ context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(OpSave, id); err != nil {
		return err
	}
	e := entry{data: append([]byte(nil), data...), tags: append([]string(nil), tags...)}
	if lifetime > 0 {
		e.expiresAt = time.Now().Add(lifetime)
	}
	b.entries[id] = e
	return nil
}

func (b *Backend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(OpRemove, id); err != nil {
		return err
	}
	delete(b.entries, id)
	return nil
}

func (b *Backend) Clean(_ context.Context, mode cachecore.CleaningMode, tags ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(OpClean, string(mode)); err != nil {
		return err
	}
	now := time.Now()
	for id, e := range b.entries {
		expired := !e.expiresAt.IsZero() && now.After(e.expiresAt)
		if expired || cachecore.MatchTags(mode, e.tags, tags) {
			delete(b.entries, id)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Reset clears recorded counts.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = make(map[Op]map[string]int)
}

// AssertCalled verifies id was touched by op the expected number of times.
func (b *Backend) AssertCalled(t *testing.T, op Op, id string, times int) {
	t.Helper()
	if got := b.Count(op, id); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, id, times, got)
	}
}

// AssertNotCalled ensures id was never touched by op.
func (b *Backend) AssertNotCalled(t *testing.T, op Op, id string) {
	t.Helper()
	if got := b.Count(op, id); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, id, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (b *Backend) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := b.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+id.
func (b *Backend) Count(op Op, id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[op][id]
}

// Total returns total calls for an op across ids.
func (b *Backend) Total(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sum int
	for _, v := range b.counts[op] {
		sum += v
	}
	return sum
}

// record must be called with mu held.
func (b *Backend) record(op Op, id string) error {
	if b.counts[op] == nil {
		b.counts[op] = make(map[string]int)
	}
	b.counts[op][id]++
	return b.errs[op]
}

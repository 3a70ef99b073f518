package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goforj/cachemanager/cachecore"
	"github.com/goforj/cachemanager/cachetest"
)

type kvStub struct {
	rev     uint64
	entries map[string]*kvStubEntry
	getErr  error
}

func newKVStub() *kvStub {
	return &kvStub{entries: make(map[string]*kvStubEntry)}
}

func (s *kvStub) Get(key string) (nats.KeyValueEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	if entry.op != nats.KeyValuePut {
		return nil, nats.ErrKeyDeleted
	}
	cp := *entry
	cp.value = cloneBytes(entry.value)
	return &cp, nil
}

func (s *kvStub) Put(key string, value []byte) (uint64, error) {
	s.rev++
	s.entries[key] = &kvStubEntry{key: key, value: cloneBytes(value), revision: s.rev, created: time.Now(), op: nats.KeyValuePut}
	return s.rev, nil
}

func (s *kvStub) Delete(key string, _ ...nats.DeleteOpt) error {
	s.rev++
	s.entries[key] = &kvStubEntry{key: key, revision: s.rev, created: time.Now(), op: nats.KeyValueDelete}
	return nil
}

func (s *kvStub) Purge(key string, _ ...nats.DeleteOpt) error {
	delete(s.entries, key)
	return nil
}

func (s *kvStub) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	keys := make(chan string, len(s.entries))
	for key, entry := range s.entries {
		if entry.op == nats.KeyValuePut {
			keys <- key
		}
	}
	close(keys)
	errs := make(chan error)
	close(errs)
	return &kvStubLister{keys: keys, errs: errs}, nil
}

type kvStubEntry struct {
	key      string
	value    []byte
	revision uint64
	created  time.Time
	op       nats.KeyValueOp
}

func (e *kvStubEntry) Bucket() string             { return "cache" }
func (e *kvStubEntry) Key() string                { return e.key }
func (e *kvStubEntry) Value() []byte              { return e.value }
func (e *kvStubEntry) Revision() uint64           { return e.revision }
func (e *kvStubEntry) Created() time.Time         { return e.created }
func (e *kvStubEntry) Delta() uint64              { return 0 }
func (e *kvStubEntry) Operation() nats.KeyValueOp { return e.op }

type kvStubLister struct {
	keys chan string
	errs chan error
}

func (l *kvStubLister) Keys() <-chan string { return l.keys }
func (l *kvStubLister) Error() <-chan error { return l.errs }
func (l *kvStubLister) Stop() error         { return nil }

func TestNATSBackendContract(t *testing.T) {
	backend, err := NewNATSBackend(NATSOptions{KeyValue: newKVStub(), Prefix: "test"})
	if err != nil {
		t.Fatalf("new nats backend: %v", err)
	}
	cachetest.RunBackendContract(t, backend, cachetest.Options{SkipTags: true})
}

func TestNATSBackendPrefixesAreIsolated(t *testing.T) {
	ctx := context.Background()
	kv := newKVStub()
	a, _ := NewNATSBackend(NATSOptions{KeyValue: kv, Prefix: "a"})
	b, _ := NewNATSBackend(NATSOptions{KeyValue: kv, Prefix: "b"})

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

func TestNATSBackendCleanOld(t *testing.T) {
	ctx := context.Background()
	kv := newKVStub()
	backend, _ := NewNATSBackend(NATSOptions{KeyValue: kv})
	_ = backend.Save(ctx, "short", []byte("v"), nil, 10*time.Millisecond)
	_ = backend.Save(ctx, "long", []byte("v"), nil, time.Hour)
	time.Sleep(30 * time.Millisecond)

	if err := backend.Clean(ctx, CleanOld); err != nil {
		t.Fatalf("clean old failed: %v", err)
	}
	if len(kv.entries) != 1 {
		t.Fatalf("expected one entry left, got %d", len(kv.entries))
	}
}

func TestNATSBackendTagModesAreUnsupported(t *testing.T) {
	ctx := context.Background()
	backend, _ := NewNATSBackend(NATSOptions{KeyValue: newKVStub()})
	zc, logs := observer.New(zapcore.WarnLevel)
	backend.(cachecore.LoggerAware).SetLogger(zap.New(zc))

	_ = backend.Save(ctx, "k", []byte("v"), []string{"t"}, 0)
	if err := backend.Clean(ctx, CleanMatchingTag, "t"); err != nil {
		t.Fatalf("unsupported mode must not fail: %v", err)
	}
	if _, ok, _ := backend.Load(ctx, "k"); !ok {
		t.Fatalf("tag clean must not remove entries")
	}
	if logs.FilterMessageSnippet("Nats backend").Len() != 1 {
		t.Fatalf("expected unsupported warning, got %v", logs.All())
	}
	if cachecore.CapabilitiesOf(backend).Tags {
		t.Fatalf("nats backend must not advertise tags")
	}
}

func TestNATSBackendErrors(t *testing.T) {
	ctx := context.Background()
	kv := newKVStub()
	backend, _ := NewNATSBackend(NATSOptions{KeyValue: kv})

	kv.entries[backend.(*natsBackend).cacheKey("junk")] = &kvStubEntry{value: []byte("not json"), op: nats.KeyValuePut}
	if _, _, err := backend.Load(ctx, "junk"); err == nil {
		t.Fatalf("expected envelope decode error")
	}

	boom := errors.New("nats down")
	kv.getErr = boom
	if _, _, err := backend.Load(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected get error, got %v", err)
	}

	if _, err := NewNATSBackend(NATSOptions{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without url, got %v", err)
	}
	if _, err := NewNATSBackend(NATSOptions{URL: "nats://127.0.0.1:1"}); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

package cachemanager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goforj/cachemanager/cachecore"
)

const natsEnvelopeMarker = "cache-v1"

// NATSKeyValue captures the subset of nats.KeyValue used by the backend.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
}

// NATSOptions configure the Nats backend. Either KeyValue or URL is
// required.
type NATSOptions struct {
	URL      string       `option:"url"`
	Bucket   string       `option:"bucket"`
	Prefix   string       `option:"prefix"`
	KeyValue NATSKeyValue `option:"keyvalue"`
}

func (o NATSOptions) withDefaults() NATSOptions {
	if o.Bucket == "" {
		o.Bucket = "cache"
	}
	if o.Prefix == "" {
		o.Prefix = "cache"
	}
	return o
}

type natsEnvelope struct {
	Marker    string `json:"m"`
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"ea"`
}

type natsBackend struct {
	cachecore.Base
	kv     NATSKeyValue
	prefix string
	conn   *nats.Conn
}

// NewNATSBackend returns a backend on a JetStream key-value bucket, creating
// the bucket when it does not exist.
func NewNATSBackend(opts NATSOptions) (Backend, error) {
	opts = opts.withDefaults()
	b := &natsBackend{Base: cachecore.NewBase("Nats"), kv: opts.KeyValue, prefix: opts.Prefix}
	if b.kv != nil {
		return b, nil
	}
	if opts.URL == "" {
		return nil, cachecore.NewConfigError(`backend "Nats"`, "url or keyvalue is required")
	}
	conn, err := nats.Connect(opts.URL, nats.Timeout(2*time.Second))
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "Nats", Err: err}
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, &BackendUnavailableError{Backend: "Nats", Err: err}
	}
	kv, err := js.KeyValue(opts.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: opts.Bucket})
	}
	if err != nil {
		conn.Close()
		return nil, &BackendUnavailableError{Backend: "Nats", Err: err}
	}
	b.kv = kv
	b.conn = conn
	return b, nil
}

func newNATSBackend(_ context.Context, opts Options) (Backend, error) {
	var cfg NATSOptions
	if err := cachecore.DecodeOptions(`backend "Nats"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewNATSBackend(cfg)
}

// Close drains the connection when the backend opened it.
func (b *natsBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}

func (b *natsBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{AutomaticCleaning: true, Persistent: true}
}

func (b *natsBackend) Load(_ context.Context, id string) ([]byte, bool, error) {
	key := b.cacheKey(id)
	envelope, ok, err := b.read(key)
	if err != nil || !ok {
		return nil, false, err
	}
	if envelope.expired() {
		_ = b.kv.Purge(key)
		return nil, false, nil
	}
	return cloneBytes(envelope.Value), true, nil
}

// Save stores data; tags are not supported and are dropped.
func (b *natsBackend) Save(_ context.Context, id string, data []byte, _ []string, lifetime time.Duration) error {
	envelope := natsEnvelope{Marker: natsEnvelopeMarker, Value: cloneBytes(data)}
	if lifetime > 0 {
		envelope.ExpiresAt = time.Now().Add(lifetime).UnixMilli()
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal nats cache envelope: %w", err)
	}
	_, err = b.kv.Put(b.cacheKey(id), body)
	return err
}

func (b *natsBackend) Remove(_ context.Context, id string) error {
	err := b.kv.Delete(b.cacheKey(id))
	if isNATSMiss(err) {
		return nil
	}
	return err
}

func (b *natsBackend) Clean(_ context.Context, mode CleaningMode, _ ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	if mode.IsTagMode() {
		return b.Unsupported(mode)
	}
	return b.eachKey(func(key string) error {
		if mode == CleanOld {
			envelope, ok, err := b.read(key)
			if err != nil || !ok || !envelope.expired() {
				return err
			}
		}
		if err := b.kv.Purge(key); err != nil && !isNATSMiss(err) {
			return err
		}
		return nil
	})
}

func (b *natsBackend) read(key string) (natsEnvelope, bool, error) {
	entry, err := b.kv.Get(key)
	if isNATSMiss(err) {
		return natsEnvelope{}, false, nil
	}
	if err != nil {
		return natsEnvelope{}, false, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return natsEnvelope{}, false, nil
	}
	var envelope natsEnvelope
	if err := json.Unmarshal(entry.Value(), &envelope); err != nil || envelope.Marker != natsEnvelopeMarker {
		return natsEnvelope{}, false, fmt.Errorf("decode nats cache envelope for %q: %v", key, err)
	}
	return envelope, true, nil
}

func (b *natsBackend) eachKey(fn func(string) error) error {
	lister, err := b.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	scopePrefix := b.scopePrefix()
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, scopePrefix) {
			continue
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	for err := range lister.Error() {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e natsEnvelope) expired() bool {
	return e.ExpiresAt > 0 && time.Now().UnixMilli() > e.ExpiresAt
}

func (b *natsBackend) cacheKey(id string) string {
	return b.scopePrefix() + encodeNATSKeyPart(id)
}

func (b *natsBackend) scopePrefix() string {
	return "p." + encodeNATSKeyPart(b.prefix) + ".k."
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func encodeNATSKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}

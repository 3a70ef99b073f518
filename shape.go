package cachemanager

import (
	"context"
	"time"

	"github.com/goforj/cachemanager/cachecore"
	"go.uber.org/zap"
)

// Backend option keys consumed by the factory before the backend constructor
// runs. They shape values on their way to any backend.
const (
	OptionCompression   = "compression"
	OptionMaxValueBytes = "max_value_bytes"
	OptionEncryptionKey = "encryption_key"
)

var shapingKeys = []string{OptionCompression, OptionMaxValueBytes, OptionEncryptionKey}

type shapingOptions struct {
	Compression   CompressionCodec `option:"compression"`
	MaxValueBytes int              `option:"max_value_bytes"`
	EncryptionKey string           `option:"encryption_key"`
}

func decodeShaping(name string, opts Options) (shapingOptions, error) {
	out := shapingOptions{Compression: CompressionNone}
	known := make(Options, len(shapingKeys))
	for _, key := range shapingKeys {
		if v, ok := opts[key]; ok {
			known[key] = v
		}
	}
	if err := cachecore.DecodeOptions(name+" backend", known, &out); err != nil {
		return out, err
	}
	if out.Compression == "" {
		out.Compression = CompressionNone
	}
	if !out.Compression.valid() {
		return out, cachecore.NewConfigError(name+" backend", "%v: %q", ErrUnsupportedCodec, out.Compression)
	}
	if out.MaxValueBytes < 0 {
		return out, cachecore.NewConfigError(name+" backend", "max_value_bytes must not be negative")
	}
	switch len(out.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return out, cachecore.NewConfigError(name+" backend", "%v", ErrEncryptionKey)
	}
	return out, nil
}

// wrap layers encryption directly over backend and shaping over that, so
// size limits apply to the compressed plaintext.
func (o shapingOptions) wrap(name string, backend Backend) (Backend, error) {
	wrapped, err := newEncryptingBackend(backend, []byte(o.EncryptionKey))
	if err != nil {
		return nil, cachecore.NewConfigError(name+" backend", "%v", err)
	}
	return newShapingBackend(wrapped, o.Compression, o.MaxValueBytes), nil
}

// decorator forwards everything but Load and Save to inner.
type decorator struct {
	inner Backend
}

func (d decorator) Name() string { return d.inner.Name() }

func (d decorator) Remove(ctx context.Context, id string) error {
	return d.inner.Remove(ctx, id)
}

func (d decorator) Clean(ctx context.Context, mode CleaningMode, tags ...string) error {
	return d.inner.Clean(ctx, mode, tags...)
}

func (d decorator) SetLogger(logger *zap.Logger) {
	if la, ok := d.inner.(cachecore.LoggerAware); ok {
		la.SetLogger(logger)
	}
}

func (d decorator) Capabilities() cachecore.Capabilities {
	return cachecore.CapabilitiesOf(d.inner)
}

// Unwrap returns the decorated backend.
func (d decorator) Unwrap() Backend { return d.inner }

// shapingBackend enforces compression and size limits transparently on top
// of any backend.
type shapingBackend struct {
	decorator
	codec CompressionCodec
	max   int
}

func newShapingBackend(inner Backend, codec CompressionCodec, max int) Backend {
	if codec == CompressionNone && max <= 0 {
		return inner
	}
	return &shapingBackend{decorator: decorator{inner: inner}, codec: codec, max: max}
}

func (s *shapingBackend) Load(ctx context.Context, id string) ([]byte, bool, error) {
	body, ok, err := s.inner.Load(ctx, id)
	if err != nil || !ok {
		return body, ok, err
	}
	decoded, err := decodeValue(body)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func (s *shapingBackend) Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	encoded, err := encodeValue(s.codec, s.max, data)
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, id, encoded, tags, lifetime)
}

// UnwrapBackend strips factory decorators and returns the concrete backend.
func UnwrapBackend(b Backend) Backend {
	for {
		u, ok := b.(interface{ Unwrap() Backend })
		if !ok {
			return b
		}
		b = u.Unwrap()
	}
}

package cachecore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Backend is the storage capability wrapped by a cache frontend.
// A lifetime <= 0 stores the entry without expiry.
type Backend interface {
	Name() string
	Load(ctx context.Context, id string) ([]byte, bool, error)
	Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error
	Remove(ctx context.Context, id string) error
	Clean(ctx context.Context, mode CleaningMode, tags ...string) error
}

// LoggerAware is implemented by backends that emit diagnostics.
type LoggerAware interface {
	SetLogger(logger *zap.Logger)
}

// Capabilities describes optional backend behaviour frontends adapt to.
type Capabilities struct {
	// Tags reports whether Save persists tags and tag cleaning modes work.
	Tags bool
	// AutomaticCleaning reports whether Clean(CleanOld) is meaningful.
	AutomaticCleaning bool
	// Persistent is false for backends that discard writes.
	Persistent bool
}

// Capable is implemented by backends that advertise Capabilities.
type Capable interface {
	Capabilities() Capabilities
}

// CapabilitiesOf returns the advertised capabilities of b, assuming a plain
// persistent backend without tag support when b does not advertise any.
func CapabilitiesOf(b Backend) Capabilities {
	if c, ok := b.(Capable); ok {
		return c.Capabilities()
	}
	return Capabilities{Persistent: true}
}

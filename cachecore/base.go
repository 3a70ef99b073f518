package cachecore

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Base carries the identity and logger shared by backend implementations.
// Embed it by value and initialise it with NewBase.
type Base struct {
	name   string
	logger *atomic.Pointer[zap.Logger]
}

// NewBase returns a Base for the backend called name with a no-op logger.
func NewBase(name string) Base {
	return Base{name: name, logger: new(atomic.Pointer[zap.Logger])}
}

// Name returns the backend identity.
func (b *Base) Name() string { return b.name }

// SetLogger implements LoggerAware. A nil logger silences the backend.
func (b *Base) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b.logger == nil {
		b.logger = new(atomic.Pointer[zap.Logger])
	}
	b.logger.Store(logger)
}

// Logger returns the bound logger or a no-op logger.
func (b *Base) Logger() *zap.Logger {
	if b.logger == nil {
		return zap.NewNop()
	}
	if l := b.logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Unsupported logs that mode is not supported by this backend and returns nil;
// an unsupported mode is a no-op, not a failure.
func (b *Base) Unsupported(mode CleaningMode) error {
	b.Logger().Warn(
		fmt.Sprintf("%s backend: cleaning mode %q is unsupported", b.name, mode),
		zap.String("backend", b.name),
		zap.String("mode", string(mode)),
	)
	return nil
}

// CheckMode returns ErrInvalidCleaningMode for unknown modes.
func (b *Base) CheckMode(mode CleaningMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q on %s backend", ErrInvalidCleaningMode, mode, b.name)
	}
	return nil
}

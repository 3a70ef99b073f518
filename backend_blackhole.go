package cachemanager

import (
	"context"
	"time"

	"github.com/goforj/cachemanager/cachecore"
)

// blackHoleBackend discards everything written to it.
type blackHoleBackend struct {
	cachecore.Base
}

// NewBlackHoleBackend returns a backend that stores nothing. It takes no
// options.
func NewBlackHoleBackend() Backend {
	return &blackHoleBackend{Base: cachecore.NewBase("BlackHole")}
}

func newBlackHoleBackend(_ context.Context, opts Options) (Backend, error) {
	if err := cachecore.DecodeOptions(`backend "BlackHole"`, opts, &struct{}{}); err != nil {
		return nil, err
	}
	return NewBlackHoleBackend(), nil
}

func (b *blackHoleBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{Tags: true, AutomaticCleaning: true}
}

func (b *blackHoleBackend) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (b *blackHoleBackend) Save(context.Context, string, []byte, []string, time.Duration) error {
	return nil
}

func (b *blackHoleBackend) Remove(context.Context, string) error { return nil }

func (b *blackHoleBackend) Clean(_ context.Context, mode CleaningMode, _ ...string) error {
	return b.CheckMode(mode)
}

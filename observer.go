package cachemanager

import (
	"context"
	"time"
)

// Observer receives events for frontend operations.
// It is called by Core after each operation completes. backend is the
// name of the backend the frontend wraps.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, id string, hit bool, err error, dur time.Duration, backend string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, id string, hit bool, err error, dur time.Duration, backend string)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, id string, hit bool, err error, dur time.Duration, backend string) {
	if f == nil {
		return
	}
	f(ctx, op, id, hit, err, dur, backend)
}

// observable is implemented by frontends that accept an Observer.
type observable interface {
	SetObserver(Observer)
}

package cachemanager

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

func serializationEnabled(f Frontend) bool {
	s, ok := f.(interface{ AutomaticSerialization() bool })
	return !ok || s.AutomaticSerialization()
}

// LoadJSON decodes the JSON value stored under id into T.
func LoadJSON[T any](ctx context.Context, f Frontend, id string) (T, bool, error) {
	var zero T
	if !serializationEnabled(f) {
		return zero, false, ErrSerializationDisabled
	}
	body, ok, err := f.Load(ctx, id)
	if err != nil || !ok {
		return zero, ok, err
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// SaveJSON encodes value as JSON and stores it under id.
func SaveJSON[T any](ctx context.Context, f Frontend, id string, value T, tags []string, lifetime time.Duration) error {
	if !serializationEnabled(f) {
		return ErrSerializationDisabled
	}
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return f.Save(ctx, id, body, tags, lifetime)
}

// RememberJSON returns the value stored under id or computes, stores and
// returns it when missing.
func RememberJSON[T any](ctx context.Context, f Frontend, id string, lifetime time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	value, ok, err := LoadJSON[T](ctx, f, id)
	if err != nil {
		return zero, err
	}
	if ok {
		return value, nil
	}
	if fn == nil {
		return zero, errors.New("cache remember requires a callback")
	}
	value, err = fn(ctx)
	if err != nil {
		return zero, err
	}
	if err := SaveJSON(ctx, f, id, value, nil, lifetime); err != nil {
		return zero, err
	}
	return value, nil
}

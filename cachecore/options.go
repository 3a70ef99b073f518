package cachecore

import (
	"github.com/go-viper/mapstructure/v2"
)

// Options holds frontend or backend settings keyed by option name.
// Nested maps are allowed; leaf values are opaque to the merger.
type Options map[string]any

// Clone deep-copies nested maps so the result shares no map with o.
// Slices and other leaf values are copied by reference. Clone of nil is nil.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case Options:
		return typed.Clone()
	case map[string]any:
		return map[string]any(Options(typed).Clone())
	default:
		return v
	}
}

// Without returns a copy of o minus keys.
func (o Options) Without(keys ...string) Options {
	if o == nil {
		return nil
	}
	out := o.Clone()
	for _, key := range keys {
		delete(out, key)
	}
	return out
}

// DecodeOptions decodes in onto out, a pointer to an options struct tagged
// with `option:"name"`. Fields already set on out act as defaults. Unknown
// keys and values that cannot be converted yield a ConfigError.
func DecodeOptions(component string, in Options, out any) error {
	return decode(component, in, out, true)
}

// DecodeKnownOptions is DecodeOptions without the unknown-key check, for
// callers that only read a subset of a shared options map.
func DecodeKnownOptions(component string, in Options, out any) error {
	return decode(component, in, out, false)
}

func decode(component string, in Options, out any, strict bool) error {
	if len(in) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "option",
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return &ConfigError{Component: component, Err: err}
	}
	if err := dec.Decode(map[string]any(in)); err != nil {
		return &ConfigError{Component: component, Err: err}
	}
	return nil
}

package cachemanager

import (
	"dario.cat/mergo"

	"github.com/goforj/cachemanager/cachecore"
)

// MergeTemplate merges overrides over base and returns the result.
//
// With a nil base the result is overrides itself. Otherwise nested option
// maps are merged key by key, leaf values from overrides replace those of
// base, and anything overrides leaves unset keeps the base value. A boolean
// flag can be switched on by overrides but never off by omission.
//
// Leaf values are never looked into: a pointer or struct given in overrides
// replaces the base value as a whole. Neither argument is modified and the
// result shares no maps with them.
func MergeTemplate(base *Template, overrides Template) (Template, error) {
	if base == nil {
		return overrides.Clone(), nil
	}
	merged := base.Clone()
	over := overrides.Clone()
	merged.Frontend.Options = mergeOptions(merged.Frontend.Options, over.Frontend.Options)
	merged.Backend.Options = mergeOptions(merged.Backend.Options, over.Backend.Options)

	// Options are merged above; mergo only sees names and flags.
	over.Frontend.Options, over.Backend.Options = nil, nil
	if err := mergo.Merge(&merged, over, mergo.WithOverride); err != nil {
		return Template{}, &cachecore.ConfigError{Component: "template merge", Err: err}
	}
	return merged, nil
}

// mergeOptions merges src into dst in place and returns dst. Both must be
// private copies.
func mergeOptions(dst, src Options) Options {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(Options, len(src))
	}
	for key, value := range src {
		srcMap, srcIsMap := optionMap(value)
		dstMap, dstIsMap := optionMap(dst[key])
		if srcIsMap && dstIsMap && dstMap != nil {
			mergeOptions(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}

func optionMap(v any) (Options, bool) {
	switch typed := v.(type) {
	case Options:
		return typed, true
	case map[string]any:
		return Options(typed), true
	default:
		return nil, false
	}
}

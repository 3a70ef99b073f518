package cachemanager

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ref names a frontend or backend implementation. It is either a
// BuiltinAlias or a CustomIdentifier, chosen by the template's custom-naming
// flag; the two are resolved through separate registries.
type Ref interface {
	// Key is the registry key the reference resolves under.
	Key() string
	isRef()
}

// BuiltinAlias is a short alias such as "File" or "black.hole".
type BuiltinAlias string

// Key returns the alias in its canonical form, see NormalizeAlias.
func (a BuiltinAlias) Key() string { return NormalizeAlias(string(a)) }

func (BuiltinAlias) isRef() {}

// CustomIdentifier is a fully-qualified custom implementation identifier.
// It is used verbatim.
type CustomIdentifier string

// Key returns the identifier unchanged.
func (c CustomIdentifier) Key() string { return string(c) }

func (CustomIdentifier) isRef() {}

func refFor(name string, custom bool) Ref {
	if custom {
		return CustomIdentifier(name)
	}
	return BuiltinAlias(name)
}

// NormalizeAlias canonicalises a built-in alias: '-', '_', '.' and spaces
// separate words, and the first letter of each word is upper-cased. No other
// letter changes case, so "black.hole" and "BlackHole" both become
// "BlackHole" while "blackhole" becomes "Blackhole". Registry keys are
// compared case-sensitively.
func NormalizeAlias(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, word := range strings.FieldsFunc(name, isAliasSeparator) {
		r, size := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(word[size:])
	}
	return b.String()
}

func isAliasSeparator(r rune) bool {
	return r == '-' || r == '_' || r == '.' || r == ' '
}

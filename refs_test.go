package cachemanager

import "testing"

func TestNormalizeAlias(t *testing.T) {
	cases := map[string]string{
		"BlackHole":  "BlackHole",
		"black.hole": "BlackHole",
		"black-hole": "BlackHole",
		"black_hole": "BlackHole",
		"black hole": "BlackHole",
		"blackhole":  "Blackhole",
		"file":       "File",
		"ZendServer": "ZendServer",
		"dynamo.db":  "DynamoDb",
		"":           "",
		"..":         "",
	}
	for in, want := range cases {
		if got := NormalizeAlias(in); got != want {
			t.Fatalf("NormalizeAlias(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRefFor(t *testing.T) {
	if ref := refFor("black.hole", false); ref.Key() != "BlackHole" {
		t.Fatalf("unexpected builtin key %q", ref.Key())
	}
	ref := refFor("My_Cache_Backend_Custom", true)
	if _, ok := ref.(CustomIdentifier); !ok {
		t.Fatalf("expected CustomIdentifier, got %T", ref)
	}
	if ref.Key() != "My_Cache_Backend_Custom" {
		t.Fatalf("custom identifiers must be verbatim, got %q", ref.Key())
	}
}

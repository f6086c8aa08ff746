package util

import (
	"regexp"
	"testing"
)

func TestNewIDPrefixAndShape(t *testing.T) {
	id := NewID("evt")
	if !regexp.MustCompile(`^evt_[0-9a-f]{32}$`).MatchString(id) {
		t.Fatalf("unexpected id shape: %q", id)
	}

	bare := NewID("")
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(bare) {
		t.Fatalf("unexpected bare id shape: %q", bare)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID("evt")
		if seen[id] {
			t.Fatalf("duplicate id after %d iterations: %s", i, id)
		}
		seen[id] = true
	}
}

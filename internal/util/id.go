package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier. A non-empty prefix is joined with an
// underscore, e.g. "evt_4f9c...".
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}

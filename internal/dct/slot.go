package dct

import (
	"regexp"
	"strings"
)

const (
	MaxSlotLength   = 80
	MaxIdeaIDLength = 160
)

var slotPattern = regexp.MustCompile(`^[a-z0-9]+([.-][a-z0-9]+)*$`)

// CanonicalSlots are the well-known slots operators bind first. Any name of
// the canonical shape is accepted.
var CanonicalSlots = []string{
	"goal.primary",
	"plan.current",
	"dod.current",
	"policy.prisma-orm",
	"policy.role-guardrails",
	"policy.sot-envelope",
	"architecture.hosting",
	"architecture.auth",
	"ops.deploy",
	"ops.ci",
	"repo.dev-jai-nexus.health",
	"blocker.current",
}

func NormalizeSlot(slot string) string {
	return strings.TrimSpace(slot)
}

// ValidSlot reports whether slot, after normalization, has the canonical
// shape: lowercase alphanumeric tokens joined by "." or "-".
func ValidSlot(slot string) bool {
	slot = NormalizeSlot(slot)
	return slot != "" && len(slot) <= MaxSlotLength && slotPattern.MatchString(slot)
}

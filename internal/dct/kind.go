// Package dct folds the append-only SoT event log into the current
// Decision/Context Tracking view: ideas, slot bindings, edges and
// data-quality metrics.
package dct

import "strings"

// Prefix marks the event kinds consumed by the projection engine.
const Prefix = "dct."

// Kind names a recognized dct event kind.
type Kind string

const (
	// KindIdeaCreate registers an idea or fully replaces an existing one.
	KindIdeaCreate Kind = "dct.idea.create"
	// KindIdeaRevise patches selected fields of an existing idea.
	KindIdeaRevise Kind = "dct.idea.revise"
	// KindIdeaStatus moves an existing idea to a new status.
	KindIdeaStatus Kind = "dct.idea.status"
	// KindIdeaEdge relates two ideas.
	KindIdeaEdge Kind = "dct.idea.edge"
	// KindSlotBind points a slot at an idea.
	KindSlotBind Kind = "dct.slot.bind"
)

// Kinds lists every recognized kind in a stable order.
var Kinds = []Kind{KindIdeaCreate, KindIdeaRevise, KindIdeaStatus, KindIdeaEdge, KindSlotBind}

var kindAliases = map[string]Kind{
	"dct.idea-create": KindIdeaCreate,
	"dct.idea-revise": KindIdeaRevise,
	"dct.idea-status": KindIdeaStatus,
	"dct.idea-edge":   KindIdeaEdge,
	"dct.slot-bind":   KindSlotBind,
}

// IsDCT reports whether kind belongs to the dct namespace.
func IsDCT(kind string) bool {
	return strings.HasPrefix(strings.TrimSpace(kind), Prefix)
}

// CanonicalKind maps a kind or one of its hyphenated spellings to the
// recognized Kind. ok is false for anything else.
func CanonicalKind(kind string) (Kind, bool) {
	kind = strings.TrimSpace(kind)
	for _, k := range Kinds {
		if string(k) == kind {
			return k, true
		}
	}
	k, ok := kindAliases[kind]
	return k, ok
}

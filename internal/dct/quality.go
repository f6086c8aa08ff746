package dct

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

type Severity string

const (
	SeverityPass Severity = "pass"
	SeverityWarn Severity = "warn"
	SeverityFail Severity = "fail"
)

type ProvenanceIssue struct {
	Slot    string `json:"slot,omitempty"`
	IdeaID  string `json:"ideaId"`
	Reason  string `json:"reason"`
	BoundAt string `json:"boundAt,omitempty"`
	EventID string `json:"eventId,omitempty"`
}

type MissingIdeaIssue struct {
	Slot    string `json:"slot"`
	IdeaID  string `json:"ideaId"`
	BoundAt string `json:"boundAt"`
	EventID string `json:"eventId"`
}

type DuplicateAnchorIssue struct {
	IdeaID       string `json:"ideaId"`
	Duplicates   int    `json:"duplicates"`
	TotalAnchors int    `json:"totalAnchors"`
}

type SkipCounts struct {
	InvalidPayload int `json:"invalidPayload"`
	KindMismatch   int `json:"kindMismatch"`
	UnknownIdea    int `json:"unknownIdea"`
	LegacyAnchors  int `json:"legacyAnchors"`
}

type SuggestedAction struct {
	Type   string `json:"type"`
	Slot   string `json:"slot,omitempty"`
	IdeaID string `json:"ideaId"`
	Hint   string `json:"hint"`
}

type QualityCounts struct {
	OperatingNeedsProvenance      int `json:"operatingNeedsProvenance"`
	SlotBoundNeedsProvenance      int `json:"slotBoundNeedsProvenance"`
	MissingIdeasReferencedBySlots int `json:"missingIdeasReferencedBySlots"`
	DuplicateAnchors              int `json:"duplicateAnchors"`
	SkippedInvalidPayload         int `json:"skippedInvalidPayload"`
	SkippedKindMismatch           int `json:"skippedKindMismatch"`
	SkippedUnknownIdea            int `json:"skippedUnknownIdea"`
	EventsWithLegacyAnchors       int `json:"eventsWithLegacyAnchors"`
}

type QualityIssues struct {
	OperatingNeedsProvenance      []ProvenanceIssue      `json:"operatingNeedsProvenance"`
	SlotBoundNeedsProvenance      []ProvenanceIssue      `json:"slotBoundNeedsProvenance"`
	MissingIdeasReferencedBySlots []MissingIdeaIssue     `json:"missingIdeasReferencedBySlots"`
	DuplicateAnchors              []DuplicateAnchorIssue `json:"duplicateAnchors"`
	EventsSkipped                 SkipCounts             `json:"eventsSkipped"`
}

type QualityReport struct {
	Pass             bool              `json:"pass"`
	Severity         Severity          `json:"severity"`
	Counts           QualityCounts     `json:"counts"`
	Issues           QualityIssues     `json:"issues"`
	SuggestedActions []SuggestedAction `json:"suggestedActions"`
}

// Quality audits p for provenance gaps and skipped history. Issue lists and
// suggested actions are capped at maxIssues; counts are not.
func Quality(p Projection, maxIssues int) QualityReport {
	if maxIssues < 1 {
		maxIssues = 1
	}

	var slotBound []ProvenanceIssue
	var missing []MissingIdeaIssue
	for _, slot := range p.SlotNames() {
		binding := p.Slots[slot]
		idea, ok := p.Ideas[binding.IdeaID]
		if !ok {
			missing = append(missing, MissingIdeaIssue{Slot: slot, IdeaID: binding.IdeaID, BoundAt: binding.TS, EventID: binding.EventID})
			continue
		}
		if len(idea.Anchors) == 0 {
			slotBound = append(slotBound, ProvenanceIssue{
				Slot:    slot,
				IdeaID:  binding.IdeaID,
				Reason:  "slot-bound idea has anchors=0",
				BoundAt: binding.TS,
				EventID: binding.EventID,
			})
		}
	}

	var operating []ProvenanceIssue
	for _, id := range p.OperatingSet {
		if len(p.Ideas[id].Anchors) == 0 {
			operating = append(operating, ProvenanceIssue{IdeaID: id, Reason: "operatingSet idea has anchors=0"})
		}
	}

	duplicates := duplicateAnchors(p)

	skipped := SkipCounts{
		InvalidPayload: p.Metrics.EventsSkippedInvalidPayload,
		KindMismatch:   p.Metrics.EventsSkippedKindPayloadMismatch,
		UnknownIdea:    p.Metrics.EventsSkippedUnknownIdea,
		LegacyAnchors:  p.Metrics.EventsWithLegacyAnchors,
	}

	var actions []SuggestedAction
	for _, row := range capped(slotBound, maxIssues) {
		actions = append(actions, SuggestedAction{
			Type:   "revise_add_anchor",
			IdeaID: row.IdeaID,
			Hint:   fmt.Sprintf("Attach provenance for slot %q (use POST /api/dct/idea-provenance).", row.Slot),
		})
	}
	for _, row := range capped(missing, maxIssues) {
		actions = append(actions, SuggestedAction{
			Type:   "investigate_missing_idea",
			Slot:   row.Slot,
			IdeaID: row.IdeaID,
			Hint:   fmt.Sprintf("Slot %q points to missing idea. Create it or re-bind slot.", row.Slot),
		})
	}
	for _, row := range capped(duplicates, maxIssues) {
		actions = append(actions, SuggestedAction{
			Type:   "dedupe_anchors",
			IdeaID: row.IdeaID,
			Hint:   "Idea has duplicate anchors. Revise it with a single anchor per location.",
		})
	}

	fail := len(slotBound) > 0 || len(missing) > 0 || skipped.InvalidPayload > 0 || skipped.KindMismatch > 0
	warn := !fail && (skipped.UnknownIdea > 0 || skipped.LegacyAnchors > 0 || len(duplicates) > 0 || len(operating) > 0)
	severity := SeverityPass
	switch {
	case fail:
		severity = SeverityFail
	case warn:
		severity = SeverityWarn
	}

	return QualityReport{
		Pass:     !fail,
		Severity: severity,
		Counts: QualityCounts{
			OperatingNeedsProvenance:      len(operating),
			SlotBoundNeedsProvenance:      len(slotBound),
			MissingIdeasReferencedBySlots: len(missing),
			DuplicateAnchors:              len(duplicates),
			SkippedInvalidPayload:         skipped.InvalidPayload,
			SkippedKindMismatch:           skipped.KindMismatch,
			SkippedUnknownIdea:            skipped.UnknownIdea,
			EventsWithLegacyAnchors:       skipped.LegacyAnchors,
		},
		Issues: QualityIssues{
			OperatingNeedsProvenance:      nonNil(capped(operating, maxIssues)),
			SlotBoundNeedsProvenance:      nonNil(capped(slotBound, maxIssues)),
			MissingIdeasReferencedBySlots: nonNil(capped(missing, maxIssues)),
			DuplicateAnchors:              nonNil(capped(duplicates, maxIssues)),
			EventsSkipped:                 skipped,
		},
		SuggestedActions: nonNil(capped(actions, maxIssues)),
	}
}

func duplicateAnchors(p Projection) []DuplicateAnchorIssue {
	var out []DuplicateAnchorIssue
	for id, idea := range p.Ideas {
		if len(idea.Anchors) < 2 {
			continue
		}
		seen := make(map[string]bool, len(idea.Anchors))
		dups := 0
		for _, a := range idea.Anchors {
			key := anchorKey(a)
			if seen[key] {
				dups++
				continue
			}
			seen[key] = true
		}
		if dups > 0 {
			out = append(out, DuplicateAnchorIssue{IdeaID: id, Duplicates: dups, TotalAnchors: len(idea.Anchors)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duplicates != out[j].Duplicates {
			return out[i].Duplicates > out[j].Duplicates
		}
		if out[i].TotalAnchors != out[j].TotalAnchors {
			return out[i].TotalAnchors > out[j].TotalAnchors
		}
		return out[i].IdeaID < out[j].IdeaID
	})
	return out
}

func anchorKey(a Anchor) string {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprintf("%+v", a)
	}
	canonical, err := jcs.Transform(body)
	if err != nil {
		return string(body)
	}
	return string(canonical)
}

func capped[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

package dct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityPassesWithAnchoredOperatingSet(t *testing.T) {
	events := []Event{
		event(t, "evt_1", at(1), "dct.idea.create", map[string]any{
			"type": "dct.idea.create", "ideaId": "a", "text": "x",
			"anchor": map[string]any{"type": "url", "url": "https://example.com"},
		}),
		bind(t, "evt_2", at(2), "goal.primary", "a"),
	}

	report := Quality(Apply(events), 50)

	assert.True(t, report.Pass)
	assert.Equal(t, SeverityPass, report.Severity)
	assert.Empty(t, report.SuggestedActions)
}

func TestQualityFailsWhenSlotBoundIdeaLacksProvenance(t *testing.T) {
	events := []Event{
		create(t, "evt_1", at(1), "a", "x"),
		bind(t, "evt_2", at(2), "goal.primary", "a"),
	}

	report := Quality(Apply(events), 50)

	assert.False(t, report.Pass)
	assert.Equal(t, SeverityFail, report.Severity)
	assert.Equal(t, 1, report.Counts.SlotBoundNeedsProvenance)
	assert.Equal(t, 1, report.Counts.OperatingNeedsProvenance)
	require.Len(t, report.SuggestedActions, 1)
	assert.Equal(t, "revise_add_anchor", report.SuggestedActions[0].Type)
	assert.Equal(t, "a", report.SuggestedActions[0].IdeaID)
}

func TestQualityWarnsOnDuplicateAnchorsAndUnknownIdeas(t *testing.T) {
	anchor := map[string]any{"type": "url", "url": "https://example.com/a"}
	events := []Event{
		event(t, "evt_1", at(1), "dct.idea.create", map[string]any{"type": "dct.idea.create", "ideaId": "a", "text": "x", "anchor": anchor}),
		event(t, "evt_2", at(2), "dct.idea.revise", map[string]any{"type": "dct.idea.revise", "ideaId": "a", "anchor": anchor}),
		bind(t, "evt_3", at(3), "goal.primary", "ghost"),
	}

	report := Quality(Apply(events), 50)

	assert.True(t, report.Pass)
	assert.Equal(t, SeverityWarn, report.Severity)
	require.Len(t, report.Issues.DuplicateAnchors, 1)
	assert.Equal(t, DuplicateAnchorIssue{IdeaID: "a", Duplicates: 1, TotalAnchors: 2}, report.Issues.DuplicateAnchors[0])
	assert.Equal(t, 1, report.Issues.EventsSkipped.UnknownIdea)
	require.Len(t, report.SuggestedActions, 1)
	assert.Equal(t, "dedupe_anchors", report.SuggestedActions[0].Type)
}

func TestQualityCapsIssues(t *testing.T) {
	var events []Event
	slots := []string{"goal.primary", "plan.current", "dod.current", "ops.ci"}
	for i, slot := range slots {
		id := "idea-" + slot
		events = append(events, create(t, "evt_c"+slot, at(i), id, "x"))
		events = append(events, bind(t, "evt_b"+slot, at(10+i), slot, id))
	}

	report := Quality(Apply(events), 2)

	assert.Equal(t, 4, report.Counts.SlotBoundNeedsProvenance)
	assert.Len(t, report.Issues.SlotBoundNeedsProvenance, 2)
	assert.Len(t, report.SuggestedActions, 2)
	assert.Equal(t, "dod.current", report.Issues.SlotBoundNeedsProvenance[0].Slot)
}

func TestQualityFailsOnInvalidHistory(t *testing.T) {
	events := []Event{
		event(t, "evt_1", at(1), "dct.idea.create", map[string]any{"type": "dct.idea.create", "ideaId": "a"}),
	}

	report := Quality(Apply(events), 50)

	assert.Equal(t, SeverityFail, report.Severity)
	assert.Equal(t, 1, report.Counts.SkippedInvalidPayload)
}

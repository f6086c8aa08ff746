package search

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"dctledger/internal/dct"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projection(t *testing.T) dct.Projection {
	t.Helper()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	payloads := []struct {
		kind string
		body map[string]any
	}{
		{"dct.idea.create", map[string]any{"ideaId": "goal.primary.v1", "text": "Ship the ledger", "ideaType": "goal", "tags": []string{"Roadmap"}}},
		{"dct.idea.create", map[string]any{"ideaId": "rule.naming", "text": "Slots are lowercase", "ideaType": "rule"}},
		{"dct.idea.create", map[string]any{"ideaId": "plan.old", "text": "Old ledger plan", "ideaType": "plan", "status": "deprecated"}},
		{"dct.slot.bind", map[string]any{"slot": "goal.primary", "ideaId": "goal.primary.v1"}},
	}
	events := make([]dct.Event, 0, len(payloads))
	for i, p := range payloads {
		p.body["type"] = p.kind
		raw, err := json.Marshal(p.body)
		require.NoError(t, err)
		events = append(events, dct.Event{
			EventID: "evt_" + string(rune('a'+i)),
			TS:      ts.Add(time.Duration(i) * time.Second),
			Kind:    p.kind,
			Payload: raw,
		})
	}
	return dct.Apply(events)
}

func TestRecordsCarrySlots(t *testing.T) {
	records := Records(projection(t))

	require.Len(t, records, 3)
	assert.Equal(t, "goal.primary.v1", records[0].ID)
	assert.Equal(t, []string{"goal.primary"}, records[0].Slots)
	assert.Equal(t, "plan.old", records[1].ID)
	assert.Equal(t, []string{}, records[1].Slots)
}

func TestScanMatchesCaseInsensitively(t *testing.T) {
	p := projection(t)

	results, total := Scan(p, Query{Text: "LEDGER"})
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	assert.Equal(t, "goal.primary.v1", results[0].IdeaID)
	assert.Equal(t, "plan.old", results[1].IdeaID)

	results, total = Scan(p, Query{Text: "roadmap"})
	assert.Equal(t, 1, total)
	assert.Equal(t, "goal.primary.v1", results[0].IdeaID)

	results, _ = Scan(p, Query{Text: "naming"})
	require.Len(t, results, 1)
	assert.Equal(t, "rule.naming", results[0].IdeaID)
}

func TestScanFiltersAndLimits(t *testing.T) {
	p := projection(t)

	results, total := Scan(p, Query{FilterStatus: "deprecated"})
	assert.Equal(t, 1, total)
	assert.Equal(t, "plan.old", results[0].IdeaID)

	results, total = Scan(p, Query{FilterType: "rule"})
	assert.Equal(t, 1, total)
	assert.Equal(t, "rule.naming", results[0].IdeaID)

	results, total = Scan(p, Query{Limit: 1})
	assert.Equal(t, 3, total)
	assert.Len(t, results, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, clampLimit(0))
	assert.Equal(t, defaultLimit, clampLimit(-5))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxLimit, clampLimit(maxLimit+1))
}

func TestRecordsUseValidDocumentKeys(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9_-]{1,511}$`)
	records := Records(projection(t))

	seen := map[string]bool{}
	for _, r := range records {
		assert.Regexp(t, valid, r.Key, "key for %s", r.ID)
		assert.False(t, seen[r.Key], "duplicate key for %s", r.ID)
		seen[r.Key] = true
		assert.Equal(t, DocumentKey(r.ID), r.Key)
	}

	long := DocumentKey(strings.Repeat("é", 160))
	assert.Regexp(t, valid, long)
}

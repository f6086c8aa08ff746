package search

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"dctledger/internal/dct"
)

// DocumentKey derives the index primary key for an idea id: hex SHA-256,
// which stays within [a-f0-9] and under the 511 byte id limit.
func DocumentKey(ideaID string) string {
	sum := sha256.Sum256([]byte(ideaID))
	return hex.EncodeToString(sum[:])
}

// Records converts the ideas of p into index records, ordered by idea id.
func Records(p dct.Projection) []IdeaRecord {
	slotsByIdea := make(map[string][]string)
	for _, slot := range p.SlotNames() {
		ideaID := p.Slots[slot].IdeaID
		slotsByIdea[ideaID] = append(slotsByIdea[ideaID], slot)
	}

	records := make([]IdeaRecord, 0, len(p.Ideas))
	for _, idea := range p.Ideas {
		slots := slotsByIdea[idea.ID]
		if slots == nil {
			slots = []string{}
		}
		records = append(records, IdeaRecord{
			Key:        DocumentKey(idea.ID),
			ID:         idea.ID,
			Text:       idea.Text,
			IdeaType:   string(idea.IdeaType),
			Status:     string(idea.Status),
			Tags:       append([]string{}, idea.Tags...),
			Confidence: idea.Confidence,
			Slots:      slots,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// Scan matches q against the ideas of p in process. Text matches on idea
// id, text or any tag, case-insensitively. Results are ordered by idea id.
func Scan(p dct.Projection, q Query) ([]Result, int) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var matched []Result
	for _, rec := range Records(p) {
		if q.FilterStatus != "" && rec.Status != q.FilterStatus {
			continue
		}
		if q.FilterType != "" && rec.IdeaType != q.FilterType {
			continue
		}
		if needle != "" && !matches(rec, needle) {
			continue
		}
		matched = append(matched, Result{
			IdeaID:     rec.ID,
			Text:       rec.Text,
			Snippet:    rec.Text,
			IdeaType:   rec.IdeaType,
			Status:     rec.Status,
			Tags:       rec.Tags,
			Confidence: rec.Confidence,
		})
	}

	total := len(matched)
	if limit := clampLimit(q.Limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total
}

func matches(rec IdeaRecord, needle string) bool {
	if strings.Contains(strings.ToLower(rec.ID), needle) || strings.Contains(strings.ToLower(rec.Text), needle) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

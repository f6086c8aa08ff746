package dct

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Event is the slice of a stored SoT event the engine needs.
type Event struct {
	EventID string          `json:"eventId"`
	TS      time.Time       `json:"ts"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Idea struct {
	ID             string   `json:"id"`
	Text           string   `json:"text"`
	IdeaType       IdeaType `json:"ideaType,omitempty"`
	Status         Status   `json:"status"`
	Confidence     float64  `json:"confidence"`
	Anchors        []Anchor `json:"anchors"`
	Tags           []string `json:"tags"`
	NhID           string   `json:"nhId"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
	CreatedEventID string   `json:"createdEventId"`
	UpdatedEventID string   `json:"updatedEventId"`
}

type SlotBinding struct {
	IdeaID  string  `json:"ideaId"`
	Anchor  *Anchor `json:"anchor,omitempty"`
	TS      string  `json:"ts"`
	EventID string  `json:"eventId"`
}

type Edge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Relation   Relation `json:"relation"`
	Confidence float64  `json:"confidence"`
	Anchor     *Anchor  `json:"anchor,omitempty"`
	TS         string   `json:"ts"`
	EventID    string   `json:"eventId"`
}

type Metrics struct {
	TotalIdeas                       int `json:"totalIdeas"`
	ActiveIdeasCount                 int `json:"activeIdeasCount"`
	OperatingIdeasCount              int `json:"operatingIdeasCount"`
	EdgeCount                        int `json:"edgeCount"`
	SlotCount                        int `json:"slotCount"`
	EventsProcessed                  int `json:"eventsProcessed"`
	EventsSkippedInvalidPayload      int `json:"eventsSkippedInvalidPayload"`
	EventsSkippedKindPayloadMismatch int `json:"eventsSkippedKindPayloadMismatch"`
	EventsSkippedUnknownIdea         int `json:"eventsSkippedUnknownIdea"`
	EventsWithLegacyAnchors          int `json:"eventsWithLegacyAnchors"`
}

// Skipped returns the total number of events left out of the fold.
func (m Metrics) Skipped() int {
	return m.EventsSkippedInvalidPayload + m.EventsSkippedKindPayloadMismatch + m.EventsSkippedUnknownIdea
}

type SkipReason string

const (
	SkipInvalidPayload SkipReason = "invalid_payload"
	SkipKindMismatch   SkipReason = "kind_payload_mismatch"
	SkipUnknownIdea    SkipReason = "unknown_idea"
)

type SkippedEvent struct {
	EventID string     `json:"eventId"`
	Kind    string     `json:"kind"`
	Reason  SkipReason `json:"reason"`
	Detail  string     `json:"detail"`
}

// Projection is the current DCT view derived from one ordered event
// sequence. It is never persisted as state of record.
type Projection struct {
	Ideas        map[string]Idea        `json:"ideas"`
	Slots        map[string]SlotBinding `json:"slots"`
	Edges        []Edge                 `json:"edges"`
	ActiveIdeas  []string               `json:"activeIdeas"`
	OperatingSet []string               `json:"operatingSet"`
	Metrics      Metrics                `json:"metrics"`
	Skipped      []SkippedEvent         `json:"skipped"`
}

// Canonicalize returns the dct events of events in (ts, eventId) order.
// The input slice is left untouched.
func Canonicalize(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if IsDCT(ev.Kind) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TS.Equal(out[j].TS) {
			return out[i].TS.Before(out[j].TS)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}

// Apply folds events into a Projection. It never fails: events that cannot
// be applied are counted in Metrics and listed in Skipped.
func Apply(events []Event) Projection {
	f := &fold{
		ideas: make(map[string]Idea),
		slots: make(map[string]SlotBinding),
	}
	for _, ev := range Canonicalize(events) {
		f.apply(ev)
	}
	return f.result()
}

type fold struct {
	ideas   map[string]Idea
	slots   map[string]SlotBinding
	edges   []Edge
	skipped []SkippedEvent
	metrics Metrics
}

func (f *fold) apply(ev Event) {
	payload, reason, detail := decodeEvent(ev)
	if reason != "" {
		f.skip(ev, reason, detail)
		return
	}
	ts := FormatTS(ev.TS)

	switch p := payload.(type) {
	case IdeaCreate:
		idea := Idea{
			ID:             p.IdeaID,
			Text:           p.Text,
			IdeaType:       p.IdeaType,
			Status:         p.Status,
			Confidence:     DefaultConfidence,
			Anchors:        []Anchor{},
			Tags:           NormalizeTags(p.Tags),
			NhID:           p.NhID,
			CreatedAt:      ts,
			UpdatedAt:      ts,
			CreatedEventID: ev.EventID,
			UpdatedEventID: ev.EventID,
		}
		if idea.Status == "" {
			idea.Status = StatusActive
		}
		if p.Confidence != nil {
			idea.Confidence = *p.Confidence
		}
		if p.Anchor != nil {
			idea.Anchors = append(idea.Anchors, p.Anchor.withLegacyFlag())
		}
		f.ideas[idea.ID] = idea

	case IdeaRevise:
		idea, ok := f.ideas[p.IdeaID]
		if !ok {
			f.skip(ev, SkipUnknownIdea, fmt.Sprintf("idea %q has not been created", p.IdeaID))
			return
		}
		if p.Text != nil {
			idea.Text = *p.Text
		}
		if p.IdeaType != nil {
			idea.IdeaType = *p.IdeaType
		}
		if p.Confidence != nil {
			idea.Confidence = *p.Confidence
		}
		if p.Tags != nil {
			idea.Tags = NormalizeTags(*p.Tags)
		}
		if p.Anchor != nil {
			idea.Anchors = append(slices.Clip(idea.Anchors), p.Anchor.withLegacyFlag())
		}
		idea.UpdatedAt = ts
		idea.UpdatedEventID = ev.EventID
		f.ideas[idea.ID] = idea

	case IdeaStatus:
		idea, ok := f.ideas[p.IdeaID]
		if !ok {
			f.skip(ev, SkipUnknownIdea, fmt.Sprintf("idea %q has not been created", p.IdeaID))
			return
		}
		idea.Status = p.Status
		if p.Anchor != nil {
			idea.Anchors = append(slices.Clip(idea.Anchors), p.Anchor.withLegacyFlag())
		}
		idea.UpdatedAt = ts
		idea.UpdatedEventID = ev.EventID
		f.ideas[idea.ID] = idea

	case IdeaEdge:
		edge := Edge{
			From:       p.From,
			To:         p.To,
			Relation:   p.Relation,
			Confidence: DefaultEdgeConfidence,
			TS:         ts,
			EventID:    ev.EventID,
		}
		if p.Confidence != nil {
			edge.Confidence = *p.Confidence
		}
		if p.Anchor != nil {
			a := p.Anchor.withLegacyFlag()
			edge.Anchor = &a
		}
		f.edges = append(f.edges, edge)

	case SlotBind:
		if _, ok := f.ideas[p.IdeaID]; !ok {
			f.skip(ev, SkipUnknownIdea, fmt.Sprintf("slot %q references unknown idea %q", p.Slot, p.IdeaID))
			return
		}
		binding := SlotBinding{IdeaID: p.IdeaID, TS: ts, EventID: ev.EventID}
		if p.Anchor != nil {
			a := p.Anchor.withLegacyFlag()
			binding.Anchor = &a
		}
		f.slots[p.Slot] = binding

	default:
		f.skip(ev, SkipInvalidPayload, fmt.Sprintf("unrecognized dct kind %q", ev.Kind))
		return
	}

	if HasLegacyAnchor(payload) {
		f.metrics.EventsWithLegacyAnchors++
	}
	f.metrics.EventsProcessed++
}

func (f *fold) skip(ev Event, reason SkipReason, detail string) {
	switch reason {
	case SkipInvalidPayload:
		f.metrics.EventsSkippedInvalidPayload++
	case SkipKindMismatch:
		f.metrics.EventsSkippedKindPayloadMismatch++
	case SkipUnknownIdea:
		f.metrics.EventsSkippedUnknownIdea++
	}
	f.skipped = append(f.skipped, SkippedEvent{EventID: ev.EventID, Kind: ev.Kind, Reason: reason, Detail: detail})
}

// decodeEvent resolves the payload variant for ev, or the reason it must be
// skipped.
func decodeEvent(ev Event) (Payload, SkipReason, string) {
	tag, err := PayloadTag(ev.Payload)
	if err != nil {
		return nil, SkipInvalidPayload, err.Error()
	}
	kind, known := CanonicalKind(ev.Kind)
	expected := strings.TrimSpace(ev.Kind)
	if known {
		expected = string(kind)
	}
	actual := strings.TrimSpace(tag)
	if tk, ok := CanonicalKind(tag); ok {
		actual = string(tk)
	}
	if expected != actual {
		return nil, SkipKindMismatch, fmt.Sprintf("payload type %q does not match kind %q", tag, ev.Kind)
	}
	if !known {
		return Unrecognized{Type: tag, Raw: ev.Payload}, SkipInvalidPayload, fmt.Sprintf("unrecognized dct kind %q", ev.Kind)
	}
	payload, err := decodeKnown(kind, ev.Payload)
	if err != nil {
		return nil, SkipInvalidPayload, err.Error()
	}
	return payload, "", ""
}

func (f *fold) result() Projection {
	p := Projection{
		Ideas:        f.ideas,
		Slots:        f.slots,
		Edges:        f.edges,
		ActiveIdeas:  []string{},
		OperatingSet: []string{},
		Metrics:      f.metrics,
		Skipped:      f.skipped,
	}
	if p.Edges == nil {
		p.Edges = []Edge{}
	}
	if p.Skipped == nil {
		p.Skipped = []SkippedEvent{}
	}

	for id, idea := range f.ideas {
		if idea.Status == StatusActive || idea.Status == StatusPromoted {
			p.ActiveIdeas = append(p.ActiveIdeas, id)
		}
	}
	sort.Strings(p.ActiveIdeas)

	operating := make(map[string]bool)
	for _, binding := range f.slots {
		if _, ok := f.ideas[binding.IdeaID]; ok && !operating[binding.IdeaID] {
			operating[binding.IdeaID] = true
			p.OperatingSet = append(p.OperatingSet, binding.IdeaID)
		}
	}
	sort.Strings(p.OperatingSet)

	p.Metrics.TotalIdeas = len(f.ideas)
	p.Metrics.ActiveIdeasCount = len(p.ActiveIdeas)
	p.Metrics.OperatingIdeasCount = len(p.OperatingSet)
	p.Metrics.EdgeCount = len(p.Edges)
	p.Metrics.SlotCount = len(f.slots)
	return p
}

// SlotNames returns the bound slots in lexical order.
func (p Projection) SlotNames() []string {
	names := make([]string, 0, len(p.Slots))
	for name := range p.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeTags trims, drops blanks, dedupes and sorts.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTS renders t the way projection timestamps are reported.
func FormatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

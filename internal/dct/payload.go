package dct

import (
	"encoding/json"
	"fmt"
)

type IdeaType string

const (
	IdeaDecision    IdeaType = "decision"
	IdeaDefinition  IdeaType = "definition"
	IdeaGoal        IdeaType = "goal"
	IdeaPlan        IdeaType = "plan"
	IdeaRule        IdeaType = "rule"
	IdeaObservation IdeaType = "observation"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusDeprecated Status = "deprecated"
	StatusDraft      Status = "draft"
	StatusPromoted   Status = "promoted"
)

type Relation string

const (
	RelSupports    Relation = "SUPPORTS"
	RelContradicts Relation = "CONTRADICTS"
	RelDependsOn   Relation = "DEPENDS_ON"
	RelDefines     Relation = "DEFINES"
	RelImplements  Relation = "IMPLEMENTS"
)

const (
	DefaultConfidence     = 0.7
	DefaultEdgeConfidence = 0.8
)

// Payload is the decoded body of a dct event. The concrete type is one of
// IdeaCreate, IdeaRevise, IdeaStatus, IdeaEdge, SlotBind or Unrecognized.
type Payload interface {
	Kind() Kind
	anchors() []*Anchor
}

type IdeaCreate struct {
	IdeaID     string   `json:"ideaId"`
	Text       string   `json:"text"`
	IdeaType   IdeaType `json:"ideaType,omitempty"`
	Status     Status   `json:"status,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Anchor     *Anchor  `json:"anchor,omitempty"`
	NhID       string   `json:"nhId,omitempty"`
}

// IdeaRevise changes only the fields that are set.
type IdeaRevise struct {
	IdeaID     string    `json:"ideaId"`
	Text       *string   `json:"text,omitempty"`
	IdeaType   *IdeaType `json:"ideaType,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	Anchor     *Anchor   `json:"anchor,omitempty"`
}

type IdeaStatus struct {
	IdeaID string  `json:"ideaId"`
	Status Status  `json:"status"`
	Anchor *Anchor `json:"anchor,omitempty"`
}

type IdeaEdge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Relation   Relation `json:"relation"`
	Confidence *float64 `json:"confidence,omitempty"`
	Anchor     *Anchor  `json:"anchor,omitempty"`
}

type SlotBind struct {
	Slot   string  `json:"slot"`
	IdeaID string  `json:"ideaId"`
	Anchor *Anchor `json:"anchor,omitempty"`
}

// Unrecognized carries a dct payload whose kind the engine does not know.
// It is never applied.
type Unrecognized struct {
	Type string
	Raw  json.RawMessage
}

func (IdeaCreate) Kind() Kind { return KindIdeaCreate }
func (IdeaRevise) Kind() Kind { return KindIdeaRevise }
func (IdeaStatus) Kind() Kind { return KindIdeaStatus }
func (IdeaEdge) Kind() Kind   { return KindIdeaEdge }
func (SlotBind) Kind() Kind   { return KindSlotBind }

// Kind returns the raw tag; it is not one of the recognized kinds.
func (u Unrecognized) Kind() Kind { return Kind(u.Type) }

func (p IdeaCreate) anchors() []*Anchor { return []*Anchor{p.Anchor} }
func (p IdeaRevise) anchors() []*Anchor { return []*Anchor{p.Anchor} }
func (p IdeaStatus) anchors() []*Anchor { return []*Anchor{p.Anchor} }
func (p IdeaEdge) anchors() []*Anchor   { return []*Anchor{p.Anchor} }
func (p SlotBind) anchors() []*Anchor   { return []*Anchor{p.Anchor} }
func (Unrecognized) anchors() []*Anchor { return nil }

// HasLegacyAnchor reports whether any anchor carried by p is legacy-shaped.
func HasLegacyAnchor(p Payload) bool {
	for _, a := range p.anchors() {
		if a != nil && a.IsLegacy() {
			return true
		}
	}
	return false
}

// Encode renders p as a stored payload with its "type" tag set.
func Encode(p Payload) (json.RawMessage, error) {
	if u, ok := p.(Unrecognized); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("re-read %s payload: %w", p.Kind(), err)
	}
	if raw, ok := fields["anchor"]; ok {
		var anchor map[string]json.RawMessage
		if err := json.Unmarshal(raw, &anchor); err == nil && anchor != nil {
			delete(anchor, "_legacy")
			fields["anchor"], _ = json.Marshal(anchor)
		}
	}
	tag, _ := json.Marshal(string(p.Kind()))
	fields["type"] = tag
	return json.Marshal(fields)
}

package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"dctledger/internal/dct"
	"dctledger/internal/ingest"
	"dctledger/internal/sot"
)

const (
	sourceOperator = "operator"
	sourcePortal   = "portal"
)

type CreateIdeaInput struct {
	IdeaID     string       `json:"ideaId"`
	Text       string       `json:"text"`
	IdeaType   dct.IdeaType `json:"ideaType"`
	Status     dct.Status   `json:"status"`
	Confidence *float64     `json:"confidence"`
	Tags       []string     `json:"tags"`
	Anchor     *dct.Anchor  `json:"anchor"`
	NhID       string       `json:"nhId"`
	RepoName   string       `json:"repoName"`
	DomainName string       `json:"domainName"`
}

type BindSlotInput struct {
	Slot       string      `json:"slot"`
	IdeaID     string      `json:"ideaId"`
	Anchor     *dct.Anchor `json:"anchor"`
	NhID       string      `json:"nhId"`
	RepoName   string      `json:"repoName"`
	DomainName string      `json:"domainName"`
}

type ReviseIdeaInput struct {
	IdeaID     string        `json:"ideaId"`
	Text       *string       `json:"text"`
	IdeaType   *dct.IdeaType `json:"ideaType"`
	Confidence *float64      `json:"confidence"`
	Tags       *[]string     `json:"tags"`
	Anchor     *dct.Anchor   `json:"anchor"`
}

type SetIdeaStatusInput struct {
	IdeaID string      `json:"ideaId"`
	Status dct.Status  `json:"status"`
	Anchor *dct.Anchor `json:"anchor"`
}

type AddEdgeInput struct {
	From       string       `json:"from"`
	To         string       `json:"to"`
	Relation   dct.Relation `json:"relation"`
	Confidence *float64     `json:"confidence"`
	Anchor     *dct.Anchor  `json:"anchor"`
}

type AttachProvenanceInput struct {
	IdeaID     string      `json:"ideaId"`
	Anchor     *dct.Anchor `json:"anchor"`
	AddTags    []string    `json:"addTags"`
	RemoveTags []string    `json:"removeTags"`
}

// ProvenanceResult describes the revise event emitted by AttachProvenance.
type ProvenanceResult struct {
	Receipt      ingest.Receipt
	IdeaID       string
	AnchorLegacy bool
	AddTags      int
	RemoveTags   int
	TagsChanged  bool
}

func (s *Service) CreateIdea(ctx context.Context, in CreateIdeaInput) (ingest.Receipt, error) {
	payload := dct.IdeaCreate{
		IdeaID:     strings.TrimSpace(in.IdeaID),
		Text:       strings.TrimSpace(in.Text),
		IdeaType:   in.IdeaType,
		Status:     in.Status,
		Confidence: in.Confidence,
		Anchor:     in.Anchor,
		NhID:       strings.TrimSpace(in.NhID),
	}
	if in.Tags != nil {
		payload.Tags = dct.NormalizeTags(in.Tags)
	}
	return s.emit(ctx, operatorEvent{
		source:     sourceOperator,
		summary:    fmt.Sprintf("Create idea %s", payload.IdeaID),
		nhID:       payload.NhID,
		repoName:   in.RepoName,
		domainName: in.DomainName,
		payload:    payload,
	})
}

func (s *Service) BindSlot(ctx context.Context, in BindSlotInput) (ingest.Receipt, error) {
	payload := dct.SlotBind{
		Slot:   dct.NormalizeSlot(in.Slot),
		IdeaID: strings.TrimSpace(in.IdeaID),
		Anchor: in.Anchor,
	}
	return s.emit(ctx, operatorEvent{
		source:     sourceOperator,
		summary:    fmt.Sprintf("Bind slot %s -> %s", payload.Slot, payload.IdeaID),
		nhID:       strings.TrimSpace(in.NhID),
		repoName:   in.RepoName,
		domainName: in.DomainName,
		payload:    payload,
	})
}

func (s *Service) ReviseIdea(ctx context.Context, in ReviseIdeaInput) (ingest.Receipt, error) {
	ideaID := strings.TrimSpace(in.IdeaID)
	if _, err := s.requireIdeas(ctx, ideaID); err != nil {
		return ingest.Receipt{}, err
	}
	payload := dct.IdeaRevise{
		IdeaID:     ideaID,
		IdeaType:   in.IdeaType,
		Confidence: in.Confidence,
		Anchor:     in.Anchor,
	}
	if in.Text != nil {
		text := strings.TrimSpace(*in.Text)
		payload.Text = &text
	}
	if in.Tags != nil {
		tags := dct.NormalizeTags(*in.Tags)
		payload.Tags = &tags
	}
	return s.emit(ctx, operatorEvent{
		source:  sourcePortal,
		summary: fmt.Sprintf("DCT revise %s", ideaID),
		payload: payload,
	})
}

func (s *Service) SetIdeaStatus(ctx context.Context, in SetIdeaStatusInput) (ingest.Receipt, error) {
	ideaID := strings.TrimSpace(in.IdeaID)
	if _, err := s.requireIdeas(ctx, ideaID); err != nil {
		return ingest.Receipt{}, err
	}
	payload := dct.IdeaStatus{IdeaID: ideaID, Status: in.Status, Anchor: in.Anchor}
	return s.emit(ctx, operatorEvent{
		source:  sourcePortal,
		summary: fmt.Sprintf("DCT status %s -> %s", ideaID, in.Status),
		payload: payload,
	})
}

func (s *Service) AddEdge(ctx context.Context, in AddEdgeInput) (ingest.Receipt, error) {
	from := strings.TrimSpace(in.From)
	to := strings.TrimSpace(in.To)
	if from != "" && from == to {
		return ingest.Receipt{}, invalidEdgeError(from)
	}
	if _, err := s.requireIdeas(ctx, from, to); err != nil {
		return ingest.Receipt{}, err
	}
	payload := dct.IdeaEdge{From: from, To: to, Relation: in.Relation, Confidence: in.Confidence, Anchor: in.Anchor}
	return s.emit(ctx, operatorEvent{
		source:  sourcePortal,
		summary: fmt.Sprintf("DCT edge %s %s %s", from, in.Relation, to),
		payload: payload,
	})
}

// AttachProvenance records a revise that appends anchor to an existing
// idea. Tags are rewritten only when addTags/removeTags change the idea's
// current tag set.
func (s *Service) AttachProvenance(ctx context.Context, in AttachProvenanceInput) (ProvenanceResult, error) {
	ideaID := strings.TrimSpace(in.IdeaID)
	if in.Anchor == nil {
		return ProvenanceResult{}, &dct.PayloadError{Kind: string(dct.KindIdeaRevise), Problems: []string{"/anchor: is required"}}
	}
	p, err := s.requireIdeas(ctx, ideaID)
	if err != nil {
		return ProvenanceResult{}, err
	}

	addTags := dct.NormalizeTags(in.AddTags)
	removeTags := dct.NormalizeTags(in.RemoveTags)
	result := ProvenanceResult{
		IdeaID:       ideaID,
		AnchorLegacy: in.Anchor.IsLegacy(),
		AddTags:      len(addTags),
		RemoveTags:   len(removeTags),
	}

	payload := dct.IdeaRevise{IdeaID: ideaID, Anchor: in.Anchor}
	if len(addTags) > 0 || len(removeTags) > 0 {
		current := dct.NormalizeTags(p.Ideas[ideaID].Tags)
		next := applyTagChanges(current, addTags, removeTags)
		if !slices.Equal(current, next) {
			payload.Tags = &next
			result.TagsChanged = true
		}
	}

	receipt, err := s.emit(ctx, operatorEvent{
		source:  sourcePortal,
		summary: fmt.Sprintf("DCT provenance %s", ideaID),
		payload: payload,
	})
	if err != nil {
		return ProvenanceResult{}, err
	}
	result.Receipt = receipt
	return result, nil
}

// requireIdeas checks that every id exists in the current projection and
// returns that projection.
func (s *Service) requireIdeas(ctx context.Context, ideaIDs ...string) (dct.Projection, error) {
	p, err := s.Projection(ctx, s.cfg.MaxTake)
	if err != nil {
		return dct.Projection{}, err
	}
	var missing []string
	for _, id := range ideaIDs {
		if id == "" {
			continue
		}
		if _, ok := p.Ideas[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return dct.Projection{}, unknownIdeaError(missing, s.cfg.MaxTake)
	}
	return p, nil
}

type operatorEvent struct {
	source     string
	summary    string
	nhID       string
	repoName   string
	domainName string
	payload    dct.Payload
}

func (s *Service) emit(ctx context.Context, ev operatorEvent) (ingest.Receipt, error) {
	raw, err := dct.Encode(ev.payload)
	if err != nil {
		return ingest.Receipt{}, err
	}
	return s.recorder.Record(ctx, sot.Envelope{
		Version:    sot.Version,
		TS:         s.now().UTC().Format(time.RFC3339Nano),
		Source:     ev.source,
		Kind:       string(ev.payload.Kind()),
		Summary:    ev.summary,
		NhID:       ev.nhID,
		Payload:    raw,
		RepoName:   ev.repoName,
		DomainName: ev.domainName,
	})
}

func applyTagChanges(current, add, remove []string) []string {
	set := make(map[string]bool, len(current)+len(add))
	for _, tag := range current {
		set[tag] = true
	}
	for _, tag := range add {
		set[tag] = true
	}
	for _, tag := range remove {
		delete(set, tag)
	}
	next := make([]string, 0, len(set))
	for tag := range set {
		next = append(next, tag)
	}
	return dct.NormalizeTags(next)
}

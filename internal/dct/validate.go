package dct

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PayloadError describes why a dct payload was rejected.
type PayloadError struct {
	Kind     string
	Problems []string
}

func (e *PayloadError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Kind, strings.Join(e.Problems, "; "))
}

func payloadError(kind string, problems ...string) *PayloadError {
	return &PayloadError{Kind: kind, Problems: problems}
}

var errNoTag = errors.New("payload has no type tag")

// PayloadTag returns the payload's structural "type" tag.
func PayloadTag(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("payload is missing")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return "", fmt.Errorf("payload is not a JSON object")
	}
	rawTag, ok := fields["type"]
	if !ok {
		return "", errNoTag
	}
	var tag string
	if err := json.Unmarshal(rawTag, &tag); err != nil {
		return "", fmt.Errorf("payload type tag is not a string")
	}
	return tag, nil
}

// ValidatePayload checks raw against the schema of kind and decodes it into
// the matching Payload variant. A missing "type" tag is accepted; a tag
// naming a different kind is not.
func ValidatePayload(kind string, raw json.RawMessage) (Payload, error) {
	k, ok := CanonicalKind(kind)
	if !ok {
		return Unrecognized{Type: kind, Raw: raw}, payloadError(kind, "unrecognized dct kind")
	}
	if tag, err := PayloadTag(raw); err == nil {
		if tk, ok := CanonicalKind(tag); !ok || tk != k {
			return nil, payloadError(kind, fmt.Sprintf("/type: %q does not match kind", tag))
		}
	} else if !errors.Is(err, errNoTag) {
		return nil, payloadError(kind, err.Error())
	}
	payload, err := decodeKnown(k, raw)
	var perr *PayloadError
	if errors.As(err, &perr) {
		perr.Kind = kind
	}
	if err == nil {
		for _, a := range payload.anchors() {
			if a != nil {
				a.Legacy = false
			}
		}
	}
	return payload, err
}

func decodeKnown(k Kind, raw json.RawMessage) (Payload, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, payloadError(string(k), "payload is not valid JSON")
	}
	if err := schemas[k].Validate(doc); err != nil {
		return nil, payloadError(string(k), schemaProblems(err)...)
	}

	switch k {
	case KindIdeaCreate:
		var p IdeaCreate
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, payloadError(string(k), err.Error())
		}
		p.IdeaID = strings.TrimSpace(p.IdeaID)
		p.NhID = strings.TrimSpace(p.NhID)
		return p, nil
	case KindIdeaRevise:
		var p IdeaRevise
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, payloadError(string(k), err.Error())
		}
		p.IdeaID = strings.TrimSpace(p.IdeaID)
		return p, nil
	case KindIdeaStatus:
		var p IdeaStatus
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, payloadError(string(k), err.Error())
		}
		p.IdeaID = strings.TrimSpace(p.IdeaID)
		return p, nil
	case KindIdeaEdge:
		var p IdeaEdge
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, payloadError(string(k), err.Error())
		}
		p.From = strings.TrimSpace(p.From)
		p.To = strings.TrimSpace(p.To)
		return p, nil
	case KindSlotBind:
		var p SlotBind
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, payloadError(string(k), err.Error())
		}
		p.Slot = NormalizeSlot(p.Slot)
		p.IdeaID = strings.TrimSpace(p.IdeaID)
		if !ValidSlot(p.Slot) {
			return nil, payloadError(string(k), fmt.Sprintf("/slot: %q is not a canonical slot name", p.Slot))
		}
		return p, nil
	}
	return Unrecognized{Type: string(k), Raw: raw}, payloadError(string(k), "unrecognized dct kind")
}

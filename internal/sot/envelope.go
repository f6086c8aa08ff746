// Package sot validates producer-submitted SoT event envelopes.
package sot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Version is the envelope protocol version producers are expected to send.
const Version = "sot-event-0.1"

// Envelope is the wire shape a producer submits.
type Envelope struct {
	Version    string          `json:"version,omitempty"`
	TS         string          `json:"ts"`
	Source     string          `json:"source"`
	Kind       string          `json:"kind"`
	Summary    string          `json:"summary"`
	NhID       string          `json:"nhId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RepoName   string          `json:"repoName,omitempty"`
	RepoID     *int64          `json:"repoId,omitempty"`
	DomainName string          `json:"domainName,omitempty"`
	DomainID   *int64          `json:"domainId,omitempty"`
}

// Normalized is an envelope that passed validation: strings trimmed,
// timestamp parsed, payload "null" folded into absent.
type Normalized struct {
	TS         time.Time
	Source     string
	Kind       string
	Summary    string
	NhID       string
	Payload    json.RawMessage
	RepoName   string
	RepoID     *int64
	DomainName string
	DomainID   *int64
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every envelope field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "invalid envelope"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid envelope: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// ValidateEnvelope checks the required fields of env and returns its
// normalized form. A version other than Version produces a warning, never
// an error.
func ValidateEnvelope(env Envelope) (Normalized, []string, error) {
	var warnings []string
	verr := &ValidationError{}

	version := strings.TrimSpace(env.Version)
	if version != "" && version != Version {
		warnings = append(warnings, fmt.Sprintf("version %q differs from %q", version, Version))
	}

	out := Normalized{
		Source:     strings.TrimSpace(env.Source),
		Kind:       strings.TrimSpace(env.Kind),
		Summary:    strings.TrimSpace(env.Summary),
		NhID:       strings.TrimSpace(env.NhID),
		RepoName:   strings.TrimSpace(env.RepoName),
		RepoID:     env.RepoID,
		DomainName: strings.TrimSpace(env.DomainName),
		DomainID:   env.DomainID,
	}

	rawTS := strings.TrimSpace(env.TS)
	if rawTS == "" {
		verr.add("ts", "is required")
	} else if ts, err := ParseTimestamp(rawTS); err != nil {
		verr.add("ts", err.Error())
	} else {
		out.TS = ts
	}
	if out.Source == "" {
		verr.add("source", "is required")
	}
	if out.Kind == "" {
		verr.add("kind", "is required")
	}
	if out.Summary == "" {
		verr.add("summary", "is required")
	}
	if env.RepoID != nil && *env.RepoID <= 0 {
		verr.add("repoId", "must be a positive integer")
	}
	if env.DomainID != nil && *env.DomainID <= 0 {
		verr.add("domainId", "must be a positive integer")
	}

	if payload := strings.TrimSpace(string(env.Payload)); payload != "" && payload != "null" {
		if !json.Valid(env.Payload) {
			verr.add("payload", "is not valid JSON")
		} else {
			out.Payload = json.RawMessage(payload)
		}
	}

	if len(verr.Fields) > 0 {
		return Normalized{}, warnings, verr
	}
	return out, warnings, nil
}

var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts ISO-8601 instants. Values without a zone are read
// as UTC. The result is truncated to milliseconds, the precision events are
// stored with.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range tsLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC().Truncate(time.Millisecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a valid ISO-8601 timestamp", value)
}

package dct

import (
	"fmt"
	"slices"
)

// ReplayReport compares two folds of the same history.
type ReplayReport struct {
	Events            int     `json:"events"`
	Fingerprint       string  `json:"fingerprint"`
	ReplayFingerprint string  `json:"replayFingerprint"`
	Deterministic     bool    `json:"deterministic"`
	Metrics           Metrics `json:"metrics"`
}

// Replay folds events twice, the second time from the reversed input, and
// reports whether both folds fingerprint identically.
func Replay(events []Event) (ReplayReport, error) {
	first := Apply(events)
	reversed := slices.Clone(events)
	slices.Reverse(reversed)
	second := Apply(reversed)

	a, err := Fingerprint(first)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("fingerprint first fold: %w", err)
	}
	b, err := Fingerprint(second)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("fingerprint replay fold: %w", err)
	}
	return ReplayReport{
		Events:            len(events),
		Fingerprint:       a,
		ReplayFingerprint: b,
		Deterministic:     a == b,
		Metrics:           first.Metrics,
	}, nil
}

package dct

import (
	"fmt"
	"strings"
)

type AnchorType string

const (
	AnchorChat AnchorType = "chat"
	AnchorFile AnchorType = "file"
	AnchorURL  AnchorType = "url"
)

type LineRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Anchor points from an idea to a precise location in another artifact.
// The fields beyond Type are optional in the accepted shape; see Strict.
type Anchor struct {
	Type           AnchorType `json:"type"`
	ChatID         *float64   `json:"chatId,omitempty"`
	ChatExternalID string     `json:"chatExternalId,omitempty"`
	LineNumber     *float64   `json:"lineNumber,omitempty"`
	LineRange      *LineRange `json:"lineRange,omitempty"`
	FilePath       string     `json:"filePath,omitempty"`
	FileLineRange  *LineRange `json:"fileLineRange,omitempty"`
	URL            string     `json:"url,omitempty"`
	URLHash        string     `json:"urlHash,omitempty"`

	// Legacy is set by the engine for anchors that pass the accepted
	// shape but not the strict one. ValidatePayload and Encode drop any
	// value a producer sent.
	Legacy bool `json:"_legacy,omitempty"`
}

// Strict checks the per-type required fields. A nil error means the anchor
// is in the current normalized form.
func (a Anchor) Strict() error {
	switch a.Type {
	case AnchorChat:
		if a.ChatID == nil && strings.TrimSpace(a.ChatExternalID) == "" {
			return fmt.Errorf("chat anchor requires chatId or chatExternalId")
		}
	case AnchorFile:
		if strings.TrimSpace(a.FilePath) == "" {
			return fmt.Errorf("file anchor requires filePath")
		}
		if a.FileLineRange == nil {
			return fmt.Errorf("file anchor requires fileLineRange")
		}
	case AnchorURL:
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("url anchor requires url")
		}
	default:
		return fmt.Errorf("unknown anchor type %q", a.Type)
	}
	return nil
}

// IsLegacy reports whether a is accepted but not strictly normalized.
func (a Anchor) IsLegacy() bool {
	return a.Strict() != nil
}

func (a Anchor) withLegacyFlag() Anchor {
	a.Legacy = a.IsLegacy()
	return a
}

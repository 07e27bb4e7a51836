package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ExperienceDefinition is the registered content describing an experience,
// distinct from interaction events on that experience. Sent marks whether the
// definition has been forwarded to the one-time downstream registration sink.
type ExperienceDefinition struct {
	ID        string   `json:"id"`
	AssetURLs []string `json:"asset_urls"`
	Texts     []string `json:"texts"`
	CTAs      []string `json:"ctas,omitempty"`
	Sent      bool     `json:"sent"`
}

// ComputeExperienceID generates a deterministic, order-independent identifier
// from the experience content. Re-registering the same assets and texts in a
// different order yields the same identifier.
// Uses SHA-256 over the sorted content fields.
func ComputeExperienceID(assetURLs, texts, ctas []string) string {
	h := sha256.New()
	for _, section := range [][]string{assetURLs, texts, ctas} {
		sorted := make([]string, len(section))
		copy(sorted, section)
		sort.Strings(sorted)
		h.Write([]byte(strings.Join(sorted, "\x1f")))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewExperienceDefinition builds a definition with its content-derived ID.
func NewExperienceDefinition(assetURLs, texts, ctas []string) *ExperienceDefinition {
	return &ExperienceDefinition{
		ID:        ComputeExperienceID(assetURLs, texts, ctas),
		AssetURLs: assetURLs,
		Texts:     texts,
		CTAs:      ctas,
	}
}

// Clone returns a deep copy so cached definitions can be handed to callers
// without sharing mutable slices.
func (d *ExperienceDefinition) Clone() *ExperienceDefinition {
	if d == nil {
		return nil
	}
	out := &ExperienceDefinition{
		ID:   d.ID,
		Sent: d.Sent,
	}
	if d.AssetURLs != nil {
		out.AssetURLs = append([]string(nil), d.AssetURLs...)
	}
	if d.Texts != nil {
		out.Texts = append([]string(nil), d.Texts...)
	}
	if d.CTAs != nil {
		out.CTAs = append([]string(nil), d.CTAs...)
	}
	return out
}

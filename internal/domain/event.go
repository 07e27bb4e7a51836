package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Category identifies which logical event log an event belongs to.
type Category string

const (
	CategoryAsset      Category = "asset"
	CategoryExperience Category = "experience"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryAsset, CategoryExperience}
}

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	return c == CategoryAsset || c == CategoryExperience
}

// InteractionKind is the kind of interaction an event records.
type InteractionKind string

const (
	KindView       InteractionKind = "view"
	KindClick      InteractionKind = "click"
	KindDefinition InteractionKind = "definition"
)

// Valid reports whether the kind is one of the known values.
func (k InteractionKind) Valid() bool {
	return k == KindView || k == KindClick || k == KindDefinition
}

// AuxValue is a single auxiliary-data value. Only string, float64 and bool
// are accepted; conversion happens once at the boundary via NewAuxData.
type AuxValue any

// NewAuxData converts a caller-supplied map into typed auxiliary data.
// Integer values arriving from JSON decode as float64 and are kept as such.
func NewAuxData(in map[string]any) (map[string]AuxValue, error) {
	if len(in) == 0 {
		return nil, nil
	}

	out := make(map[string]AuxValue, len(in))
	for k, v := range in {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case bool:
			out[k] = tv
		case float64:
			out[k] = tv
		case int:
			out[k] = float64(tv)
		case int64:
			out[k] = float64(tv)
		default:
			return nil, fmt.Errorf("auxiliary value %q has unsupported type %T", k, v)
		}
	}
	return out, nil
}

// NormalizeAuxValue renders an auxiliary value as its canonical string form.
// Values whose normalized forms match are considered equal during merging.
func NormalizeAuxValue(v AuxValue) string {
	switch tv := v.(type) {
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", tv)
	}
}

// RawEvent is a single interaction record. Once accepted by the engine it is
// owned jointly by the in-memory accumulator and the durable event log until
// its batch has been handed downstream.
type RawEvent struct {
	ID           string              `json:"id"`
	Category     Category            `json:"category"`
	Kind         InteractionKind     `json:"kind"`
	Key          string              `json:"key"`
	ExperienceID string              `json:"experience_id,omitempty"`
	Timestamp    int64               `json:"timestamp"`
	Aux          map[string]AuxValue `json:"aux,omitempty"`
}

// AssetKey derives the grouping key for an asset interaction.
func AssetKey(url, location string) string {
	return url + "|" + location
}

// ExperienceKey derives the grouping key for an experience interaction.
func ExperienceKey(experienceID, location string) string {
	return experienceID + "|" + location
}

// NewAssetEvent builds an asset-category raw event.
func NewAssetEvent(kind InteractionKind, url, location string, aux map[string]AuxValue) *RawEvent {
	return &RawEvent{
		Category:  CategoryAsset,
		Kind:      kind,
		Key:       AssetKey(url, location),
		Timestamp: time.Now().Unix(),
		Aux:       aux,
	}
}

// NewExperienceEvent builds an experience-category raw event.
func NewExperienceEvent(kind InteractionKind, experienceID, location string, aux map[string]AuxValue) *RawEvent {
	return &RawEvent{
		Category:     CategoryExperience,
		Kind:         kind,
		Key:          ExperienceKey(experienceID, location),
		ExperienceID: experienceID,
		Timestamp:    time.Now().Unix(),
		Aux:          aux,
	}
}

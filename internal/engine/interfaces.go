package engine

import (
	"context"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/batcher"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
)

// CategoryStatus is a read-only snapshot of one category's accumulator.
type CategoryStatus struct {
	Buffered      int    `json:"buffered"`
	InvalidEvents int64  `json:"invalid_events"`
	State         string `json:"state"`
}

// Status is a read-only snapshot of the engine.
type Status struct {
	Categories        map[domain.Category]CategoryStatus `json:"categories"`
	CachedDefinitions int                                `json:"cached_definitions"`
}

// Telemetry defines the engine operations exposed to collaborators.
type Telemetry interface {
	// Track accepts an interaction event. It returns an error when the
	// event is malformed or when durable storage rejected it; in both
	// cases the event was not accepted.
	Track(ctx context.Context, event *domain.RawEvent) error

	// FlushAll forces a synchronous flush of every category.
	FlushAll(ctx context.Context) error

	// UpdateBatchConfig applies a live batching configuration change.
	UpdateBatchConfig(cfg batcher.Config)

	// Status returns buffered counts and validation counters.
	Status() Status

	// RegisterExperience stores experience content and returns its
	// content-derived identifier. Re-registration under the same content
	// updates in place and keeps the identifier.
	RegisterExperience(assetURLs, texts, ctas []string) (string, error)

	// Experience looks up a registered definition without affecting the
	// cache's recency order beyond a normal read.
	Experience(id string) (*domain.ExperienceDefinition, bool)

	// HasExperienceBeenSent reports whether the definition was forwarded
	// downstream at least once.
	HasExperienceBeenSent(id string) bool
}

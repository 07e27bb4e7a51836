package dto

import (
	"time"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/batcher"
)

// TrackAssetEventRequest represents an asset interaction tracking request
type TrackAssetEventRequest struct {
	Kind     string         `json:"kind" binding:"required,oneof=view click" example:"view"`
	URL      string         `json:"url" binding:"required" example:"https://cdn.example.com/banner.png"`
	Location string         `json:"location" binding:"required" example:"home_feed"`
	Aux      map[string]any `json:"aux" example:"campaign:summer"`
}

// TrackExperienceEventRequest represents an experience interaction tracking request
type TrackExperienceEventRequest struct {
	Kind         string         `json:"kind" binding:"required,oneof=view click definition" example:"click"`
	ExperienceID string         `json:"experience_id" binding:"required" example:"9f2c4d..."`
	Location     string         `json:"location" binding:"required" example:"inbox"`
	Aux          map[string]any `json:"aux"`
}

// TrackEventsBulkRequest represents a bulk tracking request
type TrackEventsBulkRequest struct {
	Assets      []TrackAssetEventRequest      `json:"assets" binding:"omitempty,max=1000,dive"`
	Experiences []TrackExperienceEventRequest `json:"experiences" binding:"omitempty,max=1000,dive"`
}

// RegisterExperienceRequest represents an experience registration request
type RegisterExperienceRequest struct {
	AssetURLs []string `json:"asset_urls" binding:"omitempty,max=100"`
	Texts     []string `json:"texts" binding:"omitempty,max=100"`
	CTAs      []string `json:"ctas" binding:"omitempty,max=100"`
}

// UpdateBatchConfigRequest represents a live batching configuration update
type UpdateBatchConfigRequest struct {
	BatchingEnabled bool `json:"batching_enabled"`
	MaxBatchSize    int  `json:"max_batch_size" binding:"required,min=1,max=100" example:"10"`
	FlushIntervalMs int  `json:"flush_interval_ms" binding:"omitempty,min=100" example:"30000"`
	MaxWaitTimeMs   int  `json:"max_wait_time_ms" binding:"omitempty,min=0" example:"0"`
}

// ToBatchConfig converts the request into a normalized batcher config.
func (r UpdateBatchConfigRequest) ToBatchConfig() batcher.Config {
	return batcher.Config{
		Enabled:       r.BatchingEnabled,
		MaxBatchSize:  r.MaxBatchSize,
		FlushInterval: time.Duration(r.FlushIntervalMs) * time.Millisecond,
		MaxWaitTime:   time.Duration(r.MaxWaitTimeMs) * time.Millisecond,
	}.Normalize()
}

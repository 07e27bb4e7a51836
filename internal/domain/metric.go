package domain

// AggregatedMetric is the per-key aggregation result for one flush cycle.
// It is always recomputed from the cycle's raw events and never persisted.
//
// Aux holds the merged auxiliary data: a scalar AuxValue when every
// contributing event agreed on the key, or a []AuxValue listing all distinct
// values observed when they did not.
type AggregatedMetric struct {
	Key              string              `json:"key"`
	Category         Category            `json:"category"`
	ViewCount        int                 `json:"view_count"`
	ClickCount       int                 `json:"click_count"`
	TriggerKind      InteractionKind     `json:"trigger_kind"`
	Aux              map[string]AuxValue `json:"aux,omitempty"`
	ConflictKeys     []string            `json:"conflict_keys,omitempty"`
	ExperienceID     string              `json:"experience_id,omitempty"`
	AttributedAssets []string            `json:"attributed_assets,omitempty"`
}

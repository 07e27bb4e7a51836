// Package aggregate turns a flushed batch of raw events into per-key
// aggregated metrics.
package aggregate

import (
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/defcache"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
)

// Result is the outcome of aggregating one flushed batch. Metrics are ordered
// by first appearance of their grouping key. Invalid counts events excluded
// for a missing grouping key or unrecognized kind; it is informational and
// never aborts the batch.
type Result struct {
	Category domain.Category
	Metrics  []*domain.AggregatedMetric
	Invalid  int
}

// TotalInteractions sums view and click counts across all metrics.
func (r *Result) TotalInteractions() int {
	total := 0
	for _, m := range r.Metrics {
		total += m.ViewCount + m.ClickCount
	}
	return total
}

// Aggregator groups raw events by key, counts interactions, merges auxiliary
// data and attributes experience events to their cached definitions.
type Aggregator struct {
	cache *defcache.Cache
	log   *zap.Logger
}

// New creates an aggregator. The cache may be shared with the registration
// API; it is only read and marked here, never populated.
func New(cache *defcache.Cache, log *zap.Logger) *Aggregator {
	return &Aggregator{cache: cache, log: log}
}

// auxState tracks the merge state of one auxiliary key within a partition.
type auxState struct {
	values []domain.AuxValue
	seen   map[string]struct{}
}

// Aggregate computes the metrics for one flushed batch. The input order is
// the original insertion order; it determines both metric ordering and each
// partition's triggering interaction kind.
func (a *Aggregator) Aggregate(category domain.Category, events []*domain.RawEvent) *Result {
	result := &Result{Category: category}

	metrics := make(map[string]*domain.AggregatedMetric)
	aux := make(map[string]map[string]*auxState)

	for _, event := range events {
		if event.Key == "" || !event.Kind.Valid() {
			result.Invalid++
			a.log.Warn("Excluding malformed event from aggregation",
				zap.String("event_id", event.ID),
				zap.String("category", string(category)),
				zap.String("kind", string(event.Kind)))
			continue
		}

		metric, ok := metrics[event.Key]
		if !ok {
			metric = &domain.AggregatedMetric{
				Key:          event.Key,
				Category:     category,
				ExperienceID: event.ExperienceID,
			}
			metrics[event.Key] = metric
			aux[event.Key] = make(map[string]*auxState)
			result.Metrics = append(result.Metrics, metric)
		}

		switch event.Kind {
		case domain.KindView:
			metric.ViewCount++
		case domain.KindClick:
			metric.ClickCount++
		case domain.KindDefinition:
			// Definition events carry no interaction; they only drive
			// attribution below.
		}

		// The partition's trigger kind is the kind of its first
		// interaction event in original order.
		if metric.TriggerKind == "" && event.Kind != domain.KindDefinition {
			metric.TriggerKind = event.Kind
		}

		mergeAux(aux[event.Key], event.Aux)
	}

	for _, metric := range result.Metrics {
		if metric.TriggerKind == "" {
			// No interaction event contributed; default to click.
			metric.TriggerKind = domain.KindClick
		}
		metric.Aux, metric.ConflictKeys = finishAux(aux[metric.Key])

		if category == domain.CategoryExperience && metric.ExperienceID != "" {
			a.attribute(metric)
		}
	}

	return result
}

// attribute attaches the definition's asset URLs to an experience metric and
// marks the definition sent on first successful attachment.
func (a *Aggregator) attribute(metric *domain.AggregatedMetric) {
	def, ok := a.cache.Get(metric.ExperienceID)
	if !ok {
		// Never registered or evicted: attribution degrades to none.
		return
	}

	metric.AttributedAssets = def.AssetURLs
	a.cache.MarkAsSent(metric.ExperienceID)
}

// mergeAux folds one event's auxiliary data into the partition state,
// keeping every distinct value per key in first-observed order.
func mergeAux(state map[string]*auxState, eventAux map[string]domain.AuxValue) {
	for k, v := range eventAux {
		norm := domain.NormalizeAuxValue(v)
		s, ok := state[k]
		if !ok {
			state[k] = &auxState{
				values: []domain.AuxValue{v},
				seen:   map[string]struct{}{norm: {}},
			}
			continue
		}
		if _, dup := s.seen[norm]; dup {
			continue
		}
		s.seen[norm] = struct{}{}
		s.values = append(s.values, v)
	}
}

// finishAux renders the merge state: a scalar where all events agreed, a list
// of the distinct values where they conflicted.
func finishAux(state map[string]*auxState) (map[string]domain.AuxValue, []string) {
	if len(state) == 0 {
		return nil, nil
	}

	out := make(map[string]domain.AuxValue, len(state))
	var conflicts []string
	for k, s := range state {
		if len(s.values) == 1 {
			out[k] = s.values[0]
			continue
		}
		out[k] = s.values
		conflicts = append(conflicts, k)
	}
	return out, conflicts
}

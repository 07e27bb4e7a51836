// Package engine assembles the durable event log, the per-category batch
// accumulators, the aggregator and the definition cache into one explicitly
// constructed instance owned by the host integration layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/aggregate"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/batcher"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/defcache"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/dispatch"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/eventlog"
)

// ErrValidation marks an event rejected before it reached the accumulator.
var ErrValidation = errors.New("invalid event")

// Engine is the telemetry aggregation engine. Construct with New, release
// with Close; there is no process-wide shared instance.
type Engine struct {
	log        *zap.Logger
	store      eventlog.Log
	cache      *defcache.Cache
	dispatcher dispatch.Dispatcher
	accs       map[domain.Category]*batcher.Accumulator
	invalid    map[domain.Category]*atomic.Int64
}

// Options configures engine construction.
type Options struct {
	BatchConfig   batcher.Config
	CacheCapacity int
}

// New builds and starts an engine. Unreleased entries in the event log are
// recovered into each accumulator before its flush timer starts, so a crash
// mid-cycle resumes with the prior buffered state.
func New(store eventlog.Log, dispatcher dispatch.Dispatcher, opts Options, log *zap.Logger) (*Engine, error) {
	cache, err := defcache.New(opts.CacheCapacity, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:        log,
		store:      store,
		cache:      cache,
		dispatcher: dispatcher,
		accs:       make(map[domain.Category]*batcher.Accumulator),
		invalid:    make(map[domain.Category]*atomic.Int64),
	}

	aggregator := aggregate.New(cache, log)
	sink := &pipeline{engine: e, aggregator: aggregator}

	ctx := context.Background()
	for _, category := range domain.Categories() {
		e.invalid[category] = &atomic.Int64{}

		recovered, err := store.Recover(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("failed to recover category %s: %w", category, err)
		}
		if len(recovered) > 0 {
			log.Info("Recovered unflushed events from durable log",
				zap.String("category", string(category)),
				zap.Int("event_count", len(recovered)))
		}

		acc := batcher.New(category, store, sink, opts.BatchConfig, log)
		acc.Load(recovered)
		e.accs[category] = acc
	}

	// Accumulators start only after every category recovered, so one
	// category's flush cannot race another's recovery.
	for _, acc := range e.accs {
		acc.Start()
	}

	return e, nil
}

// Track validates and accepts an interaction event. A storage failure is
// returned to the caller and the event is not counted toward any threshold.
func (e *Engine) Track(ctx context.Context, event *domain.RawEvent) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if !event.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, event.Category)
	}
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: unknown interaction kind %q", ErrValidation, event.Kind)
	}
	if event.Key == "" {
		return fmt.Errorf("%w: empty grouping key", ErrValidation)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	return e.accs[event.Category].Add(ctx, event)
}

// FlushAll synchronously flushes every category. The first error is
// returned; remaining categories are still flushed.
func (e *Engine) FlushAll(ctx context.Context) error {
	var firstErr error
	for _, category := range domain.Categories() {
		if err := e.accs[category].FlushNow(ctx); err != nil {
			e.log.Error("Flush failed",
				zap.String("category", string(category)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// UpdateBatchConfig applies a live configuration change to every category.
func (e *Engine) UpdateBatchConfig(cfg batcher.Config) {
	for _, acc := range e.accs {
		acc.UpdateConfig(cfg)
	}
}

// Status returns a read-only snapshot of buffered counts, validation
// counters and cycle states.
func (e *Engine) Status() Status {
	status := Status{
		Categories:        make(map[domain.Category]CategoryStatus, len(e.accs)),
		CachedDefinitions: e.cache.Count(),
	}
	for category, acc := range e.accs {
		status.Categories[category] = CategoryStatus{
			Buffered:      acc.Len(),
			InvalidEvents: e.invalid[category].Load(),
			State:         acc.CurrentState().String(),
		}
	}
	return status
}

// RegisterExperience stores experience content in the definition cache and
// returns the content-derived identifier.
func (e *Engine) RegisterExperience(assetURLs, texts, ctas []string) (string, error) {
	if len(assetURLs) == 0 && len(texts) == 0 {
		return "", fmt.Errorf("%w: experience needs at least one asset or text", ErrValidation)
	}

	def := domain.NewExperienceDefinition(assetURLs, texts, ctas)
	e.cache.Store(def)

	e.log.Info("Registered experience definition",
		zap.String("experience_id", def.ID),
		zap.Int("asset_count", len(def.AssetURLs)))

	return def.ID, nil
}

// Experience looks up a registered definition by identifier.
func (e *Engine) Experience(id string) (*domain.ExperienceDefinition, bool) {
	return e.cache.Get(id)
}

// HasExperienceBeenSent reports whether the definition has been attributed
// and forwarded downstream at least once.
func (e *Engine) HasExperienceBeenSent(id string) bool {
	return e.cache.HasBeenSent(id)
}

// DefinitionCache exposes the cache shared with registration collaborators.
func (e *Engine) DefinitionCache() *defcache.Cache {
	return e.cache
}

// Close flushes all categories, stops the flush workers and closes the
// durable log. Buffered events that could not be flushed stay persisted and
// are recovered on the next start.
func (e *Engine) Close(ctx context.Context) error {
	flushErr := e.FlushAll(ctx)

	for _, acc := range e.accs {
		acc.Stop()
	}

	if err := e.store.Close(); err != nil {
		e.log.Error("Failed to close event log", zap.Error(err))
		if flushErr == nil {
			flushErr = err
		}
	}
	return flushErr
}

// pipeline adapts aggregation plus dispatch into the accumulator's sink.
type pipeline struct {
	engine     *Engine
	aggregator *aggregate.Aggregator
}

func (p *pipeline) HandleBatch(ctx context.Context, category domain.Category, events []*domain.RawEvent) error {
	result := p.aggregator.Aggregate(category, events)

	if result.Invalid > 0 {
		p.engine.invalid[category].Add(int64(result.Invalid))
	}
	if len(result.Metrics) == 0 {
		return nil
	}

	return p.engine.dispatcher.Dispatch(ctx, result)
}

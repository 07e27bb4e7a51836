// Package clickhouse implements the dispatch collaborator on ClickHouse:
// each flushed batch becomes one row per aggregated metric. Duplicate
// deliveries of a re-flushed batch collapse via ReplacingMergeTree on the
// (key, flush) identity.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/aggregate"
)

// Writer implements dispatch.Dispatcher for ClickHouse
type Writer struct {
	client *Client
	log    *zap.Logger
}

// NewWriter creates a new ClickHouse metrics writer
func NewWriter(client *Client, log *zap.Logger) *Writer {
	return &Writer{
		client: client,
		log:    log,
	}
}

// InitSchema initializes the metrics table with ReplacingMergeTree engine
func (w *Writer) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS aggregated_metrics (
		metric_key String,
		category LowCardinality(String),
		view_count UInt32,
		click_count UInt32,
		trigger_kind LowCardinality(String),
		aux String,
		conflict_keys Array(String),
		experience_id String,
		attributed_assets Array(String),
		flushed_at DateTime64(3) DEFAULT now64(3),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PRIMARY KEY (metric_key)
	ORDER BY (metric_key, flushed_at)
	PARTITION BY toYYYYMM(flushed_at)
	SETTINGS index_granularity = 8192
	`

	if err := w.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create aggregated_metrics table: %w", err)
	}

	w.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// Dispatch inserts the batch's aggregated metrics as one prepared batch
func (w *Writer) Dispatch(ctx context.Context, result *aggregate.Result) error {
	if len(result.Metrics) == 0 {
		return nil
	}

	batch, err := w.client.Conn().PrepareBatch(ctx, "INSERT INTO aggregated_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	version := uint64(time.Now().UnixNano())
	flushedAt := time.Now()

	for _, metric := range result.Metrics {
		auxJSON := "{}"
		if len(metric.Aux) > 0 {
			data, err := json.Marshal(metric.Aux)
			if err != nil {
				// One unserializable aux map must not sink the batch.
				w.log.Warn("Failed to marshal auxiliary data",
					zap.String("metric_key", metric.Key),
					zap.Error(err))
			} else {
				auxJSON = string(data)
			}
		}

		err = batch.Append(
			metric.Key,
			string(metric.Category),
			uint32(metric.ViewCount),
			uint32(metric.ClickCount),
			string(metric.TriggerKind),
			auxJSON,
			metric.ConflictKeys,
			metric.ExperienceID,
			metric.AttributedAssets,
			flushedAt,
			version,
		)
		if err != nil {
			return fmt.Errorf("failed to append metric %s to batch: %w", metric.Key, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send metrics batch: %w", err)
	}

	w.log.Info("Dispatched aggregated metrics to ClickHouse",
		zap.String("category", string(result.Category)),
		zap.Int("metric_count", len(result.Metrics)),
		zap.Int("invalid_events", result.Invalid))

	return nil
}

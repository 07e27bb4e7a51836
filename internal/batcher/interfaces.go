package batcher

import (
	"context"
	"errors"
	"time"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
)

// ErrDispatch wraps a failed downstream handoff. The batch stays buffered and
// persisted and is retried on the next flush cycle.
var ErrDispatch = errors.New("batch handoff failed")

// Sink receives a flushed batch. The accumulator releases the batch's durable
// entries only after HandleBatch returns nil; an error leaves every entry
// persisted for retry, so implementations must tolerate duplicate batches.
type Sink interface {
	HandleBatch(ctx context.Context, category domain.Category, events []*domain.RawEvent) error
}

// Config holds the live batching settings. Updates apply through
// Accumulator.UpdateConfig.
type Config struct {
	// Enabled turns batching on. When false every accepted event is
	// flushed immediately.
	Enabled bool

	// MaxBatchSize is the count threshold that triggers a flush (1-100).
	MaxBatchSize int

	// FlushInterval is the periodic timer between flush evaluations.
	FlushInterval time.Duration

	// MaxWaitTime caps the age of the oldest buffered event; exceeding it
	// on the add path forces a flush. Zero disables the cap.
	MaxWaitTime time.Duration
}

const (
	MinBatchSize         = 1
	MaxBatchSizeLimit    = 100
	DefaultBatchSize     = 10
	DefaultFlushInterval = 30 * time.Second
)

// Normalize clamps the config into its valid range.
func (c Config) Normalize() Config {
	if c.MaxBatchSize < MinBatchSize {
		c.MaxBatchSize = DefaultBatchSize
	}
	if c.MaxBatchSize > MaxBatchSizeLimit {
		c.MaxBatchSize = MaxBatchSizeLimit
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxWaitTime < 0 {
		c.MaxWaitTime = 0
	}
	return c
}

// State is the accumulator's flush cycle state.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

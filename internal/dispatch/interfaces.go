package dispatch

import (
	"context"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/aggregate"
)

// Dispatcher is the downstream delivery collaborator. A nil return is the
// acknowledgment that lets the engine release the batch's durable entries;
// implementations must therefore tolerate duplicate deliveries, since an
// unacknowledged batch is re-flushed.
type Dispatcher interface {
	Dispatch(ctx context.Context, result *aggregate.Result) error
}

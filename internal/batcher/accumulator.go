// Package batcher maintains the per-category working set of not-yet-flushed
// events and decides when a batch must be handed downstream.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/eventlog"
)

// Accumulator buffers events for one category, writing through to the durable
// event log, and flushes on count threshold, timer, or explicit request.
//
// The add path serializes append-then-count under one mutex per category.
// Flush cycles run on a separate worker goroutine serialized by flushMu, so a
// slow handoff never blocks ingestion. The add that crosses the threshold
// cuts the batch synchronously; events arriving while that batch is in flight
// accumulate into a fresh buffer for the next cycle.
type Accumulator struct {
	category domain.Category
	store    eventlog.Log
	sink     Sink
	log      *zap.Logger

	mu             sync.Mutex
	cfg            Config
	buf            []eventlog.Entry
	ready          [][]eventlog.Entry
	state          State
	oldestAdd      time.Time
	pendingRelease []eventlog.Handle

	// flushMu serializes flush cycles across the worker and FlushNow;
	// at most one aggregation/handoff runs at a time.
	flushMu sync.Mutex

	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// New creates an accumulator. Call Load with recovered entries before Start.
func New(category domain.Category, store eventlog.Log, sink Sink, cfg Config, log *zap.Logger) *Accumulator {
	return &Accumulator{
		category: category,
		store:    store,
		sink:     sink,
		cfg:      cfg.Normalize(),
		log:      log,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Load seeds the buffer with entries recovered from the durable log. It must
// be called before Start so a crash mid-cycle resumes with the prior state
// reconstructed before any timer runs.
func (a *Accumulator) Load(entries []eventlog.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, entries...)
	if len(a.buf) > 0 {
		a.state = StateAccumulating
		a.oldestAdd = time.Now()
	}
}

// Start launches the flush worker. A recovered buffer already past the
// threshold is cut immediately.
func (a *Accumulator) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true

	var batch []eventlog.Entry
	if len(a.buf) > 0 && a.shouldFlushLocked(time.Now()) {
		batch = a.cutLocked()
	}
	a.mu.Unlock()

	if batch != nil {
		a.enqueue(batch)
	}

	go a.run()
}

// Stop halts the flush worker. It does not flush; callers wanting a final
// flush call FlushNow first.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	close(a.stop)
	<-a.done
}

// Add appends the event to the durable log and, on success, makes it visible
// to threshold counting. A storage failure means the event was not accepted.
// Crossing the threshold cuts the current buffer synchronously.
func (a *Accumulator) Add(ctx context.Context, event *domain.RawEvent) error {
	a.mu.Lock()

	handle, err := a.store.Append(ctx, event)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to accept event %s: %w", event.ID, err)
	}

	now := time.Now()
	if len(a.buf) == 0 {
		a.oldestAdd = now
	}
	a.buf = append(a.buf, eventlog.Entry{Handle: handle, Event: event})
	if a.state == StateIdle {
		a.state = StateAccumulating
	}

	var batch []eventlog.Entry
	if a.shouldFlushLocked(now) {
		batch = a.cutLocked()
	}
	a.mu.Unlock()

	if batch != nil {
		a.enqueue(batch)
	}
	return nil
}

// FlushNow forces an immediate flush of everything buffered, synchronously.
// It is a no-op when nothing is buffered. Used for shutdown, backgrounding
// and configuration changes.
func (a *Accumulator) FlushNow(ctx context.Context) error {
	a.mu.Lock()
	if len(a.buf) > 0 {
		a.ready = append(a.ready, a.cutLocked())
	}
	batches := a.ready
	a.ready = nil
	a.mu.Unlock()

	return a.processBatches(ctx, batches)
}

// UpdateConfig applies a live configuration change. A threshold smaller than
// the current buffered count (or disabling batching) triggers an immediate
// flush; a larger threshold affects subsequent cycles only.
func (a *Accumulator) UpdateConfig(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg.Normalize()

	var batch []eventlog.Entry
	if len(a.buf) > 0 && (!a.cfg.Enabled || len(a.buf) >= a.cfg.MaxBatchSize) {
		batch = a.cutLocked()
	}
	a.mu.Unlock()

	if batch != nil {
		a.log.Info("Configuration change triggered flush",
			zap.String("category", string(a.category)),
			zap.Int("batch_size", len(batch)))
		a.enqueue(batch)
	}
}

// Len returns the buffered (not yet cut) event count. It never blocks the
// add path beyond the shared mutex.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// CurrentState returns the current flush cycle state.
func (a *Accumulator) CurrentState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// shouldFlushLocked evaluates the flush conditions. Callers hold mu.
func (a *Accumulator) shouldFlushLocked(now time.Time) bool {
	if len(a.buf) == 0 {
		return false
	}
	if !a.cfg.Enabled {
		return true
	}
	if len(a.buf) >= a.cfg.MaxBatchSize {
		return true
	}
	if a.cfg.MaxWaitTime > 0 && now.Sub(a.oldestAdd) >= a.cfg.MaxWaitTime {
		return true
	}
	return false
}

// cutLocked atomically swaps the buffer out. Callers hold mu.
func (a *Accumulator) cutLocked() []eventlog.Entry {
	batch := a.buf
	a.buf = nil
	a.state = StateFlushing
	return batch
}

// enqueue hands a cut batch to the worker without ever blocking the caller.
func (a *Accumulator) enqueue(batch []eventlog.Entry) {
	a.mu.Lock()
	a.ready = append(a.ready, batch)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// run is the flush worker loop. The timer is single-shot and rearmed only
// after the current evaluation completes, so timer firings never overlap.
func (a *Accumulator) run() {
	defer close(a.done)

	ctx := context.Background()
	timer := time.NewTimer(a.interval())
	defer timer.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-a.notify:
			a.drain(ctx)
		case <-timer.C:
			if err := a.FlushNow(ctx); err != nil {
				a.log.Error("Timer flush failed; batch kept for retry",
					zap.String("category", string(a.category)),
					zap.Error(err))
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.interval())
	}
}

// drain processes every batch queued for flushing.
func (a *Accumulator) drain(ctx context.Context) {
	a.mu.Lock()
	batches := a.ready
	a.ready = nil
	a.mu.Unlock()

	if err := a.processBatches(ctx, batches); err != nil {
		a.log.Error("Flush failed; batch kept for retry",
			zap.String("category", string(a.category)),
			zap.Error(err))
	}
}

// processBatches flushes batches in order. On the first failure the failed
// batch and every remaining one return to the front of the buffer, preserving
// original order, so no partial state is lost and a retry is always safe.
func (a *Accumulator) processBatches(ctx context.Context, batches [][]eventlog.Entry) error {
	for i, batch := range batches {
		if err := a.flushBatch(ctx, batch); err != nil {
			a.requeue(batches[i:])
			return err
		}
	}

	a.settleState()
	return nil
}

// flushBatch runs one flush cycle: retry outstanding releases, hand the batch
// to the sink, then release its durable entries.
func (a *Accumulator) flushBatch(ctx context.Context, batch []eventlog.Entry) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.retryReleases(ctx)

	events := make([]*domain.RawEvent, len(batch))
	for i, entry := range batch {
		events[i] = entry.Event
	}

	a.log.Debug("Flushing batch",
		zap.String("category", string(a.category)),
		zap.Int("event_count", len(events)))

	if err := a.sink.HandleBatch(ctx, a.category, events); err != nil {
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	// Handoff acknowledged: only now may durable entries be removed. A
	// failed release risks a duplicate replay, never data loss, so it is
	// retried on the next cycle instead of failing the flush.
	for _, entry := range batch {
		if err := a.store.Release(ctx, entry.Handle); err != nil {
			a.log.Warn("Failed to release event log entry; will retry",
				zap.String("category", string(a.category)),
				zap.Uint64("seq", entry.Handle.Seq),
				zap.Error(err))
			a.mu.Lock()
			a.pendingRelease = append(a.pendingRelease, entry.Handle)
			a.mu.Unlock()
		}
	}

	return nil
}

// retryReleases re-attempts releases that failed in earlier cycles.
func (a *Accumulator) retryReleases(ctx context.Context) {
	a.mu.Lock()
	pending := a.pendingRelease
	a.pendingRelease = nil
	a.mu.Unlock()

	for _, handle := range pending {
		if err := a.store.Release(ctx, handle); err != nil {
			a.mu.Lock()
			a.pendingRelease = append(a.pendingRelease, handle)
			a.mu.Unlock()
		}
	}
}

// requeue returns unflushed batches to the front of the buffer in order.
func (a *Accumulator) requeue(batches [][]eventlog.Entry) {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	a.mu.Lock()
	restored := make([]eventlog.Entry, 0, total+len(a.buf))
	for _, b := range batches {
		restored = append(restored, b...)
	}
	if len(a.buf) == 0 {
		a.oldestAdd = time.Now()
	}
	a.buf = append(restored, a.buf...)
	a.state = StateAccumulating
	a.mu.Unlock()
}

// settleState moves the state machine out of Flushing once no batch remains
// queued.
func (a *Accumulator) settleState() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.ready) > 0 {
		return
	}
	if len(a.buf) > 0 {
		a.state = StateAccumulating
	} else {
		a.state = StateIdle
	}
}

func (a *Accumulator) interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.FlushInterval
}

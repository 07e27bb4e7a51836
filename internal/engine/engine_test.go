package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/aggregate"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/batcher"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/eventlog/badgerlog"
)

// captureDispatcher records dispatched results; err (when set) simulates an
// unreachable downstream.
type captureDispatcher struct {
	mu      sync.Mutex
	results []*aggregate.Result
	err     error
}

func (d *captureDispatcher) Dispatch(_ context.Context, result *aggregate.Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.results = append(d.results, result)
	return nil
}

func (d *captureDispatcher) dispatched() []*aggregate.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*aggregate.Result(nil), d.results...)
}

func (d *captureDispatcher) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func testOptions() Options {
	return Options{
		BatchConfig: batcher.Config{
			Enabled:       true,
			MaxBatchSize:  10,
			FlushInterval: time.Minute,
		},
	}
}

func newTestEngine(t *testing.T, dir string, dispatcher *captureDispatcher) *Engine {
	t.Helper()

	store, err := badgerlog.Open(dir, zap.NewNop())
	require.NoError(t, err)

	eng, err := New(store, dispatcher, testOptions(), zap.NewNop())
	require.NoError(t, err)
	return eng
}

func TestEngine_TrackAndFlush(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))
	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))
	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindClick, "a.png", "home", nil)))

	require.NoError(t, eng.FlushAll(ctx))

	results := dispatcher.dispatched()
	require.Len(t, results, 1)
	require.Len(t, results[0].Metrics, 1)
	assert.Equal(t, domain.CategoryAsset, results[0].Category)
	assert.Equal(t, 2, results[0].Metrics[0].ViewCount)
	assert.Equal(t, 1, results[0].Metrics[0].ClickCount)
}

func TestEngine_TrackAssignsIDAndTimestamp(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	event := &domain.RawEvent{
		Category: domain.CategoryAsset,
		Kind:     domain.KindView,
		Key:      "a.png|home",
	}
	require.NoError(t, eng.Track(ctx, event))

	assert.NotEmpty(t, event.ID)
	assert.NotZero(t, event.Timestamp)
}

func TestEngine_TrackRejectsMalformedEvents(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	cases := []struct {
		name  string
		event *domain.RawEvent
	}{
		{"nil event", nil},
		{"unknown category", &domain.RawEvent{Category: "bogus", Kind: domain.KindView, Key: "k"}},
		{"unknown kind", &domain.RawEvent{Category: domain.CategoryAsset, Kind: "bogus", Key: "k"}},
		{"empty key", &domain.RawEvent{Category: domain.CategoryAsset, Kind: domain.KindView}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := eng.Track(ctx, tc.event)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	status := eng.Status()
	assert.Equal(t, 0, status.Categories[domain.CategoryAsset].Buffered)
}

func TestEngine_RecoversUnflushedEventsAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := &captureDispatcher{}
	first.setErr(errors.New("downstream unavailable"))
	eng := newTestEngine(t, dir, first)

	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))
	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindClick, "a.png", "home", nil)))

	// Close flushes, the dispatcher refuses, and the events stay durable.
	require.Error(t, eng.Close(ctx))

	second := &captureDispatcher{}
	reopened := newTestEngine(t, dir, second)
	defer func() {
		_ = reopened.Close(ctx)
	}()

	status := reopened.Status()
	assert.Equal(t, 2, status.Categories[domain.CategoryAsset].Buffered)

	require.NoError(t, reopened.FlushAll(ctx))

	results := second.dispatched()
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Metrics[0].ViewCount)
	assert.Equal(t, 1, results[0].Metrics[0].ClickCount)
}

func TestEngine_FlushAllPropagatesDispatchFailure(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))

	dispatcher.setErr(errors.New("downstream unavailable"))
	err := eng.FlushAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, batcher.ErrDispatch)

	// The batch returned to the buffer and flushes once the downstream
	// recovers.
	assert.Equal(t, 1, eng.Status().Categories[domain.CategoryAsset].Buffered)
	dispatcher.setErr(nil)
	require.NoError(t, eng.FlushAll(ctx))
	assert.Len(t, dispatcher.dispatched(), 1)
}

func TestEngine_FlushAllEmptyIsNoop(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	require.NoError(t, eng.FlushAll(ctx))
	assert.Empty(t, dispatcher.dispatched())
}

func TestEngine_ThresholdFlushesWithoutExplicitRequest(t *testing.T) {
	dispatcher := &captureDispatcher{}

	store, err := badgerlog.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	opts := testOptions()
	opts.BatchConfig.MaxBatchSize = 2
	eng, err := New(store, dispatcher, opts, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))
	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(dispatcher.dispatched()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	results := dispatcher.dispatched()
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Metrics[0].ViewCount)
}

func TestEngine_RegisterExperienceReturnsStableID(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	id1, err := eng.RegisterExperience([]string{"a.png", "b.png"}, []string{"hello"}, nil)
	require.NoError(t, err)

	// Same content, different order, same identifier.
	id2, err := eng.RegisterExperience([]string{"b.png", "a.png"}, []string{"hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	def, ok := eng.Experience(id1)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a.png", "b.png"}, def.AssetURLs)
	assert.Equal(t, 1, eng.Status().CachedDefinitions)
}

func TestEngine_RegisterExperienceRequiresContent(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	_, err := eng.RegisterExperience(nil, nil, []string{"buy now"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEngine_ExperienceFlushMarksDefinitionSent(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	id, err := eng.RegisterExperience([]string{"a.png"}, []string{"hello"}, nil)
	require.NoError(t, err)
	assert.False(t, eng.HasExperienceBeenSent(id))

	require.NoError(t, eng.Track(ctx, domain.NewExperienceEvent(domain.KindView, id, "inbox", nil)))
	require.NoError(t, eng.FlushAll(ctx))

	results := dispatcher.dispatched()
	require.Len(t, results, 1)
	assert.Equal(t, []string{"a.png"}, results[0].Metrics[0].AttributedAssets)
	assert.True(t, eng.HasExperienceBeenSent(id))
}

func TestEngine_StatusAfterCleanFlush(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))
	require.NoError(t, eng.FlushAll(ctx))

	status := eng.Status()
	assert.Equal(t, int64(0), status.Categories[domain.CategoryAsset].InvalidEvents)
	assert.Equal(t, "idle", status.Categories[domain.CategoryAsset].State)
}

func TestEngine_UpdateBatchConfigShrinkFlushes(t *testing.T) {
	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, t.TempDir(), dispatcher)
	ctx := context.Background()
	defer func() {
		_ = eng.Close(ctx)
	}()

	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))
	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))

	cfg := testOptions().BatchConfig
	cfg.MaxBatchSize = 1
	eng.UpdateBatchConfig(cfg)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(dispatcher.dispatched()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, dispatcher.dispatched(), 1)
}

func TestEngine_CloseFlushesBufferedEvents(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dispatcher := &captureDispatcher{}
	eng := newTestEngine(t, dir, dispatcher)

	require.NoError(t, eng.Track(ctx, domain.NewAssetEvent(domain.KindView, "a.png", "home", nil)))
	require.NoError(t, eng.Close(ctx))

	require.Len(t, dispatcher.dispatched(), 1)

	// Nothing left to recover after a clean shutdown.
	reopened := newTestEngine(t, dir, &captureDispatcher{})
	defer func() {
		_ = reopened.Close(ctx)
	}()
	assert.Equal(t, 0, reopened.Status().Categories[domain.CategoryAsset].Buffered)
}

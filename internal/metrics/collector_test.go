package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/events"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
)

// stubBackend records calls and simulates failures.
type stubBackend struct {
	mu        sync.Mutex
	flushed   [][]Record
	flushErr  error
	fetchErr  error
	snapshot  *Snapshot
	dashboard *Dashboard
}

func (b *stubBackend) SendRealtimeEvent(_ context.Context, _ Record) error { return nil }

func (b *stubBackend) FlushBatch(_ context.Context, recs []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushErr != nil {
		return b.flushErr
	}
	b.flushed = append(b.flushed, recs)
	return nil
}

func (b *stubBackend) FetchMetrics(_ context.Context) (*Snapshot, error) {
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.snapshot, nil
}

func (b *stubBackend) FetchDashboard(_ context.Context) (*Dashboard, error) {
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.dashboard, nil
}

func (b *stubBackend) flushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.flushed)
}

func record(score float64, level core.AlertLevel) core.AnalysisResult {
	return core.AnalysisResult{
		SessionID:        "s1",
		OverallBiasScore: score,
		AlertLevel:       level,
		Confidence:       0.9,
	}
}

func TestCollector_RecordAndLocalSnapshot(t *testing.T) {
	backend := &stubBackend{fetchErr: errors.New("down")}
	c := NewCollector(backend, logging.NewNop(), nil, WithRealtimeEvents(false))
	defer c.Close()

	c.RecordAnalysis(record(0.2, core.AlertLevelLow), 100*time.Millisecond)
	c.RecordAnalysis(record(0.6, core.AlertLevelHigh), 300*time.Millisecond)

	snap := c.GetMetrics(context.Background())
	assert.Equal(t, HealthDegraded, snap.SystemHealth)
	assert.Equal(t, 2, snap.TotalSessions)
	assert.InDelta(t, 0.4, snap.AverageBiasScore, 1e-9)
	assert.InDelta(t, 200, snap.AverageLatencyMs, 1e-9)
	assert.Equal(t, 1, snap.AlertDistribution[core.AlertLevelHigh])
}

func TestCollector_PrefersBackendSnapshot(t *testing.T) {
	backend := &stubBackend{snapshot: &Snapshot{TotalSessions: 42}}
	c := NewCollector(backend, logging.NewNop(), nil, WithRealtimeEvents(false))
	defer c.Close()

	snap := c.GetMetrics(context.Background())
	assert.Equal(t, 42, snap.TotalSessions)
	assert.Equal(t, HealthHealthy, snap.SystemHealth)
}

func TestCollector_FlushDrainsBuffer(t *testing.T) {
	backend := &stubBackend{}
	c := NewCollector(backend, logging.NewNop(), nil, WithRealtimeEvents(false))

	c.RecordAnalysis(record(0.5, core.AlertLevelMedium), time.Millisecond)
	assert.Equal(t, 1, c.BufferedCount())

	c.flush(context.Background())
	assert.Equal(t, 0, c.BufferedCount())
	assert.Equal(t, 1, backend.flushCount())

	// Close flushes nothing further when the buffer is empty.
	c.Close()
	assert.Equal(t, 1, backend.flushCount())
}

func TestCollector_FailedFlushRestoresBuffer(t *testing.T) {
	bus := events.New(8)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeFlushFailed)

	backend := &stubBackend{flushErr: errors.New("batch endpoint down")}
	c := NewCollector(backend, logging.NewNop(), bus, WithRealtimeEvents(false))

	c.RecordAnalysis(record(0.5, core.AlertLevelMedium), time.Millisecond)
	c.flush(context.Background())

	assert.Equal(t, 1, c.BufferedCount(), "failed flush must keep the records")

	select {
	case evt := <-ch:
		failed, ok := evt.(events.FlushFailedEvent)
		require.True(t, ok)
		assert.Equal(t, 1, failed.BufferedRecords)
	case <-time.After(time.Second):
		t.Fatal("no flush failure event published")
	}

	// Recovery: the retained records flush on the next cycle.
	backend.mu.Lock()
	backend.flushErr = nil
	backend.mu.Unlock()
	c.flush(context.Background())
	assert.Equal(t, 0, c.BufferedCount())
}

func TestCollector_DegradedDashboardFallback(t *testing.T) {
	backend := &stubBackend{fetchErr: errors.New("down")}
	c := NewCollector(backend, logging.NewNop(), nil, WithRealtimeEvents(false))
	defer c.Close()

	c.RecordAnalysis(record(0.7, core.AlertLevelHigh), time.Millisecond)

	dash := c.GetDashboardData(context.Background())
	assert.Equal(t, HealthDegraded, dash.SystemHealth)
	assert.Len(t, dash.RecentSessions, 1)
	assert.Equal(t, 1, dash.BufferedCount)
}

func TestCollector_CloseIsIdempotentAndFinalFlushes(t *testing.T) {
	backend := &stubBackend{}
	c := NewCollector(backend, logging.NewNop(), nil,
		WithRealtimeEvents(false), WithFlushInterval(time.Hour))
	c.Start()

	c.RecordAnalysis(record(0.5, core.AlertLevelMedium), time.Millisecond)
	c.Close()
	c.Close()

	assert.Equal(t, 1, backend.flushCount(), "close must flush buffered records")
}

func TestCollector_RecordAfterCloseIsDropped(t *testing.T) {
	c := NewCollector(&stubBackend{}, logging.NewNop(), nil, WithRealtimeEvents(false))
	c.Close()

	c.RecordAnalysis(record(0.5, core.AlertLevelMedium), time.Millisecond)
	assert.Equal(t, 0, c.BufferedCount())
}

func TestCollector_PerformanceMetricsAlwaysAvailable(t *testing.T) {
	backend := &stubBackend{fetchErr: errors.New("down")}
	c := NewCollector(backend, logging.NewNop(), nil, WithRealtimeEvents(false))
	defer c.Close()

	c.RecordAnalysis(record(0.3, core.AlertLevelMedium), 120*time.Millisecond)

	perf := c.GetPerformanceMetrics()
	require.NotNil(t, perf)
	assert.Equal(t, HealthHealthy, perf.SystemHealth)
	assert.InDelta(t, 120, perf.AverageLatencyMs, 1e-9)
}

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/events"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
)

// Backend is the remote side of the collector: the external analysis
// service's metrics endpoints.
type Backend interface {
	SendRealtimeEvent(ctx context.Context, rec Record) error
	FlushBatch(ctx context.Context, recs []Record) error
	FetchMetrics(ctx context.Context) (*Snapshot, error)
	FetchDashboard(ctx context.Context) (*Dashboard, error)
}

// Collector records every analysis outcome, buffers locally, and flushes
// batches to the backend on a timer. Query operations fall back to
// local-only data flagged degraded when the backend is unreachable.
// Collector failures are never propagated to the analysis path.
type Collector struct {
	backend  Backend
	logger   *logging.Logger
	bus      *events.Bus
	interval time.Duration
	realtime bool

	mu      sync.Mutex
	buffer  []Record
	recent  []Record // bounded tail for dashboards
	totals  totals
	closed  bool
	stopCh  chan struct{}
	started bool

	wg sync.WaitGroup

	sampler *SystemSampler
}

// totals are running aggregates over everything recorded since startup.
type totals struct {
	sessions     int
	scoreSum     float64
	latencySumMs int64
	cacheHits    int
	byLevel      map[core.AlertLevel]int
	firstAt      time.Time
	lastAt       time.Time
}

const recentKeep = 50

// CollectorOption configures the collector.
type CollectorOption func(*Collector)

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRealtimeEvents toggles best-effort per-record realtime sends.
func WithRealtimeEvents(enabled bool) CollectorOption {
	return func(c *Collector) {
		c.realtime = enabled
	}
}

// NewCollector creates a collector flushing to backend.
func NewCollector(backend Backend, logger *logging.Logger, bus *events.Bus, opts ...CollectorOption) *Collector {
	c := &Collector{
		backend:  backend,
		logger:   logger.WithComponent("metrics"),
		bus:      bus,
		interval: time.Minute,
		realtime: true,
		stopCh:   make(chan struct{}),
		sampler:  NewSystemSampler(),
	}
	c.totals.byLevel = make(map[core.AlertLevel]int)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the periodic flush loop.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.flushLoop()
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A slow backend must not stall the loop indefinitely.
			ctx, cancel := context.WithTimeout(context.Background(), c.interval)
			c.flush(ctx)
			cancel()
		case <-c.stopCh:
			return
		}
	}
}

// RecordAnalysis appends a metric record for one analysis outcome. It
// never returns an error: the buffered copy guarantees the record is not
// lost even when the realtime send fails.
func (c *Collector) RecordAnalysis(result core.AnalysisResult, processingTime time.Duration) {
	rec := Record{
		SessionID:        result.SessionID,
		Timestamp:        time.Now(),
		OverallBiasScore: result.OverallBiasScore,
		AlertLevel:       result.AlertLevel,
		Confidence:       result.Confidence,
		Partial:          result.Partial,
		CacheHit:         result.CacheHit,
		ProcessingMs:     processingTime.Milliseconds(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.buffer = append(c.buffer, rec)
	c.recent = append(c.recent, rec)
	if len(c.recent) > recentKeep {
		c.recent = c.recent[len(c.recent)-recentKeep:]
	}
	c.totals.sessions++
	c.totals.scoreSum += rec.OverallBiasScore
	c.totals.latencySumMs += rec.ProcessingMs
	if rec.CacheHit {
		c.totals.cacheHits++
	}
	c.totals.byLevel[rec.AlertLevel]++
	if c.totals.firstAt.IsZero() {
		c.totals.firstAt = rec.Timestamp
	}
	c.totals.lastAt = rec.Timestamp
	doRealtime := c.realtime
	c.mu.Unlock()

	if doRealtime {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.backend.SendRealtimeEvent(ctx, rec); err != nil {
				c.logger.Debug("realtime metric send failed", "session_id", rec.SessionID, "error", err)
			}
		}()
	}
}

// flush drains the buffer via one batched call. A failed flush restores
// the drained records for the next cycle.
func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if err := c.backend.FlushBatch(ctx, batch); err != nil {
		c.logger.Warn("metrics flush failed, keeping buffer", "records", len(batch), "error", err)
		c.mu.Lock()
		// Records produced during the flush stay newest.
		c.buffer = append(batch, c.buffer...)
		buffered := len(c.buffer)
		c.mu.Unlock()
		if c.bus != nil {
			c.bus.Publish(events.NewFlushFailed(buffered, err))
		}
		return
	}

	c.logger.Debug("metrics flushed", "records", len(batch))
}

// GetMetrics returns aggregate metrics, preferring the backend and
// falling back to local data flagged degraded.
func (c *Collector) GetMetrics(ctx context.Context) *Snapshot {
	if snap, err := c.backend.FetchMetrics(ctx); err == nil {
		if snap.SystemHealth == "" {
			snap.SystemHealth = HealthHealthy
		}
		return snap
	} else {
		c.logger.Warn("metrics backend unavailable, serving local data", "error", err)
	}
	snap := c.localSnapshot()
	return &snap
}

// GetDashboardData returns dashboard data with the same fallback policy.
func (c *Collector) GetDashboardData(ctx context.Context) *Dashboard {
	if dash, err := c.backend.FetchDashboard(ctx); err == nil {
		if dash.SystemHealth == "" {
			dash.SystemHealth = HealthHealthy
		}
		return dash
	} else {
		c.logger.Warn("dashboard backend unavailable, serving local data", "error", err)
	}

	c.mu.Lock()
	recent := append([]Record(nil), c.recent...)
	buffered := len(c.buffer)
	c.mu.Unlock()

	return &Dashboard{
		Summary:        c.localSnapshot(),
		RecentSessions: recent,
		BufferedCount:  buffered,
		SystemHealth:   HealthDegraded,
	}
}

// localSnapshot builds a best-effort snapshot from local aggregates only.
func (c *Collector) localSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		GeneratedAt:       time.Now(),
		TotalSessions:     c.totals.sessions,
		AlertDistribution: make(map[core.AlertLevel]int, len(c.totals.byLevel)),
		SystemHealth:      HealthDegraded,
	}
	for level, n := range c.totals.byLevel {
		snap.AlertDistribution[level] = n
	}
	if c.totals.sessions > 0 {
		snap.AverageBiasScore = c.totals.scoreSum / float64(c.totals.sessions)
		snap.AverageLatencyMs = float64(c.totals.latencySumMs) / float64(c.totals.sessions)
		snap.CacheHitRate = float64(c.totals.cacheHits) / float64(c.totals.sessions)
	}
	return snap
}

// GetPerformanceMetrics returns process and throughput data. It is
// computed locally (system probes plus running latency aggregates) and
// therefore always available.
func (c *Collector) GetPerformanceMetrics() *Performance {
	c.mu.Lock()
	perf := Performance{
		GeneratedAt:  time.Now(),
		SystemHealth: HealthHealthy,
	}
	if c.totals.sessions > 0 {
		perf.AverageLatencyMs = float64(c.totals.latencySumMs) / float64(c.totals.sessions)
		elapsed := c.totals.lastAt.Sub(c.totals.firstAt).Minutes()
		if elapsed > 0 {
			perf.SessionsPerMin = float64(c.totals.sessions) / elapsed
		}
	}
	c.mu.Unlock()

	c.sampler.Sample(&perf)
	return &perf
}

// BufferedCount returns the number of unflushed records.
func (c *Collector) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Close cancels the flush timer, waits for in-flight work and performs
// one final best-effort flush. Idempotent.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if started {
		close(c.stopCh)
	}
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.flush(ctx)
}

package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pixelated-empathy/bias-engine/internal/alerts"
	"github.com/pixelated-empathy/bias-engine/internal/config"
	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/events"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
	"github.com/pixelated-empathy/bias-engine/internal/metrics"
	"github.com/pixelated-empathy/bias-engine/internal/report"
)

// MinLayersForResult is the minimum number of layers that must succeed
// before a verdict (possibly partial) can be produced.
const MinLayersForResult = 3

// PartialConfidencePenalty scales confidence down when a verdict is
// built from fewer than all four layers.
const PartialConfidencePenalty = 0.85

// LayerRunner executes analysis layers against the external service.
type LayerRunner interface {
	Initialize(ctx context.Context) error
	RunLayer(ctx context.Context, layer core.Layer, session *core.Session) (core.LayerResult, error)
	BreakerState() string
	Close() error
}

// ResultPersister records final verdicts durably. Persistence failures
// never fail an analysis.
type ResultPersister interface {
	SaveResult(ctx context.Context, res *core.AnalysisResult) error
	GetLatest(ctx context.Context, sessionID string) (*core.AnalysisResult, error)
	ListByTimeRange(ctx context.Context, tr core.TimeRange) ([]core.AnalysisResult, error)
}

// lifecycle states
type engineState int

const (
	stateUninitialized engineState = iota
	stateInitialized
	stateDisposed
)

// AnalyzeOptions modify a single analysis request.
type AnalyzeOptions struct {
	// SkipCache forces a fresh analysis, invalidating any cached verdict.
	SkipCache bool
}

// ValidationResult reports the outcome of a configuration update.
type ValidationResult struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

// Engine orchestrates the four-layer bias analysis pipeline: validation,
// cached fan-out to the external service, score aggregation, and the
// downstream metric, alert and persistence side effects.
//
// Lifecycle: NewEngine -> Initialize -> (operations) -> Close. Operations
// before Initialize fail with a state error; operations after Close fail
// with a disposed error. Close is idempotent.
type Engine struct {
	runner    LayerRunner
	cache     *ResultCache
	collector *metrics.Collector
	alerts    *alerts.System
	store     ResultPersister
	reporter  *report.Generator
	bus       *events.Bus
	logger    *logging.Logger

	cfgMu    sync.RWMutex
	analysis config.AnalysisConfig
	cfgPath  string // where threshold updates are persisted; empty disables

	stateMu sync.Mutex
	state   engineState

	monMu      sync.Mutex
	monStop    chan struct{}
	monDone    chan struct{}
	trendIvl   time.Duration
	hipaa      bool
	auditLog   bool
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithStore attaches a durable result store.
func WithStore(s ResultPersister) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithConfigPersistPath sets where applied threshold updates are saved.
func WithConfigPersistPath(path string) EngineOption {
	return func(e *Engine) { e.cfgPath = path }
}

// WithTrendInterval sets the report trend bucket width.
func WithTrendInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.trendIvl = d
		}
	}
}

// NewEngine wires an engine from its collaborators. The analysis config
// must already be validated by the caller.
func NewEngine(
	analysisCfg config.AnalysisConfig,
	runner LayerRunner,
	collector *metrics.Collector,
	alertSystem *alerts.System,
	bus *events.Bus,
	logger *logging.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		runner:    runner,
		cache:     NewResultCache(analysisCfg.CacheCapacity),
		collector: collector,
		alerts:    alertSystem,
		reporter:  report.NewGenerator(logger),
		bus:       bus,
		logger:    logger.WithComponent("engine"),
		analysis:  analysisCfg,
		trendIvl:  24 * time.Hour,
		hipaa:     analysisCfg.HIPAACompliance,
		auditLog:  analysisCfg.AuditLogging,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize verifies the external service is reachable and starts the
// metrics flush loop. Calling it twice is an error.
func (e *Engine) Initialize(ctx context.Context) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	switch e.state {
	case stateInitialized:
		return core.ErrState("ALREADY_INITIALIZED", "engine already initialized")
	case stateDisposed:
		return core.ErrDisposed()
	}

	if err := e.runner.Initialize(ctx); err != nil {
		return err
	}
	if e.collector != nil {
		e.collector.Start()
	}

	e.state = stateInitialized
	e.logger.Info("engine initialized")
	return nil
}

func (e *Engine) checkReady() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	switch e.state {
	case stateUninitialized:
		return core.ErrNotInitialized()
	case stateDisposed:
		return core.ErrDisposed()
	}
	return nil
}

// AnalyzeSession runs the full bias analysis for one session. Identical
// concurrent requests share a single computation; a repeated request for
// an already analyzed session is served from cache with CacheHit set.
func (e *Engine) AnalyzeSession(ctx context.Context, session *core.Session, opts AnalyzeOptions) (*core.AnalysisResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.ErrValidation(core.CodeInvalidSession, "session is required")
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()

	if opts.SkipCache {
		e.cache.Invalidate(session.ID)
	}

	res, hit, err := e.cache.GetOrCompute(ctx, session.ID, func(ctx context.Context) (*core.AnalysisResult, error) {
		fresh, err := e.runAnalysis(ctx, session)
		if err != nil {
			return nil, err
		}
		// Side effects run inside the shared flight, once per computation.
		// Flight joiners and cache hits must not record again.
		e.afterAnalysis(fresh, time.Since(started))
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)

	// Cached entries are shared; hand the caller its own copy.
	out := *res
	out.CacheHit = hit

	if e.auditLog {
		e.logger.Info("session analyzed",
			"session_id", out.SessionID,
			"alert_level", out.AlertLevel,
			"overall_bias_score", out.OverallBiasScore,
			"partial", out.Partial,
			"cache_hit", out.CacheHit,
			"elapsed_ms", elapsed.Milliseconds())
	}
	return &out, nil
}

// runAnalysis fans out to all four layers and aggregates the outcome.
func (e *Engine) runAnalysis(ctx context.Context, session *core.Session) (*core.AnalysisResult, error) {
	layers := core.Layers()

	var mu sync.Mutex
	succeeded := make(map[core.Layer]core.LayerResult, len(layers))
	failed := make(map[core.Layer]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, layer := range layers {
		layer := layer
		g.Go(func() error {
			lr, err := e.runner.RunLayer(gctx, layer, session)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[layer] = err
				e.logger.Warn("layer failed",
					"session_id", session.ID,
					"layer", layer,
					"error", err)
				// Individual layer failures never cancel the siblings.
				return nil
			}
			succeeded[layer] = lr
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, core.ErrTimeout("analysis canceled").WithCause(err)
	}

	if len(succeeded) < MinLayersForResult {
		failedNames := make([]string, 0, len(failed))
		for layer := range failed {
			failedNames = append(failedNames, string(layer))
		}
		sort.Strings(failedNames)
		err := core.ErrAnalysisFailed(session.ID,
			fmt.Sprintf("only %d of %d analysis layers succeeded", len(succeeded), len(layers)))
		return nil, err.WithDetail("failed_layers", failedNames)
	}

	return e.aggregate(session, succeeded, failed), nil
}

// aggregate builds the verdict from the successful layer results. With a
// failed layer, the remaining weights are renormalized so the overall
// score stays in [0,1], confidence is penalized, and the result is
// marked partial.
func (e *Engine) aggregate(session *core.Session, succeeded map[core.Layer]core.LayerResult, failed map[core.Layer]error) *core.AnalysisResult {
	e.cfgMu.RLock()
	weights := e.analysis.Weights
	thresholds := e.analysis.Thresholds
	defaultConfidence := e.analysis.DefaultConfidence
	e.cfgMu.RUnlock()

	var weightSum float64
	for layer := range succeeded {
		weightSum += weights.ForLayer(layer)
	}

	var score float64
	recommendations := make([]string, 0)
	seen := make(map[string]bool)
	layerResults := make(map[core.Layer]core.LayerResult, len(succeeded))

	// Confidence is the most conservative layer confidence; layers that
	// report none fall back to the configured default.
	confidence := defaultConfidence
	confidenceReported := false

	for layer, lr := range succeeded {
		lr.BiasScore = core.Clamp01(lr.BiasScore)
		lr.Confidence = core.Clamp01(lr.Confidence)
		layerResults[layer] = lr

		w := weights.ForLayer(layer)
		if weightSum > 0 {
			score += lr.BiasScore * (w / weightSum)
		}
		if lr.Confidence > 0 && (!confidenceReported || lr.Confidence < confidence) {
			confidence = lr.Confidence
			confidenceReported = true
		}
		for _, rec := range lr.Recommendations {
			if rec != "" && !seen[rec] {
				seen[rec] = true
				recommendations = append(recommendations, rec)
			}
		}
	}
	score = core.Clamp01(score)

	partial := len(failed) > 0
	var failedLayers []core.Layer
	if partial {
		confidence *= PartialConfidencePenalty
		for _, layer := range core.Layers() {
			if _, ok := failed[layer]; ok {
				failedLayers = append(failedLayers, layer)
			}
		}
		recommendations = append(recommendations,
			"Analysis is partial; consider re-running the session once all analysis layers are available.")
	}

	return &core.AnalysisResult{
		SessionID:        session.ID,
		Timestamp:        time.Now(),
		Layers:           layerResults,
		OverallBiasScore: score,
		AlertLevel:       thresholds.LevelFor(score),
		Confidence:       core.Clamp01(confidence),
		Recommendations:  recommendations,
		Demographics:     session.Demographics,
		Partial:          partial,
		FailedLayers:     failedLayers,
	}
}

// afterAnalysis runs the downstream side effects for a fresh verdict.
// Each effect is isolated: a failure there is logged, never surfaced.
func (e *Engine) afterAnalysis(res *core.AnalysisResult, elapsed time.Duration) {
	if e.collector != nil {
		e.collector.RecordAnalysis(*res, elapsed)
	}
	if e.alerts != nil {
		e.alerts.Check(*res)
	}
	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.store.SaveResult(ctx, res); err != nil {
			e.logger.Warn("persisting result failed", "session_id", res.SessionID, "error", err)
		}
		cancel()
	}
	if e.bus != nil {
		e.bus.Publish(events.NewAnalysisCompleted(*res, elapsed.Milliseconds()))
	}
}

// LookupOptions tune a stored-verdict lookup.
type LookupOptions struct {
	// SkipCache forces a durable-store read, bypassing the cached copy.
	SkipCache bool
}

// GetSessionAnalysis returns the most recent verdict for a session,
// serving from cache first and falling back to the durable store. It
// never triggers fresh analysis.
func (e *Engine) GetSessionAnalysis(ctx context.Context, sessionID string, opts LookupOptions) (*core.AnalysisResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	if res, ok := e.cache.Get(sessionID); ok && !opts.SkipCache {
		out := *res
		out.CacheHit = true
		return &out, nil
	}

	if e.store != nil {
		res, err := e.store.GetLatest(ctx, sessionID)
		if err == nil {
			e.cache.Put(sessionID, res)
			out := *res
			return &out, nil
		}
		if !core.IsCategory(err, core.ErrCatNotFound) {
			return nil, err
		}
	}

	// Without a durable store the cached copy is all there is.
	if opts.SkipCache {
		if res, ok := e.cache.Get(sessionID); ok {
			out := *res
			return &out, nil
		}
	}
	return nil, core.ErrNotFound("analysis result", sessionID)
}

// UpdateThresholds validates and, unless validateOnly is set, applies a
// new scoring configuration. Invalid updates are rejected as a whole:
// the active configuration is untouched and every problem is reported.
func (e *Engine) UpdateThresholds(thresholds core.Thresholds, weights config.LayerWeights, validateOnly bool) ValidationResult {
	e.cfgMu.RLock()
	candidate := e.analysis
	e.cfgMu.RUnlock()
	candidate.Thresholds = thresholds
	candidate.Weights = weights

	v := config.NewValidator()
	v.ValidateAnalysis(&candidate)
	if errs := v.Errors(); errs.HasErrors() {
		return ValidationResult{Success: false, Errors: errs.Messages()}
	}
	if validateOnly {
		return ValidationResult{Success: true}
	}

	e.cfgMu.Lock()
	e.analysis = candidate
	path := e.cfgPath
	e.cfgMu.Unlock()

	e.logger.Info("scoring configuration updated",
		"warning", thresholds.Warning,
		"high", thresholds.High,
		"critical", thresholds.Critical)

	if path != "" {
		if err := config.SaveAnalysis(path, &candidate); err != nil {
			e.logger.Warn("persisting scoring configuration failed", "error", err)
		}
	}
	return ValidationResult{Success: true}
}

// ApplyAnalysisConfig swaps in a full analysis configuration. Used by
// config hot reload; the caller has already validated it.
func (e *Engine) ApplyAnalysisConfig(cfg config.AnalysisConfig) {
	e.cfgMu.Lock()
	e.analysis = cfg
	e.cfgMu.Unlock()
	e.logger.Info("analysis configuration reloaded")
}

// AnalysisConfig returns a copy of the active scoring configuration.
func (e *Engine) AnalysisConfig() config.AnalysisConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.analysis
}

// GetMetrics returns aggregate metrics, degraded to local data when the
// external service is unreachable.
func (e *Engine) GetMetrics(ctx context.Context) (*metrics.Snapshot, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.collector.GetMetrics(ctx), nil
}

// GetDashboardData returns dashboard data with the same degradation.
func (e *Engine) GetDashboardData(ctx context.Context) (*metrics.Dashboard, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.collector.GetDashboardData(ctx), nil
}

// GetPerformanceMetrics returns locally computed performance data.
func (e *Engine) GetPerformanceMetrics() (*metrics.Performance, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.collector.GetPerformanceMetrics(), nil
}

// ActiveAlerts returns the current unresolved alerts, newest first.
func (e *Engine) ActiveAlerts() ([]alerts.Alert, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.alerts.Active(), nil
}

// ResolveAlert marks an alert as handled.
func (e *Engine) ResolveAlert(id string) (*alerts.Alert, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	return e.alerts.Resolve(id)
}

// StartMonitoring begins publishing periodic health snapshots on the
// event bus. A second call while monitoring is running is a no-op.
func (e *Engine) StartMonitoring(interval time.Duration) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	if interval <= 0 {
		interval = time.Minute
	}

	e.monMu.Lock()
	defer e.monMu.Unlock()
	if e.monStop != nil {
		return nil
	}
	e.monStop = make(chan struct{})
	e.monDone = make(chan struct{})

	go e.monitorLoop(interval, e.monStop, e.monDone)
	e.logger.Info("monitoring started", "interval", interval)
	return nil
}

// StopMonitoring stops the periodic snapshots. Safe without a prior
// StartMonitoring.
func (e *Engine) StopMonitoring() {
	e.monMu.Lock()
	stop, done := e.monStop, e.monDone
	e.monStop, e.monDone = nil, nil
	e.monMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
		e.logger.Info("monitoring stopped")
	}
}

func (e *Engine) monitorLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			perf := e.collector.GetPerformanceMetrics()
			health := metrics.HealthHealthy
			if e.runner.BreakerState() != "closed" {
				health = metrics.HealthDegraded
			}
			e.bus.Publish(events.NewMonitoringTick(health, map[string]interface{}{
				"cpu_percent":        perf.CPUPercent,
				"mem_percent":        perf.MemPercent,
				"average_latency_ms": perf.AverageLatencyMs,
				"sessions_per_min":   perf.SessionsPerMin,
				"circuit_state":      e.runner.BreakerState(),
				"cached_results":     e.cache.Len(),
			}))
		case <-stop:
			return
		}
	}
}

// GenerateReport aggregates stored verdicts inside the time range into a
// cohort report. Without a store only cached results feed the report.
func (e *Engine) GenerateReport(ctx context.Context, tr core.TimeRange, opts report.Options) (*core.Report, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	var results []core.AnalysisResult
	if e.store != nil {
		var err error
		results, err = e.store.ListByTimeRange(ctx, tr)
		if err != nil {
			return nil, err
		}
	}

	if opts.TrendInterval == 0 {
		opts.TrendInterval = e.trendIvl
	}
	if e.hipaa {
		opts.Anonymize = true
	}
	return e.reporter.Generate(results, tr, opts)
}

// Close releases all resources: stops monitoring, flushes metrics and
// closes the service client. Idempotent; operations after Close fail.
func (e *Engine) Close() error {
	e.stateMu.Lock()
	if e.state == stateDisposed {
		e.stateMu.Unlock()
		return nil
	}
	e.state = stateDisposed
	e.stateMu.Unlock()

	e.StopMonitoring()
	if e.collector != nil {
		e.collector.Close()
	}
	err := e.runner.Close()
	e.logger.Info("engine closed")
	return err
}

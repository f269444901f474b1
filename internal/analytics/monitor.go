// Package analytics runs the background monitor that keeps aggregate metric
// caches warm and evaluates finished ranking experiments.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/feedforge/rankmix/internal/cache"
	"github.com/feedforge/rankmix/internal/experiment"
	"github.com/feedforge/rankmix/internal/impression"
)

// ExperimentSource is the experiment surface the monitor drives.
// experiment.Manager satisfies it.
type ExperimentSource interface {
	ActiveExperiments(ctx context.Context) []*experiment.Experiment
	CompletedExperiments(ctx context.Context) ([]*experiment.Experiment, error)
	Evaluate(ctx context.Context, id string) (*experiment.Experiment, error)
	UpdateStatus(ctx context.Context, id string, target experiment.Status) (*experiment.Experiment, error)
}

// StatsSource is the read-only aggregate query surface the monitor refreshes
// caches from. impression.Recorder satisfies it.
type StatsSource interface {
	AlgorithmStats(ctx context.Context, algorithm string, start, end time.Time) (*impression.AlgorithmStats, error)
}

// Cache key prefixes for the aggregate namespaces.
const (
	realtimeKeyPrefix  = "analytics:realtime:"
	dailyKeyPrefix     = "analytics:daily:"
	algorithmKeyPrefix = "analytics:algorithm:"
)

// RealtimeStatsKey is the cache key of the one-hour aggregate for an algorithm.
func RealtimeStatsKey(algorithm string) string { return realtimeKeyPrefix + algorithm }

// DailyStatsKey is the cache key of the 24-hour aggregate for an algorithm.
func DailyStatsKey(algorithm string) string { return dailyKeyPrefix + algorithm }

// AlgorithmStatsKey is the cache key of the long-window aggregate for an algorithm.
func AlgorithmStatsKey(algorithm string) string { return algorithmKeyPrefix + algorithm }

// Defaults for monitor configuration.
const (
	DefaultReloadInterval     = time.Hour
	DefaultRefreshInterval    = 5 * time.Minute
	DefaultEvaluationInterval = time.Hour
	DefaultTickTimeout        = 30 * time.Second

	DefaultRealtimeTTL  = 5 * time.Minute
	DefaultDailyTTL     = time.Hour
	DefaultAlgorithmTTL = time.Hour

	// algorithmWindow is the lookback for the per-algorithm aggregate.
	algorithmWindow = 7 * 24 * time.Hour
)

// DefaultAlgorithmTags are the recommendation types aggregated by default.
func DefaultAlgorithmTags() []string {
	return []string{
		"mixed",
		"hot",
		"content",
		"collaborative",
		"social_collaborative",
		"social_collaborative_fallback",
	}
}

// MonitorConfig configures the analytics monitor.
type MonitorConfig struct {
	ReloadInterval     time.Duration
	RefreshInterval    time.Duration
	EvaluationInterval time.Duration
	// TickTimeout bounds each task tick.
	TickTimeout time.Duration

	RealtimeTTL  time.Duration
	DailyTTL     time.Duration
	AlgorithmTTL time.Duration

	// AlgorithmTags lists the recommendation types to aggregate.
	AlgorithmTags []string

	Logger  *slog.Logger
	Metrics *Metrics
}

// Monitor is one long-lived process running three independent periodic
// tasks: active-experiment reload, aggregate cache refresh, and evaluation
// of finished experiments. Each monitor instance owns its active-experiment
// set; nothing is shared across instances.
type Monitor struct {
	config      MonitorConfig
	experiments ExperimentSource
	stats       StatsSource
	cache       cache.Store
	notifier    Notifier
	now         func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	activeMu sync.RWMutex
	active   []*experiment.Experiment
}

// NewMonitor creates an analytics monitor. The notifier may be nil, in which
// case significant results are only logged and persisted.
func NewMonitor(
	config MonitorConfig,
	experiments ExperimentSource,
	stats StatsSource,
	cacheStore cache.Store,
	notifier Notifier,
) *Monitor {
	if config.ReloadInterval == 0 {
		config.ReloadInterval = DefaultReloadInterval
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = DefaultRefreshInterval
	}
	if config.EvaluationInterval == 0 {
		config.EvaluationInterval = DefaultEvaluationInterval
	}
	if config.TickTimeout == 0 {
		config.TickTimeout = DefaultTickTimeout
	}
	if config.RealtimeTTL == 0 {
		config.RealtimeTTL = DefaultRealtimeTTL
	}
	if config.DailyTTL == 0 {
		config.DailyTTL = DefaultDailyTTL
	}
	if config.AlgorithmTTL == 0 {
		config.AlgorithmTTL = DefaultAlgorithmTTL
	}
	if len(config.AlgorithmTags) == 0 {
		config.AlgorithmTags = DefaultAlgorithmTags()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Monitor{
		config:      config,
		experiments: experiments,
		stats:       stats,
		cache:       cacheStore,
		notifier:    notifier,
		now:         time.Now,
	}
}

// SetClock overrides the monitor's clock, for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Start launches the three periodic tasks. Repeated starts are no-ops.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.runTask(ctx, "experiment_reload", m.config.ReloadInterval, m.reloadActiveExperiments)
	m.runTask(ctx, "aggregate_refresh", m.config.RefreshInterval, m.refreshAggregates)
	m.runTask(ctx, "experiment_evaluation", m.config.EvaluationInterval, m.evaluateExperiments)
	return nil
}

// Stop signals all tasks to stop and waits for in-flight ticks to finish.
// Repeated stops are no-ops.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// IsRunning returns whether the monitor is currently running.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// ActiveExperiments returns the monitor's current view of experiments
// serving traffic.
func (m *Monitor) ActiveExperiments() []*experiment.Experiment {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	result := make([]*experiment.Experiment, len(m.active))
	copy(result, m.active)
	return result
}

// runTask starts one periodic task goroutine. Ticks run synchronously inside
// the loop, so Stop waiting on the task also waits out an in-flight tick.
// Tick failures are logged and never propagate: the next tick retries.
func (m *Monitor) runTask(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	m.wg.Add(1)
	stopCh := m.stopCh
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.tickOnce(ctx, name, tick)
		for {
			select {
			case <-ctx.Done():
				m.config.Logger.Info("analytics task stopping due to context cancellation", "task", name)
				return
			case <-stopCh:
				m.config.Logger.Info("analytics task stopping due to stop signal", "task", name)
				return
			case <-ticker.C:
				m.tickOnce(ctx, name, tick)
			}
		}
	}()
}

func (m *Monitor) tickOnce(parentCtx context.Context, name string, tick func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parentCtx, m.config.TickTimeout)
	defer cancel()

	start := time.Now()
	err := tick(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "failure"
		m.config.Logger.Error("analytics tick failed",
			"task", name,
			"error", err)
	}
	if m.config.Metrics != nil {
		m.config.Metrics.IncTick(name, status)
		m.config.Metrics.ObserveTickDuration(name, duration)
	}
}

// reloadActiveExperiments refreshes the monitor's active-experiment set.
func (m *Monitor) reloadActiveExperiments(ctx context.Context) error {
	active := m.experiments.ActiveExperiments(ctx)

	m.activeMu.Lock()
	m.active = active
	m.activeMu.Unlock()

	if m.config.Metrics != nil {
		m.config.Metrics.SetActiveExperiments(float64(len(active)))
	}
	m.config.Logger.Debug("reloaded active experiments", "count", len(active))
	return nil
}

// refreshAggregates rebuilds the realtime, daily and per-algorithm aggregate
// caches. A failure on one algorithm or window is logged and the rest still
// refresh.
func (m *Monitor) refreshAggregates(ctx context.Context) error {
	now := m.now()
	windows := []struct {
		lookback time.Duration
		key      func(string) string
		ttl      time.Duration
	}{
		{time.Hour, RealtimeStatsKey, m.config.RealtimeTTL},
		{24 * time.Hour, DailyStatsKey, m.config.DailyTTL},
		{algorithmWindow, AlgorithmStatsKey, m.config.AlgorithmTTL},
	}

	var firstErr error
	for _, window := range windows {
		for _, algorithm := range m.config.AlgorithmTags {
			stats, err := m.stats.AlgorithmStats(ctx, algorithm, now.Add(-window.lookback), now)
			if err != nil {
				m.config.Logger.Warn("failed to aggregate algorithm stats",
					"algorithm", algorithm,
					"error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			data, err := json.Marshal(stats)
			if err != nil {
				continue
			}
			if err := m.cache.Set(ctx, window.key(algorithm), data, window.ttl); err != nil {
				m.config.Logger.Warn("failed to cache algorithm stats",
					"algorithm", algorithm,
					"error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if m.config.Metrics != nil && firstErr == nil {
		m.config.Metrics.SetLastRefreshTimestamp(float64(now.Unix()))
	}
	return firstErr
}

// evaluateExperiments computes significance for every finished experiment
// that has not been evaluated yet, persists the verdict, moves the
// experiment to completed, and sends at most one notification per
// evaluation.
func (m *Monitor) evaluateExperiments(ctx context.Context) error {
	completed, err := m.experiments.CompletedExperiments(ctx)
	if err != nil {
		return err
	}

	for _, exp := range completed {
		if exp.Results != nil {
			continue
		}

		evaluated, err := m.experiments.Evaluate(ctx, exp.ID)
		if err != nil {
			m.config.Logger.Error("failed to evaluate experiment",
				"experiment_id", exp.ID,
				"error", err)
			if m.config.Metrics != nil {
				m.config.Metrics.IncEvaluation("error")
			}
			continue
		}

		if exp.Status != experiment.StatusCompleted && exp.CanTransition(experiment.StatusCompleted) {
			if _, err := m.experiments.UpdateStatus(ctx, exp.ID, experiment.StatusCompleted); err != nil {
				m.config.Logger.Warn("failed to mark experiment completed",
					"experiment_id", exp.ID,
					"error", err)
			}
		}

		outcome := "not_significant"
		if evaluated.Results.Significant {
			outcome = "significant"
			m.notify(ctx, evaluated)
		}
		if m.config.Metrics != nil {
			m.config.Metrics.IncEvaluation(outcome)
		}
		m.config.Logger.Info("experiment evaluated",
			"experiment_id", exp.ID,
			"winner", evaluated.Results.Winner,
			"significant", evaluated.Results.Significant,
			"improvement", evaluated.Results.Improvement)
	}
	return nil
}

func (m *Monitor) notify(ctx context.Context, exp *experiment.Experiment) {
	if m.notifier == nil || !exp.Automation.NotificationsEnabled {
		return
	}
	notification := Notification{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		Winner:       exp.Results.Winner,
		Improvement:  exp.Results.Improvement,
	}
	if err := m.notifier.Notify(ctx, notification); err != nil {
		m.config.Logger.Warn("failed to send experiment notification",
			"experiment_id", exp.ID,
			"error", err)
		return
	}
	if m.config.Metrics != nil {
		m.config.Metrics.IncNotifications()
	}
}

// ReloadNow, RefreshNow and EvaluateNow run a single tick immediately,
// outside the schedule. Useful for tests and operator tooling.
func (m *Monitor) ReloadNow(ctx context.Context) error   { return m.reloadActiveExperiments(ctx) }
func (m *Monitor) RefreshNow(ctx context.Context) error  { return m.refreshAggregates(ctx) }
func (m *Monitor) EvaluateNow(ctx context.Context) error { return m.evaluateExperiments(ctx) }

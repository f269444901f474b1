package experiment

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/feedforge/rankmix/internal/impression"
)

// ResultsSource is the read-only metrics query surface the manager needs.
// impression.Recorder satisfies it; the metrics side knows nothing about
// experiments beyond the id column.
type ResultsSource interface {
	ExperimentResults(ctx context.Context, experimentID string, start, end time.Time) (*impression.ExperimentResults, error)
}

// Manager owns experiment definitions and their evaluation.
type Manager struct {
	store   Store
	metrics ResultsSource
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(store Store, metrics ResultsSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the manager's clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create validates and persists a new experiment in draft status.
func (m *Manager) Create(ctx context.Context, exp *Experiment) (*Experiment, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	stored := *exp
	if stored.Status == "" {
		stored.Status = StatusDraft
	}
	now := m.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if err := m.store.Insert(ctx, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Experiment, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]*Experiment, error) {
	return m.store.List(ctx)
}

// UpdateStatus transitions an experiment along the lifecycle graph.
func (m *Manager) UpdateStatus(ctx context.Context, id string, target Status) (*Experiment, error) {
	exp, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := exp.Transition(target); err != nil {
		return nil, err
	}
	exp.UpdatedAt = m.now()
	if err := m.store.Save(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// ActiveExperiments returns the experiments serving traffic right now.
// The date window is re-checked after the status filter since a stale
// status row must never extend an experiment past its end date. Failures
// yield an empty list; experiment lookup must never block serving.
func (m *Manager) ActiveExperiments(ctx context.Context) []*Experiment {
	candidates, err := m.store.ListByStatus(ctx, StatusActive)
	if err != nil {
		m.logger.Warn("failed to list active experiments", "error", err)
		return []*Experiment{}
	}
	now := m.now()
	active := make([]*Experiment, 0, len(candidates))
	for _, exp := range candidates {
		if exp.IsActive(now) {
			active = append(active, exp)
		}
	}
	return active
}

// CompletedExperiments returns every experiment whose run is over, whether
// completed explicitly or by its window passing.
func (m *Manager) CompletedExperiments(ctx context.Context) ([]*Experiment, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var completed []*Experiment
	for _, exp := range all {
		if exp.Status == StatusCancelled {
			continue
		}
		if exp.IsCompleted(now) {
			completed = append(completed, exp)
		}
	}
	return completed, nil
}

// CheckSignificance evaluates the primary metric of the first two variants
// (control, treatment). Significant iff the relative improvement exceeds the
// experiment's minimum-improvement threshold in either direction. Missing
// per-variant metrics mean no verdict.
func (m *Manager) CheckSignificance(ctx context.Context, exp *Experiment) (*Results, error) {
	evaluated := &Results{
		Winner:      WinnerNone,
		Variants:    make(map[string]VariantResult),
		EvaluatedAt: m.now(),
	}
	// Rows written past Validate can carry fewer than two variants; there is
	// nothing to compare then.
	if len(exp.Variants) < 2 {
		return evaluated, nil
	}

	results, err := m.metrics.ExperimentResults(ctx, exp.ID, exp.StartAt, exp.EndAt)
	if err != nil {
		return nil, err
	}
	for _, variant := range exp.Variants {
		stats, ok := results.Variants[variant.ID]
		if !ok {
			continue
		}
		evaluated.Variants[variant.ID] = VariantResult{
			SampleSize:  stats.TotalRecommendations,
			MetricValue: stats.MetricValue(exp.PrimaryMetric),
		}
	}

	control, haveControl := evaluated.Variants[exp.Variants[0].ID]
	treatment, haveTreatment := evaluated.Variants[exp.Variants[1].ID]
	if !haveControl || !haveTreatment || control.MetricValue == 0 {
		return evaluated, nil
	}

	evaluated.Improvement = (treatment.MetricValue - control.MetricValue) / control.MetricValue
	evaluated.Significant = math.Abs(evaluated.Improvement) > exp.MinimumImprovement()
	if evaluated.Significant {
		if treatment.MetricValue > control.MetricValue {
			evaluated.Winner = exp.Variants[1].ID
		} else {
			evaluated.Winner = exp.Variants[0].ID
		}
	}
	return evaluated, nil
}

// SelectWinner returns the winning variant id, or "none" when the result is
// not significant.
func (m *Manager) SelectWinner(ctx context.Context, exp *Experiment) (string, error) {
	results, err := m.CheckSignificance(ctx, exp)
	if err != nil {
		return "", err
	}
	return results.Winner, nil
}

// Evaluate computes significance for a finished experiment and persists the
// results on the experiment record.
func (m *Manager) Evaluate(ctx context.Context, id string) (*Experiment, error) {
	exp, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := m.CheckSignificance(ctx, exp)
	if err != nil {
		return nil, err
	}
	exp.Results = results
	exp.UpdatedAt = m.now()
	if err := m.store.Save(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

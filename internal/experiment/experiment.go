// Package experiment manages controlled ranking experiments: definition,
// lifecycle, and significance evaluation over recorded impression outcomes.
package experiment

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// WinnerNone marks an evaluation that found no significant winner.
const WinnerNone = "none"

// DefaultMinimumImprovement is the relative improvement on the primary
// metric required for significance.
const DefaultMinimumImprovement = 0.05

var (
	ErrNotFound          = errors.New("experiment not found")
	ErrConflict          = errors.New("experiment already exists")
	ErrInvalidExperiment = errors.New("invalid experiment")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Variant is one arm of an experiment's traffic split.
type Variant struct {
	ID                string  `json:"id"`
	Name              string  `json:"name,omitempty"`
	TrafficPercentage float64 `json:"traffic_percentage"`
	WeightsFile       string  `json:"weights_file,omitempty"`
}

// AutomationSettings controls the Monitor's evaluation behavior.
type AutomationSettings struct {
	MinimumImprovement   float64 `json:"minimum_improvement"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
}

// VariantResult holds the evaluated metrics for one variant.
type VariantResult struct {
	SampleSize  int     `json:"sample_size"`
	MetricValue float64 `json:"metric_value"`
}

// Results holds the outcome of an evaluation run.
type Results struct {
	Winner      string                   `json:"winner"`
	Significant bool                     `json:"significant"`
	Improvement float64                  `json:"improvement"`
	Variants    map[string]VariantResult `json:"variants,omitempty"`
	EvaluatedAt time.Time                `json:"evaluated_at"`
}

// Experiment defines one controlled ranking test.
type Experiment struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Type             string             `json:"type,omitempty"`
	PrimaryMetric    string             `json:"primary_metric"`
	SecondaryMetrics []string           `json:"secondary_metrics,omitempty"`
	Variants         []Variant          `json:"variants"`
	TargetAudience   string             `json:"target_audience,omitempty"`
	StartAt          time.Time          `json:"start_at"`
	EndAt            time.Time          `json:"end_at"`
	Status           Status             `json:"status"`
	Automation       AutomationSettings `json:"automation"`
	Results          *Results           `json:"results,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// trafficTolerance absorbs float accumulation in the traffic split check.
const trafficTolerance = 0.01

// Validate checks the structural invariants of an experiment definition.
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidExperiment)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidExperiment)
	}
	if e.PrimaryMetric == "" {
		return fmt.Errorf("%w: primary metric is required", ErrInvalidExperiment)
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("%w: at least 2 variants are required, got %d", ErrInvalidExperiment, len(e.Variants))
	}
	var traffic float64
	for _, v := range e.Variants {
		if v.ID == "" {
			return fmt.Errorf("%w: variant id is required", ErrInvalidExperiment)
		}
		traffic += v.TrafficPercentage
	}
	if math.Abs(traffic-100) > trafficTolerance {
		return fmt.Errorf("%w: traffic percentages must sum to 100, got %.2f", ErrInvalidExperiment, traffic)
	}
	if !e.EndAt.After(e.StartAt) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidExperiment)
	}
	return nil
}

// MinimumImprovement returns the configured significance threshold, falling
// back to the default when unset.
func (e *Experiment) MinimumImprovement() float64 {
	if e.Automation.MinimumImprovement > 0 {
		return e.Automation.MinimumImprovement
	}
	return DefaultMinimumImprovement
}

// IsActive reports whether the experiment is serving traffic right now.
func (e *Experiment) IsActive(now time.Time) bool {
	return e.Status == StatusActive && !now.Before(e.StartAt) && !now.After(e.EndAt)
}

// IsCompleted reports whether the experiment is over, either explicitly or
// because its window has passed.
func (e *Experiment) IsCompleted(now time.Time) bool {
	return e.Status == StatusCompleted || now.After(e.EndAt)
}

// validTransitions is the lifecycle graph: draft → active ⇄ paused →
// completed, with cancellation from any non-terminal state.
var validTransitions = map[Status][]Status{
	StatusDraft:  {StatusActive, StatusCancelled},
	StatusActive: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused: {StatusActive, StatusCompleted, StatusCancelled},
}

// CanTransition reports whether moving to the target status is allowed.
func (e *Experiment) CanTransition(target Status) bool {
	for _, allowed := range validTransitions[e.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition moves the experiment to the target status, enforcing the
// lifecycle graph. Terminal states reject all transitions.
func (e *Experiment) Transition(target Status) error {
	if !e.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, target)
	}
	e.Status = target
	return nil
}

package experiment

import (
	"errors"
	"testing"
	"time"
)

func validExperiment() *Experiment {
	return &Experiment{
		ID:            "exp-1",
		Name:          "boost hot weight",
		PrimaryMetric: "ctr",
		Variants: []Variant{
			{ID: "control", TrafficPercentage: 50},
			{ID: "treatment", TrafficPercentage: 50},
		},
		StartAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		Status:  StatusDraft,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Experiment)
		wantErr bool
	}{
		{"valid", func(*Experiment) {}, false},
		{"traffic within tolerance", func(e *Experiment) {
			e.Variants[0].TrafficPercentage = 49.995
			e.Variants[1].TrafficPercentage = 50.005
		}, false},
		{"missing id", func(e *Experiment) { e.ID = "" }, true},
		{"missing name", func(e *Experiment) { e.Name = "" }, true},
		{"missing primary metric", func(e *Experiment) { e.PrimaryMetric = "" }, true},
		{"single variant", func(e *Experiment) { e.Variants = e.Variants[:1] }, true},
		{"traffic under 100", func(e *Experiment) { e.Variants[0].TrafficPercentage = 30 }, true},
		{"traffic over 100", func(e *Experiment) { e.Variants[0].TrafficPercentage = 70 }, true},
		{"end before start", func(e *Experiment) { e.EndAt = e.StartAt.Add(-time.Hour) }, true},
		{"end equals start", func(e *Experiment) { e.EndAt = e.StartAt }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := validExperiment()
			tt.mutate(exp)
			err := exp.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidExperiment) {
				t.Errorf("expected ErrInvalidExperiment, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusCompleted, false},
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusCancelled, true},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusCompleted, true},
		{StatusCompleted, StatusActive, false},
		{StatusCancelled, StatusActive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			exp := validExperiment()
			exp.Status = tt.from
			err := exp.Transition(tt.to)
			if tt.allowed {
				if err != nil {
					t.Errorf("expected transition allowed, got %v", err)
				}
				if exp.Status != tt.to {
					t.Errorf("expected status %s, got %s", tt.to, exp.Status)
				}
			} else {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				if exp.Status != tt.from {
					t.Errorf("expected status unchanged, got %s", exp.Status)
				}
			}
		})
	}
}

func TestIsActive(t *testing.T) {
	exp := validExperiment()
	exp.Status = StatusActive

	inside := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	if !exp.IsActive(inside) {
		t.Error("expected active inside the window")
	}
	if exp.IsActive(exp.StartAt.Add(-time.Hour)) {
		t.Error("expected inactive before start")
	}
	if exp.IsActive(exp.EndAt.Add(time.Hour)) {
		t.Error("expected inactive after end")
	}

	exp.Status = StatusPaused
	if exp.IsActive(inside) {
		t.Error("expected paused experiment inactive")
	}
}

func TestIsCompleted(t *testing.T) {
	exp := validExperiment()
	inside := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)

	if exp.IsCompleted(inside) {
		t.Error("expected draft inside window not completed")
	}
	if !exp.IsCompleted(exp.EndAt.Add(time.Hour)) {
		t.Error("expected completed after window passes")
	}

	exp.Status = StatusCompleted
	if !exp.IsCompleted(inside) {
		t.Error("expected completed status to win regardless of window")
	}
}

func TestMinimumImprovementDefault(t *testing.T) {
	exp := validExperiment()
	if got := exp.MinimumImprovement(); got != DefaultMinimumImprovement {
		t.Errorf("expected default threshold, got %f", got)
	}
	exp.Automation.MinimumImprovement = 0.10
	if got := exp.MinimumImprovement(); got != 0.10 {
		t.Errorf("expected configured threshold, got %f", got)
	}
}

package analytics

import (
	"context"
	"log/slog"
)

// Notification announces a significant experiment result.
type Notification struct {
	ExperimentID string  `json:"experiment_id"`
	Name         string  `json:"name"`
	Winner       string  `json:"winner"`
	Improvement  float64 `json:"improvement"`
}

// Notifier delivers experiment result notifications. Delivery transport is
// out of scope here; implementations hand off to whatever channel operators
// watch.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("experiment result notification",
		"experiment_id", n.ExperimentID,
		"name", n.Name,
		"winner", n.Winner,
		"improvement", n.Improvement)
	return nil
}

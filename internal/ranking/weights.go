package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
)

// Weights defines the blend contribution of each scoring engine.
// A valid profile sums to 1 across all five components.
type Weights struct {
	Hot           float64 `json:"hot"`            // popularity baseline (default: 0.25)
	Recency       float64 `json:"recency"`        // freshness baseline (default: 0.15)
	Content       float64 `json:"content"`        // tag-affinity engine (default: 0.20)
	Collaborative float64 `json:"collaborative"`  // plain collaborative engine (default: 0.20)
	SocialCollab  float64 `json:"social_collab"`  // social-weighted collaborative engine (default: 0.20)
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Weight-profile version, part of the cache key
	Weights Weights `json:"weights"` // Weight overrides
}

// DefaultWeightsVersion identifies the built-in weight profile.
const DefaultWeightsVersion = "default-v1"

// DefaultWeights returns the default blend weight profile.
// The behavior-based engines carry 60% of the score for warm users; the
// popularity and recency baselines carry the remainder and take over fully
// under cold start.
func DefaultWeights() *Weights {
	return &Weights{
		Hot:           0.25,
		Recency:       0.15,
		Content:       0.20,
		Collaborative: 0.20,
		SocialCollab:  0.20,
	}
}

// Sum returns the total of all components.
func (w *Weights) Sum() float64 {
	return w.Hot + w.Recency + w.Content + w.Collaborative + w.SocialCollab
}

// Normalized returns a copy scaled so the components sum to 1.
// A non-positive sum falls back to the defaults.
func (w *Weights) Normalized() *Weights {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeights()
	}
	return &Weights{
		Hot:           w.Hot / sum,
		Recency:       w.Recency / sum,
		Content:       w.Content / sum,
		Collaborative: w.Collaborative / sum,
		SocialCollab:  w.SocialCollab / sum,
	}
}

// ColdStartAdjusted returns the profile used for users below the cold-start
// threshold: content and collaborative are zeroed and their mass moves to
// hot and recency in proportion, keeping the sum at 1. SocialCollab stays,
// since neighbor history can score items the user's own history cannot.
func (w *Weights) ColdStartAdjusted() *Weights {
	zeroed := w.Content + w.Collaborative
	base := w.Hot + w.Recency
	if base <= 0 {
		// Degenerate profile with no baseline mass; split it evenly.
		half := zeroed / 2
		return &Weights{Hot: half, Recency: half, SocialCollab: w.SocialCollab}
	}
	return &Weights{
		Hot:          w.Hot + zeroed*w.Hot/base,
		Recency:      w.Recency + zeroed*w.Recency/base,
		SocialCollab: w.SocialCollab,
	}
}

// Validate checks the profile sums to 1 within tolerance.
func (w *Weights) Validate() error {
	if math.Abs(w.Sum()-1) > 0.01 {
		return fmt.Errorf("blend weights must sum to 1, got %.4f", w.Sum())
	}
	return nil
}

// LoadCalibration loads blend weights from a JSON calibration file.
// Partial configurations are merged with defaults, then normalized, so a
// calibration file can override a single component without re-specifying the
// rest. On any error the defaults are returned alongside the error so the
// caller can degrade gracefully.
func LoadCalibration(filePath string) (*Weights, string, error) {
	if filePath == "" {
		return DefaultWeights(), DefaultWeightsVersion, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read weight calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), DefaultWeightsVersion, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse weight calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), DefaultWeightsVersion, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	merged := MergeCalibration(DefaultWeights(), &config.Weights).Normalized()
	version := config.Version
	if version == "" {
		version = DefaultWeightsVersion
	}

	slog.Info("loaded blend weight calibration",
		"version", version,
		"hot", merged.Hot,
		"recency", merged.Recency,
		"content", merged.Content,
		"collaborative", merged.Collaborative,
		"social_collab", merged.SocialCollab)

	return merged, version, nil
}

// MergeCalibration merges override weights into a base profile.
// Only non-zero override components are applied, allowing partial overrides
// in the calibration file.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}
	if override == nil {
		result := *base
		return &result
	}

	result := *base
	if override.Hot != 0 {
		result.Hot = override.Hot
	}
	if override.Recency != 0 {
		result.Recency = override.Recency
	}
	if override.Content != 0 {
		result.Content = override.Content
	}
	if override.Collaborative != 0 {
		result.Collaborative = override.Collaborative
	}
	if override.SocialCollab != 0 {
		result.SocialCollab = override.SocialCollab
	}
	return &result
}

package impression

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutcomeTotals counts each outcome type across a set of impressions.
type OutcomeTotals struct {
	Clicks   int `json:"clicks"`
	Likes    int `json:"likes"`
	Shares   int `json:"shares"`
	Comments int `json:"comments"`
	Collects int `json:"collects"`
	Dislikes int `json:"dislikes"`
}

// AlgorithmStats aggregates impression outcomes for one algorithm.
type AlgorithmStats struct {
	Algorithm            string        `json:"algorithm"`
	TotalRecommendations int           `json:"total_recommendations"`
	CTR                  float64       `json:"ctr"`
	EngagementRate       float64       `json:"engagement_rate"`
	AvgViewDuration      float64       `json:"avg_view_duration"`
	AvgRating            float64       `json:"avg_rating"`
	Outcomes             OutcomeTotals `json:"outcomes"`
}

// VariantStats aggregates impression outcomes for one experiment variant.
type VariantStats struct {
	Variant              string        `json:"variant"`
	TotalRecommendations int           `json:"total_recommendations"`
	CTR                  float64       `json:"ctr"`
	EngagementRate       float64       `json:"engagement_rate"`
	AvgViewDuration      float64       `json:"avg_view_duration"`
	AvgRating            float64       `json:"avg_rating"`
	Outcomes             OutcomeTotals `json:"outcomes"`
}

// ExperimentResults aggregates impression outcomes per variant.
type ExperimentResults struct {
	ExperimentID         string                   `json:"experiment_id"`
	TotalRecommendations int                      `json:"total_recommendations"`
	Variants             map[string]*VariantStats `json:"variants"`
}

// MetricValue extracts a named aggregate metric from variant stats.
// Unknown names return 0.
func (v *VariantStats) MetricValue(name string) float64 {
	switch name {
	case "ctr":
		return v.CTR
	case "engagement_rate":
		return v.EngagementRate
	case "avg_view_duration":
		return v.AvgViewDuration
	case "avg_rating":
		return v.AvgRating
	}
	return 0
}

// Recorder writes impressions and applies interaction outcomes to them.
type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// SetClock overrides the recorder's clock, for tests.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record validates and persists a new impression, assigning an id and
// recomputing derived fields. The feature snapshot is stored as given and
// never touched again. Recording is idempotent by id: replaying an id that
// was already recorded returns the originally stored row.
func (r *Recorder) Record(ctx context.Context, imp *Impression) (*Impression, error) {
	if err := imp.Validate(); err != nil {
		return nil, err
	}
	stored := *imp
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.RecommendedAt.IsZero() {
		stored.RecommendedAt = r.now()
	}
	stored.recomputeDerived()
	return r.store.Insert(ctx, &stored)
}

// UpdateExtra carries the value payload of view and rate interactions.
type UpdateExtra struct {
	ViewDuration float64
	Rating       int
}

// Update applies one interaction to an impression and recomputes its derived
// fields. The first interaction also fixes time_to_interact; repeated or
// later interactions never overwrite it.
func (r *Recorder) Update(ctx context.Context, id, interactionType string, extra UpdateExtra) (*Impression, error) {
	imp, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	applied, err := imp.applyInteraction(interactionType, extra.ViewDuration, extra.Rating)
	if err != nil {
		return nil, err
	}
	if !applied {
		return imp, nil
	}

	if imp.InteractedAt == nil {
		now := r.now()
		imp.InteractedAt = &now
		imp.TimeToInteract = now.Sub(imp.RecommendedAt).Seconds()
	}
	imp.recomputeDerived()

	if err := r.store.Save(ctx, imp); err != nil {
		return nil, err
	}
	return imp, nil
}

// AlgorithmStats aggregates outcomes for one algorithm over a time window.
// When no impressions match it returns a zeroed shape, never an error.
func (r *Recorder) AlgorithmStats(ctx context.Context, algorithm string, start, end time.Time) (*AlgorithmStats, error) {
	impressions, err := r.store.ListByAlgorithm(ctx, algorithm, start, end)
	if err != nil {
		return nil, err
	}

	agg := aggregateOutcomes(impressions)
	return &AlgorithmStats{
		Algorithm:            algorithm,
		TotalRecommendations: agg.total,
		CTR:                  agg.ctr,
		EngagementRate:       agg.engagementRate,
		AvgViewDuration:      agg.avgViewDuration,
		AvgRating:            agg.avgRating,
		Outcomes:             agg.outcomes,
	}, nil
}

// ExperimentResults aggregates outcomes per variant for one experiment.
// Returns a zeroed shape with no variants when nothing matches.
func (r *Recorder) ExperimentResults(ctx context.Context, experimentID string, start, end time.Time) (*ExperimentResults, error) {
	impressions, err := r.store.ListByExperiment(ctx, experimentID, start, end)
	if err != nil {
		return nil, err
	}

	byVariant := make(map[string][]*Impression)
	for _, imp := range impressions {
		byVariant[imp.Variant] = append(byVariant[imp.Variant], imp)
	}

	results := &ExperimentResults{
		ExperimentID:         experimentID,
		TotalRecommendations: len(impressions),
		Variants:             make(map[string]*VariantStats, len(byVariant)),
	}
	for variant, rows := range byVariant {
		agg := aggregateOutcomes(rows)
		results.Variants[variant] = &VariantStats{
			Variant:              variant,
			TotalRecommendations: agg.total,
			CTR:                  agg.ctr,
			EngagementRate:       agg.engagementRate,
			AvgViewDuration:      agg.avgViewDuration,
			AvgRating:            agg.avgRating,
			Outcomes:             agg.outcomes,
		}
	}
	return results, nil
}

type outcomeAggregate struct {
	total           int
	ctr             float64
	engagementRate  float64
	avgViewDuration float64
	avgRating       float64
	outcomes        OutcomeTotals
}

func aggregateOutcomes(impressions []*Impression) outcomeAggregate {
	agg := outcomeAggregate{total: len(impressions)}
	if agg.total == 0 {
		return agg
	}

	var ctrSum, engagementSum, durationSum, ratingSum float64
	var viewed, rated int
	for _, imp := range impressions {
		ctrSum += imp.CTR
		engagementSum += imp.EngagementRate
		if imp.ViewDuration > 0 {
			durationSum += imp.ViewDuration
			viewed++
		}
		if imp.UserRating > 0 {
			ratingSum += float64(imp.UserRating)
			rated++
		}
		if imp.Clicked {
			agg.outcomes.Clicks++
		}
		if imp.Liked {
			agg.outcomes.Likes++
		}
		if imp.Shared {
			agg.outcomes.Shares++
		}
		if imp.Commented {
			agg.outcomes.Comments++
		}
		if imp.Collected {
			agg.outcomes.Collects++
		}
		if imp.Disliked {
			agg.outcomes.Dislikes++
		}
	}

	agg.ctr = ctrSum / float64(agg.total)
	agg.engagementRate = engagementSum / float64(agg.total)
	if viewed > 0 {
		agg.avgViewDuration = durationSum / float64(viewed)
	}
	if rated > 0 {
		agg.avgRating = ratingSum / float64(rated)
	}
	return agg
}

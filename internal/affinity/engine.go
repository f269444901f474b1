package affinity

import (
	"context"
	"fmt"
	"sort"
)

// defaultTagWeight is the weight assumed for a tag absent from the
// preference vector when computing weighted tag similarity.
const defaultTagWeight = 0.1

// TagSimilarity computes an overlap-based similarity between two tag sets
// in [0, 1]. When prefs is non-nil the overlap is weighted by preference,
// so shared tags the user cares about count for more. Returns 0 if either
// set is empty.
func TagSimilarity(tagsA, tagsB []string, prefs map[string]float64) float64 {
	if len(tagsA) == 0 || len(tagsB) == 0 {
		return 0
	}

	setA := toSet(tagsA)
	setB := toSet(tagsB)

	weight := func(tag string) float64 {
		if prefs != nil {
			if w, ok := prefs[tag]; ok && w > 0 {
				return w
			}
			return defaultTagWeight
		}
		return 1
	}

	var intersection, union float64
	for tag := range setA {
		if setB[tag] {
			intersection += weight(tag)
		}
		union += weight(tag)
	}
	for tag := range setB {
		if !setA[tag] {
			union += weight(tag)
		}
	}
	if union == 0 {
		return 0
	}
	return intersection / union
}

// PreferenceMatch returns the summed preference weight of the item's tags.
// The preference vector is normalized so the result stays in [0, 1].
// Returns 0 when no tag overlaps the profile.
func PreferenceMatch(itemTags []string, prefs map[string]float64) float64 {
	if len(itemTags) == 0 || len(prefs) == 0 {
		return 0
	}
	var match float64
	for _, tag := range itemTags {
		match += prefs[tag]
	}
	if match > 1 {
		return 1
	}
	return match
}

// Recommendation is one scored item from the affinity engine.
type Recommendation struct {
	ItemID     string  `json:"id"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	HotScore   float64 `json:"hot_score"`
}

// Options controls affinity recommendation generation.
type Options struct {
	// Limit caps the number of results; 0 means no cap.
	Limit int
	// MinSimilarity filters out items whose tag similarity is below this value.
	MinSimilarity float64
	// HotScoreWeight in [0, 1] blends normalized item popularity into the
	// score; 0 scores purely on tag similarity.
	HotScoreWeight float64
	// ExcludeInteracted drops items the user already interacted with.
	ExcludeInteracted bool
	// ExcludeIDs drops the given item ids regardless of score.
	ExcludeIDs []string
}

// Engine produces content-based and tag-based recommendations.
type Engine struct {
	aggregator *Aggregator
}

// NewEngine creates an affinity engine over an aggregator.
func NewEngine(aggregator *Aggregator) *Engine {
	return &Engine{aggregator: aggregator}
}

// ContentRecommendations scores catalog items against the user's preference
// profile. A user with no history gets an empty list; the combiner falls
// back to other signals in that case.
func (e *Engine) ContentRecommendations(ctx context.Context, userID string, opts Options) ([]Recommendation, error) {
	profile, err := e.aggregator.BuildProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(profile.TagWeights) == 0 {
		return nil, nil
	}

	preferredTags := make([]string, 0, len(profile.TagWeights))
	for tag := range profile.TagWeights {
		preferredTags = append(preferredTags, tag)
	}
	sort.Strings(preferredTags)

	exclude := toSet(opts.ExcludeIDs)
	if opts.ExcludeInteracted {
		interacted, err := e.aggregator.InteractedItems(ctx, userID)
		if err != nil {
			return nil, err
		}
		for id := range interacted {
			exclude[id] = true
		}
	}

	return e.scoreByTags(ctx, preferredTags, profile.TagWeights, exclude, opts)
}

// TagRecommendations scores catalog items against an explicit tag set, with
// no profile weighting. An empty tag input yields an empty list.
func (e *Engine) TagRecommendations(ctx context.Context, tags []string, opts Options) ([]Recommendation, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	return e.scoreByTags(ctx, tags, nil, toSet(opts.ExcludeIDs), opts)
}

func (e *Engine) scoreByTags(ctx context.Context, tags []string, prefs map[string]float64, exclude map[string]bool, opts Options) ([]Recommendation, error) {
	candidates, err := e.aggregator.catalog.ListItemsByTags(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate items: %w", err)
	}

	// Normalize hot over the kept candidates only, so an excluded outlier
	// cannot deflate everyone else's popularity blend.
	var maxHot float64
	for _, item := range candidates {
		if exclude[item.ID] {
			continue
		}
		if item.HotScore > maxHot {
			maxHot = item.HotScore
		}
	}

	var recs []Recommendation
	for _, item := range candidates {
		if exclude[item.ID] {
			continue
		}
		sim := TagSimilarity(item.Tags, tags, prefs)
		if sim < opts.MinSimilarity {
			continue
		}
		score := sim
		if opts.HotScoreWeight > 0 && maxHot > 0 {
			normHot := item.HotScore / maxHot
			score = (1-opts.HotScoreWeight)*sim + opts.HotScoreWeight*normHot
		}
		recs = append(recs, Recommendation{
			ItemID:     item.ID,
			Score:      score,
			Similarity: sim,
			HotScore:   item.HotScore,
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].ItemID < recs[j].ItemID
	})
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Package affinity derives per-user tag preference profiles from the
// interaction log and scores items against them.
package affinity

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/feedforge/rankmix/internal/content"
	"github.com/feedforge/rankmix/internal/event"
)

// DecayFactor is the per-day multiplicative decay applied to interaction
// weights, so a week-old like counts for roughly 70% of a fresh one.
const DecayFactor = 0.95

// ConfidenceSaturationCount is the interaction count at which profile
// confidence reaches 1.0. Below it, confidence scales linearly.
const ConfidenceSaturationCount = 20

// profileEventTypes are the interaction types that contribute to a tag
// preference profile. Publish events describe authorship, not consumption,
// and are excluded here.
var profileEventTypes = map[event.Type]bool{
	event.TypeLike:    true,
	event.TypeCollect: true,
	event.TypeComment: true,
	event.TypeShare:   true,
	event.TypeView:    true,
}

// Profile is a user's derived tag preference vector.
type Profile struct {
	// TagWeights is normalized so all weights sum to 1. Empty when the
	// user has no interaction history.
	TagWeights map[string]float64 `json:"tag_weights"`
	// Confidence in [0, 1] grows with the amount of history behind the profile.
	Confidence float64 `json:"confidence"`
	// InteractionCount is the raw number of events that fed the profile.
	InteractionCount int `json:"interaction_count"`
}

// Aggregator builds preference profiles from interaction events joined to
// item tags.
type Aggregator struct {
	events  event.Source
	catalog content.Source
}

// NewAggregator creates an aggregator over the event log and item catalog.
func NewAggregator(events event.Source, catalog content.Source) *Aggregator {
	return &Aggregator{events: events, catalog: catalog}
}

// BuildProfile computes the tag preference profile for one user.
// Each qualifying event contributes its type weight decayed by age; weights
// accumulate per tag and are normalized into a distribution. A user with no
// history gets an empty profile with zero confidence.
func (a *Aggregator) BuildProfile(ctx context.Context, userID string) (*Profile, error) {
	return a.buildProfileAt(ctx, userID, time.Now())
}

func (a *Aggregator) buildProfileAt(ctx context.Context, userID string, now time.Time) (*Profile, error) {
	events, err := a.events.ListByActor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}

	raw := make(map[string]float64)
	count := 0
	for _, ev := range events {
		if !profileEventTypes[ev.Type] {
			continue
		}
		item, err := a.catalog.GetItem(ctx, ev.ItemID)
		if err == content.ErrItemNotFound {
			// Items can be removed from the catalog after interaction.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load item %s: %w", ev.ItemID, err)
		}
		count++
		weight := ev.Type.Weight() * decayAt(ev.OccurredAt, now)
		for _, tag := range item.Tags {
			raw[tag] += weight
		}
	}

	if count == 0 {
		return &Profile{TagWeights: map[string]float64{}}, nil
	}

	var total float64
	for _, w := range raw {
		total += w
	}
	normalized := make(map[string]float64, len(raw))
	if total > 0 {
		for tag, w := range raw {
			normalized[tag] = w / total
		}
	}

	return &Profile{
		TagWeights:       normalized,
		Confidence:       confidence(count),
		InteractionCount: count,
	}, nil
}

// InteractedItems returns the set of item ids the user has interacted with.
func (a *Aggregator) InteractedItems(ctx context.Context, userID string) (map[string]bool, error) {
	events, err := a.events.ListByActor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seen[ev.ItemID] = true
	}
	return seen, nil
}

func decayAt(occurredAt, now time.Time) float64 {
	days := now.Sub(occurredAt).Hours() / 24
	if days <= 0 {
		return 1
	}
	return math.Pow(DecayFactor, days)
}

func confidence(interactionCount int) float64 {
	c := float64(interactionCount) / ConfidenceSaturationCount
	if c > 1 {
		return 1
	}
	return c
}

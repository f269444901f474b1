// Package impression records served recommendations and the user outcomes
// that follow, deriving per-impression and aggregate quality metrics.
package impression

import (
	"errors"
	"fmt"
	"time"
)

// Interaction types accepted by Update.
const (
	InteractionClick   = "click"
	InteractionLike    = "like"
	InteractionShare   = "share"
	InteractionComment = "comment"
	InteractionCollect = "collect"
	InteractionDislike = "dislike"
	InteractionView    = "view"
	InteractionRate    = "rate"
)

var (
	ErrNotFound           = errors.New("impression not found")
	ErrInvalidImpression  = errors.New("invalid impression")
	ErrUnknownInteraction = errors.New("unknown interaction type")
)

// FeatureSnapshot captures user and item features at serve time.
// It is written once with the impression and never mutated afterwards.
type FeatureSnapshot struct {
	ItemTags             []string `json:"item_tags,omitempty"`
	ItemHotScore         float64  `json:"item_hot_score"`
	UserInteractionCount int      `json:"user_interaction_count"`
	UserInfluenceScore   float64  `json:"user_influence_score"`
}

// ServeContext describes where in the product the impression was shown.
type ServeContext struct {
	Page      int    `json:"page"`
	Position  int    `json:"position"`
	SessionID string `json:"session_id,omitempty"`
}

// Impression is one served, scored, ranked item shown to one user, plus the
// outcome signals collected afterwards.
type Impression struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	ItemID       string  `json:"item_id"`
	Algorithm    string  `json:"algorithm"`
	Score        float64 `json:"score"`
	Rank         int     `json:"rank"`
	ExperimentID string  `json:"experiment_id,omitempty"`
	Variant      string  `json:"variant,omitempty"`

	Context  ServeContext    `json:"context"`
	Features FeatureSnapshot `json:"features"`

	Clicked   bool `json:"is_clicked"`
	Liked     bool `json:"is_liked"`
	Shared    bool `json:"is_shared"`
	Commented bool `json:"is_commented"`
	Collected bool `json:"is_collected"`
	Disliked  bool `json:"is_disliked"`

	ViewDuration float64 `json:"view_duration"` // seconds
	UserRating   int     `json:"user_rating"`   // 0 means unrated

	// TimeToInteract is set on the first interaction only, in seconds
	// since the impression was served.
	TimeToInteract float64 `json:"time_to_interact"`

	CTR               float64  `json:"ctr"`
	EngagementRate    float64  `json:"engagement_rate"`
	SatisfactionScore *float64 `json:"satisfaction_score"`

	RecommendedAt time.Time  `json:"recommended_at"`
	InteractedAt  *time.Time `json:"interacted_at,omitempty"`
}

// engagementTypeCount is the fixed denominator of the engagement rate: the
// number of positive interaction types, independent of event repetition.
const engagementTypeCount = 4

// Validate checks the fields required at serve time.
func (imp *Impression) Validate() error {
	switch {
	case imp.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidImpression)
	case imp.ItemID == "":
		return fmt.Errorf("%w: item id is required", ErrInvalidImpression)
	case imp.Algorithm == "":
		return fmt.Errorf("%w: algorithm is required", ErrInvalidImpression)
	case imp.Rank < 0:
		return fmt.Errorf("%w: rank must not be negative", ErrInvalidImpression)
	}
	return nil
}

func (imp *Impression) positiveCount() int {
	count := 0
	for _, flag := range []bool{imp.Liked, imp.Shared, imp.Commented, imp.Collected} {
		if flag {
			count++
		}
	}
	return count
}

func (imp *Impression) hasOutcomeSignal() bool {
	return imp.Clicked || imp.Liked || imp.Shared || imp.Commented ||
		imp.Collected || imp.Disliked || imp.UserRating > 0
}

// recomputeDerived refreshes ctr, engagement rate and satisfaction after
// every outcome write.
func (imp *Impression) recomputeDerived() {
	imp.CTR = 0
	if imp.Clicked {
		imp.CTR = 1
	}

	positives := imp.positiveCount()
	imp.EngagementRate = float64(positives) / engagementTypeCount

	switch {
	case imp.UserRating > 0:
		score := float64(imp.UserRating) / 5
		imp.SatisfactionScore = &score
	case imp.hasOutcomeSignal():
		dislike := 0
		if imp.Disliked {
			dislike = 1
		}
		score := float64(positives-dislike) / engagementTypeCount
		if score < 0 {
			score = 0
		}
		imp.SatisfactionScore = &score
	default:
		imp.SatisfactionScore = nil
	}
}

// applyInteraction mutates the impression for one interaction event.
// Setting an already-set flag is a no-op, so repeated events are idempotent.
// Returns whether the event counts as a user interaction for the purpose of
// time_to_interact.
func (imp *Impression) applyInteraction(interactionType string, viewDuration float64, rating int) (bool, error) {
	switch interactionType {
	case InteractionClick:
		imp.Clicked = true
	case InteractionLike:
		imp.Liked = true
	case InteractionShare:
		imp.Shared = true
	case InteractionComment:
		imp.Commented = true
	case InteractionCollect:
		imp.Collected = true
	case InteractionDislike:
		imp.Disliked = true
	case InteractionView:
		imp.ViewDuration = viewDuration
	case InteractionRate:
		if rating < 1 || rating > 5 {
			// Out-of-range ratings are dropped without error.
			return false, nil
		}
		imp.UserRating = rating
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownInteraction, interactionType)
	}
	return true, nil
}

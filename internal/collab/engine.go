package collab

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/feedforge/rankmix/internal/content"
	"github.com/feedforge/rankmix/internal/event"
	"github.com/feedforge/rankmix/internal/social"
)

// Neighbor selection bounds for the social-weighted engine.
const (
	DefaultMinNeighborSimilarity = 0.05
	DefaultMaxNeighbors          = 50
)

// RecommendationTypeSocial tags results produced by neighbor scoring.
const RecommendationTypeSocial = "social_collaborative"

// RecommendationTypeFallback tags hot-score results served when the user has
// no interaction matrix or no social graph to score from.
const RecommendationTypeFallback = "social_collaborative_fallback"

// fallbackCandidateLimit bounds how many hot items the cold-start path pulls
// before exclusion and paging.
const fallbackCandidateLimit = 500

// Options controls recommendation generation.
type Options struct {
	Limit      int
	Page       int
	ExcludeIDs []string
}

func (o Options) normalize() Options {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Page <= 0 {
		o.Page = 1
	}
	return o
}

// Recommendation is one scored item from the social-collaborative engine.
type Recommendation struct {
	ItemID             string  `json:"id"`
	Score              float64 `json:"score"`
	RecommendationType string  `json:"recommendation_type"`
}

// Stats summarizes one user's collaborative and social standing.
type Stats struct {
	InteractionCount   int     `json:"interaction_count"`
	SocialConnections  int     `json:"social_connections"`
	FollowersCount     int     `json:"followers_count"`
	FollowingCount     int     `json:"following_count"`
	MutualFollowsCount int     `json:"mutual_follows_count"`
	InfluenceScore     float64 `json:"influence_score"`
}

// WarmupResult reports figures from a batch precompute pass. It exists for
// observability only and never changes scoring semantics.
type WarmupResult struct {
	TotalUsers             int           `json:"total_users"`
	TotalInteractions      int           `json:"total_interactions"`
	TotalSocialConnections int           `json:"total_social_connections"`
	AverageInfluenceScore  float64       `json:"average_influence_score"`
	ProcessingTime         time.Duration `json:"processing_time"`
}

// Engine produces social-weighted collaborative filtering recommendations.
type Engine struct {
	events  event.Source
	catalog content.Source
	graphs  *social.Builder

	minNeighborSimilarity float64
	maxNeighbors          int
}

// NewEngine creates a collaborative engine over the event log and catalog.
func NewEngine(events event.Source, catalog content.Source) *Engine {
	return &Engine{
		events:                events,
		catalog:               catalog,
		graphs:                social.NewBuilder(events),
		minNeighborSimilarity: DefaultMinNeighborSimilarity,
		maxNeighbors:          DefaultMaxNeighbors,
	}
}

// SetMinNeighborSimilarity overrides the neighbor similarity floor.
// Values outside (0, 1] keep the default.
func (e *Engine) SetMinNeighborSimilarity(v float64) {
	if v > 0 && v <= 1 {
		e.minNeighborSimilarity = v
	}
}

// Recommendations scores unseen items for a user by social-weighted neighbor
// interactions. Exclusions apply before paging, so successive pages requested
// with growing exclude lists stay disjoint. When the user has no interaction
// vector or no social edges the engine falls back to a hot-score list tagged
// RecommendationTypeFallback.
func (e *Engine) Recommendations(ctx context.Context, userID string, opts Options) ([]Recommendation, error) {
	opts = opts.normalize()

	universe, err := e.scoringUniverse(ctx, userID)
	if err != nil {
		return nil, err
	}
	matrix, err := BuildMatrix(ctx, e.events, universe)
	if err != nil {
		return nil, err
	}
	graph, err := e.graphs.BuildGraph(ctx, universe)
	if err != nil {
		return nil, err
	}

	node := graph.Node(userID)
	coldStart := len(matrix.Vector(userID)) == 0 || node == nil || node.EdgeCount() == 0
	if coldStart {
		return e.fallback(ctx, opts)
	}

	neighbors := social.FindSimilarUsers(userID, graph, e.minNeighborSimilarity, e.maxNeighbors)

	userVec := matrix.Vector(userID)
	exclude := make(map[string]bool, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		exclude[id] = true
	}

	scores := make(map[string]float64)
	for _, n := range neighbors {
		nVec := matrix.Vector(n.UserID)
		if len(nVec) == 0 {
			continue
		}
		w := SocialWeightedSimilarity(userVec, nVec, n.Similarity, n.Influence)
		if w == 0 {
			continue
		}
		for itemID, itemWeight := range nVec {
			if _, seen := userVec[itemID]; seen {
				continue
			}
			if exclude[itemID] {
				continue
			}
			scores[itemID] += w * itemWeight
		}
	}

	if len(scores) == 0 {
		return e.fallback(ctx, opts)
	}

	recs := make([]Recommendation, 0, len(scores))
	for itemID, score := range scores {
		recs = append(recs, Recommendation{
			ItemID:             itemID,
			Score:              score,
			RecommendationType: RecommendationTypeSocial,
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].ItemID < recs[j].ItemID
	})

	return paginate(recs, opts), nil
}

// PlainScores computes the unweighted collaborative score map for a user:
// neighbors are every other user with an interaction vector, weighted purely
// by vector similarity. Returns an empty map for cold-start users.
func (e *Engine) PlainScores(ctx context.Context, userID string) (map[string]float64, error) {
	universe, err := e.scoringUniverse(ctx, userID)
	if err != nil {
		return nil, err
	}
	matrix, err := BuildMatrix(ctx, e.events, universe)
	if err != nil {
		return nil, err
	}
	userVec := matrix.Vector(userID)
	if len(userVec) == 0 {
		return map[string]float64{}, nil
	}

	scores := make(map[string]float64)
	for neighborID, nVec := range matrix {
		if neighborID == userID {
			continue
		}
		sim := VectorSimilarity(userVec, nVec)
		if sim == 0 {
			continue
		}
		for itemID, w := range nVec {
			if _, seen := userVec[itemID]; seen {
				continue
			}
			scores[itemID] += sim * w
		}
	}
	return scores, nil
}

// SocialScores computes the social-weighted collaborative score map for a
// user, unpaginated. Returns an empty map for cold-start users.
func (e *Engine) SocialScores(ctx context.Context, userID string) (map[string]float64, error) {
	universe, err := e.scoringUniverse(ctx, userID)
	if err != nil {
		return nil, err
	}
	matrix, err := BuildMatrix(ctx, e.events, universe)
	if err != nil {
		return nil, err
	}
	graph, err := e.graphs.BuildGraph(ctx, universe)
	if err != nil {
		return nil, err
	}

	userVec := matrix.Vector(userID)
	node := graph.Node(userID)
	if len(userVec) == 0 || node == nil || node.EdgeCount() == 0 {
		return map[string]float64{}, nil
	}

	scores := make(map[string]float64)
	for _, n := range social.FindSimilarUsers(userID, graph, e.minNeighborSimilarity, e.maxNeighbors) {
		nVec := matrix.Vector(n.UserID)
		if len(nVec) == 0 {
			continue
		}
		w := SocialWeightedSimilarity(userVec, nVec, n.Similarity, n.Influence)
		if w == 0 {
			continue
		}
		for itemID, itemWeight := range nVec {
			if _, seen := userVec[itemID]; seen {
				continue
			}
			scores[itemID] += w * itemWeight
		}
	}
	return scores, nil
}

// fallback serves a hot-score-sorted, excluded, paginated list for users the
// collaborative path cannot score.
func (e *Engine) fallback(ctx context.Context, opts Options) ([]Recommendation, error) {
	items, err := e.catalog.ListHotItems(ctx, fallbackCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback items: %w", err)
	}

	exclude := make(map[string]bool, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		exclude[id] = true
	}

	recs := make([]Recommendation, 0, len(items))
	for _, item := range items {
		if exclude[item.ID] {
			continue
		}
		recs = append(recs, Recommendation{
			ItemID:             item.ID,
			Score:              item.HotScore,
			RecommendationType: RecommendationTypeFallback,
		})
	}
	return paginate(recs, opts), nil
}

// Stats reports one user's interaction and social-graph standing.
func (e *Engine) Stats(ctx context.Context, userID string) (*Stats, error) {
	count, err := e.events.CountByActor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}
	graph, err := e.graphs.BuildGraph(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	node := graph.Node(userID)

	return &Stats{
		InteractionCount:   count,
		SocialConnections:  node.EdgeCount(),
		FollowersCount:     len(node.Followers),
		FollowingCount:     len(node.Following),
		MutualFollowsCount: len(node.Mutual),
		InfluenceScore:     node.InfluenceScore,
	}, nil
}

// WarmCache runs a batch precompute over the given users and reports
// aggregate figures.
func (e *Engine) WarmCache(ctx context.Context, userIDs []string) (*WarmupResult, error) {
	start := time.Now()

	matrix, err := BuildMatrix(ctx, e.events, userIDs)
	if err != nil {
		return nil, err
	}
	graph, err := e.graphs.BuildGraph(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	var interactions int
	for _, vec := range matrix {
		interactions += len(vec)
	}
	var connections int
	var influenceSum float64
	for _, id := range graph.UserIDs() {
		node := graph.Node(id)
		connections += node.EdgeCount()
		influenceSum += node.InfluenceScore
	}
	avgInfluence := 0.0
	if graph.Size() > 0 {
		avgInfluence = influenceSum / float64(graph.Size())
	}

	return &WarmupResult{
		TotalUsers:             len(userIDs),
		TotalInteractions:      interactions,
		TotalSocialConnections: connections,
		AverageInfluenceScore:  avgInfluence,
		ProcessingTime:         time.Since(start),
	}, nil
}

// scoringUniverse returns the user plus every active actor, deduplicated.
func (e *Engine) scoringUniverse(ctx context.Context, userID string) ([]string, error) {
	actors, err := e.events.ActiveActors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active actors: %w", err)
	}
	seen := map[string]bool{userID: true}
	universe := []string{userID}
	for _, id := range actors {
		if !seen[id] {
			seen[id] = true
			universe = append(universe, id)
		}
	}
	return universe, nil
}

func paginate(recs []Recommendation, opts Options) []Recommendation {
	skip := (opts.Page - 1) * opts.Limit
	if skip >= len(recs) {
		return nil
	}
	end := skip + opts.Limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[skip:end]
}

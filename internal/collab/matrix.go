// Package collab implements collaborative filtering over the user-item
// interaction matrix, including the social-weighted variant that re-weights
// neighbors by follow-graph closeness and influence.
package collab

import (
	"context"
	"fmt"
	"math"

	"github.com/feedforge/rankmix/internal/event"
)

// Matrix maps user id to an item-id -> weight vector. Weights use the shared
// interaction type table without time decay.
type Matrix map[string]map[string]float64

// Vector returns the item-weight vector for a user; nil if absent.
func (m Matrix) Vector(userID string) map[string]float64 {
	return m[userID]
}

// TotalInteractionWeight sums every weight in the matrix.
func (m Matrix) TotalInteractionWeight() float64 {
	var total float64
	for _, vec := range m {
		for _, w := range vec {
			total += w
		}
	}
	return total
}

// BuildMatrix assembles the interaction matrix for the given users from the
// event log. Repeated interactions with the same item accumulate.
func BuildMatrix(ctx context.Context, events event.Source, userIDs []string) (Matrix, error) {
	byActor, err := events.ListByActors(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build interaction matrix: %w", err)
	}

	matrix := make(Matrix, len(byActor))
	for actorID, list := range byActor {
		vec := make(map[string]float64)
		for _, ev := range list {
			vec[ev.ItemID] += ev.Type.Weight()
		}
		if len(vec) > 0 {
			matrix[actorID] = vec
		}
	}
	return matrix, nil
}

// VectorSimilarity computes the cosine similarity of two item-weight
// vectors in [0, 1]. Returns 0 when either vector is empty.
func VectorSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for item, wa := range a {
		if wb, ok := b[item]; ok {
			dot += wa * wb
		}
		normA += wa * wa
	}
	for _, wb := range b {
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CollaborativeScore computes the plain neighbor-weighted score of one item
// for a user: the sum over neighbors of similarity times the neighbor's
// weight for the item.
func CollaborativeScore(userID, itemID string, matrix Matrix, neighbors []string) float64 {
	userVec := matrix.Vector(userID)
	var score float64
	for _, n := range neighbors {
		nVec := matrix.Vector(n)
		if w, ok := nVec[itemID]; ok {
			score += VectorSimilarity(userVec, nVec) * w
		}
	}
	return score
}

// Blend shares for the social-weighted neighbor similarity.
const (
	interactionShare = 0.5
	socialShare      = 0.3
	influenceShare   = 0.2
)

// SocialWeightedSimilarity blends interaction-vector similarity with social
// similarity and normalized influence into one neighbor weight in [0, 1].
// Returns 0 when the vectors are empty and both social signals are 0.
func SocialWeightedSimilarity(vecA, vecB map[string]float64, socialSimilarity, neighborInfluence float64) float64 {
	interaction := VectorSimilarity(vecA, vecB)
	normInfluence := neighborInfluence / 100
	if normInfluence > 1 {
		normInfluence = 1
	}
	if normInfluence < 0 {
		normInfluence = 0
	}

	w := interactionShare*interaction + socialShare*socialSimilarity + influenceShare*normInfluence
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

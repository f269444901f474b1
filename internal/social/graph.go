// Package social builds follow-graph views and resolves pairwise social
// distance, similarity, and influence used by the ranking engines.
package social

import (
	"context"
	"fmt"
	"sort"

	"github.com/feedforge/rankmix/internal/event"
)

// Influence score coefficients. The raw score is a weighted count of edges,
// clipped to [0, 100].
const (
	InfluenceFollowerCoeff  = 0.5
	InfluenceFollowingCoeff = 0.2
	InfluenceMutualCoeff    = 0.3
	MaxInfluenceScore       = 100.0
)

// Node is one user's view of the follow graph.
type Node struct {
	UserID         string
	Followers      map[string]bool
	Following      map[string]bool
	Mutual         map[string]bool
	InfluenceScore float64
}

// EdgeCount returns the total number of distinct users this node is
// connected to in either direction.
func (n *Node) EdgeCount() int {
	seen := make(map[string]bool, len(n.Followers)+len(n.Following))
	for id := range n.Followers {
		seen[id] = true
	}
	for id := range n.Following {
		seen[id] = true
	}
	return len(seen)
}

// Graph is a point-in-time view over a set of users' follow edges.
// It is built on demand and never persisted.
type Graph struct {
	nodes map[string]*Node
}

// Node returns the graph node for a user, or nil if the user was not part
// of the build set.
func (g *Graph) Node(userID string) *Node {
	return g.nodes[userID]
}

// UserIDs returns the ids of all users in the graph, sorted for determinism.
func (g *Graph) UserIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of users in the graph.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Builder constructs follow graphs from the event source.
type Builder struct {
	events event.Source
}

// NewBuilder creates a graph builder over an event source.
func NewBuilder(events event.Source) *Builder {
	return &Builder{events: events}
}

// BuildGraph assembles a graph node for each of the given users.
// Users with no edges at all get an influence score of 0.
func (b *Builder) BuildGraph(ctx context.Context, userIDs []string) (*Graph, error) {
	nodes := make(map[string]*Node, len(userIDs))
	for _, id := range userIDs {
		if _, ok := nodes[id]; ok {
			continue
		}
		node, err := b.buildNode(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to build graph node for %s: %w", id, err)
		}
		nodes[id] = node
	}
	return &Graph{nodes: nodes}, nil
}

func (b *Builder) buildNode(ctx context.Context, userID string) (*Node, error) {
	followerIDs, err := b.events.Followers(ctx, userID)
	if err != nil {
		return nil, err
	}
	followingIDs, err := b.events.Following(ctx, userID)
	if err != nil {
		return nil, err
	}

	node := &Node{
		UserID:    userID,
		Followers: make(map[string]bool, len(followerIDs)),
		Following: make(map[string]bool, len(followingIDs)),
		Mutual:    make(map[string]bool),
	}
	for _, id := range followerIDs {
		node.Followers[id] = true
	}
	for _, id := range followingIDs {
		node.Following[id] = true
		if node.Followers[id] {
			node.Mutual[id] = true
		}
	}
	node.InfluenceScore = influenceScore(len(node.Followers), len(node.Following), len(node.Mutual))
	return node, nil
}

// influenceScore computes the bounded influence estimate from edge counts.
func influenceScore(followers, following, mutual int) float64 {
	score := float64(followers)*InfluenceFollowerCoeff +
		float64(following)*InfluenceFollowingCoeff +
		float64(mutual)*InfluenceMutualCoeff
	if score < 0 {
		return 0
	}
	if score > MaxInfluenceScore {
		return MaxInfluenceScore
	}
	return score
}

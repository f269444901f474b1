package social

import (
	"math"
	"sort"
)

// Relation classifies how two users are connected in the follow graph.
type Relation int

// Relation values, from closest to most distant.
const (
	RelationMutualFollow Relation = iota
	RelationDirectFollow
	RelationSecondDegree
	RelationThirdDegree
	RelationUnknown
)

// relationWeights maps each relation to its scoring weight.
var relationWeights = map[Relation]float64{
	RelationMutualFollow: 1.5,
	RelationDirectFollow: 1.0,
	RelationSecondDegree: 0.6,
	RelationThirdDegree:  0.3,
	RelationUnknown:      0,
}

// Weight returns the scoring weight associated with the relation.
func (r Relation) Weight() float64 {
	return relationWeights[r]
}

// String returns the relation's wire name.
func (r Relation) String() string {
	switch r {
	case RelationMutualFollow:
		return "mutual_follow"
	case RelationDirectFollow:
		return "direct_follow"
	case RelationSecondDegree:
		return "second_degree"
	case RelationThirdDegree:
		return "third_degree"
	default:
		return "unknown"
	}
}

// DegreeUnknown marks an unreachable pair.
const DegreeUnknown = math.MaxInt32

// Distance describes the closeness of two users in the follow graph.
type Distance struct {
	Degree   int      `json:"degree"`
	Relation Relation `json:"relation"`
	Weight   float64  `json:"weight"`
}

// CalculateDistance resolves the distance between two users.
// Mutual follows are checked first since a mutual edge implies a direct edge.
// Paths are resolved only through nodes present in the graph.
func CalculateDistance(a, b string, graph *Graph) Distance {
	nodeA := graph.Node(a)
	nodeB := graph.Node(b)
	if nodeA == nil || nodeB == nil {
		return unknownDistance()
	}

	if nodeA.Mutual[b] {
		return Distance{Degree: 1, Relation: RelationMutualFollow, Weight: RelationMutualFollow.Weight()}
	}
	if nodeA.Following[b] || nodeA.Followers[b] {
		return Distance{Degree: 1, Relation: RelationDirectFollow, Weight: RelationDirectFollow.Weight()}
	}

	// One intermediate: A follows X, X follows B.
	for mid := range nodeA.Following {
		midNode := graph.Node(mid)
		if midNode != nil && midNode.Following[b] {
			return Distance{Degree: 2, Relation: RelationSecondDegree, Weight: RelationSecondDegree.Weight()}
		}
	}

	// Two intermediates: A follows X, X follows Y, Y follows B.
	for mid := range nodeA.Following {
		midNode := graph.Node(mid)
		if midNode == nil {
			continue
		}
		for mid2 := range midNode.Following {
			mid2Node := graph.Node(mid2)
			if mid2Node != nil && mid2Node.Following[b] {
				return Distance{Degree: 3, Relation: RelationThirdDegree, Weight: RelationThirdDegree.Weight()}
			}
		}
	}

	return unknownDistance()
}

func unknownDistance() Distance {
	return Distance{Degree: DegreeUnknown, Relation: RelationUnknown, Weight: 0}
}

// CalculateSimilarity computes the Jaccard overlap of two users' combined
// edge sets (followers, following, mutual) in [0, 1].
// Returns 0 if either user has no edges at all.
func CalculateSimilarity(a, b string, graph *Graph) float64 {
	nodeA := graph.Node(a)
	nodeB := graph.Node(b)
	if nodeA == nil || nodeB == nil {
		return 0
	}

	setA := edgeUnion(nodeA)
	setB := edgeUnion(nodeB)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for id := range setA {
		if setB[id] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func edgeUnion(n *Node) map[string]bool {
	set := make(map[string]bool, len(n.Followers)+len(n.Following))
	for id := range n.Followers {
		set[id] = true
	}
	for id := range n.Following {
		set[id] = true
	}
	for id := range n.Mutual {
		set[id] = true
	}
	return set
}

// SimilarUser is one entry in a similarity ranking.
type SimilarUser struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Influence  float64 `json:"influence_score"`
}

// FindSimilarUsers returns up to maxResults users from the graph whose
// similarity with userID meets minSimilarity, sorted by similarity
// descending, then influence descending, then user id for stability.
func FindSimilarUsers(userID string, graph *Graph, minSimilarity float64, maxResults int) []SimilarUser {
	var similar []SimilarUser
	for _, candidate := range graph.UserIDs() {
		if candidate == userID {
			continue
		}
		sim := CalculateSimilarity(userID, candidate, graph)
		if sim < minSimilarity {
			continue
		}
		similar = append(similar, SimilarUser{
			UserID:     candidate,
			Similarity: sim,
			Influence:  graph.Node(candidate).InfluenceScore,
		})
	}

	sort.Slice(similar, func(i, j int) bool {
		if similar[i].Similarity != similar[j].Similarity {
			return similar[i].Similarity > similar[j].Similarity
		}
		if similar[i].Influence != similar[j].Influence {
			return similar[i].Influence > similar[j].Influence
		}
		return similar[i].UserID < similar[j].UserID
	})

	if maxResults > 0 && len(similar) > maxResults {
		similar = similar[:maxResults]
	}
	return similar
}

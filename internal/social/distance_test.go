package social

import (
	"testing"

	"github.com/feedforge/rankmix/internal/event"
)

func TestCalculateDistance(t *testing.T) {
	graph := buildTestGraph(t, func(s *event.InMemorySource) {
		// alice <-> bob mutual
		s.AddFollow("alice", "bob")
		s.AddFollow("bob", "alice")
		// alice -> carol direct
		s.AddFollow("alice", "carol")
		// carol -> dave gives alice a second-degree path to dave
		s.AddFollow("carol", "dave")
		// dave -> erin gives alice a third-degree path to erin
		s.AddFollow("dave", "erin")
	}, []string{"alice", "bob", "carol", "dave", "erin", "zoe"})

	tests := []struct {
		name         string
		from, to     string
		wantDegree   int
		wantRelation Relation
		wantWeight   float64
	}{
		{"mutual follow", "alice", "bob", 1, RelationMutualFollow, 1.5},
		{"direct follow", "alice", "carol", 1, RelationDirectFollow, 1.0},
		{"reverse direct follow", "carol", "alice", 1, RelationDirectFollow, 1.0},
		{"second degree", "alice", "dave", 2, RelationSecondDegree, 0.6},
		{"third degree", "alice", "erin", 3, RelationThirdDegree, 0.3},
		{"no path", "alice", "zoe", DegreeUnknown, RelationUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CalculateDistance(tt.from, tt.to, graph)
			if d.Degree != tt.wantDegree {
				t.Errorf("Degree = %d, want %d", d.Degree, tt.wantDegree)
			}
			if d.Relation != tt.wantRelation {
				t.Errorf("Relation = %s, want %s", d.Relation, tt.wantRelation)
			}
			if d.Weight != tt.wantWeight {
				t.Errorf("Weight = %v, want %v", d.Weight, tt.wantWeight)
			}
		})
	}
}

func TestCalculateDistance_MutualCheckedBeforeDirect(t *testing.T) {
	graph := buildTestGraph(t, func(s *event.InMemorySource) {
		s.AddFollow("alice", "bob")
		s.AddFollow("bob", "alice")
	}, []string{"alice", "bob"})

	d := CalculateDistance("alice", "bob", graph)
	if d.Relation != RelationMutualFollow {
		t.Errorf("Relation = %s, want mutual_follow (a mutual edge implies a direct edge)", d.Relation)
	}
}

func TestCalculateDistance_UnknownUser(t *testing.T) {
	graph := buildTestGraph(t, nil, []string{"alice"})

	d := CalculateDistance("alice", "ghost", graph)
	if d.Relation != RelationUnknown || d.Weight != 0 || d.Degree != DegreeUnknown {
		t.Errorf("CalculateDistance to absent user = %+v, want unknown", d)
	}
}

func TestCalculateSimilarity(t *testing.T) {
	graph := buildTestGraph(t, func(s *event.InMemorySource) {
		// alice and bob both follow carol and dave; alice also follows erin.
		s.AddFollow("alice", "carol")
		s.AddFollow("alice", "dave")
		s.AddFollow("alice", "erin")
		s.AddFollow("bob", "carol")
		s.AddFollow("bob", "dave")
	}, []string{"alice", "bob", "loner"})

	// alice edges: {carol, dave, erin}; bob edges: {carol, dave}.
	// Jaccard = 2 / 3.
	got := CalculateSimilarity("alice", "bob", graph)
	want := 2.0 / 3.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CalculateSimilarity = %v, want %v", got, want)
	}

	if sim := CalculateSimilarity("alice", "loner", graph); sim != 0 {
		t.Errorf("similarity with edgeless user = %v, want 0", sim)
	}
}

func TestCalculateSimilarity_NoEdgesAnywhere(t *testing.T) {
	graph := buildTestGraph(t, nil, []string{"a", "b"})
	if sim := CalculateSimilarity("a", "b", graph); sim != 0 {
		t.Errorf("CalculateSimilarity = %v, want 0", sim)
	}
}

func TestFindSimilarUsers(t *testing.T) {
	graph := buildTestGraph(t, func(s *event.InMemorySource) {
		s.AddFollow("alice", "hub")
		s.AddFollow("bob", "hub")
		s.AddFollow("carol", "hub")
		// carol gets more edges so her influence exceeds bob's.
		s.AddFollow("dave", "carol")
		s.AddFollow("erin", "carol")
	}, []string{"alice", "bob", "carol", "hub", "dave", "erin"})

	similar := FindSimilarUsers("alice", graph, 0.01, 10)
	if len(similar) < 2 {
		t.Fatalf("FindSimilarUsers returned %d users, want at least 2", len(similar))
	}
	for i := 1; i < len(similar); i++ {
		prev, cur := similar[i-1], similar[i]
		if cur.Similarity > prev.Similarity {
			t.Errorf("results not sorted by similarity desc at %d", i)
		}
		if cur.Similarity == prev.Similarity && cur.Influence > prev.Influence {
			t.Errorf("influence tie-break violated at %d", i)
		}
	}

	// maxResults truncation
	truncated := FindSimilarUsers("alice", graph, 0.01, 1)
	if len(truncated) != 1 {
		t.Errorf("FindSimilarUsers with maxResults=1 returned %d", len(truncated))
	}
	if truncated[0] != similar[0] {
		t.Errorf("truncation changed head of ranking")
	}
}

func TestRelationString(t *testing.T) {
	tests := []struct {
		relation Relation
		want     string
	}{
		{RelationMutualFollow, "mutual_follow"},
		{RelationDirectFollow, "direct_follow"},
		{RelationSecondDegree, "second_degree"},
		{RelationThirdDegree, "third_degree"},
		{RelationUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.relation.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

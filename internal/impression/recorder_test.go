package impression

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T) (*Recorder, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	return NewRecorder(store), store
}

func mustRecord(t *testing.T, r *Recorder, imp *Impression) *Impression {
	t.Helper()
	stored, err := r.Record(context.Background(), imp)
	if err != nil {
		t.Fatalf("failed to record impression: %v", err)
	}
	return stored
}

func baseImpression() *Impression {
	return &Impression{
		UserID:    "u1",
		ItemID:    "i1",
		Algorithm: "mixed",
		Score:     0.8,
		Rank:      3,
	}
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	if stored.ID == "" {
		t.Error("expected generated id")
	}
	if stored.RecommendedAt.IsZero() {
		t.Error("expected recommended_at to be set")
	}
	if stored.SatisfactionScore != nil {
		t.Error("expected nil satisfaction with no signals")
	}
}

func TestRecordReplaySameIDKeepsStoredRow(t *testing.T) {
	r, _ := newTestRecorder(t)

	imp := baseImpression()
	imp.ID = "imp-dup"
	stored := mustRecord(t, r, imp)
	if _, err := r.Update(context.Background(), stored.ID, InteractionClick, UpdateExtra{}); err != nil {
		t.Fatal(err)
	}

	// A retried delivery of the same impression must not clobber the row.
	replay := baseImpression()
	replay.ID = "imp-dup"
	replay.Score = 0.1
	replayed := mustRecord(t, r, replay)

	if !replayed.Clicked {
		t.Error("expected replay to return the stored row with its click intact")
	}
	if replayed.Score != stored.Score {
		t.Errorf("expected stored score %f, got %f", stored.Score, replayed.Score)
	}

	kept, err := r.store.Get(context.Background(), "imp-dup")
	if err != nil {
		t.Fatal(err)
	}
	if !kept.Clicked || kept.Score != stored.Score {
		t.Errorf("expected stored row untouched after replay, got %+v", kept)
	}
}

func TestRecordRejectsMissingFields(t *testing.T) {
	r, _ := newTestRecorder(t)

	tests := []struct {
		name   string
		mutate func(*Impression)
	}{
		{"missing user", func(imp *Impression) { imp.UserID = "" }},
		{"missing item", func(imp *Impression) { imp.ItemID = "" }},
		{"missing algorithm", func(imp *Impression) { imp.Algorithm = "" }},
		{"negative rank", func(imp *Impression) { imp.Rank = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp := baseImpression()
			tt.mutate(imp)
			if _, err := r.Record(context.Background(), imp); !errors.Is(err, ErrInvalidImpression) {
				t.Errorf("expected ErrInvalidImpression, got %v", err)
			}
		})
	}
}

func TestUpdateSetsFlagAndDerivedFields(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	updated, err := r.Update(context.Background(), stored.ID, InteractionClick, UpdateExtra{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !updated.Clicked {
		t.Error("expected clicked flag set")
	}
	if updated.CTR != 1 {
		t.Errorf("expected ctr 1, got %f", updated.CTR)
	}
	if updated.InteractedAt == nil {
		t.Error("expected interacted_at set on first interaction")
	}
}

func TestUpdateUnknownTypeIsValidationError(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	if _, err := r.Update(context.Background(), stored.ID, "teleport", UpdateExtra{}); !errors.Is(err, ErrUnknownInteraction) {
		t.Errorf("expected ErrUnknownInteraction, got %v", err)
	}
}

func TestUpdateMissingImpression(t *testing.T) {
	r, _ := newTestRecorder(t)
	if _, err := r.Update(context.Background(), "nope", InteractionLike, UpdateExtra{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	for i := 0; i < 2; i++ {
		if _, err := r.Update(context.Background(), stored.ID, InteractionLike, UpdateExtra{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	updated, err := r.store.Get(context.Background(), stored.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Liked {
		t.Error("expected liked flag set")
	}
	if updated.EngagementRate != 0.25 {
		t.Errorf("expected engagement rate 0.25 after repeated likes, got %f", updated.EngagementRate)
	}
}

func TestTimeToInteractSetOnce(t *testing.T) {
	r, _ := newTestRecorder(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	r.SetClock(func() time.Time { return current })

	stored := mustRecord(t, r, baseImpression())

	current = base.Add(10 * time.Second)
	first, err := r.Update(context.Background(), stored.ID, InteractionClick, UpdateExtra{})
	if err != nil {
		t.Fatal(err)
	}
	if first.TimeToInteract != 10 {
		t.Errorf("expected time_to_interact 10s, got %f", first.TimeToInteract)
	}

	current = base.Add(5 * time.Minute)
	second, err := r.Update(context.Background(), stored.ID, InteractionLike, UpdateExtra{})
	if err != nil {
		t.Fatal(err)
	}
	if second.TimeToInteract != 10 {
		t.Errorf("expected time_to_interact unchanged at 10s, got %f", second.TimeToInteract)
	}
}

func TestRatingClampedSilently(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	updated, err := r.Update(context.Background(), stored.ID, InteractionRate, UpdateExtra{Rating: 9})
	if err != nil {
		t.Fatalf("expected out-of-range rating to be ignored, got %v", err)
	}
	if updated.UserRating != 0 {
		t.Errorf("expected rating unchanged, got %d", updated.UserRating)
	}
	if updated.InteractedAt != nil {
		t.Error("expected ignored rating not to mark an interaction")
	}

	updated, err = r.Update(context.Background(), stored.ID, InteractionRate, UpdateExtra{Rating: 4})
	if err != nil {
		t.Fatal(err)
	}
	if updated.UserRating != 4 {
		t.Errorf("expected rating 4, got %d", updated.UserRating)
	}
	if updated.SatisfactionScore == nil || *updated.SatisfactionScore != 0.8 {
		t.Errorf("expected satisfaction 0.8 from rating 4, got %v", updated.SatisfactionScore)
	}
}

func TestSatisfactionFromImplicitSignals(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	for _, interaction := range []string{InteractionLike, InteractionShare} {
		if _, err := r.Update(context.Background(), stored.ID, interaction, UpdateExtra{}); err != nil {
			t.Fatal(err)
		}
	}

	updated, err := r.store.Get(context.Background(), stored.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.SatisfactionScore == nil || *updated.SatisfactionScore != 0.5 {
		t.Errorf("expected satisfaction 0.5 from like+share, got %v", updated.SatisfactionScore)
	}
	if updated.EngagementRate != 0.5 {
		t.Errorf("expected engagement rate 0.5, got %f", updated.EngagementRate)
	}
}

func TestSatisfactionFloorsAtZero(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	updated, err := r.Update(context.Background(), stored.ID, InteractionDislike, UpdateExtra{})
	if err != nil {
		t.Fatal(err)
	}
	if updated.SatisfactionScore == nil || *updated.SatisfactionScore != 0 {
		t.Errorf("expected satisfaction 0 for dislike-only, got %v", updated.SatisfactionScore)
	}
}

func TestViewDurationUpdate(t *testing.T) {
	r, _ := newTestRecorder(t)
	stored := mustRecord(t, r, baseImpression())

	updated, err := r.Update(context.Background(), stored.ID, InteractionView, UpdateExtra{ViewDuration: 42.5})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ViewDuration != 42.5 {
		t.Errorf("expected view duration 42.5, got %f", updated.ViewDuration)
	}
	// A view alone carries no outcome flag and no rating.
	if updated.SatisfactionScore != nil {
		t.Errorf("expected nil satisfaction for view-only, got %v", updated.SatisfactionScore)
	}
}

func TestAlgorithmStats(t *testing.T) {
	r, _ := newTestRecorder(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	clicked := baseImpression()
	clicked.RecommendedAt = base
	clicked = mustRecord(t, r, clicked)
	if _, err := r.Update(context.Background(), clicked.ID, InteractionClick, UpdateExtra{}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Update(context.Background(), clicked.ID, InteractionLike, UpdateExtra{}); err != nil {
		t.Fatal(err)
	}

	quiet := baseImpression()
	quiet.RecommendedAt = base.Add(time.Hour)
	mustRecord(t, r, quiet)

	other := baseImpression()
	other.Algorithm = "hot"
	other.RecommendedAt = base
	mustRecord(t, r, other)

	stats, err := r.AlgorithmStats(context.Background(), "mixed", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if stats.TotalRecommendations != 2 {
		t.Errorf("expected 2 impressions, got %d", stats.TotalRecommendations)
	}
	if math.Abs(stats.CTR-0.5) > 1e-9 {
		t.Errorf("expected ctr 0.5, got %f", stats.CTR)
	}
	if math.Abs(stats.EngagementRate-0.125) > 1e-9 {
		t.Errorf("expected engagement rate 0.125, got %f", stats.EngagementRate)
	}
	if stats.Outcomes.Clicks != 1 || stats.Outcomes.Likes != 1 {
		t.Errorf("unexpected outcome totals %+v", stats.Outcomes)
	}
}

func TestAlgorithmStatsEmptyWindow(t *testing.T) {
	r, _ := newTestRecorder(t)

	stats, err := r.AlgorithmStats(context.Background(), "mixed", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("expected zeroed shape, got error %v", err)
	}
	if stats.TotalRecommendations != 0 || stats.CTR != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
}

func TestExperimentResultsPerVariant(t *testing.T) {
	r, _ := newTestRecorder(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, row := range []struct {
		variant string
		clicked bool
	}{
		{"control", false},
		{"control", true},
		{"treatment", true},
		{"treatment", true},
	} {
		imp := baseImpression()
		imp.ExperimentID = "exp-1"
		imp.Variant = row.variant
		imp.RecommendedAt = base
		stored := mustRecord(t, r, imp)
		if row.clicked {
			if _, err := r.Update(context.Background(), stored.ID, InteractionClick, UpdateExtra{}); err != nil {
				t.Fatal(err)
			}
		}
	}

	results, err := r.ExperimentResults(context.Background(), "exp-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if results.TotalRecommendations != 4 {
		t.Errorf("expected 4 impressions, got %d", results.TotalRecommendations)
	}
	control, ok := results.Variants["control"]
	if !ok {
		t.Fatal("missing control variant")
	}
	if math.Abs(control.CTR-0.5) > 1e-9 {
		t.Errorf("expected control ctr 0.5, got %f", control.CTR)
	}
	treatment := results.Variants["treatment"]
	if math.Abs(treatment.CTR-1.0) > 1e-9 {
		t.Errorf("expected treatment ctr 1.0, got %f", treatment.CTR)
	}
	if treatment.MetricValue("ctr") != treatment.CTR {
		t.Error("expected metric lookup to match field")
	}
}

func TestExperimentResultsEmpty(t *testing.T) {
	r, _ := newTestRecorder(t)
	results, err := r.ExperimentResults(context.Background(), "exp-404", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("expected zeroed shape, got error %v", err)
	}
	if results.TotalRecommendations != 0 || len(results.Variants) != 0 {
		t.Errorf("expected empty results, got %+v", results)
	}
}

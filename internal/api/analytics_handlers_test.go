package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/feedforge/rankmix/internal/affinity"
	"github.com/feedforge/rankmix/internal/analytics"
	"github.com/feedforge/rankmix/internal/cache"
	"github.com/feedforge/rankmix/internal/collab"
	"github.com/feedforge/rankmix/internal/content"
	"github.com/feedforge/rankmix/internal/event"
	"github.com/feedforge/rankmix/internal/impression"
)

type analyticsFixture struct {
	handlers *AnalyticsHandlers
	recorder *impression.Recorder
	cache    *cache.MemoryStore
	catalog  *content.InMemorySource
	events   *event.InMemorySource
}

func newAnalyticsFixture(t *testing.T) *analyticsFixture {
	t.Helper()

	catalog := content.NewInMemorySource()
	events := event.NewInMemorySource()
	cacheStore := cache.NewMemoryStore()
	recorder := impression.NewRecorder(impression.NewInMemoryStore())
	collabEngine := collab.NewEngine(events, catalog)
	profiles := affinity.NewAggregator(events, catalog)

	return &analyticsFixture{
		handlers: NewAnalyticsHandlers(recorder, nil, cacheStore, collabEngine, profiles),
		recorder: recorder,
		cache:    cacheStore,
		catalog:  catalog,
		events:   events,
	}
}

func TestDashboard_ServesCachedAggregates(t *testing.T) {
	f := newAnalyticsFixture(t)

	stats := `{"total_recommendations":10,"ctr":0.4}`
	if err := f.cache.Set(context.Background(), analytics.RealtimeStatsKey("mixed"), []byte(stats), time.Minute); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/analytics/dashboard", nil)
	w := httptest.NewRecorder()

	f.handlers.Dashboard(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp DashboardResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if string(resp.Realtime["mixed"]) != stats {
		t.Errorf("expected cached stats for mixed, got %s", resp.Realtime["mixed"])
	}
	if _, ok := resp.Realtime["hot"]; ok {
		t.Error("expected uncached algorithms to be omitted")
	}
	if resp.GeneratedAt == "" {
		t.Error("expected generated_at to be set")
	}
}

func TestDashboard_EmptyCache(t *testing.T) {
	f := newAnalyticsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/analytics/dashboard", nil)
	w := httptest.NewRecorder()

	f.handlers.Dashboard(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp DashboardResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Realtime) != 0 || len(resp.Daily) != 0 {
		t.Errorf("expected empty aggregates, got %+v", resp)
	}
	if resp.ActiveExperiments != 0 {
		t.Errorf("expected 0 active experiments without a monitor, got %d", resp.ActiveExperiments)
	}
}

func TestAlgorithmStats_Computed(t *testing.T) {
	f := newAnalyticsFixture(t)

	served := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.recorder.SetClock(func() time.Time { return served })
	f.handlers.SetClock(func() time.Time { return served.Add(24 * time.Hour) })

	for i, clicked := range []bool{true, false} {
		imp := &impression.Impression{
			ID:        "imp-" + string(rune('a'+i)),
			UserID:    "user-1",
			ItemID:    "item-1",
			Algorithm: "mixed",
		}
		if _, err := f.recorder.Record(context.Background(), imp); err != nil {
			t.Fatalf("failed to seed impression: %v", err)
		}
		if clicked {
			if _, err := f.recorder.Update(context.Background(), imp.ID, impression.InteractionClick, impression.UpdateExtra{}); err != nil {
				t.Fatalf("failed to seed click: %v", err)
			}
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/analytics/algorithms/mixed", nil)
	w := httptest.NewRecorder()

	f.handlers.AlgorithmStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats impression.AlgorithmStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.TotalRecommendations != 2 {
		t.Errorf("expected 2 recommendations, got %d", stats.TotalRecommendations)
	}
	if stats.CTR != 0.5 {
		t.Errorf("expected ctr 0.5, got %f", stats.CTR)
	}
}

func TestAlgorithmStats_WindowExcludesOldImpressions(t *testing.T) {
	f := newAnalyticsFixture(t)

	served := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.recorder.SetClock(func() time.Time { return served })
	f.handlers.SetClock(func() time.Time { return served.Add(30 * 24 * time.Hour) })

	imp := &impression.Impression{ID: "imp-old", UserID: "user-1", ItemID: "item-1", Algorithm: "mixed"}
	if _, err := f.recorder.Record(context.Background(), imp); err != nil {
		t.Fatalf("failed to seed impression: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/analytics/algorithms/mixed?days=7", nil)
	w := httptest.NewRecorder()

	f.handlers.AlgorithmStats(w, req)

	var stats impression.AlgorithmStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.TotalRecommendations != 0 {
		t.Errorf("expected old impression outside the window, got %d", stats.TotalRecommendations)
	}
}

func TestAlgorithmStats_MissingTag(t *testing.T) {
	f := newAnalyticsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/analytics/algorithms/", nil)
	w := httptest.NewRecorder()

	f.handlers.AlgorithmStats(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestUserSocialStats(t *testing.T) {
	f := newAnalyticsFixture(t)

	f.events.AddFollow("user-1", "user-2")
	f.events.AddFollow("user-2", "user-1")
	f.events.AddFollow("user-1", "user-3")
	f.events.AddInteraction(event.Interaction{Type: event.TypeLike, ActorID: "user-1", ItemID: "item-1", OccurredAt: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/users/user-1/social-stats", nil)
	w := httptest.NewRecorder()

	f.handlers.HandleUserStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats collab.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.InteractionCount != 1 {
		t.Errorf("expected 1 interaction, got %d", stats.InteractionCount)
	}
	if stats.FollowingCount != 2 {
		t.Errorf("expected 2 following, got %d", stats.FollowingCount)
	}
	if stats.MutualFollowsCount != 1 {
		t.Errorf("expected 1 mutual follow, got %d", stats.MutualFollowsCount)
	}
}

func TestUserProfile(t *testing.T) {
	f := newAnalyticsFixture(t)

	f.catalog.AddItem(&content.Item{ID: "item-1", Tags: []string{"jazz"}, CreatedAt: time.Now()})
	f.events.AddInteraction(event.Interaction{Type: event.TypeLike, ActorID: "user-1", ItemID: "item-1", OccurredAt: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/users/user-1/profile", nil)
	w := httptest.NewRecorder()

	f.handlers.HandleUserStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var profile affinity.Profile
	if err := json.NewDecoder(w.Body).Decode(&profile); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if profile.TagWeights["jazz"] != 1 {
		t.Errorf("expected jazz weight 1, got %f", profile.TagWeights["jazz"])
	}
	if profile.InteractionCount != 1 {
		t.Errorf("expected 1 interaction, got %d", profile.InteractionCount)
	}
}

func TestHandleUserStats_UnknownSubresource(t *testing.T) {
	f := newAnalyticsFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/users/user-1/followers", nil)
	w := httptest.NewRecorder()

	f.handlers.HandleUserStats(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/feedforge/rankmix/internal/affinity"
	"github.com/feedforge/rankmix/internal/analytics"
	"github.com/feedforge/rankmix/internal/cache"
	"github.com/feedforge/rankmix/internal/collab"
	"github.com/feedforge/rankmix/internal/impression"
	"github.com/feedforge/rankmix/internal/middleware"
)

// defaultStatsWindowDays is the lookback for on-demand algorithm stats.
const defaultStatsWindowDays = 7

// AnalyticsHandlers holds dependencies for analytics and user stats handlers.
type AnalyticsHandlers struct {
	recorder *impression.Recorder
	monitor  *analytics.Monitor
	cache    cache.Store
	collab   *collab.Engine
	profiles *affinity.Aggregator
	now      func() time.Time
}

// NewAnalyticsHandlers creates a new AnalyticsHandlers instance.
// The monitor may be nil when the background monitor is disabled.
func NewAnalyticsHandlers(
	recorder *impression.Recorder,
	monitor *analytics.Monitor,
	cacheStore cache.Store,
	collabEngine *collab.Engine,
	profiles *affinity.Aggregator,
) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		recorder: recorder,
		monitor:  monitor,
		cache:    cacheStore,
		collab:   collabEngine,
		profiles: profiles,
		now:      time.Now,
	}
}

// SetClock overrides the handler clock, for tests.
func (h *AnalyticsHandlers) SetClock(now func() time.Time) {
	h.now = now
}

// DashboardResponse aggregates cached analytics for the dashboard view.
type DashboardResponse struct {
	Realtime          map[string]json.RawMessage `json:"realtime"`
	Daily             map[string]json.RawMessage `json:"daily"`
	ActiveExperiments int                        `json:"active_experiments"`
	GeneratedAt       string                     `json:"generated_at"`
}

// Dashboard handles GET /analytics/dashboard. It serves the aggregates the
// background monitor keeps in cache; algorithms with no cached entry yet are
// omitted rather than computed inline.
func (h *AnalyticsHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	resp := DashboardResponse{
		Realtime:    make(map[string]json.RawMessage),
		Daily:       make(map[string]json.RawMessage),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
	if h.monitor != nil {
		resp.ActiveExperiments = len(h.monitor.ActiveExperiments())
	}

	for _, tag := range analytics.DefaultAlgorithmTags() {
		if data, err := h.cache.Get(r.Context(), analytics.RealtimeStatsKey(tag)); err == nil {
			resp.Realtime[tag] = json.RawMessage(data)
		} else if !errors.Is(err, cache.ErrMiss) {
			slog.WarnContext(r.Context(), "failed to read cached stats", "algorithm", tag, "error", err)
		}
		if data, err := h.cache.Get(r.Context(), analytics.DailyStatsKey(tag)); err == nil {
			resp.Daily[tag] = json.RawMessage(data)
		} else if !errors.Is(err, cache.ErrMiss) {
			slog.WarnContext(r.Context(), "failed to read cached stats", "algorithm", tag, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// AlgorithmStats handles GET /analytics/algorithms/{tag} - computes
// on-demand aggregate outcomes for one recommendation type. An optional
// days query parameter adjusts the lookback window.
func (h *AnalyticsHandlers) AlgorithmStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	tag := strings.TrimPrefix(r.URL.Path, "/analytics/algorithms/")
	if tag == "" || strings.Contains(tag, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Algorithm tag is required")
		return
	}

	days := parseIntParam(r.URL.Query().Get("days"), defaultStatsWindowDays)
	end := h.now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	stats, err := h.recorder.AlgorithmStats(r.Context(), tag, start, end)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		slog.ErrorContext(ctx, "failed to compute algorithm stats", "algorithm", tag, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to compute algorithm stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// HandleUserStats dispatches /users/{id}/social-stats and /users/{id}/profile.
func (h *AnalyticsHandlers) HandleUserStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/users/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
		return
	}
	userID := pathParts[0]

	switch pathParts[1] {
	case "social-stats":
		stats, err := h.collab.Stats(r.Context(), userID)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			slog.ErrorContext(ctx, "failed to compute social stats", "user_id", userID, "error", err)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to compute social stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case "profile":
		profile, err := h.profiles.BuildProfile(r.Context(), userID)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			slog.ErrorContext(ctx, "failed to build user profile", "user_id", userID, "error", err)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to build user profile")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	}
}

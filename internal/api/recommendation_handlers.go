package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/feedforge/rankmix/internal/collab"
	"github.com/feedforge/rankmix/internal/middleware"
	"github.com/feedforge/rankmix/internal/ranking"
)

// RecommendationHandlers holds dependencies for the ranking HTTP handlers.
type RecommendationHandlers struct {
	mixer  *ranking.Mixer
	collab *collab.Engine
}

// NewRecommendationHandlers creates a new RecommendationHandlers instance.
func NewRecommendationHandlers(mixer *ranking.Mixer, collabEngine *collab.Engine) *RecommendationHandlers {
	return &RecommendationHandlers{
		mixer:  mixer,
		collab: collabEngine,
	}
}

// GetRecommendations handles GET /recommendations/{user_id}.
//
// Query parameters:
//
//	page, limit         - page window (defaults 1 and 20)
//	exclude             - comma-separated item ids to skip
//	refresh=true        - drop the user's cached pages before ranking
//	no_cache=true       - bypass the cache for this request
//	diversity=true      - reorder the page to spread lead tags
//	social=true         - include the user's social stats in the response
func (h *RecommendationHandlers) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/recommendations/")
	if userID == "" || strings.Contains(userID, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "User ID is required")
		return
	}

	q := r.URL.Query()
	req := ranking.Request{
		UserID:              userID,
		Page:                parseIntParam(q.Get("page"), 1),
		Limit:               parseIntParam(q.Get("limit"), ranking.DefaultPageLimit),
		ClearCache:          q.Get("refresh") == "true",
		UseCache:            q.Get("no_cache") != "true",
		IncludeDiversity:    q.Get("diversity") == "true",
		IncludeSocialScores: q.Get("social") == "true",
	}
	if exclude := strings.TrimSpace(q.Get("exclude")); exclude != "" {
		for _, id := range strings.Split(exclude, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.ExcludeIDs = append(req.ExcludeIDs, id)
			}
		}
	}

	resp, err := h.mixer.Recommend(r.Context(), req)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		slog.ErrorContext(ctx, "recommendation request failed", "user_id", userID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to compute recommendations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// WarmupRequest represents the request body for cache warmup.
type WarmupRequest struct {
	UserIDs []string `json:"user_ids"`
}

// WarmupCache handles POST /cache/warmup - precomputes collaborative and
// social scores for a batch of users.
func (h *RecommendationHandlers) WarmupCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req WarmupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if len(req.UserIDs) == 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_ids must not be empty")
		return
	}

	result, err := h.collab.WarmCache(r.Context(), req.UserIDs)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		slog.ErrorContext(ctx, "cache warmup failed", "users", len(req.UserIDs), "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Cache warmup failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseIntParam parses a positive integer query parameter, falling back to
// def on absence or garbage.
func parseIntParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

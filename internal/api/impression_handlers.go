package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/feedforge/rankmix/internal/impression"
	"github.com/feedforge/rankmix/internal/middleware"
)

// ImpressionHandlers holds dependencies for impression HTTP handlers.
type ImpressionHandlers struct {
	recorder *impression.Recorder
	store    impression.Store
}

// NewImpressionHandlers creates a new ImpressionHandlers instance.
func NewImpressionHandlers(recorder *impression.Recorder, store impression.Store) *ImpressionHandlers {
	return &ImpressionHandlers{
		recorder: recorder,
		store:    store,
	}
}

// CreateImpression handles POST /impressions - records that an item was
// served to a user.
func (h *ImpressionHandlers) CreateImpression(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var imp impression.Impression
	if err := json.NewDecoder(r.Body).Decode(&imp); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	stored, err := h.recorder.Record(r.Context(), &imp)
	if err != nil {
		if errors.Is(err, impression.ErrInvalidImpression) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		slog.ErrorContext(ctx, "failed to record impression", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record impression")
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// InteractionRequest represents the request body for recording an
// interaction against an impression.
type InteractionRequest struct {
	Type         string  `json:"type"`
	ViewDuration float64 `json:"view_duration,omitempty"`
	Rating       int     `json:"rating,omitempty"`
}

// HandleImpressionByID dispatches /impressions/{id} and
// /impressions/{id}/interactions.
func (h *ImpressionHandlers) HandleImpressionByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/impressions/"), "/")
	if pathParts[0] == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Impression ID is required")
		return
	}
	id := pathParts[0]

	switch {
	case len(pathParts) == 1:
		h.getImpression(w, r, id)
	case len(pathParts) == 2 && pathParts[1] == "interactions":
		h.recordInteraction(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	}
}

// getImpression handles GET /impressions/{id}.
func (h *ImpressionHandlers) getImpression(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	imp, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, impression.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Impression not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		slog.ErrorContext(ctx, "failed to load impression", "impression_id", id, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load impression")
		return
	}

	writeJSON(w, http.StatusOK, imp)
}

// recordInteraction handles POST /impressions/{id}/interactions - applies a
// user interaction to an existing impression.
func (h *ImpressionHandlers) recordInteraction(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "type is required")
		return
	}

	updated, err := h.recorder.Update(r.Context(), id, req.Type, impression.UpdateExtra{
		ViewDuration: req.ViewDuration,
		Rating:       req.Rating,
	})
	if err != nil {
		switch {
		case errors.Is(err, impression.ErrNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Impression not found")
		case errors.Is(err, impression.ErrUnknownInteraction):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidInteraction)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidInteraction, err.Error())
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			slog.ErrorContext(ctx, "failed to record interaction", "impression_id", id, "error", err)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record interaction")
		}
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

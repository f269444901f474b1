package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/feedforge/rankmix/internal/experiment"
	"github.com/feedforge/rankmix/internal/middleware"
)

// ExperimentHandlers holds dependencies for experiment HTTP handlers.
type ExperimentHandlers struct {
	manager *experiment.Manager
}

// NewExperimentHandlers creates a new ExperimentHandlers instance.
func NewExperimentHandlers(manager *experiment.Manager) *ExperimentHandlers {
	return &ExperimentHandlers{manager: manager}
}

// HandleExperiments dispatches /experiments (collection).
func (h *ExperimentHandlers) HandleExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listExperiments(w, r)
	case http.MethodPost:
		h.createExperiment(w, r)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

// HandleExperimentByID dispatches /experiments/{id}, /experiments/{id}/status
// and /experiments/{id}/results.
func (h *ExperimentHandlers) HandleExperimentByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/experiments/"), "/")
	if pathParts[0] == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Experiment ID is required")
		return
	}
	id := pathParts[0]

	switch {
	case len(pathParts) == 1:
		h.getExperiment(w, r, id)
	case len(pathParts) == 2 && pathParts[1] == "status":
		h.updateStatus(w, r, id)
	case len(pathParts) == 2 && pathParts[1] == "results":
		h.results(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	}
}

// createExperiment handles POST /experiments.
func (h *ExperimentHandlers) createExperiment(w http.ResponseWriter, r *http.Request) {
	var exp experiment.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	created, err := h.manager.Create(r.Context(), &exp)
	if err != nil {
		switch {
		case errors.Is(err, experiment.ErrInvalidExperiment):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, experiment.ErrConflict):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Experiment already exists")
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			slog.ErrorContext(ctx, "failed to create experiment", "error", err)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create experiment")
		}
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// listExperiments handles GET /experiments. An optional status query
// parameter filters the list.
func (h *ExperimentHandlers) listExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := h.manager.List(r.Context())
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		slog.ErrorContext(ctx, "failed to list experiments", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list experiments")
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]*experiment.Experiment, 0, len(experiments))
		for _, exp := range experiments {
			if string(exp.Status) == status {
				filtered = append(filtered, exp)
			}
		}
		experiments = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"experiments": experiments})
}

// getExperiment handles GET /experiments/{id}.
func (h *ExperimentHandlers) getExperiment(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	exp, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.writeExperimentError(w, r, id, err, "Failed to load experiment")
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// StatusRequest represents the request body for an experiment status change.
type StatusRequest struct {
	Status string `json:"status"`
}

// updateStatus handles PUT /experiments/{id}/status.
func (h *ExperimentHandlers) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "status is required")
		return
	}

	updated, err := h.manager.UpdateStatus(r.Context(), id, experiment.Status(req.Status))
	if err != nil {
		if errors.Is(err, experiment.ErrInvalidTransition) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidTransition)
			WriteError(w, ctx, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
			return
		}
		h.writeExperimentError(w, r, id, err, "Failed to update experiment status")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// results handles /experiments/{id}/results.
//
// GET returns the stored evaluation results; POST runs a fresh evaluation
// and persists the outcome.
func (h *ExperimentHandlers) results(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		exp, err := h.manager.Get(r.Context(), id)
		if err != nil {
			h.writeExperimentError(w, r, id, err, "Failed to load experiment")
			return
		}
		if exp.Results == nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Experiment has not been evaluated yet")
			return
		}
		writeJSON(w, http.StatusOK, exp.Results)
	case http.MethodPost:
		exp, err := h.manager.Evaluate(r.Context(), id)
		if err != nil {
			h.writeExperimentError(w, r, id, err, "Failed to evaluate experiment")
			return
		}
		writeJSON(w, http.StatusOK, exp.Results)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

// writeExperimentError maps manager errors onto API error responses.
func (h *ExperimentHandlers) writeExperimentError(w http.ResponseWriter, r *http.Request, id string, err error, fallback string) {
	if errors.Is(err, experiment.ErrNotFound) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Experiment not found")
		return
	}
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	slog.ErrorContext(ctx, "experiment request failed", "experiment_id", id, "error", err)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, fallback)
}

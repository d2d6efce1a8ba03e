package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/estatedesk/jobrunner/internal/api/response"
	"github.com/estatedesk/jobrunner/internal/store"
	"github.com/estatedesk/jobrunner/pkg/models"
)

// CallbackService defines the interface the workload callback handlers depend on.
type CallbackService interface {
	UpdateProgress(ctx context.Context, jobID uuid.UUID, progress int, message *string) error
	Complete(ctx context.Context, jobID uuid.UUID, status models.JobStatus, result json.RawMessage, errorMessage string) error
}

// NewProgressHandler returns an http.HandlerFunc for
// POST /internal/v1/jobs/{jobID}/progress.
func NewProgressHandler(svc CallbackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job ID must be a valid UUID", nil)
			return
		}

		var req struct {
			Progress *int    `json:"progress"`
			Message  *string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Progress == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "progress is required", nil)
			return
		}

		if err := svc.UpdateProgress(r.Context(), jobID, *req.Progress, req.Message); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{"job_id": jobID})
	}
}

// NewCompleteHandler returns an http.HandlerFunc for
// POST /internal/v1/jobs/{jobID}/complete.
func NewCompleteHandler(svc CallbackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job ID must be a valid UUID", nil)
			return
		}

		var req struct {
			Status       string          `json:"status"`
			Result       json.RawMessage `json:"result"`
			ErrorMessage string          `json:"error_message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		status := models.JobStatus(req.Status)
		if status != models.JobStatusCompleted && status != models.JobStatusFailed {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be completed or failed", nil)
			return
		}

		err = svc.Complete(r.Context(), jobID, status, req.Result, req.ErrorMessage)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		response.JSON(w, map[string]any{"job_id": jobID, "status": status})
	}
}

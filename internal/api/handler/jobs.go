package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/estatedesk/jobrunner/internal/api/middleware"
	"github.com/estatedesk/jobrunner/internal/api/response"
	"github.com/estatedesk/jobrunner/internal/jobs"
	"github.com/estatedesk/jobrunner/internal/store"
	"github.com/estatedesk/jobrunner/pkg/models"
)

// JobService defines the interface the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, params jobs.SubmitParams) (*jobs.SubmitResult, error)
	Get(ctx context.Context, tenantID, jobID uuid.UUID) (*jobs.JobStatus, error)
	List(ctx context.Context, tenantID uuid.UUID, params jobs.ListParams) ([]*models.Job, int, error)
	Cancel(ctx context.Context, tenantID, jobID uuid.UUID) error
	Logs(ctx context.Context, tenantID, jobID uuid.UUID, tailLines int) (string, error)
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Type      string          `json:"type"`
			Payload   json.RawMessage `json:"payload"`
			Priority  string          `json:"priority"`
			CreatedBy string          `json:"created_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Type == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required", nil)
			return
		}
		jobType := models.JobType(req.Type)
		if !jobType.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_TYPE",
				"type must be one of market-intel-scrape, newsletter-send, portal-publish-xe, bulk-export", nil)
			return
		}
		if len(req.Payload) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "payload is required", nil)
			return
		}
		if req.Priority != "" && req.Priority != "low" && req.Priority != "normal" && req.Priority != "high" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"priority must be one of low, normal, high", nil)
			return
		}

		result, err := svc.Submit(r.Context(), jobs.SubmitParams{
			Type:      jobType,
			TenantID:  tenantID,
			Payload:   req.Payload,
			Priority:  req.Priority,
			CreatedBy: req.CreatedBy,
		})
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
			return
		}

		if !result.Success {
			if result.Status == models.JobStatusFailed {
				response.Error(w, http.StatusBadGateway, "LAUNCH_FAILED", result.Message,
					map[string]any{"job_id": result.JobID, "status": result.Status})
				return
			}
			response.Error(w, http.StatusConflict, "DUPLICATE_JOB", result.Message,
				map[string]any{"job_id": result.JobID, "status": result.Status})
			return
		}

		response.Accepted(w, result)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job ID must be a valid UUID", nil)
			return
		}

		status, err := svc.Get(r.Context(), tenantID, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, status)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		q := r.URL.Query()

		params := jobs.ListParams{
			Type: models.JobType(q.Get("type")),
		}
		if s := q.Get("status"); s != "" {
			for _, part := range strings.Split(s, ",") {
				params.Statuses = append(params.Statuses, models.JobStatus(strings.TrimSpace(part)))
			}
		}

		params.Limit = intQuery(q.Get("limit"), 20)
		if params.Limit < 1 {
			params.Limit = 20
		}
		if params.Limit > 100 {
			params.Limit = 100
		}
		params.Offset = intQuery(q.Get("offset"), 0)
		if params.Offset < 0 {
			params.Offset = 0
		}

		listed, total, err := svc.List(r.Context(), tenantID, params)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		if listed == nil {
			listed = []*models.Job{}
		}
		response.Collection(w, listed, response.PaginationMeta{
			Limit:   params.Limit,
			Offset:  params.Offset,
			Total:   total,
			HasMore: params.Offset+len(listed) < total,
		})
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job ID must be a valid UUID", nil)
			return
		}

		err = svc.Cancel(r.Context(), tenantID, jobID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			case errors.Is(err, jobs.ErrNotCancellable):
				response.Error(w, http.StatusConflict, "NOT_CANCELLABLE", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]any{
			"job_id": jobID,
			"status": models.JobStatusCancelled,
		})
	}
}

// NewJobLogsHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/logs.
func NewJobLogsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job ID must be a valid UUID", nil)
			return
		}

		tail := intQuery(r.URL.Query().Get("tail"), 500)
		if tail < 1 {
			tail = 500
		}
		if tail > 5000 {
			tail = 5000
		}

		logs, err := svc.Logs(r.Context(), tenantID, jobID, tail)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusBadGateway, "ORCHESTRATOR_ERROR", "Failed to fetch workload logs", nil)
			return
		}

		response.JSON(w, map[string]any{
			"job_id": jobID,
			"logs":   logs,
		})
	}
}

func intQuery(raw string, defaultVal int) int {
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return v
}

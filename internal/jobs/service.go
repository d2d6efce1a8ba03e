// Package jobs implements the orchestration envelope around background
// workloads: submission with the per-tenant concurrency guard, progress and
// completion updates, cancellation, the status polling read side, and the
// reconciliation/cleanup backstops.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/estatedesk/jobrunner/internal/cache"
	"github.com/estatedesk/jobrunner/internal/callback"
	"github.com/estatedesk/jobrunner/internal/jobconfig"
	"github.com/estatedesk/jobrunner/internal/orchestrator"
	"github.com/estatedesk/jobrunner/internal/store"
	"github.com/estatedesk/jobrunner/pkg/models"
)

// ErrNotCancellable is returned when cancel is requested for a job that is not
// pending or running.
var ErrNotCancellable = errors.New("job is not in a cancellable state")

// statusCacheTTL matches the documented 2s client polling cadence: within one
// cadence window all pollers share a single orchestrator lookup.
const statusCacheTTL = 2 * time.Second

// Service coordinates the job record store and the container orchestrator.
// It is stateless per request; all durable state lives in the store.
type Service struct {
	store           store.Store
	orch            orchestrator.Client
	profiles        *jobconfig.Registry
	cache           cache.Cache
	callbackBaseURL string
	signingSecret   string
}

// NewService creates a job service. cache may be nil, in which case status
// caching is skipped.
func NewService(st store.Store, orch orchestrator.Client, profiles *jobconfig.Registry, ca cache.Cache, callbackBaseURL, signingSecret string) *Service {
	return &Service{
		store:           st,
		orch:            orch,
		profiles:        profiles,
		cache:           ca,
		callbackBaseURL: callbackBaseURL,
		signingSecret:   signingSecret,
	}
}

// SubmitParams are the validated inputs to Submit.
type SubmitParams struct {
	Type      models.JobType
	TenantID  uuid.UUID
	Payload   json.RawMessage
	Priority  string
	CreatedBy string
}

// SubmitResult reports the outcome of a submission. Success is false both for
// duplicate-active rejections and launch failures; JobID and Status always
// identify the record the caller should poll or inspect.
type SubmitResult struct {
	Success bool             `json:"success"`
	JobID   uuid.UUID        `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// Submit validates the request, creates the job record and launches the
// workload. Exactly one store write creates the record and exactly one more
// settles it as running or failed; callers observe "duplicate", "launched" or
// "launch failed", never a partial state.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*SubmitResult, error) {
	if !params.Type.Valid() {
		return nil, fmt.Errorf("unknown job type %q", params.Type)
	}
	if params.TenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant id is required")
	}
	if _, err := models.DecodePayload(params.Type, params.Payload); err != nil {
		return nil, err
	}

	profile, err := s.profiles.Get(params.Type)
	if err != nil {
		return nil, err
	}

	priority := params.Priority
	if priority == "" {
		priority = "normal"
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		TenantID:  params.TenantID,
		Type:      params.Type,
		Status:    models.JobStatusPending,
		Progress:  0,
		Priority:  priority,
		Payload:   params.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.CreatedBy != "" {
		job.CreatedBy = &params.CreatedBy
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateActiveJob) {
			return s.duplicateResult(ctx, params.TenantID, params.Type)
		}
		return nil, fmt.Errorf("create job record: %w", err)
	}

	spec := orchestrator.WorkloadSpec{
		JobID:    job.ID,
		Type:     job.Type,
		TenantID: job.TenantID,
		Payload:  job.Payload,
		Profile:  profile,
	}
	if s.callbackBaseURL != "" {
		spec.CallbackURL = callback.URL(s.callbackBaseURL, s.signingSecret, job.ID)
	}

	handle, err := s.orch.CreateJob(ctx, spec)
	if err != nil {
		// Launch failures become job state, not transport errors. The failed
		// record stays behind as the audit trail.
		slog.Error("workload launch failed", "job_id", job.ID, "type", job.Type, "error", err)
		msg := fmt.Sprintf("launch failed: %v", err)
		if cerr := s.store.CompleteJob(ctx, job.ID, models.JobStatusFailed, nil, &msg); cerr != nil {
			slog.Error("failed to record launch failure", "job_id", job.ID, "error", cerr)
		}
		s.cacheStatus(ctx, job.ID, models.JobStatusFailed)
		return &SubmitResult{
			Success: false,
			JobID:   job.ID,
			Status:  models.JobStatusFailed,
			Message: msg,
		}, nil
	}

	if err := s.store.MarkJobRunning(ctx, job.ID, handle); err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	s.cacheStatus(ctx, job.ID, models.JobStatusRunning)

	slog.Info("job launched", "job_id", job.ID, "type", job.Type, "tenant_id", job.TenantID, "handle", handle)
	return &SubmitResult{
		Success: true,
		JobID:   job.ID,
		Status:  models.JobStatusRunning,
		Message: "job launched",
	}, nil
}

func (s *Service) duplicateResult(ctx context.Context, tenantID uuid.UUID, jobType models.JobType) (*SubmitResult, error) {
	existing, err := s.store.FindActiveJob(ctx, tenantID, jobType)
	if err != nil {
		// The active job finished between our insert attempt and this lookup.
		// The caller simply resubmits.
		if errors.Is(err, store.ErrNotFound) {
			return &SubmitResult{
				Success: false,
				Message: fmt.Sprintf("a %s job just finished for this tenant; please resubmit", jobType),
			}, nil
		}
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return &SubmitResult{
		Success: false,
		JobID:   existing.ID,
		Status:  existing.Status,
		Message: fmt.Sprintf("a %s job is already %s for this tenant", jobType, existing.Status),
	}, nil
}

// UpdateProgress records a progress value from the running workload. Values
// are clamped to [0,100] and never decrease; updates against terminal jobs
// are logged and dropped so late callbacks cannot disturb a finished result.
func (s *Service) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress int, message *string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	if s.cachedTerminal(ctx, jobID) {
		slog.Info("progress update ignored for terminal job", "job_id", jobID, "progress", progress)
		return nil
	}

	err := s.store.UpdateJobProgress(ctx, jobID, progress, message)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		slog.Info("progress update ignored for terminal job", "job_id", jobID, "progress", progress)
		return nil
	}
	return err
}

// Complete records the terminal outcome reported by the workload's completion
// callback. Completed requires a result matching the job's declared shape and
// forces progress to 100; failed requires an error message. Completing an
// already-terminal job is a no-op: the first outcome wins.
func (s *Service) Complete(ctx context.Context, jobID uuid.UUID, status models.JobStatus, result json.RawMessage, errorMessage string) error {
	if status != models.JobStatusCompleted && status != models.JobStatusFailed {
		return fmt.Errorf("completion status must be completed or failed; got %q", status)
	}

	if s.cachedTerminal(ctx, jobID) {
		slog.Info("completion ignored for terminal job", "job_id", jobID)
		return nil
	}

	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		slog.Info("completion ignored for terminal job", "job_id", jobID, "status", job.Status)
		return nil
	}

	var errMsg *string
	if status == models.JobStatusCompleted {
		if _, err := models.DecodeResult(job.Type, result); err != nil {
			return err
		}
	} else {
		if errorMessage == "" {
			return fmt.Errorf("error message is required for a failed completion")
		}
		errMsg = &errorMessage
	}

	err = s.store.CompleteJob(ctx, jobID, status, result, errMsg)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		slog.Info("completion raced with another terminal transition", "job_id", jobID)
		return nil
	}
	if err != nil {
		return err
	}

	s.cacheStatus(ctx, jobID, status)
	slog.Info("job completed", "job_id", jobID, "status", status)
	return nil
}

// OrchestratorStatus is the live platform view returned alongside the record.
type OrchestratorStatus struct {
	Active    int `json:"active"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobStatus combines the durable record with a best-effort live orchestrator
// lookup.
type JobStatus struct {
	Job                *models.Job         `json:"job"`
	OrchestratorStatus *OrchestratorStatus `json:"orchestrator_status,omitempty"`
}

// Get returns the job record plus, for active jobs with a handle, the live
// orchestrator condition. Orchestrator lookup failures degrade to record-only
// responses; the lookup is cached briefly to absorb the polling cadence.
func (s *Service) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*JobStatus, error) {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		return nil, err
	}

	status := &JobStatus{Job: job}
	if !job.Status.Active() || job.OrchestratorHandle == nil {
		return status, nil
	}

	comp, ok := s.lookupCompletion(ctx, *job.OrchestratorHandle)
	if !ok {
		return status, nil
	}

	os := &OrchestratorStatus{}
	switch {
	case !comp.Complete:
		os.Active = 1
	case comp.Succeeded:
		os.Succeeded = 1
	default:
		os.Failed = 1
	}
	status.OrchestratorStatus = os
	return status, nil
}

func (s *Service) lookupCompletion(ctx context.Context, handle string) (orchestrator.Completion, bool) {
	key := cache.OrchestratorStatusKey(handle)
	if s.cache != nil {
		if data, found, err := s.cache.Get(ctx, key); err == nil && found {
			var comp orchestrator.Completion
			if json.Unmarshal(data, &comp) == nil {
				return comp, true
			}
		}
	}

	comp, err := s.orch.IsJobComplete(ctx, handle)
	if err != nil {
		slog.Warn("orchestrator status lookup failed", "handle", handle, "error", err)
		return orchestrator.Completion{}, false
	}

	if s.cache != nil {
		if data, err := json.Marshal(comp); err == nil {
			_ = s.cache.Set(ctx, key, data, statusCacheTTL)
		}
	}
	return comp, true
}

// ListParams narrows List. Statuses empty means all.
type ListParams struct {
	Type     models.JobType
	Statuses []models.JobStatus
	Limit    int
	Offset   int
}

// List returns the tenant's jobs newest-first along with the total count.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, params ListParams) ([]*models.Job, int, error) {
	if params.Type != "" && !params.Type.Valid() {
		return nil, 0, fmt.Errorf("unknown job type %q", params.Type)
	}
	for _, st := range params.Statuses {
		if !models.ValidStatus(st) {
			return nil, 0, fmt.Errorf("unknown job status %q", st)
		}
	}

	return s.store.ListJobs(ctx, store.JobFilter{
		TenantID: tenantID,
		Type:     params.Type,
		Statuses: params.Statuses,
		Limit:    params.Limit,
		Offset:   params.Offset,
	})
}

// Cancel transitions a pending or running job to cancelled. Orchestrator
// deletion is best-effort: a lingering workload is bounded by its own timeout
// and must not block the record-level cancel.
func (s *Service) Cancel(ctx context.Context, tenantID, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		return err
	}
	if !job.Status.Active() {
		return fmt.Errorf("%w: status is %s", ErrNotCancellable, job.Status)
	}

	if job.OrchestratorHandle != nil {
		if err := s.orch.DeleteJob(ctx, *job.OrchestratorHandle); err != nil {
			slog.Warn("orchestrator delete failed during cancel; workload may linger until its timeout",
				"job_id", jobID, "handle", *job.OrchestratorHandle, "error", err)
		}
	}

	err = s.store.CompleteJob(ctx, jobID, models.JobStatusCancelled, nil, nil)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		return fmt.Errorf("%w: job finished before the cancel was recorded", ErrNotCancellable)
	}
	if err != nil {
		return err
	}

	s.cacheStatus(ctx, jobID, models.JobStatusCancelled)
	slog.Info("job cancelled", "job_id", jobID)
	return nil
}

// Logs fetches workload output for diagnostics. Jobs that never launched have
// no logs; that is not an error.
func (s *Service) Logs(ctx context.Context, tenantID, jobID uuid.UUID, tailLines int) (string, error) {
	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		return "", err
	}
	if job.OrchestratorHandle == nil {
		return "", nil
	}
	return s.orch.GetJobLogs(ctx, *job.OrchestratorHandle, tailLines)
}

// Sync reconciles one job's record against the orchestrator's authoritative
// state. It is the durability backstop for completion callbacks that never
// arrived. Returns true when the record transitioned.
func (s *Service) Sync(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status.Terminal() || job.OrchestratorHandle == nil {
		return false, nil
	}

	comp, err := s.orch.IsJobComplete(ctx, *job.OrchestratorHandle)
	if errors.Is(err, orchestrator.ErrWorkloadNotFound) {
		// The workload is gone without ever reporting completion, so no
		// callback can arrive. Failing the record is the only way out.
		msg := "workload no longer exists in the orchestrator"
		return s.finishSync(ctx, jobID, models.JobStatusFailed, &msg)
	}
	if err != nil {
		// Transient: leave the record as is for the next pass.
		slog.Warn("reconciliation lookup failed", "job_id", jobID, "error", err)
		return false, nil
	}

	if !comp.Complete {
		return false, nil
	}

	if comp.Succeeded {
		return s.finishSync(ctx, jobID, models.JobStatusCompleted, nil)
	}
	msg := "workload reported failure"
	return s.finishSync(ctx, jobID, models.JobStatusFailed, &msg)
}

func (s *Service) finishSync(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errMsg *string) (bool, error) {
	err := s.store.CompleteJob(ctx, jobID, status, nil, errMsg)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		// A completion callback won the race; nothing to correct.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.cacheStatus(ctx, jobID, status)
	slog.Info("reconciliation corrected job status", "job_id", jobID, "status", status)
	return true, nil
}

// SyncAll sweeps running jobs with orchestrator handles and reconciles each.
// Returns the number of records corrected.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	running, err := s.store.ListRunningJobsWithHandle(ctx, 500)
	if err != nil {
		return 0, err
	}

	corrected := 0
	for _, job := range running {
		changed, err := s.Sync(ctx, job.ID)
		if err != nil {
			slog.Warn("reconciliation failed for job", "job_id", job.ID, "error", err)
			continue
		}
		if changed {
			corrected++
		}
	}
	return corrected, nil
}

// Cleanup deletes terminal job records older than the retention window and
// returns the count removed. Non-terminal jobs are never deleted regardless
// of age. Orphaned workloads are not verified here; the orchestrator's own
// retention bounds them.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	deleted, err := s.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Info("cleaned up old jobs", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

func (s *Service) cacheStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJobStatus(ctx, jobID, status, 30*time.Minute); err != nil {
		slog.Debug("job status cache write failed", "job_id", jobID, "error", err)
	}
}

// cachedTerminal reports whether the status cache already knows the job is
// terminal. Late worker callbacks short-circuit here without a database read;
// a miss or cache error falls through to the store's terminal guard.
func (s *Service) cachedTerminal(ctx context.Context, jobID uuid.UUID) bool {
	if s.cache == nil {
		return false
	}
	status, found, err := s.cache.GetJobStatus(ctx, jobID)
	return err == nil && found && status.Terminal()
}

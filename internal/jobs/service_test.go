package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatedesk/jobrunner/internal/cache"
	"github.com/estatedesk/jobrunner/internal/jobconfig"
	"github.com/estatedesk/jobrunner/internal/jobs"
	"github.com/estatedesk/jobrunner/internal/orchestrator/mock"
	"github.com/estatedesk/jobrunner/internal/store"
	"github.com/estatedesk/jobrunner/pkg/models"
)

// fakeStore is an in-memory store.Store with the same guard semantics as the
// Postgres implementation: the active-slot constraint on insert and the
// status-predicated terminal transition.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetDefaultTenant(context.Context) (*models.Tenant, error) {
	return &models.Tenant{ID: uuid.New(), Name: "Default Brokerage", Slug: "default"}, nil
}

func (f *fakeStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) CreateAPIKey(context.Context, *models.APIKey) error    { return nil }
func (f *fakeStore) ListAPIKeys(context.Context, uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (f *fakeStore) RevokeAPIKey(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (f *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.jobs {
		if existing.TenantID == job.TenantID && existing.Type == job.Type && existing.Status.Active() {
			return store.ErrDuplicateActiveJob
		}
	}
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id, tenantID uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) GetJobByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Job
	for _, job := range f.jobs {
		if job.TenantID != filter.TenantID {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, st := range filter.Statuses {
				if job.Status == st {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeStore) FindActiveJob(_ context.Context, tenantID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, job := range f.jobs {
		if job.TenantID == tenantID && job.Type == jobType && job.Status.Active() {
			cp := *job
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) MarkJobRunning(_ context.Context, id uuid.UUID, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != models.JobStatusPending {
		return store.ErrAlreadyTerminal
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusRunning
	job.OrchestratorHandle = &handle
	job.StartedAt = &now
	job.UpdatedAt = now
	return nil
}

func (f *fakeStore) UpdateJobProgress(_ context.Context, id uuid.UUID, progress int, message *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status.Terminal() {
		return store.ErrAlreadyTerminal
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	if message != nil {
		job.ProgressMessage = message
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) CompleteJob(_ context.Context, id uuid.UUID, status models.JobStatus, result json.RawMessage, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status.Terminal() {
		return store.ErrAlreadyTerminal
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.UpdatedAt = now
	if status == models.JobStatusCompleted {
		job.Progress = 100
		job.Result = result
	}
	job.ErrorMessage = errorMessage
	return nil
}

func (f *fakeStore) ListRunningJobsWithHandle(_ context.Context, limit int) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Job
	for _, job := range f.jobs {
		if job.Status == models.JobStatusRunning && job.OrchestratorHandle != nil {
			cp := *job
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteTerminalJobsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var deleted int64
	for id, job := range f.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(f.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ store.Store = (*fakeStore)(nil)

// fakeCache is an in-memory cache.Cache recording job-status entries.
type fakeCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	statuses map[uuid.UUID]models.JobStatus
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values:   make(map[string][]byte),
		statuses: make(map[uuid.UUID]models.JobStatus),
	}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }

func (f *fakeCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status models.JobStatus, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
	return nil
}

func (f *fakeCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[jobID]
	return status, ok, nil
}

func (f *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*fakeCache)(nil)

func newTestService(t *testing.T) (*jobs.Service, *fakeStore, *mock.Client) {
	t.Helper()
	st := newFakeStore()
	orch := mock.NewClient()
	svc := jobs.NewService(st, orch, jobconfig.Defaults(), nil, "http://jobrunner.internal:8080", "sekret")
	return svc, st, orch
}

func newTestServiceWithCache(t *testing.T) (*jobs.Service, *fakeStore, *fakeCache) {
	t.Helper()
	st := newFakeStore()
	ca := newFakeCache()
	svc := jobs.NewService(st, mock.NewClient(), jobconfig.Defaults(), ca, "http://jobrunner.internal:8080", "sekret")
	return svc, st, ca
}

func scrapePayload(t *testing.T) json.RawMessage {
	t.Helper()
	return json.RawMessage(`{"regions":["hamburg-nord"],"property_kind":"apartment","max_listings":200}`)
}

func submitScrape(t *testing.T, svc *jobs.Service, tenantID uuid.UUID) *jobs.SubmitResult {
	t.Helper()
	res, err := svc.Submit(context.Background(), jobs.SubmitParams{
		Type:     models.JobTypeMarketIntelScrape,
		TenantID: tenantID,
		Payload:  scrapePayload(t),
	})
	require.NoError(t, err)
	return res
}

func TestSubmit_LaunchesWorkload(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()

	res := submitScrape(t, svc, tenantID)

	assert.True(t, res.Success)
	assert.Equal(t, models.JobStatusRunning, res.Status)

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NotNil(t, job.OrchestratorHandle)
	assert.True(t, orch.Launched(*job.OrchestratorHandle))
	assert.NotNil(t, job.StartedAt)
	assert.Equal(t, "normal", job.Priority)
}

func TestSubmit_UnknownTypeRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), jobs.SubmitParams{
		Type:     models.JobType("reindex-everything"),
		TenantID: uuid.New(),
		Payload:  json.RawMessage(`{}`),
	})
	require.Error(t, err)
}

func TestSubmit_MalformedPayloadRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), jobs.SubmitParams{
		Type:     models.JobTypeMarketIntelScrape,
		TenantID: uuid.New(),
		Payload:  json.RawMessage(`{"regions":[],"bogus_field":true}`),
	})
	require.Error(t, err)
}

func TestSubmit_DuplicateActiveRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()

	first := submitScrape(t, svc, tenantID)
	require.True(t, first.Success)

	second := submitScrape(t, svc, tenantID)
	assert.False(t, second.Success)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, models.JobStatusRunning, second.Status)
	assert.Contains(t, second.Message, "already")
}

func TestSubmit_DifferentTypeAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()

	first := submitScrape(t, svc, tenantID)
	require.True(t, first.Success)

	res, err := svc.Submit(context.Background(), jobs.SubmitParams{
		Type:     models.JobTypeBulkExport,
		TenantID: tenantID,
		Payload:  json.RawMessage(`{"entity":"listings","format":"csv"}`),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSubmit_DifferentTenantAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)

	first := submitScrape(t, svc, uuid.New())
	require.True(t, first.Success)

	second := submitScrape(t, svc, uuid.New())
	assert.True(t, second.Success)
}

func TestSubmit_AfterCompletionSlotFrees(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()

	first := submitScrape(t, svc, tenantID)
	require.True(t, first.Success)

	result := json.RawMessage(`{"listings_found":42,"listings_new":7,"report_url":"s3://reports/hamburg-nord.html"}`)
	require.NoError(t, svc.Complete(context.Background(), first.JobID, models.JobStatusCompleted, result, ""))

	second := submitScrape(t, svc, tenantID)
	assert.True(t, second.Success)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestSubmit_LaunchFailureRecordedAsFailed(t *testing.T) {
	svc, st, orch := newTestService(t)
	orch.CreateJobErr = errors.New("image pull backoff")
	tenantID := uuid.New()

	res := submitScrape(t, svc, tenantID)

	assert.False(t, res.Success)
	assert.Equal(t, models.JobStatusFailed, res.Status)
	assert.Contains(t, res.Message, "launch failed")

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "image pull backoff")
}

func TestSubmit_LaunchFailureFreesSlot(t *testing.T) {
	svc, _, orch := newTestService(t)
	tenantID := uuid.New()

	orch.CreateJobErr = errors.New("daemon unavailable")
	res := submitScrape(t, svc, tenantID)
	require.False(t, res.Success)

	orch.CreateJobErr = nil
	retry := submitScrape(t, svc, tenantID)
	assert.True(t, retry.Success)
}

func TestUpdateProgress_Monotonic(t *testing.T) {
	svc, st, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, svc.UpdateProgress(context.Background(), res.JobID, 60, nil))
	require.NoError(t, svc.UpdateProgress(context.Background(), res.JobID, 40, nil))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 60, job.Progress)
}

func TestUpdateProgress_Clamped(t *testing.T) {
	svc, st, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, svc.UpdateProgress(context.Background(), res.JobID, 250, nil))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, models.JobStatusRunning, job.Status, "progress 100 alone must not complete the job")
}

func TestUpdateProgress_TerminalIgnored(t *testing.T) {
	svc, st, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	result := json.RawMessage(`{"listings_found":5,"listings_new":0}`)
	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusCompleted, result, ""))

	// A straggler progress callback after completion is dropped, not an error.
	require.NoError(t, svc.UpdateProgress(context.Background(), res.JobID, 50, nil))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestUpdateProgress_UnknownJob(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.UpdateProgress(context.Background(), uuid.New(), 10, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestComplete_Success(t *testing.T) {
	svc, st, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	result := json.RawMessage(`{"listings_found":120,"listings_new":18,"report_url":"s3://reports/scrape-120.html"}`)
	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusCompleted, result, ""))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.JSONEq(t, string(result), string(job.Result))
	assert.NotNil(t, job.CompletedAt)
}

func TestComplete_Failure(t *testing.T) {
	svc, st, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusFailed, nil, "portal returned 503"))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "portal returned 503", *job.ErrorMessage)
}

func TestComplete_FailureRequiresMessage(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := submitScrape(t, svc, uuid.New())

	err := svc.Complete(context.Background(), res.JobID, models.JobStatusFailed, nil, "")
	require.Error(t, err)
}

func TestComplete_ResultShapeValidated(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := submitScrape(t, svc, uuid.New())

	// A bulk-export shaped result on a scrape job is rejected.
	err := svc.Complete(context.Background(), res.JobID, models.JobStatusCompleted,
		json.RawMessage(`{"row_count":9,"file_url":"s3://x","content_type":"text/csv"}`), "")
	require.Error(t, err)
}

func TestComplete_CancelledNotAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := submitScrape(t, svc, uuid.New())

	err := svc.Complete(context.Background(), res.JobID, models.JobStatusCancelled, nil, "")
	require.Error(t, err)
}

func TestComplete_FirstOutcomeWins(t *testing.T) {
	svc, st, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusFailed, nil, "timeout"))
	// The duplicate callback reports success; it must not overwrite.
	result := json.RawMessage(`{"listings_found":1,"listings_new":1}`)
	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusCompleted, result, ""))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "timeout", *job.ErrorMessage)
}

func TestCancel_RunningJob(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, svc.Cancel(context.Background(), tenantID, res.JobID))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.False(t, orch.Launched(*job.OrchestratorHandle))
}

func TestCancel_SecondCancelFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, svc.Cancel(context.Background(), tenantID, res.JobID))

	err := svc.Cancel(context.Background(), tenantID, res.JobID)
	assert.ErrorIs(t, err, jobs.ErrNotCancellable)
}

func TestCancel_CompletedJobFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	result := json.RawMessage(`{"listings_found":2,"listings_new":0}`)
	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusCompleted, result, ""))

	err := svc.Cancel(context.Background(), tenantID, res.JobID)
	assert.ErrorIs(t, err, jobs.ErrNotCancellable)
}

func TestCancel_OrchestratorDeleteFailureTolerated(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	orch.DeleteJobErr = errors.New("daemon unreachable")
	require.NoError(t, svc.Cancel(context.Background(), tenantID, res.JobID))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestCancel_WrongTenant(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := submitScrape(t, svc, uuid.New())

	err := svc.Cancel(context.Background(), uuid.New(), res.JobID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGet_ActiveWorkloadStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	status, err := svc.Get(context.Background(), tenantID, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, status.Job.Status)
	require.NotNil(t, status.OrchestratorStatus)
	assert.Equal(t, 1, status.OrchestratorStatus.Active)
}

func TestGet_FinishedWorkloadStatus(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	require.True(t, orch.Finish(*job.OrchestratorHandle, true))

	status, err := svc.Get(context.Background(), tenantID, res.JobID)
	require.NoError(t, err)
	require.NotNil(t, status.OrchestratorStatus)
	assert.Equal(t, 1, status.OrchestratorStatus.Succeeded)
}

func TestGet_LookupFailureDegradesToRecord(t *testing.T) {
	svc, _, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	orch.IsJobCompleteErr = errors.New("daemon unreachable")
	status, err := svc.Get(context.Background(), tenantID, res.JobID)
	require.NoError(t, err)
	assert.Nil(t, status.OrchestratorStatus)
	assert.Equal(t, models.JobStatusRunning, status.Job.Status)
}

func TestGet_TerminalJobSkipsOrchestrator(t *testing.T) {
	svc, _, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, svc.Cancel(context.Background(), tenantID, res.JobID))

	orch.IsJobCompleteErr = errors.New("should not be called")
	status, err := svc.Get(context.Background(), tenantID, res.JobID)
	require.NoError(t, err)
	assert.Nil(t, status.OrchestratorStatus)
}

func TestList_FiltersByStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()

	running := submitScrape(t, svc, tenantID)
	export, err := svc.Submit(context.Background(), jobs.SubmitParams{
		Type:     models.JobTypeBulkExport,
		TenantID: tenantID,
		Payload:  json.RawMessage(`{"entity":"contacts","format":"xlsx"}`),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), tenantID, export.JobID))

	listed, total, err := svc.List(context.Background(), tenantID, jobs.ListParams{
		Statuses: []models.JobStatus{models.JobStatusRunning},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, listed, 1)
	assert.Equal(t, running.JobID, listed[0].ID)
}

func TestList_UnknownStatusRejected(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.List(context.Background(), uuid.New(), jobs.ListParams{
		Statuses: []models.JobStatus{"exploded"},
	})
	require.Error(t, err)
}

func TestLogs(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	orch.SetLogs(*job.OrchestratorHandle, "scraped 42 listings\n")

	logs, err := svc.Logs(context.Background(), tenantID, res.JobID, 100)
	require.NoError(t, err)
	assert.Equal(t, "scraped 42 listings\n", logs)
}

func TestSync_CorrectsMissedSuccessCallback(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	require.True(t, orch.Finish(*job.OrchestratorHandle, true))

	changed, err := svc.Sync(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.True(t, changed)

	job, err = st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestSync_CorrectsMissedFailureCallback(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	require.True(t, orch.Finish(*job.OrchestratorHandle, false))

	changed, err := svc.Sync(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.True(t, changed)

	job, err = st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
}

func TestSync_VanishedWorkloadMarkedFailed(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	require.NoError(t, orch.DeleteJob(context.Background(), *job.OrchestratorHandle))

	changed, err := svc.Sync(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.True(t, changed)

	job, err = st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "no longer exists")
}

func TestSync_TransientErrorLeavesRecord(t *testing.T) {
	svc, st, orch := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	orch.IsJobCompleteErr = errors.New("daemon unreachable")
	changed, err := svc.Sync(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.False(t, changed)

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

func TestSync_StillRunningNoChange(t *testing.T) {
	svc, _, _ := newTestService(t)
	res := submitScrape(t, svc, uuid.New())

	changed, err := svc.Sync(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSync_TerminalJobNoChange(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)
	require.NoError(t, svc.Cancel(context.Background(), tenantID, res.JobID))

	changed, err := svc.Sync(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSyncAll(t *testing.T) {
	svc, st, orch := newTestService(t)

	finished := submitScrape(t, svc, uuid.New())
	still := submitScrape(t, svc, uuid.New())

	job, err := st.GetJobByID(context.Background(), finished.JobID)
	require.NoError(t, err)
	require.True(t, orch.Finish(*job.OrchestratorHandle, true))

	corrected, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	job, err = st.GetJobByID(context.Background(), still.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

func TestCleanup_RetentionBoundary(t *testing.T) {
	svc, st, _ := newTestService(t)
	tenantID := uuid.New()

	old := submitScrape(t, svc, tenantID)
	require.NoError(t, svc.Cancel(context.Background(), tenantID, old.JobID))

	// Push the cancelled job's completion beyond the retention window.
	st.mu.Lock()
	past := time.Now().UTC().Add(-8 * 24 * time.Hour)
	st.jobs[old.JobID].CompletedAt = &past
	st.mu.Unlock()

	recent := submitScrape(t, svc, tenantID)
	require.NoError(t, svc.Cancel(context.Background(), tenantID, recent.JobID))
	active := submitScrape(t, svc, tenantID)

	deleted, err := svc.Cleanup(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = st.GetJobByID(context.Background(), old.JobID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetJobByID(context.Background(), recent.JobID)
	assert.NoError(t, err)
	_, err = st.GetJobByID(context.Background(), active.JobID)
	assert.NoError(t, err)
}

func TestStatusCache_WrittenOnTransitions(t *testing.T) {
	svc, _, ca := newTestServiceWithCache(t)
	tenantID := uuid.New()

	res := submitScrape(t, svc, tenantID)

	status, found, err := ca.GetJobStatus(context.Background(), res.JobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.JobStatusRunning, status)

	result := json.RawMessage(`{"listings_found":3,"listings_new":1}`)
	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusCompleted, result, ""))

	status, found, err = ca.GetJobStatus(context.Background(), res.JobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.JobStatusCompleted, status)
}

func TestUpdateProgress_CachedTerminalShortCircuits(t *testing.T) {
	svc, st, ca := newTestServiceWithCache(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	// The cache already holds the terminal outcome; a straggler progress
	// callback must be dropped before the record is touched.
	require.NoError(t, ca.SetJobStatus(context.Background(), res.JobID, models.JobStatusCancelled, time.Minute))

	require.NoError(t, svc.UpdateProgress(context.Background(), res.JobID, 75, nil))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 0, job.Progress)
}

func TestComplete_CachedTerminalShortCircuits(t *testing.T) {
	svc, st, ca := newTestServiceWithCache(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	require.NoError(t, ca.SetJobStatus(context.Background(), res.JobID, models.JobStatusCancelled, time.Minute))

	result := json.RawMessage(`{"listings_found":1,"listings_new":0}`)
	require.NoError(t, svc.Complete(context.Background(), res.JobID, models.JobStatusCompleted, result, ""))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

func TestUpdateProgress_CacheMissFallsThrough(t *testing.T) {
	svc, st, _ := newTestServiceWithCache(t)
	tenantID := uuid.New()
	res := submitScrape(t, svc, tenantID)

	// The cached status is running, not terminal, so the store path still runs.
	require.NoError(t, svc.UpdateProgress(context.Background(), res.JobID, 40, nil))

	job, err := st.GetJob(context.Background(), res.JobID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/estatedesk/jobrunner/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicateActiveJob is returned when a tenant already has a pending or
	// running job of the same type. Raised by the partial unique index, not by
	// a query-then-insert, so concurrent submissions cannot both slip through.
	ErrDuplicateActiveJob = errors.New("an active job of this type already exists for the tenant")
	// ErrAlreadyTerminal is returned for writes against a job that has reached
	// completed, failed or cancelled. Callers treat it as "ignore, log".
	ErrAlreadyTerminal = errors.New("job is already in a terminal state")
	ErrDuplicateKey    = errors.New("duplicate key violation")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	// CreateJob inserts a pending job. Returns ErrDuplicateActiveJob when the
	// tenant already holds the per-type slot.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	// GetJobByID looks a job up without tenant scoping, for workload callbacks
	// and reconciliation where no tenant context exists.
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	FindActiveJob(ctx context.Context, tenantID uuid.UUID, jobType models.JobType) (*models.Job, error)

	// MarkJobRunning transitions pending → running and records the
	// orchestrator handle and start time.
	MarkJobRunning(ctx context.Context, id uuid.UUID, handle string) error
	// UpdateJobProgress writes a monotonically non-decreasing progress value.
	// Returns ErrAlreadyTerminal when the job has finished.
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int, message *string) error
	// CompleteJob performs the single guarded terminal transition. status must
	// be completed, failed or cancelled. Returns ErrAlreadyTerminal when a
	// prior terminal outcome exists; the first outcome always wins.
	CompleteJob(ctx context.Context, id uuid.UUID, status models.JobStatus, result json.RawMessage, errorMessage *string) error

	ListRunningJobsWithHandle(ctx context.Context, limit int) ([]*models.Job, error)
	// DeleteTerminalJobsBefore removes terminal jobs whose completed_at is
	// strictly before cutoff. Non-terminal jobs are never deleted.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobFilter narrows ListJobs. Statuses empty means all statuses.
type JobFilter struct {
	TenantID uuid.UUID
	Type     models.JobType
	Statuses []models.JobStatus
	Limit    int
	Offset   int
}

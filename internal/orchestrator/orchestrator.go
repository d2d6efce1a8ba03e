// Package orchestrator abstracts the container platform that executes job
// workloads. The service never talks to the platform directly; it goes through
// Client so that environments without a daemon can run on the mock.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/estatedesk/jobrunner/internal/jobconfig"
	"github.com/estatedesk/jobrunner/pkg/models"
	"github.com/google/uuid"
)

// ErrWorkloadNotFound is returned when a handle no longer maps to a workload.
var ErrWorkloadNotFound = errors.New("workload not found")

// WorkloadSpec is everything the orchestrator needs to launch one job.
type WorkloadSpec struct {
	JobID       uuid.UUID
	Type        models.JobType
	TenantID    uuid.UUID
	Payload     json.RawMessage
	CallbackURL string
	Profile     jobconfig.Profile
}

// Completion is the orchestrator-native view of whether a workload finished.
type Completion struct {
	Complete  bool
	Succeeded bool
}

// Client is the contract implemented by the Docker client and the mock.
//
// CreateJob failures are launch failures: the caller records the job as failed
// rather than retrying here. DeleteJob and GetJobLogs are best-effort; callers
// log failures and continue.
type Client interface {
	CreateJob(ctx context.Context, spec WorkloadSpec) (handle string, err error)
	DeleteJob(ctx context.Context, handle string) error
	IsJobComplete(ctx context.Context, handle string) (Completion, error)
	GetJobLogs(ctx context.Context, handle string, tailLines int) (string, error)
	Ready(ctx context.Context) error
}

// WorkloadName derives the deterministic workload name for a job. Reconciling
// a workload back to its record, or a record to its workload, never depends on
// stored state: the mapping is a pure function of type and id.
func WorkloadName(jobType models.JobType, jobID uuid.UUID) string {
	return fmt.Sprintf("jobrunner-%s-%s", jobType, jobID)
}

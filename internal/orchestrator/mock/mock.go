// Package mock provides an in-memory orchestrator.Client for development
// environments without a container daemon and for tests.
package mock

import (
	"context"
	"sync"

	"github.com/estatedesk/jobrunner/internal/orchestrator"
)

// workload is the mock's record of a launched job.
type workload struct {
	spec      orchestrator.WorkloadSpec
	complete  bool
	succeeded bool
	logs      string
}

// Client satisfies orchestrator.Client entirely in memory. The zero value is
// not usable; call NewClient. Behavior is steered per test via the exported
// function fields and the Finish helper.
type Client struct {
	mu        sync.Mutex
	workloads map[string]*workload

	// CreateJobErr, when set, makes every CreateJob call fail with it.
	CreateJobErr error
	// DeleteJobErr, when set, makes every DeleteJob call fail with it.
	DeleteJobErr error
	// IsJobCompleteErr, when set, makes every IsJobComplete call fail with it.
	IsJobCompleteErr error
}

// NewClient creates an empty mock orchestrator.
func NewClient() *Client {
	return &Client{workloads: make(map[string]*workload)}
}

func (c *Client) Ready(_ context.Context) error { return nil }

func (c *Client) CreateJob(_ context.Context, spec orchestrator.WorkloadSpec) (string, error) {
	if c.CreateJobErr != nil {
		return "", c.CreateJobErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	handle := orchestrator.WorkloadName(spec.Type, spec.JobID)
	c.workloads[handle] = &workload{spec: spec}
	return handle, nil
}

func (c *Client) DeleteJob(_ context.Context, handle string) error {
	if c.DeleteJobErr != nil {
		return c.DeleteJobErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.workloads[handle]; !ok {
		return orchestrator.ErrWorkloadNotFound
	}
	delete(c.workloads, handle)
	return nil
}

func (c *Client) IsJobComplete(_ context.Context, handle string) (orchestrator.Completion, error) {
	if c.IsJobCompleteErr != nil {
		return orchestrator.Completion{}, c.IsJobCompleteErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workloads[handle]
	if !ok {
		return orchestrator.Completion{}, orchestrator.ErrWorkloadNotFound
	}
	return orchestrator.Completion{Complete: w.complete, Succeeded: w.succeeded}, nil
}

func (c *Client) GetJobLogs(_ context.Context, handle string, _ int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workloads[handle]
	if !ok {
		return "", nil
	}
	return w.logs, nil
}

// Finish marks a launched workload as complete, for driving reconciliation
// scenarios in tests.
func (c *Client) Finish(handle string, succeeded bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workloads[handle]
	if !ok {
		return false
	}
	w.complete = true
	w.succeeded = succeeded
	return true
}

// SetLogs attaches log output to a launched workload.
func (c *Client) SetLogs(handle, logs string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.workloads[handle]; ok {
		w.logs = logs
	}
}

// Launched reports whether a workload with the given handle exists.
func (c *Client) Launched(handle string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.workloads[handle]
	return ok
}

var _ orchestrator.Client = (*Client)(nil)

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies a kind of background workload. Each type has its own
// payload shape and a workload profile (image, resources, timeout).
type JobType string

const (
	JobTypeMarketIntelScrape JobType = "market-intel-scrape"
	JobTypeNewsletterSend    JobType = "newsletter-send"
	JobTypePortalPublishXE   JobType = "portal-publish-xe"
	JobTypeBulkExport        JobType = "bulk-export"
)

// JobTypes lists every known job type.
var JobTypes = []JobType{
	JobTypeMarketIntelScrape,
	JobTypeNewsletterSend,
	JobTypePortalPublishXE,
	JobTypeBulkExport,
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further status mutation is permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active reports whether the job still occupies its tenant's per-type slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// ValidStatus reports whether s is a known job status.
func ValidStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is one unit of background work executed in an isolated container.
// The database record is the application's source of truth; the orchestrator
// handle correlates it with the running workload and is never cleared once
// set, so logs stay retrievable after completion.
type Job struct {
	ID                 uuid.UUID       `db:"id"                  json:"id"`
	TenantID           uuid.UUID       `db:"tenant_id"           json:"tenant_id"`
	Type               JobType         `db:"type"                json:"type"`
	Status             JobStatus       `db:"status"              json:"status"`
	Progress           int             `db:"progress"            json:"progress"`
	ProgressMessage    *string         `db:"progress_message"    json:"progress_message,omitempty"`
	Priority           string          `db:"priority"            json:"priority"`
	Payload            json.RawMessage `db:"payload"             json:"payload"`
	Result             json.RawMessage `db:"result"              json:"result,omitempty"`
	ErrorMessage       *string         `db:"error_message"       json:"error_message,omitempty"`
	OrchestratorHandle *string         `db:"orchestrator_handle" json:"orchestrator_handle,omitempty"`
	CreatedBy          *string         `db:"created_by"          json:"created_by,omitempty"`
	StartedAt          *time.Time      `db:"started_at"          json:"started_at,omitempty"`
	CompletedAt        *time.Time      `db:"completed_at"        json:"completed_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at"          json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"          json:"updated_at"`
}

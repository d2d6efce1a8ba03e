// Package jobconfig declares the workload profile for each job type: which
// container image runs it and with what resources, timeout and retry budget.
// The registry is built once at startup and injected; nothing reads it from
// global state, so tests can swap in fake profiles.
package jobconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/estatedesk/jobrunner/pkg/models"
)

// Profile is the per-type workload configuration handed to the orchestrator.
type Profile struct {
	Image          string  `json:"image"`
	CPURequest     float64 `json:"cpu_request"`
	CPULimit       float64 `json:"cpu_limit"`
	MemoryRequest  int     `json:"memory_request_mb"`
	MemoryLimit    int     `json:"memory_limit_mb"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries"`
	Namespace      string  `json:"namespace"`
}

// Registry maps each job type to its workload profile. It is immutable after
// construction.
type Registry struct {
	profiles map[models.JobType]Profile
}

// Defaults returns the built-in registry covering every job type.
func Defaults() *Registry {
	return &Registry{profiles: map[models.JobType]Profile{
		models.JobTypeMarketIntelScrape: {
			Image:          "registry.estatedesk.io/workers/market-intel:stable",
			CPURequest:     0.5,
			CPULimit:       2,
			MemoryRequest:  512,
			MemoryLimit:    2048,
			TimeoutSeconds: 3600,
			MaxRetries:     1,
			Namespace:      "jobs",
		},
		models.JobTypeNewsletterSend: {
			Image:          "registry.estatedesk.io/workers/newsletter:stable",
			CPURequest:     0.25,
			CPULimit:       1,
			MemoryRequest:  256,
			MemoryLimit:    1024,
			TimeoutSeconds: 1800,
			MaxRetries:     0,
			Namespace:      "jobs",
		},
		models.JobTypePortalPublishXE: {
			Image:          "registry.estatedesk.io/workers/portal-xe:stable",
			CPURequest:     0.25,
			CPULimit:       1,
			MemoryRequest:  256,
			MemoryLimit:    1024,
			TimeoutSeconds: 900,
			MaxRetries:     2,
			Namespace:      "jobs",
		},
		models.JobTypeBulkExport: {
			Image:          "registry.estatedesk.io/workers/bulk-export:stable",
			CPURequest:     0.5,
			CPULimit:       2,
			MemoryRequest:  512,
			MemoryLimit:    4096,
			TimeoutSeconds: 2700,
			MaxRetries:     0,
			Namespace:      "jobs",
		},
	}}
}

// LoadFile returns the default registry with per-type overrides read from a
// JSON file mapping job type to profile. Missing types keep their defaults.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job profiles: %w", err)
	}

	var overrides map[models.JobType]Profile
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse job profiles: %w", err)
	}

	reg := Defaults()
	for jobType, profile := range overrides {
		if !jobType.Valid() {
			return nil, fmt.Errorf("job profiles: unknown job type %q", jobType)
		}
		reg.profiles[jobType] = profile
	}

	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// New builds a registry from an explicit profile map, for tests.
func New(profiles map[models.JobType]Profile) *Registry {
	copied := make(map[models.JobType]Profile, len(profiles))
	for k, v := range profiles {
		copied[k] = v
	}
	return &Registry{profiles: copied}
}

// Get returns the profile for jobType.
func (r *Registry) Get(jobType models.JobType) (Profile, error) {
	p, ok := r.profiles[jobType]
	if !ok {
		return Profile{}, fmt.Errorf("no workload profile for job type %q", jobType)
	}
	return p, nil
}

func (r *Registry) validate() error {
	for jobType, p := range r.profiles {
		if p.Image == "" {
			return fmt.Errorf("job profile %s: image is required", jobType)
		}
		if p.TimeoutSeconds <= 0 {
			return fmt.Errorf("job profile %s: timeout_seconds must be positive", jobType)
		}
		if p.CPULimit > 0 && p.CPURequest > p.CPULimit {
			return fmt.Errorf("job profile %s: cpu_request exceeds cpu_limit", jobType)
		}
		if p.MemoryLimit > 0 && p.MemoryRequest > p.MemoryLimit {
			return fmt.Errorf("job profile %s: memory_request_mb exceeds memory_limit_mb", jobType)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("job profile %s: max_retries must not be negative", jobType)
		}
	}
	return nil
}

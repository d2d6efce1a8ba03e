package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:status:%s", jobID)
}

// OrchestratorStatusKey caches the live orchestrator lookup for a workload so
// the documented 2s polling cadence does not translate into one daemon round
// trip per poll per client.
func OrchestratorStatusKey(handle string) string {
	return fmt.Sprintf("orch:status:%s", handle)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

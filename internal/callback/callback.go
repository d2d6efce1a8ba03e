// Package callback signs and verifies the URLs that running workloads use to
// report progress and completion. A workload only ever receives the signature
// for its own job id, so a leaked URL cannot be replayed against another job.
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// Sign returns the signature a workload must present for jobID.
func Sign(secret string, jobID uuid.UUID) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(jobID.String()))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the valid signature for jobID.
func Verify(secret string, jobID uuid.UUID, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, jobID)), []byte(sig))
}

// URL builds the signed callback base URL injected into a workload's
// environment. The workload appends /progress or /complete and echoes the
// signature in the X-Callback-Signature header.
func URL(base string, secret string, jobID uuid.UUID) string {
	return fmt.Sprintf("%s/internal/v1/jobs/%s?sig=%s", base, jobID, url.QueryEscape(Sign(secret, jobID)))
}

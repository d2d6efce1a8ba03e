package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/estatedesk/jobrunner/internal/api/response"
	"github.com/estatedesk/jobrunner/internal/callback"
)

// CallbackAuth authenticates workload callbacks on the internal routes. Each
// workload receives an HMAC signature bound to its own job id; the signature
// arrives in the X-Callback-Signature header or the sig query parameter.
type CallbackAuth struct {
	secret string
}

// NewCallbackAuth creates the callback authentication middleware.
func NewCallbackAuth(secret string) *CallbackAuth {
	return &CallbackAuth{secret: secret}
}

// Verify checks the signature against the jobID route parameter.
func (c *CallbackAuth) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_JOB_ID", "Job ID must be a valid UUID", nil)
			return
		}

		sig := r.Header.Get("X-Callback-Signature")
		if sig == "" {
			sig = r.URL.Query().Get("sig")
		}
		if sig == "" || !callback.Verify(c.secret, jobID, sig) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_SIGNATURE", "Missing or invalid callback signature", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

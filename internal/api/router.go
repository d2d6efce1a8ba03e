package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/estatedesk/jobrunner/internal/api/middleware"
	"github.com/estatedesk/jobrunner/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth         *mw.Auth
	RateLimit    *mw.RateLimit
	CallbackAuth *mw.CallbackAuth

	HealthHandler http.HandlerFunc

	SubmitJobHandler http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	CancelJobHandler http.HandlerFunc
	JobLogsHandler   http.HandlerFunc

	ProgressHandler http.HandlerFunc
	CompleteHandler http.HandlerFunc

	ReconcileHandler http.HandlerFunc
	CleanupHandler   http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Tenant-facing routes, authenticated by API key
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.CancelJobHandler))
		r.Get("/api/v1/jobs/{jobID}/logs", orNotImplemented(deps.JobLogsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/jobs/reconcile", orNotImplemented(deps.ReconcileHandler))
			r.Post("/api/v1/admin/jobs/cleanup", orNotImplemented(deps.CleanupHandler))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	// Workload callback routes, authenticated by per-job HMAC signature
	r.Group(func(r chi.Router) {
		r.Use(deps.CallbackAuth.Verify)

		r.Post("/internal/v1/jobs/{jobID}/progress", orNotImplemented(deps.ProgressHandler))
		r.Post("/internal/v1/jobs/{jobID}/complete", orNotImplemented(deps.CompleteHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

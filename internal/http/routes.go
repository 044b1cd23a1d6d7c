package httpx

import (
	"net/http"

	"github.com/geolens/geolens/internal/service"
	"github.com/geolens/geolens/internal/telemetry"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Diagnoses   *service.DiagnosisService
	DeadLetters *service.DeadLetterService
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	registerDiagnosisRoutes(mux, &DiagnosisHandlers{Svc: services.Diagnoses})
	registerDeadLetterRoutes(mux, &DeadLetterHandlers{Svc: services.DeadLetters})

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /metrics", telemetry.Handler())

	return mux
}

func registerDiagnosisRoutes(mux *http.ServeMux, h *DiagnosisHandlers) {
	mux.HandleFunc("POST /api/diagnoses", h.Create)
	mux.HandleFunc("GET /api/diagnoses/{id}/status", h.Status)
	mux.HandleFunc("GET /api/diagnoses/{id}/results", h.Results)
}

func registerDeadLetterRoutes(mux *http.ServeMux, h *DeadLetterHandlers) {
	mux.HandleFunc("GET /api/dead-letters", h.List)
	mux.HandleFunc("GET /api/dead-letters/statistics", h.Statistics)
	mux.HandleFunc("POST /api/dead-letters/cleanup", h.Cleanup)
	mux.HandleFunc("GET /api/dead-letters/{id}", h.Get)
	mux.HandleFunc("POST /api/dead-letters/{id}/resolve", h.Resolve)
	mux.HandleFunc("POST /api/dead-letters/{id}/ignore", h.Ignore)
	mux.HandleFunc("POST /api/dead-letters/{id}/retry", h.Retry)
}

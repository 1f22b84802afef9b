package loadmanager

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
)

const maxRequestBodyBytes = 1 << 20

// NewRouter builds the HTTP frontend of the load manager.
//
// POST /api/requests carries one client frame per call and always answers
// with the uniform reply envelope; the outcome lives in the envelope's status
// field, not in the HTTP status code, which is 200 for every handled frame.
// An unreadable body is the only 400.
func NewRouter(manager *Manager) http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)

	router.Get("/healthz", handleHealth)
	router.Get("/stats", handleStats(manager))
	router.Post("/api/requests", handleRequest(manager))

	return router
}

func handleRequest(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
		if readErr != nil {
			http.Error(w, "unreadable request body", http.StatusBadRequest)
			return
		}

		envelope := manager.Handle(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(envelope)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func handleStats(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snapshot := manager.StatsSnapshot()

		frame, encodeErr := pipeline.EncodeStats(snapshot)
		if encodeErr != nil {
			http.Error(w, "encoding stats failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(frame)
	}
}

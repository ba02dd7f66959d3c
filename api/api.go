// Package api serves the docenrich HTTP interface: upload, scheduling,
// status, artifacts and the enhancement type catalogue.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/horosafe"
	"github.com/hazyhaar/docenrich/ingest"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/orchestrator"
	"github.com/hazyhaar/docenrich/shield"
)

// Config configures the API server.
type Config struct {
	// Shield configures the middleware stack. MaxBodyBytes defaults to
	// the ingest limit plus 1 MB of multipart overhead.
	Shield shield.Config
	// MaxJSONBytes caps JSON request bodies. Default: 64 KB.
	MaxJSONBytes int64

	Metrics *observability.Metrics
}

// Server holds the collaborators of the HTTP handlers.
type Server struct {
	store  *artifacts.Store
	orch   *orchestrator.Orchestrator
	ingest *ingest.Ingester
	queue  orchestrator.Enqueuer
	cfg    Config
}

// New returns a Server. queue receives the process requests.
func New(store *artifacts.Store, orch *orchestrator.Orchestrator, ing *ingest.Ingester, queue orchestrator.Enqueuer, cfg Config) *Server {
	if cfg.Shield.MaxBodyBytes == 0 {
		cfg.Shield.MaxBodyBytes = ing.MaxFileSize() + 1<<20
	}
	if cfg.MaxJSONBytes <= 0 {
		cfg.MaxJSONBytes = 64 << 10
	}
	return &Server{store: store, orch: orch, ingest: ing, queue: queue, cfg: cfg}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.cfg.Shield) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.cfg.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/enhancement-types", s.handleTypes)
		r.Post("/enhancement-types/reload", s.handleReloadTypes)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleList)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(docIDParam)
				r.Get("/analysis", s.handleAnalysis)
				r.Post("/process", s.handleProcess)
				r.Get("/status", s.handleStatus)
				r.Get("/markdown", s.handleMarkdown)
				r.Get("/enhancements", s.handleEnhancements)
			})
		})
	})
	return r
}

// docIDParam rejects ids that are not safe identifiers before any handler
// touches the filesystem.
func docIDParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := horosafe.ValidateIdentifier(chi.URLParam(r, "id")); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, horosafe.ErrInvalidIdentifier), errors.Is(err, horosafe.ErrPathTraversal),
		errors.Is(err, orchestrator.ErrNoValidTypes):
		return http.StatusBadRequest
	case errors.Is(err, artifacts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrNotPDF):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status and logs server errors.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= 500 {
		shield.GetLogger(r.Context()).Error("api: request failed", "error", err)
	}
	writeError(w, code, err)
}

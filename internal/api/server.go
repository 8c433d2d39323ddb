// Package api exposes a read-only HTTP view over state, checkpoints,
// memory, and pending reviews for dashboards and debugging.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/nexus-orchestrator/nexus/internal/checkpoint"
	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/logging"
	"github.com/nexus-orchestrator/nexus/internal/memory"
	"github.com/nexus-orchestrator/nexus/internal/review"
	"github.com/nexus-orchestrator/nexus/internal/state"
)

// Server serves the read-only API.
type Server struct {
	router      chi.Router
	states      *state.Manager
	checkpoints *checkpoint.Manager
	memories    *memory.Manager
	reviews     *review.Manager
	log         *logging.Logger
	corsOrigins []string
}

// Option configures the server.
type Option func(*Server)

// WithCORSOrigins sets the allowed CORS origins. Empty means no CORS
// headers are added.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer creates the API server.
func NewServer(states *state.Manager, checkpoints *checkpoint.Manager, memories *memory.Manager, reviews *review.Manager, log *logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Server{
		states:      states,
		checkpoints: checkpoints,
		memories:    memories,
		reviews:     reviews,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.logRequests)

	if len(s.corsOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}).Handler)
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state/{projectID}", s.handleGetState)
		r.Get("/checkpoints/{projectID}", s.handleListCheckpoints)
		r.Get("/checkpoints/{projectID}/{checkpointID}", s.handleGetCheckpoint)
		r.Get("/memory/search", s.handleMemorySearch)
		r.Get("/reviews/{projectID}", s.handleListReviews)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	st, err := s.states.LoadState(r.Context(), projectID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if st == nil {
		s.respondError(w, core.ErrStateNotFound(projectID))
		return
	}
	s.respond(w, http.StatusOK, st)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	list, err := s.checkpoints.ListCheckpoints(r.Context(), projectID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// The state blob is large; the listing carries metadata only.
	type item struct {
		ID        string    `json:"id"`
		Name      string    `json:"name,omitempty"`
		Reason    string    `json:"reason,omitempty"`
		GitCommit string    `json:"git_commit,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	items := make([]item, len(list))
	for i, cp := range list {
		items[i] = item{
			ID:        cp.ID,
			Name:      cp.Name,
			Reason:    cp.Reason,
			GitCommit: cp.GitCommit,
			CreatedAt: cp.CreatedAt,
		}
	}
	s.respond(w, http.StatusOK, map[string]any{"checkpoints": items})
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.checkpoints.GetCheckpoint(r.Context(), chi.URLParam(r, "checkpointID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if cp.ProjectID != chi.URLParam(r, "projectID") {
		s.respondError(w, core.ErrCheckpointNotFound(cp.ID))
		return
	}
	s.respond(w, http.StatusOK, cp)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondStatus(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondStatus(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	results, err := s.memories.Search(r.Context(), query, memory.SearchOptions{
		ProjectID: r.URL.Query().Get("project"),
		Limit:     limit,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	pending, err := s.reviews.ListPending(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"reviews": pending})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("encoding response failed", "error", err)
	}
}

func (s *Server) respondStatus(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, map[string]string{"error": message})
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		switch {
		case core.IsNotFound(err):
			status = http.StatusNotFound
		case domErr.Category == core.ErrCatValidation:
			status = http.StatusUnprocessableEntity
		}
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.respondStatus(w, status, err.Error())
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully within the timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Package server exposes the stored generation dataset and the import log
// over a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridscope/elexon-pipeline/internal/model"
	"github.com/gridscope/elexon-pipeline/internal/store"
	"github.com/gridscope/elexon-pipeline/internal/window"
)

// defaultQueryLimit bounds /api/generation responses when no limit is given.
const defaultQueryLimit = 1000

// ImportRunner starts an import run covering [start, end).
type ImportRunner interface {
	RunRange(ctx context.Context, start, end time.Time) (*model.ImportSummary, error)
}

// Server serves the HTTP API.
type Server struct {
	store  store.Store
	runner ImportRunner
	port   int

	// The store has a single-writer contract, so at most one triggered
	// import may be in flight.
	mu        sync.Mutex
	importing bool
	baseCtx   context.Context
}

// New creates a Server on the given port.
func New(st store.Store, runner ImportRunner, port int) *Server {
	return &Server{
		store:   st,
		runner:  runner,
		port:    port,
		baseCtx: context.Background(),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/generation", s.handleGeneration)
		r.Get("/status", s.handleStatus)
		r.Get("/imports", s.handleListImports)
		r.Get("/imports/{id}", s.handleGetImport)
		r.Post("/imports", s.handleTriggerImport)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("starting server", zap.Int("port", s.port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.QueryRecords(r.Context(), filter)
	if err != nil {
		zap.L().Error("query records failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status(r.Context())
	if err != nil {
		zap.L().Error("status query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "status query failed")
		return
	}
	summaries, err := s.store.Summaries(r.Context())
	if err != nil {
		zap.L().Error("summaries query failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "status query failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"dataset":      status,
		"technologies": summaries,
	})
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	imports, err := s.store.ListImports(r.Context(), limit)
	if err != nil {
		zap.L().Error("list imports failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(imports),
		"imports": imports,
	})
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	rec, err := s.store.GetImport(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "import not found")
			return
		}
		zap.L().Error("get import failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTriggerImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := window.ParseDate(req.Start)
	if err != nil {
		respondError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := window.ParseDate(req.End)
	if err != nil {
		respondError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}
	if !end.After(start) {
		respondError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	s.mu.Lock()
	if s.importing {
		s.mu.Unlock()
		respondError(w, http.StatusConflict, "an import is already running")
		return
	}
	s.importing = true
	ctx := s.baseCtx
	s.mu.Unlock()

	// Run asynchronously; progress lands in the import log.
	go func() {
		defer func() {
			s.mu.Lock()
			s.importing = false
			s.mu.Unlock()
		}()

		summary, err := s.runner.RunRange(ctx, start, end)
		if err != nil {
			zap.L().Error("triggered import failed", zap.Error(err))
			return
		}
		zap.L().Info("triggered import finished",
			zap.String("run_id", summary.RunID),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
		)
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"start":  req.Start,
		"end":    req.End,
	})
}

// parseFilter reads query filters for /api/generation.
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	filter := store.Filter{
		PSRType: q.Get("psr_type"),
		Limit:   defaultQueryLimit,
	}

	if raw := q.Get("from"); raw != "" {
		t, err := window.ParseDate(raw)
		if err != nil {
			return store.Filter{}, eris.New("from must be YYYY-MM-DD")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := window.ParseDate(raw)
		if err != nil {
			return store.Filter{}, eris.New("to must be YYYY-MM-DD")
		}
		filter.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return store.Filter{}, eris.New("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return store.Filter{}, eris.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// Package api serves the pipeline over HTTP. POST /bloom streams a run as
// Server-Sent Events; /health, /routes, /runs and /metrics are plain GETs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/c360studio/bloom/pipeline"
	"github.com/c360studio/bloom/storage"
	"github.com/c360studio/bloom/task"
)

// AppName is reported by /health.
const AppName = "bloom"

// InvalidBodyMessage is streamed on error when POST /bloom can't be decoded.
const InvalidBodyMessage = "Invalid request body"

// maxRequestBodySize bounds POST /bloom bodies, which carry base64 images.
const maxRequestBodySize = 16 << 20

// Runner executes one pipeline run. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, emit pipeline.EmitFunc) (*pipeline.RequestContext, error)
}

// RunLookup reads stored run records. *storage.RunStore satisfies it.
type RunLookup interface {
	Get(ctx context.Context, id string) (*pipeline.RunRecord, error)
	List(ctx context.Context, limit int) ([]*pipeline.RunRecord, error)
}

// defaultRunListLimit caps GET /runs when no limit is given.
const defaultRunListLimit = 50

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry sets the registry listed by /routes.
func WithRegistry(reg *task.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRunLookup mounts GET /runs and GET /runs/{id}.
func WithRunLookup(runs RunLookup) Option {
	return func(s *Server) {
		s.runs = runs
	}
}

// WithAllowedOrigin sets Access-Control-Allow-Origin. The default is "*".
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) {
		s.allowedOrigin = origin
	}
}

// Server is the HTTP front end of the pipeline.
type Server struct {
	runner        Runner
	registry      *task.Registry
	metrics       http.Handler
	runs          RunLookup
	logger        *slog.Logger
	allowedOrigin string
}

// NewServer creates a server around runner.
func NewServer(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner:        runner,
		registry:      task.Default(),
		logger:        slog.Default(),
		allowedOrigin: "*",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bloom", s.handleBloom)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /routes", s.handleRoutes)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.runs != nil {
		mux.HandleFunc("GET /runs", s.handleListRuns)
		mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	}
	return s.cors(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.allowedOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	App    string `json:"app"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", App: AppName})
}

// RoutesResponse is the body of GET /routes.
type RoutesResponse struct {
	Routes []task.Task `json:"routes"`
	Total  int         `json:"total"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.registry.All()
	s.writeJSON(w, http.StatusOK, RoutesResponse{Routes: routes, Total: len(routes)})
}

// RunsResponse is the body of GET /runs.
type RunsResponse struct {
	Runs  []*pipeline.RunRecord `json:"runs"`
	Total int                   `json:"total"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Warn("Failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Total: len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, storage.ErrInvalidID):
		s.writeError(w, http.StatusBadRequest, "invalid run ID")
		return
	case err != nil:
		s.logger.Warn("Failed to get run", "run_id", r.PathValue("id"), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleBloom runs one request and streams its events.
func (s *Server) handleBloom(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	decodeErr := json.NewDecoder(body).Decode(&req)
	if decodeErr != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(decodeErr, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(ev pipeline.Event) error {
		return s.sendSSEEvent(w, flusher, ev.Type, ev.Data)
	}

	// An undecodable body still streams status then error.
	if decodeErr != nil {
		s.logger.Debug("Invalid request body", "error", decodeErr)
		if err := emit(pipeline.Event{Type: pipeline.EventStatus, Data: pipeline.StatusData{Message: pipeline.StatusMessage}}); err != nil {
			return
		}
		_ = emit(pipeline.Event{Type: pipeline.EventError, Data: pipeline.ErrorData{Error: InvalidBodyMessage}})
		return
	}
	rc, err := s.runner.Run(r.Context(), req, emit)
	if err != nil {
		s.logger.Info("Client disconnected before run completed", "run_id", runID(rc), "error", err)
	}
}

func runID(rc *pipeline.RequestContext) string {
	if rc == nil {
		return ""
	}
	return rc.ID
}

// sendSSEEvent writes one event and flushes it.
// Returns an error if the write fails (e.g., client disconnected).
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("Failed to marshal SSE data", "event", eventType, "error", err)
		dataBytes, _ = json.Marshal(pipeline.ErrorData{Error: "unencodable event"})
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataBytes); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

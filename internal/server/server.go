// Package server exposes optimisation jobs over a JSON HTTP API with
// server-sent progress events.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/wolfefit/internal/config"
	"github.com/cwbudde/wolfefit/internal/opt"
	"github.com/cwbudde/wolfefit/internal/problem"
	"github.com/cwbudde/wolfefit/internal/runner"
	"github.com/cwbudde/wolfefit/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      *store.FSStore
	addr       string
	server     *http.Server

	// ctx is the parent of every job context; Shutdown cancels it.
	ctx     context.Context
	stop    context.CancelFunc
	workers sync.WaitGroup

	mu      sync.Mutex // guards closing and workers.Add
	closing bool
}

// errShuttingDown rejects jobs submitted after Shutdown began.
var errShuttingDown = errors.New("server is shutting down")

// NewServer creates a server that persists jobs to st.
func NewServer(addr string, st *store.FSStore) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		addr:       addr,
		ctx:        ctx,
		stop:       stop,
	}
}

// Handler returns the routed handler with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("/api/v1/problems", s.handleListProblems)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr, "data_dir", s.store.BaseDir())
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs, waits for them to save their
// checkpoints, then shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// shuttingDown reports whether Shutdown has been called.
func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// startJob runs a registered job in the background. It fails once
// Shutdown has begun.
func (s *Server) startJob(r *runner.Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errShuttingDown
	}
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := runJob(s.ctx, s.jobManager, r); err != nil {
			slog.Debug("Job ended with error", "job_id", r.ID(), "error", err)
		}
	}()
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}
	jobID := parts[0]

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	method := http.MethodGet
	switch action {
	case "cancel", "resume":
		method = http.MethodPost
	}
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "params":
		s.handleGetParams(w, r, jobID)
	case "trace":
		s.handleGetTrace(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	case "resume":
		s.handleResumeJob(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// decodeStrict decodes a JSON body onto v, rejecting unknown fields. An
// empty body leaves v unchanged.
func decodeStrict(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleCreateJob handles POST /api/v1/jobs. The body is a partial run
// configuration applied on top of the defaults.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, errShuttingDown.Error())
		return
	}
	cfg := config.Default()
	if err := decodeStrict(r.Body, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	cfg.DataDir = s.store.BaseDir()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.jobManager.CreateJob(cfg)
	rn, err := runner.New(s.store, job.ID, cfg)
	if err != nil {
		markJobFailed(s.jobManager, job.ID, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.startJob(rn); err != nil {
		markJobFailed(s.jobManager, job.ID, err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// jobStatus is a job with its elapsed running time.
type jobStatus struct {
	Job
	Elapsed float64 `json:"elapsed"` // Seconds
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	writeJSON(w, http.StatusOK, jobStatus{Job: job, Elapsed: elapsed.Seconds()})
}

// paramsResponse holds the best parameters split per source.
type paramsResponse struct {
	JobID     string      `json:"jobId"`
	Problem   string      `json:"problem"`
	BestValue float64     `json:"bestValue"`
	Sources   [][]float64 `json:"sources"`
}

// handleGetParams handles GET /api/v1/jobs/:id/params. Jobs that are not
// in memory are served from their checkpoint.
func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request, jobID string) {
	var cfg config.RunConfig
	var params []float64
	var value float64
	if job, ok := s.jobManager.GetJob(jobID); ok {
		cfg, params, value = job.Config, job.BestParams, job.BestValue
	} else {
		cp, err := s.store.LoadCheckpoint(jobID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		cfg, params, value = cp.Config, cp.BestParams, cp.BestValue
	}
	if len(params) == 0 {
		writeError(w, http.StatusNotFound, "no results yet")
		return
	}

	perSource := len(params) / cfg.Sources
	resp := paramsResponse{JobID: jobID, Problem: cfg.Problem, BestValue: value}
	for i := 0; i < cfg.Sources; i++ {
		resp.Sources = append(resp.Sources, params[i*perSource:(i+1)*perSource])
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetTrace handles GET /api/v1/jobs/:id/trace?tail=N
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	tail := 100
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		tail = n
	}

	entries, err := store.ReadTail(s.store.BaseDir(), jobID, tail)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	switch err := s.jobManager.CancelJob(jobID); {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrJobNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// resumeRequest adjusts ascent settings for a resumed job.
type resumeRequest struct {
	MaxIters int        `json:"maxIters"`
	Method   opt.Method `json:"method"`
}

// handleResumeJob handles POST /api/v1/jobs/:id/resume. The job continues
// from its checkpoint, which may have been written by an earlier server or
// by the CLI.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, errShuttingDown.Error())
		return
	}
	if job, ok := s.jobManager.GetJob(jobID); ok && (job.State == StatePending || job.State == StateRunning) {
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s is %s", jobID, job.State))
		return
	}

	var req resumeRequest
	if err := decodeStrict(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	rn, err := runner.Resume(s.store, jobID, func(cfg *config.RunConfig) error {
		if req.MaxIters > 0 {
			cfg.MaxIters = req.MaxIters
		}
		if req.Method != "" {
			cfg.Method = req.Method
		}
		return nil
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	job, err := s.jobManager.AddJob(jobID, rn.Config())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.startJob(rn); err != nil {
		markJobFailed(s.jobManager, jobID, err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// handleListCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	infos, err := s.store.ListCheckpoints()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleListProblems handles GET /api/v1/problems
func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, problem.Names())
}

// writeStoreError maps store and validation errors to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrIncompatible),
		errors.Is(err, config.ErrValidation),
		errors.Is(err, opt.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

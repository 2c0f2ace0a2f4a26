// Package api exposes the HTTP ingress for the daemon: job submission,
// inspection and cancellation, plus the spec-pipeline feature endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/store"
)

// Dispatcher is the scheduler surface the ingress needs.
type Dispatcher interface {
	Enqueue(job *store.Job) error
	Cancel(jobID string) error
}

// Server handles HTTP requests against the job store and scheduler.
type Server struct {
	store         *store.Store
	dispatcher    Dispatcher
	secret        string
	maxConcurrent int
	logger        *log.Logger
}

// NewServer creates the ingress server.
func NewServer(s *store.Store, d Dispatcher, cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:         s,
		dispatcher:    d,
		secret:        cfg.API.BearerSecret,
		maxConcurrent: cfg.MaxConcurrentJobs,
		logger:        logger,
	}
}

// Handler builds the route table wrapped in bearer auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/clients", s.handleCreateClient)
	mux.HandleFunc("POST /v1/repositories", s.handleCreateRepository)

	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/messages", s.handleJobMessages)
	mux.HandleFunc("GET /v1/jobs/{id}/iterations", s.handleJobIterations)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /v1/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("GET /v1/queue", s.handleQueue)

	mux.HandleFunc("POST /v1/features/{id}/spec/start", s.handleSpecStart)
	mux.HandleFunc("GET /v1/features/{id}/spec", s.handleSpecOutput)
	mux.HandleFunc("POST /v1/features/{id}/clarifications", s.handleClarification)
	mux.HandleFunc("POST /v1/features/{id}/spec/approve", s.handleSpecApprove)

	return s.auth(mux)
}

// Serve runs the HTTP server until ctx is cancelled, then drains.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	}
}

// auth enforces the bearer secret on everything except /health. An
// empty secret disables auth.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

// Package apiserver is the protocol endpoint layer: it maps the six wire
// operations (SPEC_FULL.md §6) onto Pusher/Receiver calls, serializes
// requests and responses, and owns the single process-wide Session.
// Grounded on the teacher's internal/server/server.go (Server wrapping an
// http.ServeMux, a stats struct, a logging middleware, JSON response
// helpers), generalized to structured logging via logrus and a bearer-
// token + request-ID middleware chain, since this protocol's wire surface
// requires both (§6: "all expect Authorization: Bearer <token>").
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NahomAnteneh/ostree-upload/internal/apierr"
	"github.com/NahomAnteneh/ostree-upload/internal/backend"
	"github.com/NahomAnteneh/ostree-upload/internal/ioworker"
	"github.com/NahomAnteneh/ostree-upload/internal/receiver"
	"github.com/NahomAnteneh/ostree-upload/internal/session"
)

const apiPrefix = "/api/v1"

// Stats is the server's running counters, mirroring the teacher's
// ServerStats shape.
type Stats struct {
	mu              sync.Mutex
	StartTime       time.Time
	RequestsHandled int64
	ActiveRequests  int
}

func (s *Stats) begin() {
	s.mu.Lock()
	s.RequestsHandled++
	s.ActiveRequests++
	s.mu.Unlock()
}

func (s *Stats) end() {
	s.mu.Lock()
	s.ActiveRequests--
	s.mu.Unlock()
}

// Server is the receiving HTTP process for one archive-mode repository.
type Server struct {
	cfg      Config
	log      *logrus.Logger
	receiver *receiver.Receiver
	sess     *session.Session
	pool     *ioworker.Pool
	stats    Stats

	mux    *http.ServeMux
	server *http.Server
}

// New builds a Server for cfg, opening/creating the repository's staging
// directory via recv. openRepo is the backend factory (jsonstore.Open)
// passed through to the Receiver.
func New(cfg Config, log *logrus.Logger, openRepo func(path string) (backend.Repo, error), poolSize int) (*Server, error) {
	recv, err := receiver.New(cfg.RepoPath, openRepo)
	if err != nil {
		return nil, fmt.Errorf("constructing receiver: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		receiver: recv,
		sess:     session.New(),
		pool:     ioworker.New(poolSize),
		stats:    Stats{StartTime: time.Now()},
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.withMiddleware(s.mux),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  75 * time.Second, // keep-alive convention, SPEC_FULL.md §5
	}

	return s, nil
}

// Handler returns the server's full middleware-wrapped handler, for tests
// that want to drive it with httptest.Server without binding a real port.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc(apiPrefix+"/ping", s.handlePing)
	s.mux.HandleFunc(apiPrefix+"/info", s.handleInfo)
	s.mux.HandleFunc(apiPrefix+"/update", s.handleUpdate)
	s.mux.HandleFunc(apiPrefix+"/missing_objects", s.handleMissingObjects)
	s.mux.HandleFunc(apiPrefix+"/upload", s.handleUpload)
	s.mux.HandleFunc(apiPrefix+"/done", s.handleDone)
}

// Start runs the server, blocking until it stops.
func (s *Server) Start() error {
	s.log.WithFields(logrus.Fields{"addr": s.cfg.Addr(), "repo": s.cfg.RepoPath}).Info("receiver starting")
	err := s.server.ListenAndServe()
	if err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, closing the worker pool once
// in-flight requests drain.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("receiver shutting down")
	err := s.server.Shutdown(ctx)
	s.pool.Close()
	return err
}

// withMiddleware wraps next with request-ID assignment, bearer-token and
// User-Agent presence checking, and structured access logging, matching the
// teacher's logMiddleware shape generalized to the headers this protocol's
// wire surface mandates on every request (SPEC_FULL.md §6: "Authorization:
// Bearer <token> and User-Agent required on every request").
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		if !s.checkBearerToken(r) {
			s.writeError(w, requestID, unauthorized("missing or invalid bearer token"))
			return
		}
		if r.Header.Get("User-Agent") == "" {
			s.writeError(w, requestID, &apierr.Error{Kind: apierr.KindGeneric, Message: "missing User-Agent header"})
			return
		}

		s.stats.begin()
		defer s.stats.end()

		entry := s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote":     r.RemoteAddr,
		})
		entry.Debug("request received")

		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))
		next.ServeHTTP(w, r)

		entry.WithField("duration", time.Since(start)).Debug("request completed")
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true // no token configured: auth is delegated per SPEC_FULL.md §1
	}
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	return len(h) > len(prefix) && h[:len(prefix)] == prefix && h[len(prefix):] == s.cfg.Token
}

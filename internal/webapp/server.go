// Package webapp serves the upload page, image previews and the JSON API
// for the forensic analyzer. One state machine per browser session is
// looked up through a cookie; analyses run in the background and the page
// refreshes until they finish.
package webapp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"

	"github.com/blackbee/ai-forensics/internal/session"
)

// ServiceName identifies the service in health checks and metrics.
const ServiceName = "ai-forensics"

// DefaultMaxUploadBytes caps a single upload.
const DefaultMaxUploadBytes = 20 << 20

// Config wires a Server.
type Config struct {
	// Analyzer runs the forensic call. Required.
	Analyzer session.Analyzer
	// Sessions holds per-browser machines. Defaults to an in-process
	// registry with session.DefaultTTL.
	Sessions session.Store
	// Model is reported by the health endpoint.
	Model string
	// MaxUploadBytes caps the multipart body. Defaults to DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// AllowedOrigins enables CORS for the JSON API. Empty disables CORS.
	AllowedOrigins []string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	// BaseContext parents background analyses. Defaults to context.Background.
	BaseContext context.Context
	// Spawn runs a background analysis. Defaults to a new goroutine; the
	// Lambda surface runs it inline so it finishes before the response.
	Spawn func(func())
}

// Server holds the handler dependencies.
type Server struct {
	analyzer     session.Analyzer
	sessions     session.Store
	model        string
	maxUpload    int64
	origins      []string
	secureCookie bool
	baseCtx      context.Context
	spawn        func(func())
}

// New returns a Server with defaults applied.
func New(cfg Config) *Server {
	s := &Server{
		analyzer:     cfg.Analyzer,
		sessions:     cfg.Sessions,
		model:        cfg.Model,
		maxUpload:    cfg.MaxUploadBytes,
		origins:      cfg.AllowedOrigins,
		secureCookie: cfg.SecureCookies,
		baseCtx:      cfg.BaseContext,
		spawn:        cfg.Spawn,
	}
	if s.sessions == nil {
		s.sessions = session.NewRegistry(session.DefaultTTL)
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	if s.spawn == nil {
		s.spawn = func(f func()) { go f() }
	}
	return s
}

// Sessions returns the store backing the server.
func (s *Server) Sessions() session.Store { return s.sessions }

// Handler builds the full middleware chain and routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogging)
	r.Use(withMetrics)
	r.Use(middleware.Recoverer)
	r.Use(withSecurityHeaders)

	r.Get("/", s.handleIndex)
	r.Post("/upload", s.handleUpload)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/reset", s.handleReset)
	r.Get("/preview/{id}", s.handlePreview)

	r.Route("/api", func(api chi.Router) {
		if len(s.origins) > 0 {
			api.Use(cors.Handler(cors.Options{
				AllowedOrigins:   s.origins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Content-Type"},
				AllowCredentials: true,
				MaxAge:           int((10 * time.Minute).Seconds()),
			}))
		}
		api.Get("/health", s.handleHealth)
		api.Get("/state", s.handleState)
		api.Post("/upload", s.handleAPIUpload)
		api.Post("/analyze", s.handleAPIAnalyze)
		api.Post("/reset", s.handleAPIReset)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return gzhttp.GzipHandler(r)
}

// startAnalysis gates on the machine, commits the Analyzing state and runs
// the analysis through s.spawn, committing its outcome. A session another
// request changed first reports session.ErrBusy.
func (s *Server) startAnalysis(ctx context.Context, id string, m *session.Machine) error {
	job, err := m.Begin()
	if err != nil {
		return err
	}
	if err := s.save(ctx, id, m); err != nil {
		if errors.Is(err, session.ErrConflict) {
			return session.ErrBusy
		}
		return err
	}
	s.spawn(func() {
		_ = session.Execute(s.baseCtx, m, job, s.analyzer)
		_ = s.save(s.baseCtx, id, m)
	})
	return nil
}

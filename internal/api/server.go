package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/trackgo/internal/auth"
	"github.com/star/trackgo/internal/health"
	"github.com/star/trackgo/internal/metrics"
	"github.com/star/trackgo/internal/scheduler"
	"github.com/star/trackgo/internal/stream"
	"github.com/star/trackgo/internal/tle"
)

// Config holds HTTP server settings.
type Config struct {
	Addr string
	Auth auth.Config

	// GenerateTimeout bounds a synchronous generation request. The server
	// write deadline is extended to match for those routes.
	GenerateTimeout time.Duration

	// Satellites is the default set for POST /api/v1/generate. Empty means
	// every loaded element set.
	Satellites []int
}

// Deps are the components the handlers serve. Feeder and Status are nil
// when no controller link is configured.
type Deps struct {
	Sets    *tle.Store
	Service *scheduler.Service
	Feeder  *scheduler.Feeder
	Status  stream.StatusSource
	Stream  *stream.Handler
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger, m *metrics.Collector) *Server {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 2 * time.Minute
	}
	h := &handlers{cfg: cfg, deps: deps, logger: logger}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(h.ready))
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("GET /api/v1/satellites", h.listSatellites)
	mux.HandleFunc("GET /api/v1/passes", h.listPasses)
	mux.HandleFunc("GET /api/v1/passes/{id}", h.getPass)
	mux.HandleFunc("POST /api/v1/passes/{id}/optimize", h.optimizePass)
	mux.HandleFunc("POST /api/v1/passes/{id}/upload", h.uploadPass)
	mux.HandleFunc("POST /api/v1/generate", h.generateAll)
	mux.HandleFunc("POST /api/v1/generate/{sat_id}", h.generateSatellite)
	mux.HandleFunc("GET /api/v1/mount/status", h.mountStatus)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/mount", deps.Stream.HandleMount)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = m.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}

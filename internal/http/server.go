// Package http exposes the sales reports and the dataset loader over a
// JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"salesinsight/internal/core"
	applog "salesinsight/internal/log"
	"salesinsight/internal/middleware/ratelimit"
	"salesinsight/internal/middleware/security"
	"salesinsight/internal/middleware/trace"
	"salesinsight/internal/services"
)

// reportTimeout bounds a single report request.
const reportTimeout = 10 * time.Second

// CombinedReporter composes the three monthly views.
type CombinedReporter interface {
	Combined(ctx context.Context, monthKey string) (core.CombinedReport, error)
}

// DatasetLoader fetches the feed and loads it into the store.
type DatasetLoader interface {
	Reload(ctx context.Context) (services.IngestReport, error)
}

// ReadinessChecker answers whether the store can serve queries.
type ReadinessChecker interface {
	Count(ctx context.Context) (int64, error)
}

// Deps are the services the handlers call.
type Deps struct {
	Aggregates services.MonthAggregator
	Reports    CombinedReporter
	Loader     DatasetLoader
	Readiness  ReadinessChecker
}

// Options tune the server. A zero IngestRateLimit disables limiting.
type Options struct {
	IngestRateLimit int
	Logger          *applog.Logger
}

type Server struct {
	http.Server
	deps        Deps
	logger      *applog.Logger
	rateLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}

	s := &Server{
		Server: http.Server{Addr: addr},
		deps:   deps,
		logger: logger.WithComponent(applog.ComponentHTTP),
	}
	if opts.IngestRateLimit > 0 {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.IngestRateLimit})
	}

	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(trace.NewMiddleware(s.logger, extractClientIP).Handler)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Group(func(r chi.Router) {
		if s.rateLimiter != nil {
			r.Use(s.rateLimiter.Middleware(extractClientIP, s.onRateLimit))
		}
		r.Get("/initialize-database", s.handleInitialize)
	})

	r.Get("/statistics", s.handleStatistics)
	r.Get("/bar-chart", s.handleBarChart)
	r.Get("/pie-chart", s.handlePieChart)
	r.Get("/combined-data", s.handleCombined)

	return r
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).
		WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, extractClientIP(r),
			applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, msgRateLimited).Write(w)
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Package http serves the ledger's JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
)

// Ledger is the command and query surface served over HTTP.
// *ledger.Service implements it.
type Ledger interface {
	AddTransaction(ctx context.Context, in core.Input) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, in core.Input) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	ListTransactions(ctx context.Context, p core.Period) ([]core.Transaction, error)
	ComputeSummary(ctx context.Context, p core.Period) (core.Summary, error)
	ComputeBreakdown(ctx context.Context, p core.Period) (core.CategoryBreakdown, error)
	Ready(ctx context.Context) error
}

// CacheStats is the view of the read cache reported on /metrics.
type CacheStats interface {
	Size() int
	Stats() (hits, misses int64)
}

type Options struct {
	RateLimitPerMinute int
	Logger             *log.Logger
	// Cache is optional.
	Cache CacheStats
	// ReadyTimeout bounds the store check of /readyz.
	ReadyTimeout time.Duration
}

type Server struct {
	http.Server
	ledger Ledger
	logger *log.Logger
	events *log.StructuredLogger
	cache  CacheStats

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	readyTimeout     time.Duration

	appMetrics   appMetrics
	shutdownOnce sync.Once
}

// NewServer wires the routes and middleware for l and returns a server ready
// for ListenAndServe.
func NewServer(addr string, l Ledger, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}

	detector := security.NewDetector(logger)
	s := &Server{
		ledger:           l,
		logger:           logger,
		events:           log.NewStructuredLogger(logger),
		cache:            opts.Cache,
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP, logger),
		readyTimeout:     opts.ReadyTimeout,
	}
	s.appMetrics.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/breakdown", s.handleBreakdown)

	onLimit := func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	}
	limit := s.rateLimiter.Middleware(detector.ExtractClientIP, onLimit,
		http.MethodPost, http.MethodPut, http.MethodDelete)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)
	handler = otelhttp.NewHandler(handler, "ledger-api")

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and drains the HTTP server. Only the first
// call has an effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

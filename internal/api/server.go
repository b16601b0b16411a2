package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/config"
	"github.com/JakeFAU/pricewise/internal/configstore"
	"github.com/JakeFAU/pricewise/internal/hash/sha256"
	"github.com/JakeFAU/pricewise/internal/metrics"
	"github.com/JakeFAU/pricewise/internal/policy/ratelimit"
	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/staleness"
	"github.com/JakeFAU/pricewise/internal/store"
)

// BasePath prefixes every control route.
const BasePath = "/api/price-wise"

const defaultRequestTimeout = 60 * time.Second

// Runner controls the scraper lifecycle.
type Runner interface {
	StartRun(ctx context.Context) (string, error)
	StopRun(ctx context.Context) error
	Status(ctx context.Context) (pricewise.StatusPayload, error)
	RunAnalyzerOnly(ctx context.Context) (*pricewise.Snapshot, error)
}

// Snapshots reads committed analyses and raw artifacts.
type Snapshots interface {
	Current() (*pricewise.Snapshot, error)
	ListArchive() ([]pricewise.Snapshot, error)
	ReadFile(target string) (*pricewise.Artifact, error)
}

// Configs reads and patches the persisted scraper configuration.
type Configs interface {
	Get() pricewise.ScraperConfig
	Update(p configstore.Patch) (pricewise.ScraperConfig, []string, error)
}

// Freshness evaluates whether the current analysis is outdated.
type Freshness interface {
	Evaluate(ctx context.Context) (staleness.Verdict, error)
}

// Deps bundles the collaborators behind the handlers. Runs is optional.
type Deps struct {
	Runner    Runner
	Snapshots Snapshots
	Configs   Configs
	Freshness Freshness
	Runs      store.RunRepository
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router    chi.Router
	runner    Runner
	snapshots Snapshots
	configs   Configs
	freshness Freshness
	runs      *RunsHandler
	hasher    *sha256.Hasher
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:    deps.Runner,
		snapshots: deps.Snapshots,
		configs:   deps.Configs,
		freshness: deps.Freshness,
		runs:      NewRunsHandler(deps.Runs, logger.Named("runs")),
		hasher:    sha256.New(),
		logger:    logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	throttle := throttleMiddleware(ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Server.ControlRPS,
		DefaultBurst: cfg.Server.ControlBurst,
	}))

	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route(BasePath, func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/scraper", func(r chi.Router) {
			r.With(throttle).Post("/run", s.startRun)
			r.With(throttle).Post("/stop", s.stopRun)
			r.Get("/status", s.status)
			r.Get("/file", s.file)
		})
		r.Route("/analyzer", func(r chi.Router) {
			r.With(throttle).Post("/run", s.runAnalyzer)
			r.Get("/status", s.analyzerStatus)
		})
		r.Get("/snapshots", s.listSnapshots)
		r.Get("/config", s.getConfig)
		r.With(throttle).Put("/config", s.updateConfig)
		r.Get("/runs", s.runs.ListRuns)
		r.Get("/runs/{run_id}", s.runs.GetRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once run state can be read; the ledger is probed when configured.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.runner.Status(r.Context()); err != nil {
		s.logger.Warn("readiness status check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "run state unavailable")
		return
	}
	if err := s.runs.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness ledger check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

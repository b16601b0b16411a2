// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/api"
	"github.com/JakeFAU/pricewise/internal/clock/system"
	"github.com/JakeFAU/pricewise/internal/config"
	"github.com/JakeFAU/pricewise/internal/configstore"
	"github.com/JakeFAU/pricewise/internal/id/uuid"
	"github.com/JakeFAU/pricewise/internal/launcher"
	"github.com/JakeFAU/pricewise/internal/logging"
	"github.com/JakeFAU/pricewise/internal/orchestrator"
	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/progress"
	progresssinks "github.com/JakeFAU/pricewise/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/pricewise/internal/publisher/pubsub"
	"github.com/JakeFAU/pricewise/internal/runstate"
	"github.com/JakeFAU/pricewise/internal/scheduler"
	"github.com/JakeFAU/pricewise/internal/snapshot"
	"github.com/JakeFAU/pricewise/internal/staleness"
	gcsstorage "github.com/JakeFAU/pricewise/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pricewise/internal/storage/local"
	memorystorage "github.com/JakeFAU/pricewise/internal/storage/memory"
	pgstore "github.com/JakeFAU/pricewise/internal/storage/postgres"
	"github.com/JakeFAU/pricewise/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Orchestrator *orchestrator.Orchestrator
	Snapshots    *snapshot.Repository
	Configs      *configstore.Store
	Staleness    *staleness.Policy

	apiServer    *api.Server
	scheduler    *scheduler.Scheduler
	progressHub  *progress.Hub
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	runStore     *pgstore.RunStore
	runRepo      store.RunRepository
}

// Options narrows what Build wires. The CLI's one-shot commands skip the
// scheduler and the optional cloud integrations.
type Options struct {
	Scheduler    bool
	Integrations bool
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("data_dir", cfg.Data.Dir),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("ledger", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)

	if err := os.MkdirAll(cfg.Data.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	clock := system.New()
	tracker, err := runstate.NewTracker(filepath.Join(cfg.Data.Dir, runstate.StateFile), clock, logger)
	if err != nil {
		return nil, fmt.Errorf("run state init failed: %w", err)
	}
	history := runstate.NewHistoryLog(filepath.Join(cfg.Data.Dir, snapshot.HistoryFile), logger)
	app.Configs = configstore.New(filepath.Join(cfg.Data.Dir, configstore.FileName), logger)

	var mirror pricewise.SnapshotMirror
	if opts.Integrations {
		if mirror, err = setupStorage(ctx, app); err != nil {
			app.closeInfrastructure(ctx)
			return nil, err
		}
	}
	app.Snapshots, err = snapshot.New(snapshot.Config{
		DataDir:  cfg.Data.Dir,
		Mirror:   mirror,
		Location: cfg.StalenessConfig().Location,
		Logger:   logger,
	})
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("snapshot repository init failed: %w", err)
	}

	var sinks []progress.Sink
	if opts.Integrations {
		if sinks, err = setupSinks(ctx, app); err != nil {
			app.closeInfrastructure(ctx)
			return nil, err
		}
	}
	if cfg.Progress.LogEnabled {
		sinks = append(sinks, progresssinks.NewLogSink(logger.Named("lifecycle")))
	}
	hubCfg := cfg.HubConfig()
	hubCfg.BaseContext = context.WithoutCancel(ctx)
	hubCfg.Logger = logger
	app.progressHub = progress.NewHub(hubCfg, sinks...)

	app.Orchestrator, err = orchestrator.New(cfg.OrchestratorConfig(), orchestrator.Deps{
		Tracker:   tracker,
		History:   history,
		Configs:   app.Configs,
		Snapshots: app.Snapshots,
		Launcher:  launcher.New(logger),
		Clock:     clock,
		IDs:       uuid.NewUUIDGenerator(),
		Events:    app.progressHub,
		Logger:    logger,
	})
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	app.Staleness = staleness.New(cfg.StalenessConfig(), app.Snapshots, app.Configs, clock)

	if opts.Scheduler {
		app.scheduler, err = scheduler.New(ctx, cfg.SchedulerConfig(), app.Orchestrator, app.Staleness, logger)
		if err != nil {
			app.closeInfrastructure(ctx)
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	app.apiServer = api.NewServer(api.Deps{
		Runner:    app.Orchestrator,
		Snapshots: app.Snapshots,
		Configs:   app.Configs,
		Freshness: app.Staleness,
		Runs:      app.runRepo,
	}, cfg, logger.Named("api"))

	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run reconciles run state, starts the scheduler and HTTP server, and blocks
// until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Orchestrator.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile run state: %w", err)
	}
	if a.scheduler != nil {
		a.scheduler.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if state, err := a.Orchestrator.Status(shutdownCtx); err == nil && state.RunState.Running() {
		a.logger.Info("scraper keeps running detached; it will be adopted on next start",
			zap.String("run_id", state.RunState.RunID),
			zap.Int("pid", state.RunState.PID),
		)
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
}

func setupStorage(ctx context.Context, app *App) (pricewise.SnapshotMirror, error) {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("mirroring snapshots to GCS", zap.String("bucket", app.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.BackendLocal:
		app.logger.Info("mirroring snapshots to local directory", zap.String("path", app.cfg.Storage.LocalDir))
		blobStore, err := localstorage.New(localstorage.Config{
			BaseDir: app.cfg.Storage.LocalDir,
			Prefix:  app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.BackendMemory:
		app.logger.Info("mirroring snapshots in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Debug("snapshot mirroring disabled")
		return nil, nil
	}
}

// setupSinks builds the optional lifecycle sinks: Prometheus, the run ledger
// and completion notifications.
func setupSinks(ctx context.Context, app *App) ([]progress.Sink, error) {
	var sinks []progress.Sink

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinks = append(sinks, promSink)

	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, run ledger disabled")
	} else {
		app.runStore, err = pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
			DSN:             app.cfg.DB.DSN,
			Table:           app.cfg.DB.Table,
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("run store init failed: %w", err)
		}
		if err := app.runStore.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("run store schema: %w", err)
		}
		app.runRepo = app.runStore
		sinks = append(sinks, progresssinks.NewStoreSink(app.runStore, app.logger.Named("ledger")))
		app.logger.Info("run ledger initialized", zap.String("table", app.cfg.DB.Table))
	}

	if app.cfg.PubSub.TopicName == "" {
		app.logger.Debug("no Pub/Sub topic configured, completion notifications disabled")
	} else {
		app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.publisher = gcppublisher.New(app.pubsubClient, app.cfg.PubSub.TopicName)
		sinks = append(sinks, progresssinks.NewPublishSink(app.publisher, app.cfg.PubSub.TopicName, app.logger))
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
	}
	return sinks, nil
}

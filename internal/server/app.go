// Package server builds the harvester's dependencies from configuration and
// runs a harvest over them.
package server

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/api"
	"github.com/JakeFAU/review-harvester/internal/auditlog"
	"github.com/JakeFAU/review-harvester/internal/client"
	"github.com/JakeFAU/review-harvester/internal/clock/system"
	"github.com/JakeFAU/review-harvester/internal/collector"
	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/dispatcher"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/id/uuid"
	"github.com/JakeFAU/review-harvester/internal/input"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/review-harvester/internal/progress"
	gcppublisher "github.com/JakeFAU/review-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/review-harvester/internal/sink"
	gcsstorage "github.com/JakeFAU/review-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/review-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/review-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/review-harvester/internal/storage/postgres"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

// App contains the harvester's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	checkpoint *progress.Store
	records    harvest.RecordStore
	documents  harvest.DocumentStore
	notifier   harvest.Notifier
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server

	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
}

// Build creates every dependency a harvest needs. Startup failures (corrupt
// checkpoint, unreachable database, unusable output location) are returned.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	ids := uuid.New()
	runID, err := ids.NewRunID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	app := &App{cfg: cfg, logger: logger.With(zap.String("run_id", runID)), runID: runID}
	app.logger.Info("building harvester dependencies",
		zap.String("storage", cfg.Storage.Provider),
		zap.Bool("db_disabled", cfg.DB.Disabled),
		zap.Int("threads", cfg.Run.Threads),
	)

	if app.checkpoint, err = OpenCheckpoint(cfg, app.logger); err != nil {
		return nil, err
	}
	if err = setupRecords(ctx, app); err != nil {
		return nil, err
	}
	if err = setupDocuments(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	if err = setupNotifier(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	if err = setupDispatcher(app, ids); err != nil {
		app.Close()
		return nil, err
	}
	if cfg.Server.Addr != "" {
		app.apiServer = api.NewServer(app.checkpoint, app.logger.Named("api"))
	}
	return app, nil
}

// OpenCheckpoint opens and loads the checkpoint file named by cfg.
func OpenCheckpoint(cfg config.Config, logger *zap.Logger) (*progress.Store, error) {
	store, err := progress.New(progress.Config{
		Path:        cfg.Progress.Path,
		MaxAttempts: cfg.Progress.MaxAttempts,
	}, logger.Named("progress"))
	if err != nil {
		return nil, fmt.Errorf("checkpoint init failed: %w", err)
	}
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("checkpoint load failed: %w", err)
	}
	return store, nil
}

func setupRecords(ctx context.Context, app *App) error {
	if app.cfg.DB.Disabled {
		app.logger.Warn("database disabled, collection records are not stored")
		app.records = harvest.NoOpRecordStore{}
		return nil
	}
	if app.cfg.DB.DSN == "" {
		return errors.New("db.dsn must be set unless the database is disabled")
	}
	store, err := pgstore.NewRecordStore(pgstore.RecordStoreConfig{
		DSN:            app.cfg.DB.DSN,
		Table:          app.cfg.DB.Table,
		MaxAttempts:    app.cfg.DB.MaxAttempts,
		ConnectTimeout: app.cfg.DB.ConnectTimeout,
	}, app.logger.Named("records"))
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	app.records = store
	app.logger.Info("record store ready", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupDocuments(ctx context.Context, app *App) error {
	switch app.cfg.Storage.Provider {
	case config.ProviderGCS:
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs document store init failed: %w", err)
		}
		if err := store.CheckBucket(ctx); err != nil {
			return fmt.Errorf("gcs bucket unusable: %w", err)
		}
		app.documents = store
		app.logger.Info("using GCS document store", zap.String("bucket", app.cfg.Storage.Bucket))
	case config.ProviderMemory:
		app.documents = memorystorage.NewDocumentStore()
		app.logger.Warn("using in-memory document store, documents are discarded at exit")
	default:
		store, err := localstorage.New(localstorage.Config{Dir: app.cfg.Storage.Dir})
		if err != nil {
			return fmt.Errorf("local document store init failed: %w", err)
		}
		app.documents = store
		app.logger.Info("using local document store", zap.String("dir", app.cfg.Storage.Dir))
	}
	return nil
}

func setupNotifier(ctx context.Context, app *App) error {
	if app.cfg.Notify.Topic == "" {
		app.logger.Debug("no Pub/Sub topic configured, completion events disabled")
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.Notify.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.Notify.Topic)
	app.notifier = gcppublisher.New(app.pubsubPublisher)
	app.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", app.cfg.Notify.ProjectID),
		zap.String("topic", app.cfg.Notify.Topic),
	)
	return nil
}

func setupDispatcher(app *App, ids *uuid.Generator) error {
	cfg := app.cfg
	limiter := ratelimit.New(ratelimit.Config{
		MinInterval: cfg.RateLimit.MinInterval,
		MaxInterval: cfg.RateLimit.MaxInterval,
	})
	httpClient := client.New(client.Config{
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		UserAgents:     cfg.HTTP.UserAgents,
		Headers:        cfg.RequestHeaders(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
	}, limiter, app.logger.Named("client"))

	coll := collector.New(collector.Config{
		Endpoint:            cfg.API.URL,
		PageSize:            cfg.Collector.PageSize,
		MaxAttempts:         cfg.HTTP.MaxAttempts,
		MaxConsecutiveEmpty: cfg.Collector.MaxConsecutiveEmpty,
		MaxEmptyPages:       cfg.Collector.MaxEmptyPages,
		PageDelayMin:        cfg.Collector.PageDelayMin,
		PageDelayMax:        cfg.Collector.PageDelayMax,
		DedupeReviews:       cfg.Collector.DedupeReviews,
	}, httpClient, app.logger.Named("collector"))

	audit, err := auditlog.NewCSVLog(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("audit log init failed: %w", err)
	}
	writer, err := sink.New(sink.Config{
		Source:    cfg.API.Source,
		Collector: cfg.Collector.Name,
	}, sink.Deps{
		Records:   app.records,
		Documents: app.documents,
		Audit:     audit,
		Notifier:  app.notifier,
		Clock:     system.NewLocal(),
		Tokens:    ids,
		Logger:    app.logger.Named("sink"),
	})
	if err != nil {
		return fmt.Errorf("sink init failed: %w", err)
	}

	w := worker.New(coll, writer, app.checkpoint, worker.Config{
		Languages:         input.ParseLanguages(cfg.Run.Langs),
		CoverageWarnRatio: cfg.Run.CoverageWarnRatio,
	}, app.logger.Named("worker"))

	app.dispatch = dispatcher.New(w, app.checkpoint, dispatcher.Config{
		Concurrency: cfg.Run.Threads,
		FlushEvery:  cfg.Run.FlushEvery,
		Limit:       cfg.EffectiveLimit(),
		HeapWarnMiB: cfg.Run.HeapWarnMiB,
	}, app.logger.Named("dispatcher"))
	app.logger.Info("pipeline ready",
		zap.String("endpoint", cfg.API.URL),
		zap.Strings("langs", input.ParseLanguages(cfg.Run.Langs)),
		zap.Int("limit", cfg.EffectiveLimit()),
	)
	return nil
}

// Checkpoint exposes the loaded checkpoint.
func (a *App) Checkpoint() *progress.Store {
	return a.checkpoint
}

// Harvest processes urls. When a status address is configured the status
// server runs alongside and stops with the harvest.
func (a *App) Harvest(ctx context.Context, urls []string) (dispatcher.Summary, error) {
	if a.apiServer == nil {
		return a.dispatch.Run(ctx, urls)
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := a.apiServer.ListenAndServe(serverCtx, a.cfg.Server.Addr); err != nil {
			a.logger.Error("status server error", zap.Error(err))
		}
	}()

	summary, err := a.dispatch.Run(ctx, urls)
	stopServer()
	<-serverDone
	return summary, err
}

// Close releases clients. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
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
}

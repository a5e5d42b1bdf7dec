package main

import (
	"context"
	"io"

	"github.com/alexisbeaulieu97/assetq/internal/application/build"
	"github.com/alexisbeaulieu97/assetq/internal/builder"
	"github.com/alexisbeaulieu97/assetq/internal/config"
	"github.com/alexisbeaulieu97/assetq/internal/controller"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/fingerprint"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/metrics"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/store/sqlite"
	"github.com/alexisbeaulieu97/assetq/internal/pathdeps"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/scheduler"
	"github.com/alexisbeaulieu97/assetq/internal/worker"
)

// appContext bundles the long-lived services of one command invocation.
type appContext struct {
	cfg        *config.Config
	logger     ports.Logger
	store      *sqlite.Store
	publisher  *events.LoggingPublisher
	metrics    *metrics.Collector
	controller *controller.Controller
	service    *build.Service
}

func newLogger(cfg *config.Config, verbose bool, w io.Writer) (ports.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Writer: w, Level: level, HumanReadable: cfg.Log.HumanReadable})
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func newAppContext(ctx context.Context, cfg *config.Config, logger ports.Logger) (*appContext, error) {
	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	publisher := events.NewLoggingPublisher(logger, events.WithQuietTypes(ports.EventQueueDepth))

	runner := worker.New(builder.NewDefaultRegistry(), cfg.CacheRoot,
		worker.WithLogger(logger),
		worker.WithLockPolicy(cfg.Wait.LockPolicy()),
		worker.WithFingerprintPolicy(cfg.Wait.FingerprintPolicy()),
	)

	ctrl, err := controller.New(runner,
		controller.WithLogger(logger),
		controller.WithMetrics(collector),
		controller.WithEvents(publisher),
		controller.WithMaxJobs(cfg.EffectiveMaxJobs()),
		controller.WithPlatforms(scheduler.NewPlatforms(cfg.HostPlatform(), cfg.IntermediatePlatforms()...)),
		controller.WithSearchOptions(cfg.Search.Options()),
		controller.WithShutdownPolling(cfg.ShutdownPollInterval, cfg.ShutdownTimeout),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	resolver := pathdeps.New(store, pathdeps.WithLogger(logger), pathdeps.WithEvents(publisher))
	service, err := build.NewService(ctrl, store, resolver, publisher,
		build.WithLogger(logger),
		build.WithMetrics(collector),
		build.WithFingerprinter(fingerprint.Blob{}),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	for _, folder := range cfg.ScanFolders {
		if _, err := service.RegisterScanFolder(ctx, folder.Path, folder.PortableKey); err != nil {
			service.Close()
			_ = store.Close()
			return nil, err
		}
	}

	return &appContext{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		publisher:  publisher,
		metrics:    collector,
		controller: ctrl,
		service:    service,
	}, nil
}

func (a *appContext) Close() {
	a.service.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn(context.Background(), "closing store failed", "error", err)
	}
}

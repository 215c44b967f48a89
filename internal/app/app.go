// -----------------------------------------------------------------------
// Application wiring
//
// Dependencies are constructed explicitly, in order: storage, queue,
// engine, throttle, chain, jobs, workers, scheduler, monitors. Nothing
// here is a singleton; tests assemble the same pieces with fakes.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/services/chain"
	"github.com/ternarybob/relay/internal/services/jobs"
	"github.com/ternarybob/relay/internal/services/monitors"
	"github.com/ternarybob/relay/internal/services/rclone"
	"github.com/ternarybob/relay/internal/services/scheduler"
	"github.com/ternarybob/relay/internal/services/throttle"
	"github.com/ternarybob/relay/internal/services/worker"
	badgerstorage "github.com/ternarybob/relay/internal/storage/badger"
)

// App owns every long-running component of the service
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage interfaces.StorageManager
	Queue   *queue.Manager
	Engine  interfaces.CopyEngine
	Jobs    *jobs.Service

	throttle  *throttle.Controller
	workers   *worker.Processor
	scheduler *scheduler.Service
	monitors  []monitors.Monitor
}

// New assembles the application from configuration
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := badgerstorage.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	badgerManager, ok := storage.(*badgerstorage.Manager)
	if !ok {
		return nil, fmt.Errorf("storage manager does not expose a badger connection")
	}

	statusTTL := common.ParseDurationOr(config.Queue.StatusTTL, 24*time.Hour)
	queueManager, err := queue.NewManager(badgerManager.DB().Store().Badger(), config.Queue.Prefix, statusTTL, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	engine := rclone.NewService(&config.Engine, logger)
	throttleCtl := throttle.NewController(queueManager, storage.EndpointStorage(), &config.Throttle, logger)
	chainSvc := chain.NewService(storage.JobStorage(), storage.EndpointStorage(), logger)
	jobSvc := jobs.NewService(storage, queueManager, logger)

	workers := worker.NewProcessor(
		queueManager,
		storage,
		engine,
		throttleCtl,
		chainSvc,
		&config.Worker,
		&config.Queue,
		logger,
	)

	schedulerSvc := scheduler.NewService(storage.JobStorage(), queueManager, &config.Scheduler, logger)

	dispatcher := monitors.NewDispatcher(storage.TemplateStorage(), storage.JobStorage(), queueManager, logger)

	var monitorList []monitors.Monitor
	if config.Monitors.S3.Enabled {
		monitorList = append(monitorList, monitors.NewS3Monitor(&config.Monitors.S3, storage.TemplateStorage(), dispatcher, logger))
	}
	if config.Monitors.File.Enabled {
		monitorList = append(monitorList, monitors.NewFileWatcher(storage.TemplateStorage(), dispatcher, logger))
	}

	return &App{
		Config:    config,
		Logger:    logger,
		Storage:   storage,
		Queue:     queueManager,
		Engine:    engine,
		Jobs:      jobSvc,
		throttle:  throttleCtl,
		workers:   workers,
		scheduler: schedulerSvc,
		monitors:  monitorList,
	}, nil
}

// Start recovers persisted state and launches all components
func (a *App) Start(ctx context.Context) error {
	// Counters track in-flight transfers; nothing is in flight at boot
	endpoints, err := a.Storage.EndpointStorage().List(ctx)
	if err != nil {
		return err
	}
	for _, endpoint := range endpoints {
		if err := a.Queue.ResetCounter(ctx, endpoint.ID); err != nil {
			a.Logger.Warn().Err(err).Str("endpoint_id", endpoint.ID).Msg("Failed to reset endpoint counter")
		}
	}

	// Probe endpoint reachability off the startup path
	common.SafeGo(a.Logger, "endpoint-probe", func() {
		a.probeEndpoints(ctx, endpoints)
	})

	if err := a.Jobs.RecoverQueue(ctx); err != nil {
		return fmt.Errorf("queue recovery failed: %w", err)
	}

	if err := a.workers.Start(ctx); err != nil {
		return err
	}

	if a.Config.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	for _, monitor := range a.monitors {
		if err := monitor.Start(ctx); err != nil {
			a.Logger.Error().Err(err).Str("monitor", monitor.Name()).Msg("Monitor failed to start")
		}
	}

	a.Logger.Info().Msg("Application started")
	return nil
}

// probeEndpoints tests each active endpoint and records its connection state
func (a *App) probeEndpoints(ctx context.Context, endpoints []*models.Endpoint) {
	store := a.Storage.EndpointStorage()
	now := time.Now()

	for _, endpoint := range endpoints {
		if ctx.Err() != nil {
			return
		}
		if !endpoint.IsActive {
			continue
		}

		if err := a.Engine.TestEndpoint(ctx, endpoint); err != nil {
			a.Logger.Warn().Err(err).Str("endpoint", endpoint.Name).Msg("Endpoint unreachable")
			endpoint.ConnectionStatus = models.ConnectionStatusDisconnected
		} else {
			endpoint.ConnectionStatus = models.ConnectionStatusConnected
			endpoint.LastConnected = &now
		}

		if err := store.Save(ctx, endpoint); err != nil {
			a.Logger.Warn().Err(err).Str("endpoint", endpoint.Name).Msg("Failed to record endpoint connection state")
		}
	}
}

// Close shuts everything down in reverse start order
func (a *App) Close() {
	for _, monitor := range a.monitors {
		monitor.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.workers != nil {
		a.workers.Stop()
	}
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
		}
	}
	a.Logger.Info().Msg("Application stopped")
}

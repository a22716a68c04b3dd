package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/adapter"
	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/coordinator"
	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/internal/network"
	"github.com/MKhiriev/go-offline-sync/internal/processor"
	"github.com/MKhiriev/go-offline-sync/internal/progressive"
	"github.com/MKhiriev/go-offline-sync/internal/resolver"
	"github.com/MKhiriev/go-offline-sync/internal/store"
	"github.com/MKhiriev/go-offline-sync/internal/telemetry"
	"github.com/MKhiriev/go-offline-sync/internal/tui"
	"github.com/MKhiriev/go-offline-sync/internal/utils"
	"github.com/MKhiriev/go-offline-sync/internal/workers"
	"github.com/MKhiriev/go-offline-sync/models"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	store       *store.DurableStore
	telemetry   *telemetry.Provider
	monitor     *network.Monitor
	resolver    *resolver.Resolver
	processor   *processor.Processor
	scheduler   *progressive.Scheduler
	coordinator *coordinator.Coordinator
	workers     *workers.Workers
	ui          *tui.TUI

	logger *logger.Logger
}

// NewApp builds every component from cfg. The status view is created only
// when cfg.App.TUI is set.
func NewApp(ctx context.Context, cfg *config.StructuredConfig, buildInfo models.AppBuildInfo, log *logger.Logger) (*App, error) {
	clk := clock.New()

	st, err := store.Open(ctx, cfg.Store, clk, log)
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}

	remote, err := adapter.NewHTTPRemoteEndpoint(cfg.Remote, log)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create remote endpoint: %w", err)
	}

	provider := telemetry.NewProvider()
	metrics, err := telemetry.NewSyncMetrics(provider.MeterProvider())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create sync metrics: %w", err)
	}

	monitor := network.NewMonitor(remote, cfg.Network, cfg.Remote.HealthPath, clk, log)
	res := resolver.NewResolver(cfg.Resolver, log)
	proc := processor.NewProcessor(st, remote, monitor, res, cfg.Sync, cfg.Remote, clk, metrics, log)
	sched := progressive.NewScheduler(proc, monitor, cfg.Progressive, cfg.Sync.CriticalPriority, utils.NewUUIDGenerator(), clk, metrics, log)
	coord := coordinator.NewCoordinator(monitor, proc, st, sched, clk, metrics, log)
	ws := workers.NewWorkers(workers.NewExpirySweeper(st, cfg.Workers.ExpirySweepInterval, clk, log))

	app := &App{
		store:       st,
		telemetry:   provider,
		monitor:     monitor,
		resolver:    res,
		processor:   proc,
		scheduler:   sched,
		coordinator: coord,
		workers:     ws,
		logger:      log.WithComponent("app"),
	}

	if cfg.App.TUI {
		if app.ui, err = tui.New(coord, sched, buildInfo, log); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("create status view: %w", err)
		}
	}
	return app, nil
}

// Start brings the pipeline up in dependency order.
func (a *App) Start(ctx context.Context) error {
	a.monitor.Start(ctx)
	if err := a.processor.Start(ctx); err != nil {
		a.monitor.Stop()
		return fmt.Errorf("start sync processor: %w", err)
	}
	a.scheduler.Start(ctx)
	a.coordinator.Start(ctx)
	a.workers.Start(ctx)

	a.logger.Info().Str("func", "App.Start").Msg("offline sync client started")
	return nil
}

// Stop shuts the pipeline down in reverse order, logs the metric totals
// and closes the store. Operations still queued stay in the store.
func (a *App) Stop() error {
	a.workers.Stop()
	a.coordinator.Stop()
	a.scheduler.Stop()
	a.processor.Stop()
	a.monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.logTotals(ctx)

	var errs []error
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close durable store: %w", err))
	}

	a.logger.Info().Str("func", "App.Stop").Msg("offline sync client stopped")
	return errors.Join(errs...)
}

// Run starts the client and blocks until ctx is done or, with the status
// view enabled, until the user quits.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var runErr error
	if a.ui != nil {
		runErr = a.ui.Run(ctx)
	} else {
		<-ctx.Done()
	}

	return errors.Join(runErr, a.Stop())
}

func (a *App) logTotals(ctx context.Context) {
	totals, err := a.telemetry.Totals(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Str("func", "App.logTotals").Msg("failed to collect metrics")
		return
	}

	event := a.logger.Info().Str("func", "App.logTotals")
	for _, name := range slices.Sorted(maps.Keys(totals)) {
		event = event.Float64(name, totals[name])
	}
	event.Msg("sync totals")
}

// QueueOperation stores req durably and lets the processor pick it up.
func (a *App) QueueOperation(ctx context.Context, req models.OperationRequest) (string, error) {
	return a.processor.QueueOperation(ctx, req)
}

// Enqueue hands reqs to the progressive scheduler, which dedupes and chunks
// them before queueing. It returns the backlog size.
func (a *App) Enqueue(ctx context.Context, reqs ...models.OperationRequest) int {
	n := a.scheduler.Enqueue(reqs...)
	a.coordinator.Refresh(ctx)
	return n
}

// SetBackground tells the scheduler the process moved to or from the
// background.
func (a *App) SetBackground(background bool) {
	a.scheduler.SetBackground(background)
}

// NotifyConnectivity feeds a platform connectivity event to the monitor.
func (a *App) NotifyConnectivity(ctx context.Context, online bool) models.NetworkInfo {
	return a.monitor.NotifyConnectivity(ctx, online)
}

// OnConflict registers a conflict handler that runs before the resolver.
// Calling the returned disposer unregisters it.
func (a *App) OnConflict(h processor.ConflictHandler) events.Disposer {
	return a.processor.OnConflict(h)
}

// Resolver exposes the resolver for registering transitions and per-type
// strategies.
func (a *App) Resolver() *resolver.Resolver {
	return a.resolver
}

// State returns the coordinator snapshot.
func (a *App) State() models.SyncState {
	return a.coordinator.State()
}

// Coordinator returns the state coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

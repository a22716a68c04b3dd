// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package processor implements the sync processor: it drains the durable
// operation queue against the remote endpoint in dependency and priority
// order, with bounded concurrency, retry with backoff and conflict routing.
//
// At most one pass drains the queue at a time. A pass moves the processor
// from idle to syncing, and ends in idle, paused (the network degraded or
// PauseSync was called) or error (the queue could not be read). A paused
// pass keeps its undispatched batches for ResumeSync.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/adapter"
	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/internal/telemetry"
	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	defaultRequestTimeout = 10 * time.Second
	// maxContinueFailures is the failure streak above which a pass pauses.
	maxContinueFailures = 3
	minSyncScore        = 10
)

// Processor drains the sync queue.
type Processor struct {
	store     Store
	remote    adapter.RemoteEndpoint
	network   Network
	resolver  ConflictResolver
	cfg       config.Sync
	remoteCfg config.Remote
	clock     clock.Clock
	metrics   *telemetry.SyncMetrics

	mu        sync.Mutex
	status    models.SyncStatus
	progress  models.SyncProgress
	remaining *plan
	pauseReq  bool
	runCancel context.CancelFunc
	runDone   chan struct{}
	// queued during a pass, picked up by a follow-up pass
	lateQueued   bool
	lateCritical bool

	lifeMu      sync.Mutex
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
	disposeConn events.Disposer
	wg          sync.WaitGroup
	scheduled   atomic.Bool

	progressEvents *events.Registry[models.SyncProgress]
	completeEvents *events.Registry[models.SyncResult]
	errorEvents    *events.Registry[models.SyncError]
	statusEvents   *events.Registry[models.SyncStatus]
	conflictEvents *events.Registry[ConflictEvent]
	queuedEvents   *events.Registry[string]
	conflicts      events.List[ConflictHandler]

	logger *logger.Logger
}

// NewProcessor creates an idle processor. metrics may be nil.
func NewProcessor(
	st Store,
	remote adapter.RemoteEndpoint,
	network Network,
	resolver ConflictResolver,
	cfg config.Sync,
	remoteCfg config.Remote,
	clk clock.Clock,
	metrics *telemetry.SyncMetrics,
	log *logger.Logger,
) *Processor {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("processor")

	return &Processor{
		store:          st,
		remote:         remote,
		network:        network,
		resolver:       resolver,
		cfg:            cfg,
		remoteCfg:      remoteCfg,
		clock:          clk,
		metrics:        metrics,
		status:         models.SyncIdle,
		progressEvents: events.NewRegistry[models.SyncProgress]("sync_progress", log),
		completeEvents: events.NewRegistry[models.SyncResult]("sync_complete", log),
		errorEvents:    events.NewRegistry[models.SyncError]("sync_error", log),
		statusEvents:   events.NewRegistry[models.SyncStatus]("sync_status", log),
		conflictEvents: events.NewRegistry[ConflictEvent]("sync_conflict", log),
		queuedEvents:   events.NewRegistry[string]("operation_queued", log),
		logger:         log,
	}
}

// Start returns operations interrupted by a previous run to the queue,
// subscribes to connectivity changes and schedules a first sync attempt.
// A running processor is restarted.
func (p *Processor) Start(ctx context.Context) error {
	p.Stop()

	if _, err := p.store.RecoverProcessing(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted operations: %w", err)
	}

	p.lifeMu.Lock()
	p.lifeCtx, p.lifeCancel = context.WithCancel(ctx)
	p.disposeConn = p.network.OnConnectivityChange(p.onConnectivity)
	p.lifeMu.Unlock()

	p.logger.Info().Str("func", "Processor.Start").Msg("sync processor started")
	p.schedule(0)
	return nil
}

// Stop unsubscribes from the network, cancels scheduled attempts and stops
// the running pass. Queued operations are kept.
func (p *Processor) Stop() {
	p.lifeMu.Lock()
	cancel, dispose := p.lifeCancel, p.disposeConn
	p.lifeCtx, p.lifeCancel, p.disposeConn = nil, nil, nil
	p.lifeMu.Unlock()

	if dispose != nil {
		dispose()
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.StopSync()
}

func (p *Processor) onConnectivity(online bool) {
	if !online {
		p.logger.Info().Str("func", "Processor.onConnectivity").Msg("connectivity lost")
		return
	}
	p.logger.Info().Str("func", "Processor.onConnectivity").Msg("connectivity restored, scheduling sync")
	p.schedule(p.cfg.ScheduleDelay)
}

// schedule starts an opportunistic sync attempt after delay unless one is
// already scheduled or the processor is not started.
func (p *Processor) schedule(delay time.Duration) {
	if !p.scheduled.CompareAndSwap(false, true) {
		return
	}

	p.lifeMu.Lock()
	ctx := p.lifeCtx
	if ctx == nil {
		p.lifeMu.Unlock()
		p.scheduled.Store(false)
		return
	}
	p.wg.Add(1)
	p.lifeMu.Unlock()

	go func() {
		defer p.wg.Done()

		select {
		case <-ctx.Done():
			p.scheduled.Store(false)
			return
		case <-p.clock.After(delay):
		}
		p.scheduled.Store(false)
		p.attempt(ctx)
	}()
}

func (p *Processor) attempt(ctx context.Context) {
	var err error
	if p.Status() == models.SyncPaused {
		if !p.ShouldContinueSync() {
			return
		}
		_, err = p.ResumeSync(ctx)
	} else {
		_, err = p.StartSync(ctx, false)
	}

	switch {
	case err == nil, errors.Is(err, ErrAlreadySyncing), errors.Is(err, ErrOffline), errors.Is(err, ErrNotPaused):
	case errors.Is(err, context.Canceled):
	default:
		p.logger.Warn().Err(err).Str("func", "Processor.attempt").Msg("scheduled sync failed")
	}
}

// QueueOperation validates req, appends it to the durable queue and, when
// the network allows, schedules a sync attempt shortly after. Critical
// operations are attempted immediately.
func (p *Processor) QueueOperation(ctx context.Context, req models.OperationRequest) (string, error) {
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if err := validateRequest(req); err != nil {
		return "", err
	}

	id, err := p.store.AddOperation(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to queue operation: %w", err)
	}
	p.queuedEvents.Emit(id)

	critical := p.isCritical(req.Priority)

	p.mu.Lock()
	running := p.runDone != nil
	if running {
		p.lateQueued = true
		p.lateCritical = p.lateCritical || critical
	}
	p.mu.Unlock()

	if !running && p.ShouldSync() {
		delay := p.cfg.ScheduleDelay
		if critical {
			delay = 0
		}
		p.schedule(delay)
	}
	return id, nil
}

func validateRequest(req models.OperationRequest) error {
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidOperation, req.Method)
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return fmt.Errorf("%w: empty endpoint", ErrInvalidOperation)
	}
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidOperation)
	}
	return nil
}

func (p *Processor) isCritical(priority int) bool {
	return p.cfg.CriticalPriority > 0 && priority >= p.cfg.CriticalPriority
}

// ShouldSync reports whether the network allows starting a pass.
func (p *Processor) ShouldSync() bool {
	return p.network.Recommendations().CanSync
}

// ShouldContinueSync reports whether a running pass may dispatch its next
// batch: online, at most three consecutive failures and a quality score
// above 10.
func (p *Processor) ShouldContinueSync() bool {
	st := p.network.State()
	return st.Current.IsOnline && st.ConsecutiveFailures <= maxContinueFailures && st.QualityScore > minSyncScore
}

// StartSync runs one pass over the pending operations and returns its
// result. While a pass is running it returns ErrAlreadySyncing, unless force
// is set, in which case the running pass is stopped first. Without force it
// returns ErrOffline when the network does not allow syncing.
func (p *Processor) StartSync(ctx context.Context, force bool) (models.SyncResult, error) {
	if !force && !p.ShouldSync() {
		return models.SyncResult{}, ErrOffline
	}

	ps, _, err := p.begin(ctx, force, false)
	if err != nil {
		return models.SyncResult{}, err
	}

	ops, err := p.store.GetPendingOperations(ps.ctx)
	if err != nil {
		p.finish(ps, models.SyncErrored, nil)
		p.errorEvents.Emit(models.SyncError{Kind: models.ErrorKindStorage, Message: err.Error()})
		p.logger.Err(err).Str("func", "Processor.StartSync").Msg("failed to read the sync queue")
		return models.SyncResult{}, fmt.Errorf("failed to read pending operations: %w", err)
	}

	ready := make([]models.SyncOperation, 0, len(ops))
	for _, op := range ops {
		if op.IsReady() {
			ready = append(ready, op)
		}
	}

	pl := buildPlan(ready, p.network.Recommendations().RecommendedBatchSize)
	if len(pl.cyclic) > 0 {
		p.logger.Warn().
			Str("func", "Processor.StartSync").
			Strs("operation_ids", slices.Sorted(maps.Keys(pl.cyclic))).
			Msg("circular operation dependencies, processing the remainder in priority order")
	}

	p.mu.Lock()
	p.progress = models.SyncProgress{Total: pl.total, TotalBatches: pl.totalBatches()}
	ps.result.Skipped = len(ops) - len(ready)
	p.mu.Unlock()

	p.logger.Info().
		Str("func", "Processor.StartSync").
		Int("operations", pl.total).
		Int("batches", len(pl.batches)).
		Int("awaiting_resolution", len(ops)-len(ready)).
		Bool("force", force).
		Msg("sync pass started")

	return p.run(ps, pl)
}

// ResumeSync continues a paused pass with the batches it had not dispatched.
func (p *Processor) ResumeSync(ctx context.Context) (models.SyncResult, error) {
	ps, pl, err := p.begin(ctx, false, true)
	if err != nil {
		return models.SyncResult{}, err
	}

	p.logger.Info().
		Str("func", "Processor.ResumeSync").
		Int("batches", len(pl.batches)).
		Msg("sync pass resumed")
	return p.run(ps, pl)
}

// PauseSync asks the running pass to stop before its next batch. Requests
// already dispatched are allowed to finish.
func (p *Processor) PauseSync() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == models.SyncSyncing {
		p.pauseReq = true
	}
}

// StopSync stops the running pass, waits for it, and resets progress and
// any paused plan. Queued operations are never deleted.
func (p *Processor) StopSync() {
	for {
		p.mu.Lock()
		if p.runDone == nil {
			changed := p.status != models.SyncIdle
			p.status = models.SyncIdle
			p.progress = models.SyncProgress{}
			p.remaining = nil
			p.pauseReq = false
			p.mu.Unlock()

			if changed {
				p.statusEvents.Emit(models.SyncIdle)
			}
			return
		}
		cancel, done := p.runCancel, p.runDone
		p.mu.Unlock()

		cancel()
		<-done
	}
}

// RetryFailed moves a failed operation back to the queue with a fresh retry
// budget and schedules a sync attempt.
func (p *Processor) RetryFailed(ctx context.Context, id string) error {
	if err := p.store.RetryFailed(ctx, id); err != nil {
		return fmt.Errorf("failed to retry operation %s: %w", id, err)
	}
	p.schedule(p.cfg.ScheduleDelay)
	return nil
}

// ResolveOperation supplies the user's decision for an operation whose
// conflict could not be resolved automatically. The operation is retried
// with data on the next pass.
func (p *Processor) ResolveOperation(ctx context.Context, id string, data map[string]any) error {
	op, err := p.store.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if !op.AwaitingResolution {
		return fmt.Errorf("%w: %s", ErrNotAwaitingResolution, id)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode resolved data: %w", err)
	}

	awaiting := false
	retries := 0
	empty := ""
	if _, err = p.store.UpdateOperation(ctx, id, models.OperationPatch{
		Data:               raw,
		AwaitingResolution: &awaiting,
		RetryCount:         &retries,
		LastError:          &empty,
	}); err != nil {
		return err
	}

	p.logger.Info().Str("func", "Processor.ResolveOperation").Str("operation_id", id).Msg("conflict resolved by user")
	p.schedule(p.cfg.ScheduleDelay)
	return nil
}

// DiscardOperation drops an operation from the queue, typically one whose
// conflict the user chose to abandon.
func (p *Processor) DiscardOperation(ctx context.Context, id string) error {
	return p.store.RemoveOperation(ctx, id)
}

// Status returns the current processor state.
func (p *Processor) Status() models.SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Progress returns the progress of the current or last pass.
func (p *Processor) Progress() models.SyncProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// OnProgress subscribes to progress updates, published after every
// finished operation.
func (p *Processor) OnProgress(h func(models.SyncProgress)) events.Disposer {
	return p.progressEvents.Subscribe(h)
}

// OnComplete subscribes to the results of passes that ran to the end.
func (p *Processor) OnComplete(h func(models.SyncResult)) events.Disposer {
	return p.completeEvents.Subscribe(h)
}

// OnError subscribes to operation failures, storage errors and pauses.
func (p *Processor) OnError(h func(models.SyncError)) events.Disposer {
	return p.errorEvents.Subscribe(h)
}

// OnStatusChange subscribes to processor state transitions.
func (p *Processor) OnStatusChange(h func(models.SyncStatus)) events.Disposer {
	return p.statusEvents.Subscribe(h)
}

// OnConflict registers a conflict handler. Handlers are asked in
// registration order and the first to return data wins.
func (p *Processor) OnConflict(h ConflictHandler) events.Disposer {
	return p.conflicts.Add(h)
}

// OnQueued subscribes to the ids of newly queued operations.
func (p *Processor) OnQueued(h func(id string)) events.Disposer {
	return p.queuedEvents.Subscribe(h)
}

// OnConflictResolved subscribes to the outcome of every handled conflict.
func (p *Processor) OnConflictResolved(h func(ConflictEvent)) events.Disposer {
	return p.conflictEvents.Subscribe(h)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package coordinator aggregates the network monitor, the sync processor and
// conflict outcomes into one observable SyncState for presentation layers.
//
// Besides bookkeeping it owns the periodic "next sync" schedule: while the
// link is up it starts a pass every 15s on an excellent link, 30s on a good
// one and 120s on a poor one.
package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/internal/processor"
	"github.com/MKhiriev/go-offline-sync/internal/telemetry"
	"github.com/MKhiriev/go-offline-sync/models"
)

// poorLinkBackoff stretches the schedule on poor links.
const poorLinkBackoff = 2

// NextSyncDelay returns the wait before the next scheduled pass. ok is false
// while offline.
func NextSyncDelay(info models.NetworkInfo) (time.Duration, bool) {
	if !info.IsOnline {
		return 0, false
	}
	switch info.Status {
	case models.NetworkExcellent:
		return 15 * time.Second, true
	case models.NetworkGood:
		return 30 * time.Second, true
	default:
		return 60 * time.Second * poorLinkBackoff, true
	}
}

// Coordinator republishes the combined sync state.
type Coordinator struct {
	network   Network
	processor Processor
	store     Store
	backlog   Backlog
	clock     clock.Clock
	metrics   *telemetry.SyncMetrics

	mu      sync.Mutex
	state   models.SyncState
	pending int
	// seen is the highest progress observed in the current pass.
	seen   models.SyncProgress
	passes int

	stateEvents *events.Registry[models.SyncState]
	reschedule  chan struct{}

	lifeMu    sync.Mutex
	cancel    context.CancelFunc
	disposers []events.Disposer
	wg        sync.WaitGroup

	logger *logger.Logger
}

// NewCoordinator creates a coordinator. backlog, clk and metrics may be nil.
func NewCoordinator(network Network, proc Processor, st Store, backlog Backlog, clk clock.Clock, metrics *telemetry.SyncMetrics, log *logger.Logger) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("coordinator")

	c := &Coordinator{
		network:     network,
		processor:   proc,
		store:       st,
		backlog:     backlog,
		clock:       clk,
		metrics:     metrics,
		stateEvents: events.NewRegistry[models.SyncState]("sync_state", log),
		reschedule:  make(chan struct{}, 1),
		logger:      log,
	}
	c.applyNetwork(network.State())
	c.state.SyncStatus = proc.Status()
	c.state.Progress = proc.Progress()
	return c
}

// Start subscribes to the components and runs the next-sync schedule until
// ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.Stop()

	c.lifeMu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.disposers = []events.Disposer{
		c.network.OnNetworkChange(c.onNetworkChange),
		c.processor.OnStatusChange(c.onStatus),
		c.processor.OnProgress(c.onProgress),
		c.processor.OnComplete(c.onComplete),
		c.processor.OnError(c.onError),
		c.processor.OnConflictResolved(c.onConflict),
		c.processor.OnQueued(c.onQueued),
	}
	c.wg.Add(1)
	c.lifeMu.Unlock()

	c.refresh(loopCtx)
	go c.loop(loopCtx)
}

// Stop unsubscribes and ends the schedule.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	cancel, disposers := c.cancel, c.disposers
	c.cancel, c.disposers = nil, nil
	c.lifeMu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		var wait <-chan time.Time
		delay, ok := NextSyncDelay(c.network.State().Current)

		c.mu.Lock()
		if ok {
			at := c.clock.Now().Add(delay)
			c.state.NextSyncAt = &at
			wait = c.clock.After(delay)
		} else {
			c.state.NextSyncAt = nil
		}
		c.mu.Unlock()
		c.publish()

		select {
		case <-ctx.Done():
			return
		case <-c.reschedule:
		case <-wait:
			c.scheduledSync(ctx)
		}
	}
}

func (c *Coordinator) scheduledSync(ctx context.Context) {
	c.refresh(ctx)

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == 0 {
		return
	}

	var err error
	if c.processor.Status() == models.SyncPaused {
		_, err = c.processor.ResumeSync(ctx)
	} else {
		_, err = c.processor.StartSync(ctx, false)
	}

	switch {
	case err == nil, errors.Is(err, processor.ErrAlreadySyncing), errors.Is(err, processor.ErrOffline):
	case errors.Is(err, context.Canceled):
	default:
		c.logger.Warn().Err(err).Str("func", "Coordinator.scheduledSync").Msg("scheduled sync failed")
	}
}

// SyncNow starts a pass outside the schedule.
func (c *Coordinator) SyncNow(ctx context.Context) (models.SyncResult, error) {
	if c.processor.Status() == models.SyncPaused {
		return c.processor.ResumeSync(ctx)
	}
	return c.processor.StartSync(ctx, false)
}

// ResolveConflict supplies the user's data for a conflict awaiting input.
func (c *Coordinator) ResolveConflict(ctx context.Context, operationID string, data map[string]any) error {
	if err := c.processor.ResolveOperation(ctx, operationID, data); err != nil {
		return err
	}
	c.dropConflict(operationID)
	c.publish()
	return nil
}

// DiscardConflict abandons the local change behind a conflict.
func (c *Coordinator) DiscardConflict(ctx context.Context, operationID string) error {
	if err := c.processor.DiscardOperation(ctx, operationID); err != nil {
		return err
	}
	c.dropConflict(operationID)
	c.refresh(ctx)
	c.publish()
	return nil
}

// Refresh re-reads queue counts and publishes the result. Callers that feed
// the backlog use it, since the backlog has no events of its own.
func (c *Coordinator) Refresh(ctx context.Context) {
	c.refresh(ctx)
	c.publish()
}

// State returns the current snapshot.
func (c *Coordinator) State() models.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// OnStateChange subscribes to snapshot updates.
func (c *Coordinator) OnStateChange(h func(models.SyncState)) events.Disposer {
	return c.stateEvents.Subscribe(h)
}

func (c *Coordinator) snapshot() models.SyncState {
	st := c.state
	st.ActiveConflicts = slices.Clone(c.state.ActiveConflicts)
	if c.state.NextSyncAt != nil {
		at := *c.state.NextSyncAt
		st.NextSyncAt = &at
	}
	if c.state.Statistics.LastSyncAt != nil {
		at := *c.state.Statistics.LastSyncAt
		st.Statistics.LastSyncAt = &at
	}
	return st
}

func (c *Coordinator) publish() {
	c.stateEvents.Emit(c.State())
}

func (c *Coordinator) applyNetwork(ns models.NetworkState) {
	c.state.IsOnline = ns.Current.IsOnline
	c.state.NetworkStatus = ns.Current.Status
	c.state.QualityScore = ns.QualityScore
}

// refresh re-reads queue counts from the store.
func (c *Coordinator) refresh(ctx context.Context) {
	stats, err := c.store.GetCacheStats(ctx)
	if err != nil {
		c.logger.Err(err).Str("func", "Coordinator.refresh").Msg("failed to read queue counts")
		return
	}

	unsynced := stats.PendingOperations + stats.FailedOperations
	if c.backlog != nil {
		unsynced += c.backlog.Pending()
	}

	c.mu.Lock()
	c.pending = stats.PendingOperations
	c.state.UnsyncedChanges = unsynced
	if c.state.Statistics.LastSyncAt == nil && stats.LastSync != nil {
		at := *stats.LastSync
		c.state.Statistics.LastSyncAt = &at
	}
	c.mu.Unlock()

	c.metrics.RecordQueueDepth(context.WithoutCancel(ctx), unsynced)
}

func (c *Coordinator) onNetworkChange(current, _ models.NetworkInfo) {
	c.mu.Lock()
	c.applyNetwork(c.network.State())
	c.mu.Unlock()

	select {
	case c.reschedule <- struct{}{}:
	default:
	}
	c.publish()
}

func (c *Coordinator) onStatus(s models.SyncStatus) {
	c.mu.Lock()
	if s == models.SyncSyncing && c.state.SyncStatus != models.SyncPaused {
		c.seen = models.SyncProgress{}
	}
	c.state.SyncStatus = s
	c.mu.Unlock()

	if s != models.SyncSyncing {
		c.refresh(context.Background())
	}
	c.publish()
}

// onProgress counts what finished since the last event. Events can arrive
// out of order, so only growth past the highest value seen is counted.
func (c *Coordinator) onProgress(p models.SyncProgress) {
	c.mu.Lock()
	st := &c.state.Statistics
	st.TotalSynced += max(p.Completed-c.seen.Completed, 0)
	st.TotalFailed += max(p.Failed-c.seen.Failed, 0)
	st.TotalConflicts += max(p.Conflicts-c.seen.Conflicts, 0)

	c.seen.Completed = max(c.seen.Completed, p.Completed)
	c.seen.Failed = max(c.seen.Failed, p.Failed)
	c.seen.Conflicts = max(c.seen.Conflicts, p.Conflicts)
	c.state.Progress = p
	c.mu.Unlock()

	c.publish()
}

func (c *Coordinator) onComplete(res models.SyncResult) {
	now := c.clock.Now()

	c.mu.Lock()
	c.passes++
	st := &c.state.Statistics
	st.AverageSyncDuration += (res.Duration - st.AverageSyncDuration) / time.Duration(c.passes)
	st.LastSyncAt = &now
	if res.Failed == 0 {
		c.state.LastError = ""
	}
	c.mu.Unlock()

	c.refresh(context.Background())
	c.publish()
}

func (c *Coordinator) onError(se models.SyncError) {
	c.mu.Lock()
	c.state.LastError = se.Error()
	c.mu.Unlock()

	c.publish()
}

func (c *Coordinator) onQueued(string) {
	c.refresh(context.Background())
	c.publish()
}

func (c *Coordinator) onConflict(ev processor.ConflictEvent) {
	if ev.Applied {
		c.dropConflict(ev.Operation.ID)
		c.publish()
		return
	}

	active := models.ActiveConflict{
		OperationID: ev.Operation.ID,
		Conflict:    ev.Conflict,
		Resolution:  ev.Resolution,
		DetectedAt:  c.clock.Now(),
	}

	c.mu.Lock()
	idx := slices.IndexFunc(c.state.ActiveConflicts, func(a models.ActiveConflict) bool {
		return a.OperationID == active.OperationID
	})
	if idx >= 0 {
		c.state.ActiveConflicts[idx] = active
	} else {
		c.state.ActiveConflicts = append(c.state.ActiveConflicts, active)
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("func", "Coordinator.onConflict").
		Str("operation_id", active.OperationID).
		Str("entity_id", active.Conflict.EntityID).
		Msg("conflict awaits user decision")
	c.publish()
}

func (c *Coordinator) dropConflict(operationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.ActiveConflicts = slices.DeleteFunc(c.state.ActiveConflicts, func(a models.ActiveConflict) bool {
		return a.OperationID == operationID
	})
}

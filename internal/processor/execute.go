package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/MKhiriev/go-offline-sync/internal/adapter"
	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/internal/resolver"
	"github.com/MKhiriev/go-offline-sync/internal/store"
	"github.com/MKhiriev/go-offline-sync/internal/telemetry"
	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	resolvedByHandler  = "handler"
	resolvedByResolver = "resolver"
)

// pass is one running sync pass.
type pass struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	// guarded by Processor.mu
	result   models.SyncResult
	resolved int
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeConflict
	outcomeSkipped
)

// begin claims the processor for a new pass. A forced begin stops the
// running pass and waits for it; a resuming begin takes over the paused plan.
func (p *Processor) begin(ctx context.Context, force, resume bool) (*pass, *plan, error) {
	for {
		p.mu.Lock()
		if p.runDone == nil {
			break
		}
		if !force {
			p.mu.Unlock()
			return nil, nil, ErrAlreadySyncing
		}
		cancel, done := p.runCancel, p.runDone
		p.mu.Unlock()

		p.logger.Info().Str("func", "Processor.begin").Msg("forced sync stops the running pass")
		cancel()
		<-done
	}

	// p.mu is held here
	var pl *plan
	if resume {
		if p.status != models.SyncPaused || p.remaining == nil {
			p.mu.Unlock()
			return nil, nil, ErrNotPaused
		}
		pl = p.remaining
	}
	p.remaining = nil
	p.pauseReq = false
	if !resume {
		// a fresh pass reads the whole queue
		p.lateQueued, p.lateCritical = false, false
	}

	runCtx, cancel := context.WithCancel(ctx)
	ps := &pass{ctx: runCtx, cancel: cancel, done: make(chan struct{}), started: p.clock.Now()}
	p.runCancel, p.runDone = cancel, ps.done
	p.status = models.SyncSyncing
	p.mu.Unlock()

	p.statusEvents.Emit(models.SyncSyncing)
	return ps, pl, nil
}

// finish releases the processor and returns the pass result.
func (p *Processor) finish(ps *pass, status models.SyncStatus, remaining *plan) models.SyncResult {
	p.mu.Lock()
	res := ps.result
	res.Processed = res.Completed + res.Failed + res.Conflicts
	res.Duration = p.clock.Now().Sub(ps.started)
	res.Paused = status == models.SyncPaused

	p.status = status
	p.remaining = remaining
	p.pauseReq = false
	p.runCancel, p.runDone = nil, nil
	p.mu.Unlock()

	ps.cancel()
	p.statusEvents.Emit(status)
	close(ps.done)

	p.metrics.RecordPass(context.WithoutCancel(ps.ctx), res.Duration, res.Paused)
	return res
}

// run dispatches the plan batch by batch. Before every batch it checks the
// network and pause requests; a degraded network pauses the pass and keeps
// the remaining batches.
func (p *Processor) run(ps *pass, pl *plan) (models.SyncResult, error) {
	for i, batch := range pl.batches {
		if err := ps.ctx.Err(); err != nil {
			res := p.finish(ps, models.SyncIdle, nil)
			return res, fmt.Errorf("sync interrupted: %w", err)
		}

		if reason, stop := p.shouldPause(); stop {
			res := p.finish(ps, models.SyncPaused, pl.rest(i))
			p.logger.Warn().
				Str("func", "Processor.run").
				Str("reason", reason).
				Int("remaining_batches", len(pl.batches)-i).
				Msg("sync paused")
			p.errorEvents.Emit(models.SyncError{Kind: models.ErrorKindPaused, Message: reason})
			return res, nil
		}

		p.mu.Lock()
		p.progress.CurrentBatch = pl.offset + i + 1
		p.progress.TotalBatches = pl.totalBatches()
		p.mu.Unlock()

		p.runBatch(ps, pl, batch)
	}

	if err := ps.ctx.Err(); err != nil {
		res := p.finish(ps, models.SyncIdle, nil)
		return res, fmt.Errorf("sync interrupted: %w", err)
	}

	bg := context.WithoutCancel(ps.ctx)
	if err := p.store.SetLastSync(bg, p.clock.Now()); err != nil {
		p.logger.Err(err).Str("func", "Processor.run").Msg("failed to record last sync time")
	}

	p.mu.Lock()
	resolved := ps.resolved
	late, lateCritical := p.lateQueued, p.lateCritical
	p.lateQueued, p.lateCritical = false, false
	p.mu.Unlock()

	res := p.finish(ps, models.SyncIdle, nil)
	p.logger.Info().
		Str("func", "Processor.run").
		Int("completed", res.Completed).
		Int("failed", res.Failed).
		Int("conflicts", res.Conflicts).
		Int("skipped", res.Skipped).
		Dur("duration", res.Duration).
		Msg("sync pass finished")
	p.completeEvents.Emit(res)

	// operations updated by conflict resolution or queued while the pass ran
	// go out on the next pass
	switch {
	case lateCritical:
		p.schedule(0)
	case late, resolved > 0:
		p.schedule(p.cfg.ScheduleDelay)
	}
	return res, nil
}

func (p *Processor) shouldPause() (string, bool) {
	p.mu.Lock()
	requested := p.pauseReq
	p.mu.Unlock()

	if requested {
		return "pause requested", true
	}
	if !p.ShouldContinueSync() {
		return "network conditions degraded", true
	}
	return "", false
}

func (p *Processor) runBatch(ps *pass, pl *plan, batch []models.SyncOperation) {
	var g errgroup.Group
	g.SetLimit(p.concurrency())

	for _, op := range batch {
		if ps.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.process(ps, pl, op)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) concurrency() int {
	n := p.network.Recommendations().MaxConcurrentRequests
	if p.cfg.MaxConcurrency > 0 {
		n = min(n, p.cfg.MaxConcurrency)
	}
	return max(n, 1)
}

type depState int

const (
	depReady depState = iota
	depWaiting
	depFailed
)

// dependencyState checks op's dependencies against the store. A dependency
// that is gone completed or never existed; a failed one fails op; anything
// still queued makes op wait for a later pass.
func (p *Processor) dependencyState(ctx context.Context, pl *plan, op models.SyncOperation) (depState, string) {
	for _, dep := range op.Dependencies {
		if dep == op.ID || (pl.cyclic[op.ID] && pl.cyclic[dep]) {
			continue
		}

		d, err := p.store.GetOperation(ctx, dep)
		if errors.Is(err, store.ErrOperationNotFound) {
			continue
		}
		if err != nil {
			return depWaiting, dep
		}
		if d.Status == models.StatusFailed {
			return depFailed, dep
		}
		return depWaiting, dep
	}
	return depReady, ""
}

// process takes one planned operation through dispatch, retry and outcome
// handling. The stored copy is re-read first, so changes made since the plan
// was built (resolution, removal) are respected.
func (p *Processor) process(ps *pass, pl *plan, planned models.SyncOperation) {
	bg := context.WithoutCancel(ps.ctx)

	op, err := p.store.GetOperation(ps.ctx, planned.ID)
	if err != nil {
		if !errors.Is(err, store.ErrOperationNotFound) {
			p.logger.Err(err).Str("func", "Processor.process").Str("operation_id", planned.ID).Msg("failed to load operation")
		}
		p.track(ps, outcomeSkipped)
		return
	}
	if !op.IsReady() {
		p.track(ps, outcomeSkipped)
		return
	}

	switch state, dep := p.dependencyState(ps.ctx, pl, op); state {
	case depWaiting:
		p.logger.Debug().
			Str("func", "Processor.process").
			Str("operation_id", op.ID).
			Str("dependency", dep).
			Msg("dependency not finished, operation deferred")
		p.track(ps, outcomeSkipped)
		return
	case depFailed:
		p.fail(bg, ps, op, models.ErrorKindDependency, fmt.Sprintf("dependency %s failed", dep), 0)
		return
	}

	processing := models.StatusProcessing
	if op, err = p.store.UpdateOperation(bg, op.ID, models.OperationPatch{Status: &processing}); err != nil {
		p.logger.Err(err).Str("func", "Processor.process").Str("operation_id", planned.ID).Msg("failed to mark operation processing")
		p.errorEvents.Emit(models.SyncError{OperationID: planned.ID, Kind: models.ErrorKindStorage, Message: err.Error()})
		p.track(ps, outcomeSkipped)
		return
	}

	for {
		resp, err := p.dispatch(ps.ctx, op)
		if err == nil {
			switch adapter.Classify(resp.Status) {
			case adapter.OutcomeSuccess:
				p.complete(bg, ps, op, resp)
				return
			case adapter.OutcomeConflict:
				p.conflict(bg, ps, op, resp)
				return
			case adapter.OutcomeClientError:
				p.fail(bg, ps, op, models.ErrorKindClient, adapter.StatusError(resp).Error(), resp.Status)
				return
			}
			err = adapter.StatusError(resp)
		}

		if op.RetryCount >= p.cfg.MaxRetries {
			p.fail(bg, ps, op, models.ErrorKindExhausted, err.Error(), resp.Status)
			return
		}

		op.RetryCount++
		reason := err.Error()
		op.LastError = reason
		if _, uerr := p.store.UpdateOperation(bg, op.ID, models.OperationPatch{RetryCount: &op.RetryCount, LastError: &reason}); uerr != nil {
			p.logger.Err(uerr).Str("func", "Processor.process").Str("operation_id", op.ID).Msg("failed to persist retry count")
		}
		p.metrics.RecordOperation(bg, op.Type, telemetry.OutcomeRetried)

		delay := p.backoffDelay(op.RetryCount)
		p.logger.Debug().
			Err(err).
			Str("func", "Processor.process").
			Str("operation_id", op.ID).
			Int("attempt", op.RetryCount).
			Dur("delay", delay).
			Msg("transient failure, retrying")

		if serr := p.clock.Sleep(ps.ctx, delay); serr != nil {
			p.requeue(bg, op)
			p.track(ps, outcomeSkipped)
			return
		}
	}
}

// dispatch sends op with a timeout scaled to the link quality. The request
// is detached from pass cancellation: pausing or stopping does not abort a
// request already on the wire.
func (p *Processor) dispatch(ctx context.Context, op models.SyncOperation) (adapter.Response, error) {
	rec := p.network.Recommendations()

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.requestTimeout(rec))
	defer cancel()

	req := adapter.Request{
		Method:  op.Method,
		Path:    op.Endpoint,
		Body:    op.Data,
		Headers: map[string]string{"Idempotency-Key": op.ID},
	}
	if rec.ShouldCompress {
		req.Headers["Accept-Encoding"] = "gzip"
	}

	started := p.clock.Now()
	resp, err := p.remote.Do(reqCtx, req)
	rtt := resp.Duration
	if rtt <= 0 {
		rtt = p.clock.Now().Sub(started)
	}

	// a 5xx still proves the link works; only transport failures count
	p.network.RecordRequest(rtt, err == nil)
	p.metrics.RecordRequest(reqCtx, op.Method, rtt, err == nil && resp.Status < 500)
	return resp, err
}

func (p *Processor) requestTimeout(rec models.QualityRecommendations) time.Duration {
	base := p.remoteCfg.RequestTimeout
	if base <= 0 {
		base = defaultRequestTimeout
	}
	factor := max(rec.TimeoutFactor, 1)

	timeout := time.Duration(float64(base) * factor)
	if limit := p.remoteCfg.MaxRequestTimeout; limit > 0 && timeout > limit {
		timeout = limit
	}
	return timeout
}

// backoffDelay returns the wait before retry number attempt (1-based):
// base*2^(attempt-1) with jitter, capped at MaxDelay.
func (p *Processor) backoffDelay(attempt int) time.Duration {
	base := p.cfg.BaseDelay
	if base <= 0 {
		return 0
	}

	b := retry.NewExponential(base)
	if p.cfg.Jitter > 0 {
		b = retry.WithJitter(p.cfg.Jitter, b)
	}
	if p.cfg.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.cfg.MaxDelay, b)
	}

	var d time.Duration
	for i := 0; i < max(attempt, 1); i++ {
		d, _ = b.Next()
	}
	return d
}

func (p *Processor) complete(ctx context.Context, ps *pass, op models.SyncOperation, resp adapter.Response) {
	if err := p.store.RemoveOperation(ctx, op.ID); err != nil {
		// left processing; Start recovers it on the next run
		p.logger.Err(err).Str("func", "Processor.complete").Str("operation_id", op.ID).Msg("failed to remove completed operation")
	}
	p.cacheRecord(ctx, op, resp.Body)

	p.metrics.RecordOperation(ctx, op.Type, telemetry.OutcomeCompleted)
	p.logger.Debug().
		Str("func", "Processor.complete").
		Str("operation_id", op.ID).
		Int("status", resp.Status).
		Dur("rtt", resp.Duration).
		Msg("operation synced")
	p.track(ps, outcomeCompleted)
}

// cacheRecord stores a JSON object returned on success as the current
// version of the entity it names. Bodies that are empty, not JSON or carry no
// id are ignored.
func (p *Processor) cacheRecord(ctx context.Context, op models.SyncOperation, body []byte) {
	if len(body) == 0 {
		return
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		p.logger.Debug().Str("func", "Processor.cacheRecord").Str("operation_id", op.ID).Msg("success body is not a JSON object, ignored")
		return
	}

	id := recordID(obj)
	if id == "" {
		return
	}
	if err := p.store.StoreRawRecord(ctx, id, body, 0); err != nil {
		p.logger.Err(err).Str("func", "Processor.cacheRecord").Str("record_id", id).Msg("failed to cache server record")
	}
}

func recordID(obj map[string]any) string {
	for _, k := range []string{"id", "entity_id", "record_id"} {
		if v, ok := obj[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// conflict routes a 409 through the resolver and the registered handlers.
// A handler's data wins; otherwise a confident resolver result is applied;
// otherwise the operation waits for ResolveOperation. Applied data is sent
// on the next pass.
func (p *Processor) conflict(ctx context.Context, ps *pass, op models.SyncOperation, resp adapter.Response) {
	conflict := resolver.ParseConflict(op, resp.Body, p.clock.Now())
	resolution := p.resolver.ResolveConflict(conflict)

	data, by := p.askHandlers(ctx, op, conflict)
	if by == "" && !resolution.RequiresUserInput {
		data, by = resolution.ResolvedData, resolvedByResolver
	}

	op.RetryCount++
	pending := models.StatusPending
	patch := models.OperationPatch{Status: &pending, RetryCount: &op.RetryCount}

	applied := by != ""
	if applied && op.RetryCount > p.cfg.MaxRetries {
		// the server keeps rejecting resolved data; let the user decide
		applied = false
	}

	var raw []byte
	if applied {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			p.logger.Err(err).Str("func", "Processor.conflict").Str("operation_id", op.ID).Msg("resolved data cannot be encoded")
			applied = false
		}
	}

	awaiting := !applied
	reason := resolution.Explanation
	if applied {
		patch.Data = raw
		reason = "conflict resolved by " + by + ": " + resolution.Explanation
	} else {
		by = ""
	}
	patch.AwaitingResolution = &awaiting
	patch.LastError = &reason

	updated, err := p.store.UpdateOperation(ctx, op.ID, patch)
	if err != nil {
		p.logger.Err(err).Str("func", "Processor.conflict").Str("operation_id", op.ID).Msg("failed to store conflict outcome")
		updated = patch.Apply(op)
	}

	p.mu.Lock()
	if applied {
		ps.resolved++
	}
	p.mu.Unlock()

	p.metrics.RecordOperation(ctx, op.Type, telemetry.OutcomeConflict)
	p.logger.Info().
		Str("func", "Processor.conflict").
		Str("operation_id", op.ID).
		Str("strategy", string(resolution.Strategy)).
		Float64("confidence", resolution.Confidence).
		Bool("applied", applied).
		Str("resolved_by", by).
		Msg("conflict handled")

	p.conflictEvents.Emit(ConflictEvent{
		Operation:  updated,
		Conflict:   conflict,
		Resolution: resolution,
		Applied:    applied,
		ResolvedBy: by,
	})
	p.track(ps, outcomeConflict)
}

func (p *Processor) askHandlers(ctx context.Context, op models.SyncOperation, conflict models.ConflictData) (map[string]any, string) {
	for _, h := range p.conflicts.Snapshot() {
		var data map[string]any
		var ok bool

		err := events.Call(func() error {
			data, ok = h(ctx, op.Clone(), conflict)
			return nil
		})
		if err != nil {
			p.logger.Warn().Err(err).Str("func", "Processor.askHandlers").Str("operation_id", op.ID).Msg("conflict handler failed")
			continue
		}
		if ok && data != nil {
			return data, resolvedByHandler
		}
	}
	return nil, ""
}

func (p *Processor) fail(ctx context.Context, ps *pass, op models.SyncOperation, kind models.SyncErrorKind, msg string, status int) {
	failed := models.StatusFailed
	if _, err := p.store.UpdateOperation(ctx, op.ID, models.OperationPatch{
		Status:     &failed,
		RetryCount: &op.RetryCount,
		LastError:  &msg,
	}); err != nil {
		p.logger.Err(err).Str("func", "Processor.fail").Str("operation_id", op.ID).Msg("failed to mark operation failed")
	}

	p.metrics.RecordOperation(ctx, op.Type, telemetry.OutcomeFailed)
	p.logger.Warn().
		Str("func", "Processor.fail").
		Str("operation_id", op.ID).
		Str("kind", string(kind)).
		Int("attempt", op.RetryCount).
		Int("status", status).
		Msg(msg)

	p.errorEvents.Emit(models.SyncError{OperationID: op.ID, Kind: kind, Message: msg, StatusCode: status})
	p.track(ps, outcomeFailed)
}

// requeue returns an interrupted operation to pending, keeping the retry
// budget it has spent.
func (p *Processor) requeue(ctx context.Context, op models.SyncOperation) {
	pending := models.StatusPending
	if _, err := p.store.UpdateOperation(ctx, op.ID, models.OperationPatch{Status: &pending}); err != nil {
		p.logger.Err(err).Str("func", "Processor.requeue").Str("operation_id", op.ID).Msg("failed to requeue operation")
	}
}

func (p *Processor) track(ps *pass, o outcome) {
	p.mu.Lock()
	switch o {
	case outcomeCompleted:
		ps.result.Completed++
		p.progress.Completed++
	case outcomeFailed:
		ps.result.Failed++
		p.progress.Failed++
	case outcomeConflict:
		ps.result.Conflicts++
		p.progress.Conflicts++
	case outcomeSkipped:
		ps.result.Skipped++
		p.progress.Skipped++
	}
	snapshot := p.progress
	p.mu.Unlock()

	p.progressEvents.Emit(snapshot)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package progressive implements the progressive sync scheduler, a pacing
// and batching policy on top of the sync processor for large backlogs and
// background operation.
//
// Operations handed to the scheduler wait in an in-memory backlog. Every
// scheduling pass deduplicates the backlog, cuts it into chunks sized for
// the current link and feeds each chunk to the processor's queue, followed
// by a sync pass. The scheduler never talks to the remote endpoint itself.
package progressive

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/internal/processor"
	"github.com/MKhiriev/go-offline-sync/internal/telemetry"
	"github.com/MKhiriev/go-offline-sync/internal/utils"
	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	defaultChunkRetries    = 3
	defaultChunkRetryDelay = 2 * time.Second
	// burstMultiplier sizes the pacing bucket relative to its per-second rate.
	burstMultiplier = 2
)

// ErrNetworkUnavailable is returned for chunk attempts made while the
// network does not allow syncing.
var ErrNetworkUnavailable = errors.New("network does not allow syncing")

type chunkPhase int

const (
	chunkPending chunkPhase = iota
	chunkActive
	chunkDone
	chunkFailed
)

type chunkState struct {
	chunk   models.SyncChunk
	entries []entry
	phase   chunkPhase
	// queued counts entries already handed to the processor; a retried
	// chunk continues after them.
	queued   int
	duration time.Duration
}

// PassResult summarises one scheduling pass.
type PassResult struct {
	Chunks       int
	Completed    int
	Failed       int
	Deduplicated int
	// Deferred is the number of operations left in the backlog.
	Deferred int
}

// Scheduler is the progressive sync scheduler.
type Scheduler struct {
	processor Processor
	network   Network
	cfg       config.Progressive
	critical  int
	ids       utils.IDGenerator
	clock     clock.Clock
	metrics   *telemetry.SyncMetrics
	limiter   *rate.Limiter

	// passMu serializes scheduling passes.
	passMu sync.Mutex

	mu         sync.Mutex
	backlog    []entry
	seq        uint64
	chunks     map[string]*chunkState
	order      []string
	current    string
	passStart  time.Time
	samples    []sample
	background bool

	trigger chan struct{}

	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
}

// NewScheduler creates an idle scheduler. criticalPriority is the priority
// from which queued work triggers an immediate pass. ids, clk and metrics
// may be nil.
func NewScheduler(
	proc Processor,
	network Network,
	cfg config.Progressive,
	criticalPriority int,
	ids utils.IDGenerator,
	clk clock.Clock,
	metrics *telemetry.SyncMetrics,
	log *logger.Logger,
) *Scheduler {
	if ids == nil {
		ids = utils.NewUUIDGenerator()
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Scheduler{
		processor: proc,
		network:   network,
		cfg:       cfg,
		critical:  criticalPriority,
		ids:       ids,
		clock:     clk,
		metrics:   metrics,
		chunks:    make(map[string]*chunkState),
		trigger:   make(chan struct{}, 1),
		logger:    log.WithComponent("progressive"),
	}
	if bps := cfg.PoorLinkBytesPerSecond; bps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(bps), bps*burstMultiplier)
	}
	return s
}

// Start runs the scheduling loop until ctx is cancelled or Stop is called.
// The loop period follows the network status; Trigger and critical work cut
// the wait short.
func (s *Scheduler) Start(ctx context.Context) {
	s.Stop()

	s.lifeMu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.lifeMu.Unlock()

	go func() {
		defer s.wg.Done()

		for {
			interval := Interval(s.network.Current().Status)
			select {
			case <-loopCtx.Done():
				return
			case <-s.trigger:
			case <-s.clock.After(interval):
			}

			if _, err := s.RunPass(loopCtx, false); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Str("func", "Scheduler.loop").Msg("scheduling pass failed")
			}
		}
	}()

	s.logger.Info().Str("func", "Scheduler.Start").Msg("progressive scheduler started")
}

// Stop ends the loop, waits for a running pass and clears the chunk
// bookkeeping. The backlog is kept.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	clear(s.chunks)
	s.order = nil
	s.current = ""
	s.mu.Unlock()
}

// Enqueue adds operations to the backlog and returns the backlog size.
// Critical operations trigger an immediate pass.
func (s *Scheduler) Enqueue(reqs ...models.OperationRequest) int {
	now := s.clock.Now()
	critical := false

	s.mu.Lock()
	for _, req := range reqs {
		s.seq++
		s.backlog = append(s.backlog, entry{req: req, added: now, seq: s.seq})
		critical = critical || s.isCritical(req.Priority)
	}
	n := len(s.backlog)
	s.mu.Unlock()

	if critical {
		s.Trigger()
	}
	return n
}

// Trigger asks the loop to run a pass now.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// SetBackground marks the process as backgrounded or foregrounded. Returning
// to the foreground triggers a pass.
func (s *Scheduler) SetBackground(background bool) {
	s.mu.Lock()
	changed := s.background != background
	s.background = background
	s.mu.Unlock()

	if changed && !background {
		s.Trigger()
	}
}

// Pending returns the backlog size.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

func (s *Scheduler) isCritical(priority int) bool {
	return s.critical > 0 && priority >= s.critical
}

// RunPass performs one scheduling pass. force ignores background
// suppression; nothing runs while the network does not allow syncing.
func (s *Scheduler) RunPass(ctx context.Context, force bool) (PassResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	if !s.network.Recommendations().CanSync {
		return PassResult{Deferred: s.Pending()}, nil
	}

	taken := s.take(force)
	if len(taken) == 0 {
		return PassResult{Deferred: s.Pending()}, nil
	}

	entries, dropped := dedupe(taken)
	sortEntries(entries)

	info := s.network.Current()
	rec := s.network.Recommendations()
	size := s.OptimalChunkSize()
	chunks := buildChunks(entries, size, info, rec, s.ids)

	s.mu.Lock()
	clear(s.chunks)
	s.order = s.order[:0]
	for _, c := range chunks {
		s.chunks[c.chunk.ID] = c
		s.order = append(s.order, c.chunk.ID)
	}
	s.current = ""
	s.passStart = s.clock.Now()
	s.mu.Unlock()

	s.logger.Info().
		Str("func", "Scheduler.RunPass").
		Int("operations", len(entries)).
		Int("deduplicated", dropped).
		Int("chunks", len(chunks)).
		Int("chunk_size", size).
		Str("network_status", string(info.Status)).
		Msg("scheduling pass started")

	res := PassResult{Chunks: len(chunks), Deduplicated: dropped}
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			s.requeue(chunks[i:])
			res.Deferred = s.Pending()
			return res, err
		}
		if !s.network.Recommendations().CanSync {
			s.logger.Info().
				Str("func", "Scheduler.RunPass").
				Int("remaining_chunks", len(chunks)-i).
				Msg("network degraded, remaining chunks deferred")
			s.requeue(chunks[i:])
			break
		}

		if err := s.execute(ctx, c); err != nil {
			res.Failed++
			if errors.Is(err, context.Canceled) {
				s.requeue(chunks[i:])
				res.Deferred = s.Pending()
				return res, err
			}
			s.requeue([]*chunkState{c})
			continue
		}
		res.Completed++
	}

	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()

	res.Deferred = s.Pending()
	return res, nil
}

// take removes the entries eligible for this pass from the backlog. A
// backgrounded process with background sync disabled only takes critical
// work unless forced.
func (s *Scheduler) take(force bool) []entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if force || !s.background || !s.cfg.BackgroundSyncDisabled {
		out := s.backlog
		s.backlog = nil
		return out
	}

	var taken, kept []entry
	for _, e := range s.backlog {
		if s.isCritical(e.req.Priority) {
			taken = append(taken, e)
		} else {
			kept = append(kept, e)
		}
	}
	s.backlog = kept
	return taken
}

// requeue returns the operations of chunks not yet handed to the processor
// to the backlog.
func (s *Scheduler) requeue(chunks []*chunkState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		s.backlog = append(s.backlog, c.entries[c.queued:]...)
	}
}

// execute runs one chunk with exponential backoff between attempts.
func (s *Scheduler) execute(ctx context.Context, c *chunkState) error {
	attempts := s.cfg.MaxChunkRetries
	if attempts <= 0 {
		attempts = defaultChunkRetries
	}
	delay := s.cfg.ChunkRetryDelay
	if delay <= 0 {
		delay = defaultChunkRetryDelay
	}

	s.mu.Lock()
	c.phase = chunkActive
	s.current = c.chunk.ID
	s.mu.Unlock()

	started := s.clock.Now()
	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(delay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := s.send(ctx, c); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.mu.Lock()
			c.chunk.RetryCount++
			s.mu.Unlock()
			s.logger.Debug().
				Err(err).
				Str("func", "Scheduler.execute").
				Str("chunk_id", c.chunk.ID).
				Msg("chunk attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	elapsed := s.clock.Now().Sub(started)

	s.mu.Lock()
	c.duration = elapsed
	if err != nil {
		c.phase = chunkFailed
	} else {
		c.phase = chunkDone
	}
	s.samples = append(s.samples, sample{success: err == nil, duration: elapsed})
	if len(s.samples) > sampleWindow {
		s.samples = s.samples[len(s.samples)-sampleWindow:]
	}
	s.mu.Unlock()

	s.metrics.RecordChunk(context.WithoutCancel(ctx), err == nil)

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("func", "Scheduler.execute").
			Str("chunk_id", c.chunk.ID).
			Int("operations", len(c.entries)).
			Msg("chunk failed, unqueued operations returned to the backlog")
		return err
	}

	s.logger.Debug().
		Str("func", "Scheduler.execute").
		Str("chunk_id", c.chunk.ID).
		Int("operations", len(c.entries)).
		Dur("duration", elapsed).
		Msg("chunk synced")
	return nil
}

// send paces the chunk on poor links, hands its remaining operations to the
// processor and runs a sync pass.
func (s *Scheduler) send(ctx context.Context, c *chunkState) error {
	if !s.network.Recommendations().CanSync {
		return ErrNetworkUnavailable
	}
	if err := s.pace(ctx, c.chunk.EstimatedBytes); err != nil {
		return err
	}

	for {
		s.mu.Lock()
		if c.queued >= len(c.entries) {
			s.mu.Unlock()
			break
		}
		req := c.entries[c.queued].req
		s.mu.Unlock()

		if _, err := s.processor.QueueOperation(ctx, req); err != nil {
			if !errors.Is(err, processor.ErrInvalidOperation) {
				return fmt.Errorf("failed to queue operation: %w", err)
			}
			s.logger.Warn().
				Err(err).
				Str("func", "Scheduler.send").
				Str("chunk_id", c.chunk.ID).
				Str("type", req.Type).
				Msg("invalid operation dropped")
		}

		s.mu.Lock()
		c.queued++
		s.mu.Unlock()
	}

	_, err := s.processor.StartSync(ctx, false)
	if err == nil || errors.Is(err, processor.ErrAlreadySyncing) {
		return nil
	}
	return fmt.Errorf("failed to sync chunk: %w", err)
}

// pace waits for transfer budget while the link is poor.
func (s *Scheduler) pace(ctx context.Context, n int64) error {
	if s.limiter == nil || s.network.Current().Status != models.NetworkPoor {
		return nil
	}
	return waitN(ctx, s.limiter, int(n))
}

// waitN splits a request larger than the bucket into burst-sized waits.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()
	for n > 0 {
		take := min(n, burst)
		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// OptimalChunkSize returns the chunk size the next pass would use.
func (s *Scheduler) OptimalChunkSize() int {
	info := s.network.Current()
	rec := s.network.Recommendations()

	s.mu.Lock()
	samples := slices.Clone(s.samples)
	s.mu.Unlock()

	return optimalChunkSize(rec.RecommendedChunkSize, info.SaveData, samples)
}

// Status recomputes progress from the chunks of the current or last pass.
func (s *Scheduler) Status() models.ProgressiveStatus {
	info := s.network.Current()
	size := s.OptimalChunkSize()

	s.mu.Lock()
	defer s.mu.Unlock()

	var st models.ProgressiveStatus
	var failedBytes int64
	for _, id := range s.order {
		c := s.chunks[id]
		st.TotalChunks++
		st.TotalBytes += c.chunk.EstimatedBytes
		switch c.phase {
		case chunkDone:
			st.CompletedChunks++
			st.BytesTransferred += c.chunk.EstimatedBytes
		case chunkFailed:
			st.FailedChunks++
			failedBytes += c.chunk.EstimatedBytes
		}
	}
	st.CurrentChunk = s.current

	if elapsed := s.clock.Now().Sub(s.passStart); elapsed > 0 && st.BytesTransferred > 0 {
		st.CurrentSpeed = float64(st.BytesTransferred) / elapsed.Seconds()
	}
	if left := st.TotalBytes - st.BytesTransferred - failedBytes; left > 0 && st.CurrentSpeed > 0 {
		st.EstimatedTimeRemaining = time.Duration(float64(left) / st.CurrentSpeed * float64(time.Second))
	}

	successRate, avg := performance(s.samples)
	st.AdaptiveMetrics = models.AdaptiveMetrics{
		OptimalChunkSize:   size,
		SampleCount:        len(s.samples),
		AverageSuccessRate: successRate,
		AverageDuration:    avg,
		NetworkStatus:      info.Status,
		Interval:           Interval(info.Status),
	}
	return st
}

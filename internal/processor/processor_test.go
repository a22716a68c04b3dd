// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-offline-sync/internal/adapter"
	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/internal/network"
	"github.com/MKhiriev/go-offline-sync/internal/resolver"
	"github.com/MKhiriev/go-offline-sync/internal/store"
	"github.com/MKhiriev/go-offline-sync/internal/testutil"
	"github.com/MKhiriev/go-offline-sync/internal/utils"
	"github.com/MKhiriev/go-offline-sync/models"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// stubNetwork is a Network whose state the test sets directly.
type stubNetwork struct {
	mu        sync.Mutex
	info      models.NetworkInfo
	score     float64
	failures  int
	batchSize int
	conn      *events.Registry[bool]
}

func newStubNetwork() *stubNetwork {
	return &stubNetwork{
		info:  models.NetworkInfo{IsOnline: true, Status: models.NetworkExcellent, RTT: 30 * time.Millisecond},
		score: 100,
		conn:  events.NewRegistry[bool]("connectivity_change", logger.Nop()),
	}
}

func (n *stubNetwork) State() models.NetworkState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return models.NetworkState{Current: n.info, ConsecutiveFailures: n.failures, QualityScore: n.score}
}

func (n *stubNetwork) Recommendations() models.QualityRecommendations {
	n.mu.Lock()
	defer n.mu.Unlock()

	rec := network.Recommend(n.info, n.score)
	if n.batchSize > 0 {
		rec.RecommendedBatchSize = n.batchSize
	}
	return rec
}

func (n *stubNetwork) RecordRequest(_ time.Duration, success bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if success {
		n.failures = 0
	} else {
		n.failures++
	}
}

func (n *stubNetwork) OnConnectivityChange(h func(bool)) events.Disposer {
	return n.conn.Subscribe(h)
}

func (n *stubNetwork) setOnline(online bool) {
	n.mu.Lock()
	changed := n.info.IsOnline != online
	if online {
		n.info = models.NetworkInfo{IsOnline: true, Status: models.NetworkExcellent, RTT: 30 * time.Millisecond}
		n.score = 100
	} else {
		n.info = models.NetworkInfo{Status: models.NetworkOffline}
		n.score = 0
	}
	n.mu.Unlock()

	if changed {
		n.conn.Emit(online)
	}
}

func (n *stubNetwork) setPoor() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.info = models.NetworkInfo{IsOnline: true, Status: models.NetworkPoor, RTT: 2500 * time.Millisecond}
	n.score = 40
}

func (n *stubNetwork) setBatchSize(size int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batchSize = size
}

func testSyncConfig() config.Sync {
	return config.Sync{
		MaxRetries:       3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		MaxConcurrency:   1,
		CriticalPriority: 10,
		ScheduleDelay:    10 * time.Millisecond,
	}
}

type env struct {
	store    *store.DurableStore
	storeClk *clock.Fake
	srv      *testutil.FakeRemote
	network  *stubNetwork
	proc     *Processor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithConfig(t, testSyncConfig())
}

func newEnvWithConfig(t *testing.T, cfg config.Sync) *env {
	t.Helper()

	srv := testutil.NewFakeRemote(t)
	remote, err := adapter.NewHTTPRemoteEndpoint(srv.RemoteConfig(), logger.Nop())
	require.NoError(t, err)

	backend, err := store.NewFileBackend(":memory:")
	require.NoError(t, err)
	storeClk := clock.NewFake(epoch)
	st := store.NewDurableStore(backend, storeClk, utils.NewSequenceGenerator("op"), logger.Nop())

	net := newStubNetwork()
	res := resolver.NewResolver(config.Resolver{NoiseThreshold: 5 * time.Second}, logger.Nop())
	proc := NewProcessor(st, remote, net, res, cfg, srv.RemoteConfig(), clock.New(), nil, logger.Nop())
	t.Cleanup(proc.Stop)

	return &env{store: st, storeClk: storeClk, srv: srv, network: net, proc: proc}
}

// queue adds an operation and moves the store clock so timestamps differ.
func (e *env) queue(t *testing.T, req models.OperationRequest) string {
	t.Helper()

	id, err := e.proc.QueueOperation(context.Background(), req)
	require.NoError(t, err)
	e.storeClk.Advance(time.Millisecond)
	return id
}

func put(path string, priority int, deps ...string) models.OperationRequest {
	return models.OperationRequest{
		Type:         models.OperationStatusUpdate,
		Endpoint:     path,
		Method:       http.MethodPut,
		Data:         json.RawMessage(`{"path":"` + path + `"}`),
		Priority:     priority,
		Dependencies: deps,
	}
}

func paths(reqs []testutil.RecordedRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Path)
	}
	return out
}

func (e *env) pending(t *testing.T) []models.SyncOperation {
	t.Helper()

	ops, err := e.store.GetPendingOperations(context.Background())
	require.NoError(t, err)
	return ops
}

// ── Happy path and ordering ──────────────────────────────────────────────────

func TestProcessor_HappyPath(t *testing.T) {
	e := newEnv(t)

	var completed []models.SyncResult
	e.proc.OnComplete(func(r models.SyncResult) { completed = append(completed, r) })

	id := e.queue(t, models.OperationRequest{
		Type:     models.OperationCheckIn,
		Endpoint: "/api/check-ins",
		Method:   "post",
		Data:     json.RawMessage(`{"student_id":"s-1","class_id":"c-7"}`),
	})

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Processed)
	assert.False(t, res.Paused)

	reqs := e.srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/api/check-ins", reqs[0].Path)
	assert.JSONEq(t, `{"student_id":"s-1","class_id":"c-7"}`, string(reqs[0].Body))
	assert.Equal(t, id, reqs[0].Headers.Get("Idempotency-Key"))

	assert.Empty(t, e.pending(t))
	assert.Equal(t, models.SyncIdle, e.proc.Status())
	require.Len(t, completed, 1)

	stats, err := e.store.GetCacheStats(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stats.LastSync)
}

func TestProcessor_PriorityOrder(t *testing.T) {
	e := newEnv(t)

	e.queue(t, put("/p1", 1))
	e.queue(t, put("/p5", 5))
	e.queue(t, put("/p3", 3))
	e.queue(t, put("/p3-later", 3))

	_, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"/p5", "/p3", "/p3-later", "/p1"}, paths(e.srv.Requests()))
}

func TestProcessor_DependencyDispatchedFirst(t *testing.T) {
	cfg := testSyncConfig()
	cfg.MaxConcurrency = 4
	e := newEnvWithConfig(t, cfg)

	e.srv.Respond(http.MethodPut, "/enrollment", testutil.Reply{Status: http.StatusOK, Body: "{}", Delay: 50 * time.Millisecond})

	enroll := "op-2"
	e.queue(t, put("/status", 9, enroll))
	require.Equal(t, enroll, e.queue(t, put("/enrollment", 1)))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, []string{"/enrollment", "/status"}, paths(e.srv.Requests()))
}

// ── Failures and retries ─────────────────────────────────────────────────────

func TestProcessor_RetryBound(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/flaky", testutil.Reply{Status: http.StatusServiceUnavailable, Body: "maintenance"})

	var errs []models.SyncError
	e.proc.OnError(func(se models.SyncError) { errs = append(errs, se) })

	id := e.queue(t, put("/flaky", 1))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	// one attempt plus three retries
	assert.Len(t, e.srv.RequestsTo("/flaky"), 4)

	op, err := e.store.GetOperation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, op.Status)
	assert.Equal(t, 3, op.RetryCount)
	assert.Contains(t, op.LastError, "503")

	require.Len(t, errs, 1)
	assert.Equal(t, models.ErrorKindExhausted, errs[0].Kind)
	assert.Equal(t, id, errs[0].OperationID)
	assert.Equal(t, http.StatusServiceUnavailable, errs[0].StatusCode)

	// failed operations are never picked up again automatically
	_, err = e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, e.srv.RequestsTo("/flaky"), 4)
}

func TestProcessor_TransientThenSuccess(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/x",
		testutil.Reply{Status: http.StatusInternalServerError},
		testutil.Reply{Status: http.StatusBadGateway},
		testutil.Reply{Status: http.StatusOK, Body: "{}"},
	)

	e.queue(t, put("/x", 1))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completed)
	assert.Len(t, e.srv.RequestsTo("/x"), 3)
	assert.Empty(t, e.pending(t))
}

func TestProcessor_ClientErrorIsTerminal(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/bad", testutil.Reply{Status: http.StatusUnprocessableEntity, Body: "class is closed"})

	var errs []models.SyncError
	e.proc.OnError(func(se models.SyncError) { errs = append(errs, se) })

	id := e.queue(t, put("/bad", 1))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, e.srv.RequestsTo("/bad"), 1)

	op, err := e.store.GetOperation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, op.Status)
	assert.Zero(t, op.RetryCount)

	require.Len(t, errs, 1)
	assert.Equal(t, models.ErrorKindClient, errs[0].Kind)
	assert.Contains(t, errs[0].Message, "class is closed")
}

func TestProcessor_FailedDependencyFailsDependent(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/parent", testutil.Reply{Status: http.StatusBadRequest})

	parent := e.queue(t, put("/parent", 1))
	child := e.queue(t, put("/child", 1, parent))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"/parent"}, paths(e.srv.Requests()))

	op, err := e.store.GetOperation(context.Background(), child)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, op.Status)
	assert.Contains(t, op.LastError, parent)
}

func TestProcessor_MissingDependencyIsSatisfied(t *testing.T) {
	e := newEnv(t)

	e.queue(t, put("/orphan", 1, "op-gone"))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
}

func TestProcessor_DependencyCycleDoesNotDeadlock(t *testing.T) {
	e := newEnv(t)

	e.queue(t, put("/a", 1, "op-2"))
	e.queue(t, put("/b", 5, "op-1"))
	e.queue(t, put("/free", 3))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, []string{"/free", "/b", "/a"}, paths(e.srv.Requests()))
}

// ── Conflicts ────────────────────────────────────────────────────────────────

const attendanceConflict = `{"server_data":{"status":"absent"},"local_data":{"status":"present"}}`

func TestProcessor_ConflictResolvedAutomatically(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/api/attendance/att-1",
		testutil.Reply{Status: http.StatusConflict, Body: attendanceConflict},
		testutil.Reply{Status: http.StatusOK, Body: "{}"},
	)

	var calls int
	var seen models.ConflictData
	e.proc.OnConflict(func(_ context.Context, op models.SyncOperation, c models.ConflictData) (map[string]any, bool) {
		calls++
		seen = c
		return nil, false
	})

	var resolved []ConflictEvent
	e.proc.OnConflictResolved(func(ev ConflictEvent) { resolved = append(resolved, ev) })

	id := e.queue(t, models.OperationRequest{
		Type:     models.OperationStatusUpdate,
		Endpoint: "/api/attendance/att-1",
		Method:   http.MethodPut,
		Data:     json.RawMessage(`{"status":"present"}`),
		Priority: 3,
	})

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)

	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]any{"status": "absent"}, seen.ServerVersion)
	assert.Equal(t, map[string]any{"status": "present"}, seen.LocalVersion)

	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].Applied)
	assert.Equal(t, resolvedByResolver, resolved[0].ResolvedBy)
	assert.Equal(t, models.StrategyAutoMerge, resolved[0].Resolution.Strategy)
	assert.NotEmpty(t, resolved[0].Resolution.Explanation)

	op, err := e.store.GetOperation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, op.Status)
	assert.False(t, op.AwaitingResolution)
	assert.JSONEq(t, `{"status":"present"}`, string(op.Data))

	// retried on the next pass
	res, err = e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Empty(t, e.pending(t))
}

func TestProcessor_ConflictHandlerWins(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/api/attendance/att-2", testutil.Reply{Status: http.StatusConflict, Body: attendanceConflict})

	e.proc.OnConflict(func(context.Context, models.SyncOperation, models.ConflictData) (map[string]any, bool) {
		panic("broken handler")
	})
	e.proc.OnConflict(func(context.Context, models.SyncOperation, models.ConflictData) (map[string]any, bool) {
		return map[string]any{"status": "late"}, true
	})
	var third atomic.Int32
	e.proc.OnConflict(func(context.Context, models.SyncOperation, models.ConflictData) (map[string]any, bool) {
		third.Add(1)
		return map[string]any{"status": "never"}, true
	})

	var resolved []ConflictEvent
	e.proc.OnConflictResolved(func(ev ConflictEvent) { resolved = append(resolved, ev) })

	id := e.queue(t, models.OperationRequest{
		Type:     models.OperationStatusUpdate,
		Endpoint: "/api/attendance/att-2",
		Method:   http.MethodPut,
		Data:     json.RawMessage(`{"status":"present"}`),
	})

	_, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	assert.Zero(t, third.Load())
	require.Len(t, resolved, 1)
	assert.Equal(t, resolvedByHandler, resolved[0].ResolvedBy)

	op, err := e.store.GetOperation(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"late"}`, string(op.Data))
	assert.Equal(t, 1, op.RetryCount)
}

func TestProcessor_ConflictEscalatedToUser(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/api/attendance/att-3",
		testutil.Reply{
			Status: http.StatusConflict,
			Body: `{"server_data":{"status":"late","updated_at":"2026-03-01T09:00:00Z"},
				"local_data":{"status":"excused","updated_at":"2026-03-01T09:00:02Z"}}`,
		},
		testutil.Reply{Status: http.StatusOK, Body: "{}"},
	)

	var resolved []ConflictEvent
	e.proc.OnConflictResolved(func(ev ConflictEvent) { resolved = append(resolved, ev) })

	id := e.queue(t, put("/api/attendance/att-3", 1))

	_, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	assert.False(t, resolved[0].Applied)
	assert.True(t, resolved[0].Resolution.RequiresUserInput)

	op, err := e.store.GetOperation(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, op.AwaitingResolution)
	assert.Equal(t, models.StatusPending, op.Status)
	assert.NotEmpty(t, op.LastError)

	// skipped until the user decides
	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, e.srv.RequestsTo("/api/attendance/att-3"), 1)

	require.NoError(t, e.proc.ResolveOperation(context.Background(), id, map[string]any{"status": "excused"}))

	res, err = e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	reqs := e.srv.RequestsTo("/api/attendance/att-3")
	require.Len(t, reqs, 2)
	assert.JSONEq(t, `{"status":"excused"}`, string(reqs[1].Body))
}

func TestProcessor_ResolveOperationRequiresPendingConflict(t *testing.T) {
	e := newEnv(t)
	id := e.queue(t, put("/x", 1))

	err := e.proc.ResolveOperation(context.Background(), id, map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrNotAwaitingResolution)

	err = e.proc.ResolveOperation(context.Background(), "op-missing", nil)
	assert.ErrorIs(t, err, store.ErrOperationNotFound)
}

// ── Network gating, pause and resume ─────────────────────────────────────────

func TestProcessor_StartSyncOffline(t *testing.T) {
	e := newEnv(t)
	e.queue(t, put("/x", 1))
	e.network.setOnline(false)

	_, err := e.proc.StartSync(context.Background(), false)
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, models.SyncIdle, e.proc.Status())

	// forcing still respects the per-batch network check
	res, err := e.proc.StartSync(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.Paused)
	assert.Equal(t, models.SyncPaused, e.proc.Status())
	assert.Empty(t, e.srv.Requests())

	e.network.setOnline(true)
	res, err = e.proc.ResumeSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, models.SyncIdle, e.proc.Status())
}

func TestProcessor_PausesWhenNetworkDegrades(t *testing.T) {
	e := newEnv(t)
	e.network.setBatchSize(1)

	for _, p := range []string{"/1", "/2", "/3"} {
		e.queue(t, put(p, 1))
	}

	e.proc.OnProgress(func(pr models.SyncProgress) {
		if pr.Completed == 1 {
			e.network.setOnline(false)
		}
	})
	var paused []models.SyncError
	e.proc.OnError(func(se models.SyncError) {
		if se.Kind == models.ErrorKindPaused {
			paused = append(paused, se)
		}
	})

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Paused)
	assert.Equal(t, 1, res.Completed)
	assert.Len(t, paused, 1)
	assert.Len(t, e.pending(t), 2)

	progress := e.proc.Progress()
	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 3, progress.TotalBatches)

	_, err = e.proc.ResumeSync(context.Background())
	require.NoError(t, err, "resume while offline pauses again without error")
	assert.Equal(t, models.SyncPaused, e.proc.Status())

	e.network.setOnline(true)
	res, err = e.proc.ResumeSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	assert.Empty(t, e.pending(t))

	_, err = e.proc.ResumeSync(context.Background())
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestProcessor_PauseSyncKeepsRemainingBatches(t *testing.T) {
	e := newEnv(t)
	e.network.setBatchSize(1)
	e.queue(t, put("/1", 1))
	e.queue(t, put("/2", 1))

	e.proc.OnProgress(func(models.SyncProgress) { e.proc.PauseSync() })

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Paused)

	e.proc.StopSync()
	assert.Equal(t, models.SyncIdle, e.proc.Status())
	assert.Zero(t, e.proc.Progress().Total)

	// stopping never drops queued work
	require.Len(t, e.pending(t), 1)
	_, err = e.proc.ResumeSync(context.Background())
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestProcessor_ReentrantAndForcedStart(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/slow", testutil.Reply{Status: http.StatusOK, Body: "{}", Delay: 200 * time.Millisecond})
	e.queue(t, put("/slow", 1))

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.proc.StartSync(context.Background(), false)
		firstErr <- err
	}()

	require.Eventually(t, func() bool { return len(e.srv.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := e.proc.StartSync(context.Background(), false)
	assert.ErrorIs(t, err, ErrAlreadySyncing)

	res, err := e.proc.StartSync(context.Background(), true)
	require.NoError(t, err)
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	// the in-flight request was allowed to finish; nothing is sent twice
	assert.Len(t, e.srv.Requests(), 1)
	assert.Zero(t, res.Processed)
	assert.Empty(t, e.pending(t))
}

// ── Queueing and lifecycle ───────────────────────────────────────────────────

func TestProcessor_QueueOperationValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		req  models.OperationRequest
	}{
		{name: "unsupported method", req: models.OperationRequest{Endpoint: "/x", Method: http.MethodGet}},
		{name: "empty endpoint", req: models.OperationRequest{Endpoint: " ", Method: http.MethodPost}},
		{name: "invalid payload", req: models.OperationRequest{Endpoint: "/x", Method: http.MethodPost, Data: json.RawMessage(`{"a":`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.proc.QueueOperation(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
	assert.Empty(t, e.pending(t))
}

func TestProcessor_SyncsAfterConnectivityRestored(t *testing.T) {
	e := newEnv(t)
	e.network.setOnline(false)
	require.NoError(t, e.proc.Start(context.Background()))

	e.queue(t, models.OperationRequest{
		Type:     models.OperationStatusUpdate,
		Endpoint: "/api/attendance/att-9",
		Method:   http.MethodPut,
		Data:     json.RawMessage(`{"status":"present"}`),
		Priority: 3,
	})
	e.queue(t, put("/api/notes/n-1", 1))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, e.srv.Requests())
	assert.Len(t, e.pending(t), 2)

	e.network.setOnline(true)

	require.Eventually(t, func() bool {
		return len(e.pending(t)) == 0 && e.proc.Status() == models.SyncIdle
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"/api/attendance/att-9", "/api/notes/n-1"}, paths(e.srv.Requests()))
}

func TestProcessor_StartRecoversInterruptedOperations(t *testing.T) {
	e := newEnv(t)
	e.network.setOnline(false)
	id := e.queue(t, put("/interrupted", 1))

	processing := models.StatusProcessing
	_, err := e.store.UpdateOperation(context.Background(), id, models.OperationPatch{Status: &processing})
	require.NoError(t, err)
	e.network.setOnline(true)

	require.NoError(t, e.proc.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(e.srv.RequestsTo("/interrupted")) == 1 && len(e.pending(t)) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestProcessor_QueueSchedulesSyncWhenOnline(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.proc.Start(context.Background()))

	// the empty first pass must be over, or it would swallow the schedule
	require.Eventually(t, func() bool {
		stats, err := e.store.GetCacheStats(context.Background())
		return err == nil && stats.LastSync != nil && e.proc.Status() == models.SyncIdle
	}, 3*time.Second, 10*time.Millisecond)

	e.queue(t, models.OperationRequest{Type: models.OperationCheckIn, Endpoint: "/api/check-ins", Method: http.MethodPost, Priority: 10})

	require.Eventually(t, func() bool {
		return len(e.srv.RequestsTo("/api/check-ins")) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestProcessor_QueuedDuringPassGoesOutNext(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/slow", testutil.Reply{Status: http.StatusOK, Body: "{}", Delay: 300 * time.Millisecond})
	require.NoError(t, e.proc.Start(context.Background()))

	require.Eventually(t, func() bool {
		stats, err := e.store.GetCacheStats(context.Background())
		return err == nil && stats.LastSync != nil && e.proc.Status() == models.SyncIdle
	}, 3*time.Second, 10*time.Millisecond)

	e.queue(t, put("/slow", 1))
	require.Eventually(t, func() bool {
		return len(e.srv.RequestsTo("/slow")) == 1
	}, 3*time.Second, 5*time.Millisecond)
	require.Equal(t, models.SyncSyncing, e.proc.Status())

	// the running pass already read the queue
	e.queue(t, models.OperationRequest{Type: models.OperationCheckIn, Endpoint: "/api/check-ins", Method: http.MethodPost, Priority: 10})

	require.Eventually(t, func() bool {
		return len(e.srv.RequestsTo("/api/check-ins")) == 1 &&
			len(e.pending(t)) == 0 &&
			e.proc.Status() == models.SyncIdle
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"/slow", "/api/check-ins"}, paths(e.srv.Requests()))
}

func TestProcessor_RetryFailed(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/again",
		testutil.Reply{Status: http.StatusBadRequest},
		testutil.Reply{Status: http.StatusOK, Body: "{}"},
	)
	id := e.queue(t, put("/again", 1))

	_, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	require.NoError(t, e.proc.RetryFailed(context.Background(), id))
	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	assert.ErrorIs(t, e.proc.RetryFailed(context.Background(), id), store.ErrOperationNotFound)
}

func TestProcessor_DiscardOperation(t *testing.T) {
	e := newEnv(t)
	id := e.queue(t, put("/discard", 1))

	require.NoError(t, e.proc.DiscardOperation(context.Background(), id))
	assert.Empty(t, e.pending(t))
}

// ── Response handling ────────────────────────────────────────────────────────

func TestProcessor_SuccessBodyCachedAsRecord(t *testing.T) {
	e := newEnv(t)
	e.srv.Respond(http.MethodPut, "/api/attendance/att-5", testutil.Reply{Status: http.StatusOK, Body: `{"id":"att-5","status":"present"}`})
	e.srv.Respond(http.MethodPut, "/plain", testutil.Reply{Status: http.StatusOK, Body: "OK"})

	e.queue(t, put("/api/attendance/att-5", 2))
	e.queue(t, put("/plain", 1))

	res, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)

	item, ok, err := e.store.GetRawRecord(context.Background(), "att-5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"att-5","status":"present"}`, string(item.Data))
}

func TestProcessor_CompressionHeaderOnPoorLink(t *testing.T) {
	e := newEnv(t)
	e.network.setPoor()
	e.queue(t, put("/poor", 1))

	_, err := e.proc.StartSync(context.Background(), false)
	require.NoError(t, err)

	reqs := e.srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gzip", reqs[0].Headers.Get("Accept-Encoding"))
}

func TestProcessor_RequestTimeout(t *testing.T) {
	p := &Processor{remoteCfg: config.Remote{RequestTimeout: 10 * time.Second, MaxRequestTimeout: 25 * time.Second}}

	assert.Equal(t, 10*time.Second, p.requestTimeout(models.QualityRecommendations{TimeoutFactor: 1}))
	assert.Equal(t, 20*time.Second, p.requestTimeout(models.QualityRecommendations{TimeoutFactor: 2}))
	assert.Equal(t, 25*time.Second, p.requestTimeout(models.QualityRecommendations{TimeoutFactor: 3}))
	assert.Equal(t, 10*time.Second, p.requestTimeout(models.QualityRecommendations{}))
}

func TestProcessor_BackoffDelay(t *testing.T) {
	p := &Processor{cfg: config.Sync{BaseDelay: time.Second, MaxDelay: 30 * time.Second}}

	assert.Equal(t, time.Second, p.backoffDelay(1))
	assert.Equal(t, 2*time.Second, p.backoffDelay(2))
	assert.Equal(t, 4*time.Second, p.backoffDelay(3))
	assert.Equal(t, 30*time.Second, p.backoffDelay(10))

	p.cfg.Jitter = 250 * time.Millisecond
	for i := 0; i < 20; i++ {
		d := p.backoffDelay(2)
		assert.GreaterOrEqual(t, d, 1750*time.Millisecond)
		assert.Less(t, d, 2250*time.Millisecond)
	}
}

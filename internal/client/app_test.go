// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/internal/store"
	"github.com/MKhiriev/go-offline-sync/internal/testutil"
	"github.com/MKhiriev/go-offline-sync/models"
)

func testConfig(t *testing.T, srv *testutil.FakeRemote) *config.StructuredConfig {
	t.Helper()

	cfg := config.Defaults()
	cfg.Store = config.Store{Backend: config.BackendFile, FilePath: filepath.Join(t.TempDir(), "queue.json")}
	cfg.Remote = srv.RemoteConfig()
	cfg.Network.ProbeTimeout = time.Second
	cfg.Sync.BaseDelay = time.Millisecond
	cfg.Sync.MaxDelay = 5 * time.Millisecond
	cfg.Sync.Jitter = 0
	cfg.Sync.ScheduleDelay = 10 * time.Millisecond
	cfg.Progressive.ChunkRetryDelay = time.Millisecond
	return cfg
}

func checkIn(student string) models.OperationRequest {
	return models.OperationRequest{
		Type:     models.OperationCheckIn,
		Endpoint: "/api/check-ins",
		Method:   http.MethodPost,
		Data:     json.RawMessage(`{"student_id":"` + student + `"}`),
		Priority: 10,
	}
}

func TestApp_QueueAndSync(t *testing.T) {
	srv := testutil.NewFakeRemote(t)
	cfg := testConfig(t, srv)

	app, err := NewApp(context.Background(), cfg, models.NewAppBuildInfo("", "", ""), logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, app.ui)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	_, err = app.QueueOperation(ctx, checkIn("s-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := app.State()
		return st.Statistics.TotalSynced == 1 && st.UnsyncedChanges == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, srv.RequestsTo("/api/check-ins"), 1)

	require.NoError(t, app.Stop())
}

func TestApp_EnqueueDedupesThroughScheduler(t *testing.T) {
	srv := testutil.NewFakeRemote(t)
	cfg := testConfig(t, srv)

	app, err := NewApp(context.Background(), cfg, models.AppBuildInfo{}, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	// the duplicate check-in collapses into one request
	app.Enqueue(ctx, checkIn("s-2"), checkIn("s-2"), checkIn("s-3"))

	require.Eventually(t, func() bool {
		return len(srv.RequestsTo("/api/check-ins")) == 2
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return app.State().UnsyncedChanges == 0
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, app.Stop())
}

func TestApp_OnConflictDisposer(t *testing.T) {
	srv := testutil.NewFakeRemote(t)
	srv.Respond(http.MethodPut, "/api/attendance/att-1",
		testutil.Reply{Status: http.StatusConflict, Body: `{"server_data":{"status":"absent"}}`},
	)
	cfg := testConfig(t, srv)

	app, err := NewApp(context.Background(), cfg, models.AppBuildInfo{}, logger.Nop())
	require.NoError(t, err)

	var removedCalls, keptCalls atomic.Int32
	dispose := app.OnConflict(func(context.Context, models.SyncOperation, models.ConflictData) (map[string]any, bool) {
		removedCalls.Add(1)
		return map[string]any{"status": "late"}, true
	})
	app.OnConflict(func(context.Context, models.SyncOperation, models.ConflictData) (map[string]any, bool) {
		keptCalls.Add(1)
		return map[string]any{"status": "present"}, true
	})
	dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	_, err = app.QueueOperation(ctx, models.OperationRequest{
		Type:     models.OperationStatusUpdate,
		Endpoint: "/api/attendance/att-1",
		Method:   http.MethodPut,
		Data:     json.RawMessage(`{"status":"present"}`),
		Priority: 5,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(srv.RequestsTo("/api/attendance/att-1")) == 2 && app.State().UnsyncedChanges == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Zero(t, removedCalls.Load())
	assert.Equal(t, int32(1), keptCalls.Load())

	require.NoError(t, app.Stop())
}

func TestApp_QueueSurvivesRestart(t *testing.T) {
	srv := testutil.NewFakeRemote(t)
	srv.SetOffline(true)
	cfg := testConfig(t, srv)

	app, err := NewApp(context.Background(), cfg, models.AppBuildInfo{}, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.Start(ctx))

	app.NotifyConnectivity(ctx, false)
	_, err = app.QueueOperation(ctx, checkIn("s-4"))
	require.NoError(t, err)

	cancel()
	require.NoError(t, app.Stop())

	st, err := store.Open(context.Background(), cfg.Store, clock.New(), logger.Nop())
	require.NoError(t, err)
	defer st.Close()

	pending, err := st.GetPendingOperations(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "/api/check-ins", pending[0].Endpoint)
}

func TestApp_RunStopsWithContext(t *testing.T) {
	srv := testutil.NewFakeRemote(t)
	cfg := testConfig(t, srv)

	app, err := NewApp(context.Background(), cfg, models.AppBuildInfo{}, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err = <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewApp_UnknownBackend(t *testing.T) {
	srv := testutil.NewFakeRemote(t)
	cfg := testConfig(t, srv)
	cfg.Store.Backend = "redis"

	_, err := NewApp(context.Background(), cfg, models.AppBuildInfo{}, logger.Nop())
	assert.ErrorIs(t, err, store.ErrUnknownBackend)
}

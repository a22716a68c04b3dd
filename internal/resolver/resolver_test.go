// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package resolver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/models"
)

func newTestResolver() *Resolver {
	return NewResolver(config.Resolver{NoiseThreshold: 5 * time.Second}, logger.Nop())
}

var detected = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestResolveConflict_AutoMergeSafeTransition(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		Type:          models.OperationStatusUpdate,
		EntityID:      "att-1",
		LocalVersion:  map[string]any{"status": "present"},
		ServerVersion: map[string]any{"status": "absent"},
		Timestamp:     detected,
	})

	assert.Equal(t, models.StrategyAutoMerge, res.Strategy)
	assert.Equal(t, 1.0, res.Confidence)
	assert.False(t, res.RequiresUserInput)
	assert.Equal(t, map[string]any{"status": "present"}, res.ResolvedData)
	assert.NotEmpty(t, res.Explanation)
}

func TestResolveConflict_AutoMergeAdditiveAndNumeric(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		LocalVersion:  map[string]any{"count": 2, "note": "late bus"},
		ServerVersion: map[string]any{"count": 2.0, "room": "B12"},
	})

	assert.Equal(t, models.StrategyAutoMerge, res.Strategy)
	assert.Equal(t, "late bus", res.ResolvedData["note"])
	assert.Equal(t, "B12", res.ResolvedData["room"])
}

func TestResolveConflict_ReverseTransitionIsNotSafe(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		LocalVersion:  map[string]any{"status": "absent"},
		ServerVersion: map[string]any{"status": "present"},
	})

	assert.Equal(t, models.StrategyManual, res.Strategy)
	assert.True(t, res.RequiresUserInput)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "status", res.Conflicts[0].Field)
}

func TestResolveConflict_ThreeWayMerge(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		BaseVersion:   map[string]any{"status": "absent", "note": "", "room": "A1", "tag": "x"},
		LocalVersion:  map[string]any{"status": "excused", "note": "doctor", "room": "A1", "tag": "x"},
		ServerVersion: map[string]any{"status": "absent", "note": "", "room": "B2"},
	})

	assert.Equal(t, models.StrategyThreeWayMerge, res.Strategy)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, map[string]any{"status": "excused", "note": "doctor", "room": "B2"}, res.ResolvedData)
}

func TestResolveConflict_ThreeWayMergeBothChanged(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		BaseVersion:   map[string]any{"status": "absent", "updated_at": "2026-03-01T08:00:00Z"},
		LocalVersion:  map[string]any{"status": "excused", "updated_at": "2026-03-01T09:30:00Z"},
		ServerVersion: map[string]any{"status": "late", "updated_at": "2026-03-01T09:00:00Z"},
	})

	assert.Equal(t, models.StrategyThreeWayMerge, res.Strategy)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "local", res.Conflicts[0].Chosen)
	assert.Equal(t, "excused", res.ResolvedData["status"])
	assert.Equal(t, "2026-03-01T09:30:00Z", res.ResolvedData["updated_at"])
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.False(t, res.RequiresUserInput)
	assert.Contains(t, res.Explanation, "status")
}

func TestResolveConflict_ThreeWayManyConflictsNeedUser(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		BaseVersion:   map[string]any{"a": 1, "b": 1, "c": 1},
		LocalVersion:  map[string]any{"a": 2, "b": 2, "c": 2},
		ServerVersion: map[string]any{"a": 3, "b": 3, "c": 3},
	})

	assert.Len(t, res.Conflicts, 3)
	assert.Less(t, res.Confidence, ConfidentThreshold)
	assert.True(t, res.RequiresUserInput)
	// server preferred without timestamps
	assert.Equal(t, 3, res.ResolvedData["a"])
}

func TestResolveConflict_ThreeWayMergeKeepsDeletions(t *testing.T) {
	r := newTestResolver()

	tests := []struct {
		name   string
		base   map[string]any
		local  map[string]any
		server map[string]any
		want   map[string]any
	}{
		{
			name:   "deleted on the server",
			base:   map[string]any{"status": "present", "note": "a"},
			local:  map[string]any{"status": "present", "note": "a"},
			server: map[string]any{"status": "present"},
			want:   map[string]any{"status": "present"},
		},
		{
			name:   "deleted locally",
			base:   map[string]any{"status": "present", "room": "B12"},
			local:  map[string]any{"status": "present"},
			server: map[string]any{"status": "present", "room": "B12"},
			want:   map[string]any{"status": "present"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.ResolveConflict(models.ConflictData{
				BaseVersion:   tt.base,
				LocalVersion:  tt.local,
				ServerVersion: tt.server,
			})

			assert.Equal(t, models.StrategyThreeWayMerge, res.Strategy)
			assert.Equal(t, tt.want, res.ResolvedData)
			assert.Empty(t, res.Conflicts)
		})
	}
}

func TestResolveConflict_ThreeWayDeleteAgainstEditIsConflict(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		BaseVersion:   map[string]any{"status": "present", "note": "a"},
		LocalVersion:  map[string]any{"status": "present"},
		ServerVersion: map[string]any{"status": "present", "note": "b"},
	})

	assert.Equal(t, models.StrategyThreeWayMerge, res.Strategy)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "note", res.Conflicts[0].Field)
	assert.Less(t, res.Confidence, 1.0)
	// server preferred without timestamps
	assert.Equal(t, "b", res.ResolvedData["note"])
}

func TestResolveConflict_ThreeWaySafeTransition(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		BaseVersion:   map[string]any{"status": "late", "room": "A1"},
		LocalVersion:  map[string]any{"status": "present", "room": "A1"},
		ServerVersion: map[string]any{"status": "absent", "room": "A1"},
	})

	assert.Equal(t, models.StrategyThreeWayMerge, res.Strategy)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, map[string]any{"status": "present", "room": "A1"}, res.ResolvedData)
	assert.Contains(t, res.Explanation, "intended end state")
}

func TestResolveConflict_LastWriterWins(t *testing.T) {
	r := newTestResolver()

	tests := []struct {
		name       string
		local      string
		server     string
		wantStatus string
		wantUser   bool
	}{
		{name: "local clearly newer", local: "2026-03-01T09:10:00Z", server: "2026-03-01T09:00:00Z", wantStatus: "excused", wantUser: false},
		{name: "server clearly newer", local: "2026-03-01T09:00:00Z", server: "2026-03-01T09:10:00Z", wantStatus: "late", wantUser: false},
		{name: "within noise", local: "2026-03-01T09:00:02Z", server: "2026-03-01T09:00:00Z", wantStatus: "excused", wantUser: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.ResolveConflict(models.ConflictData{
				LocalVersion:  map[string]any{"status": "excused", "updated_at": tt.local},
				ServerVersion: map[string]any{"status": "late", "updated_at": tt.server},
			})

			assert.Equal(t, models.StrategyLastWriterWins, res.Strategy)
			assert.Equal(t, tt.wantStatus, res.ResolvedData["status"])
			assert.Equal(t, tt.wantUser, res.RequiresUserInput)
			assert.NotEmpty(t, res.Conflicts)
			assert.NotEmpty(t, res.Explanation)
		})
	}
}

func TestResolveConflict_EpochMillisTimestamps(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{
		LocalVersion:  map[string]any{"v": "a", "timestamp": float64(1_700_000_060_000)},
		ServerVersion: map[string]any{"v": "b", "timestamp": float64(1_700_000_000_000)},
	})

	assert.Equal(t, models.StrategyLastWriterWins, res.Strategy)
	assert.Equal(t, "a", res.ResolvedData["v"])
}

func TestResolveConflict_EmptyVersionsAreManual(t *testing.T) {
	r := newTestResolver()

	res := r.ResolveConflict(models.ConflictData{Type: "bulk_operation"})

	assert.Equal(t, models.StrategyManual, res.Strategy)
	assert.True(t, res.RequiresUserInput)
	assert.Zero(t, res.Confidence)
	assert.NotNil(t, res.ResolvedData)
	assert.NotEmpty(t, res.Explanation)
}

func TestResolveConflict_ForcedStrategy(t *testing.T) {
	r := newTestResolver()
	r.SetStrategy("roster", models.StrategyServerWins)

	res := r.ResolveConflict(models.ConflictData{
		Type:          "roster",
		LocalVersion:  map[string]any{"status": "present"},
		ServerVersion: map[string]any{"status": "absent"},
	})

	assert.Equal(t, models.StrategyServerWins, res.Strategy)
	assert.Equal(t, "absent", res.ResolvedData["status"])
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "server", res.Conflicts[0].Chosen)
}

func TestResolveConflict_Deterministic(t *testing.T) {
	r := newTestResolver()

	c := models.ConflictData{
		Type:          models.OperationStatusUpdate,
		EntityID:      "att-9",
		BaseVersion:   map[string]any{"status": "absent", "meta": map[string]any{"n": 1}, "z": 1, "a": 1},
		LocalVersion:  map[string]any{"status": "excused", "meta": map[string]any{"n": 2}, "z": 2, "a": 1},
		ServerVersion: map[string]any{"status": "late", "meta": map[string]any{"n": 3}, "z": 3, "a": 2},
		Timestamp:     detected,
	}

	first := r.ResolveConflict(c)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.ResolveConflict(c))
	}
}

func TestResolveConflict_DoesNotMutateInput(t *testing.T) {
	r := newTestResolver()

	local := map[string]any{"nested": map[string]any{"x": 1}}
	c := models.ConflictData{
		LocalVersion:  local,
		ServerVersion: map[string]any{"other": true},
	}

	res := r.ResolveConflict(c)
	res.ResolvedData["nested"].(map[string]any)["x"] = 99

	assert.Equal(t, 1, local["nested"].(map[string]any)["x"])
}

func TestResolveBatch_DependentUsesEarlierResolution(t *testing.T) {
	r := newTestResolver()

	results := r.ResolveBatch([]BatchItem{
		{
			Conflict: models.ConflictData{
				LocalVersion:  map[string]any{"status": "present", "room": "A1"},
				ServerVersion: map[string]any{"status": "absent", "room": "A1"},
			},
			DependsOn: -1,
		},
		{
			Conflict: models.ConflictData{
				LocalVersion:  map[string]any{"status": "present", "room": "C3"},
				ServerVersion: map[string]any{"status": "absent", "room": "A1"},
			},
			DependsOn: 0,
		},
		{
			Conflict: models.ConflictData{
				LocalVersion:  map[string]any{"k": 1},
				ServerVersion: map[string]any{"k": 2},
			},
			DependsOn: 5,
		},
	})

	require.Len(t, results, 3)
	assert.Equal(t, models.StrategyAutoMerge, results[0].Strategy)

	// base {status: present, room: A1}: only the server changed status and
	// only the local side changed room
	assert.Equal(t, models.StrategyThreeWayMerge, results[1].Strategy)
	assert.Equal(t, map[string]any{"status": "absent", "room": "C3"}, results[1].ResolvedData)

	assert.Equal(t, models.StrategyManual, results[2].Strategy)
}

func TestParseConflict(t *testing.T) {
	op := models.SyncOperation{
		ID:       "op-1",
		Type:     models.OperationStatusUpdate,
		Endpoint: "/api/attendance/att-1",
		Data:     json.RawMessage(`{"id":"att-1","status":"present"}`),
	}

	t.Run("full body", func(t *testing.T) {
		c := ParseConflict(op, []byte(`{"server_data":{"status":"absent"},"local_data":{"status":"present"},"conflict_fields":["status"]}`), detected)

		assert.Equal(t, models.OperationStatusUpdate, c.Type)
		assert.Equal(t, map[string]any{"status": "absent"}, c.ServerVersion)
		assert.Equal(t, map[string]any{"status": "present"}, c.LocalVersion)
		assert.Equal(t, []string{"status"}, c.ConflictFields)
		assert.Equal(t, "/api/attendance/att-1", c.EntityID)
		assert.Equal(t, detected, c.Timestamp)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := ParseConflict(op, []byte(`<html>conflict</html>`), detected)

		assert.Empty(t, c.ServerVersion)
		assert.NotNil(t, c.ServerVersion)
		assert.Equal(t, "present", c.LocalVersion["status"])
		assert.Equal(t, "att-1", c.EntityID)
		assert.Equal(t, []string{"id", "status"}, c.ConflictFields)
	})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/models"
)

// Store is the part of the durable store the processor drives.
// *store.DurableStore satisfies it.
type Store interface {
	AddOperation(ctx context.Context, req models.OperationRequest) (string, error)
	GetPendingOperations(ctx context.Context) ([]models.SyncOperation, error)
	GetOperation(ctx context.Context, id string) (models.SyncOperation, error)
	UpdateOperation(ctx context.Context, id string, patch models.OperationPatch) (models.SyncOperation, error)
	RemoveOperation(ctx context.Context, id string) error
	RetryFailed(ctx context.Context, id string) error
	RecoverProcessing(ctx context.Context) (int, error)
	StoreRawRecord(ctx context.Context, id string, data json.RawMessage, ttl time.Duration) error
	SetLastSync(ctx context.Context, t time.Time) error
}

// Network is the network monitor as seen by the processor.
// *network.Monitor satisfies it.
type Network interface {
	State() models.NetworkState
	Recommendations() models.QualityRecommendations
	RecordRequest(rtt time.Duration, success bool)
	OnConnectivityChange(h func(online bool)) events.Disposer
}

// ConflictResolver turns a detected conflict into a resolution.
// *resolver.Resolver satisfies it.
type ConflictResolver interface {
	ResolveConflict(c models.ConflictData) models.ResolutionResult
}

// ConflictHandler is asked to settle a conflict before the resolver's own
// result is considered. Returning ok=true supplies the data the operation is
// retried with; the first handler to do so wins.
type ConflictHandler func(ctx context.Context, op models.SyncOperation, conflict models.ConflictData) (data map[string]any, ok bool)

// ConflictEvent is published after every 409 has been handled.
type ConflictEvent struct {
	Operation  models.SyncOperation
	Conflict   models.ConflictData
	Resolution models.ResolutionResult
	// Applied is true when the operation was updated for retry; false when it
	// waits for a user decision.
	Applied bool
	// ResolvedBy is "handler", "resolver" or empty when nothing applied.
	ResolvedBy string
}

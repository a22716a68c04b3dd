package coordinator

import (
	"context"

	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/internal/processor"
	"github.com/MKhiriev/go-offline-sync/models"
)

// Network is the part of the network monitor the coordinator observes.
type Network interface {
	State() models.NetworkState
	OnNetworkChange(h func(current, previous models.NetworkInfo)) events.Disposer
}

// Processor is the part of the sync processor the coordinator observes and
// drives.
type Processor interface {
	Status() models.SyncStatus
	Progress() models.SyncProgress
	StartSync(ctx context.Context, force bool) (models.SyncResult, error)
	ResumeSync(ctx context.Context) (models.SyncResult, error)
	ResolveOperation(ctx context.Context, id string, data map[string]any) error
	DiscardOperation(ctx context.Context, id string) error

	OnProgress(h func(models.SyncProgress)) events.Disposer
	OnComplete(h func(models.SyncResult)) events.Disposer
	OnError(h func(models.SyncError)) events.Disposer
	OnStatusChange(h func(models.SyncStatus)) events.Disposer
	OnConflictResolved(h func(processor.ConflictEvent)) events.Disposer
	OnQueued(h func(id string)) events.Disposer
}

// Store reports queue counts.
type Store interface {
	GetCacheStats(ctx context.Context) (models.CacheStats, error)
}

// Backlog reports work not yet handed to the processor, such as the
// progressive scheduler's backlog.
type Backlog interface {
	Pending() int
}

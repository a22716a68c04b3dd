// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package tui

import (
	"context"

	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/models"
)

// Coordinator is the state source and the actions the view offers.
type Coordinator interface {
	State() models.SyncState
	OnStateChange(h func(models.SyncState)) events.Disposer
	SyncNow(ctx context.Context) (models.SyncResult, error)
	ResolveConflict(ctx context.Context, operationID string, data map[string]any) error
	DiscardConflict(ctx context.Context, operationID string) error
}

// ProgressiveStatus reports chunk progress of the progressive scheduler.
type ProgressiveStatus interface {
	Status() models.ProgressiveStatus
}

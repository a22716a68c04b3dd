// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package progressive

import (
	"context"

	"github.com/MKhiriev/go-offline-sync/models"
)

// Processor is the execution engine chunks are handed to.
//
//go:generate mockgen -source=interfaces.go -destination=../mock/sync_processor_mock.go -package=mock
type Processor interface {
	QueueOperation(ctx context.Context, req models.OperationRequest) (string, error)
	StartSync(ctx context.Context, force bool) (models.SyncResult, error)
}

// Network is the link assessment the scheduler sizes and paces chunks by.
type Network interface {
	Current() models.NetworkInfo
	Recommendations() models.QualityRecommendations
}

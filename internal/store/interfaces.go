// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"

	"github.com/MKhiriev/go-offline-sync/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/store_backend_mock.go -package=mock

// Backend is the persistence contract shared by the SQLite backend and the
// file fallback. Both must return identical results for identical calls:
// ListOperations orders by priority descending, then timestamp ascending,
// then id ascending.
//
// Backends translate storage-full conditions into an error wrapping
// [ErrQuotaExceeded].
type Backend interface {
	// PutOperation inserts op or replaces the stored operation with the same id.
	PutOperation(ctx context.Context, op models.SyncOperation) error
	// GetOperation returns [ErrOperationNotFound] when id is unknown.
	GetOperation(ctx context.Context, id string) (models.SyncOperation, error)
	// ListOperations returns operations in any of statuses, or all of them
	// when statuses is empty.
	ListOperations(ctx context.Context, statuses ...models.OperationStatus) ([]models.SyncOperation, error)
	// CountOperations counts operations with the given status.
	CountOperations(ctx context.Context, status models.OperationStatus) (int, error)
	// DeleteOperation removes id. Unknown ids are not an error.
	DeleteOperation(ctx context.Context, id string) error

	// PutRecord inserts or replaces a cached record.
	PutRecord(ctx context.Context, item models.StorageItem) error
	// GetRecord returns [ErrRecordNotFound] when id is unknown. Expiry is not
	// checked here.
	GetRecord(ctx context.Context, id string) (models.StorageItem, error)
	// DeleteExpiredRecords removes records whose deadline is at or before nowMillis.
	DeleteExpiredRecords(ctx context.Context, nowMillis int64) (int64, error)
	// RecordStats reports count and payload size of records live at nowMillis.
	RecordStats(ctx context.Context, nowMillis int64) (int, int64, error)

	// SetMeta stores a metadata value.
	SetMeta(ctx context.Context, key, value string) error
	// GetMeta returns ok=false when key is unset.
	GetMeta(ctx context.Context, key string) (string, bool, error)

	// Clear removes every operation, record and metadata entry.
	Clear(ctx context.Context) error
	Close() error
}

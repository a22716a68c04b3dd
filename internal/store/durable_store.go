// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/internal/utils"
	"github.com/MKhiriev/go-offline-sync/models"
)

const metaLastSync = "last_sync"

// DurableStore owns the persisted sync queue, cached records and metadata.
// Every other component works on copies obtained through it.
//
// Read-modify-write sequences (UpdateOperation, RetryFailed, record
// versioning) are serialized by a store-wide mutex, so concurrent writers to
// the same id resolve as last caller wins.
type DurableStore struct {
	backend Backend
	clock   clock.Clock
	ids     utils.IDGenerator

	mu     sync.Mutex
	logger *logger.Logger
}

// NewDurableStore wraps backend. A nil clk or ids falls back to the real
// clock and UUIDv7 ids.
func NewDurableStore(backend Backend, clk clock.Clock, ids utils.IDGenerator, log *logger.Logger) *DurableStore {
	if clk == nil {
		clk = clock.New()
	}
	if ids == nil {
		ids = utils.NewUUIDGenerator()
	}
	if log == nil {
		log = logger.Nop()
	}

	return &DurableStore{
		backend: backend,
		clock:   clk,
		ids:     ids,
		logger:  log.WithComponent("store"),
	}
}

// Open selects and initialises the backend named by cfg.Backend:
//   - "sqlite" opens cfg.DSN, creating the file if needed, and migrates it;
//   - "file" loads the JSON file at cfg.FilePath.
//
// Returns an error wrapping [ErrUnknownBackend] for any other name.
func Open(ctx context.Context, cfg config.Store, clk clock.Clock, log *logger.Logger) (*DurableStore, error) {
	var backend Backend

	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := NewConnectSQLite(ctx, cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite connection error: %w", err)
		}
		if err = db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		backend = NewSQLiteBackend(db, log)
	case config.BackendFile:
		fb, err := NewFileBackend(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("file store error: %w", err)
		}
		backend = fb
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	log.Info().Str("func", "store.Open").Str("backend", cfg.Backend).Msg("durable store opened")
	return NewDurableStore(backend, clk, nil, log), nil
}

// AddOperation queues req as a new pending operation and returns its id.
//
// A storage-full condition is logged and swallowed: the id is returned with
// a nil error, although the operation was not persisted.
func (s *DurableStore) AddOperation(ctx context.Context, req models.OperationRequest) (string, error) {
	op := models.SyncOperation{
		ID:           s.ids.Generate(),
		Type:         req.Type,
		Endpoint:     req.Endpoint,
		Method:       req.Method,
		Data:         req.Data,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
		Timestamp:    s.clock.Now().UnixMilli(),
		RetryCount:   0,
		Status:       models.StatusPending,
	}

	if err := s.backend.PutOperation(ctx, op); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.logger.Warn().
				Err(err).
				Str("func", "DurableStore.AddOperation").
				Str("operation_id", op.ID).
				Str("type", op.Type).
				Msg("storage quota exceeded, operation not persisted")
			return op.ID, nil
		}
		s.logger.Err(err).
			Str("func", "DurableStore.AddOperation").
			Str("operation_id", op.ID).
			Msg("failed to queue operation")
		return "", fmt.Errorf("failed to queue operation: %w", err)
	}

	s.logger.Debug().
		Str("func", "DurableStore.AddOperation").
		Str("operation_id", op.ID).
		Str("type", op.Type).
		Int("priority", op.Priority).
		Msg("operation queued")
	return op.ID, nil
}

// GetPendingOperations returns pending operations ordered by priority
// descending, then timestamp ascending.
func (s *DurableStore) GetPendingOperations(ctx context.Context) ([]models.SyncOperation, error) {
	return s.backend.ListOperations(ctx, models.StatusPending)
}

// GetFailedOperations returns operations retained in the failed state.
func (s *DurableStore) GetFailedOperations(ctx context.Context) ([]models.SyncOperation, error) {
	return s.backend.ListOperations(ctx, models.StatusFailed)
}

// GetOperation returns the operation with id or an error wrapping
// [ErrOperationNotFound].
func (s *DurableStore) GetOperation(ctx context.Context, id string) (models.SyncOperation, error) {
	return s.backend.GetOperation(ctx, id)
}

// UpdateOperation applies patch to the stored operation and returns the
// updated copy.
func (s *DurableStore) UpdateOperation(ctx context.Context, id string, patch models.OperationPatch) (models.SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.backend.GetOperation(ctx, id)
	if err != nil {
		return models.SyncOperation{}, err
	}

	updated := patch.Apply(op)
	if err = s.backend.PutOperation(ctx, updated); err != nil {
		s.logger.Err(err).
			Str("func", "DurableStore.UpdateOperation").
			Str("operation_id", id).
			Msg("failed to update operation")
		return models.SyncOperation{}, fmt.Errorf("failed to update operation %s: %w", id, err)
	}
	return updated, nil
}

// RemoveOperation deletes id from the queue. Unknown ids are ignored.
func (s *DurableStore) RemoveOperation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.DeleteOperation(ctx, id); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", id, err)
	}
	return nil
}

// RetryFailed moves a failed operation back to pending with a fresh retry
// budget.
func (s *DurableStore) RetryFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.backend.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != models.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrOperationNotFailed, id, op.Status)
	}

	op.Status = models.StatusPending
	op.RetryCount = 0
	op.LastError = ""
	return s.backend.PutOperation(ctx, op)
}

// RecoverProcessing returns operations left in the processing state by an
// interrupted run to pending and reports how many were moved.
func (s *DurableStore) RecoverProcessing(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stuck, err := s.backend.ListOperations(ctx, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list processing operations: %w", err)
	}

	for _, op := range stuck {
		op.Status = models.StatusPending
		if err = s.backend.PutOperation(ctx, op); err != nil {
			return 0, fmt.Errorf("failed to recover operation %s: %w", op.ID, err)
		}
	}

	if len(stuck) > 0 {
		s.logger.Info().
			Str("func", "DurableStore.RecoverProcessing").
			Int("recovered", len(stuck)).
			Msg("interrupted operations returned to the queue")
	}
	return len(stuck), nil
}

// StoreRawRecord caches data under id. A positive ttl sets an absolute
// expiry. Re-storing an id bumps its version. A storage-full condition is
// logged and swallowed.
func (s *DurableStore) StoreRawRecord(ctx context.Context, id string, data json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	item := models.StorageItem{
		ID:        id,
		Data:      data,
		Timestamp: now.UnixMilli(),
		Version:   1,
	}
	if ttl > 0 {
		item.Expires = now.Add(ttl).UnixMilli()
	}

	prev, err := s.backend.GetRecord(ctx, id)
	switch {
	case err == nil:
		item.Version = prev.Version + 1
	case !errors.Is(err, ErrRecordNotFound):
		return err
	}

	if err = s.backend.PutRecord(ctx, item); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.logger.Warn().
				Err(err).
				Str("func", "DurableStore.StoreRawRecord").
				Str("record_id", id).
				Msg("storage quota exceeded, record not cached")
			return nil
		}
		return fmt.Errorf("failed to store record %s: %w", id, err)
	}
	return nil
}

// GetRawRecord returns the cached record with id. ok is false when the
// record is missing or expired.
func (s *DurableStore) GetRawRecord(ctx context.Context, id string) (models.StorageItem, bool, error) {
	item, err := s.backend.GetRecord(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return models.StorageItem{}, false, nil
	}
	if err != nil {
		return models.StorageItem{}, false, err
	}
	if item.Expired(s.clock.Now()) {
		return models.StorageItem{}, false, nil
	}
	return item, true, nil
}

// GetCacheStats summarises live records, queue counts and the last sync time.
func (s *DurableStore) GetCacheStats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	var err error

	stats.TotalItems, stats.TotalSize, err = s.backend.RecordStats(ctx, s.clock.Now().UnixMilli())
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("record stats: %w", err)
	}
	if stats.PendingOperations, err = s.backend.CountOperations(ctx, models.StatusPending); err != nil {
		return models.CacheStats{}, fmt.Errorf("pending count: %w", err)
	}
	if stats.FailedOperations, err = s.backend.CountOperations(ctx, models.StatusFailed); err != nil {
		return models.CacheStats{}, fmt.Errorf("failed count: %w", err)
	}

	raw, ok, err := s.backend.GetMeta(ctx, metaLastSync)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("last sync: %w", err)
	}
	if ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			t := time.UnixMilli(ms)
			stats.LastSync = &t
		}
	}

	return stats, nil
}

// SetLastSync records the completion time of a sync pass.
func (s *DurableStore) SetLastSync(ctx context.Context, t time.Time) error {
	return s.backend.SetMeta(ctx, metaLastSync, strconv.FormatInt(t.UnixMilli(), 10))
}

// ClearExpired purges records whose deadline has passed and returns how many
// were removed.
func (s *DurableStore) ClearExpired(ctx context.Context) (int64, error) {
	n, err := s.backend.DeleteExpiredRecords(ctx, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired records: %w", err)
	}
	if n > 0 {
		s.logger.Debug().Str("func", "DurableStore.ClearExpired").Int64("removed", n).Msg("expired records purged")
	}
	return n, nil
}

// ClearAll removes every operation, record and metadata entry.
func (s *DurableStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.Clear(ctx)
}

// Close releases the backend.
func (s *DurableStore) Close() error {
	return s.backend.Close()
}

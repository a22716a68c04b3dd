package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"

	"github.com/MKhiriev/go-offline-sync/models"
)

// fileBackend is the key-value fallback. The whole state lives in memory and
// is rewritten to a single JSON file after every mutation. Queries are linear
// scans followed by a sort.
type fileBackend struct {
	path     string
	inMemory bool

	mu    sync.RWMutex
	state filePersistedState
}

type filePersistedState struct {
	Operations map[string]models.SyncOperation `json:"operations"`
	Records    map[string]models.StorageItem   `json:"records"`
	Meta       map[string]string               `json:"meta"`
}

// NewFileBackend opens (or creates) the JSON file at path. An empty path or
// ":memory:" keeps everything in memory.
func NewFileBackend(path string) (Backend, error) {
	if path == "" {
		path = ":memory:"
	}

	b := &fileBackend{
		path:     path,
		inMemory: path == ":memory:" || path == "memory",
		state:    emptyState(),
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func emptyState() filePersistedState {
	return filePersistedState{
		Operations: make(map[string]models.SyncOperation),
		Records:    make(map[string]models.StorageItem),
		Meta:       make(map[string]string),
	}
}

func (f *fileBackend) load() error {
	if f.inMemory {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read local storage file: %w", err)
	}

	st := emptyState()
	if err = json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode local storage file: %w", err)
	}
	if st.Operations == nil {
		st.Operations = make(map[string]models.SyncOperation)
	}
	if st.Records == nil {
		st.Records = make(map[string]models.StorageItem)
	}
	if st.Meta == nil {
		st.Meta = make(map[string]string)
	}

	f.state = st
	return nil
}

func (f *fileBackend) persist() error {
	if f.inMemory {
		return nil
	}

	dir := filepath.Dir(f.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create local storage dir: %w", mapFileError(err))
		}
	}

	payload, err := json.Marshal(f.state)
	if err != nil {
		return fmt.Errorf("encode local storage: %w", err)
	}

	tmp := f.path + ".tmp"
	if err = os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write local storage file: %w", mapFileError(err))
	}
	if err = os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace local storage file: %w", mapFileError(err))
	}

	return nil
}

// mutate applies change, persists, and reverts the in-memory state when the
// write fails.
func (f *fileBackend) mutate(change func(st *filePersistedState) (undo func())) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	undo := change(&f.state)
	if err := f.persist(); err != nil {
		undo()
		return err
	}
	return nil
}

func mapFileError(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return err
}

func (f *fileBackend) PutOperation(_ context.Context, op models.SyncOperation) error {
	op = op.Clone()
	return f.mutate(func(st *filePersistedState) func() {
		prev, existed := st.Operations[op.ID]
		st.Operations[op.ID] = op
		return func() {
			if existed {
				st.Operations[op.ID] = prev
			} else {
				delete(st.Operations, op.ID)
			}
		}
	})
}

func (f *fileBackend) GetOperation(_ context.Context, id string) (models.SyncOperation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	op, ok := f.state.Operations[id]
	if !ok {
		return models.SyncOperation{}, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	return op.Clone(), nil
}

func (f *fileBackend) ListOperations(_ context.Context, statuses ...models.OperationStatus) ([]models.SyncOperation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ops := make([]models.SyncOperation, 0, len(f.state.Operations))
	for _, op := range f.state.Operations {
		if len(statuses) > 0 && !slices.Contains(statuses, op.Status) {
			continue
		}
		ops = append(ops, op.Clone())
	}

	slices.SortFunc(ops, compareQueueOrder)
	return ops, nil
}

// compareQueueOrder sorts by priority desc, timestamp asc, id asc.
func compareQueueOrder(a, b models.SyncOperation) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func (f *fileBackend) CountOperations(_ context.Context, status models.OperationStatus) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := 0
	for _, op := range f.state.Operations {
		if op.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fileBackend) DeleteOperation(_ context.Context, id string) error {
	return f.mutate(func(st *filePersistedState) func() {
		prev, existed := st.Operations[id]
		delete(st.Operations, id)
		return func() {
			if existed {
				st.Operations[id] = prev
			}
		}
	})
}

func (f *fileBackend) PutRecord(_ context.Context, item models.StorageItem) error {
	item.Data = append(json.RawMessage(nil), item.Data...)
	return f.mutate(func(st *filePersistedState) func() {
		prev, existed := st.Records[item.ID]
		st.Records[item.ID] = item
		return func() {
			if existed {
				st.Records[item.ID] = prev
			} else {
				delete(st.Records, item.ID)
			}
		}
	})
}

func (f *fileBackend) GetRecord(_ context.Context, id string) (models.StorageItem, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	item, ok := f.state.Records[id]
	if !ok {
		return models.StorageItem{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	item.Data = append(json.RawMessage(nil), item.Data...)
	return item, nil
}

func (f *fileBackend) DeleteExpiredRecords(_ context.Context, nowMillis int64) (int64, error) {
	var removed int64
	err := f.mutate(func(st *filePersistedState) func() {
		gone := make(map[string]models.StorageItem)
		for id, item := range st.Records {
			if item.Expires > 0 && item.Expires <= nowMillis {
				gone[id] = item
				delete(st.Records, id)
			}
		}
		removed = int64(len(gone))
		return func() {
			for id, item := range gone {
				st.Records[id] = item
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (f *fileBackend) RecordStats(_ context.Context, nowMillis int64) (int, int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var count int
	var size int64
	for _, item := range f.state.Records {
		if item.Expires > 0 && item.Expires <= nowMillis {
			continue
		}
		count++
		size += int64(len(item.Data))
	}
	return count, size, nil
}

func (f *fileBackend) SetMeta(_ context.Context, key, value string) error {
	return f.mutate(func(st *filePersistedState) func() {
		prev, existed := st.Meta[key]
		st.Meta[key] = value
		return func() {
			if existed {
				st.Meta[key] = prev
			} else {
				delete(st.Meta, key)
			}
		}
	})
}

func (f *fileBackend) GetMeta(_ context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.state.Meta[key]
	return v, ok, nil
}

func (f *fileBackend) Clear(_ context.Context) error {
	return f.mutate(func(st *filePersistedState) func() {
		prev := *st
		*st = emptyState()
		return func() { *st = prev }
	})
}

func (f *fileBackend) Close() error {
	return nil
}

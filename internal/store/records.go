package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StoreRecord encodes v as JSON and caches it under id.
func StoreRecord[T any](ctx context.Context, s *DurableStore, id string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	return s.StoreRawRecord(ctx, id, data, ttl)
}

// GetRecord decodes the cached record with id into T. ok is false when the
// record is missing or expired.
func GetRecord[T any](ctx context.Context, s *DurableStore, id string) (T, bool, error) {
	var v T

	item, ok, err := s.GetRawRecord(ctx, id)
	if err != nil || !ok {
		return v, false, err
	}
	if err = json.Unmarshal(item.Data, &v); err != nil {
		return v, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return v, true, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	tableSyncQueue = "sync_queue"
	tableRecords   = "records"
	tableMetadata  = "metadata"
)

var operationColumns = []string{
	"id", "type", "endpoint", "method", "data", "priority", "dependencies",
	"timestamp", "retry_count", "status", "last_error", "awaiting_resolution",
}

var recordColumns = []string{"id", "data", "timestamp", "expires", "version"}

type sqliteBackend struct {
	*DB
	builder sq.StatementBuilderType
	logger  *logger.Logger
}

// NewSQLiteBackend returns the preferred [Backend], backed by a migrated
// SQLite database.
func NewSQLiteBackend(db *DB, log *logger.Logger) Backend {
	return &sqliteBackend{
		DB:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger:  log,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqliteBackend) exec(ctx context.Context, funcName string, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		err = mapSQLiteError(err)
		s.logger.Err(err).Str("func", funcName).Msg("failed to execute statement")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return res, nil
}

func (s *sqliteBackend) PutOperation(ctx context.Context, op models.SyncOperation) error {
	deps, err := json.Marshal(nonNilDeps(op.Dependencies))
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}

	insert := s.builder.Insert(tableSyncQueue).
		Options("OR REPLACE").
		Columns(operationColumns...).
		Values(
			op.ID, op.Type, op.Endpoint, op.Method, []byte(op.Data), op.Priority, string(deps),
			op.Timestamp, op.RetryCount, string(op.Status), op.LastError, op.AwaitingResolution,
		)

	_, err = s.exec(ctx, "sqliteBackend.PutOperation", insert)
	return err
}

func (s *sqliteBackend) GetOperation(ctx context.Context, id string) (models.SyncOperation, error) {
	query, args, err := s.builder.Select(operationColumns...).
		From(tableSyncQueue).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.SyncOperation{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	op, err := scanOperation(s.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncOperation{}, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	if err != nil {
		s.logger.Err(err).
			Str("func", "sqliteBackend.GetOperation").
			Str("operation_id", id).
			Msg("failed to scan operation row")
		return models.SyncOperation{}, err
	}
	return op, nil
}

func (s *sqliteBackend) ListOperations(ctx context.Context, statuses ...models.OperationStatus) ([]models.SyncOperation, error) {
	sel := s.builder.Select(operationColumns...).
		From(tableSyncQueue).
		OrderBy("priority DESC", "timestamp ASC", "id ASC")
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, st := range statuses {
			values = append(values, string(st))
		}
		sel = sel.Where(sq.Eq{"status": values})
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Err(err).Str("func", "sqliteBackend.ListOperations").Msg("failed to query operations")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	ops := make([]models.SyncOperation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return ops, nil
}

func (s *sqliteBackend) CountOperations(ctx context.Context, status models.OperationStatus) (int, error) {
	query, args, err := s.builder.Select("COUNT(*)").
		From(tableSyncQueue).
		Where(sq.Eq{"status": string(status)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var n int
	if err = s.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return n, nil
}

func (s *sqliteBackend) DeleteOperation(ctx context.Context, id string) error {
	_, err := s.exec(ctx, "sqliteBackend.DeleteOperation",
		s.builder.Delete(tableSyncQueue).Where(sq.Eq{"id": id}))
	return err
}

func (s *sqliteBackend) PutRecord(ctx context.Context, item models.StorageItem) error {
	insert := s.builder.Insert(tableRecords).
		Options("OR REPLACE").
		Columns(recordColumns...).
		Values(item.ID, []byte(item.Data), item.Timestamp, item.Expires, item.Version)

	_, err := s.exec(ctx, "sqliteBackend.PutRecord", insert)
	return err
}

func (s *sqliteBackend) GetRecord(ctx context.Context, id string) (models.StorageItem, error) {
	query, args, err := s.builder.Select(recordColumns...).
		From(tableRecords).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.StorageItem{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var item models.StorageItem
	var data []byte
	err = s.DB.QueryRowContext(ctx, query, args...).
		Scan(&item.ID, &data, &item.Timestamp, &item.Expires, &item.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StorageItem{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return models.StorageItem{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	item.Data = data

	return item, nil
}

func (s *sqliteBackend) DeleteExpiredRecords(ctx context.Context, nowMillis int64) (int64, error) {
	res, err := s.exec(ctx, "sqliteBackend.DeleteExpiredRecords",
		s.builder.Delete(tableRecords).Where(sq.And{
			sq.Gt{"expires": 0},
			sq.LtOrEq{"expires": nowMillis},
		}))
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return n, nil
}

func (s *sqliteBackend) RecordStats(ctx context.Context, nowMillis int64) (int, int64, error) {
	query, args, err := s.builder.Select("COUNT(*)", "COALESCE(SUM(LENGTH(data)), 0)").
		From(tableRecords).
		Where(sq.Or{
			sq.Eq{"expires": 0},
			sq.Gt{"expires": nowMillis},
		}).
		ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var count int
	var size int64
	if err = s.DB.QueryRowContext(ctx, query, args...).Scan(&count, &size); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return count, size, nil
}

func (s *sqliteBackend) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, "sqliteBackend.SetMeta",
		s.builder.Insert(tableMetadata).
			Options("OR REPLACE").
			Columns("key", "value").
			Values(key, value))
	return err
}

func (s *sqliteBackend) GetMeta(ctx context.Context, key string) (string, bool, error) {
	query, args, err := s.builder.Select("value").
		From(tableMetadata).
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var value string
	err = s.DB.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return value, true, nil
}

func (s *sqliteBackend) Clear(ctx context.Context) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	for _, table := range []string{tableSyncQueue, tableRecords, tableMetadata} {
		query, args, err := s.builder.Delete(table).ToSql()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			s.logger.Err(err).
				Str("func", "sqliteBackend.Clear").
				Str("table", table).
				Msg("failed to clear table")
			return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	return nil
}

func (s *sqliteBackend) Close() error {
	return s.DB.Close()
}

func scanOperation(row rowScanner) (models.SyncOperation, error) {
	var op models.SyncOperation
	var data []byte
	var deps, status string

	err := row.Scan(
		&op.ID,
		&op.Type,
		&op.Endpoint,
		&op.Method,
		&data,
		&op.Priority,
		&deps,
		&op.Timestamp,
		&op.RetryCount,
		&status,
		&op.LastError,
		&op.AwaitingResolution,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncOperation{}, err
	}
	if err != nil {
		return models.SyncOperation{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	if len(data) > 0 {
		op.Data = data
	}
	op.Status = models.OperationStatus(status)
	if err = json.Unmarshal([]byte(deps), &op.Dependencies); err != nil {
		return models.SyncOperation{}, fmt.Errorf("%w: dependencies: %w", ErrScanningRow, err)
	}
	if len(op.Dependencies) == 0 {
		op.Dependencies = nil
	}

	return op, nil
}

func nonNilDeps(deps []string) []string {
	if deps == nil {
		return []string{}
	}
	return deps
}

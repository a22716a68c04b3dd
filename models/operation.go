// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"encoding/json"
	"time"
)

// OperationStatus is the lifecycle state of a queued [SyncOperation].
type OperationStatus string

const (
	// StatusPending marks an operation visible to the sync processor.
	StatusPending OperationStatus = "pending"
	// StatusProcessing marks an operation currently being dispatched.
	StatusProcessing OperationStatus = "processing"
	// StatusCompleted is transient: completed operations are deleted from the queue.
	StatusCompleted OperationStatus = "completed"
	// StatusFailed marks an operation that exhausted its retries or hit a
	// permanent client error. It is kept for diagnostics and manual retry.
	StatusFailed OperationStatus = "failed"
)

// Well-known operation types. The set is open-ended; any string is accepted.
const (
	OperationStatusUpdate = "status_update"
	OperationCheckIn      = "check_in"
	OperationBulk         = "bulk_operation"
)

// SyncOperation is the unit of deferred work stored in the sync queue.
type SyncOperation struct {
	// ID is assigned by the store when the operation is queued.
	ID string `json:"id"`

	// Type tags the domain action (e.g. "status_update", "check_in").
	Type string `json:"type"`

	// Endpoint is the remote path the operation is sent to.
	Endpoint string `json:"endpoint"`

	// Method is one of POST, PUT, PATCH, DELETE.
	Method string `json:"method"`

	// Data is the opaque JSON payload of the call.
	Data json.RawMessage `json:"data,omitempty"`

	// Priority orders processing: higher first.
	Priority int `json:"priority"`

	// Dependencies lists operation ids that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Timestamp is the creation time in epoch milliseconds. Breaks priority ties, oldest first.
	Timestamp int64 `json:"timestamp"`

	// RetryCount is the number of attempts made so far.
	RetryCount int `json:"retry_count"`

	Status OperationStatus `json:"status"`

	// LastError keeps the most recent failure reason for diagnostics.
	LastError string `json:"last_error,omitempty"`

	// AwaitingResolution is set when a conflict needs a user decision.
	// The processor skips such operations until the flag is cleared.
	AwaitingResolution bool `json:"awaiting_resolution,omitempty"`
}

// IsReady reports whether the processor may pick the operation up.
func (o SyncOperation) IsReady() bool {
	return o.Status == StatusPending && !o.AwaitingResolution
}

// Clone returns a deep copy of o.
func (o SyncOperation) Clone() SyncOperation {
	if o.Data != nil {
		o.Data = append(json.RawMessage(nil), o.Data...)
	}
	if o.Dependencies != nil {
		o.Dependencies = append([]string(nil), o.Dependencies...)
	}
	return o
}

// OperationRequest is a SyncOperation without the store-assigned fields.
type OperationRequest struct {
	Type         string          `json:"type"`
	Endpoint     string          `json:"endpoint"`
	Method       string          `json:"method"`
	Data         json.RawMessage `json:"data,omitempty"`
	Priority     int             `json:"priority"`
	Dependencies []string        `json:"dependencies,omitempty"`
}

// OperationPatch holds the fields of a partial operation update.
// Only non-nil fields are applied.
type OperationPatch struct {
	Data               json.RawMessage
	Status             *OperationStatus
	RetryCount         *int
	LastError          *string
	AwaitingResolution *bool
	Priority           *int
}

// Apply returns op with the non-nil patch fields written over it.
func (p OperationPatch) Apply(op SyncOperation) SyncOperation {
	if p.Data != nil {
		op.Data = append(json.RawMessage(nil), p.Data...)
	}
	if p.Status != nil {
		op.Status = *p.Status
	}
	if p.RetryCount != nil {
		op.RetryCount = *p.RetryCount
	}
	if p.LastError != nil {
		op.LastError = *p.LastError
	}
	if p.AwaitingResolution != nil {
		op.AwaitingResolution = *p.AwaitingResolution
	}
	if p.Priority != nil {
		op.Priority = *p.Priority
	}
	return op
}

// StorageItem is the envelope for cached domain records.
type StorageItem struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	// Expires is an absolute epoch-millisecond deadline; zero means never.
	Expires int64 `json:"expires,omitempty"`
	Version int64 `json:"version"`
}

// Expired reports whether the item is past its deadline at now.
func (s StorageItem) Expired(now time.Time) bool {
	return s.Expires > 0 && now.UnixMilli() >= s.Expires
}

// CacheStats summarises the contents of the durable store.
type CacheStats struct {
	TotalItems        int        `json:"total_items"`
	TotalSize         int64      `json:"total_size"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
	PendingOperations int        `json:"pending_operations"`
	FailedOperations  int        `json:"failed_operations"`
}

package models

import "time"

// SyncStatus is the state of the sync processor.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncPaused  SyncStatus = "paused"
	SyncErrored SyncStatus = "error"
)

// SyncProgress is published while a sync pass runs.
type SyncProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
	// Skipped counts operations left pending: waiting on a dependency or a
	// user decision, or interrupted.
	Skipped int `json:"skipped"`
	// CurrentBatch is 1-based; zero before the first batch.
	CurrentBatch int `json:"current_batch"`
	TotalBatches int `json:"total_batches"`
}

// Percent returns the share of finished operations in [0, 100].
func (p SyncProgress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed+p.Failed+p.Conflicts+p.Skipped) / float64(p.Total) * 100
}

// SyncResult summarises a finished (or paused) sync pass.
type SyncResult struct {
	Processed int           `json:"processed"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Skipped   int           `json:"skipped"`
	Paused    bool          `json:"paused"`
	Duration  time.Duration `json:"duration"`
}

// SyncErrorKind classifies errors surfaced through listeners.
type SyncErrorKind string

const (
	ErrorKindClient     SyncErrorKind = "client_error"
	ErrorKindExhausted  SyncErrorKind = "retries_exhausted"
	ErrorKindDependency SyncErrorKind = "dependency_failed"
	ErrorKindStorage    SyncErrorKind = "storage"
	ErrorKindPaused     SyncErrorKind = "paused"
)

// SyncError is an operation-level failure surfaced to listeners.
type SyncError struct {
	OperationID string        `json:"operation_id,omitempty"`
	Kind        SyncErrorKind `json:"kind"`
	Message     string        `json:"message"`
	StatusCode  int           `json:"status_code,omitempty"`
}

func (e SyncError) Error() string {
	if e.OperationID == "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind) + " (" + e.OperationID + "): " + e.Message
}

// SyncChunk is a bundle of operations sized for the current network.
// Chunks are rebuilt on every scheduling pass and never persisted.
type SyncChunk struct {
	ID                string             `json:"id"`
	Operations        []OperationRequest `json:"operations"`
	Priority          int                `json:"priority"`
	EstimatedBytes    int64              `json:"estimated_bytes"`
	EstimatedDuration time.Duration      `json:"estimated_duration"`
	CompressionRatio  float64            `json:"compression_ratio"`
	Dependencies      []string           `json:"dependencies,omitempty"`
	RetryCount        int                `json:"retry_count"`
}

// AdaptiveMetrics exposes what the progressive scheduler learned.
type AdaptiveMetrics struct {
	OptimalChunkSize   int           `json:"optimal_chunk_size"`
	SampleCount        int           `json:"sample_count"`
	AverageSuccessRate float64       `json:"average_success_rate"`
	AverageDuration    time.Duration `json:"average_duration"`
	NetworkStatus      NetworkStatus `json:"network_status"`
	Interval           time.Duration `json:"interval"`
}

// ProgressiveStatus is recomputed from the scheduler's chunk bookkeeping on every call.
type ProgressiveStatus struct {
	TotalChunks      int     `json:"total_chunks"`
	CompletedChunks  int     `json:"completed_chunks"`
	FailedChunks     int     `json:"failed_chunks"`
	CurrentChunk     string  `json:"current_chunk,omitempty"`
	BytesTransferred int64   `json:"bytes_transferred"`
	TotalBytes       int64   `json:"total_bytes"`
	// CurrentSpeed is in bytes per second.
	CurrentSpeed           float64         `json:"current_speed"`
	EstimatedTimeRemaining time.Duration   `json:"estimated_time_remaining"`
	AdaptiveMetrics        AdaptiveMetrics `json:"adaptive_metrics"`
}

// SyncStatistics are the coordinator's running counters.
type SyncStatistics struct {
	TotalSynced         int           `json:"total_synced"`
	TotalFailed         int           `json:"total_failed"`
	TotalConflicts      int           `json:"total_conflicts"`
	AverageSyncDuration time.Duration `json:"average_sync_duration"`
	LastSyncAt          *time.Time    `json:"last_sync_at,omitempty"`
}

// SyncState is the combined snapshot republished by the coordinator.
type SyncState struct {
	IsOnline        bool             `json:"is_online"`
	NetworkStatus   NetworkStatus    `json:"network_status"`
	QualityScore    float64          `json:"quality_score"`
	SyncStatus      SyncStatus       `json:"sync_status"`
	Progress        SyncProgress     `json:"progress"`
	UnsyncedChanges int              `json:"unsynced_changes"`
	ActiveConflicts []ActiveConflict `json:"active_conflicts,omitempty"`
	Statistics      SyncStatistics   `json:"statistics"`
	NextSyncAt      *time.Time       `json:"next_sync_at,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
}

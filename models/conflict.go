// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "time"

// ResolutionStrategy names the algorithm that produced a ResolutionResult.
type ResolutionStrategy string

const (
	StrategyThreeWayMerge  ResolutionStrategy = "three_way_merge"
	StrategyLastWriterWins ResolutionStrategy = "last_writer_wins"
	StrategyAutoMerge      ResolutionStrategy = "auto_merge"
	StrategyManual         ResolutionStrategy = "manual"
	StrategyLocalWins      ResolutionStrategy = "local_wins"
	StrategyServerWins     ResolutionStrategy = "server_wins"
)

// ConflictData describes a divergence between a queued local change and
// the server's current record.
type ConflictData struct {
	// Type is the domain conflict category, usually the operation type.
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`

	LocalVersion  map[string]any `json:"local_version"`
	ServerVersion map[string]any `json:"server_version"`
	// BaseVersion is the last version both sides agreed on, when known.
	BaseVersion map[string]any `json:"base_version,omitempty"`

	Timestamp      time.Time `json:"timestamp"`
	ConflictFields []string  `json:"conflict_fields,omitempty"`
}

// FieldConflict records a field that could not be reconciled with high confidence.
type FieldConflict struct {
	Field       string `json:"field"`
	LocalValue  any    `json:"local_value"`
	ServerValue any    `json:"server_value"`
	// Chosen is "local" or "server": the side the value was taken from.
	Chosen string `json:"chosen"`
}

// ResolutionResult is the outcome of conflict resolution.
type ResolutionResult struct {
	Strategy          ResolutionStrategy `json:"strategy"`
	ResolvedData      map[string]any     `json:"resolved_data"`
	RequiresUserInput bool               `json:"requires_user_input"`
	Conflicts         []FieldConflict    `json:"conflicts,omitempty"`
	// Confidence is in [0, 1].
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// ActiveConflict is a conflict surfaced to presentation layers.
type ActiveConflict struct {
	OperationID string           `json:"operation_id"`
	Conflict    ConflictData     `json:"conflict"`
	Resolution  ResolutionResult `json:"resolution"`
	DetectedAt  time.Time        `json:"detected_at"`
}

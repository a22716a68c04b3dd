// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package resolver reconciles a queued local change with the server's
// current record after the remote endpoint reported a conflict.
//
// Strategy selection, in order:
//  1. a per-type override registered with SetStrategy;
//  2. auto-merge, when every diverging field is a known-safe pattern;
//  3. three-way merge, when a base version is known;
//  4. last-writer-wins on version timestamps;
//  5. manual, when nothing above applies.
//
// Resolution is a pure function of the ConflictData and the resolver's
// configuration, and never fails: unusable input produces a low-confidence
// manual result.
package resolver

import (
	"fmt"
	"sync"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/models"
)

// ConfidentThreshold is the confidence at and above which a result is
// applied without asking the user.
const ConfidentThreshold = 0.7

const defaultNoiseThreshold = 5 * time.Second

// Transition is a field change that never counts as a conflict when the
// local side moved the value from From to To while the server still shows
// From.
type Transition struct {
	Field string
	From  any
	To    any
}

// DefaultTransitions are the attendance status moves that share an intended
// end state with the server.
var DefaultTransitions = []Transition{
	{Field: "status", From: "absent", To: "present"},
	{Field: "status", From: "absent", To: "late"},
}

// Resolver produces ResolutionResults. It is safe for concurrent use.
type Resolver struct {
	noise       time.Duration
	transitions []Transition

	mu         sync.RWMutex
	strategies map[string]models.ResolutionStrategy

	logger *logger.Logger
}

// NewResolver builds a resolver with DefaultTransitions.
func NewResolver(cfg config.Resolver, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	noise := cfg.NoiseThreshold
	if noise <= 0 {
		noise = defaultNoiseThreshold
	}

	return &Resolver{
		noise:       noise,
		transitions: append([]Transition(nil), DefaultTransitions...),
		strategies:  make(map[string]models.ResolutionStrategy),
		logger:      log.WithComponent("resolver"),
	}
}

// AddTransition registers another known-safe field change.
func (r *Resolver) AddTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

// SetStrategy forces strategy for conflicts of conflictType.
func (r *Resolver) SetStrategy(conflictType string, strategy models.ResolutionStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[conflictType] = strategy
}

// ResolveConflict produces a resolution for c.
func (r *Resolver) ResolveConflict(c models.ConflictData) models.ResolutionResult {
	r.mu.RLock()
	forced, hasForced := r.strategies[c.Type]
	transitions := r.transitions
	r.mu.RUnlock()

	var res models.ResolutionResult
	switch {
	case hasForced:
		res = r.forced(forced, c, transitions)
	case len(c.LocalVersion) == 0 && len(c.ServerVersion) == 0:
		res = manual(c, "neither side carried a version to compare")
	case c.BaseVersion != nil:
		// a known base decides which side changed a field, deletions included
		res = threeWayMerge(c, transitions)
	default:
		var ok bool
		if res, ok = autoMerge(c, transitions); !ok {
			res = lastWriterWins(c, r.noise)
		}
	}

	r.logger.Debug().
		Str("func", "Resolver.ResolveConflict").
		Str("entity_id", c.EntityID).
		Str("type", c.Type).
		Str("strategy", string(res.Strategy)).
		Float64("confidence", res.Confidence).
		Bool("requires_user_input", res.RequiresUserInput).
		Msg("conflict resolved")
	return res
}

func (r *Resolver) forced(strategy models.ResolutionStrategy, c models.ConflictData, transitions []Transition) models.ResolutionResult {
	switch strategy {
	case models.StrategyLocalWins:
		return models.ResolutionResult{
			Strategy:     strategy,
			ResolvedData: cloneMap(c.LocalVersion),
			Conflicts:    fieldConflicts(c.LocalVersion, c.ServerVersion, sideLocal),
			Confidence:   1,
			Explanation:  fmt.Sprintf("conflicts of type %q always keep the local version", c.Type),
		}
	case models.StrategyServerWins:
		return models.ResolutionResult{
			Strategy:     strategy,
			ResolvedData: cloneMap(c.ServerVersion),
			Conflicts:    fieldConflicts(c.LocalVersion, c.ServerVersion, sideServer),
			Confidence:   1,
			Explanation:  fmt.Sprintf("conflicts of type %q always keep the server version", c.Type),
		}
	case models.StrategyThreeWayMerge:
		if c.BaseVersion != nil {
			return threeWayMerge(c, transitions)
		}
		return manual(c, "three-way merge requested but no base version is known")
	case models.StrategyLastWriterWins:
		return lastWriterWins(c, r.noise)
	case models.StrategyAutoMerge:
		if res, ok := autoMerge(c, transitions); ok {
			return res
		}
		return manual(c, "auto-merge requested but the versions diverge on fields without a safe pattern")
	}
	return manual(c, fmt.Sprintf("conflicts of type %q are always decided by the user", c.Type))
}

// BatchItem is one conflict of a batch. DependsOn is the index of an earlier
// item whose resolved data this one builds on, or -1.
type BatchItem struct {
	Conflict  models.ConflictData
	DependsOn int
}

// ResolveBatch resolves items in order. When an item depends on an earlier
// one, that item's resolved data becomes its base version. A dependency that
// does not point backwards is ignored.
func (r *Resolver) ResolveBatch(items []BatchItem) []models.ResolutionResult {
	results := make([]models.ResolutionResult, len(items))

	for i, item := range items {
		c := item.Conflict
		if dep := item.DependsOn; dep >= 0 {
			if dep < i {
				c.BaseVersion = cloneMap(results[dep].ResolvedData)
			} else {
				r.logger.Warn().
					Str("func", "Resolver.ResolveBatch").
					Int("index", i).
					Int("depends_on", dep).
					Msg("dependency does not precede conflict, resolving independently")
			}
		}
		results[i] = r.ResolveConflict(c)
	}

	return results
}

func manual(c models.ConflictData, reason string) models.ResolutionResult {
	data := cloneMap(c.LocalVersion)
	if data == nil {
		data = cloneMap(c.ServerVersion)
	}
	if data == nil {
		data = map[string]any{}
	}

	return models.ResolutionResult{
		Strategy:          models.StrategyManual,
		ResolvedData:      data,
		RequiresUserInput: true,
		Conflicts:         fieldConflicts(c.LocalVersion, c.ServerVersion, sideLocal),
		Confidence:        0,
		Explanation:       "manual resolution required: " + reason,
	}
}

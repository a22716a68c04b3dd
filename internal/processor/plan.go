package processor

import (
	"slices"

	"github.com/MKhiriev/go-offline-sync/models"
)

// plan is the dispatch schedule of one sync pass. A paused pass keeps the
// batches it has not dispatched yet.
type plan struct {
	batches [][]models.SyncOperation
	// cyclic holds the ids whose mutual dependencies are ignored because no
	// order could satisfy them.
	cyclic map[string]bool
	// offset is the number of batches already dispatched before a pause.
	offset int
	total  int
}

func (pl *plan) totalBatches() int {
	return pl.offset + len(pl.batches)
}

// rest returns the undispatched tail of the plan starting at batch i.
func (pl *plan) rest(i int) *plan {
	return &plan{
		batches: pl.batches[i:],
		cyclic:  pl.cyclic,
		offset:  pl.offset + i,
		total:   pl.total,
	}
}

// buildPlan orders ready operations and cuts them into batches of at most
// size operations.
func buildPlan(ops []models.SyncOperation, size int) *plan {
	ordered, cyclic := orderByDependencies(ops)

	set := make(map[string]bool, len(cyclic))
	for _, id := range cyclic {
		set[id] = true
	}

	return &plan{
		batches: splitBatches(ordered, size, set),
		cyclic:  set,
		total:   len(ordered),
	}
}

// orderByDependencies returns ops in dispatch order. ops must already be in
// priority order; each step takes the first operation whose dependencies
// inside the set are already placed, so priority is kept wherever the
// dependencies allow. Dependencies outside the set are not considered here.
//
// When no remaining operation can be placed the rest is appended in priority
// order and returned as cyclic.
func orderByDependencies(ops []models.SyncOperation) ([]models.SyncOperation, []string) {
	inSet := make(map[string]bool, len(ops))
	for _, op := range ops {
		inSet[op.ID] = true
	}

	placed := make(map[string]bool, len(ops))
	remaining := slices.Clone(ops)
	ordered := make([]models.SyncOperation, 0, len(ops))

	for len(remaining) > 0 {
		idx := slices.IndexFunc(remaining, func(op models.SyncOperation) bool {
			for _, dep := range op.Dependencies {
				if dep != op.ID && inSet[dep] && !placed[dep] {
					return false
				}
			}
			return true
		})
		if idx < 0 {
			cyclic := make([]string, 0, len(remaining))
			for _, op := range remaining {
				cyclic = append(cyclic, op.ID)
			}
			return append(ordered, remaining...), cyclic
		}

		op := remaining[idx]
		placed[op.ID] = true
		ordered = append(ordered, op)
		remaining = slices.Delete(remaining, idx, idx+1)
	}

	return ordered, nil
}

// splitBatches cuts ordered into batches of at most size operations. A batch
// also ends before an operation that depends on a member of it, so a
// dependency is finished before its dependent is dispatched.
func splitBatches(ordered []models.SyncOperation, size int, cyclic map[string]bool) [][]models.SyncOperation {
	if size < 1 {
		size = 1
	}

	var batches [][]models.SyncOperation
	var cur []models.SyncOperation
	members := make(map[string]bool)

	for _, op := range ordered {
		cut := len(cur) >= size
		if !cut && !cyclic[op.ID] {
			cut = slices.ContainsFunc(op.Dependencies, func(dep string) bool { return members[dep] })
		}
		if cut && len(cur) > 0 {
			batches = append(batches, cur)
			cur = nil
			clear(members)
		}
		cur = append(cur, op)
		members[op.ID] = true
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}

	return batches
}

package resolver

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	sideLocal  = "local"
	sideServer = "server"
)

// timestampFields are checked in order for a version's modification time.
var timestampFields = []string{"updated_at", "updatedAt", "modified_at", "last_modified", "timestamp"}

var equalOpts = cmp.Options{
	cmpopts.EquateEmpty(),
	cmp.FilterValues(func(a, b any) bool {
		return isNumber(a) && isNumber(b)
	}, cmp.Comparer(func(a, b any) bool {
		return normalizeNumber(a) == normalizeNumber(b)
	})),
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64, json.Number:
		return true
	}
	return false
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func equalValues(a, b any) bool {
	return cmp.Equal(a, b, equalOpts)
}

func isTimestampField(key string) bool {
	return slices.Contains(timestampFields, key)
}

func sortedKeys(ms ...map[string]any) []string {
	set := make(map[string]struct{})
	for _, m := range ms {
		for k := range m {
			set[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

func autoMerge(c models.ConflictData, transitions []Transition) (models.ResolutionResult, bool) {
	local, server := c.LocalVersion, c.ServerVersion
	merged := make(map[string]any)
	var notes []string

	for _, k := range sortedKeys(local, server) {
		lv, lok := local[k]
		sv, sok := server[k]

		switch {
		case lok && sok && equalValues(lv, sv):
			merged[k] = cloneValue(lv)
		case lok && !sok:
			merged[k] = cloneValue(lv)
			notes = append(notes, k+" only set locally")
		case sok && !lok:
			merged[k] = cloneValue(sv)
			notes = append(notes, k+" only set on the server")
		case isTimestampField(k):
			merged[k] = cloneValue(newerValue(lv, sv))
		case safeTransition(transitions, k, sv, lv):
			merged[k] = cloneValue(lv)
			notes = append(notes, fmt.Sprintf("%s %v -> %v keeps the intended end state", k, sv, lv))
		default:
			return models.ResolutionResult{}, false
		}
	}

	explanation := "versions are equivalent"
	if len(notes) > 0 {
		explanation = "no real conflict: " + strings.Join(notes, "; ")
	}

	return models.ResolutionResult{
		Strategy:     models.StrategyAutoMerge,
		ResolvedData: merged,
		Confidence:   1,
		Explanation:  explanation,
	}, true
}

func safeTransition(transitions []Transition, field string, server, local any) bool {
	for _, t := range transitions {
		if t.Field == field && equalValues(t.From, server) && equalValues(t.To, local) {
			return true
		}
	}
	return false
}

// threeWayMerge compares each side against the base. A field both sides
// changed is only settled without a conflict when the values agree, when it
// is a timestamp, or when server -> local is a registered safe transition.
func threeWayMerge(c models.ConflictData, transitions []Transition) models.ResolutionResult {
	base, local, server := c.BaseVersion, c.LocalVersion, c.ServerVersion
	prefer := preferredSide(local, server)

	merged := make(map[string]any)
	var conflicts []models.FieldConflict
	var notes []string

	for _, k := range sortedKeys(base, local, server) {
		bv, bok := base[k]
		lv, lok := local[k]
		sv, sok := server[k]

		localChanged := changed(bv, bok, lv, lok)
		serverChanged := changed(bv, bok, sv, sok)

		switch {
		case !localChanged && !serverChanged:
			if lok {
				merged[k] = cloneValue(lv)
			}
		case localChanged && !serverChanged:
			if lok {
				merged[k] = cloneValue(lv)
			}
		case !localChanged && serverChanged:
			if sok {
				merged[k] = cloneValue(sv)
			}
		case lok == sok && equalValues(lv, sv):
			if lok {
				merged[k] = cloneValue(lv)
			}
		case isTimestampField(k):
			merged[k] = cloneValue(newerValue(lv, sv))
		case lok && sok && safeTransition(transitions, k, sv, lv):
			merged[k] = cloneValue(lv)
			notes = append(notes, fmt.Sprintf("%s %v -> %v keeps the intended end state", k, sv, lv))
		default:
			fc := models.FieldConflict{Field: k, LocalValue: lv, ServerValue: sv, Chosen: prefer}
			conflicts = append(conflicts, fc)

			v, ok := sv, sok
			if prefer == sideLocal {
				v, ok = lv, lok
			}
			if ok {
				merged[k] = cloneValue(v)
			}
		}
	}

	confidence := threeWayConfidence(len(conflicts))
	explanation := "three-way merge: local and server changes touch different fields"
	if len(conflicts) > 0 {
		explanation = fmt.Sprintf("three-way merge: %d field(s) changed on both sides (%s), %s values kept",
			len(conflicts), strings.Join(conflictNames(conflicts), ", "), prefer)
	}
	if len(notes) > 0 {
		explanation += "; " + strings.Join(notes, "; ")
	}

	return models.ResolutionResult{
		Strategy:          models.StrategyThreeWayMerge,
		ResolvedData:      merged,
		RequiresUserInput: confidence < ConfidentThreshold,
		Conflicts:         conflicts,
		Confidence:        confidence,
		Explanation:       explanation,
	}
}

func threeWayConfidence(conflicts int) float64 {
	if conflicts == 0 {
		return 1
	}
	c := 0.8 - 0.1*float64(conflicts-1)
	return math.Max(c, 0.3)
}

func changed(base any, baseOK bool, v any, ok bool) bool {
	if baseOK != ok {
		return true
	}
	return ok && !equalValues(base, v)
}

func conflictNames(conflicts []models.FieldConflict) []string {
	out := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.Field)
	}
	return out
}

// preferredSide picks the side with the newer version timestamp; the server
// wins ties and unknown timestamps.
func preferredSide(local, server map[string]any) string {
	lt, lok := versionTime(local)
	st, sok := versionTime(server)
	if lok && sok && lt.After(st) {
		return sideLocal
	}
	return sideServer
}

func lastWriterWins(c models.ConflictData, noise time.Duration) models.ResolutionResult {
	lt, lok := versionTime(c.LocalVersion)
	st, sok := versionTime(c.ServerVersion)
	if !lok || !sok {
		return manual(c, "versions carry no comparable modification time")
	}

	gap := lt.Sub(st)
	winner, data := sideServer, c.ServerVersion
	if gap > 0 {
		winner, data = sideLocal, c.LocalVersion
	}
	if gap < 0 {
		gap = -gap
	}

	res := models.ResolutionResult{
		Strategy:     models.StrategyLastWriterWins,
		ResolvedData: cloneMap(data),
		Conflicts:    fieldConflicts(c.LocalVersion, c.ServerVersion, winner),
	}
	if res.ResolvedData == nil {
		res.ResolvedData = map[string]any{}
	}

	if gap > noise {
		res.Confidence = 0.9
		res.Explanation = fmt.Sprintf("last writer wins: %s version is newer by %s", winner, gap)
		return res
	}

	res.Confidence = 0.3
	res.RequiresUserInput = true
	res.Explanation = fmt.Sprintf("last writer wins is ambiguous: versions are %s apart (threshold %s), %s version proposed", gap, noise, winner)
	return res
}

// fieldConflicts lists fields whose values differ between the two versions.
func fieldConflicts(local, server map[string]any, chosen string) []models.FieldConflict {
	var out []models.FieldConflict
	for _, k := range sortedKeys(local, server) {
		if isTimestampField(k) {
			continue
		}
		lv, lok := local[k]
		sv, sok := server[k]
		if lok == sok && equalValues(lv, sv) {
			continue
		}
		out = append(out, models.FieldConflict{Field: k, LocalValue: lv, ServerValue: sv, Chosen: chosen})
	}
	return out
}

func versionTime(v map[string]any) (time.Time, bool) {
	for _, f := range timestampFields {
		raw, ok := v[f]
		if !ok {
			continue
		}
		if t, ok := parseTime(raw); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseTime(raw any) (time.Time, bool) {
	switch v := normalizeNumber(raw).(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateTime} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case float64:
		if v > 0 {
			return time.UnixMilli(int64(v)), true
		}
	}
	return time.Time{}, false
}

func newerValue(local, server any) any {
	lt, lok := parseTime(local)
	st, sok := parseTime(server)
	if lok && (!sok || lt.After(st)) {
		return local
	}
	return server
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

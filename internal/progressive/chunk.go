package progressive

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/utils"
	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	// requestOverhead approximates headers and framing per operation.
	requestOverhead = 256
	compressedRatio = 0.6

	sampleWindow = 10
	minSamples   = 3
	fastChunk    = 5 * time.Second
	slowChunk    = 30 * time.Second
)

// entry is one backlog item waiting to be chunked.
type entry struct {
	req   models.OperationRequest
	added time.Time
	seq   uint64
}

// sample is the outcome of one executed chunk.
type sample struct {
	success  bool
	duration time.Duration
}

func dedupeKey(req models.OperationRequest) string {
	data := req.Data
	var buf bytes.Buffer
	if len(data) > 0 && json.Compact(&buf, data) == nil {
		data = buf.Bytes()
	}
	return req.Type + "\x00" + req.Endpoint + "\x00" + string(data)
}

// dedupe keeps only the most recent entry for every (type, endpoint, data)
// key and returns the survivors in their original order with the number of
// entries dropped.
func dedupe(entries []entry) ([]entry, int) {
	latest := make(map[string]int, len(entries))
	for i, e := range entries {
		key := dedupeKey(e.req)
		j, ok := latest[key]
		if !ok || !entries[j].added.After(e.added) {
			latest[key] = i
		}
	}

	out := make([]entry, 0, len(latest))
	for i, e := range entries {
		if latest[dedupeKey(e.req)] == i {
			out = append(out, e)
		}
	}
	return out, len(entries) - len(out)
}

// sortEntries orders by priority descending, then age.
func sortEntries(entries []entry) {
	slices.SortStableFunc(entries, func(a, b entry) int {
		if a.req.Priority != b.req.Priority {
			return b.req.Priority - a.req.Priority
		}
		if c := a.added.Compare(b.added); c != 0 {
			return c
		}
		return int(a.seq) - int(b.seq)
	})
}

// optimalChunkSize starts from the network tier, halves under save-data and
// moves ±20% by how recent chunks performed.
func optimalChunkSize(base int, saveData bool, samples []sample) int {
	size := float64(max(base, 1))
	if saveData {
		size /= 2
	}

	if len(samples) >= minSamples {
		rate, avg := performance(samples)
		switch {
		case rate >= 0.9 && avg <= fastChunk:
			size *= 1.2
		case rate < 0.7 || avg >= slowChunk:
			size *= 0.8
		}
	}

	return max(int(math.Round(size)), 1)
}

func performance(samples []sample) (float64, time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}

	var ok int
	var total time.Duration
	for _, s := range samples {
		if s.success {
			ok++
		}
		total += s.duration
	}
	return float64(ok) / float64(len(samples)), total / time.Duration(len(samples))
}

// throughput estimates the usable bytes per second of the link.
func throughput(info models.NetworkInfo) float64 {
	if info.Downlink > 0 {
		return info.Downlink * 1_000_000 / 8
	}
	switch info.Status {
	case models.NetworkExcellent:
		return 1 << 20
	case models.NetworkGood:
		return 256 << 10
	default:
		return 32 << 10
	}
}

func estimateBytes(req models.OperationRequest) int64 {
	return int64(len(req.Data) + len(req.Endpoint) + requestOverhead)
}

// buildChunks cuts sorted entries into chunks of at most size operations.
func buildChunks(entries []entry, size int, info models.NetworkInfo, rec models.QualityRecommendations, ids utils.IDGenerator) []*chunkState {
	ratio := 1.0
	if rec.ShouldCompress {
		ratio = compressedRatio
	}
	bps := throughput(info)
	concurrency := max(rec.MaxConcurrentRequests, 1)

	var out []*chunkState
	for part := range slices.Chunk(entries, max(size, 1)) {
		c := models.SyncChunk{
			ID:               ids.Generate(),
			Priority:         part[0].req.Priority,
			CompressionRatio: ratio,
		}

		seen := make(map[string]bool)
		for _, e := range part {
			c.Operations = append(c.Operations, e.req)
			c.EstimatedBytes += estimateBytes(e.req)
			for _, dep := range e.req.Dependencies {
				if !seen[dep] {
					seen[dep] = true
					c.Dependencies = append(c.Dependencies, dep)
				}
			}
		}

		transfer := time.Duration(float64(c.EstimatedBytes) * ratio / bps * float64(time.Second))
		rounds := (len(part) + concurrency - 1) / concurrency
		c.EstimatedDuration = transfer + time.Duration(rounds)*info.RTT

		out = append(out, &chunkState{chunk: c, entries: slices.Clone(part)})
	}
	return out
}

// Interval is the scheduling loop period for a network status.
func Interval(status models.NetworkStatus) time.Duration {
	switch status {
	case models.NetworkExcellent:
		return 10 * time.Second
	case models.NetworkGood:
		return 30 * time.Second
	default:
		return 120 * time.Second
	}
}

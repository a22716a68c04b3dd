package network

import (
	"strings"
	"time"

	"github.com/MKhiriev/go-offline-sync/models"
)

// RTT cut points of the status classification.
const (
	excellentRTT = time.Second
	goodRTT      = 2 * time.Second
)

const (
	failurePenalty     = 15
	instabilityPenalty = 5
	saveDataPenalty    = 20
	stabilityWindow    = 10
)

// ClassifyStatus maps a probe outcome to a coarse status. A slow cellular
// effective type caps the result at poor regardless of RTT.
func ClassifyStatus(online bool, rtt time.Duration, effectiveType string) models.NetworkStatus {
	if !online {
		return models.NetworkOffline
	}

	switch strings.ToLower(effectiveType) {
	case "slow-2g", "2g":
		return models.NetworkPoor
	}

	switch {
	case rtt < excellentRTT:
		return models.NetworkExcellent
	case rtt < goodRTT:
		return models.NetworkGood
	default:
		return models.NetworkPoor
	}
}

func statusBase(s models.NetworkStatus) float64 {
	switch s {
	case models.NetworkExcellent:
		return 100
	case models.NetworkGood:
		return 75
	case models.NetworkPoor:
		return 40
	}
	return 0
}

// QualityScore is the synthesized link score in [0, 100]. It depends only on
// the current sample, the failure streak and how often the status flipped in
// the most recent history entries.
func QualityScore(current models.NetworkInfo, consecutiveFailures int, history []models.NetworkInfo) float64 {
	score := statusBase(current.Status)
	score -= float64(failurePenalty * consecutiveFailures)
	score -= float64(instabilityPenalty * statusChanges(history))
	if current.SaveData {
		score -= saveDataPenalty
	}
	return clamp(score, 0, 100)
}

func statusChanges(history []models.NetworkInfo) int {
	if len(history) > stabilityWindow {
		history = history[len(history)-stabilityWindow:]
	}

	changes := 0
	for i := 1; i < len(history); i++ {
		if history[i].Status != history[i-1].Status {
			changes++
		}
	}
	return changes
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Recommend derives the transfer policy shared by the sync processor and the
// progressive scheduler.
func Recommend(info models.NetworkInfo, score float64) models.QualityRecommendations {
	rec := models.QualityRecommendations{
		CanSync:        info.IsOnline && score > 10,
		ShouldBatch:    info.Status != models.NetworkExcellent || info.SaveData,
		ShouldCompress: info.Status == models.NetworkPoor || info.SaveData || score <= 60,
	}

	switch {
	case !info.IsOnline:
		rec.MaxConcurrentRequests = 1
		rec.RecommendedChunkSize = 1
		rec.RecommendedBatchSize = 1
		rec.TimeoutFactor = 3
	case score > 80:
		rec.MaxConcurrentRequests = 6
		rec.RecommendedChunkSize = 50
		rec.RecommendedBatchSize = 10
		rec.TimeoutFactor = 1
	case score > 60:
		rec.MaxConcurrentRequests = 4
		rec.RecommendedChunkSize = 20
		rec.RecommendedBatchSize = 5
		rec.TimeoutFactor = 1.5
	case score > 30:
		rec.MaxConcurrentRequests = 2
		rec.RecommendedChunkSize = 5
		rec.RecommendedBatchSize = 2
		rec.TimeoutFactor = 2
	default:
		rec.MaxConcurrentRequests = 1
		rec.RecommendedChunkSize = 1
		rec.RecommendedBatchSize = 1
		rec.TimeoutFactor = 3
	}

	return rec
}

package models

import "time"

// NetworkStatus is the coarse quality class of the current link.
type NetworkStatus string

const (
	NetworkOffline   NetworkStatus = "offline"
	NetworkPoor      NetworkStatus = "poor"
	NetworkGood      NetworkStatus = "good"
	NetworkExcellent NetworkStatus = "excellent"
)

// ConnectionType describes the physical link reported by the platform.
type ConnectionType string

const (
	ConnectionEthernet  ConnectionType = "ethernet"
	ConnectionWifi      ConnectionType = "wifi"
	ConnectionCellular  ConnectionType = "cellular"
	ConnectionBluetooth ConnectionType = "bluetooth"
	ConnectionWimax     ConnectionType = "wimax"
	ConnectionOther     ConnectionType = "other"
	ConnectionUnknown   ConnectionType = "unknown"
)

// NetworkInfo is a point-in-time network assessment.
type NetworkInfo struct {
	IsOnline       bool           `json:"is_online"`
	Status         NetworkStatus  `json:"status"`
	ConnectionType ConnectionType `json:"connection_type"`
	EffectiveType  string         `json:"effective_type,omitempty"`
	// Downlink is the estimated bandwidth in Mbps.
	Downlink float64 `json:"downlink,omitempty"`
	// RTT is the measured round-trip time.
	RTT       time.Duration `json:"rtt"`
	SaveData  bool          `json:"save_data"`
	Timestamp time.Time     `json:"timestamp"`
}

// NetworkState is the rolling state derived from successive NetworkInfo samples.
type NetworkState struct {
	Current             NetworkInfo   `json:"current"`
	History             []NetworkInfo `json:"history"`
	LastOnlineAt        *time.Time    `json:"last_online_at,omitempty"`
	LastOfflineAt       *time.Time    `json:"last_offline_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AverageRTT          time.Duration `json:"average_rtt"`
	QualityScore        float64       `json:"quality_score"`
}

// QualityRecommendations is the transfer policy derived from the current network.
// RecommendedChunkSize sizes progressive scheduler chunks, RecommendedBatchSize
// sizes sync processor batches and TimeoutFactor scales the per-request
// timeout (1 on an excellent link).
type QualityRecommendations struct {
	CanSync               bool    `json:"can_sync"`
	ShouldBatch           bool    `json:"should_batch"`
	ShouldCompress        bool    `json:"should_compress"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	RecommendedChunkSize  int     `json:"recommended_chunk_size"`
	RecommendedBatchSize  int     `json:"recommended_batch_size"`
	TimeoutFactor         float64 `json:"timeout_factor"`
}

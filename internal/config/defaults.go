package config

import "time"

// Backend names accepted by Store.Backend.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Defaults returns the reference policy. It is merged last, so it only
// fills fields no other source has set.
func Defaults() *StructuredConfig {
	return &StructuredConfig{
		App: App{
			LogLevel: "info",
		},
		Store: Store{
			Backend:  BackendSQLite,
			DSN:      "offline-sync.db",
			FilePath: "offline-sync.json",
		},
		Remote: Remote{
			HealthPath:        "/health",
			RequestTimeout:    10 * time.Second,
			MaxRequestTimeout: 60 * time.Second,
		},
		Network: Network{
			ProbeInterval:   5 * time.Second,
			QualityInterval: 30 * time.Second,
			QualitySamples:  3,
			ProbeTimeout:    5 * time.Second,
		},
		Sync: Sync{
			MaxRetries:       3,
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			Jitter:           250 * time.Millisecond,
			MaxConcurrency:   6,
			CriticalPriority: 10,
			ScheduleDelay:    time.Second,
		},
		Progressive: Progressive{
			MaxChunkRetries:        3,
			ChunkRetryDelay:        2 * time.Second,
			PoorLinkBytesPerSecond: 64 << 10,
		},
		Resolver: Resolver{
			NoiseThreshold: 5 * time.Second,
		},
		Workers: Workers{
			ExpirySweepInterval: 5 * time.Minute,
		},
	}
}

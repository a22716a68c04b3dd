package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type StructuredJSONConfig struct {
	App struct {
		LogLevel string `json:"log_level"`
		LogFile  string `json:"log_file"`
		TUI      bool   `json:"tui"`
	} `json:"app,omitempty"`

	Store struct {
		Backend  string `json:"backend"`
		DSN      string `json:"dsn"`
		FilePath string `json:"file_path"`
	} `json:"store,omitempty"`

	Remote struct {
		BaseURL           string   `json:"base_url"`
		HealthPath        string   `json:"health_path"`
		RequestTimeout    Duration `json:"request_timeout"`
		MaxRequestTimeout Duration `json:"max_request_timeout"`
	} `json:"remote,omitempty"`

	Network struct {
		ProbeInterval   Duration `json:"probe_interval"`
		QualityInterval Duration `json:"quality_interval"`
		QualitySamples  int      `json:"quality_samples"`
		ProbeTimeout    Duration `json:"probe_timeout"`
	} `json:"network,omitempty"`

	Sync struct {
		MaxRetries       int      `json:"max_retries"`
		BaseDelay        Duration `json:"base_delay"`
		MaxDelay         Duration `json:"max_delay"`
		Jitter           Duration `json:"jitter"`
		MaxConcurrency   int      `json:"max_concurrency"`
		CriticalPriority int      `json:"critical_priority"`
		ScheduleDelay    Duration `json:"schedule_delay"`
	} `json:"sync,omitempty"`

	Progressive struct {
		BackgroundSyncDisabled bool     `json:"background_sync_disabled"`
		MaxChunkRetries        int      `json:"max_chunk_retries"`
		ChunkRetryDelay        Duration `json:"chunk_retry_delay"`
		PoorLinkBytesPerSecond int      `json:"poor_link_bytes_per_second"`
	} `json:"progressive,omitempty"`

	Resolver struct {
		NoiseThreshold Duration `json:"noise_threshold"`
	} `json:"resolver,omitempty"`

	Workers struct {
		ExpirySweepInterval Duration `json:"expiry_sweep_interval"`
	} `json:"workers,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		App: App{
			LogLevel: jsonCfg.App.LogLevel,
			LogFile:  jsonCfg.App.LogFile,
			TUI:      jsonCfg.App.TUI,
		},
		Store: Store{
			Backend:  jsonCfg.Store.Backend,
			DSN:      jsonCfg.Store.DSN,
			FilePath: jsonCfg.Store.FilePath,
		},
		Remote: Remote{
			BaseURL:           jsonCfg.Remote.BaseURL,
			HealthPath:        jsonCfg.Remote.HealthPath,
			RequestTimeout:    time.Duration(jsonCfg.Remote.RequestTimeout),
			MaxRequestTimeout: time.Duration(jsonCfg.Remote.MaxRequestTimeout),
		},
		Network: Network{
			ProbeInterval:   time.Duration(jsonCfg.Network.ProbeInterval),
			QualityInterval: time.Duration(jsonCfg.Network.QualityInterval),
			QualitySamples:  jsonCfg.Network.QualitySamples,
			ProbeTimeout:    time.Duration(jsonCfg.Network.ProbeTimeout),
		},
		Sync: Sync{
			MaxRetries:       jsonCfg.Sync.MaxRetries,
			BaseDelay:        time.Duration(jsonCfg.Sync.BaseDelay),
			MaxDelay:         time.Duration(jsonCfg.Sync.MaxDelay),
			Jitter:           time.Duration(jsonCfg.Sync.Jitter),
			MaxConcurrency:   jsonCfg.Sync.MaxConcurrency,
			CriticalPriority: jsonCfg.Sync.CriticalPriority,
			ScheduleDelay:    time.Duration(jsonCfg.Sync.ScheduleDelay),
		},
		Progressive: Progressive{
			BackgroundSyncDisabled: jsonCfg.Progressive.BackgroundSyncDisabled,
			MaxChunkRetries:        jsonCfg.Progressive.MaxChunkRetries,
			ChunkRetryDelay:        time.Duration(jsonCfg.Progressive.ChunkRetryDelay),
			PoorLinkBytesPerSecond: jsonCfg.Progressive.PoorLinkBytesPerSecond,
		},
		Resolver: Resolver{
			NoiseThreshold: time.Duration(jsonCfg.Resolver.NoiseThreshold),
		},
		Workers: Workers{
			ExpirySweepInterval: time.Duration(jsonCfg.Workers.ExpirySweepInterval),
		},
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON unmarshaling from strings like "1h", "30s"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import "fmt"

// validate checks that the final merged [StructuredConfig] is usable before
// any component is constructed from it.
//
// Returns nil if the configuration is valid, or one of the ErrInvalid*
// sentinels wrapped with the offending detail.
func (cfg *StructuredConfig) validate() error {
	switch cfg.Store.Backend {
	case BackendSQLite:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("%w: empty sqlite DSN", ErrInvalidStorageConfigs)
		}
	case BackendFile:
		if cfg.Store.FilePath == "" {
			return fmt.Errorf("%w: empty file path", ErrInvalidStorageConfigs)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidStorageConfigs, cfg.Store.Backend)
	}

	if cfg.Remote.BaseURL == "" || cfg.Remote.RequestTimeout <= 0 {
		return ErrInvalidRemoteConfigs
	}
	if cfg.Remote.MaxRequestTimeout < cfg.Remote.RequestTimeout {
		return fmt.Errorf("%w: max request timeout below request timeout", ErrInvalidRemoteConfigs)
	}

	if cfg.Network.ProbeInterval <= 0 || cfg.Network.QualityInterval <= 0 || cfg.Network.QualitySamples <= 0 {
		return ErrInvalidNetworkConfigs
	}

	if cfg.Sync.MaxRetries < 0 || cfg.Sync.MaxConcurrency <= 0 || cfg.Sync.BaseDelay <= 0 {
		return ErrInvalidSyncConfigs
	}
	if cfg.Sync.MaxDelay < cfg.Sync.BaseDelay {
		return fmt.Errorf("%w: max delay below base delay", ErrInvalidSyncConfigs)
	}

	if cfg.Workers.ExpirySweepInterval <= 0 {
		return ErrInvalidWorkerConfigs
	}

	return nil
}

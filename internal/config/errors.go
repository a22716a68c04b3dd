package config

import "errors"

// Validation errors returned by [StructuredConfig.validate] when required
// configuration groups are incomplete or invalid.
var (
	// ErrInvalidStorageConfigs indicates an unknown store backend or a
	// missing path for the selected one.
	ErrInvalidStorageConfigs = errors.New("invalid storage configuration")
	// ErrInvalidRemoteConfigs indicates a missing base URL or request timeout.
	ErrInvalidRemoteConfigs = errors.New("invalid remote configuration")
	// ErrInvalidNetworkConfigs indicates non-positive probe intervals or samples.
	ErrInvalidNetworkConfigs = errors.New("invalid network configuration")
	// ErrInvalidSyncConfigs indicates inconsistent retry or concurrency policy.
	ErrInvalidSyncConfigs = errors.New("invalid sync configuration")
	// ErrInvalidWorkerConfigs indicates invalid background worker settings
	// (for example, zero sweep interval).
	ErrInvalidWorkerConfigs = errors.New("invalid worker configuration")
)

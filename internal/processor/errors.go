package processor

import "errors"

var (
	// ErrAlreadySyncing is returned by StartSync while a pass is running and
	// force is not set.
	ErrAlreadySyncing = errors.New("sync already in progress")
	// ErrNotPaused is returned by ResumeSync when there is no paused pass.
	ErrNotPaused = errors.New("sync is not paused")
	// ErrOffline is returned by StartSync when the network does not allow
	// syncing and force is not set.
	ErrOffline = errors.New("network unavailable for sync")
	// ErrInvalidOperation is returned by QueueOperation for a request without
	// an endpoint or with an unsupported method.
	ErrInvalidOperation = errors.New("invalid sync operation")
	// ErrNotAwaitingResolution is returned by ResolveOperation for an
	// operation that has no pending conflict.
	ErrNotAwaitingResolution = errors.New("operation is not awaiting conflict resolution")
)

// Package workers runs the background maintenance jobs of the client next
// to the sync pipeline.
// It defines the Worker interface and a Workers aggregate that starts and
// stops multiple workers as one unit.
package workers

import "context"

// Worker is a background job.
//
// Run blocks until ctx is cancelled.
//
// Example implementation:
//
//	type MyWorker struct{}
//
//	func (w *MyWorker) Run(ctx context.Context) {
//	    <-ctx.Done()
//	}
type Worker interface {
	Run(ctx context.Context)
}

// ExpiryStore purges cached records whose TTL has elapsed.
type ExpiryStore interface {
	ClearExpired(ctx context.Context) (int64, error)
}

package store

import "errors"

// Sentinel errors returned by the store. Callers should use [errors.Is] to
// match against these values.
var (
	// ErrQuotaExceeded is returned by a backend when the device has no room
	// left for the write. DurableStore logs and swallows it on the
	// user-facing write paths.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrOperationNotFound is returned when no queued operation has the
	// requested id.
	ErrOperationNotFound = errors.New("sync operation not found")

	// ErrOperationNotFailed is returned by RetryFailed for an operation that
	// is not in the failed state.
	ErrOperationNotFailed = errors.New("sync operation is not failed")

	// ErrRecordNotFound is returned by a backend when no record has the
	// requested id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Low-level database operation errors. These are wrapped by the SQLite
// backend when a SQL-level operation fails.
var (
	// ErrBuildingSQLQuery is returned when constructing a SQL query fails.
	ErrBuildingSQLQuery = errors.New("error building sql query")

	// ErrExecutingQuery is returned when executing a statement fails.
	ErrExecutingQuery = errors.New("error executing sql query")

	// ErrBeginningTransaction is returned when the database driver cannot
	// start a new transaction.
	ErrBeginningTransaction = errors.New("failed to begin transaction")

	// ErrCommitingTransaction is returned when committing an open transaction
	// fails. The transaction is considered rolled back at this point.
	ErrCommitingTransaction = errors.New("failed to commit transaction")

	// ErrScanningRow is returned when scanning column values from a result
	// row into a destination struct fails.
	ErrScanningRow = errors.New("failed to scan row")
)

package recovery

import "errors"

var (
	// ErrUnknownTransaction is returned when an operation names a
	// transNum with no entry in the transaction table.
	ErrUnknownTransaction = errors.New("recovery: unknown transaction")

	// ErrUnknownSavepoint is returned by RollbackToSavepoint when name
	// was never recorded for the transaction.
	ErrUnknownSavepoint = errors.New("recovery: unknown savepoint")

	// ErrLogPartition is the sentinel logAlloc/FreePart/Page return
	// instead of an LSN when the target lies in the reserved log
	// partition (partition 0).
	ErrLogPartition = errors.New("recovery: operation targets the log partition")

	// ErrNotRunning rejects a forward-processing mutation logged against a
	// transaction that is not currently RUNNING.
	ErrNotRunning = errors.New("recovery: transaction is not running")

	// ErrNoCollaborators is returned when a method that touches the
	// buffer pool or disk space manager is called before SetStorage.
	ErrNoCollaborators = errors.New("recovery: buffer pool / disk space manager not wired")
)

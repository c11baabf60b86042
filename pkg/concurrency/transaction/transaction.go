package transaction

import (
	"fmt"
	"sync"

	"storemy/pkg/concurrency/lock"
	"storemy/pkg/concurrency/locktype"
	"storemy/pkg/primitives"
)

// Recorder is the subset of the recovery manager a Transaction drives
// directly: append-only logging plus the commit/abort/end lifecycle and
// savepoints. Defined here (not imported from pkg/recovery) so that
// pkg/recovery never needs to import this package back.
type Recorder interface {
	LogPageWrite(transNum int64, pageID primitives.PageID, offset int, before, after []byte) (primitives.LSN, error)
	Commit(transNum int64) (primitives.LSN, error)
	Abort(transNum int64) (primitives.LSN, error)
	End(transNum int64) error
	Savepoint(transNum int64, name string)
	RollbackToSavepoint(transNum int64, name string) error
}

// Transaction is the single caller-facing handle that ties together
// logging (via Recorder) and multigranularity locking (via the lock
// package). It holds no algorithmic logic of its own.
type Transaction struct {
	id       *primitives.TransactionID
	recorder Recorder
	root     *lock.Context

	mu     sync.Mutex
	status Status
}

// New creates a RUNNING transaction bound to recorder for logging and
// root for lock acquisition (root is normally the database-level
// LockContext shared by every transaction).
func New(id *primitives.TransactionID, recorder Recorder, root *lock.Context) *Transaction {
	return &Transaction{id: id, recorder: recorder, root: root, status: Running}
}

// ID returns this transaction's number.
func (t *Transaction) ID() int64 { return t.id.ID() }

// Status returns the transaction's current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// setStatus validates and applies a status transition.
func (t *Transaction) setStatus(target Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := Transition(t.status, target)
	if err != nil {
		return err
	}
	t.status = next
	return nil
}

// AcquireLock ensures mode is held at ctx via the least permissive
// sequence of lock operations (see lock.EnsureSufficientLockHeld). ctx
// must be a descendant of, or equal to, t's root.
func (t *Transaction) AcquireLock(ctx *lock.Context, mode locktype.LockType) error {
	return lock.EnsureSufficientLockHeld(t.ID(), ctx, mode)
}

// LogWrite records a page mutation through the recovery manager. Callers
// are expected to have already acquired an X lock covering pageID before
// calling this.
func (t *Transaction) LogWrite(pageID primitives.PageID, offset int, before, after []byte) (primitives.LSN, error) {
	if t.Status() != Running {
		return 0, fmt.Errorf("transaction %d is not RUNNING", t.ID())
	}
	return t.recorder.LogPageWrite(t.ID(), pageID, offset, before, after)
}

// Savepoint records a named rollback point at the transaction's current
// position in the log.
func (t *Transaction) Savepoint(name string) {
	t.recorder.Savepoint(t.ID(), name)
}

// RollbackToSavepoint undoes every effect since the named savepoint,
// leaving the transaction RUNNING.
func (t *Transaction) RollbackToSavepoint(name string) error {
	if t.Status() != Running {
		return fmt.Errorf("transaction %d is not RUNNING", t.ID())
	}
	return t.recorder.RollbackToSavepoint(t.ID(), name)
}

// Commit moves the transaction to COMMITTING, flushes the commit record,
// then immediately ends it.
func (t *Transaction) Commit() error {
	if err := t.setStatus(Committing); err != nil {
		return err
	}
	if _, err := t.recorder.Commit(t.ID()); err != nil {
		return err
	}
	return t.end()
}

// Abort moves the transaction to ABORTING, logs the abort, rolls back
// every effect, then ends it.
func (t *Transaction) Abort() error {
	if err := t.setStatus(Aborting); err != nil {
		return err
	}
	if _, err := t.recorder.Abort(t.ID()); err != nil {
		return err
	}
	return t.end()
}

func (t *Transaction) end() error {
	if err := t.recorder.End(t.ID()); err != nil {
		return err
	}
	return t.setStatus(Complete)
}

package lock

import "errors"

// Sentinel errors returned by LockManager and LockContext. Callers should
// use errors.Is against these, since the concrete error is always wrapped
// with resource/transaction context via fmt.Errorf("...: %w", ...).
var (
	// ErrDuplicateLock is returned when a transaction requests a lock it
	// already holds on a resource.
	ErrDuplicateLock = errors.New("duplicate lock request")

	// ErrNoLockHeld is returned when release or promote is called for a
	// transaction that holds nothing on the resource.
	ErrNoLockHeld = errors.New("no lock held")

	// ErrInvalidLock is returned for multigranularity violations: a
	// missing parent intention lock, a descendant that would become
	// orphaned, a SIX requested under a SIX ancestor, or a promotion that
	// is not substitutable.
	ErrInvalidLock = errors.New("invalid lock request")

	// ErrUnsupportedOperation is returned for a mutating call against a
	// readonly LockContext.
	ErrUnsupportedOperation = errors.New("unsupported operation on readonly context")
)

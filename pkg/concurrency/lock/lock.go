package lock

import (
	"storemy/pkg/concurrency/locktype"
	"storemy/pkg/primitives"
)

// Lock is a single grant: a transaction holding a mode on a resource.
type Lock struct {
	TransNum     int64
	ResourceName primitives.ResourceName
	LockType     locktype.LockType
}

// request is a pending entry in a resource's FIFO wait queue. releaseSet
// and selfRelease are non-zero only for a queued AcquireAndRelease: the
// other resources to release and whether the requester's own existing
// lock on this resource must be released, both applied atomically with
// the grant once the request reaches the front of the queue and mode is
// compatible with every other transaction's current grant.
type request struct {
	transNum    int64
	lockType    locktype.LockType
	releaseSet  []primitives.ResourceName
	selfRelease bool
	granted     chan struct{}
}

// Package lock implements a flat, multigranularity-aware lock manager: a
// per-resource FIFO wait queue, atomic acquire-and-release, and
// transaction-to-locks bookkeeping. LockContext (in this same package)
// layers tree semantics and parent/child accounting on top of it.
package lock

import (
	"fmt"

	"storemy/pkg/concurrency/locktype"
	"storemy/pkg/primitives"
)

// resourceEntry is the per-resource state: currently granted locks and a
// strict FIFO queue of blocked requests.
type resourceEntry struct {
	granted []*Lock
	queue   []*request
}

// Manager is a flat resourceName -> grants/queue map plus a
// transaction -> locks index. All mutations are serialized by a single
// binary-semaphore channel; this keeps acquireAndRelease atomic across resources, which a
// per-resource lock cannot provide by itself.
type Manager struct {
	mu        chan struct{} // binary semaphore; see lock()/unlock() below
	resources map[string]*resourceEntry
	byTxn     map[int64]map[string]*Lock
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	m := &Manager{
		mu:        make(chan struct{}, 1),
		resources: make(map[string]*resourceEntry),
		byTxn:     make(map[int64]map[string]*Lock),
	}
	m.mu <- struct{}{}
	return m
}

func (m *Manager) lock()   { <-m.mu }
func (m *Manager) unlock() { m.mu <- struct{}{} }

func (m *Manager) entry(name primitives.ResourceName) *resourceEntry {
	key := name.String()
	e, ok := m.resources[key]
	if !ok {
		e = &resourceEntry{}
		m.resources[key] = e
	}
	return e
}

func (m *Manager) heldLocked(transNum int64, name primitives.ResourceName) (*Lock, bool) {
	locks, ok := m.byTxn[transNum]
	if !ok {
		return nil, false
	}
	l, ok := locks[name.String()]
	return l, ok
}

func compatibleWithAll(granted []*Lock, transNum int64, mode locktype.LockType) bool {
	for _, g := range granted {
		if g.TransNum == transNum {
			continue
		}
		if !locktype.Compatible(g.LockType, mode) {
			return false
		}
	}
	return true
}

// grant records l as held: adds it to the resource's granted list and the
// transaction index. Caller must hold m.mu.
func (m *Manager) grantLocked(e *resourceEntry, l *Lock) {
	e.granted = append(e.granted, l)
	locks, ok := m.byTxn[l.TransNum]
	if !ok {
		locks = make(map[string]*Lock)
		m.byTxn[l.TransNum] = locks
	}
	locks[l.ResourceName.String()] = l
}

// revoke removes a transaction's lock from a resource's granted list and
// from the transaction index. Caller must hold m.mu.
func (m *Manager) revokeLocked(e *resourceEntry, name primitives.ResourceName, transNum int64) {
	for i, g := range e.granted {
		if g.TransNum == transNum {
			e.granted = append(e.granted[:i], e.granted[i+1:]...)
			break
		}
	}
	if locks, ok := m.byTxn[transNum]; ok {
		delete(locks, name.String())
		if len(locks) == 0 {
			delete(m.byTxn, transNum)
		}
	}
}

// processQueueLocked grants the longest prefix of e's wait queue that is
// mutually compatible with the current grants, breaking on the first
// incompatible request so FIFO order is preserved and no request starves.
// Caller must hold m.mu.
func (m *Manager) processQueueLocked(name primitives.ResourceName, e *resourceEntry) {
	for len(e.queue) > 0 {
		req := e.queue[0]
		if !compatibleWithAll(e.granted, req.transNum, req.lockType) {
			break
		}
		e.queue = e.queue[1:]
		m.applyAcquireAndReleaseLocked(name, e, req.transNum, req.lockType, req.releaseSet, req.selfRelease)
		close(req.granted)
	}
}

// applyAcquireAndReleaseLocked revokes transNum's locks on others and, if
// selfRelease, on resource itself, then grants mode on resource — all
// before any other goroutine can observe an intermediate state. It then
// wakes waiters on every one of others whose compatibility may have
// changed; resource's own queue is left for the caller's loop (Acquire's
// direct-grant path has none, and processQueueLocked is already iterating
// it). Caller must hold m.mu and must already have verified mode is
// compatible with every other transaction's current grant on resource.
func (m *Manager) applyAcquireAndReleaseLocked(resource primitives.ResourceName, e *resourceEntry, transNum int64, mode locktype.LockType, others []primitives.ResourceName, selfRelease bool) {
	for _, r := range others {
		m.revokeLocked(m.entry(r), r, transNum)
	}
	if selfRelease {
		m.revokeLocked(e, resource, transNum)
	}
	m.grantLocked(e, &Lock{TransNum: transNum, ResourceName: resource, LockType: mode})

	for _, r := range others {
		m.processQueueLocked(r, m.entry(r))
	}
}

// Acquire grants mode on resource to transNum, blocking the caller until
// the request can be satisfied if necessary. NL is never a valid request.
// Acquiring a lock already held by transNum on resource fails with
// ErrDuplicateLock.
func (m *Manager) Acquire(transNum int64, resource primitives.ResourceName, mode locktype.LockType) error {
	if mode == locktype.NL {
		return fmt.Errorf("%w: cannot acquire NL on %s", ErrInvalidLock, resource)
	}

	m.lock()
	if _, held := m.heldLocked(transNum, resource); held {
		m.unlock()
		return fmt.Errorf("%w: transaction %d already holds a lock on %s", ErrDuplicateLock, transNum, resource)
	}

	e := m.entry(resource)
	if len(e.queue) == 0 && compatibleWithAll(e.granted, transNum, mode) {
		m.grantLocked(e, &Lock{TransNum: transNum, ResourceName: resource, LockType: mode})
		m.unlock()
		return nil
	}

	req := &request{transNum: transNum, lockType: mode, granted: make(chan struct{})}
	e.queue = append(e.queue, req)
	m.unlock()

	<-req.granted
	return nil
}

// Release removes transNum's lock from resource, then grants as much of
// the resource's pending FIFO queue as is now compatible.
func (m *Manager) Release(transNum int64, resource primitives.ResourceName) error {
	m.lock()
	defer m.unlock()

	if _, held := m.heldLocked(transNum, resource); !held {
		return fmt.Errorf("%w: transaction %d holds no lock on %s", ErrNoLockHeld, transNum, resource)
	}

	e := m.entry(resource)
	m.revokeLocked(e, resource, transNum)
	m.processQueueLocked(resource, e)
	return nil
}

// Promote atomically changes transNum's mode on resource to newMode. It
// fails with ErrInvalidLock unless newMode is strictly stronger than the
// current mode per Substitutable, and with ErrDuplicateLock if newMode
// equals the current mode. A promotion never bypasses a conflicting
// pending request: it is granted immediately only if compatible with every
// other transaction's granted lock and queued request on resource, and
// otherwise fails with ErrInvalidLock.
func (m *Manager) Promote(transNum int64, resource primitives.ResourceName, newMode locktype.LockType) error {
	m.lock()
	defer m.unlock()

	current, held := m.heldLocked(transNum, resource)
	if !held {
		return fmt.Errorf("%w: transaction %d holds no lock on %s", ErrNoLockHeld, transNum, resource)
	}
	if current.LockType == newMode {
		return fmt.Errorf("%w: transaction %d already holds %s on %s", ErrDuplicateLock, transNum, newMode, resource)
	}
	if !locktype.Substitutable(newMode, current.LockType) {
		return fmt.Errorf("%w: %s does not substitute for %s on %s", ErrInvalidLock, newMode, current.LockType, resource)
	}

	e := m.entry(resource)
	for _, g := range e.granted {
		if g.TransNum == transNum {
			continue
		}
		if !locktype.Compatible(g.LockType, newMode) {
			return fmt.Errorf("%w: promotion to %s on %s conflicts with another transaction", ErrInvalidLock, newMode, resource)
		}
	}
	for _, q := range e.queue {
		if q.transNum != transNum && !locktype.Compatible(q.lockType, newMode) {
			return fmt.Errorf("%w: promotion to %s on %s would bypass a conflicting pending request", ErrInvalidLock, newMode, resource)
		}
	}

	current.LockType = newMode
	return nil
}

// AcquireAndRelease grants mode on resource and releases every lock in
// releaseSet, as one atomic event: no other transaction observes a state
// where the new grant exists without the releases, or vice versa. resource
// may itself appear in releaseSet (i.e. transNum already holds a lock on
// resource and wants to replace it). Like Acquire, mode must be compatible
// with every other transaction's currently granted lock on resource; if it
// is not, or resource already has a pending queue, the request blocks and
// joins the back of that queue instead of bypassing it.
func (m *Manager) AcquireAndRelease(transNum int64, resource primitives.ResourceName, mode locktype.LockType, releaseSet []primitives.ResourceName) error {
	if mode == locktype.NL {
		return fmt.Errorf("%w: cannot acquire NL on %s", ErrInvalidLock, resource)
	}

	m.lock()

	selfRelease := false
	others := make([]primitives.ResourceName, 0, len(releaseSet))
	for _, r := range releaseSet {
		if r.Equals(resource) {
			selfRelease = true
			continue
		}
		if _, held := m.heldLocked(transNum, r); !held {
			m.unlock()
			return fmt.Errorf("%w: transaction %d holds no lock on %s", ErrNoLockHeld, transNum, r)
		}
		others = append(others, r)
	}

	if !selfRelease {
		if _, held := m.heldLocked(transNum, resource); held {
			m.unlock()
			return fmt.Errorf("%w: transaction %d already holds a lock on %s", ErrDuplicateLock, transNum, resource)
		}
	}

	e := m.entry(resource)
	if len(e.queue) == 0 && compatibleWithAll(e.granted, transNum, mode) {
		m.applyAcquireAndReleaseLocked(resource, e, transNum, mode, others, selfRelease)
		m.unlock()
		return nil
	}

	req := &request{transNum: transNum, lockType: mode, releaseSet: others, selfRelease: selfRelease, granted: make(chan struct{})}
	e.queue = append(e.queue, req)
	m.unlock()

	<-req.granted
	return nil
}

// GetLockType returns the mode transNum holds on resource, or NL.
func (m *Manager) GetLockType(transNum int64, resource primitives.ResourceName) locktype.LockType {
	m.lock()
	defer m.unlock()
	if l, held := m.heldLocked(transNum, resource); held {
		return l.LockType
	}
	return locktype.NL
}

// GetLocks returns every lock currently held by transNum.
func (m *Manager) GetLocks(transNum int64) []*Lock {
	m.lock()
	defer m.unlock()
	locks := m.byTxn[transNum]
	out := make([]*Lock, 0, len(locks))
	for _, l := range locks {
		cp := *l
		out = append(out, &cp)
	}
	return out
}

// GetResourceLocks returns every lock currently granted on resource.
func (m *Manager) GetResourceLocks(resource primitives.ResourceName) []*Lock {
	m.lock()
	defer m.unlock()
	e := m.entry(resource)
	out := make([]*Lock, len(e.granted))
	for i, g := range e.granted {
		cp := *g
		out[i] = &cp
	}
	return out
}

// GetDescendantLocks returns every lock held by transNum on a strict
// descendant of resource.
func (m *Manager) GetDescendantLocks(transNum int64, resource primitives.ResourceName) []*Lock {
	m.lock()
	defer m.unlock()
	var out []*Lock
	for _, l := range m.byTxn[transNum] {
		if l.ResourceName.IsDescendantOf(resource) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

package lock

import (
	"fmt"
	"sync"

	"storemy/pkg/concurrency/locktype"
	"storemy/pkg/primitives"
)

// Context is a node in the tree of LockContexts mirroring the resource
// hierarchy (database -> table -> page). It enforces multigranularity
// rules and keeps a per-transaction count of descendant locks on top of
// the flat Manager.
//
// Contexts outlive any single transaction and form a tree rooted at the
// database; parent references are non-owning (a *Context back-pointer),
// while a context owns its children through its children map.
type Context struct {
	mgr    *Manager
	name   primitives.ResourceName
	parent *Context

	mu                 sync.Mutex
	children           map[string]*Context
	readonly           bool
	childLocksDisabled bool
	numChildLocks      map[int64]int // transNum -> count of descendant locks held
}

// NewRoot creates the root LockContext (the database resource) over mgr.
func NewRoot(mgr *Manager) *Context {
	return &Context{
		mgr:           mgr,
		name:          primitives.RootResourceName,
		children:      make(map[string]*Context),
		numChildLocks: make(map[int64]int),
	}
}

// ChildContext returns the LockContext for the named child of ctx,
// creating it on first access.
func (ctx *Context) ChildContext(name string) *Context {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if c, ok := ctx.children[name]; ok {
		return c
	}
	c := &Context{
		mgr:           ctx.mgr,
		name:          ctx.name.Child(name),
		parent:        ctx,
		children:      make(map[string]*Context),
		numChildLocks: make(map[int64]int),
	}
	ctx.children[name] = c
	return c
}

// Parent returns ctx's parent context, or nil at the root.
func (ctx *Context) Parent() *Context { return ctx.parent }

// Children returns the child contexts created so far under ctx, in no
// particular order. Intended for read-only tree rendering (cmd/walinspect);
// it does not create entries the way ChildContext does.
func (ctx *Context) Children() []*Context {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	out := make([]*Context, 0, len(ctx.children))
	for _, c := range ctx.children {
		out = append(out, c)
	}
	return out
}

// ResourceName returns the resource this context guards.
func (ctx *Context) ResourceName() primitives.ResourceName { return ctx.name }

// MarkReadonly turns ctx readonly for all future mutating calls. This is
// one-directional: a readonly context never becomes mutable again.
func (ctx *Context) MarkReadonly() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.readonly = true
}

func (ctx *Context) isReadonly() bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.readonly
}

// DisableChildLocks prevents any descendant of ctx from acquiring locks
// (used for resources whose children are never locked individually).
func (ctx *Context) DisableChildLocks() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.childLocksDisabled = true
}

func (ctx *Context) childLocksAreDisabled() bool {
	for p := ctx.parent; p != nil; p = p.parent {
		p.mu.Lock()
		disabled := p.childLocksDisabled
		p.mu.Unlock()
		if disabled {
			return true
		}
	}
	return false
}

// GetNumChildren returns the number of locks transNum holds on strict
// descendants of ctx.
func (ctx *Context) GetNumChildren(transNum int64) int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.numChildLocks[transNum]
}

// GetExplicitLockType returns the mode transNum explicitly holds at ctx,
// or NL if none.
func (ctx *Context) GetExplicitLockType(transNum int64) locktype.LockType {
	return ctx.mgr.GetLockType(transNum, ctx.name)
}

// GetEffectiveLockType returns the strongest mode transNum effectively
// holds at ctx: its explicit lock if any, else the mode implied by an
// ancestor (S/X propagate down as-is, SIX propagates down as S, pure
// intention locks imply nothing at this node).
func (ctx *Context) GetEffectiveLockType(transNum int64) locktype.LockType {
	if explicit := ctx.GetExplicitLockType(transNum); explicit != locktype.NL {
		return explicit
	}
	if ctx.parent == nil {
		return locktype.NL
	}
	switch ancestor := ctx.parent.GetEffectiveLockType(transNum); ancestor {
	case locktype.S, locktype.X:
		return ancestor
	case locktype.SIX:
		return locktype.S
	default:
		return locktype.NL
	}
}

func (ctx *Context) checkMutable() error {
	if ctx.isReadonly() {
		return fmt.Errorf("%w: %s is readonly", ErrUnsupportedOperation, ctx.name)
	}
	if ctx.childLocksAreDisabled() {
		return fmt.Errorf("%w: locking is disabled below %s", ErrUnsupportedOperation, ctx.name)
	}
	return nil
}

func (ctx *Context) checkParentAllows(transNum int64, requested locktype.LockType) error {
	if ctx.parent == nil {
		return nil
	}
	parentEffective := ctx.parent.GetEffectiveLockType(transNum)
	if !locktype.CanBeParentLock(parentEffective, requested) {
		return fmt.Errorf("%w: parent %s holds %s, which does not permit %s on %s",
			ErrInvalidLock, ctx.parent.name, parentEffective, requested, ctx.name)
	}
	return nil
}

// Acquire requests mode for transNum at ctx, enforcing that ctx is
// mutable and that the parent already holds a compatible intention lock.
func (ctx *Context) Acquire(transNum int64, mode locktype.LockType) error {
	if err := ctx.checkMutable(); err != nil {
		return err
	}
	if err := ctx.checkParentAllows(transNum, mode); err != nil {
		return err
	}
	if err := ctx.mgr.Acquire(transNum, ctx.name, mode); err != nil {
		return err
	}
	ctx.incChildLocksOnAncestors(transNum, 1)
	return nil
}

// incChildLocksOnAncestors increments (or decrements, for negative delta)
// every strict ancestor's per-transaction descendant-lock counter.
func (ctx *Context) incChildLocksOnAncestors(transNum int64, delta int) {
	for p := ctx.parent; p != nil; p = p.parent {
		p.mu.Lock()
		p.numChildLocks[transNum] += delta
		if p.numChildLocks[transNum] <= 0 {
			delete(p.numChildLocks, transNum)
		}
		p.mu.Unlock()
	}
}

// Release releases transNum's lock at ctx. It is denied if any descendant
// of ctx still holds a lock from transNum: releasing ctx's lock first
// would leave those descendant locks without a supporting parent
// intention lock.
func (ctx *Context) Release(transNum int64) error {
	if err := ctx.checkMutable(); err != nil {
		return err
	}
	if ctx.GetNumChildren(transNum) > 0 {
		return fmt.Errorf("%w: transaction %d still holds locks below %s", ErrInvalidLock, transNum, ctx.name)
	}
	if err := ctx.mgr.Release(transNum, ctx.name); err != nil {
		return err
	}
	ctx.incChildLocksOnAncestors(transNum, -1)
	return nil
}

// Promote changes transNum's mode at ctx to newMode. newMode must be
// substitutable for, and different from, the current explicit mode.
// Promoting to SIX is handled specially: it is forbidden under a SIX
// ancestor (redundant), and otherwise atomically replaces the current
// lock with SIX while releasing every descendant lock transNum holds in
// {S, IS} (a SIX lock already implies S on every descendant, so explicit
// S/IS grants below it would be both redundant and orphaned bookkeeping).
func (ctx *Context) Promote(transNum int64, newMode locktype.LockType) error {
	if err := ctx.checkMutable(); err != nil {
		return err
	}

	current := ctx.GetExplicitLockType(transNum)
	if current == locktype.NL {
		return fmt.Errorf("%w: transaction %d holds no lock on %s", ErrNoLockHeld, transNum, ctx.name)
	}
	if newMode == locktype.SIX {
		return ctx.promoteToSIX(transNum, current)
	}

	if current == newMode {
		return fmt.Errorf("%w: transaction %d already holds %s on %s", ErrDuplicateLock, transNum, newMode, ctx.name)
	}
	if !locktype.Substitutable(newMode, current) {
		return fmt.Errorf("%w: %s does not substitute for %s on %s", ErrInvalidLock, newMode, current, ctx.name)
	}
	if err := ctx.checkParentAllows(transNum, newMode); err != nil {
		return err
	}
	return ctx.mgr.Promote(transNum, ctx.name, newMode)
}

func (ctx *Context) promoteToSIX(transNum int64, current locktype.LockType) error {
	if current == locktype.SIX {
		return fmt.Errorf("%w: transaction %d already holds SIX on %s", ErrDuplicateLock, transNum, ctx.name)
	}
	if !locktype.Substitutable(locktype.SIX, current) {
		return fmt.Errorf("%w: SIX does not substitute for %s on %s", ErrInvalidLock, current, ctx.name)
	}
	for p := ctx.parent; p != nil; p = p.parent {
		if p.GetExplicitLockType(transNum) == locktype.SIX {
			return fmt.Errorf("%w: SIX on %s is redundant under SIX ancestor %s", ErrInvalidLock, ctx.name, p.name)
		}
	}
	if err := ctx.checkParentAllows(transNum, locktype.SIX); err != nil {
		return err
	}

	descendants := ctx.mgr.GetDescendantLocks(transNum, ctx.name)
	releaseSet := make([]primitives.ResourceName, 0, len(descendants)+1)
	releaseContexts := make([]*Context, 0, len(descendants))
	for _, l := range descendants {
		if l.LockType == locktype.S || l.LockType == locktype.IS {
			releaseSet = append(releaseSet, l.ResourceName)
			if c := ctx.findDescendantContext(l.ResourceName); c != nil {
				releaseContexts = append(releaseContexts, c)
			}
		}
	}
	releaseSet = append(releaseSet, ctx.name)

	if err := ctx.mgr.AcquireAndRelease(transNum, ctx.name, locktype.SIX, releaseSet); err != nil {
		return err
	}

	for _, c := range releaseContexts {
		c.incChildLocksOnAncestors(transNum, -1)
	}
	return nil
}

// findDescendantContext walks the context tree to find the Context for a
// descendant resource name, if it has been materialized.
func (ctx *Context) findDescendantContext(name primitives.ResourceName) *Context {
	if !name.IsDescendantOf(ctx.name) && !name.Equals(ctx.name) {
		return nil
	}
	cur := ctx
	for _, part := range pathSuffix(ctx.name, name) {
		cur.mu.Lock()
		next, ok := cur.children[part]
		cur.mu.Unlock()
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// pathSuffix returns the path components of name beyond ancestor.
func pathSuffix(ancestor, name primitives.ResourceName) []string {
	var parts []string
	cur := name
	for !cur.Equals(ancestor) {
		parts = append([]string{cur.Name()}, parts...)
		p, ok := cur.Parent()
		if !ok {
			break
		}
		cur = p
	}
	return parts
}

// Escalate collapses every descendant lock transNum holds below ctx, plus
// ctx's own lock, into a single S or X grant at ctx. X is chosen iff ctx
// or any descendant holds IX, SIX, or X; otherwise S. Requires a lock held
// at ctx. Idempotent: if ctx already holds the target mode, this is a
// no-op.
func (ctx *Context) Escalate(transNum int64) error {
	if err := ctx.checkMutable(); err != nil {
		return err
	}

	current := ctx.GetExplicitLockType(transNum)
	if current == locktype.NL {
		return fmt.Errorf("%w: transaction %d holds no lock on %s to escalate", ErrNoLockHeld, transNum, ctx.name)
	}
	descendants := ctx.mgr.GetDescendantLocks(transNum, ctx.name)

	target := locktype.S
	if needsExclusive(current) {
		target = locktype.X
	} else {
		for _, l := range descendants {
			if needsExclusive(l.LockType) {
				target = locktype.X
				break
			}
		}
	}

	if current == target {
		return nil
	}

	releaseSet := make([]primitives.ResourceName, 0, len(descendants)+1)
	releaseContexts := make([]*Context, 0, len(descendants))
	for _, l := range descendants {
		releaseSet = append(releaseSet, l.ResourceName)
		if c := ctx.findDescendantContext(l.ResourceName); c != nil {
			releaseContexts = append(releaseContexts, c)
		}
	}
	releaseSet = append(releaseSet, ctx.name)

	if err := ctx.mgr.AcquireAndRelease(transNum, ctx.name, target, releaseSet); err != nil {
		return err
	}

	for _, c := range releaseContexts {
		c.incChildLocksOnAncestors(transNum, -1)
	}
	return nil
}

func needsExclusive(l locktype.LockType) bool {
	return l == locktype.IX || l == locktype.SIX || l == locktype.X
}

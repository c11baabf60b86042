package lock

import (
	"errors"
	"testing"
	"time"

	"storemy/pkg/concurrency/locktype"
	"storemy/pkg/primitives"
)

func res(parts ...string) primitives.ResourceName {
	return primitives.NewResourceName(parts...)
}

func TestAcquireGrantsWhenCompatible(t *testing.T) {
	m := NewManager()
	r := res("database", "t1")

	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := m.GetLockType(1, r); got != locktype.S {
		t.Fatalf("GetLockType = %s, want S", got)
	}
}

func TestAcquireNLIsInvalid(t *testing.T) {
	m := NewManager()
	err := m.Acquire(1, res("database"), locktype.NL)
	if !errors.Is(err, ErrInvalidLock) {
		t.Fatalf("Acquire(NL) err = %v, want ErrInvalidLock", err)
	}
}

func TestAcquireDuplicateFails(t *testing.T) {
	m := NewManager()
	r := res("database")
	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	err := m.Acquire(1, r, locktype.S)
	if !errors.Is(err, ErrDuplicateLock) {
		t.Fatalf("second Acquire err = %v, want ErrDuplicateLock", err)
	}
}

func TestReleaseWithoutLockFails(t *testing.T) {
	m := NewManager()
	err := m.Release(1, res("database"))
	if !errors.Is(err, ErrNoLockHeld) {
		t.Fatalf("Release err = %v, want ErrNoLockHeld", err)
	}
}

func TestReleaseGrantsQueuedCompatibleRequest(t *testing.T) {
	m := NewManager()
	r := res("database")

	if err := m.Acquire(1, r, locktype.X); err != nil {
		t.Fatalf("Acquire t1: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Acquire(2, r, locktype.S) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("t2's Acquire should still be blocked, got %v", err)
	default:
	}

	if err := m.Release(1, r); err != nil {
		t.Fatalf("Release t1: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("t2 Acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("t2's Acquire never unblocked after release")
	}
	if got := m.GetLockType(2, r); got != locktype.S {
		t.Fatalf("t2 GetLockType = %s, want S", got)
	}
}

func TestFIFOPreventsStarvation(t *testing.T) {
	m := NewManager()
	r := res("database")

	if err := m.Acquire(1, r, locktype.X); err != nil {
		t.Fatalf("Acquire t1: %v", err)
	}

	orderCh := make(chan int64, 3)

	go func() {
		m.Acquire(2, r, locktype.S)
		orderCh <- 2
	}()
	time.Sleep(10 * time.Millisecond) // ensure t2 enqueues first
	go func() {
		m.Acquire(3, r, locktype.X)
		orderCh <- 3
	}()
	time.Sleep(10 * time.Millisecond)

	// t4 requests S, which would be compatible with t2's eventual S grant
	// but must not jump ahead of t3's queued X request.
	go func() {
		m.Acquire(4, r, locktype.S)
		orderCh <- 4
	}()
	time.Sleep(10 * time.Millisecond)

	if err := m.Release(1, r); err != nil {
		t.Fatalf("Release t1: %v", err)
	}
	if first := <-orderCh; first != 2 {
		t.Fatalf("first granted after t1 release = t%d, want t2 (FIFO)", first)
	}

	select {
	case got := <-orderCh:
		t.Fatalf("t%d granted while t3's queued X request is still ahead of it", got)
	case <-time.After(20 * time.Millisecond):
	}

	if err := m.Release(2, r); err != nil {
		t.Fatalf("Release t2: %v", err)
	}
	if second := <-orderCh; second != 3 {
		t.Fatalf("second granted after t2 release = t%d, want t3 (FIFO)", second)
	}

	if err := m.Release(3, r); err != nil {
		t.Fatalf("Release t3: %v", err)
	}
	if third := <-orderCh; third != 4 {
		t.Fatalf("third granted after t3 release = t%d, want t4", third)
	}
}

func TestPromoteRequiresSubstitutable(t *testing.T) {
	m := NewManager()
	r := res("database")
	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Promote(1, r, locktype.IS); !errors.Is(err, ErrInvalidLock) {
		t.Fatalf("Promote(S -> IS) err = %v, want ErrInvalidLock", err)
	}
	if err := m.Promote(1, r, locktype.S); !errors.Is(err, ErrDuplicateLock) {
		t.Fatalf("Promote(S -> S) err = %v, want ErrDuplicateLock", err)
	}
	if err := m.Promote(1, r, locktype.X); err != nil {
		t.Fatalf("Promote(S -> X): %v", err)
	}
	if got := m.GetLockType(1, r); got != locktype.X {
		t.Fatalf("GetLockType after promote = %s, want X", got)
	}
}

func TestPromoteWithoutLockFails(t *testing.T) {
	m := NewManager()
	err := m.Promote(1, res("database"), locktype.X)
	if !errors.Is(err, ErrNoLockHeld) {
		t.Fatalf("Promote err = %v, want ErrNoLockHeld", err)
	}
}

func TestPromoteConflictsWithOtherTransactionFails(t *testing.T) {
	m := NewManager()
	r := res("database")
	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire t1: %v", err)
	}
	if err := m.Acquire(2, r, locktype.S); err != nil {
		t.Fatalf("Acquire t2: %v", err)
	}
	err := m.Promote(1, r, locktype.X)
	if !errors.Is(err, ErrInvalidLock) {
		t.Fatalf("Promote err = %v, want ErrInvalidLock (conflicts with t2's S)", err)
	}
}

func TestAcquireAndReleaseAtomicSIXPromotion(t *testing.T) {
	m := NewManager()
	db := res("database")
	t1 := res("database", "t1")
	p3 := res("database", "t1", "3")
	p5 := res("database", "t1", "5")

	mustAcquire := func(transNum int64, r primitives.ResourceName, mode locktype.LockType) {
		t.Helper()
		if err := m.Acquire(transNum, r, mode); err != nil {
			t.Fatalf("Acquire(%d, %s, %s): %v", transNum, r, mode, err)
		}
	}
	mustAcquire(10, db, locktype.IX)
	mustAcquire(10, t1, locktype.IX)
	mustAcquire(10, p3, locktype.S)
	mustAcquire(10, p5, locktype.S)

	err := m.AcquireAndRelease(10, t1, locktype.SIX, []primitives.ResourceName{t1, p3, p5})
	if err != nil {
		t.Fatalf("AcquireAndRelease: %v", err)
	}

	if got := m.GetLockType(10, t1); got != locktype.SIX {
		t.Fatalf("GetLockType(t1) = %s, want SIX", got)
	}
	if got := m.GetLockType(10, p3); got != locktype.NL {
		t.Fatalf("GetLockType(p3) = %s, want NL (released)", got)
	}
	if got := m.GetLockType(10, p5); got != locktype.NL {
		t.Fatalf("GetLockType(p5) = %s, want NL (released)", got)
	}
	if got := m.GetLockType(10, db); got != locktype.IX {
		t.Fatalf("GetLockType(db) = %s, want IX (unchanged)", got)
	}
}

func TestAcquireAndReleaseMissingReleaseTargetFails(t *testing.T) {
	m := NewManager()
	r := res("database", "t1")
	err := m.AcquireAndRelease(1, r, locktype.X, []primitives.ResourceName{res("database", "t1", "9")})
	if !errors.Is(err, ErrNoLockHeld) {
		t.Fatalf("AcquireAndRelease err = %v, want ErrNoLockHeld", err)
	}
}

func TestGetLocksAndGetDescendantLocks(t *testing.T) {
	m := NewManager()
	db := res("database")
	t1 := res("database", "t1")
	p3 := res("database", "t1", "3")

	for _, step := range []struct {
		r primitives.ResourceName
		l locktype.LockType
	}{{db, locktype.IS}, {t1, locktype.IS}, {p3, locktype.S}} {
		if err := m.Acquire(1, step.r, step.l); err != nil {
			t.Fatalf("Acquire(%s): %v", step.r, err)
		}
	}

	locks := m.GetLocks(1)
	if len(locks) != 3 {
		t.Fatalf("GetLocks(1) has %d entries, want 3", len(locks))
	}

	descendants := m.GetDescendantLocks(1, db)
	if len(descendants) != 2 {
		t.Fatalf("GetDescendantLocks(db) has %d entries, want 2 (t1, p3)", len(descendants))
	}

	resourceLocks := m.GetResourceLocks(t1)
	if len(resourceLocks) != 1 || resourceLocks[0].TransNum != 1 {
		t.Fatalf("GetResourceLocks(t1) = %+v, want one lock held by txn 1", resourceLocks)
	}
}

func TestGetLocksReturnsDefensiveCopies(t *testing.T) {
	m := NewManager()
	r := res("database")
	if err := m.Acquire(1, r, locktype.S); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	locks := m.GetLocks(1)
	locks[0].LockType = locktype.X
	if got := m.GetLockType(1, r); got != locktype.S {
		t.Fatalf("mutating a returned Lock must not affect manager state; GetLockType = %s, want S", got)
	}
}

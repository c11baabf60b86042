package lock

import (
	"errors"
	"testing"

	"storemy/pkg/concurrency/locktype"
)

// buildTree returns a root LockContext plus t1/p3/p5 descendants, the
// shape most of the multigranularity tests below share.
func buildTree() (root, t1, p3, p5 *Context) {
	m := NewManager()
	root = NewRoot(m)
	t1 = root.ChildContext("t1")
	p3 = t1.ChildContext("3")
	p5 = t1.ChildContext("5")
	return
}

func TestAcquireRejectsMissingParentIntention(t *testing.T) {
	root, t1, _, _ := buildTree()
	const txn = 1
	// Nothing is held on root, and CanBeParentLock(NL, S) is false, so
	// acquiring S on t1 directly must fail.
	_ = root
	if err := t1.Acquire(txn, locktype.S); !errors.Is(err, ErrInvalidLock) {
		t.Fatalf("Acquire(S) under NL parent err = %v, want ErrInvalidLock", err)
	}
}

func TestAcquireSucceedsWithIntentionAncestor(t *testing.T) {
	root, t1, _, _ := buildTree()
	const txn = 1
	if err := root.Acquire(txn, locktype.IS); err != nil {
		t.Fatalf("Acquire(IS) on root: %v", err)
	}
	if err := t1.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire(S) on t1: %v", err)
	}
	if got := t1.GetExplicitLockType(txn); got != locktype.S {
		t.Fatalf("t1 explicit = %s, want S", got)
	}
}

func TestGetEffectiveLockType(t *testing.T) {
	root, t1, p3, _ := buildTree()
	const txn = 1
	if err := root.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire(S) on root: %v", err)
	}
	if got := t1.GetEffectiveLockType(txn); got != locktype.S {
		t.Fatalf("t1 effective under S root = %s, want S", got)
	}
	if got := p3.GetEffectiveLockType(txn); got != locktype.S {
		t.Fatalf("p3 effective under S root = %s, want S", got)
	}
}

func TestGetEffectiveLockTypeUnderSIX(t *testing.T) {
	m := NewManager()
	root := NewRoot(m)
	t1 := root.ChildContext("t1")
	const txn = 1

	if err := root.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire(IX) root: %v", err)
	}
	if err := t1.Acquire(txn, locktype.SIX); err != nil {
		t.Fatalf("Acquire(SIX) t1: %v", err)
	}
	p3 := t1.ChildContext("3")
	if got := p3.GetEffectiveLockType(txn); got != locktype.S {
		t.Fatalf("p3 effective under SIX ancestor = %s, want S", got)
	}
}

func TestReleaseDeniedWithDescendantLocksHeld(t *testing.T) {
	root, t1, p3, _ := buildTree()
	const txn = 1
	if err := root.Acquire(txn, locktype.IS); err != nil {
		t.Fatalf("Acquire(IS) root: %v", err)
	}
	if err := t1.Acquire(txn, locktype.IS); err != nil {
		t.Fatalf("Acquire(IS) t1: %v", err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire(S) p3: %v", err)
	}

	if err := t1.Release(txn); !errors.Is(err, ErrInvalidLock) {
		t.Fatalf("Release(t1) with p3 still held err = %v, want ErrInvalidLock", err)
	}

	if err := p3.Release(txn); err != nil {
		t.Fatalf("Release(p3): %v", err)
	}
	if err := t1.Release(txn); err != nil {
		t.Fatalf("Release(t1) after descendant released: %v", err)
	}
}

func TestReleaseDecrementsParentChildCount(t *testing.T) {
	root, t1, p3, _ := buildTree()
	const txn = 1
	if err := root.Acquire(txn, locktype.IS); err != nil {
		t.Fatal(err)
	}
	if err := t1.Acquire(txn, locktype.IS); err != nil {
		t.Fatal(err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatal(err)
	}
	if got := t1.GetNumChildren(txn); got != 1 {
		t.Fatalf("t1.GetNumChildren = %d, want 1", got)
	}
	if got := root.GetNumChildren(txn); got != 2 {
		t.Fatalf("root.GetNumChildren = %d, want 2 (t1, p3)", got)
	}

	if err := p3.Release(txn); err != nil {
		t.Fatal(err)
	}
	if got := t1.GetNumChildren(txn); got != 0 {
		t.Fatalf("t1.GetNumChildren after release = %d, want 0", got)
	}
	if got := root.GetNumChildren(txn); got != 1 {
		t.Fatalf("root.GetNumChildren after release = %d, want 1", got)
	}
}

// TestSIXPromotionScenario: a transaction holding
// IX(db), IX(t1), S(p3), S(p5) promotes t1 to SIX. Afterward it holds
// IX(db), SIX(t1), and no locks on p3/p5.
func TestSIXPromotionScenario(t *testing.T) {
	root, t1, p3, p5 := buildTree()
	const txn = 1

	if err := root.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire(IX) root: %v", err)
	}
	if err := t1.Acquire(txn, locktype.IX); err != nil {
		t.Fatalf("Acquire(IX) t1: %v", err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire(S) p3: %v", err)
	}
	if err := p5.Acquire(txn, locktype.S); err != nil {
		t.Fatalf("Acquire(S) p5: %v", err)
	}

	if err := t1.Promote(txn, locktype.SIX); err != nil {
		t.Fatalf("Promote(SIX): %v", err)
	}

	if got := root.GetExplicitLockType(txn); got != locktype.IX {
		t.Fatalf("root explicit = %s, want IX", got)
	}
	if got := t1.GetExplicitLockType(txn); got != locktype.SIX {
		t.Fatalf("t1 explicit = %s, want SIX", got)
	}
	if got := p3.GetExplicitLockType(txn); got != locktype.NL {
		t.Fatalf("p3 explicit = %s, want NL", got)
	}
	if got := p5.GetExplicitLockType(txn); got != locktype.NL {
		t.Fatalf("p5 explicit = %s, want NL", got)
	}
	if got := t1.GetNumChildren(txn); got != 0 {
		t.Fatalf("t1.GetNumChildren after SIX promotion = %d, want 0", got)
	}
}

func TestSIXPromotionForbiddenUnderSIXAncestor(t *testing.T) {
	m := NewManager()
	root := NewRoot(m)
	t1 := root.ChildContext("t1")
	p3 := t1.ChildContext("3")
	const txn = 1

	if err := root.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	if err := t1.Acquire(txn, locktype.SIX); err != nil {
		t.Fatal(err)
	}
	if err := p3.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	if err := p3.Promote(txn, locktype.SIX); !errors.Is(err, ErrInvalidLock) {
		t.Fatalf("Promote(SIX) under SIX ancestor err = %v, want ErrInvalidLock", err)
	}
}

// TestEscalateChoosesX: a transaction holding
// IX(t1), S(p3), X(p5) escalates at t1 and ends up holding X(t1) with no
// descendant locks.
func TestEscalateChoosesX(t *testing.T) {
	root, t1, p3, p5 := buildTree()
	const txn = 1

	if err := root.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	if err := t1.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatal(err)
	}
	if err := p5.Acquire(txn, locktype.X); err != nil {
		t.Fatal(err)
	}

	if err := t1.Escalate(txn); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	if got := t1.GetExplicitLockType(txn); got != locktype.X {
		t.Fatalf("t1 explicit = %s, want X", got)
	}
	if got := p3.GetExplicitLockType(txn); got != locktype.NL {
		t.Fatalf("p3 explicit = %s, want NL", got)
	}
	if got := p5.GetExplicitLockType(txn); got != locktype.NL {
		t.Fatalf("p5 explicit = %s, want NL", got)
	}
	if got := t1.GetNumChildren(txn); got != 0 {
		t.Fatalf("t1.GetNumChildren after escalate = %d, want 0", got)
	}
}

func TestEscalateChoosesSWithOnlySharedDescendants(t *testing.T) {
	root, t1, p3, p5 := buildTree()
	const txn = 1

	if err := root.Acquire(txn, locktype.IS); err != nil {
		t.Fatal(err)
	}
	if err := t1.Acquire(txn, locktype.IS); err != nil {
		t.Fatal(err)
	}
	if err := p3.Acquire(txn, locktype.S); err != nil {
		t.Fatal(err)
	}
	if err := p5.Acquire(txn, locktype.S); err != nil {
		t.Fatal(err)
	}

	if err := t1.Escalate(txn); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got := t1.GetExplicitLockType(txn); got != locktype.S {
		t.Fatalf("t1 explicit = %s, want S", got)
	}
}

// TestEscalateIsIdempotent verifies that a second Escalate in a row
// succeeds and leaves the escalated lock in place; the manager exposes no
// call-counting hook, so the number of mutating calls is not checked.
func TestEscalateIsIdempotent(t *testing.T) {
	root, t1, p3, _ := buildTree()
	const txn = 1

	if err := root.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	if err := t1.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	if err := p3.Acquire(txn, locktype.X); err != nil {
		t.Fatal(err)
	}
	if err := t1.Escalate(txn); err != nil {
		t.Fatalf("first Escalate: %v", err)
	}
	if err := t1.Escalate(txn); err != nil {
		t.Fatalf("second Escalate should be a no-op, got error: %v", err)
	}
	if got := t1.GetExplicitLockType(txn); got != locktype.X {
		t.Fatalf("t1 explicit after idempotent escalate = %s, want X", got)
	}
}

func TestPromoteWithoutLockFailsAtContext(t *testing.T) {
	_, t1, _, _ := buildTree()
	const txn = 1
	if err := t1.Promote(txn, locktype.SIX); !errors.Is(err, ErrNoLockHeld) {
		t.Fatalf("Promote with nothing held err = %v, want ErrNoLockHeld", err)
	}
}

func TestEscalateWithoutLockFails(t *testing.T) {
	_, t1, _, _ := buildTree()
	const txn = 1
	if err := t1.Escalate(txn); !errors.Is(err, ErrNoLockHeld) {
		t.Fatalf("Escalate with nothing held err = %v, want ErrNoLockHeld", err)
	}
}

func TestPromoteRejectsNonSubstitutable(t *testing.T) {
	root, _, _, _ := buildTree()
	const txn = 1
	if err := root.Acquire(txn, locktype.S); err != nil {
		t.Fatal(err)
	}
	if err := root.Promote(txn, locktype.IX); !errors.Is(err, ErrInvalidLock) {
		t.Fatalf("Promote(S -> IX) err = %v, want ErrInvalidLock", err)
	}
}

func TestReadonlyContextRejectsMutation(t *testing.T) {
	root, t1, _, _ := buildTree()
	const txn = 1
	t1.MarkReadonly()
	if err := t1.Acquire(txn, locktype.S); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("Acquire on readonly context err = %v, want ErrUnsupportedOperation", err)
	}
	_ = root
}

func TestDisableChildLocksBlocksDescendants(t *testing.T) {
	root, t1, p3, _ := buildTree()
	const txn = 1
	if err := root.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	if err := t1.Acquire(txn, locktype.IX); err != nil {
		t.Fatal(err)
	}
	t1.DisableChildLocks()
	if err := p3.Acquire(txn, locktype.S); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("Acquire below disabled node err = %v, want ErrUnsupportedOperation", err)
	}
}

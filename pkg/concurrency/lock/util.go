package lock

import "storemy/pkg/concurrency/locktype"

// EnsureSufficientLockHeld guarantees that request is substitutable by
// transNum's effective lock at ctx, using the least permissive sequence of
// operations. request must be one of NL, S, or X.
func EnsureSufficientLockHeld(transNum int64, ctx *Context, request locktype.LockType) error {
	effective := ctx.GetEffectiveLockType(transNum)
	if locktype.Substitutable(effective, request) {
		return nil
	}

	explicit := ctx.GetExplicitLockType(transNum)

	if explicit == locktype.IX && request == locktype.S {
		return ctx.Promote(transNum, locktype.SIX)
	}

	if isIntentOnly(explicit) {
		if err := ctx.Escalate(transNum); err != nil {
			return err
		}
		if locktype.Substitutable(ctx.GetEffectiveLockType(transNum), request) {
			return nil
		}
		// Escalation settled on S but the request needs X; fall through to
		// the ancestor walk and promote the escalated lock the rest of the
		// way.
		explicit = ctx.GetExplicitLockType(transNum)
	}

	intention := locktype.IS
	if request == locktype.X {
		intention = locktype.IX
	}
	if ctx.parent != nil {
		if err := ensureAncestorIntention(transNum, ctx.parent, intention); err != nil {
			return err
		}
	}

	if explicit == locktype.NL {
		return ctx.Acquire(transNum, request)
	}
	return ctx.Promote(transNum, request)
}

// ensureAncestorIntention walks to the root first, then brings each
// ancestor (root first) up to at least the required intention lock by
// acquiring it (if the ancestor currently holds nothing) or promoting it
// (otherwise).
func ensureAncestorIntention(transNum int64, ctx *Context, intention locktype.LockType) error {
	if ctx.parent != nil {
		if err := ensureAncestorIntention(transNum, ctx.parent, intention); err != nil {
			return err
		}
	}

	explicit := ctx.GetExplicitLockType(transNum)
	if locktype.Substitutable(explicit, intention) {
		return nil
	}
	if explicit == locktype.NL {
		return ctx.Acquire(transNum, intention)
	}
	if explicit == locktype.S && intention == locktype.IX {
		// S cannot be promoted to IX directly; SIX is the lock that covers
		// both the held S and the required write intent.
		return ctx.Promote(transNum, locktype.SIX)
	}
	return ctx.Promote(transNum, intention)
}

func isIntentOnly(l locktype.LockType) bool {
	return l == locktype.IS || l == locktype.IX
}

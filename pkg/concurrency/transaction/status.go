// Package transaction implements the Transaction abstraction: the single
// point of contact between a caller's mutations and the two independent
// subsystems of this repo, the lock manager and the recovery manager.
// Transaction itself holds no locking or logging logic — it only calls
// into both through small interfaces, so that neither subsystem imports
// the other.
package transaction

import "fmt"

// Status is a transaction's position in the ARIES/2PL state machine:
// RUNNING -> {COMMITTING, ABORTING, RECOVERY_ABORTING} -> COMPLETE.
type Status int

const (
	Running Status = iota
	Committing
	Aborting
	RecoveryAborting
	Complete
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Committing:
		return "COMMITTING"
	case Aborting:
		return "ABORTING"
	case RecoveryAborting:
		return "RECOVERY_ABORTING"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// forwardMoves lists, for each status, the statuses it may transition to.
// Every listed move is a forward move or a recovery-specific promotion;
// there is no entry that moves back toward RUNNING from anywhere.
var forwardMoves = map[Status]map[Status]bool{
	Running:          {Committing: true, Aborting: true, RecoveryAborting: true},
	Committing:       {Complete: true},
	Aborting:         {Complete: true},
	RecoveryAborting: {Complete: true},
	Complete:         {},
}

// CanTransition reports whether moving from current to target is an
// admissible forward transition. Equal states are never admissible — a
// transition always changes status.
func CanTransition(current, target Status) bool {
	if current == target {
		return false
	}
	return forwardMoves[current][target]
}

// Transition validates and returns target, or an error naming the
// rejected move — used at every call site that changes a transaction's
// status, so that e.g. an ABORTING transaction can never be pulled back
// to RUNNING by a racing checkpoint-merge.
func Transition(current, target Status) (Status, error) {
	if !CanTransition(current, target) {
		return current, fmt.Errorf("illegal transaction status transition %s -> %s", current, target)
	}
	return target, nil
}

package recovery

import (
	"fmt"

	"storemy/pkg/log/record"
	"storemy/pkg/primitives"
)

// applyRedo performs rec's side effect against the wired buffer pool and
// disk space manager. Used both to apply a freshly-built CLR during
// rollback and, in Redo, to replay a record from the log.
func (m *Manager) applyRedo(rec *record.LogRecord) error {
	m.mu.RLock()
	bm, dsm := m.bm, m.dsm
	m.mu.RUnlock()
	if bm == nil || dsm == nil {
		return ErrNoCollaborators
	}
	if err := rec.Redo(bm, dsm); err != nil {
		return fmt.Errorf("apply %s at LSN %d: %w", rec.Type, rec.LSN, err)
	}
	return nil
}

// trackCLREffect updates the DPT (and, for allocation-shaped CLRs,
// flushes immediately) to reflect a just-applied compensation record,
// mirroring the bookkeeping LogPageWrite/LogAllocPage/LogFreePage perform
// for their forward counterparts.
func (m *Manager) trackCLREffect(clr *record.LogRecord) error {
	switch clr.Type {
	case record.UndoUpdatePage:
		m.dirtyPage(clr.PageID, clr.LSN)
	case record.UndoAllocPage:
		m.mu.Lock()
		m.removeDirtyPageLocked(clr.PageID)
		m.mu.Unlock()
		return m.log.FlushTo(clr.LSN)
	case record.UndoFreePage, record.UndoAllocPart, record.UndoFreePart:
		return m.log.FlushTo(clr.LSN)
	}
	return nil
}

// rollbackToLSN undoes every effect a transaction has logged back to, but
// not including, target. It is used both by End (full rollback to 0 of an
// ABORTING transaction) and by RollbackToSavepoint (partial rollback).
func (m *Manager) rollbackToLSN(transNum int64, target primitives.LSN) error {
	m.mu.RLock()
	e, err := m.entryLocked(transNum)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	lastLSN := e.LastLSN
	m.mu.RUnlock()

	cursor := lastLSN
	currentLastLSN := lastLSN

	if lastLSN != 0 {
		rec, err := m.log.Fetch(lastLSN)
		if err != nil {
			return fmt.Errorf("rollback %d: fetch %d: %w", transNum, lastLSN, err)
		}
		if u, ok := rec.GetUndoNextLSN(); rec.IsCLR() && ok {
			cursor = u
		}
	}

	for cursor > target {
		rec, err := m.log.Fetch(cursor)
		if err != nil {
			return fmt.Errorf("rollback %d: fetch %d: %w", transNum, cursor, err)
		}

		var next primitives.LSN
		if rec.IsUndoable() {
			clr, err := rec.Undo(currentLastLSN)
			if err != nil {
				return fmt.Errorf("rollback %d: undo %d: %w", transNum, cursor, err)
			}
			lsn, err := m.log.Append(clr)
			if err != nil {
				return fmt.Errorf("rollback %d: append CLR: %w", transNum, err)
			}
			clr.LSN = lsn

			if err := m.applyRedo(clr); err != nil {
				return fmt.Errorf("rollback %d: apply CLR %d: %w", transNum, lsn, err)
			}
			if err := m.trackCLREffect(clr); err != nil {
				return fmt.Errorf("rollback %d: track CLR %d: %w", transNum, lsn, err)
			}

			m.mu.Lock()
			if e, err := m.entryLocked(transNum); err == nil {
				e.LastLSN = lsn
			}
			m.mu.Unlock()
			currentLastLSN = lsn

			u, ok := clr.GetUndoNextLSN()
			if !ok {
				return fmt.Errorf("rollback %d: CLR at %d has no undoNextLSN", transNum, clr.LSN)
			}
			next = u
		} else if rec.IsCLR() {
			u, ok := rec.GetUndoNextLSN()
			if !ok {
				return fmt.Errorf("rollback %d: CLR at %d has no undoNextLSN", transNum, rec.LSN)
			}
			next = u
		} else {
			next = rec.PrevLSN
		}

		cursor = next
	}
	return nil
}

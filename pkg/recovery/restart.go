package recovery

import (
	"container/heap"
	"fmt"
	"io"

	"storemy/pkg/concurrency/transaction"
	"storemy/pkg/log/record"
	"storemy/pkg/primitives"
	"storemy/pkg/storage"
)

// Restart runs the full three-phase ARIES recovery protocol: Analysis,
// Redo, then Undo, finishing with a fresh checkpoint. It runs to
// completion or not at all — callers must not start new transactions
// until it returns. onNewTransaction, if non-nil, is called once for
// every transNum Analysis discovers that has no prior handle: recovery
// itself only needs the number, but a caller tracking live Transaction
// objects needs to learn about these synthetic ones too.
func (m *Manager) Restart(onNewTransaction func(transNum int64)) error {
	if err := m.analysis(onNewTransaction); err != nil {
		return fmt.Errorf("restart: analysis: %w", err)
	}
	if err := m.analysisCleanup(); err != nil {
		return fmt.Errorf("restart: analysis: %w", err)
	}
	if err := m.redo(); err != nil {
		return fmt.Errorf("restart: redo: %w", err)
	}
	m.mu.Lock()
	m.redoComplete = true
	m.mu.Unlock()

	m.cleanDPT()

	if err := m.undo(); err != nil {
		return fmt.Errorf("restart: undo: %w", err)
	}
	if _, err := m.Checkpoint(); err != nil {
		return fmt.Errorf("restart: final checkpoint: %w", err)
	}
	return nil
}

// Analyze runs only the Analysis scan and leaves the resulting dirty
// page table and transaction table in place for inspection via
// DirtyPageTableSnapshot/TransactionTableSnapshot. Unlike Restart's
// Analysis phase it appends nothing — no end-of-scan ABORT/END records —
// and never touches a buffer pool or disk space manager, so it is safe
// to call against a log opened purely for diagnostics (cmd/walinspect's
// use case).
func (m *Manager) Analyze() error {
	return m.analysis(nil)
}

func (m *Manager) analysis(onNewTransaction func(transNum int64)) error {
	master, err := m.log.Fetch(0)
	if err != nil {
		return fmt.Errorf("read master record: %w", err)
	}

	m.mu.Lock()
	m.dpt = make(map[primitives.HashCode]primitives.LSN)
	m.dptPages = make(map[primitives.HashCode]primitives.PageID)
	m.txnTable = make(map[int64]*TransactionTableEntry)
	m.mu.Unlock()

	it, err := m.log.ScanFrom(master.LastCheckpointLSN)
	if err != nil {
		return fmt.Errorf("scan from %d: %w", master.LastCheckpointLSN, err)
	}
	defer it.Close()

	ended := make(map[int64]bool)

	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := m.analyzeRecord(rec, ended, onNewTransaction); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureEntryLocked(transNum int64, onNewTransaction func(int64)) *TransactionTableEntry {
	e, ok := m.txnTable[transNum]
	if !ok {
		e = &TransactionTableEntry{Status: transaction.Running, Savepoints: make(map[string]primitives.LSN)}
		m.txnTable[transNum] = e
		if onNewTransaction != nil {
			onNewTransaction(transNum)
		}
	}
	return e
}

func (m *Manager) analyzeRecord(rec *record.LogRecord, ended map[int64]bool, onNewTransaction func(int64)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transNum, hasTxn := rec.GetTransNum()
	if hasTxn && rec.Type != record.EndTransaction {
		e := m.ensureEntryLocked(transNum, onNewTransaction)
		e.LastLSN = rec.LSN
	}

	if pageID := rec.GetPageNum(); pageID != nil {
		switch rec.Type {
		case record.AllocPage, record.UndoFreePage:
			// no DPT change: allocation is immediately durable.
		case record.UpdatePage, record.UndoUpdatePage:
			m.dirtyPageLocked(pageID, rec.LSN)
		case record.FreePage, record.UndoAllocPage:
			m.removeDirtyPageLocked(pageID)
		}
	}

	switch rec.Type {
	case record.CommitTransaction:
		if e, ok := m.txnTable[transNum]; ok {
			e.Status = transaction.Committing
		}

	case record.AbortTransaction:
		if e, ok := m.txnTable[transNum]; ok {
			e.Status = transaction.RecoveryAborting
		}

	case record.EndTransaction:
		delete(m.txnTable, transNum)
		ended[transNum] = true

	case record.EndCheckpoint:
		for h, lsn := range rec.DirtyPageTable {
			m.dpt[h] = lsn
		}
		for t, snap := range rec.TransactionTable {
			if ended[t] {
				continue
			}
			e, ok := m.txnTable[t]
			if !ok {
				e = &TransactionTableEntry{
					Status:     checkpointStatus(snap.Status),
					LastLSN:    snap.LastLSN,
					Savepoints: make(map[string]primitives.LSN),
				}
				m.txnTable[t] = e
				if onNewTransaction != nil {
					onNewTransaction(t)
				}
				continue
			}
			if snap.LastLSN > e.LastLSN {
				e.LastLSN = snap.LastLSN
			}
			target := checkpointStatus(snap.Status)
			if transaction.CanTransition(e.Status, target) {
				e.Status = target
			}
		}
	}

	return nil
}

// checkpointStatus maps a checkpoint-recorded status to its restart-time
// equivalent: a transaction that was ABORTING when the checkpoint was
// taken resumes as RECOVERY_ABORTING, so undo rolls it back and appends
// its END.
func checkpointStatus(s record.TxnStatus) transaction.Status {
	st := fromTxnStatus(s)
	if st == transaction.Aborting {
		return transaction.RecoveryAborting
	}
	return st
}

// analysisCleanup applies the end-of-scan rules: a still-COMMITTING
// transaction is completed outright, a still-RUNNING one is flipped to
// RECOVERY_ABORTING so Undo will roll it back; RECOVERY_ABORTING
// transactions are left as-is for Undo.
func (m *Manager) analysisCleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for t, e := range m.txnTable {
		switch e.Status {
		case transaction.Committing:
			lsn, err := m.log.Append(&record.LogRecord{
				Type: record.EndTransaction, TransNum: t, HasTransNum: true, PrevLSN: e.LastLSN,
			})
			if err != nil {
				return fmt.Errorf("analysis cleanup: end committing %d: %w", t, err)
			}
			_ = lsn
			delete(m.txnTable, t)

		case transaction.Running:
			lsn, err := m.log.Append(&record.LogRecord{
				Type: record.AbortTransaction, TransNum: t, HasTransNum: true, PrevLSN: e.LastLSN,
			})
			if err != nil {
				return fmt.Errorf("analysis cleanup: abort running %d: %w", t, err)
			}
			e.LastLSN = lsn
			e.Status = transaction.RecoveryAborting
		}
	}
	return nil
}

// alwaysRedo is the set of types whose effect is unconditionally replayed
// during Redo, regardless of DPT membership: partition operations and the
// two page-creating ops.
func alwaysRedo(t record.Type) bool {
	switch t {
	case record.AllocPart, record.FreePart, record.UndoAllocPart, record.UndoFreePart,
		record.AllocPage, record.UndoFreePage:
		return true
	default:
		return false
	}
}

// dptGatedRedo is the set of types whose replay is gated on the DPT and
// pageLSN comparison.
func dptGatedRedo(t record.Type) bool {
	switch t {
	case record.UpdatePage, record.UndoUpdatePage, record.FreePage, record.UndoAllocPage:
		return true
	default:
		return false
	}
}

func (m *Manager) redo() error {
	m.mu.RLock()
	startLSN := primitives.LSN(0)
	first := true
	for _, lsn := range m.dpt {
		if first || lsn < startLSN {
			startLSN = lsn
			first = false
		}
	}
	knownPages := make([]primitives.PageID, 0, len(m.dptPages))
	for _, id := range m.dptPages {
		knownPages = append(knownPages, id)
	}
	bm := m.bm
	m.mu.RUnlock()

	// Every DPT page with a known concrete PageID is independently
	// fetchable and pinnable before the sequential replay starts; this fans the
	// pin/check/unpin out concurrently instead of serializing it with
	// the log scan below.
	if bm != nil && len(knownPages) > 0 {
		if err := storage.VerifyPages(bm, knownPages, func(p storage.Page) error {
			_ = p.PageLSN()
			return nil
		}); err != nil {
			return fmt.Errorf("verify dirty pages: %w", err)
		}
	}

	it, err := m.log.ScanFrom(startLSN)
	if err != nil {
		return fmt.Errorf("scan from %d: %w", startLSN, err)
	}
	defer it.Close()

	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if !rec.IsRedoable() {
			continue
		}

		switch {
		case alwaysRedo(rec.Type):
			if err := m.applyRedo(rec); err != nil {
				return err
			}
		case dptGatedRedo(rec.Type):
			if err := m.redoIfGated(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) redoIfGated(rec *record.LogRecord) error {
	pageID := rec.PageID
	h := pageID.HashCode()

	m.mu.RLock()
	recLSN, inDPT := m.dpt[h]
	bm := m.bm
	m.mu.RUnlock()
	if !inDPT || rec.LSN < recLSN {
		return nil
	}
	if bm == nil {
		return ErrNoCollaborators
	}

	page, err := bm.FetchPage(pageID)
	if err != nil {
		return fmt.Errorf("redo %s at LSN %d: fetch %s: %w", rec.Type, rec.LSN, pageID, err)
	}
	defer bm.UnpinPage(pageID)

	if page.PageLSN() >= rec.LSN {
		return nil
	}
	return m.applyRedo(rec)
}

// cleanDPT retains only the DPT entries for pages the buffer pool still
// considers dirty; it runs once, after Redo, since it is O(pages).
func (m *Manager) cleanDPT() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bm == nil {
		return
	}

	dirty := m.bm.DirtyPageIDs()
	newDPT := make(map[primitives.HashCode]primitives.LSN, len(dirty))
	newPages := make(map[primitives.HashCode]primitives.PageID, len(dirty))
	for _, id := range dirty {
		h := id.HashCode()
		if lsn, ok := m.dpt[h]; ok {
			newDPT[h] = lsn
			newPages[h] = id
		}
	}
	m.dpt = newDPT
	m.dptPages = newPages
}

type undoItem struct {
	transNum int64
	cursor   primitives.LSN
}

type undoHeap []undoItem

func (h undoHeap) Len() int            { return len(h) }
func (h undoHeap) Less(i, j int) bool  { return h[i].cursor > h[j].cursor } // max-heap
func (h undoHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *undoHeap) Push(x any)         { *h = append(*h, x.(undoItem)) }
func (h *undoHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// undo rolls back every RECOVERY_ABORTING transaction, processing the
// single globally-latest outstanding LSN across all of them at each step
// so no transaction's rollback can starve another's.
func (m *Manager) undo() error {
	m.mu.RLock()
	h := &undoHeap{}
	for t, e := range m.txnTable {
		if e.Status == transaction.RecoveryAborting {
			heap.Push(h, undoItem{transNum: t, cursor: e.LastLSN})
		}
	}
	m.mu.RUnlock()

	for h.Len() > 0 {
		item := heap.Pop(h).(undoItem)
		if item.cursor == 0 {
			if err := m.completeUndo(item.transNum); err != nil {
				return err
			}
			continue
		}

		rec, err := m.log.Fetch(item.cursor)
		if err != nil {
			return fmt.Errorf("undo: fetch %d: %w", item.cursor, err)
		}

		var next primitives.LSN
		if rec.IsUndoable() {
			m.mu.RLock()
			e, ok := m.txnTable[item.transNum]
			lastLSN := primitives.LSN(0)
			if ok {
				lastLSN = e.LastLSN
			}
			m.mu.RUnlock()

			clr, err := rec.Undo(lastLSN)
			if err != nil {
				return fmt.Errorf("undo: build CLR at %d: %w", item.cursor, err)
			}
			lsn, err := m.log.Append(clr)
			if err != nil {
				return fmt.Errorf("undo: append CLR: %w", err)
			}
			clr.LSN = lsn

			m.mu.Lock()
			if e, ok := m.txnTable[item.transNum]; ok {
				e.LastLSN = lsn
			}
			m.mu.Unlock()

			if err := m.applyRedo(clr); err != nil {
				return fmt.Errorf("undo: apply CLR %d: %w", lsn, err)
			}
			if err := m.trackCLREffect(clr); err != nil {
				return fmt.Errorf("undo: track CLR %d: %w", lsn, err)
			}

			u, ok := clr.GetUndoNextLSN()
			if !ok {
				return fmt.Errorf("undo: CLR at %d has no undoNextLSN", clr.LSN)
			}
			next = u
		} else if rec.IsCLR() {
			u, ok := rec.GetUndoNextLSN()
			if !ok {
				return fmt.Errorf("undo: CLR at %d has no undoNextLSN", rec.LSN)
			}
			next = u
		} else {
			next = rec.PrevLSN
		}

		heap.Push(h, undoItem{transNum: item.transNum, cursor: next})
	}
	return nil
}

func (m *Manager) completeUndo(transNum int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.txnTable[transNum]
	if !ok {
		return nil
	}
	lsn, err := m.log.Append(&record.LogRecord{
		Type: record.EndTransaction, TransNum: transNum, HasTransNum: true, PrevLSN: e.LastLSN,
	})
	if err != nil {
		return fmt.Errorf("undo: end %d: %w", transNum, err)
	}
	e.LastLSN = lsn
	e.Status = transaction.Complete
	delete(m.txnTable, transNum)
	return nil
}

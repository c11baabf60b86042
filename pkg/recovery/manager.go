// Package recovery implements ARIES-style crash recovery: write-ahead
// logging, forward-processing bookkeeping (dirty page table, transaction
// table), checkpointing, and the three-phase restart protocol (Analysis,
// Redo, Undo). It is the sole owner of the log's meaning; pkg/log/wal only
// knows how to append and scan bytes.
package recovery

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"storemy/pkg/concurrency/transaction"
	"storemy/pkg/log/record"
	"storemy/pkg/log/wal"
	"storemy/pkg/primitives"
	"storemy/pkg/storage"
)

// Config bundles the recovery manager's tunables. There is exactly one
// today (the checkpoint chunk size), but the struct gives new knobs
// somewhere to live.
type Config struct {
	// CheckpointChunkSize caps how many dirty-page and transaction-table
	// entries an END_CHECKPOINT record carries before checkpoint() emits
	// it and starts a fresh one. See fitsInOneRecord.
	CheckpointChunkSize int
}

// DefaultConfig returns the tunables storemy ships with.
func DefaultConfig() Config {
	return Config{CheckpointChunkSize: 512}
}

// TransactionTableEntry is one transaction's forward-processing state:
// its current status, the LSN of its most recently appended record, and
// the savepoints it has recorded.
type TransactionTableEntry struct {
	Status     transaction.Status
	LastLSN    primitives.LSN
	Savepoints map[string]primitives.LSN
}

// Manager is the RecoveryManager: it maintains the in-memory dirty page
// table and transaction table, drives forward-processing logging, and
// performs checkpointing and restart recovery.
type Manager struct {
	cfg Config

	log wal.Manager
	bm  storage.BufferManager
	dsm storage.DiskSpaceManager

	mu sync.RWMutex

	// dpt maps a page's HashCode to its recLSN: the LSN of the first
	// log record known to have dirtied it since its last flush.
	dpt map[primitives.HashCode]primitives.LSN
	// dptPages remembers the concrete PageID behind each HashCode in
	// dpt, since a HashCode alone cannot be turned back into a PageID
	// to pin it (PageID is an opaque interface, not invertible).
	dptPages map[primitives.HashCode]primitives.PageID

	txnTable map[int64]*TransactionTableEntry

	redoComplete bool

	checkpointGroup singleflight.Group
}

// NewManager creates a bare RecoveryManager bound to log. The buffer pool
// and disk space manager are wired in separately via SetStorage, breaking
// the natural cyclic dependency between a buffer pool (which needs to call
// pageFlushHook on eviction) and the recovery manager (which needs to call
// FetchPage during redo).
func NewManager(log wal.Manager, cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log,
		dpt:      make(map[primitives.HashCode]primitives.LSN),
		dptPages: make(map[primitives.HashCode]primitives.PageID),
		txnTable: make(map[int64]*TransactionTableEntry),
	}
}

// SetStorage wires the buffer pool and disk space manager. It must be
// called before Restart, Checkpoint, or any forward-processing method that
// touches pages (logAllocPage etc. do not require it; rollback and restart
// do).
func (m *Manager) SetStorage(bm storage.BufferManager, dsm storage.DiskSpaceManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bm = bm
	m.dsm = dsm
}

// Initialize sets up a fresh database: append the initial MASTER record
// (handled by wal.Open) and take the first checkpoint.
func (m *Manager) Initialize() error {
	_, err := m.Checkpoint()
	return err
}

// StartTransaction registers a freshly RUNNING transaction.
func (m *Manager) StartTransaction(transNum int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txnTable[transNum] = &TransactionTableEntry{
		Status:     transaction.Running,
		LastLSN:    0,
		Savepoints: make(map[string]primitives.LSN),
	}
}

func (m *Manager) entryLocked(transNum int64) (*TransactionTableEntry, error) {
	e, ok := m.txnTable[transNum]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, transNum)
	}
	return e, nil
}

// Commit appends a COMMIT_TRANSACTION record, marks the transaction
// COMMITTING, and flushes the log through the commit LSN before
// returning it — a transaction is only durably committed once this
// returns successfully.
func (m *Manager) Commit(transNum int64) (primitives.LSN, error) {
	m.mu.Lock()
	e, err := m.entryLocked(transNum)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	e.Status = transaction.Committing

	lsn, err := m.log.Append(&record.LogRecord{
		Type:        record.CommitTransaction,
		TransNum:    transNum,
		HasTransNum: true,
		PrevLSN:     e.LastLSN,
	})
	if err != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("commit %d: append: %w", transNum, err)
	}
	e.LastLSN = lsn
	m.mu.Unlock()

	if err := m.log.FlushTo(lsn); err != nil {
		return 0, fmt.Errorf("commit %d: flush: %w", transNum, err)
	}
	return lsn, nil
}

// Abort appends an ABORT_TRANSACTION record and marks the transaction
// ABORTING. Rollback of its effects happens later, in End.
func (m *Manager) Abort(transNum int64) (primitives.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entryLocked(transNum)
	if err != nil {
		return 0, err
	}
	e.Status = transaction.Aborting

	lsn, err := m.log.Append(&record.LogRecord{
		Type:        record.AbortTransaction,
		TransNum:    transNum,
		HasTransNum: true,
		PrevLSN:     e.LastLSN,
	})
	if err != nil {
		return 0, fmt.Errorf("abort %d: append: %w", transNum, err)
	}
	e.LastLSN = lsn
	return lsn, nil
}

// End completes a transaction: if it is ABORTING, first rolls every
// effect back to LSN 0, then appends an END_TRANSACTION record, marks it
// COMPLETE, and drops it from the transaction table.
func (m *Manager) End(transNum int64) error {
	m.mu.RLock()
	e, err := m.entryLocked(transNum)
	status := transaction.Running
	if err == nil {
		status = e.Status
	}
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	if status == transaction.Aborting {
		if err := m.rollbackToLSN(transNum, 0); err != nil {
			return fmt.Errorf("end %d: rollback: %w", transNum, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, err = m.entryLocked(transNum)
	if err != nil {
		return err
	}

	lsn, err := m.log.Append(&record.LogRecord{
		Type:        record.EndTransaction,
		TransNum:    transNum,
		HasTransNum: true,
		PrevLSN:     e.LastLSN,
	})
	if err != nil {
		return fmt.Errorf("end %d: append: %w", transNum, err)
	}
	e.LastLSN = lsn
	e.Status = transaction.Complete
	delete(m.txnTable, transNum)
	return nil
}

// LogPageWrite appends an UPDATE_PAGE record for a before/after byte
// range on pageID and marks the page dirty in the DPT if it was not
// already.
func (m *Manager) LogPageWrite(transNum int64, pageID primitives.PageID, offset int, before, after []byte) (primitives.LSN, error) {
	if len(before) != len(after) {
		return 0, fmt.Errorf("log page write %d: before/after length mismatch (%d != %d)", transNum, len(before), len(after))
	}
	if len(after) > primitives.EffectivePageSize/2 {
		return 0, fmt.Errorf("log page write %d: %d bytes exceeds half a page", transNum, len(after))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entryLocked(transNum)
	if err != nil {
		return 0, err
	}
	if e.Status != transaction.Running {
		return 0, fmt.Errorf("%w: %d is %s", ErrNotRunning, transNum, e.Status)
	}

	lsn, err := m.log.Append(&record.LogRecord{
		Type:        record.UpdatePage,
		TransNum:    transNum,
		HasTransNum: true,
		PrevLSN:     e.LastLSN,
		PageID:      pageID,
		PageOffset:  offset,
		Before:      before,
		After:       after,
	})
	if err != nil {
		return 0, fmt.Errorf("log page write %d: %w", transNum, err)
	}
	e.LastLSN = lsn

	m.dirtyPageLocked(pageID, lsn)
	return lsn, nil
}

// partitionOf resolves the partition a page lives in, through the disk
// space manager's own page-number arithmetic when one is wired, falling
// back to the id's embedded partition before SetStorage has been called.
func (m *Manager) partitionOf(pageID primitives.PageID) primitives.PartitionNumber {
	m.mu.RLock()
	dsm := m.dsm
	m.mu.RUnlock()
	if dsm != nil {
		return dsm.PartitionOf(pageID)
	}
	return pageID.PartitionNum()
}

// LogAllocPart appends an ALLOC_PART record, flushing it immediately
// since the allocation is visible on disk as soon as this returns. Returns
// ErrLogPartition if part is the reserved log partition.
func (m *Manager) LogAllocPart(transNum int64, part primitives.PartitionNumber) (primitives.LSN, error) {
	if part == primitives.LogPartition {
		return 0, ErrLogPartition
	}
	return m.logPartitionRecord(transNum, record.AllocPart, part, nil)
}

// LogFreePart appends a FREE_PART record; see LogAllocPart.
func (m *Manager) LogFreePart(transNum int64, part primitives.PartitionNumber) (primitives.LSN, error) {
	if part == primitives.LogPartition {
		return 0, ErrLogPartition
	}
	return m.logPartitionRecord(transNum, record.FreePart, part, nil)
}

// LogAllocPage appends an ALLOC_PAGE record; see LogAllocPart.
func (m *Manager) LogAllocPage(transNum int64, pageID primitives.PageID) (primitives.LSN, error) {
	if m.partitionOf(pageID) == primitives.LogPartition {
		return 0, ErrLogPartition
	}
	return m.logPartitionRecord(transNum, record.AllocPage, 0, pageID)
}

// LogFreePage appends a FREE_PAGE record and removes pageID from the DPT,
// since the page no longer exists to be redone onto; see LogAllocPart.
func (m *Manager) LogFreePage(transNum int64, pageID primitives.PageID) (primitives.LSN, error) {
	if m.partitionOf(pageID) == primitives.LogPartition {
		return 0, ErrLogPartition
	}
	lsn, err := m.logPartitionRecord(transNum, record.FreePage, 0, pageID)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.removeDirtyPageLocked(pageID)
	m.mu.Unlock()
	return lsn, nil
}

func (m *Manager) logPartitionRecord(transNum int64, typ record.Type, part primitives.PartitionNumber, pageID primitives.PageID) (primitives.LSN, error) {
	m.mu.Lock()
	e, err := m.entryLocked(transNum)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	if e.Status != transaction.Running {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %d is %s", ErrNotRunning, transNum, e.Status)
	}

	rec := &record.LogRecord{
		Type:         typ,
		TransNum:     transNum,
		HasTransNum:  true,
		PrevLSN:      e.LastLSN,
		PartitionNum: part,
		PageID:       pageID,
	}
	lsn, err := m.log.Append(rec)
	if err != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("log %s %d: append: %w", typ, transNum, err)
	}
	e.LastLSN = lsn
	m.mu.Unlock()

	if err := m.log.FlushTo(lsn); err != nil {
		return 0, fmt.Errorf("log %s %d: flush: %w", typ, transNum, err)
	}
	return lsn, nil
}

// Savepoint records transNum's current lastLSN under name, for a later
// RollbackToSavepoint.
func (m *Manager) Savepoint(transNum int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entryLocked(transNum)
	if err != nil {
		return
	}
	e.Savepoints[name] = e.LastLSN
}

// RollbackToSavepoint undoes every effect transNum has logged since name
// was recorded.
func (m *Manager) RollbackToSavepoint(transNum int64, name string) error {
	m.mu.RLock()
	e, err := m.entryLocked(transNum)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	target, ok := e.Savepoints[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q for transaction %d", ErrUnknownSavepoint, name, transNum)
	}
	return m.rollbackToLSN(transNum, target)
}

// dirtyPage establishes pageID's recLSN if it has none yet, then
// tightens it to the minimum of the existing and proposed LSN — correcting
// races where two log records dirty a page but are processed out of LSN
// order.
func (m *Manager) dirtyPage(pageID primitives.PageID, lsn primitives.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirtyPageLocked(pageID, lsn)
}

func (m *Manager) dirtyPageLocked(pageID primitives.PageID, lsn primitives.LSN) {
	h := pageID.HashCode()
	if existing, ok := m.dpt[h]; !ok {
		m.dpt[h] = lsn
	} else if lsn < existing {
		m.dpt[h] = lsn
	}
	m.dptPages[h] = pageID
}

func (m *Manager) removeDirtyPageLocked(pageID primitives.PageID) {
	h := pageID.HashCode()
	delete(m.dpt, h)
	delete(m.dptPages, h)
}

// PageFlushHook enforces the write-ahead rule: before a dirty page whose
// watermark is pageLSN is evicted, the log must be durable through
// pageLSN.
func (m *Manager) PageFlushHook(pageLSN primitives.LSN) error {
	if err := m.log.FlushTo(pageLSN); err != nil {
		return fmt.Errorf("page flush hook: %w", err)
	}
	return nil
}

// DiskIOHook removes pageID from the DPT once redo has completed and the
// page's effects are durable; it is a no-op before that point, since the
// DPT is still needed to drive the redo scan.
func (m *Manager) DiskIOHook(pageID primitives.PageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.redoComplete {
		return
	}
	m.removeDirtyPageLocked(pageID)
}

// DirtyPageTableSnapshot returns a copy of the current DPT, keyed by page
// HashCode as it is carried in END_CHECKPOINT records.
func (m *Manager) DirtyPageTableSnapshot() map[primitives.HashCode]primitives.LSN {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[primitives.HashCode]primitives.LSN, len(m.dpt))
	for h, lsn := range m.dpt {
		out[h] = lsn
	}
	return out
}

// TransactionTableSnapshot returns a copy of the current transaction
// table, keyed by transaction number.
func (m *Manager) TransactionTableSnapshot() map[int64]TransactionTableEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]TransactionTableEntry, len(m.txnTable))
	for t, e := range m.txnTable {
		out[t] = *e
	}
	return out
}

// UncommittedTransactions returns the transaction numbers currently
// RUNNING, COMMITTING, ABORTING, or RECOVERY_ABORTING.
func (m *Manager) UncommittedTransactions() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.txnTable))
	for t := range m.txnTable {
		out = append(out, t)
	}
	return out
}

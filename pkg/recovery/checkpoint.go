package recovery

import (
	"fmt"

	"storemy/pkg/concurrency/transaction"
	"storemy/pkg/log/record"
	"storemy/pkg/primitives"
)

// Checkpoint takes a fuzzy checkpoint: it coalesces concurrent callers (the
// checkpoint daemon's timer and any manual/administrative trigger) onto a
// single in-flight run via singleflight. The checkpoint procedure must
// never run twice concurrently, but it may overlap ordinary page I/O.
func (m *Manager) Checkpoint() (primitives.LSN, error) {
	v, err, _ := m.checkpointGroup.Do("checkpoint", func() (any, error) {
		return m.doCheckpoint()
	})
	if err != nil {
		return 0, err
	}
	return v.(primitives.LSN), nil
}

type dptSnapshotEntry struct {
	hash primitives.HashCode
	lsn  primitives.LSN
}

type txnSnapshotEntry struct {
	transNum int64
	lastLSN  primitives.LSN
	status   record.TxnStatus
}

// fitsInOneRecord reports whether adding one more entry to a chunk already
// holding count entries still fits within the configured chunk size.
func fitsInOneRecord(chunkSize, countAfterInsert int) bool {
	return countAfterInsert <= chunkSize
}

func toTxnStatus(s transaction.Status) record.TxnStatus {
	switch s {
	case transaction.Committing:
		return record.StatusCommitting
	case transaction.Aborting:
		return record.StatusAborting
	case transaction.RecoveryAborting:
		return record.StatusRecoveryAborting
	default:
		return record.StatusRunning
	}
}

func fromTxnStatus(s record.TxnStatus) transaction.Status {
	switch s {
	case record.StatusCommitting:
		return transaction.Committing
	case record.StatusAborting:
		return transaction.Aborting
	case record.StatusRecoveryAborting:
		return transaction.RecoveryAborting
	default:
		return transaction.Running
	}
}

// doCheckpoint is the actual ARIES checkpoint procedure: append
// BEGIN_CHECKPOINT, snapshot the DPT and transaction table incrementally
// into one or more END_CHECKPOINT records (chunked to
// Config.CheckpointChunkSize), flush through the last one, then install
// the checkpoint by rewriting the MASTER record in place.
func (m *Manager) doCheckpoint() (primitives.LSN, error) {
	m.mu.Lock()
	beginLSN, err := m.log.Append(&record.LogRecord{Type: record.BeginCheckpoint})
	if err != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("checkpoint: append begin: %w", err)
	}

	dptSnapshot := make([]dptSnapshotEntry, 0, len(m.dpt))
	for h, lsn := range m.dpt {
		dptSnapshot = append(dptSnapshot, dptSnapshotEntry{hash: h, lsn: lsn})
	}
	txnSnapshot := make([]txnSnapshotEntry, 0, len(m.txnTable))
	for t, e := range m.txnTable {
		txnSnapshot = append(txnSnapshot, txnSnapshotEntry{transNum: t, lastLSN: e.LastLSN, status: toTxnStatus(e.Status)})
	}
	m.mu.Unlock()

	currentDPT := make(map[primitives.HashCode]primitives.LSN)
	currentTxn := make(map[int64]record.TxnTableSnapshotEntry)
	var lastEndLSN primitives.LSN

	emit := func() error {
		lsn, err := m.log.Append(&record.LogRecord{
			Type:             record.EndCheckpoint,
			DirtyPageTable:   currentDPT,
			TransactionTable: currentTxn,
		})
		if err != nil {
			return fmt.Errorf("checkpoint: append end: %w", err)
		}
		lastEndLSN = lsn
		currentDPT = make(map[primitives.HashCode]primitives.LSN)
		currentTxn = make(map[int64]record.TxnTableSnapshotEntry)
		return nil
	}

	for _, d := range dptSnapshot {
		if !fitsInOneRecord(m.cfg.CheckpointChunkSize, len(currentDPT)+len(currentTxn)+1) {
			if err := emit(); err != nil {
				return 0, err
			}
		}
		currentDPT[d.hash] = d.lsn
	}
	for _, t := range txnSnapshot {
		if !fitsInOneRecord(m.cfg.CheckpointChunkSize, len(currentDPT)+len(currentTxn)+1) {
			if err := emit(); err != nil {
				return 0, err
			}
		}
		currentTxn[t.transNum] = record.TxnTableSnapshotEntry{LastLSN: t.lastLSN, Status: t.status}
	}
	if err := emit(); err != nil {
		return 0, err
	}

	if err := m.log.FlushTo(lastEndLSN); err != nil {
		return 0, fmt.Errorf("checkpoint: flush: %w", err)
	}
	if err := m.log.RewriteMasterRecord(beginLSN); err != nil {
		return 0, fmt.Errorf("checkpoint: install: %w", err)
	}
	return beginLSN, nil
}

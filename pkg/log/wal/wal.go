// Package wal implements the write-ahead log: a thin, append-only record
// store. It is the recovery manager's only required collaborator with a
// concrete reference implementation in this repo — append, flushTo,
// fetch, scanFrom, and rewriteMasterRecord are its entire contract, kept
// intentionally free of any recovery-specific logic (analysis, redo,
// undo, checkpoint construction all live in pkg/recovery).
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"storemy/pkg/log/record"
	"storemy/pkg/primitives"
)

// Manager is the log manager's external contract: append, flush through
// an LSN, fetch one record, scan forward, and rewrite the master record.
type Manager interface {
	Append(rec *record.LogRecord) (primitives.LSN, error)
	FlushTo(lsn primitives.LSN) error
	Fetch(lsn primitives.LSN) (*record.LogRecord, error)
	ScanFrom(lsn primitives.LSN) (Iterator, error)
	RewriteMasterRecord(lastCheckpointLSN primitives.LSN) error
	Size() primitives.LSN
	Close() error
}

// Iterator walks records in LSN order starting from a given point.
// Next returns io.EOF once the log is exhausted.
type Iterator interface {
	Next() (*record.LogRecord, error)
	Close() error
}

// masterRecordSize is the fixed on-disk size of the MASTER record: it must
// never change size, since RewriteMasterRecord overwrites it in place at
// byte offset 0 without touching anything after it.
const masterRecordSize = 4 + 1 + 8 + 1 + 8 + 8 + 8

// WAL is the reference Manager implementation: a single append-only file
// where a record's LSN is its byte offset.
type WAL struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	nextLSN primitives.LSN
}

// Open opens (creating if necessary) the WAL file at path. If the file is
// empty, a MASTER record is written at LSN 0 with lastCheckpointLSN 0.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat WAL %s: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek WAL %s: %w", path, err)
	}

	w := &WAL{
		file:    file,
		writer:  bufio.NewWriter(file),
		nextLSN: primitives.LSN(info.Size()),
	}

	if info.Size() == 0 {
		if _, err := w.appendLocked(&record.LogRecord{Type: record.Master}); err != nil {
			file.Close()
			return nil, fmt.Errorf("write initial master record: %w", err)
		}
		if err := w.flushLocked(); err != nil {
			file.Close()
			return nil, err
		}
	}

	return w, nil
}

// Append writes rec to the end of the log and returns its assigned LSN.
// The caller must not set rec.LSN; it is assigned here.
func (w *WAL) Append(rec *record.LogRecord) (primitives.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(rec)
}

func (w *WAL) appendLocked(rec *record.LogRecord) (primitives.LSN, error) {
	rec.LSN = w.nextLSN
	data, err := record.Serialize(rec)
	if err != nil {
		return 0, fmt.Errorf("serialize record: %w", err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return 0, fmt.Errorf("write record at LSN %d: %w", rec.LSN, err)
	}
	w.nextLSN += primitives.LSN(len(data))
	return rec.LSN, nil
}

// FlushTo guarantees every record up to and including lsn is durable.
// Because LSNs are byte offsets and all records are appended in order,
// this only needs to flush the writer's buffer and fsync — there is no
// record-granular tracking to do.
func (w *WAL) FlushTo(lsn primitives.LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn > w.nextLSN {
		return fmt.Errorf("flushTo: LSN %d not yet appended (next is %d)", lsn, w.nextLSN)
	}
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush WAL buffer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("fsync WAL: %w", err)
	}
	return nil
}

// Fetch reads and deserializes the single record at lsn.
func (w *WAL) Fetch(lsn primitives.LSN) (*record.LogRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return nil, err
	}
	return readRecordAt(w.file, lsn)
}

func readRecordAt(f *os.File, lsn primitives.LSN) (*record.LogRecord, error) {
	sizeBuf := make([]byte, 4)
	if _, err := f.ReadAt(sizeBuf, int64(lsn)); err != nil {
		return nil, fmt.Errorf("read size at LSN %d: %w", lsn, err)
	}
	size := binary.BigEndian.Uint32(sizeBuf)

	data := make([]byte, size)
	if _, err := f.ReadAt(data, int64(lsn)); err != nil {
		return nil, fmt.Errorf("read record at LSN %d: %w", lsn, err)
	}
	return record.Deserialize(data)
}

// fileIterator is the straightforward Iterator: sequential ReadAt calls
// walking forward through the file.
type fileIterator struct {
	file *os.File
	pos  primitives.LSN
	end  primitives.LSN
}

func (it *fileIterator) Next() (*record.LogRecord, error) {
	if it.pos >= it.end {
		return nil, io.EOF
	}
	rec, err := readRecordAt(it.file, it.pos)
	if err != nil {
		return nil, err
	}
	data, err := record.Serialize(rec)
	if err != nil {
		return nil, err
	}
	it.pos += primitives.LSN(len(data))
	return rec, nil
}

func (it *fileIterator) Close() error { return nil }

// ScanFrom returns an iterator over every record from lsn (inclusive) to
// the current end of the log.
func (w *WAL) ScanFrom(lsn primitives.LSN) (Iterator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return nil, err
	}
	return &fileIterator{file: w.file, pos: lsn, end: w.nextLSN}, nil
}

// RewriteMasterRecord overwrites the MASTER record at LSN 0 in place. This
// is the atomic "checkpoint installed" event: a crash before this call
// returns leaves the prior checkpoint as the recovery starting point.
func (w *WAL) RewriteMasterRecord(lastCheckpointLSN primitives.LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}

	master := &record.LogRecord{Type: record.Master, LSN: 0, LastCheckpointLSN: lastCheckpointLSN}
	data, err := record.Serialize(master)
	if err != nil {
		return fmt.Errorf("serialize master record: %w", err)
	}
	if len(data) != masterRecordSize {
		return fmt.Errorf("master record size changed: got %d, want %d", len(data), masterRecordSize)
	}
	if _, err := w.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("rewrite master record: %w", err)
	}
	return w.file.Sync()
}

// ReadMasterRecord reads the MASTER record without requiring a live WAL
// handle — used by recovery before any Append has been attempted.
func ReadMasterRecord(path string) (*record.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open WAL %s: %w", path, err)
	}
	defer f.Close()
	return readRecordAt(f, 0)
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.file.Close()
}

// Size returns the current length of the WAL file in bytes (== the LSN
// the next Append will be assigned).
func (w *WAL) Size() primitives.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

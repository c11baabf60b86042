package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"storemy/pkg/primitives"
)

// Serialize encodes r to its on-disk byte representation.
//
// Binary format: [Size:4][Type:1][LSN:8][HasTransNum:1][TransNum:8][PrevLSN:8]
// followed by a type-specific payload. Size is the total length of the
// record including this 4-byte length prefix, so a reader can frame
// records without separately tracking offsets.
func Serialize(r *LogRecord) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeUint8(&buf, uint8(r.Type)); err != nil {
		return nil, err
	}
	if err := writeUint64(&buf, uint64(r.LSN)); err != nil {
		return nil, err
	}
	if err := writeBool(&buf, r.HasTransNum); err != nil {
		return nil, err
	}
	if err := writeUint64(&buf, uint64(r.TransNum)); err != nil {
		return nil, err
	}
	if err := writeUint64(&buf, uint64(r.PrevLSN)); err != nil {
		return nil, err
	}

	if err := writePayload(&buf, r); err != nil {
		return nil, fmt.Errorf("serialize %s payload: %w", r.Type, err)
	}

	data := buf.Bytes()
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(out)))
	copy(out[4:], data)
	return out, nil
}

func writePayload(buf *bytes.Buffer, r *LogRecord) error {
	switch r.Type {
	case Master:
		return writeUint64(buf, uint64(r.LastCheckpointLSN))

	case UpdatePage, UndoUpdatePage:
		if err := writePageID(buf, r.PageID); err != nil {
			return err
		}
		if err := writeUint32(buf, uint32(r.PageOffset)); err != nil {
			return err
		}
		if r.Type == UpdatePage {
			if err := writeBytes(buf, r.Before); err != nil {
				return err
			}
		}
		if err := writeBytes(buf, r.After); err != nil {
			return err
		}
		if r.Type == UndoUpdatePage {
			return writeUint64(buf, uint64(r.UndoNextLSN))
		}
		return nil

	case AllocPart, FreePart, UndoAllocPart, UndoFreePart:
		if err := writeUint64(buf, uint64(r.PartitionNum)); err != nil {
			return err
		}
		if r.Type == UndoAllocPart || r.Type == UndoFreePart {
			return writeUint64(buf, uint64(r.UndoNextLSN))
		}
		return nil

	case AllocPage, FreePage, UndoAllocPage, UndoFreePage:
		if err := writePageID(buf, r.PageID); err != nil {
			return err
		}
		if r.Type == UndoAllocPage || r.Type == UndoFreePage {
			return writeUint64(buf, uint64(r.UndoNextLSN))
		}
		return nil

	case CommitTransaction, AbortTransaction, EndTransaction, BeginCheckpoint:
		return nil

	case EndCheckpoint:
		return writeCheckpointPayload(buf, r)

	default:
		return fmt.Errorf("unknown record type %d", r.Type)
	}
}

func writeCheckpointPayload(buf *bytes.Buffer, r *LogRecord) error {
	if err := writeUint32(buf, uint32(len(r.DirtyPageTable))); err != nil {
		return err
	}
	for pageHash, lsn := range r.DirtyPageTable {
		if err := writeUint64(buf, uint64(pageHash)); err != nil {
			return err
		}
		if err := writeUint64(buf, uint64(lsn)); err != nil {
			return err
		}
	}

	if err := writeUint32(buf, uint32(len(r.TransactionTable))); err != nil {
		return err
	}
	for transNum, entry := range r.TransactionTable {
		if err := writeUint64(buf, uint64(transNum)); err != nil {
			return err
		}
		if err := writeUint64(buf, uint64(entry.LastLSN)); err != nil {
			return err
		}
		if err := writeUint8(buf, uint8(entry.Status)); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a record previously produced by Serialize. data must
// be exactly one framed record (the Size-prefixed slice Serialize
// returns), not including any trailing bytes.
func Deserialize(data []byte) (*LogRecord, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("log record: need at least 4 bytes, got %d", len(data))
	}
	size := binary.BigEndian.Uint32(data[0:4])
	if int(size) != len(data) {
		return nil, fmt.Errorf("log record: framed size %d does not match buffer length %d", size, len(data))
	}

	r := bytes.NewReader(data[4:])
	rec := &LogRecord{}

	var typeByte uint8
	if err := binary.Read(r, binary.BigEndian, &typeByte); err != nil {
		return nil, fmt.Errorf("read type: %w", err)
	}
	rec.Type = Type(typeByte)

	var lsn, transNum, prevLSN uint64
	var hasTransNum uint8
	if err := binary.Read(r, binary.BigEndian, &lsn); err != nil {
		return nil, fmt.Errorf("read LSN: %w", err)
	}
	rec.LSN = primitives.LSN(lsn)

	if err := binary.Read(r, binary.BigEndian, &hasTransNum); err != nil {
		return nil, fmt.Errorf("read HasTransNum: %w", err)
	}
	rec.HasTransNum = hasTransNum != 0

	if err := binary.Read(r, binary.BigEndian, &transNum); err != nil {
		return nil, fmt.Errorf("read TransNum: %w", err)
	}
	rec.TransNum = int64(transNum)

	if err := binary.Read(r, binary.BigEndian, &prevLSN); err != nil {
		return nil, fmt.Errorf("read PrevLSN: %w", err)
	}
	rec.PrevLSN = primitives.LSN(prevLSN)

	if err := readPayload(r, rec); err != nil {
		return nil, fmt.Errorf("deserialize %s payload: %w", rec.Type, err)
	}
	return rec, nil
}

func readPayload(r *bytes.Reader, rec *LogRecord) error {
	switch rec.Type {
	case Master:
		v, err := readUint64(r)
		if err != nil {
			return err
		}
		rec.LastCheckpointLSN = primitives.LSN(v)
		return nil

	case UpdatePage, UndoUpdatePage:
		pid, err := readPageID(r)
		if err != nil {
			return err
		}
		rec.PageID = pid

		offset, err := readUint32(r)
		if err != nil {
			return err
		}
		rec.PageOffset = int(offset)

		if rec.Type == UpdatePage {
			before, err := readBytes(r)
			if err != nil {
				return err
			}
			rec.Before = before
		}

		after, err := readBytes(r)
		if err != nil {
			return err
		}
		rec.After = after

		if rec.Type == UndoUpdatePage {
			v, err := readUint64(r)
			if err != nil {
				return err
			}
			rec.UndoNextLSN = primitives.LSN(v)
			rec.HasUndoNextLSN = true
		}
		return nil

	case AllocPart, FreePart, UndoAllocPart, UndoFreePart:
		v, err := readUint64(r)
		if err != nil {
			return err
		}
		rec.PartitionNum = primitives.PartitionNumber(v)
		if rec.Type == UndoAllocPart || rec.Type == UndoFreePart {
			v, err := readUint64(r)
			if err != nil {
				return err
			}
			rec.UndoNextLSN = primitives.LSN(v)
			rec.HasUndoNextLSN = true
		}
		return nil

	case AllocPage, FreePage, UndoAllocPage, UndoFreePage:
		pid, err := readPageID(r)
		if err != nil {
			return err
		}
		rec.PageID = pid
		if rec.Type == UndoAllocPage || rec.Type == UndoFreePage {
			v, err := readUint64(r)
			if err != nil {
				return err
			}
			rec.UndoNextLSN = primitives.LSN(v)
			rec.HasUndoNextLSN = true
		}
		return nil

	case CommitTransaction, AbortTransaction, EndTransaction, BeginCheckpoint:
		return nil

	case EndCheckpoint:
		return readCheckpointPayload(r, rec)

	default:
		return fmt.Errorf("unknown record type %d", rec.Type)
	}
}

func readCheckpointPayload(r *bytes.Reader, rec *LogRecord) error {
	numPages, err := readUint32(r)
	if err != nil {
		return err
	}
	rec.DirtyPageTable = make(map[primitives.HashCode]primitives.LSN, numPages)
	for i := uint32(0); i < numPages; i++ {
		hash, err := readUint64(r)
		if err != nil {
			return err
		}
		lsn, err := readUint64(r)
		if err != nil {
			return err
		}
		rec.DirtyPageTable[primitives.HashCode(hash)] = primitives.LSN(lsn)
	}

	numTxns, err := readUint32(r)
	if err != nil {
		return err
	}
	rec.TransactionTable = make(map[int64]TxnTableSnapshotEntry, numTxns)
	for i := uint32(0); i < numTxns; i++ {
		transNum, err := readUint64(r)
		if err != nil {
			return err
		}
		lastLSN, err := readUint64(r)
		if err != nil {
			return err
		}
		var status uint8
		if err := binary.Read(r, binary.BigEndian, &status); err != nil {
			return err
		}
		rec.TransactionTable[int64(transNum)] = TxnTableSnapshotEntry{
			LastLSN: primitives.LSN(lastLSN),
			Status:  TxnStatus(status),
		}
	}
	return nil
}

func writePageID(buf *bytes.Buffer, id primitives.PageID) error {
	data := id.Serialize()
	return writeBytes(buf, data)
}

func readPageID(r *bytes.Reader) (primitives.PageID, error) {
	data, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	return primitives.DecodePageID(data)
}

func writeUint8(buf *bytes.Buffer, v uint8) error   { return binary.Write(buf, binary.BigEndian, v) }
func writeUint32(buf *bytes.Buffer, v uint32) error { return binary.Write(buf, binary.BigEndian, v) }
func writeUint64(buf *bytes.Buffer, v uint64) error { return binary.Write(buf, binary.BigEndian, v) }

func writeBool(buf *bytes.Buffer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return writeUint8(buf, v)
}

func writeBytes(buf *bytes.Buffer, data []byte) error {
	if err := writeUint32(buf, uint32(len(data))); err != nil {
		return err
	}
	_, err := buf.Write(data)
	return err
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

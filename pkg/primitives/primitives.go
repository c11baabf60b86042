// Package primitives defines the small value types shared by the log,
// storage, and recovery layers: log sequence numbers, page and partition
// identifiers, and transaction identifiers.
package primitives

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// LSN is a monotonically assigned log sequence number. LSN 0 is reserved
// for the master record and never belongs to a transaction.
type LSN uint64

// MaxLSN is the largest representable LSN, used as a sentinel meaning
// "flush everything written so far".
const MaxLSN = LSN(^uint64(0))

// HashCode is a stable hash of a PageID, used as a map key where the
// concrete PageID type is not comparable or not known.
type HashCode uint64

// PartitionNumber identifies a partition on disk. Partition 0 is reserved
// for the write-ahead log itself.
type PartitionNumber uint64

// LogPartition is the reserved partition number for the WAL.
const LogPartition = PartitionNumber(0)

// EffectivePageSize is the number of usable data bytes on a page. A single
// update record's before/after images may cover at most half of it.
const EffectivePageSize = 4096

// PageNumber identifies a page within a partition.
type PageNumber uint64

// PageID identifies a page across the whole database.
type PageID interface {
	PartitionNum() PartitionNumber
	PageNum() PageNumber
	HashCode() HashCode
	Equals(other PageID) bool
	String() string
	Serialize() []byte
}

// pageID is the default PageID implementation.
type pageID struct {
	partition PartitionNumber
	page      PageNumber
}

// NewPageID builds a PageID from a partition and page number.
func NewPageID(partition PartitionNumber, page PageNumber) PageID {
	return &pageID{partition: partition, page: page}
}

func (p *pageID) PartitionNum() PartitionNumber { return p.partition }
func (p *pageID) PageNum() PageNumber           { return p.page }

func (p *pageID) HashCode() HashCode {
	return HashCode(uint64(p.partition)<<32 ^ uint64(p.page))
}

func (p *pageID) Equals(other PageID) bool {
	if other == nil {
		return false
	}
	return p.partition == other.PartitionNum() && p.page == other.PageNum()
}

func (p *pageID) String() string {
	return fmt.Sprintf("%d.%d", p.partition, p.page)
}

// Serialize renders the page id as a fixed 16-byte big-endian pair of
// partition and page numbers, for embedding in log record payloads.
func (p *pageID) Serialize() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(p.partition))
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.page))
	return buf
}

// DecodePageID parses the 16-byte form written by Serialize.
func DecodePageID(data []byte) (PageID, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("page id: need 16 bytes, got %d", len(data))
	}
	partition := PartitionNumber(binary.BigEndian.Uint64(data[0:8]))
	page := PageNumber(binary.BigEndian.Uint64(data[8:16]))
	return &pageID{partition: partition, page: page}, nil
}

// TransactionID uniquely names a transaction for the lifetime of the
// database. Values are assigned by a process-global monotonic counter so
// concurrently starting transactions never collide.
type TransactionID struct {
	id int64
}

var transactionIDCounter int64

// NewTransactionID allocates a fresh transaction id.
func NewTransactionID() *TransactionID {
	return &TransactionID{id: atomic.AddInt64(&transactionIDCounter, 1)}
}

// NewTransactionIDFromValue wraps a previously-allocated id, e.g. one read
// back from the log during recovery.
func NewTransactionIDFromValue(id int64) *TransactionID {
	return &TransactionID{id: id}
}

// ID returns the underlying numeric transaction number.
func (t *TransactionID) ID() int64 {
	if t == nil {
		return 0
	}
	return t.id
}

// Equals reports whether two transaction ids name the same transaction.
func (t *TransactionID) Equals(other *TransactionID) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.id == other.id
}

func (t *TransactionID) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("T%d", t.id)
}

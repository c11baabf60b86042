// Package storage declares the interfaces the recovery manager expects
// from its two external collaborators: the buffer pool (page cache) and
// the disk space manager (partition/page allocation). Both are out of
// scope as implementations here — see pkg/storage/memstore for a minimal
// reference implementation used by tests and cmd/walinspect.
package storage

import "storemy/pkg/primitives"

// Page is an in-memory image of one on-disk page, with the bookkeeping
// the recovery manager needs: its LSN watermark and raw bytes.
type Page interface {
	ID() primitives.PageID
	PageLSN() primitives.LSN
	SetPageLSN(primitives.LSN)
	ReadAt(offset, length int) []byte
	WriteAt(offset int, data []byte)
}

// BufferManager is the buffer pool's contract: fetch a page (pinning it),
// unpin it, and enumerate dirty pages for eviction / shutdown hooks.
type BufferManager interface {
	FetchPage(id primitives.PageID) (Page, error)
	UnpinPage(id primitives.PageID)
	DirtyPageIDs() []primitives.PageID
}

// DiskSpaceManager is the disk space allocator's contract: partition and
// page number arithmetic and the I/O to allocate/free them.
type DiskSpaceManager interface {
	PartitionOf(id primitives.PageID) primitives.PartitionNumber
	AllocPartition(part primitives.PartitionNumber) error
	FreePartition(part primitives.PartitionNumber) error
	AllocPage(id primitives.PageID) error
	FreePage(id primitives.PageID) error
}

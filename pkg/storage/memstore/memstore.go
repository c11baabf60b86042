// Package memstore is a minimal in-memory reference implementation of
// pkg/storage's BufferManager and DiskSpaceManager, sufficient for tests
// and for cmd/walinspect. It has none of a real buffer pool's eviction or
// I/O concerns — every "page" just lives in a map — but it satisfies the
// same contract the recovery manager drives in production.
package memstore

import (
	"fmt"
	"sync"

	"storemy/pkg/primitives"
	"storemy/pkg/storage"
)

type page struct {
	mu    sync.Mutex
	id    primitives.PageID
	lsn   primitives.LSN
	bytes []byte
}

func (p *page) ID() primitives.PageID { return p.id }

func (p *page) PageLSN() primitives.LSN {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lsn
}

func (p *page) SetPageLSN(lsn primitives.LSN) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lsn = lsn
}

func (p *page) ReadAt(offset, length int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset+length > len(p.bytes) {
		grown := make([]byte, offset+length)
		copy(grown, p.bytes)
		p.bytes = grown
	}
	out := make([]byte, length)
	copy(out, p.bytes[offset:offset+length])
	return out
}

func (p *page) WriteAt(offset int, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	need := offset + len(data)
	if need > len(p.bytes) {
		grown := make([]byte, need)
		copy(grown, p.bytes)
		p.bytes = grown
	}
	copy(p.bytes[offset:], data)
}

// Store is the in-memory buffer pool and disk space manager combined: in
// a toy implementation there is no distinct "disk" to separate them from.
type Store struct {
	mu         sync.Mutex
	pages      map[primitives.HashCode]*page
	partitions map[primitives.PartitionNumber]bool
	pinCount   map[primitives.HashCode]int
}

// New creates an empty store with the log partition (0) pre-allocated.
func New() *Store {
	s := &Store{
		pages:      make(map[primitives.HashCode]*page),
		partitions: map[primitives.PartitionNumber]bool{primitives.LogPartition: true},
		pinCount:   make(map[primitives.HashCode]int),
	}
	return s
}

// FetchPage returns the page for id, pinning it, allocating a fresh
// zeroed page if one has never been seen before (pages here are never
// truly evicted, so "fetch" and "allocate if absent" collapse into one
// call — a real buffer pool would separate the two).
func (s *Store) FetchPage(id primitives.PageID) (storage.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := id.HashCode()
	p, ok := s.pages[h]
	if !ok {
		p = &page{id: id}
		s.pages[h] = p
	}
	s.pinCount[h]++
	return p, nil
}

// UnpinPage releases a pin acquired by FetchPage.
func (s *Store) UnpinPage(id primitives.PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := id.HashCode()
	if s.pinCount[h] > 0 {
		s.pinCount[h]--
	}
}

// DirtyPageIDs returns every page currently tracked (this toy store never
// distinguishes dirty from clean; every allocated page is reported, which
// is conservative in the correct direction for the recovery manager's
// cleanDPT step).
func (s *Store) DirtyPageIDs() []primitives.PageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]primitives.PageID, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p.id)
	}
	return out
}

// PartitionOf returns the partition component of id.
func (s *Store) PartitionOf(id primitives.PageID) primitives.PartitionNumber {
	return id.PartitionNum()
}

// AllocPartition marks part as allocated.
func (s *Store) AllocPartition(part primitives.PartitionNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[part] = true
	return nil
}

// FreePartition marks part as free and drops every page in it.
func (s *Store) FreePartition(part primitives.PartitionNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, part)
	for h, p := range s.pages {
		if p.id.PartitionNum() == part {
			delete(s.pages, h)
		}
	}
	return nil
}

// AllocPage allocates id's page, failing if its partition was never
// allocated.
func (s *Store) AllocPage(id primitives.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.partitions[id.PartitionNum()] {
		return fmt.Errorf("alloc page %s: partition %d not allocated", id, id.PartitionNum())
	}
	s.pages[id.HashCode()] = &page{id: id}
	return nil
}

// FreePage drops id's page.
func (s *Store) FreePage(id primitives.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, id.HashCode())
	return nil
}

package record

import (
	"fmt"

	"storemy/pkg/storage"
)

// Redo performs this record's side effect against the buffer pool and
// disk space manager, setting the affected page's PageLSN to this
// record's own LSN. The caller (the recovery manager) is responsible for
// deciding whether redo is necessary via the DPT/pageLSN comparison; Redo
// unconditionally applies once called.
func (r *LogRecord) Redo(bm storage.BufferManager, dsm storage.DiskSpaceManager) error {
	if !r.IsRedoable() {
		return fmt.Errorf("record at LSN %d (%s) is not redoable", r.LSN, r.Type)
	}

	switch r.Type {
	case UpdatePage, UndoUpdatePage:
		return r.redoPageWrite(bm)
	case AllocPart:
		return dsm.AllocPartition(r.PartitionNum)
	case UndoFreePart:
		return dsm.AllocPartition(r.PartitionNum)
	case FreePart:
		return dsm.FreePartition(r.PartitionNum)
	case UndoAllocPart:
		return dsm.FreePartition(r.PartitionNum)
	case AllocPage, UndoFreePage:
		return r.redoPageAlloc(bm, dsm)
	case FreePage, UndoAllocPage:
		return r.redoPageFree(bm, dsm)
	default:
		return fmt.Errorf("no redo handler for type %s", r.Type)
	}
}

func (r *LogRecord) redoPageWrite(bm storage.BufferManager) error {
	page, err := bm.FetchPage(r.PageID)
	if err != nil {
		return fmt.Errorf("redo %s at LSN %d: fetch page %s: %w", r.Type, r.LSN, r.PageID, err)
	}
	defer bm.UnpinPage(r.PageID)

	page.WriteAt(r.PageOffset, r.After)
	page.SetPageLSN(r.LSN)
	return nil
}

func (r *LogRecord) redoPageAlloc(bm storage.BufferManager, dsm storage.DiskSpaceManager) error {
	if err := dsm.AllocPage(r.PageID); err != nil {
		return fmt.Errorf("redo %s at LSN %d: alloc page %s: %w", r.Type, r.LSN, r.PageID, err)
	}
	page, err := bm.FetchPage(r.PageID)
	if err != nil {
		return fmt.Errorf("redo %s at LSN %d: fetch page %s: %w", r.Type, r.LSN, r.PageID, err)
	}
	defer bm.UnpinPage(r.PageID)
	page.SetPageLSN(r.LSN)
	return nil
}

func (r *LogRecord) redoPageFree(bm storage.BufferManager, dsm storage.DiskSpaceManager) error {
	if err := dsm.FreePage(r.PageID); err != nil {
		return fmt.Errorf("redo %s at LSN %d: free page %s: %w", r.Type, r.LSN, r.PageID, err)
	}
	return nil
}

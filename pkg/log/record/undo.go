package record

import (
	"fmt"

	"storemy/pkg/primitives"
)

// Undo builds the compensation log record for this record's forward
// effect. It does not perform the undo — the caller appends the CLR and
// then calls Redo on it to apply the compensating change in place. lastLSN
// is the transaction's current last LSN and becomes the CLR's PrevLSN; the
// CLR's undoNextLSN always points at this record's own PrevLSN.
func (r *LogRecord) Undo(lastLSN primitives.LSN) (*LogRecord, error) {
	if !r.IsUndoable() {
		return nil, fmt.Errorf("record at LSN %d (%s) is not undoable", r.LSN, r.Type)
	}

	clr := &LogRecord{
		TransNum:       r.TransNum,
		HasTransNum:    r.HasTransNum,
		PrevLSN:        lastLSN,
		PageID:         r.PageID,
		PartitionNum:   r.PartitionNum,
		UndoNextLSN:    r.PrevLSN,
		HasUndoNextLSN: true,
	}

	switch r.Type {
	case UpdatePage:
		clr.Type = UndoUpdatePage
		clr.PageOffset = r.PageOffset
		clr.After = r.Before
	case AllocPart:
		clr.Type = UndoAllocPart
	case FreePart:
		clr.Type = UndoFreePart
	case AllocPage:
		clr.Type = UndoAllocPage
	case FreePage:
		clr.Type = UndoFreePage
	default:
		return nil, fmt.Errorf("no CLR mapping for undoable type %s", r.Type)
	}

	return clr, nil
}

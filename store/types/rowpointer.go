package types

import (
	"fmt"
	"math"
)

// SquashedOffset tags which state a row version belongs to. Row pointers carry
// it so that a delete can tell a not-yet-committed row (remove it outright)
// from a committed row (mark a tombstone).
type SquashedOffset uint8

const (
	// TxStateOffset marks rows living in a transaction's insert tables.
	TxStateOffset SquashedOffset = 0
	// CommittedStateOffset marks rows living in the committed snapshot.
	CommittedStateOffset SquashedOffset = 1
)

func (so SquashedOffset) String() string {
	if so == TxStateOffset {
		return "tx"
	}
	return "committed"
}

// RowPointer locates one row version: which state owns it, which page holds
// it and the slot within the page. Packed into a u64:
//
//	bit  63     squashed offset
//	bits 48..62 reserved
//	bits 16..47 page index
//	bits  0..15 page slot
type RowPointer uint64

// InvalidRowPointer is never minted by a page; all reserved bits set.
const InvalidRowPointer RowPointer = math.MaxUint64

const (
	squashedShift = 63
	pageShift     = 16
	slotMask      = 0xFFFF
	pageMask      = 0xFFFFFFFF
)

// NewRowPointer packs the three coordinates.
func NewRowPointer(so SquashedOffset, page PageIndex, slot PageSlot) RowPointer {
	return RowPointer(uint64(so)<<squashedShift |
		uint64(page)<<pageShift |
		uint64(slot))
}

// PageIndex addresses a page within a table.
type PageIndex uint32

// PageSlot addresses a fixed-size slot within a page.
type PageSlot uint16

func (p RowPointer) SquashedOffset() SquashedOffset {
	return SquashedOffset(uint64(p) >> squashedShift)
}

func (p RowPointer) Page() PageIndex {
	return PageIndex((uint64(p) >> pageShift) & pageMask)
}

func (p RowPointer) Slot() PageSlot {
	return PageSlot(uint64(p) & slotMask)
}

// WithSquashedOffset rewrites just the state tag, used when a transaction's
// insert pages are adopted into the committed snapshot at merge time.
func (p RowPointer) WithSquashedOffset(so SquashedOffset) RowPointer {
	return NewRowPointer(so, p.Page(), p.Slot())
}

func (p RowPointer) IsValid() bool { return p != InvalidRowPointer }

func (p RowPointer) String() string {
	if !p.IsValid() {
		return "row(invalid)"
	}
	return fmt.Sprintf("row(%s,%d,%d)", p.SquashedOffset(), p.Page(), p.Slot())
}

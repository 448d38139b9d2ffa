package types

import "fmt"

// Interned identifiers for schema objects. They are dense u32 handles minted
// by the catalog sequences, not user-visible names.
type (
	TableID      uint32
	ColID        uint16
	IndexID      uint32
	SequenceID   uint32
	ConstraintID uint32
	ViewID       uint32
)

// ReservedIDRange is the top of the identifier range reserved for catalog
// objects. Catalog sequences start allocating strictly above it, so user
// tables, indexes, sequences and constraints always get IDs > ReservedIDRange.
const ReservedIDRange uint32 = 4096

func (id TableID) String() string      { return fmt.Sprintf("table#%d", uint32(id)) }
func (id ColID) String() string        { return fmt.Sprintf("col#%d", uint16(id)) }
func (id IndexID) String() string      { return fmt.Sprintf("index#%d", uint32(id)) }
func (id SequenceID) String() string   { return fmt.Sprintf("sequence#%d", uint32(id)) }
func (id ConstraintID) String() string { return fmt.Sprintf("constraint#%d", uint32(id)) }

// IsReserved reports whether the table lives in the catalog ID range.
func (id TableID) IsReserved() bool { return uint32(id) <= ReservedIDRange }

// Idx returns the column's position in the row.
func (id ColID) Idx() int { return int(id) }

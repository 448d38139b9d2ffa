package datastore

import (
	"sort"

	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
)

// TxData is the structured diff one commit produced: per-table inserted and
// deleted rows plus truncate/drop markers. External change consumers and the
// commit log appender read it; nothing inside the store does.
type TxData struct {
	offset    uint64
	hasOffset bool
	updates   map[types.TableID]*TableUpdate
}

// TableUpdate is the diff for one table.
type TableUpdate struct {
	TableName string
	RowType   value.RowType
	Inserts   []value.Row
	Deletes   []value.Row
	// Truncated marks a table whose committed row count reached zero during
	// the deletes of this commit and stayed there.
	Truncated bool
	// Dropped marks a table removed by this commit.
	Dropped bool
}

func NewTxData() *TxData {
	return &TxData{updates: make(map[types.TableID]*TableUpdate)}
}

// Offset returns the durable offset this transaction consumed, if any. Pure
// reads and no-op commits consume none.
func (td *TxData) Offset() (uint64, bool) { return td.offset, td.hasOffset }

func (td *TxData) setOffset(o uint64) {
	td.offset = o
	td.hasOffset = true
}

// Update returns the diff entry for tid, creating it on first use.
func (td *TxData) Update(tid types.TableID, schema *table.TableSchema) *TableUpdate {
	if u, ok := td.updates[tid]; ok {
		return u
	}
	u := &TableUpdate{TableName: schema.Name, RowType: schema.RowType()}
	td.updates[tid] = u
	return u
}

// Get returns the diff entry for tid, or nil.
func (td *TxData) Get(tid types.TableID) *TableUpdate { return td.updates[tid] }

// TableIDs returns the touched table ids in ascending order.
func (td *TxData) TableIDs() []types.TableID {
	out := make([]types.TableID, 0, len(td.updates))
	for tid := range td.updates {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasRowMutation reports whether any table gained or lost rows, was
// truncated, or was dropped.
func (td *TxData) HasRowMutation() bool {
	for _, u := range td.updates {
		if len(u.Inserts) > 0 || len(u.Deletes) > 0 || u.Truncated || u.Dropped {
			return true
		}
	}
	return false
}

// NumInserts returns the total inserted-row count across tables.
func (td *TxData) NumInserts() int {
	n := 0
	for _, u := range td.updates {
		n += len(u.Inserts)
	}
	return n
}

// NumDeletes returns the total deleted-row count across tables.
func (td *TxData) NumDeletes() int {
	n := 0
	for _, u := range td.updates {
		n += len(u.Deletes)
	}
	return n
}

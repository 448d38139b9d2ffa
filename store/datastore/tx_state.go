package datastore

import (
	"sort"

	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
)

// schemaChangeKind tags one entry of the transaction's DDL undo log.
type schemaChangeKind uint8

const (
	changeTableAdded schemaChangeKind = iota
	changeTableRemoved
	changeIndexAdded
	changeIndexRemoved
	changeSequenceAdded
	changeSequenceRemoved
	changeConstraintAdded
	changeConstraintRemoved
)

// PendingSchemaChange is one reversible DDL delta. The variant set is closed;
// rollback replays the log in reverse, merge consumes the table removals.
type PendingSchemaChange struct {
	kind  schemaChangeKind
	table types.TableID

	// Removed variants carry enough schema to restore the object.
	tableSchema *table.TableSchema
	index       table.IndexSchema
	sequence    table.SequenceSchema
	constraint  table.ConstraintSchema
}

// TxState is the per-transaction overlay: this transaction's new rows, its
// tombstones over committed rows, its private blob store and the DDL undo
// log. Created at transaction begin, consumed by commit or dropped by
// rollback; it never persists.
type TxState struct {
	insertTables         map[types.TableID]*table.Table
	deleteTables         map[types.TableID]map[types.RowPointer]struct{}
	blobStore            *table.HashMapBlobStore
	pendingSchemaChanges []PendingSchemaChange
}

func NewTxState() *TxState {
	return &TxState{
		insertTables: make(map[types.TableID]*table.Table),
		deleteTables: make(map[types.TableID]map[types.RowPointer]struct{}),
		blobStore:    table.NewHashMapBlobStore(),
	}
}

// BlobStore returns the transaction-private blob store.
func (ts *TxState) BlobStore() value.BlobStore { return ts.blobStore }

// InsertTable returns this transaction's local table for tid, or nil if the
// transaction has not touched it.
func (ts *TxState) InsertTable(tid types.TableID) *table.Table {
	return ts.insertTables[tid]
}

// GetTableAndBlobStoreOrCreate returns the transaction-local table for tid,
// instantiating it on first touch as a fresh empty table cloned from
// template. The clone never aliases the committed table.
func (ts *TxState) GetTableAndBlobStoreOrCreate(tid types.TableID, template *table.TableSchema, blobThreshold int) (*table.Table, value.BlobStore) {
	t := ts.insertTables[tid]
	if t == nil {
		t = table.New(template.Clone(), types.TxStateOffset, blobThreshold)
		ts.insertTables[tid] = t
	}
	return t, ts.blobStore
}

// SetInsertTable registers a brand-new table created by this transaction.
func (ts *TxState) SetInsertTable(tid types.TableID, t *table.Table) {
	ts.insertTables[tid] = t
}

// RemoveInsertTable drops the transaction-local table for tid.
func (ts *TxState) RemoveInsertTable(tid types.TableID) {
	delete(ts.insertTables, tid)
}

// InsertTableIDs returns the ids of touched tables in ascending order, for
// deterministic merge output.
func (ts *TxState) InsertTableIDs() []types.TableID {
	out := make([]types.TableID, 0, len(ts.insertTables))
	for tid := range ts.insertTables {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarkDeleted tombstones a committed row pointer.
func (ts *TxState) MarkDeleted(tid types.TableID, ptr types.RowPointer) {
	set := ts.deleteTables[tid]
	if set == nil {
		set = make(map[types.RowPointer]struct{})
		ts.deleteTables[tid] = set
	}
	set[ptr] = struct{}{}
}

// UnmarkDeleted cancels a tombstone; reports whether one was present. An
// insert of a row byte-identical to a tombstoned committed row resolves to
// this instead of a physical insert.
func (ts *TxState) UnmarkDeleted(tid types.TableID, ptr types.RowPointer) bool {
	set := ts.deleteTables[tid]
	if set == nil {
		return false
	}
	if _, ok := set[ptr]; !ok {
		return false
	}
	delete(set, ptr)
	if len(set) == 0 {
		delete(ts.deleteTables, tid)
	}
	return true
}

// IsDeleted reports whether this transaction tombstoned ptr.
func (ts *TxState) IsDeleted(tid types.TableID, ptr types.RowPointer) bool {
	_, ok := ts.deleteTables[tid][ptr]
	return ok
}

// DeleteTableIDs returns the ids of tables with tombstones in ascending
// order.
func (ts *TxState) DeleteTableIDs() []types.TableID {
	out := make([]types.TableID, 0, len(ts.deleteTables))
	for tid := range ts.deleteTables {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedDeletes returns the tombstoned pointers of tid in ascending order.
func (ts *TxState) SortedDeletes(tid types.TableID) []types.RowPointer {
	set := ts.deleteTables[tid]
	out := make([]types.RowPointer, 0, len(set))
	for ptr := range set {
		out = append(out, ptr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NumDeletes returns the tombstone count for tid.
func (ts *TxState) NumDeletes(tid types.TableID) int {
	return len(ts.deleteTables[tid])
}

func (ts *TxState) recordTableAdded(tid types.TableID) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeTableAdded, table: tid})
}

func (ts *TxState) recordTableRemoved(schema *table.TableSchema) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeTableRemoved, table: schema.TableID, tableSchema: schema})
}

func (ts *TxState) recordIndexAdded(tid types.TableID, idx table.IndexSchema) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeIndexAdded, table: tid, index: idx})
}

func (ts *TxState) recordIndexRemoved(tid types.TableID, idx table.IndexSchema) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeIndexRemoved, table: tid, index: idx})
}

func (ts *TxState) recordSequenceAdded(tid types.TableID, seq table.SequenceSchema) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeSequenceAdded, table: tid, sequence: seq})
}

func (ts *TxState) recordSequenceRemoved(tid types.TableID, seq table.SequenceSchema) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeSequenceRemoved, table: tid, sequence: seq})
}

func (ts *TxState) recordConstraintAdded(tid types.TableID, c table.ConstraintSchema) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeConstraintAdded, table: tid, constraint: c})
}

func (ts *TxState) recordConstraintRemoved(tid types.TableID, c table.ConstraintSchema) {
	ts.pendingSchemaChanges = append(ts.pendingSchemaChanges, PendingSchemaChange{kind: changeConstraintRemoved, table: tid, constraint: c})
}

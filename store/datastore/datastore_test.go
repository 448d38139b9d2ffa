package datastore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Locking {
	store, err := Bootstrap(uuid.New(), 256)
	require.Nil(t, err)
	return store
}

func widgetDef() TableDef {
	return TableDef{
		Name: "widget",
		Columns: []ColumnDef{
			{Name: "id", Kind: value.KindU64, AutoInc: true, Unique: true},
			{Name: "name", Kind: value.KindString},
		},
	}
}

// createWidget commits a widget table and returns its id.
func createWidget(t *testing.T, store *Locking) types.TableID {
	tx := store.BeginMutTx(WorkloadInternal)
	tid, err := tx.CreateTable(widgetDef())
	require.Nil(t, err)
	tx.Commit()
	return tid
}

func widgetRow(id uint64, name string) value.Row {
	return value.Row{value.U64(id), value.String(name)}
}

func scanAll(t *testing.T, it *Iter) []value.Row {
	var rows []value.Row
	for it.Next() {
		rows = append(rows, it.Row())
	}
	return rows
}

func TestBootstrapSystemTables(t *testing.T) {
	store := newStore(t)
	tx := store.Begin()
	defer tx.Release()

	for _, want := range []struct {
		name string
		tid  types.TableID
	}{
		{"st_table", StTableID},
		{"st_column", StColumnID},
		{"st_sequence", StSequenceID},
		{"st_index", StIndexID},
		{"st_constraint", StConstraintID},
		{"st_client", StClientID},
	} {
		tid, ok := tx.TableIDFromName(want.name)
		require.True(t, ok, want.name)
		require.Equal(t, want.tid, tid)
	}

	// One st_table row per system table.
	n, err := tx.RowCount(StTableID)
	require.Nil(t, err)
	require.Equal(t, uint64(6), n)

	// The catalog must describe itself: the schema derived from catalog rows
	// matches the compiled-in shape.
	derived, err := tx.SchemaForTable(StSequenceID)
	require.Nil(t, err)
	derived = derived.Clone()
	derived.Normalize()
	expected := StSequenceSchema()
	expected.Normalize()
	require.True(t, derived.Equal(expected))
}

func TestCreateTableInsertScan(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	row, ptr, err := tx.Insert(tid, widgetRow(0, "a"))
	require.Nil(t, err)
	// Auto-increment fills the zero column before the row lands.
	require.Equal(t, uint64(1), row[0].AsU64())
	require.Equal(t, types.TxStateOffset, ptr.SquashedOffset())
	td := tx.Commit()

	_, ok := td.Offset()
	require.True(t, ok)
	require.Equal(t, 1, td.NumInserts())

	read := store.Begin()
	defer read.Release()
	it, err := read.Iter(tid)
	require.Nil(t, err)
	rows := scanAll(t, it)
	require.Equal(t, 1, len(rows))
	require.True(t, value.RowsEqual(widgetRow(1, "a"), rows[0]))
}

func TestCreateTableCommitEmptyIsUsable(t *testing.T) {
	store := newStore(t)
	// createWidget commits the CreateTable with zero rows; the merge must
	// still materialize the table so later transactions can resolve it.
	tid := createWidget(t, store)

	read := store.Begin()
	n, err := read.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(0), n)
	schema, err := read.SchemaForTable(tid)
	require.Nil(t, err)
	assert.Equal(t, "widget", schema.Name)
	read.Release()

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err = tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	tx.Commit()

	read = store.Begin()
	defer read.Release()
	it, err := read.Iter(tid)
	require.Nil(t, err)
	require.Equal(t, 1, len(scanAll(t, it)))
}

func TestInsertDeleteSameTxIsInvisible(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, ptr, err := tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)

	gone, err := tx.Delete(tid, ptr)
	require.Nil(t, err)
	require.True(t, gone)

	it, err := tx.Iter(tid)
	require.Nil(t, err)
	require.Equal(t, 0, len(scanAll(t, it)))

	// The transaction nets to nothing: no diff, no offset.
	td := tx.Commit()
	require.Equal(t, 0, td.NumInserts())
	require.Equal(t, 0, td.NumDeletes())
	_, ok := td.Offset()
	require.False(t, ok)
}

func TestInsertIdenticalCommittedRowIsNoop(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	tx.Commit()

	tx = store.BeginMutTx(WorkloadReducer)
	_, ptr, err := tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	// The insert resolves to the committed row.
	require.Equal(t, types.CommittedStateOffset, ptr.SquashedOffset())
	td := tx.Commit()
	require.Equal(t, 0, td.NumInserts())

	read := store.Begin()
	defer read.Release()
	n, err := read.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(1), n)
}

func TestInsertCancelsOwnTombstone(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	tx.Commit()

	tx = store.BeginMutTx(WorkloadReducer)
	gone, err := tx.DeleteByRow(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	require.True(t, gone)
	_, _, err = tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)

	td := tx.Commit()
	require.Equal(t, 0, td.NumInserts())
	require.Equal(t, 0, td.NumDeletes())

	read := store.Begin()
	defer read.Release()
	n, err := read.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(1), n)
}

func TestUniqueViolationAcrossStates(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	tx.Commit()

	tx = store.BeginMutTx(WorkloadReducer)
	// Same key, different payload: blocked by the committed unique index.
	_, _, err = tx.Insert(tid, widgetRow(1, "b"))
	_, isUnique := err.(*table.UniqueViolationError)
	require.True(t, isUnique)

	// Tombstoning the committed holder frees the key for this transaction.
	gone, err := tx.DeleteByRow(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	require.True(t, gone)
	_, _, err = tx.Insert(tid, widgetRow(1, "b"))
	require.Nil(t, err)
	tx.Commit()

	read := store.Begin()
	defer read.Release()
	it, err := read.Iter(tid)
	require.Nil(t, err)
	rows := scanAll(t, it)
	require.Equal(t, 1, len(rows))
	require.True(t, value.RowsEqual(widgetRow(1, "b"), rows[0]))
}

func TestDeleteAllThenInsertFresh(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 10; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "old"))
		require.Nil(t, err)
	}
	tx.Commit()

	// One transaction deletes everything and inserts a smaller fresh set.
	tx = store.BeginMutTx(WorkloadReducer)
	require.Nil(t, tx.ClearTable(tid))
	for i := uint64(100); i < 103; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "new"))
		require.Nil(t, err)
	}
	td := tx.Commit()
	require.Equal(t, 10, td.NumDeletes())
	require.Equal(t, 3, td.NumInserts())
	// Deletes merged first, so the table was never observed truncated.
	require.False(t, td.Get(tid).Truncated)

	read := store.Begin()
	defer read.Release()
	n, err := read.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(3), n)
}

func TestTruncatedFlag(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 3; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "x"))
		require.Nil(t, err)
	}
	tx.Commit()

	tx = store.BeginMutTx(WorkloadReducer)
	require.Nil(t, tx.ClearTable(tid))
	td := tx.Commit()
	require.True(t, td.Get(tid).Truncated)
}

func TestCommitOffsetArithmetic(t *testing.T) {
	store := newStore(t)
	base := store.NextTxOffset()
	tid := createWidget(t, store)
	require.Equal(t, base+1, store.NextTxOffset())

	// A commit with no row mutation consumes no offset.
	tx := store.BeginMutTx(WorkloadSql)
	_, err := tx.RowCount(tid)
	require.Nil(t, err)
	td := tx.Commit()
	_, ok := td.Offset()
	require.False(t, ok)
	require.Equal(t, base+1, store.NextTxOffset())

	tx = store.BeginMutTx(WorkloadReducer)
	_, _, err = tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	td = tx.Commit()
	off, ok := td.Offset()
	require.True(t, ok)
	require.Equal(t, base+1, off)
	require.Equal(t, base+2, store.NextTxOffset())
}

func TestConnectDisconnectConsumeOffsets(t *testing.T) {
	store := newStore(t)
	client := uuid.New()

	base := store.NextTxOffset()
	tx := store.BeginMutTx(WorkloadConnect)
	require.Nil(t, tx.ConnectClient(client, 1))
	td := tx.Commit()
	_, ok := td.Offset()
	require.True(t, ok)
	require.Equal(t, base+1, store.NextTxOffset())

	read := store.Begin()
	n, err := read.RowCount(StClientID)
	require.Nil(t, err)
	require.Equal(t, uint64(1), n)
	read.Release()

	tx = store.BeginMutTx(WorkloadDisconnect)
	gone, err := tx.DisconnectClient(client, 1)
	require.Nil(t, err)
	require.True(t, gone)
	td = tx.Commit()
	_, ok = td.Offset()
	require.True(t, ok)

	// Disconnecting an unknown client still consumes an offset: the
	// lifecycle event happened even if no row moved.
	tx = store.BeginMutTx(WorkloadDisconnect)
	gone, err = tx.DisconnectClient(client, 99)
	require.Nil(t, err)
	require.False(t, gone)
	td = tx.Commit()
	_, ok = td.Offset()
	require.True(t, ok)
}

func TestRollbackDiscardsRows(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)
	base := store.NextTxOffset()

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	require.Equal(t, base, tx.Rollback())

	read := store.Begin()
	defer read.Release()
	n, err := read.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(0), n)
	require.Equal(t, base, store.NextTxOffset())
}

func TestRollbackRestoresSchema(t *testing.T) {
	store := newStore(t)

	read := store.Begin()
	stTableRows, err := read.RowCount(StTableID)
	require.Nil(t, err)
	read.Release()

	tx := store.BeginMutTx(WorkloadInternal)
	_, err = tx.CreateTable(widgetDef())
	require.Nil(t, err)
	tx.Rollback()

	read = store.Begin()
	defer read.Release()
	_, ok := read.TableIDFromName("widget")
	require.False(t, ok)
	n, err := read.RowCount(StTableID)
	require.Nil(t, err)
	require.Equal(t, stTableRows, n)
}

func TestRollbackRestoresDroppedIndex(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 5; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "x"))
		require.Nil(t, err)
	}
	tx.Commit()

	read := store.Begin()
	schema, err := read.SchemaForTable(tid)
	require.Nil(t, err)
	indexID := schema.Indexes[0].IndexID
	read.Release()

	tx = store.BeginMutTx(WorkloadInternal)
	require.Nil(t, tx.DropIndex(indexID))
	tx.Rollback()

	// The index is back and still answers seeks.
	tx = store.BeginMutTx(WorkloadSql)
	it, err := tx.IterByColEq(tid, types.NewColList(0), value.U64(3))
	require.Nil(t, err)
	rows := scanAll(t, it)
	require.Equal(t, 1, len(rows))
	require.True(t, value.RowsEqual(widgetRow(3, "x"), rows[0]))
	tx.Rollback()
}

func TestSequenceValuesAreUniqueAndIncreasing(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	read := store.Begin()
	schema, err := read.SchemaForTable(tid)
	require.Nil(t, err)
	require.Equal(t, 1, len(schema.Sequences))
	seqID := schema.Sequences[0].SequenceID
	read.Release()

	tx := store.BeginMutTx(WorkloadReducer)
	prev := int64(0)
	for i := 0; i < 100; i++ {
		v, err := tx.GetNextSequenceValue(seqID)
		require.Nil(t, err)
		require.True(t, v > prev)
		prev = v
	}
	tx.Commit()
}

func TestSequenceExplicitValueSkipsGeneration(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	row, _, err := tx.Insert(tid, widgetRow(50, "manual"))
	require.Nil(t, err)
	require.Equal(t, uint64(50), row[0].AsU64())

	// Generation continues from the window, not from the manual value.
	row, _, err = tx.Insert(tid, widgetRow(0, "auto"))
	require.Nil(t, err)
	require.Equal(t, uint64(1), row[0].AsU64())
	tx.Commit()
}

func TestIterByColEqMatchesScan(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 20; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "x"))
		require.Nil(t, err)
	}
	tx.Commit()

	// Pending inserts and deletes must not desynchronize index seeks from
	// full scans.
	tx = store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(30, "pending"))
	require.Nil(t, err)
	gone, err := tx.DeleteByRow(tid, widgetRow(5, "x"))
	require.Nil(t, err)
	require.True(t, gone)

	for _, id := range []uint64{1, 5, 20, 30, 99} {
		it, err := tx.IterByColEq(tid, types.NewColList(0), value.U64(id))
		require.Nil(t, err)
		seek := scanAll(t, it)

		it, err = tx.Iter(tid)
		require.Nil(t, err)
		var scan []value.Row
		for it.Next() {
			if it.Row()[0].AsU64() == id {
				scan = append(scan, it.Row())
			}
		}
		require.Equal(t, len(scan), len(seek), "id %d", id)
		for i := range scan {
			assert.True(t, value.RowsEqual(scan[i], seek[i]))
		}
	}
	tx.Rollback()
}

func TestIterByColRange(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 10; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "x"))
		require.Nil(t, err)
	}
	tx.Commit()

	read := store.Begin()
	defer read.Release()
	it, err := read.IterByColRange(tid, types.NewColList(0),
		[]value.Value{value.U64(3)}, []value.Value{value.U64(7)})
	require.Nil(t, err)
	rows := scanAll(t, it)
	require.Equal(t, 5, len(rows))

	// Open-ended on both sides covers the table.
	it, err = read.IterByColRange(tid, types.NewColList(0), nil, nil)
	require.Nil(t, err)
	require.Equal(t, 10, len(scanAll(t, it)))
}

func TestDropTable(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 3; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "x"))
		require.Nil(t, err)
	}
	tx.Commit()

	tx = store.BeginMutTx(WorkloadInternal)
	require.Nil(t, tx.DropTable(tid))
	td := tx.Commit()
	require.True(t, td.Get(tid).Dropped)
	// The dropped table's own rows; the same commit also deletes its
	// catalog rows from the system tables.
	require.Equal(t, 3, len(td.Get(tid).Deletes))

	read := store.Begin()
	defer read.Release()
	_, ok := read.TableIDFromName("widget")
	require.False(t, ok)
	_, err := read.RowCount(tid)
	_, isNotFound := err.(*TableNotFoundError)
	require.True(t, isNotFound)

	// Catalog rows for the dropped table are gone too.
	it, err := read.IterByColEq(StColumnID, types.NewColList(stColumnColTableID), value.U64(uint64(tid)))
	require.Nil(t, err)
	require.Equal(t, 0, len(scanAll(t, it)))
}

func TestDropSystemTableRefused(t *testing.T) {
	store := newStore(t)
	tx := store.BeginMutTx(WorkloadInternal)
	defer tx.Rollback()
	require.NotNil(t, tx.DropTable(StTableID))
}

func TestCreateIndexOverExistingRows(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 5; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "name"+string(rune('a'+i))))
		require.Nil(t, err)
	}
	tx.Commit()

	tx = store.BeginMutTx(WorkloadInternal)
	idxID, err := tx.CreateIndex(tid, "widget_name_idx", types.NewColList(1), false)
	require.Nil(t, err)
	tx.Commit()

	tx = store.BeginMutTx(WorkloadSql)
	it, err := tx.IterByColEq(tid, types.NewColList(1), value.String("name"+string(rune('a'+3))))
	require.Nil(t, err)
	rows := scanAll(t, it)
	require.Equal(t, 1, len(rows))
	require.Equal(t, uint64(3), rows[0][0].AsU64())

	require.Nil(t, tx.DropIndex(idxID))
	tx.Commit()

	read := store.Begin()
	defer read.Release()
	schema, err := read.SchemaForTable(tid)
	require.Nil(t, err)
	require.Nil(t, schema.IndexByID(idxID))
}

func TestCreateUniqueIndexCrossStateCollision(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(1, "dup"))
	require.Nil(t, err)
	tx.Commit()

	// A pending insert collides with a live committed row on the indexed
	// column; the build must fail here, not blow up the merge.
	tx = store.BeginMutTx(WorkloadReducer)
	_, _, err = tx.Insert(tid, widgetRow(2, "dup"))
	require.Nil(t, err)
	_, err = tx.CreateIndex(tid, "widget_name_uq", types.NewColList(1), true)
	require.NotNil(t, err)
	_, isUnique := err.(*table.UniqueViolationError)
	require.True(t, isUnique)
	tx.Rollback()

	// Rollback stripped the half-built index from the committed table.
	read := store.Begin()
	schema, err := read.SchemaForTable(tid)
	require.Nil(t, err)
	assert.Equal(t, 1, len(schema.Indexes))
	read.Release()

	tx = store.BeginMutTx(WorkloadReducer)
	_, _, err = tx.Insert(tid, widgetRow(3, "dup"))
	require.Nil(t, err)
	tx.Commit()
}

func TestCreateUniqueIndexIgnoresTombstonedRows(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(1, "dup"))
	require.Nil(t, err)
	tx.Commit()

	// Deleting the committed row in the same transaction frees its key for
	// the pending insert.
	tx = store.BeginMutTx(WorkloadReducer)
	ok, err := tx.DeleteByRow(tid, widgetRow(1, "dup"))
	require.Nil(t, err)
	require.True(t, ok)
	_, _, err = tx.Insert(tid, widgetRow(2, "dup"))
	require.Nil(t, err)
	_, err = tx.CreateIndex(tid, "widget_name_uq", types.NewColList(1), true)
	require.Nil(t, err)
	tx.Commit()

	read := store.Begin()
	defer read.Release()
	it, err := read.IterByColEq(tid, types.NewColList(1), value.String("dup"))
	require.Nil(t, err)
	rows := scanAll(t, it)
	require.Equal(t, 1, len(rows))
	require.Equal(t, uint64(2), rows[0][0].AsU64())
}

func TestUpdateReplacesRowByUniqueKey(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(1, "before"))
	require.Nil(t, err)
	tx.Commit()

	read := store.Begin()
	schema, err := read.SchemaForTable(tid)
	require.Nil(t, err)
	idxID := schema.Indexes[0].IndexID
	read.Release()

	tx = store.BeginMutTx(WorkloadReducer)
	row, _, err := tx.Update(tid, idxID, widgetRow(1, "after"))
	require.Nil(t, err)
	require.Equal(t, "after", row[1].AsString())
	tx.Commit()

	read = store.Begin()
	defer read.Release()
	it, err := read.Iter(tid)
	require.Nil(t, err)
	rows := scanAll(t, it)
	require.Equal(t, 1, len(rows))
	require.True(t, value.RowsEqual(widgetRow(1, "after"), rows[0]))
}

func TestGetRejectsCrossStatePointer(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	_, txPtr, err := tx.Insert(tid, widgetRow(1, "a"))
	require.Nil(t, err)
	require.Equal(t, types.TxStateOffset, txPtr.SquashedOffset())
	tx.Commit()

	// The pointer died with its transaction; the committed copy has its own.
	read := store.Begin()
	defer read.Release()
	_, err = read.Get(tid, txPtr)
	require.NotNil(t, err)

	it, err := read.Iter(tid)
	require.Nil(t, err)
	require.True(t, it.Next())
	row, err := read.Get(tid, it.Ptr())
	require.Nil(t, err)
	require.True(t, value.RowsEqual(widgetRow(1, "a"), row))
}

func TestRowCountAcrossStates(t *testing.T) {
	store := newStore(t)
	tid := createWidget(t, store)

	tx := store.BeginMutTx(WorkloadReducer)
	for i := uint64(1); i <= 4; i++ {
		_, _, err := tx.Insert(tid, widgetRow(i, "x"))
		require.Nil(t, err)
	}
	tx.Commit()

	tx = store.BeginMutTx(WorkloadReducer)
	_, _, err := tx.Insert(tid, widgetRow(5, "x"))
	require.Nil(t, err)
	gone, err := tx.DeleteByRow(tid, widgetRow(1, "x"))
	require.Nil(t, err)
	require.True(t, gone)

	n, err := tx.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(4), n)
	tx.Rollback()

	read := store.Begin()
	defer read.Release()
	n, err = read.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(4), n)
}

package table

import (
	"testing"

	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/stretchr/testify/require"
)

func testSchema() *TableSchema {
	return &TableSchema{
		TableID: 5000,
		Name:    "widget",
		Columns: []ColumnSchema{
			{TableID: 5000, Pos: 0, Name: "id", Kind: value.KindU64},
			{TableID: 5000, Pos: 1, Name: "name", Kind: value.KindString},
		},
	}
}

func testRow(id uint64, name string) value.Row {
	return value.Row{value.U64(id), value.String(name)}
}

func TestTableInsertGetDelete(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	_, ptr, err := tbl.Insert(pool, bs, testRow(1, "a"))
	require.Nil(t, err)
	require.Equal(t, types.CommittedStateOffset, ptr.SquashedOffset())
	require.Equal(t, uint64(1), tbl.RowCount())

	row, err := tbl.Get(ptr, bs)
	require.Nil(t, err)
	require.True(t, value.RowsEqual(testRow(1, "a"), row))

	deleted, ok := tbl.Delete(ptr, bs)
	require.True(t, ok)
	require.True(t, value.RowsEqual(testRow(1, "a"), deleted))
	require.Equal(t, uint64(0), tbl.RowCount())
	require.False(t, tbl.Contains(ptr))
}

func TestTableInsertDuplicate(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	_, ptr, err := tbl.Insert(pool, bs, testRow(1, "a"))
	require.Nil(t, err)

	// A byte-identical row is a duplicate, never a second copy.
	_, _, err = tbl.Insert(pool, bs, testRow(1, "a"))
	dup, ok := err.(*DuplicateError)
	require.True(t, ok)
	require.Equal(t, ptr, dup.Existing)
	require.Equal(t, uint64(1), tbl.RowCount())

	// A row differing in any byte is its own row.
	_, ptr2, err := tbl.Insert(pool, bs, testRow(1, "b"))
	require.Nil(t, err)
	require.NotEqual(t, ptr, ptr2)
	require.Equal(t, uint64(2), tbl.RowCount())
}

func TestTableSlotReuse(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	_, ptr, err := tbl.Insert(pool, bs, testRow(1, "a"))
	require.Nil(t, err)
	_, ok := tbl.Delete(ptr, bs)
	require.True(t, ok)

	// The freed slot is handed back before a fresh one is cut.
	_, ptr2, err := tbl.Insert(pool, bs, testRow(2, "b"))
	require.Nil(t, err)
	require.Equal(t, ptr.Page(), ptr2.Page())
	require.Equal(t, ptr.Slot(), ptr2.Slot())
}

func TestTableFindRow(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	_, ptr, err := tbl.Insert(pool, bs, testRow(7, "g"))
	require.Nil(t, err)

	got, ok := tbl.FindRow(testRow(7, "g"))
	require.True(t, ok)
	require.Equal(t, ptr, got)

	_, ok = tbl.FindRow(testRow(7, "h"))
	require.False(t, ok)
}

func TestTableDeleteByRow(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	_, ptr, err := tbl.Insert(pool, bs, testRow(3, "c"))
	require.Nil(t, err)

	got, ok := tbl.DeleteByRow(testRow(3, "c"), bs)
	require.True(t, ok)
	require.Equal(t, ptr, got)

	_, ok = tbl.DeleteByRow(testRow(3, "c"), bs)
	require.False(t, ok)
}

func TestTableUniqueIndex(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	schema := testSchema()
	schema.AddIndex(IndexSchema{
		IndexID: 5001, TableID: schema.TableID, Name: "widget_id_idx",
		Cols: types.NewColList(0), Unique: true,
	})
	tbl := New(schema, types.CommittedStateOffset, 256)

	_, _, err := tbl.Insert(pool, bs, testRow(1, "a"))
	require.Nil(t, err)

	// Same key, different row: unique violation, not a duplicate.
	_, _, err = tbl.Insert(pool, bs, testRow(1, "b"))
	_, ok := err.(*UniqueViolationError)
	require.True(t, ok)
	require.Equal(t, uint64(1), tbl.RowCount())
}

func TestTableIndexSeek(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	schema := testSchema()
	schema.AddIndex(IndexSchema{
		IndexID: 5001, TableID: schema.TableID, Name: "widget_id_idx",
		Cols: types.NewColList(0), Unique: false,
	})
	tbl := New(schema, types.CommittedStateOffset, 256)

	ptrs := make(map[uint64]types.RowPointer)
	for id := uint64(1); id <= 10; id++ {
		_, ptr, err := tbl.Insert(pool, bs, testRow(id, "x"))
		require.Nil(t, err)
		ptrs[id] = ptr
	}

	idx := tbl.Index(5001)
	require.NotNil(t, idx)

	key := IndexKey(types.NewColList(0), testRow(4, ""))
	got := idx.SeekPoint(key)
	require.Equal(t, []types.RowPointer{ptrs[4]}, got)

	low := IndexKey(types.NewColList(0), testRow(3, ""))
	high := IndexKey(types.NewColList(0), testRow(6, ""))
	ranged := idx.SeekRange(low, high)
	require.Equal(t, 4, len(ranged))

	// Nil bounds are open ends.
	all := idx.SeekRange(nil, nil)
	require.Equal(t, 10, len(all))
}

func TestTableAddIndexOverExistingRows(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	for id := uint64(1); id <= 3; id++ {
		_, _, err := tbl.Insert(pool, bs, testRow(id, "x"))
		require.Nil(t, err)
	}

	idx, err := tbl.AddIndex(IndexSchema{
		IndexID: 5001, TableID: tbl.Schema().TableID, Name: "widget_id_idx",
		Cols: types.NewColList(0), Unique: true,
	}, bs)
	require.Nil(t, err)
	require.Equal(t, 3, idx.Len())

	// Building a unique index over conflicting rows must fail.
	_, _, err = tbl.Insert(pool, bs, testRow(4, "a"))
	require.Nil(t, err)
	_, _, err = tbl.Insert(pool, bs, testRow(4, "b"))
	require.NotNil(t, err)
}

func TestTableClear(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	for id := uint64(1); id <= PageSlots+5; id++ {
		_, _, err := tbl.Insert(pool, bs, testRow(id, "x"))
		require.Nil(t, err)
	}
	require.Equal(t, uint64(PageSlots+5), tbl.RowCount())

	rows := tbl.Clear(pool, bs)
	require.Equal(t, PageSlots+5, len(rows))
	require.Equal(t, uint64(0), tbl.RowCount())
	// Pages went back to the pool for reuse.
	require.True(t, pool.FreePages() >= 2)
}

func TestTableScan(t *testing.T) {
	pool := NewPagePool()
	bs := NewHashMapBlobStore()
	tbl := New(testSchema(), types.CommittedStateOffset, 256)

	want := map[uint64]bool{}
	for id := uint64(1); id <= 5; id++ {
		_, _, err := tbl.Insert(pool, bs, testRow(id, "x"))
		require.Nil(t, err)
		want[id] = true
	}
	_, ok := tbl.DeleteByRow(testRow(3, "x"), bs)
	require.True(t, ok)
	delete(want, 3)

	it := tbl.Scan()
	for it.Next() {
		row, err := it.Row(bs)
		require.Nil(t, err)
		id := row[0].AsU64()
		require.True(t, want[id])
		delete(want, id)
	}
	require.Equal(t, 0, len(want))
}

func TestBlobStoreRefcount(t *testing.T) {
	bs := NewHashMapBlobStore()
	data := []byte("payload")
	h := value.HashBlob(data)

	bs.Insert(h, data)
	bs.Insert(h, data)
	require.Equal(t, 1, bs.Len())

	require.True(t, bs.Free(h))
	got, ok := bs.Get(h)
	require.True(t, ok)
	require.Equal(t, data, got)

	require.True(t, bs.Free(h))
	_, ok = bs.Get(h)
	require.False(t, ok)
	require.False(t, bs.Free(h))
}

func TestSchemaEqualIgnoresAllocated(t *testing.T) {
	a := testSchema()
	b := testSchema()
	a.AddSequence(SequenceSchema{
		SequenceID: 5002, TableID: a.TableID, ColPos: 0, Name: "widget_id_seq",
		Start: 1, Increment: 1, MinValue: 1, MaxValue: 1 << 40, Allocated: 4096,
	})
	b.AddSequence(SequenceSchema{
		SequenceID: 5002, TableID: b.TableID, ColPos: 0, Name: "widget_id_seq",
		Start: 1, Increment: 1, MinValue: 1, MaxValue: 1 << 40, Allocated: 8192,
	})
	// Allocated is runtime state, not shape.
	require.True(t, a.Equal(b))
}

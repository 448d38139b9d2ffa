package table

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/pingcap/errors"
)

// DuplicateError reports an insert of a row byte-identical to a live one.
// Callers decide whether that is an error; the high-level insert contract
// treats it as a successful no-op.
type DuplicateError struct {
	Table    types.TableID
	Existing types.RowPointer
}

func (e *DuplicateError) Error() string {
	return "duplicate row in " + e.Table.String() + " at " + e.Existing.String()
}

// UniqueViolationError reports an insert whose key collides in a unique index.
type UniqueViolationError struct {
	Table types.TableID
	Index types.IndexID
}

func (e *UniqueViolationError) Error() string {
	return "unique constraint violation in " + e.Table.String() + " on " + e.Index.String()
}

// Table is one table's physical rows plus its secondary indexes and the
// pointer map backing set semantics. Every pointer a Table mints carries the
// squashed offset the table was created with, so a tx-state pointer can never
// be dereferenced against a committed table or vice versa.
type Table struct {
	schema        *TableSchema
	so            types.SquashedOffset
	blobThreshold int

	pages      []*Page
	freeSlots  []types.RowPointer
	pointerMap map[uint64][]types.RowPointer
	indexes    map[types.IndexID]*TableIndex
	rowCount   uint64
}

// New creates an empty table. Indexes named by the schema are created empty;
// the table starts with no pages.
func New(schema *TableSchema, so types.SquashedOffset, blobThreshold int) *Table {
	t := &Table{
		schema:        schema,
		so:            so,
		blobThreshold: blobThreshold,
		pointerMap:    make(map[uint64][]types.RowPointer),
		indexes:       make(map[types.IndexID]*TableIndex),
	}
	for _, idx := range schema.Indexes {
		t.indexes[idx.IndexID] = NewTableIndex(idx)
	}
	return t
}

func (t *Table) Schema() *TableSchema                 { return t.schema }
func (t *Table) SquashedOffset() types.SquashedOffset { return t.so }
func (t *Table) RowCount() uint64                     { return t.rowCount }
func (t *Table) BlobThreshold() int                   { return t.blobThreshold }

// SetSchema swaps the logical schema in place. Used by replay when catalog
// rows change shape; the caller guarantees existing rows match the new type.
func (t *Table) SetSchema(schema *TableSchema) { t.schema = schema }

// Index returns the index with the given id, or nil.
func (t *Table) Index(id types.IndexID) *TableIndex { return t.indexes[id] }

// IndexByCols returns the index covering exactly cols, or nil.
func (t *Table) IndexByCols(cols types.ColList) *TableIndex {
	for _, idx := range t.indexes {
		if idx.Cols().Equal(cols) {
			return idx
		}
	}
	return nil
}

// RowHash is the pointer-map hash of a row's storage encoding.
func RowHash(enc []byte) uint64 { return xxhash.Sum64(enc) }

// EncodeForLookup encodes row exactly as this table would store it, without
// touching any blob store. Equality probes use it.
func (t *Table) EncodeForLookup(row value.Row) []byte {
	return value.EncodeRow(nil, row, nil, t.blobThreshold)
}

// Find returns the pointer of the live row byte-identical to enc.
func (t *Table) Find(enc []byte) (types.RowPointer, bool) {
	for _, ptr := range t.pointerMap[RowHash(enc)] {
		if bytes.Equal(t.rowBytes(ptr), enc) {
			return ptr, true
		}
	}
	return types.InvalidRowPointer, false
}

// FindRow is Find over a decoded row.
func (t *Table) FindRow(row value.Row) (types.RowPointer, bool) {
	return t.Find(t.EncodeForLookup(row))
}

// Insert adds row to the table. Freed slots are reused before new pages are
// taken from the pool, so a delete-heavy transaction does not grow storage.
// Returns a DuplicateError carrying the existing pointer when a live row with
// the identical encoding is present, and a UniqueViolationError when a unique
// index already holds the row's key.
func (t *Table) Insert(pool *PagePool, bs value.BlobStore, row value.Row) (uint64, types.RowPointer, error) {
	if err := row.TypeCheck(t.schema.RowType()); err != nil {
		return 0, types.InvalidRowPointer, errors.WithStack(err)
	}
	lookup := t.EncodeForLookup(row)
	hash := RowHash(lookup)
	for _, ptr := range t.pointerMap[hash] {
		if bytes.Equal(t.rowBytes(ptr), lookup) {
			return hash, ptr, &DuplicateError{Table: t.schema.TableID, Existing: ptr}
		}
	}
	for _, idx := range t.indexes {
		if idx.Unique() && idx.ContainsKey(idx.KeyFromRow(row)) {
			return hash, types.InvalidRowPointer, &UniqueViolationError{Table: t.schema.TableID, Index: idx.ID()}
		}
	}

	// The lookup bytes and the stored bytes are identical; re-encode only to
	// register blob references with the store.
	enc := value.EncodeRow(nil, row, bs, t.blobThreshold)
	ptr := t.allocSlot(pool)
	t.pages[ptr.Page()].set(ptr.Slot(), enc)
	t.pointerMap[hash] = append(t.pointerMap[hash], ptr)
	for _, idx := range t.indexes {
		idx.Insert(idx.KeyFromRow(row), ptr)
	}
	t.rowCount++
	return hash, ptr, nil
}

func (t *Table) allocSlot(pool *PagePool) types.RowPointer {
	if n := len(t.freeSlots); n > 0 {
		ptr := t.freeSlots[n-1]
		t.freeSlots = t.freeSlots[:n-1]
		return ptr
	}
	if len(t.pages) == 0 || t.pages[len(t.pages)-1].full() {
		t.pages = append(t.pages, pool.Take())
	}
	pageIdx := types.PageIndex(len(t.pages) - 1)
	pg := t.pages[pageIdx]
	for slot := 0; slot < PageSlots; slot++ {
		if pg.slots[slot] == nil {
			return types.NewRowPointer(t.so, pageIdx, types.PageSlot(slot))
		}
	}
	panic("page reported non-full but has no free slot")
}

// Get decodes the row at ptr.
func (t *Table) Get(ptr types.RowPointer, bs value.BlobStore) (value.Row, error) {
	enc := t.rowBytes(ptr)
	if enc == nil {
		return nil, errors.Errorf("%s: no row at %s", t.schema.TableID, ptr)
	}
	return value.DecodeRow(enc, t.schema.RowType(), bs)
}

// Contains reports whether ptr addresses a live row.
func (t *Table) Contains(ptr types.RowPointer) bool { return t.rowBytes(ptr) != nil }

func (t *Table) rowBytes(ptr types.RowPointer) []byte {
	if ptr.SquashedOffset() != t.so || int(ptr.Page()) >= len(t.pages) {
		return nil
	}
	return t.pages[ptr.Page()].row(ptr.Slot())
}

// Delete removes the row at ptr, returning the decoded row for the diff.
func (t *Table) Delete(ptr types.RowPointer, bs value.BlobStore) (value.Row, bool) {
	enc := t.rowBytes(ptr)
	if enc == nil {
		return nil, false
	}
	row, err := value.DecodeRow(enc, t.schema.RowType(), bs)
	if err != nil {
		// A stored row always decodes against its own schema.
		panic(err)
	}
	t.removeSlot(ptr, enc, row, bs)
	return row, true
}

// DeleteByRow removes the live row byte-identical to row.
func (t *Table) DeleteByRow(row value.Row, bs value.BlobStore) (types.RowPointer, bool) {
	ptr, ok := t.Find(t.EncodeForLookup(row))
	if !ok {
		return types.InvalidRowPointer, false
	}
	t.removeSlot(ptr, t.rowBytes(ptr), row, bs)
	return ptr, true
}

func (t *Table) removeSlot(ptr types.RowPointer, enc []byte, row value.Row, bs value.BlobStore) {
	if err := value.FreeRowBlobs(enc, t.schema.RowType(), bs); err != nil {
		panic(err)
	}
	hash := RowHash(enc)
	ptrs := t.pointerMap[hash]
	for i, p := range ptrs {
		if p == ptr {
			t.pointerMap[hash] = append(ptrs[:i], ptrs[i+1:]...)
			break
		}
	}
	if len(t.pointerMap[hash]) == 0 {
		delete(t.pointerMap, hash)
	}
	for _, idx := range t.indexes {
		idx.Delete(idx.KeyFromRow(row), ptr)
	}
	t.pages[ptr.Page()].clear(ptr.Slot())
	t.freeSlots = append(t.freeSlots, ptr)
	t.rowCount--
}

// Clear removes every row, returning the removed rows in scan order and
// handing all pages back to the pool.
func (t *Table) Clear(pool *PagePool, bs value.BlobStore) []value.Row {
	var rows []value.Row
	it := t.Scan()
	for it.Next() {
		row, err := value.DecodeRow(it.RowBytes(), t.schema.RowType(), bs)
		if err != nil {
			panic(err)
		}
		if err := value.FreeRowBlobs(it.RowBytes(), t.schema.RowType(), bs); err != nil {
			panic(err)
		}
		rows = append(rows, row)
	}
	for _, pg := range t.pages {
		pool.Put(pg)
	}
	t.pages = nil
	t.freeSlots = nil
	t.pointerMap = make(map[uint64][]types.RowPointer)
	for id, idx := range t.indexes {
		t.indexes[id] = idx.cloneEmpty()
	}
	t.rowCount = 0
	return rows
}

// AddIndex registers and builds a new index over the current rows. For a
// unique index, an existing key collision aborts the build.
func (t *Table) AddIndex(schema IndexSchema, bs value.BlobStore) (*TableIndex, error) {
	idx := NewTableIndex(schema)
	it := t.Scan()
	for it.Next() {
		row, err := value.DecodeRow(it.RowBytes(), t.schema.RowType(), bs)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		key := idx.KeyFromRow(row)
		if idx.Unique() && idx.ContainsKey(key) {
			return nil, &UniqueViolationError{Table: t.schema.TableID, Index: schema.IndexID}
		}
		idx.Insert(key, it.Ptr())
	}
	t.indexes[schema.IndexID] = idx
	return idx, nil
}

// RemoveIndex drops the index with the given id.
func (t *Table) RemoveIndex(id types.IndexID) bool {
	if _, ok := t.indexes[id]; !ok {
		return false
	}
	delete(t.indexes, id)
	return true
}

// Scan returns an iterator over all live rows in page order.
func (t *Table) Scan() *ScanIter {
	return &ScanIter{t: t, page: 0, slot: -1}
}

// ScanIter walks a table's pages, yielding live slots.
type ScanIter struct {
	t    *Table
	page int
	slot int
}

// Next advances to the next live row.
func (it *ScanIter) Next() bool {
	for it.page < len(it.t.pages) {
		it.slot++
		if it.slot >= PageSlots {
			it.page++
			it.slot = -1
			continue
		}
		if it.t.pages[it.page].slots[it.slot] != nil {
			return true
		}
	}
	return false
}

// Ptr returns the current row's pointer.
func (it *ScanIter) Ptr() types.RowPointer {
	return types.NewRowPointer(it.t.so, types.PageIndex(it.page), types.PageSlot(it.slot))
}

// RowBytes returns the current row's storage encoding.
func (it *ScanIter) RowBytes() []byte {
	return it.t.pages[it.page].slots[it.slot]
}

// Row decodes the current row.
func (it *ScanIter) Row(bs value.BlobStore) (value.Row, error) {
	return value.DecodeRow(it.RowBytes(), it.t.schema.RowType(), bs)
}

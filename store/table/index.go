package table

import (
	"bytes"

	"github.com/google/btree"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
)

const indexDegree = 32

// indexItem is one (key, row pointer) pair in an index tree. Non-unique
// indexes distinguish equal keys by pointer.
type indexItem struct {
	key []byte
	ptr types.RowPointer
}

func (a indexItem) Less(than btree.Item) bool {
	b := than.(indexItem)
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.ptr < b.ptr
}

// TableIndex is one secondary index: an ordered mapping from encoded key
// bytes to the row pointers holding that key.
type TableIndex struct {
	schema IndexSchema
	tree   *btree.BTree
}

func NewTableIndex(schema IndexSchema) *TableIndex {
	return &TableIndex{schema: schema, tree: btree.New(indexDegree)}
}

func (idx *TableIndex) ID() types.IndexID   { return idx.schema.IndexID }
func (idx *TableIndex) Cols() types.ColList { return idx.schema.Cols }
func (idx *TableIndex) Unique() bool        { return idx.schema.Unique }
func (idx *TableIndex) Schema() IndexSchema { return idx.schema }
func (idx *TableIndex) Len() int            { return idx.tree.Len() }

// KeyFromRow encodes the indexed columns of row into an index key.
func (idx *TableIndex) KeyFromRow(row value.Row) []byte {
	return IndexKey(idx.schema.Cols, row)
}

// IndexKey encodes the given columns of row into index key bytes.
func IndexKey(cols types.ColList, row value.Row) []byte {
	var key []byte
	for _, c := range cols.Cols() {
		key = value.EncodeKey(key, row[c.Idx()])
	}
	return key
}

// ContainsKey reports whether some row holds exactly key.
func (idx *TableIndex) ContainsKey(key []byte) bool {
	found := false
	idx.tree.AscendGreaterOrEqual(indexItem{key: key}, func(i btree.Item) bool {
		found = bytes.Equal(i.(indexItem).key, key)
		return false
	})
	return found
}

// Insert adds (key, ptr) to the index.
func (idx *TableIndex) Insert(key []byte, ptr types.RowPointer) {
	idx.tree.ReplaceOrInsert(indexItem{key: key, ptr: ptr})
}

// Delete removes (key, ptr); reports whether it was present.
func (idx *TableIndex) Delete(key []byte, ptr types.RowPointer) bool {
	return idx.tree.Delete(indexItem{key: key, ptr: ptr}) != nil
}

// SeekPoint returns the pointers of all rows holding exactly key.
func (idx *TableIndex) SeekPoint(key []byte) []types.RowPointer {
	var out []types.RowPointer
	idx.tree.AscendGreaterOrEqual(indexItem{key: key}, func(i btree.Item) bool {
		it := i.(indexItem)
		if !bytes.Equal(it.key, key) {
			return false
		}
		out = append(out, it.ptr)
		return true
	})
	return out
}

// SeekRange returns the pointers of all rows with low <= key <= high, in key
// order. A nil bound is unbounded on that side.
func (idx *TableIndex) SeekRange(low, high []byte) []types.RowPointer {
	var out []types.RowPointer
	walk := func(i btree.Item) bool {
		it := i.(indexItem)
		if high != nil && bytes.Compare(it.key, high) > 0 {
			return false
		}
		out = append(out, it.ptr)
		return true
	}
	if low == nil {
		idx.tree.Ascend(walk)
	} else {
		idx.tree.AscendGreaterOrEqual(indexItem{key: low}, walk)
	}
	return out
}

// clone returns an empty index with the same schema.
func (idx *TableIndex) cloneEmpty() *TableIndex {
	return NewTableIndex(idx.schema)
}

package datastore

import (
	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
)

// Iterator strategies over the tx/committed boundary. The variant set is
// closed and chosen once per query:
//
//   - iterScan: no index covers the requested columns. Walk the committed
//     table first, skipping rows tombstoned by this transaction, then the
//     transaction's own insert table.
//   - iterIndex: an index exists and the transaction touched the table. Walk
//     the tx-local index first, then the committed index filtered by the
//     tombstone set.
//   - iterCommittedIndex: an index exists and the transaction never touched
//     the table. Walk only the committed index, filtered by tombstones.
//
// The visibility rule all variants share: a committed row is excluded iff its
// pointer is tombstoned by the current transaction; a tx row is always
// visible, because deleting an own-insert removes it from the insert table
// outright instead of tombstoning.
type iterKind uint8

const (
	iterScan iterKind = iota
	iterIndex
	iterCommittedIndex
)

// Iter yields the rows of one table visible to one transaction. Next
// advances and reports whether a row is available; Row and Ptr read the
// current position.
type Iter struct {
	kind iterKind
	tid  types.TableID
	tx   *TxState // nil for read-only snapshots

	committed   *table.Table
	committedBS value.BlobStore
	txTable     *table.Table

	// iterScan cursors.
	committedScan *table.ScanIter
	txScan        *table.ScanIter

	// iterIndex / iterCommittedIndex materialized pointer runs.
	txPtrs        []types.RowPointer
	committedPtrs []types.RowPointer

	// filter, when set, is applied to every candidate row. The scan variant
	// of a ranged read uses it; index variants already range over keys.
	filter func(value.Row) bool

	phase int
	row   value.Row
	ptr   types.RowPointer
}

// Next advances to the next visible row.
func (it *Iter) Next() bool {
	switch it.kind {
	case iterScan:
		if it.phase == 0 {
			if it.committedScan != nil && it.advanceScan(it.committedScan, it.committedBS, true) {
				return true
			}
			it.phase = 1
		}
		if it.txScan == nil {
			return false
		}
		return it.advanceScan(it.txScan, it.tx.BlobStore(), false)
	case iterIndex:
		if it.phase == 0 {
			if it.advancePtrs(&it.txPtrs, it.txTable, it.tx.BlobStore(), false) {
				return true
			}
			it.phase = 1
		}
		return it.advancePtrs(&it.committedPtrs, it.committed, it.committedBS, true)
	case iterCommittedIndex:
		return it.advancePtrs(&it.committedPtrs, it.committed, it.committedBS, true)
	}
	return false
}

func (it *Iter) advanceScan(scan *table.ScanIter, bs value.BlobStore, committed bool) bool {
	for scan.Next() {
		ptr := scan.Ptr()
		if committed && it.tx != nil && it.tx.IsDeleted(it.tid, ptr) {
			continue
		}
		row, err := scan.Row(bs)
		if err != nil {
			panic(err)
		}
		if it.filter != nil && !it.filter(row) {
			continue
		}
		it.row, it.ptr = row, ptr
		return true
	}
	return false
}

func (it *Iter) advancePtrs(ptrs *[]types.RowPointer, t *table.Table, bs value.BlobStore, committed bool) bool {
	for len(*ptrs) > 0 {
		ptr := (*ptrs)[0]
		*ptrs = (*ptrs)[1:]
		if committed && it.tx != nil && it.tx.IsDeleted(it.tid, ptr) {
			continue
		}
		row, err := t.Get(ptr, bs)
		if err != nil {
			panic(err)
		}
		if it.filter != nil && !it.filter(row) {
			continue
		}
		it.row, it.ptr = row, ptr
		return true
	}
	return false
}

// Row returns the current row.
func (it *Iter) Row() value.Row { return it.row }

// Ptr returns the current row's pointer, owned by whichever state minted it.
func (it *Iter) Ptr() types.RowPointer { return it.ptr }

// newScanIter builds the full-scan strategy.
func newScanIter(tid types.TableID, tx *TxState, committed *table.Table, committedBS value.BlobStore, filter func(value.Row) bool) *Iter {
	it := &Iter{kind: iterScan, tid: tid, tx: tx, committed: committed, committedBS: committedBS, filter: filter}
	if committed != nil {
		it.committedScan = committed.Scan()
	}
	if tx != nil {
		if t := tx.InsertTable(tid); t != nil {
			it.txTable = t
			it.txScan = t.Scan()
		}
	}
	return it
}

// newIndexIter builds the tx-then-committed index strategy.
func newIndexIter(tid types.TableID, tx *TxState, txTable *table.Table, txPtrs []types.RowPointer,
	committed *table.Table, committedBS value.BlobStore, committedPtrs []types.RowPointer) *Iter {
	return &Iter{
		kind: iterIndex, tid: tid, tx: tx,
		txTable: txTable, txPtrs: txPtrs,
		committed: committed, committedBS: committedBS, committedPtrs: committedPtrs,
	}
}

// newCommittedIndexIter builds the committed-only index strategy.
func newCommittedIndexIter(tid types.TableID, tx *TxState, committed *table.Table, committedBS value.BlobStore, ptrs []types.RowPointer) *Iter {
	return &Iter{kind: iterCommittedIndex, tid: tid, tx: tx, committed: committed, committedBS: committedBS, committedPtrs: ptrs}
}

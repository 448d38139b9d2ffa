package datastore

import (
	"sort"

	"github.com/keplerdb/kepler/store/types"
)

// Read-set bookkeeping for downstream incremental view re-evaluation. While
// a view's query runs it records which tables it scanned and which index keys
// it sought; at commit the transaction's collected sets fold into the
// committed state's persistent index, so a later commit's write set can be
// matched against them to find the views to invalidate.

// TxReadSets is the per-transaction collection, owned by one transaction
// handle and consumed by merge.
type TxReadSets struct {
	tableScans map[types.TableID]map[types.ViewID]struct{}
	indexKeys  map[types.IndexID]map[string]map[types.ViewID]struct{}
}

func NewTxReadSets() TxReadSets {
	return TxReadSets{
		tableScans: make(map[types.TableID]map[types.ViewID]struct{}),
		indexKeys:  make(map[types.IndexID]map[string]map[types.ViewID]struct{}),
	}
}

// RecordTableScan notes that view scanned all of tid.
func (rs TxReadSets) RecordTableScan(view types.ViewID, tid types.TableID) {
	views := rs.tableScans[tid]
	if views == nil {
		views = make(map[types.ViewID]struct{})
		rs.tableScans[tid] = views
	}
	views[view] = struct{}{}
}

// RecordIndexSeek notes that view sought key in the given index.
func (rs TxReadSets) RecordIndexSeek(view types.ViewID, index types.IndexID, key []byte) {
	keys := rs.indexKeys[index]
	if keys == nil {
		keys = make(map[string]map[types.ViewID]struct{})
		rs.indexKeys[index] = keys
	}
	views := keys[string(key)]
	if views == nil {
		views = make(map[types.ViewID]struct{})
		keys[string(key)] = views
	}
	views[view] = struct{}{}
}

// Empty reports whether nothing was recorded.
func (rs TxReadSets) Empty() bool {
	return len(rs.tableScans) == 0 && len(rs.indexKeys) == 0
}

// ReadSets is the committed state's persistent read-set index.
type ReadSets struct {
	tableScans map[types.TableID]map[types.ViewID]struct{}
	indexKeys  map[types.IndexID]map[string]map[types.ViewID]struct{}
}

func NewReadSets() *ReadSets {
	return &ReadSets{
		tableScans: make(map[types.TableID]map[types.ViewID]struct{}),
		indexKeys:  make(map[types.IndexID]map[string]map[types.ViewID]struct{}),
	}
}

// Merge folds one transaction's collected sets in.
func (rs *ReadSets) Merge(tx TxReadSets) {
	for tid, views := range tx.tableScans {
		dst := rs.tableScans[tid]
		if dst == nil {
			dst = make(map[types.ViewID]struct{})
			rs.tableScans[tid] = dst
		}
		for v := range views {
			dst[v] = struct{}{}
		}
	}
	for idx, keys := range tx.indexKeys {
		dstKeys := rs.indexKeys[idx]
		if dstKeys == nil {
			dstKeys = make(map[string]map[types.ViewID]struct{})
			rs.indexKeys[idx] = dstKeys
		}
		for key, views := range keys {
			dst := dstKeys[key]
			if dst == nil {
				dst = make(map[types.ViewID]struct{})
				dstKeys[key] = dst
			}
			for v := range views {
				dst[v] = struct{}{}
			}
		}
	}
}

// ViewsForTableScan returns the views that scanned tid, sorted.
func (rs *ReadSets) ViewsForTableScan(tid types.TableID) []types.ViewID {
	return sortedViews(rs.tableScans[tid])
}

// ViewsForIndexSeek returns the views that sought key in the given index,
// sorted.
func (rs *ReadSets) ViewsForIndexSeek(index types.IndexID, key []byte) []types.ViewID {
	keys := rs.indexKeys[index]
	if keys == nil {
		return nil
	}
	return sortedViews(keys[string(key)])
}

// DropView removes every record of view, called when a view unsubscribes.
func (rs *ReadSets) DropView(view types.ViewID) {
	for tid, views := range rs.tableScans {
		delete(views, view)
		if len(views) == 0 {
			delete(rs.tableScans, tid)
		}
	}
	for idx, keys := range rs.indexKeys {
		for key, views := range keys {
			delete(views, view)
			if len(views) == 0 {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(rs.indexKeys, idx)
		}
	}
}

func sortedViews(set map[types.ViewID]struct{}) []types.ViewID {
	if len(set) == 0 {
		return nil
	}
	out := make([]types.ViewID, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package datastore

import (
	"bytes"
	"math"

	"github.com/google/uuid"
	"github.com/keplerdb/kepler/metrics"
	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Workload tags what kind of caller runs a transaction. Connect and
// disconnect lifecycle transactions consume a durable offset even when they
// mutate nothing else.
type Workload uint8

const (
	WorkloadInternal Workload = iota
	WorkloadReducer
	WorkloadSql
	WorkloadSubscribe
	WorkloadConnect
	WorkloadDisconnect
)

// ColumnDef declares one column of a new table.
type ColumnDef struct {
	Name    string
	Kind    value.Kind
	AutoInc bool
	Unique  bool
}

// TableDef declares a new table.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// MutTx is the single-writer transaction handle: the overlay plus the write
// lock on the committed state and the lock on the sequences state, acquired
// in that fixed order. All writes land in the overlay; commit merges it,
// rollback drops it.
type MutTx struct {
	store     *Locking
	committed *CommittedState
	sequences *SequencesState
	tx        *TxState
	readSets  TxReadSets
	workload  Workload
	done      bool
}

// ReadSets returns the transaction's read-set collector, which the view
// evaluation layer populates while queries run.
func (m *MutTx) ReadSets() TxReadSets { return m.readSets }

// schemaFor resolves the live schema of tid: committed if materialized there,
// else the transaction-local table for tables created this transaction.
func (m *MutTx) schemaFor(tid types.TableID) (*table.TableSchema, error) {
	if t := m.committed.GetTable(tid); t != nil {
		return t.Schema(), nil
	}
	if t := m.tx.InsertTable(tid); t != nil {
		return t.Schema(), nil
	}
	return nil, &TableNotFoundError{Table: tid}
}

// Insert adds row to tid. Zero-valued columns driven by a sequence receive
// the next sequence value; the returned row carries the generated values.
// Inserting a row byte-identical to a live committed row is a successful
// no-op yielding the existing pointer; re-inserting a row this transaction
// tombstoned cancels the tombstone.
func (m *MutTx) Insert(tid types.TableID, row value.Row) (value.Row, types.RowPointer, error) {
	schema, err := m.schemaFor(tid)
	if err != nil {
		return nil, types.InvalidRowPointer, err
	}
	row = row.Clone()
	for _, seq := range schema.Sequences {
		if int(seq.ColPos) >= len(row) || !row[seq.ColPos.Idx()].IsZero() {
			continue
		}
		raw, err := m.GetNextSequenceValue(seq.SequenceID)
		if err != nil {
			return nil, types.InvalidRowPointer, err
		}
		gen, err := value.SequenceValue(schema.Column(seq.ColPos).Kind, raw)
		if err != nil {
			return nil, types.InvalidRowPointer, errors.WithStack(err)
		}
		row[seq.ColPos.Idx()] = gen
	}
	ptr, err := m.insertRow(tid, schema, row)
	if err != nil {
		return nil, types.InvalidRowPointer, err
	}
	return row, ptr, nil
}

func (m *MutTx) insertRow(tid types.TableID, schema *table.TableSchema, row value.Row) (types.RowPointer, error) {
	if commT := m.committed.GetTable(tid); commT != nil {
		enc := commT.EncodeForLookup(row)
		if cptr, ok := commT.Find(enc); ok {
			// Identical committed row. Either cancel this transaction's
			// tombstone on it or report idempotent success.
			m.tx.UnmarkDeleted(tid, cptr)
			return cptr, nil
		}
		for _, is := range commT.Schema().Indexes {
			if !is.Unique {
				continue
			}
			idx := commT.Index(is.IndexID)
			if idx == nil {
				continue
			}
			for _, cptr := range idx.SeekPoint(idx.KeyFromRow(row)) {
				if !m.tx.IsDeleted(tid, cptr) {
					return types.InvalidRowPointer, &table.UniqueViolationError{Table: tid, Index: is.IndexID}
				}
			}
		}
	}
	txT, txBS := m.tx.GetTableAndBlobStoreOrCreate(tid, schema, m.committed.BlobThreshold())
	_, ptr, err := txT.Insert(m.committed.PagePool(), txBS, row)
	if err != nil {
		if dup, ok := errors.Cause(err).(*table.DuplicateError); ok {
			return dup.Existing, nil
		}
		return types.InvalidRowPointer, err
	}
	return ptr, nil
}

// Delete removes the row at ptr. A tx-state pointer deletes the overlay row
// outright; a committed pointer records a tombstone. Reports whether a live
// row was deleted.
func (m *MutTx) Delete(tid types.TableID, ptr types.RowPointer) (bool, error) {
	if ptr.SquashedOffset() == types.TxStateOffset {
		txT := m.tx.InsertTable(tid)
		if txT == nil {
			return false, &TableNotInStateError{Table: tid, State: types.TxStateOffset}
		}
		_, ok := txT.Delete(ptr, m.tx.BlobStore())
		return ok, nil
	}
	commT := m.committed.GetTable(tid)
	if commT == nil {
		return false, &TableNotInStateError{Table: tid, State: types.CommittedStateOffset}
	}
	if !commT.Contains(ptr) || m.tx.IsDeleted(tid, ptr) {
		return false, nil
	}
	m.tx.MarkDeleted(tid, ptr)
	return true, nil
}

// DeleteByRow removes the live row byte-identical to row, wherever it lives.
func (m *MutTx) DeleteByRow(tid types.TableID, row value.Row) (bool, error) {
	if _, err := m.schemaFor(tid); err != nil {
		return false, err
	}
	if txT := m.tx.InsertTable(tid); txT != nil {
		if _, ok := txT.DeleteByRow(row, m.tx.BlobStore()); ok {
			return true, nil
		}
	}
	if commT := m.committed.GetTable(tid); commT != nil {
		if cptr, ok := commT.FindRow(row); ok && !m.tx.IsDeleted(tid, cptr) {
			m.tx.MarkDeleted(tid, cptr)
			return true, nil
		}
	}
	return false, nil
}

// ClearTable removes every visible row of tid.
func (m *MutTx) ClearTable(tid types.TableID) error {
	if _, err := m.schemaFor(tid); err != nil {
		return err
	}
	if commT := m.committed.GetTable(tid); commT != nil {
		it := commT.Scan()
		for it.Next() {
			m.tx.MarkDeleted(tid, it.Ptr())
		}
	}
	if txT := m.tx.InsertTable(tid); txT != nil {
		txT.Clear(m.committed.PagePool(), m.tx.BlobStore())
	}
	return nil
}

// Get decodes the row at ptr from whichever state owns the pointer.
func (m *MutTx) Get(tid types.TableID, ptr types.RowPointer) (value.Row, error) {
	if ptr.SquashedOffset() == types.TxStateOffset {
		txT := m.tx.InsertTable(tid)
		if txT == nil {
			return nil, &TableNotInStateError{Table: tid, State: types.TxStateOffset}
		}
		return txT.Get(ptr, m.tx.BlobStore())
	}
	return m.committed.Get(tid, ptr)
}

// RowCount returns the number of rows of tid visible to this transaction.
func (m *MutTx) RowCount(tid types.TableID) (uint64, error) {
	if _, err := m.schemaFor(tid); err != nil {
		return 0, err
	}
	var n uint64
	if commT := m.committed.GetTable(tid); commT != nil {
		n = commT.RowCount() - uint64(m.tx.NumDeletes(tid))
	}
	if txT := m.tx.InsertTable(tid); txT != nil {
		n += txT.RowCount()
	}
	return n, nil
}

// Iter returns a full-table iterator over the rows visible to this
// transaction.
func (m *MutTx) Iter(tid types.TableID) (*Iter, error) {
	if _, err := m.schemaFor(tid); err != nil {
		return nil, err
	}
	return newScanIter(tid, m.tx, m.committed.GetTable(tid), m.committed.BlobStore(), nil), nil
}

// IterByColRange returns an iterator over the visible rows of tid whose
// values in cols fall within [low, high]. A nil bound is unbounded. The
// strategy is chosen once: an index covering cols in either state, else a
// filtered scan.
func (m *MutTx) IterByColRange(tid types.TableID, cols types.ColList, low, high []value.Value) (*Iter, error) {
	if _, err := m.schemaFor(tid); err != nil {
		return nil, err
	}
	lowKey := encodeBound(low)
	highKey := encodeBound(high)
	return iterByColRange(m.tx, m.committed, tid, cols, lowKey, highKey), nil
}

// IterByColEq returns an iterator over the visible rows of tid whose values
// in cols equal vals.
func (m *MutTx) IterByColEq(tid types.TableID, cols types.ColList, vals ...value.Value) (*Iter, error) {
	return m.IterByColRange(tid, cols, vals, vals)
}

func encodeBound(vals []value.Value) []byte {
	if vals == nil {
		return nil
	}
	var key []byte
	for _, v := range vals {
		key = value.EncodeKey(key, v)
	}
	return key
}

// iterByColRange picks the iterator strategy shared by mutable and read-only
// transactions. tx may be nil for snapshots.
func iterByColRange(tx *TxState, committed *CommittedState, tid types.TableID, cols types.ColList, lowKey, highKey []byte) *Iter {
	commT := committed.GetTable(tid)
	var commIdx *table.TableIndex
	if commT != nil {
		commIdx = commT.IndexByCols(cols)
	}
	var txT *table.Table
	var txIdx *table.TableIndex
	if tx != nil {
		if txT = tx.InsertTable(tid); txT != nil {
			txIdx = txT.IndexByCols(cols)
		}
	}
	if commIdx == nil && txIdx == nil {
		filter := func(row value.Row) bool {
			return keyInRange(table.IndexKey(cols, row), lowKey, highKey)
		}
		return newScanIter(tid, tx, commT, committed.BlobStore(), filter)
	}
	var commPtrs []types.RowPointer
	if commIdx != nil {
		commPtrs = commIdx.SeekRange(lowKey, highKey)
	}
	if txT == nil {
		return newCommittedIndexIter(tid, tx, commT, committed.BlobStore(), commPtrs)
	}
	var txPtrs []types.RowPointer
	if txIdx != nil {
		txPtrs = txIdx.SeekRange(lowKey, highKey)
	} else {
		// The transaction touched the table but its clone predates the
		// index; fall back to scanning the overlay rows through the filter.
		it := txT.Scan()
		for it.Next() {
			row, err := it.Row(tx.BlobStore())
			if err != nil {
				panic(err)
			}
			if keyInRange(table.IndexKey(cols, row), lowKey, highKey) {
				txPtrs = append(txPtrs, it.Ptr())
			}
		}
	}
	return newIndexIter(tid, tx, txT, txPtrs, commT, committed.BlobStore(), commPtrs)
}

func keyInRange(key, low, high []byte) bool {
	if low != nil && bytes.Compare(key, low) < 0 {
		return false
	}
	if high != nil && bytes.Compare(key, high) > 0 {
		return false
	}
	return true
}

// TableIDFromName resolves a table by name, honoring this transaction's own
// creates and drops.
func (m *MutTx) TableIDFromName(name string) (types.TableID, bool) {
	it, err := m.IterByColEq(StTableID, types.NewColList(stTableColName), value.String(name))
	if err != nil {
		return 0, false
	}
	if !it.Next() {
		return 0, false
	}
	tid, _ := stTableRowParse(it.Row())
	return tid, true
}

// SchemaForTable re-derives tid's schema from catalog rows as this
// transaction sees them.
func (m *MutTx) SchemaForTable(tid types.TableID) (*table.TableSchema, error) {
	key := []value.Value{value.U64(uint64(tid))}
	it, err := m.IterByColEq(StTableID, types.NewColList(stTableColID), key...)
	if err != nil {
		return nil, err
	}
	if !it.Next() {
		return nil, &TableNotFoundError{Table: tid}
	}
	_, name := stTableRowParse(it.Row())
	schema := &table.TableSchema{TableID: tid, Name: name}

	cit, err := m.IterByColEq(StColumnID, types.NewColList(stColumnColTableID), key...)
	if err != nil {
		return nil, err
	}
	for cit.Next() {
		schema.Columns = append(schema.Columns, stColumnRowParse(cit.Row()))
	}
	sortColumns(schema.Columns)

	iit, err := m.Iter(StIndexID)
	if err != nil {
		return nil, err
	}
	for iit.Next() {
		is, err := stIndexRowParse(iit.Row())
		if err != nil {
			return nil, err
		}
		if is.TableID == tid {
			schema.AddIndex(is)
		}
	}
	sit, err := m.Iter(StSequenceID)
	if err != nil {
		return nil, err
	}
	for sit.Next() {
		if ss := stSequenceRowParse(sit.Row()); ss.TableID == tid {
			schema.AddSequence(ss)
		}
	}
	conIt, err := m.Iter(StConstraintID)
	if err != nil {
		return nil, err
	}
	for conIt.Next() {
		cs, err := stConstraintRowParse(conIt.Row())
		if err != nil {
			return nil, err
		}
		if cs.TableID == tid {
			schema.AddConstraint(cs)
		}
	}
	if err := schema.Validate(); err != nil {
		return nil, errors.Annotatef(err, "catalog schema for %s", tid)
	}
	return schema, nil
}

// GetNextSequenceValue hands out the next value of the sequence. When the
// in-memory window is exhausted, a new high-water mark is written to the
// sequence's catalog row before any value of the new window escapes, so a
// crash can skip values but never reuse one.
func (m *MutTx) GetNextSequenceValue(id types.SequenceID) (int64, error) {
	seq := m.sequences.Get(id)
	if seq == nil {
		return 0, &SequenceNotFoundError{Sequence: id}
	}
	if v, ok := seq.GenNextValue(); ok {
		return v, nil
	}
	it, err := m.IterByColEq(StSequenceID, types.NewColList(stSequenceColID), value.U64(uint64(id)))
	if err != nil {
		return 0, &SequenceAllocationError{Sequence: id, Err: err}
	}
	if !it.Next() {
		return 0, &SequenceAllocationError{Sequence: id, Err: errors.New("no catalog row")}
	}
	oldRow := it.Row()
	newAllocated := seq.AllocateSteps(SequenceAllocationStep)
	newRow := oldRow.Clone()
	newRow[stSequenceColAllocated.Idx()] = value.I64(newAllocated)
	if _, err := m.DeleteByRow(StSequenceID, oldRow); err != nil {
		return 0, &SequenceAllocationError{Sequence: id, Err: err}
	}
	if _, err := m.insertRawRow(StSequenceID, newRow); err != nil {
		return 0, &SequenceAllocationError{Sequence: id, Err: err}
	}
	metrics.SequenceAllocations.WithLabelValues(seq.Schema().Name).Inc()
	log.Debug("extended sequence allocation window",
		zap.Stringer("sequence", id),
		zap.Int64("allocated", newAllocated))
	v, ok := seq.GenNextValue()
	if !ok {
		return 0, &SequenceAllocationError{Sequence: id, Err: errors.New("window empty after allocation")}
	}
	return v, nil
}

// insertRawRow inserts without sequence generation, for catalog maintenance.
func (m *MutTx) insertRawRow(tid types.TableID, row value.Row) (types.RowPointer, error) {
	schema, err := m.schemaFor(tid)
	if err != nil {
		return types.InvalidRowPointer, err
	}
	return m.insertRow(tid, schema, row)
}

// DDL operations. Each writes its catalog rows through the same insert and
// delete primitives user rows use, applies the in-memory shape change, and
// records an undo entry so rollback can reverse it.

// CreateTable mints a table id, writes the catalog rows and materializes the
// new table in the overlay.
func (m *MutTx) CreateTable(def TableDef) (types.TableID, error) {
	if def.Name == "" || len(def.Columns) == 0 {
		return 0, errors.New("table definition needs a name and at least one column")
	}
	if _, exists := m.TableIDFromName(def.Name); exists {
		return 0, errors.Errorf("table %q already exists", def.Name)
	}
	raw, err := m.GetNextSequenceValue(stTableIDSeq)
	if err != nil {
		return 0, err
	}
	tid := types.TableID(raw)
	schema := &table.TableSchema{TableID: tid, Name: def.Name}
	for i, cd := range def.Columns {
		schema.Columns = append(schema.Columns, table.ColumnSchema{
			TableID: tid, Pos: types.ColID(i), Name: cd.Name, Kind: cd.Kind,
		})
	}
	if err := schema.Validate(); err != nil {
		return 0, err
	}
	t := table.New(schema, types.TxStateOffset, m.committed.BlobThreshold())
	m.tx.SetInsertTable(tid, t)
	m.tx.recordTableAdded(tid)

	if _, err := m.insertRawRow(StTableID, stTableRow(tid, def.Name)); err != nil {
		return 0, err
	}
	for _, col := range schema.Columns {
		if _, err := m.insertRawRow(StColumnID, stColumnRow(col)); err != nil {
			return 0, err
		}
	}
	for i, cd := range def.Columns {
		pos := types.ColID(i)
		if cd.Unique {
			name := def.Name + "_" + cd.Name + "_idx"
			if _, err := m.CreateIndex(tid, name, types.NewColList(pos), true); err != nil {
				return 0, err
			}
		}
		if cd.AutoInc {
			name := def.Name + "_" + cd.Name + "_seq"
			if _, err := m.CreateSequence(tid, name, types.NewColList(pos)); err != nil {
				return 0, err
			}
		}
	}
	log.Info("created table", zap.Stringer("table", tid), zap.String("name", def.Name))
	return tid, nil
}

// DropTable deletes the table's catalog rows and schedules the table itself
// for removal at merge. Remaining committed rows are deleted by the merge.
func (m *MutTx) DropTable(tid types.TableID) error {
	if tid.IsReserved() {
		return errors.Errorf("%s is a system table", tid)
	}
	schema, err := m.SchemaForTable(tid)
	if err != nil {
		return err
	}
	for _, ss := range append([]table.SequenceSchema(nil), schema.Sequences...) {
		if err := m.DropSequence(ss.SequenceID); err != nil {
			return err
		}
	}
	for _, is := range append([]table.IndexSchema(nil), schema.Indexes...) {
		if err := m.DropIndex(is.IndexID); err != nil {
			return err
		}
	}
	for _, cs := range append([]table.ConstraintSchema(nil), schema.Constraints...) {
		if err := m.DropConstraint(cs.ConstraintID); err != nil {
			return err
		}
	}
	for _, col := range schema.Columns {
		if _, err := m.DeleteByRow(StColumnID, stColumnRow(col)); err != nil {
			return err
		}
	}
	if _, err := m.DeleteByRow(StTableID, stTableRow(tid, schema.Name)); err != nil {
		return err
	}
	m.tx.RemoveInsertTable(tid)
	m.tx.recordTableRemoved(m.liveSchemaOrDerived(tid, schema))
	log.Info("dropped table", zap.Stringer("table", tid), zap.String("name", schema.Name))
	return nil
}

func (m *MutTx) liveSchemaOrDerived(tid types.TableID, derived *table.TableSchema) *table.TableSchema {
	if t := m.committed.GetTable(tid); t != nil {
		return t.Schema()
	}
	return derived
}

// CreateIndex mints an index id, writes the catalog row and builds the index
// in both states. Building a unique index over rows that already collide
// fails.
func (m *MutTx) CreateIndex(tid types.TableID, name string, cols types.ColList, unique bool) (types.IndexID, error) {
	schema, err := m.schemaFor(tid)
	if err != nil {
		return 0, err
	}
	if schema.IndexByCols(cols) != nil {
		return 0, errors.Errorf("%s already has an index on [%s]", tid, cols)
	}
	raw, err := m.GetNextSequenceValue(stIndexIDSeq)
	if err != nil {
		return 0, err
	}
	is := table.IndexSchema{IndexID: types.IndexID(raw), TableID: tid, Name: name, Cols: cols, Unique: unique}
	if _, err := m.insertRawRow(StIndexID, stIndexRow(is)); err != nil {
		return 0, err
	}
	// Record the undo entry before building: a failure below leaves the
	// transaction poisoned, and Rollback then strips the half-built index
	// from the committed table.
	m.tx.recordIndexAdded(tid, is)
	commT := m.committed.GetTable(tid)
	if commT != nil {
		if _, err := commT.AddIndex(is, m.committed.BlobStore()); err != nil {
			return 0, err
		}
		commT.Schema().AddIndex(is)
		m.committed.RegisterIndex(is.IndexID, tid)
	}
	if txT := m.tx.InsertTable(tid); txT != nil {
		if _, err := txT.AddIndex(is, m.tx.BlobStore()); err != nil {
			return 0, err
		}
		txT.Schema().AddIndex(is)
		if is.Unique && commT != nil {
			if err := m.checkIndexAcrossStates(tid, is, commT, txT); err != nil {
				return 0, err
			}
		}
	}
	return is.IndexID, nil
}

// checkIndexAcrossStates verifies a freshly built unique index holds across
// the overlay boundary: each key this transaction inserted must be absent
// from the live committed rows. Each state's build only checks its own rows,
// so the cross-state collision has to be caught here, before the merge
// applies the overlay without re-checking.
func (m *MutTx) checkIndexAcrossStates(tid types.TableID, is table.IndexSchema, commT, txT *table.Table) error {
	commIdx := commT.Index(is.IndexID)
	it := txT.Scan()
	for it.Next() {
		row, err := it.Row(m.tx.BlobStore())
		if err != nil {
			return err
		}
		for _, cptr := range commIdx.SeekPoint(table.IndexKey(is.Cols, row)) {
			if !m.tx.IsDeleted(tid, cptr) {
				return &table.UniqueViolationError{Table: tid, Index: is.IndexID}
			}
		}
	}
	return nil
}

// DropIndex removes an index from catalog and both states.
func (m *MutTx) DropIndex(id types.IndexID) error {
	it, err := m.IterByColEq(StIndexID, types.NewColList(stIndexColID), value.U64(uint64(id)))
	if err != nil {
		return err
	}
	if !it.Next() {
		return errors.Errorf("%s does not exist", id)
	}
	is, err := stIndexRowParse(it.Row())
	if err != nil {
		return err
	}
	if _, err := m.DeleteByRow(StIndexID, stIndexRow(is)); err != nil {
		return err
	}
	if commT := m.committed.GetTable(is.TableID); commT != nil {
		commT.RemoveIndex(id)
		commT.Schema().RemoveIndex(id)
		m.committed.UnregisterIndex(id)
	}
	if txT := m.tx.InsertTable(is.TableID); txT != nil {
		txT.RemoveIndex(id)
		txT.Schema().RemoveIndex(id)
	}
	m.tx.recordIndexRemoved(is.TableID, is)
	return nil
}

// CreateSequence mints a sequence id, pre-allocates the first window and
// writes the catalog row carrying the window's high-water mark.
func (m *MutTx) CreateSequence(tid types.TableID, name string, cols types.ColList) (types.SequenceID, error) {
	if cols.Len() != 1 {
		return 0, &MultiColumnAutoIncError{Table: tid, Cols: cols}
	}
	schema, err := m.schemaFor(tid)
	if err != nil {
		return 0, err
	}
	pos := cols.Head()
	col := schema.Column(pos)
	if col == nil {
		return 0, errors.Errorf("%s has no column %s", tid, pos)
	}
	if !col.Kind.IsInteger() {
		return 0, &SequenceNotIntegerError{Table: tid, Col: pos, Kind: col.Kind}
	}
	raw, err := m.GetNextSequenceValue(stSequenceIDSeq)
	if err != nil {
		return 0, err
	}
	ss := table.SequenceSchema{
		SequenceID: types.SequenceID(raw),
		TableID:    tid,
		ColPos:     pos,
		Name:       name,
		Start:      1,
		Increment:  1,
		MinValue:   1,
		MaxValue:   math.MaxInt64,
	}
	seq, err := NewSequence(ss, nil)
	if err != nil {
		return 0, &SequenceAllocationError{Sequence: ss.SequenceID, Err: err}
	}
	// Persist the first window's mark in the catalog row itself, so the row
	// is durable before any value of the window is handed out.
	ss.Allocated = seq.AllocateSteps(SequenceAllocationStep)
	if _, err := m.insertRawRow(StSequenceID, stSequenceRow(ss)); err != nil {
		return 0, err
	}
	if commT := m.committed.GetTable(tid); commT != nil {
		commT.Schema().AddSequence(ss)
	}
	if txT := m.tx.InsertTable(tid); txT != nil {
		txT.Schema().AddSequence(ss)
	}
	m.sequences.Insert(seq)
	m.tx.recordSequenceAdded(tid, ss)
	return ss.SequenceID, nil
}

// DropSequence removes a sequence from catalog and allocator state.
func (m *MutTx) DropSequence(id types.SequenceID) error {
	it, err := m.IterByColEq(StSequenceID, types.NewColList(stSequenceColID), value.U64(uint64(id)))
	if err != nil {
		return err
	}
	if !it.Next() {
		return &SequenceNotFoundError{Sequence: id}
	}
	ss := stSequenceRowParse(it.Row())
	if _, err := m.DeleteByRow(StSequenceID, it.Row()); err != nil {
		return err
	}
	if seq := m.sequences.Remove(id); seq != nil {
		// Undo restores the window from the in-memory mark, not the row.
		ss.Allocated = seq.Allocated()
	}
	if commT := m.committed.GetTable(ss.TableID); commT != nil {
		commT.Schema().RemoveSequence(id)
	}
	if txT := m.tx.InsertTable(ss.TableID); txT != nil {
		txT.Schema().RemoveSequence(id)
	}
	m.tx.recordSequenceRemoved(ss.TableID, ss)
	return nil
}

// CreateConstraint records a declared constraint. Unique constraints are
// enforced by their backing index; the catalog row is the declaration.
func (m *MutTx) CreateConstraint(tid types.TableID, name string, cols types.ColList) (types.ConstraintID, error) {
	if _, err := m.schemaFor(tid); err != nil {
		return 0, err
	}
	raw, err := m.GetNextSequenceValue(stConstraintIDSeq)
	if err != nil {
		return 0, err
	}
	cs := table.ConstraintSchema{ConstraintID: types.ConstraintID(raw), TableID: tid, Name: name, Cols: cols}
	if _, err := m.insertRawRow(StConstraintID, stConstraintRow(cs)); err != nil {
		return 0, err
	}
	if commT := m.committed.GetTable(tid); commT != nil {
		commT.Schema().AddConstraint(cs)
	}
	if txT := m.tx.InsertTable(tid); txT != nil {
		txT.Schema().AddConstraint(cs)
	}
	m.tx.recordConstraintAdded(tid, cs)
	return cs.ConstraintID, nil
}

// DropConstraint removes a declared constraint.
func (m *MutTx) DropConstraint(id types.ConstraintID) error {
	it, err := m.IterByColEq(StConstraintID, types.NewColList(stConstraintColID), value.U64(uint64(id)))
	if err != nil {
		return err
	}
	if !it.Next() {
		return errors.Errorf("%s does not exist", id)
	}
	cs, err := stConstraintRowParse(it.Row())
	if err != nil {
		return err
	}
	if _, err := m.DeleteByRow(StConstraintID, it.Row()); err != nil {
		return err
	}
	if commT := m.committed.GetTable(cs.TableID); commT != nil {
		commT.Schema().RemoveConstraint(id)
	}
	if txT := m.tx.InsertTable(cs.TableID); txT != nil {
		txT.Schema().RemoveConstraint(id)
	}
	m.tx.recordConstraintRemoved(cs.TableID, cs)
	return nil
}

// ConnectClient records a client connection in st_client.
func (m *MutTx) ConnectClient(identity uuid.UUID, connection uint64) error {
	_, _, err := m.Insert(StClientID, stClientRow(identity[:], connection))
	return err
}

// DisconnectClient removes a client connection row.
func (m *MutTx) DisconnectClient(identity uuid.UUID, connection uint64) (bool, error) {
	return m.DeleteByRow(StClientID, stClientRow(identity[:], connection))
}

// Update replaces the row addressed by the unique index id whose key matches
// row's indexed columns, as delete-then-insert. The returned row carries any
// sequence-generated values.
func (m *MutTx) Update(tid types.TableID, id types.IndexID, row value.Row) (value.Row, types.RowPointer, error) {
	schema, err := m.schemaFor(tid)
	if err != nil {
		return nil, types.InvalidRowPointer, err
	}
	is := schema.IndexByID(id)
	if is == nil {
		return nil, types.InvalidRowPointer, errors.Errorf("%s has no %s", tid, id)
	}
	if !is.Unique {
		return nil, types.InvalidRowPointer, errors.Errorf("%s is not unique; update needs a unique key", id)
	}
	vals := make([]value.Value, 0, is.Cols.Len())
	for _, c := range is.Cols.Cols() {
		vals = append(vals, row[c.Idx()])
	}
	it, err := m.IterByColEq(tid, is.Cols, vals...)
	if err != nil {
		return nil, types.InvalidRowPointer, err
	}
	if it.Next() {
		if _, err := m.Delete(tid, it.Ptr()); err != nil {
			return nil, types.InvalidRowPointer, err
		}
	}
	return m.Insert(tid, row)
}

// Commit merges the overlay into the committed state and releases the locks.
// The returned diff is what external change consumers and the commit log see.
func (m *MutTx) Commit() *TxData {
	if m.done {
		panic("commit on a finished transaction")
	}
	td := m.committed.Merge(m.tx, m.readSets, m.workload)
	m.release()
	return td
}

// Rollback discards the overlay, reverses any schema-shape changes and
// releases the locks. Always safe to call instead of Commit.
func (m *MutTx) Rollback() uint64 {
	if m.done {
		panic("rollback on a finished transaction")
	}
	offset := m.committed.Rollback(m.sequences, m.tx)
	m.release()
	return offset
}

func (m *MutTx) release() {
	m.done = true
	m.tx = nil
	m.store.seqMu.Unlock()
	m.store.mu.Unlock()
}

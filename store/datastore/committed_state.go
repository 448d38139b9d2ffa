package datastore

import (
	"github.com/google/uuid"
	"github.com/keplerdb/kepler/metrics"
	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// CommittedState is the durable snapshot: every live table, the shared blob
// store and page pool, the index-id routing map, the monotonic transaction
// offset and the view read-set index. One instance exists per open database,
// mutated in place under the writer lock for the life of the process.
type CommittedState struct {
	identity      uuid.UUID
	tables        map[types.TableID]*table.Table
	blobStore     *table.HashMapBlobStore
	pagePool      *table.PagePool
	indexIDMap    map[types.IndexID]types.TableID
	nextTxOffset  uint64
	readSets      *ReadSets
	blobThreshold int
}

func NewCommittedState(pool *table.PagePool, blobThreshold int) *CommittedState {
	return &CommittedState{
		tables:        make(map[types.TableID]*table.Table),
		blobStore:     table.NewHashMapBlobStore(),
		pagePool:      pool,
		indexIDMap:    make(map[types.IndexID]types.TableID),
		readSets:      NewReadSets(),
		blobThreshold: blobThreshold,
	}
}

func (c *CommittedState) Identity() uuid.UUID       { return c.identity }
func (c *CommittedState) NextTxOffset() uint64      { return c.nextTxOffset }
func (c *CommittedState) BlobThreshold() int        { return c.blobThreshold }
func (c *CommittedState) ReadSets() *ReadSets       { return c.readSets }
func (c *CommittedState) PagePool() *table.PagePool { return c.pagePool }

// SetNextTxOffset seeds the offset counter from a checkpoint before replay.
func (c *CommittedState) SetNextTxOffset(o uint64) { c.nextTxOffset = o }

// GetTable returns the committed table for tid, or nil.
func (c *CommittedState) GetTable(tid types.TableID) *table.Table { return c.tables[tid] }

// BlobStore returns the committed blob store.
func (c *CommittedState) BlobStore() value.BlobStore { return c.blobStore }

// Get decodes the committed row at ptr. The pointer must carry the committed
// tag; transaction-local pointers are meaningless here.
func (c *CommittedState) Get(tid types.TableID, ptr types.RowPointer) (value.Row, error) {
	if ptr.SquashedOffset() != types.CommittedStateOffset {
		return nil, errors.Errorf("%s is not a committed-state pointer", ptr)
	}
	t := c.tables[tid]
	if t == nil {
		return nil, &TableNotInStateError{Table: tid, State: types.CommittedStateOffset}
	}
	return t.Get(ptr, c.blobStore)
}

// GetTableForIndex resolves which table an index belongs to.
func (c *CommittedState) GetTableForIndex(id types.IndexID) (types.TableID, bool) {
	tid, ok := c.indexIDMap[id]
	return tid, ok
}

// GetIndexByIDWithTable returns an index and its owning table.
func (c *CommittedState) GetIndexByIDWithTable(id types.IndexID) (*table.Table, *table.TableIndex, bool) {
	tid, ok := c.indexIDMap[id]
	if !ok {
		return nil, nil, false
	}
	t := c.tables[tid]
	if t == nil {
		return nil, nil, false
	}
	idx := t.Index(id)
	if idx == nil {
		return nil, nil, false
	}
	return t, idx, true
}

// IndexSeek seeks key range [low, high] in the committed index covering cols,
// or reports that no such index exists.
func (c *CommittedState) IndexSeek(tid types.TableID, cols types.ColList, low, high []byte) ([]types.RowPointer, bool) {
	t := c.tables[tid]
	if t == nil {
		return nil, false
	}
	idx := t.IndexByCols(cols)
	if idx == nil {
		return nil, false
	}
	return idx.SeekRange(low, high), true
}

// RegisterIndex routes an index id to its owning table.
func (c *CommittedState) RegisterIndex(id types.IndexID, tid types.TableID) {
	c.indexIDMap[id] = tid
}

// UnregisterIndex removes an index id route.
func (c *CommittedState) UnregisterIndex(id types.IndexID) {
	delete(c.indexIDMap, id)
}

// createTable materializes an empty committed table and routes its index ids.
func (c *CommittedState) createTable(schema *table.TableSchema) *table.Table {
	t := table.New(schema, types.CommittedStateOffset, c.blobThreshold)
	c.tables[schema.TableID] = t
	for _, idx := range schema.Indexes {
		c.indexIDMap[idx.IndexID] = schema.TableID
	}
	return t
}

// dropTable removes a committed table and its index routes.
func (c *CommittedState) dropTable(tid types.TableID) {
	t := c.tables[tid]
	if t == nil {
		return
	}
	for _, idx := range t.Schema().Indexes {
		delete(c.indexIDMap, idx.IndexID)
	}
	delete(c.tables, tid)
	metrics.TableRows.DeleteLabelValues(t.Schema().Name)
}

// Bootstrap

// BootstrapSystemTables seeds a fresh committed state with the fixed set of
// system tables and inserts their own catalog rows, establishing the
// self-describing fixed point: each system table's schema is stored as rows
// that decode back to that same schema.
func (c *CommittedState) BootstrapSystemTables(identity uuid.UUID) error {
	c.identity = identity
	schemas := SystemTableSchemas()
	for _, schema := range schemas {
		if err := schema.Validate(); err != nil {
			return errors.WithStack(err)
		}
		c.createTable(schema)
	}

	stTable := c.tables[StTableID]
	stColumn := c.tables[StColumnID]
	stSequence := c.tables[StSequenceID]
	stIndex := c.tables[StIndexID]
	stConstraint := c.tables[StConstraintID]

	for _, schema := range schemas {
		if _, _, err := stTable.Insert(c.pagePool, c.blobStore, stTableRow(schema.TableID, schema.Name)); err != nil {
			return errors.WithStack(err)
		}
		for _, col := range schema.Columns {
			if _, _, err := stColumn.Insert(c.pagePool, c.blobStore, stColumnRow(col)); err != nil {
				return errors.WithStack(err)
			}
		}
		for _, idx := range schema.Indexes {
			if _, _, err := stIndex.Insert(c.pagePool, c.blobStore, stIndexRow(idx)); err != nil {
				return errors.WithStack(err)
			}
		}
		for _, seq := range schema.Sequences {
			if _, _, err := stSequence.Insert(c.pagePool, c.blobStore, stSequenceRow(seq)); err != nil {
				return errors.WithStack(err)
			}
		}
		for _, con := range schema.Constraints {
			if _, _, err := stConstraint.Insert(c.pagePool, c.blobStore, stConstraintRow(con)); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	if err := c.AssertSystemTableSchemasMatch(); err != nil {
		return err
	}
	log.Info("bootstrapped system tables",
		zap.String("identity", identity.String()),
		zap.Int("tables", len(schemas)))
	return nil
}

// AssertSystemTableSchemasMatch re-derives every system table's schema from
// its own catalog rows and compares it with the hand-constructed one.
func (c *CommittedState) AssertSystemTableSchemasMatch() error {
	for _, expected := range SystemTableSchemas() {
		derived, err := c.SchemaFromCatalog(expected.TableID)
		if err != nil {
			return errors.Annotatef(err, "deriving schema of %q", expected.Name)
		}
		derived.Normalize()
		expected.Normalize()
		if !derived.Equal(expected) {
			return errors.Errorf("catalog rows for %q do not reproduce its schema", expected.Name)
		}
	}
	return nil
}

// Catalog derivation

// SchemaFromCatalog rebuilds a table's schema purely from committed catalog
// rows. Replay and read-only snapshots use it; inside a mutable transaction
// the transaction-aware variant on the handle applies instead.
func (c *CommittedState) SchemaFromCatalog(tid types.TableID) (*table.TableSchema, error) {
	return c.schemaFromCatalog(tid, nil)
}

// schemaFromCatalog rebuilds tid's schema from catalog rows, skipping any
// st_column pointers in ignore (superseded versions during replay).
func (c *CommittedState) schemaFromCatalog(tid types.TableID, ignore map[types.RowPointer]struct{}) (*table.TableSchema, error) {
	stTable := c.tables[StTableID]
	key := value.EncodeKey(nil, value.U64(uint64(tid)))
	ptrs := stTable.Index(stTableIDIdx).SeekPoint(key)
	if len(ptrs) == 0 {
		return nil, &TableNotFoundError{Table: tid}
	}
	row, err := stTable.Get(ptrs[0], c.blobStore)
	if err != nil {
		return nil, err
	}
	_, name := stTableRowParse(row)
	schema := &table.TableSchema{TableID: tid, Name: name}

	stColumn := c.tables[StColumnID]
	for _, ptr := range stColumn.Index(stColumnTableIdx).SeekPoint(key) {
		if _, skip := ignore[ptr]; skip {
			continue
		}
		colRow, err := stColumn.Get(ptr, c.blobStore)
		if err != nil {
			return nil, err
		}
		schema.Columns = append(schema.Columns, stColumnRowParse(colRow))
	}
	// Index seeks return pointer order; columns must be positional.
	sortColumns(schema.Columns)

	it := c.tables[StIndexID].Scan()
	for it.Next() {
		idxRow, err := it.Row(c.blobStore)
		if err != nil {
			return nil, err
		}
		idx, err := stIndexRowParse(idxRow)
		if err != nil {
			return nil, err
		}
		if idx.TableID == tid {
			schema.AddIndex(idx)
		}
	}
	it = c.tables[StSequenceID].Scan()
	for it.Next() {
		seqRow, err := it.Row(c.blobStore)
		if err != nil {
			return nil, err
		}
		if seq := stSequenceRowParse(seqRow); seq.TableID == tid {
			schema.AddSequence(seq)
		}
	}
	it = c.tables[StConstraintID].Scan()
	for it.Next() {
		conRow, err := it.Row(c.blobStore)
		if err != nil {
			return nil, err
		}
		con, err := stConstraintRowParse(conRow)
		if err != nil {
			return nil, err
		}
		if con.TableID == tid {
			schema.AddConstraint(con)
		}
	}
	if err := schema.Validate(); err != nil {
		return nil, errors.Annotatef(err, "catalog schema for %s", tid)
	}
	return schema, nil
}

// TableIDByName resolves a committed table by name.
func (c *CommittedState) TableIDByName(name string) (types.TableID, bool) {
	stTable := c.tables[StTableID]
	key := value.EncodeKey(nil, value.String(name))
	ptrs := stTable.Index(stTableNameIdx).SeekPoint(key)
	if len(ptrs) == 0 {
		return 0, false
	}
	row, err := stTable.Get(ptrs[0], c.blobStore)
	if err != nil {
		return 0, false
	}
	tid, _ := stTableRowParse(row)
	return tid, true
}

func sortColumns(cols []table.ColumnSchema) {
	for i := 1; i < len(cols); i++ {
		for j := i; j > 0 && cols[j].Pos < cols[j-1].Pos; j-- {
			cols[j], cols[j-1] = cols[j-1], cols[j]
		}
	}
}

// Merge

// Merge consumes the transaction overlay and applies it to the committed
// snapshot, returning the structured diff. Order matters: read sets fold
// first, then deletes, then dropped tables, then inserts. Deleting before
// inserting lets the row allocator reuse the freed slots within the same
// transaction; set semantics already rule out insert/delete ambiguity for
// one logical row.
func (c *CommittedState) Merge(tx *TxState, readSets TxReadSets, w Workload) *TxData {
	td := NewTxData()
	c.readSets.Merge(readSets)
	c.mergeApplyDeletes(tx, td)
	c.mergeApplyTableRemovals(tx, td)
	c.mergeApplyInserts(tx, td)
	if c.txConsumesOffset(td, w) {
		td.setOffset(c.nextTxOffset)
		c.nextTxOffset++
		metrics.CommittedTxs.Inc()
	}
	return td
}

func (c *CommittedState) mergeApplyDeletes(tx *TxState, td *TxData) {
	for _, tid := range tx.DeleteTableIDs() {
		t := c.tables[tid]
		if t == nil {
			continue
		}
		upd := td.Update(tid, t.Schema())
		for _, ptr := range tx.SortedDeletes(tid) {
			if row, ok := t.Delete(ptr, c.blobStore); ok {
				upd.Deletes = append(upd.Deletes, row)
			}
		}
		if t.RowCount() == 0 && len(upd.Deletes) > 0 {
			upd.Truncated = true
		}
		metrics.TableRows.WithLabelValues(t.Schema().Name).Set(float64(t.RowCount()))
	}
}

func (c *CommittedState) mergeApplyTableRemovals(tx *TxState, td *TxData) {
	for _, ch := range tx.pendingSchemaChanges {
		if ch.kind != changeTableRemoved {
			continue
		}
		t := c.tables[ch.table]
		if t == nil {
			// Created and dropped within this transaction.
			continue
		}
		upd := td.Update(ch.table, t.Schema())
		upd.Deletes = append(upd.Deletes, t.Clear(c.pagePool, c.blobStore)...)
		upd.Dropped = true
		c.dropTable(ch.table)
	}
}

func (c *CommittedState) mergeApplyInserts(tx *TxState, td *TxData) {
	for _, tid := range tx.InsertTableIDs() {
		txTable := tx.insertTables[tid]
		t := c.tables[tid]
		if t == nil {
			// A table created this transaction materializes even when it
			// commits empty; later transactions resolve its schema here.
			t = c.createTable(txTable.Schema().Clone())
		}
		if txTable.RowCount() == 0 {
			continue
		}
		upd := td.Update(tid, t.Schema())
		it := txTable.Scan()
		for it.Next() {
			row, err := it.Row(tx.blobStore)
			if err != nil {
				panic(err)
			}
			if _, _, err := t.Insert(c.pagePool, c.blobStore, row); err != nil {
				if _, dup := errors.Cause(err).(*table.DuplicateError); !dup {
					// Cross-state checks ran at insert time under the same
					// write lock; a failure here means the overlay and the
					// snapshot disagree.
					panic(err)
				}
				continue
			}
			upd.Inserts = append(upd.Inserts, row)
		}
		if len(upd.Inserts) > 0 {
			upd.Truncated = false
		}
		metrics.TableRows.WithLabelValues(t.Schema().Name).Set(float64(t.RowCount()))
	}
}

// txConsumesOffset decides whether this transaction advances the durable
// offset: any row mutation does, as do client connect/disconnect lifecycle
// transactions. Pure reads never do.
func (c *CommittedState) txConsumesOffset(td *TxData, w Workload) bool {
	return td.HasRowMutation() || w == WorkloadConnect || w == WorkloadDisconnect
}

// Rollback

// Rollback discards the overlay and replays the DDL undo log in reverse,
// restoring removed schema objects and removing added ones. Row data needs no
// compensation: uncommitted rows never left the overlay. Returns the offset
// the next transaction will observe.
func (c *CommittedState) Rollback(seqState *SequencesState, tx *TxState) uint64 {
	for i := len(tx.pendingSchemaChanges) - 1; i >= 0; i-- {
		c.rollbackPendingSchemaChange(seqState, tx.pendingSchemaChanges[i])
	}
	metrics.RolledBackTxs.Inc()
	return c.nextTxOffset
}

func (c *CommittedState) rollbackPendingSchemaChange(seqState *SequencesState, ch PendingSchemaChange) {
	switch ch.kind {
	case changeTableAdded, changeTableRemoved:
		// The table only ever existed in the overlay (added), or is still in
		// place because removal is deferred to merge (removed). Either way the
		// committed snapshot is already correct.
	case changeIndexAdded:
		if t := c.tables[ch.table]; t != nil {
			t.RemoveIndex(ch.index.IndexID)
			t.Schema().RemoveIndex(ch.index.IndexID)
		}
		delete(c.indexIDMap, ch.index.IndexID)
	case changeIndexRemoved:
		if t := c.tables[ch.table]; t != nil {
			t.Schema().AddIndex(ch.index)
			if _, err := t.AddIndex(ch.index, c.blobStore); err != nil {
				// The index existed over these same rows before the drop.
				panic(err)
			}
			c.indexIDMap[ch.index.IndexID] = ch.table
		}
	case changeSequenceAdded:
		seqState.Remove(ch.sequence.SequenceID)
		if t := c.tables[ch.table]; t != nil {
			t.Schema().RemoveSequence(ch.sequence.SequenceID)
		}
	case changeSequenceRemoved:
		alloc := ch.sequence.Allocated
		seq, err := NewSequence(ch.sequence, &alloc)
		if err != nil {
			panic(err)
		}
		seqState.Insert(seq)
		if t := c.tables[ch.table]; t != nil {
			t.Schema().AddSequence(ch.sequence)
		}
	case changeConstraintAdded:
		if t := c.tables[ch.table]; t != nil {
			t.Schema().RemoveConstraint(ch.constraint.ConstraintID)
		}
	case changeConstraintRemoved:
		if t := c.tables[ch.table]; t != nil {
			t.Schema().AddConstraint(ch.constraint)
		}
	}
}

package datastore

import (
	"time"

	"github.com/google/uuid"
	"github.com/keplerdb/kepler/metrics"
	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// History is the replayable commit log: an ordered sequence of
// per-transaction insert/delete/truncate records. The durable implementation
// lives outside this package; replay only folds.
type History interface {
	// FoldTransactionsFrom drives v over every transaction at or after
	// offset, in order, bracketing each with VisitTxStart and VisitTxEnd.
	FoldTransactionsFrom(offset uint64, v TxVisitor) error
}

// TxVisitor receives one commit log transaction at a time. Rows arrive in
// their wire encoding; the visitor decodes them against the schema current at
// that point of the log, because the schema itself evolves through catalog
// rows in the same log.
type TxVisitor interface {
	VisitTxStart(offset uint64) error
	VisitInsert(tid types.TableID, rowWire []byte) error
	VisitDelete(tid types.TableID, rowWire []byte) error
	VisitTruncate(tid types.TableID) error
	VisitTxEnd() error
}

// ErrorBehavior selects how replay treats a record it cannot apply.
// FailFast refuses to reconstruct a possibly-wrong state and is the only
// behavior fit for production; Warn logs and continues, for offline forensic
// inspection of a damaged log.
type ErrorBehavior uint8

const (
	FailFast ErrorBehavior = iota
	Warn
)

// Open bootstraps a fresh datastore and folds history into it, starting at
// the checkpointed offset. The log must begin exactly at fromOffset; a gap is
// always fatal, since skipping transactions would silently produce a wrong
// state.
func Open(identity uuid.UUID, blobThreshold int, history History, fromOffset uint64, behavior ErrorBehavior) (*Locking, error) {
	start := time.Now()
	committed := NewCommittedState(table.NewPagePool(), blobThreshold)
	if err := committed.BootstrapSystemTables(identity); err != nil {
		return nil, err
	}
	committed.SetNextTxOffset(fromOffset)
	r := &replayVisitor{
		committed:      committed,
		behavior:       behavior,
		expectedOffset: fromOffset,
		droppedTables:  make(map[types.TableID]struct{}),
		ignoredColumns: make(map[types.RowPointer]struct{}),
		changedTables:  make(map[types.TableID]struct{}),
	}
	if err := history.FoldTransactionsFrom(fromOffset, r); err != nil {
		return nil, err
	}
	if err := committed.ReschemaTables(); err != nil {
		return nil, err
	}
	if err := committed.BuildMissingTables(); err != nil {
		return nil, err
	}
	if err := committed.BuildIndexes(); err != nil {
		return nil, err
	}
	sequences, err := committed.BuildSequencesState()
	if err != nil {
		return nil, err
	}
	if err := committed.AssertSystemTableSchemasMatch(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	metrics.ReplaySeconds.Set(elapsed.Seconds())
	log.Info("replayed commit log",
		zap.Uint64("from", fromOffset),
		zap.Uint64("transactions", r.replayed),
		zap.Uint64("next-offset", committed.NextTxOffset()),
		zap.Duration("elapsed", elapsed))
	return &Locking{committed: committed, sequences: sequences, identity: identity}, nil
}

const replayProgressInterval = 10000

// replayVisitor folds commit log records into a committed state, never going
// through a TxState: replay reruns the same insert/delete/truncate effects a
// merge would have produced.
type replayVisitor struct {
	committed      *CommittedState
	behavior       ErrorBehavior
	expectedOffset uint64
	replayed       uint64
	currentOffset  uint64

	// Per-transaction scratch, cleared at every boundary.
	//
	// droppedTables holds tables whose st_table row was deleted this
	// transaction; a same-transaction re-insert removes them again, so what
	// remains at VisitTxEnd is genuinely dropped.
	droppedTables map[types.TableID]struct{}
	// ignoredColumns holds st_column row pointers superseded within this
	// transaction (a column-type migration deletes the old row and inserts
	// the new one); schema recomputation must skip them while both coexist.
	ignoredColumns map[types.RowPointer]struct{}
	// changedTables holds tables whose st_column rows changed and whose
	// schema must be recomputed.
	changedTables map[types.TableID]struct{}
}

func (r *replayVisitor) VisitTxStart(offset uint64) error {
	// The log must be contiguous from the checkpoint on; a gap is fatal.
	if offset != r.expectedOffset {
		return &InvalidOffsetError{Expected: r.expectedOffset, Got: offset}
	}
	if len(r.droppedTables) != 0 {
		return errors.New("dropped-table scratch set not empty at transaction boundary")
	}
	r.currentOffset = offset
	return nil
}

// handle applies the error policy to one failed record.
func (r *replayVisitor) handle(err error, what string, tid types.TableID) error {
	if err == nil {
		return nil
	}
	if r.behavior == Warn {
		log.Warn("skipping unreplayable record",
			zap.String("op", what),
			zap.Stringer("table", tid),
			zap.Uint64("offset", r.currentOffset),
			zap.Error(err))
		return nil
	}
	return &ReplayError{Offset: r.currentOffset, Err: err}
}

func (r *replayVisitor) VisitInsert(tid types.TableID, rowWire []byte) error {
	return r.handle(r.applyInsert(tid, rowWire), "insert", tid)
}

func (r *replayVisitor) VisitDelete(tid types.TableID, rowWire []byte) error {
	return r.handle(r.applyDelete(tid, rowWire), "delete", tid)
}

func (r *replayVisitor) VisitTruncate(tid types.TableID) error {
	return r.handle(r.applyTruncate(tid), "truncate", tid)
}

func (r *replayVisitor) applyInsert(tid types.TableID, rowWire []byte) error {
	t, err := r.tableForReplay(tid)
	if err != nil {
		return err
	}
	row, rest, err := value.DecodeRowWire(rowWire, t.Schema().RowType())
	if err != nil || len(rest) != 0 {
		if err == nil {
			err = errors.Errorf("%d trailing bytes", len(rest))
		}
		return &ReplayDecodeError{Offset: r.currentOffset, Table: tid, Err: err}
	}
	_, ptr, err := t.Insert(r.committed.PagePool(), r.committed.blobStore, row)
	if err != nil {
		if _, dup := errors.Cause(err).(*table.DuplicateError); dup {
			return nil
		}
		return err
	}
	switch tid {
	case StTableID:
		newTid, _ := stTableRowParse(row)
		// A delete-then-insert of the same st_table row is an in-place
		// alteration, not a drop.
		delete(r.droppedTables, newTid)
		if r.committed.GetTable(newTid) != nil {
			r.changedTables[newTid] = struct{}{}
		}
	case StColumnID:
		col := stColumnRowParse(row)
		r.ignorePreviousColumnVersions(col, ptr)
		r.changedTables[col.TableID] = struct{}{}
	}
	return nil
}

// ignorePreviousColumnVersions marks any other live st_column row for the
// same (table, position) as superseded. The old row's delete arrives later
// in the same transaction; until then the recomputed layout must exclude it.
func (r *replayVisitor) ignorePreviousColumnVersions(col table.ColumnSchema, newPtr types.RowPointer) {
	stColumn := r.committed.GetTable(StColumnID)
	key := value.EncodeKey(nil, value.U64(uint64(col.TableID)))
	for _, ptr := range stColumn.Index(stColumnTableIdx).SeekPoint(key) {
		if ptr == newPtr {
			continue
		}
		row, err := stColumn.Get(ptr, r.committed.blobStore)
		if err != nil {
			continue
		}
		if types.ColID(row[stColumnColPos.Idx()].AsU64()) == col.Pos {
			r.ignoredColumns[ptr] = struct{}{}
		}
	}
}

func (r *replayVisitor) applyDelete(tid types.TableID, rowWire []byte) error {
	t := r.committed.GetTable(tid)
	if t == nil {
		return &TableNotInStateError{Table: tid, State: types.CommittedStateOffset}
	}
	row, rest, err := value.DecodeRowWire(rowWire, t.Schema().RowType())
	if err != nil || len(rest) != 0 {
		if err == nil {
			err = errors.Errorf("%d trailing bytes", len(rest))
		}
		return &ReplayDecodeError{Offset: r.currentOffset, Table: tid, Err: err}
	}
	if _, ok := t.DeleteByRow(row, r.committed.blobStore); !ok {
		return errors.Errorf("delete of a row not present in %s", tid)
	}
	switch tid {
	case StTableID:
		droppedTid, _ := stTableRowParse(row)
		r.droppedTables[droppedTid] = struct{}{}
	case StColumnID:
		col := stColumnRowParse(row)
		r.changedTables[col.TableID] = struct{}{}
	}
	return nil
}

func (r *replayVisitor) applyTruncate(tid types.TableID) error {
	t := r.committed.GetTable(tid)
	if t == nil {
		// Truncating a never-materialized table clears nothing.
		return nil
	}
	t.Clear(r.committed.PagePool(), r.committed.blobStore)
	return nil
}

// tableForReplay returns the committed table for tid, materializing it from
// the current catalog on the first data row it ever receives.
func (r *replayVisitor) tableForReplay(tid types.TableID) (*table.Table, error) {
	if t := r.committed.GetTable(tid); t != nil {
		return t, nil
	}
	schema, err := r.committed.schemaFromCatalog(tid, r.ignoredColumns)
	if err != nil {
		return nil, err
	}
	// Indexes are rebuilt wholesale after the fold; carrying them during
	// replay would only re-check constraints history already enforced.
	schema.Indexes = nil
	return r.committed.createTable(schema), nil
}

func (r *replayVisitor) VisitTxEnd() error {
	for tid := range r.droppedTables {
		r.dropReplayedTable(tid)
		delete(r.changedTables, tid)
		delete(r.droppedTables, tid)
	}
	for tid := range r.changedTables {
		if t := r.committed.GetTable(tid); t != nil && !tid.IsReserved() {
			schema, err := r.committed.schemaFromCatalog(tid, r.ignoredColumns)
			if err != nil {
				if err := r.handle(err, "reschema", tid); err != nil {
					return err
				}
			} else {
				schema.Indexes = nil
				t.SetSchema(schema)
			}
		}
		delete(r.changedTables, tid)
	}
	for ptr := range r.ignoredColumns {
		delete(r.ignoredColumns, ptr)
	}
	r.expectedOffset++
	r.committed.nextTxOffset = r.expectedOffset
	r.replayed++
	metrics.ReplayedTxs.Inc()
	if r.replayed%replayProgressInterval == 0 {
		log.Info("replay progress",
			zap.Uint64("transactions", r.replayed),
			zap.Uint64("offset", r.currentOffset))
	}
	return nil
}

func (r *replayVisitor) dropReplayedTable(tid types.TableID) {
	t := r.committed.GetTable(tid)
	if t == nil {
		return
	}
	t.Clear(r.committed.PagePool(), r.committed.blobStore)
	r.committed.dropTable(tid)
}

// Post-replay fix-ups. Inserting a catalog row is not equivalent to running
// the create routine, so after the fold the catalog is the source of truth:
// re-derive every built table's schema, materialize tables that never saw a
// data row, rebuild secondary indexes, and rebuild the sequence windows.

// ReschemaTables re-derives every built user table's schema from the final
// catalog state.
func (c *CommittedState) ReschemaTables() error {
	for tid, t := range c.tables {
		if tid.IsReserved() {
			continue
		}
		schema, err := c.SchemaFromCatalog(tid)
		if err != nil {
			return errors.Annotatef(err, "reschema of %s", tid)
		}
		t.SetSchema(schema)
	}
	return nil
}

// BuildMissingTables materializes every table that has a catalog row but
// never received a data row.
func (c *CommittedState) BuildMissingTables() error {
	stTable := c.tables[StTableID]
	var missing []types.TableID
	it := stTable.Scan()
	for it.Next() {
		row, err := it.Row(c.blobStore)
		if err != nil {
			return errors.WithStack(err)
		}
		tid, _ := stTableRowParse(row)
		if c.tables[tid] == nil {
			missing = append(missing, tid)
		}
	}
	for _, tid := range missing {
		schema, err := c.SchemaFromCatalog(tid)
		if err != nil {
			return errors.Annotatef(err, "materializing %s", tid)
		}
		schema.Indexes = nil
		c.createTable(schema)
	}
	return nil
}

// BuildIndexes builds every secondary index the index catalog names, over
// whatever rows the fold left in place.
func (c *CommittedState) BuildIndexes() error {
	stIndex := c.tables[StIndexID]
	it := stIndex.Scan()
	for it.Next() {
		row, err := it.Row(c.blobStore)
		if err != nil {
			return errors.WithStack(err)
		}
		is, err := stIndexRowParse(row)
		if err != nil {
			return errors.WithStack(err)
		}
		t := c.tables[is.TableID]
		if t == nil {
			return &TableNotFoundError{Table: is.TableID}
		}
		if t.Index(is.IndexID) != nil {
			c.indexIDMap[is.IndexID] = is.TableID
			continue
		}
		if t.Schema().IndexByID(is.IndexID) == nil {
			t.Schema().AddIndex(is)
		}
		if _, err := t.AddIndex(is, c.blobStore); err != nil {
			return errors.Annotatef(err, "building %s on %s", is.IndexID, is.TableID)
		}
		c.indexIDMap[is.IndexID] = is.TableID
	}
	return nil
}

// BuildSequencesState rebuilds the in-memory allocation windows from the
// sequence catalog, honoring each persisted high-water mark.
func (c *CommittedState) BuildSequencesState() (*SequencesState, error) {
	ss := NewSequencesState()
	stSequence := c.tables[StSequenceID]
	it := stSequence.Scan()
	for it.Next() {
		row, err := it.Row(c.blobStore)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		schema := stSequenceRowParse(row)
		alloc := schema.Allocated
		seq, err := NewSequence(schema, &alloc)
		if err != nil {
			return nil, errors.Annotatef(err, "rebuilding %s", schema.SequenceID)
		}
		ss.Insert(seq)
	}
	return ss, nil
}

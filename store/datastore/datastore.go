// Package datastore is the transactional row-storage core: a single durable
// committed snapshot mutated exactly once per commit, with per-transaction
// overlays providing snapshot-isolation-like reads and writes, crash-safe
// auto-increment allocation and commit-log replay.
package datastore

import (
	"sync"

	"github.com/google/uuid"
	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
)

// Locking is the single-writer datastore: one committed state behind a
// writer lock and one sequences state behind its own lock. Exactly one MutTx
// holds both at a time; the locks are always taken in the same order,
// committed first, sequences second.
type Locking struct {
	mu        sync.RWMutex
	committed *CommittedState
	seqMu     sync.Mutex
	sequences *SequencesState
	identity  uuid.UUID
}

// Bootstrap creates a fresh datastore holding only the system tables.
func Bootstrap(identity uuid.UUID, blobThreshold int) (*Locking, error) {
	committed := NewCommittedState(table.NewPagePool(), blobThreshold)
	if err := committed.BootstrapSystemTables(identity); err != nil {
		return nil, err
	}
	sequences, err := committed.BuildSequencesState()
	if err != nil {
		return nil, err
	}
	return &Locking{committed: committed, sequences: sequences, identity: identity}, nil
}

// Identity returns the database identity.
func (l *Locking) Identity() uuid.UUID { return l.identity }

// BeginMutTx starts the mutable transaction, blocking until the previous
// writer commits or rolls back.
func (l *Locking) BeginMutTx(w Workload) *MutTx {
	l.mu.Lock()
	l.seqMu.Lock()
	return &MutTx{
		store:     l,
		committed: l.committed,
		sequences: l.sequences,
		tx:        NewTxState(),
		readSets:  NewTxReadSets(),
		workload:  w,
	}
}

// Begin starts a read-only snapshot. Readers never block each other.
func (l *Locking) Begin() *Tx {
	l.mu.RLock()
	return &Tx{store: l, committed: l.committed}
}

// NextTxOffset returns the offset the next effectful commit will consume.
func (l *Locking) NextTxOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.committed.NextTxOffset()
}

// Tx is a read-only snapshot handle over the committed state, holding a
// shared lock until released.
type Tx struct {
	store     *Locking
	committed *CommittedState
	done      bool
}

// Iter returns a scan over the committed rows of tid.
func (t *Tx) Iter(tid types.TableID) (*Iter, error) {
	ct := t.committed.GetTable(tid)
	if ct == nil {
		return nil, &TableNotFoundError{Table: tid}
	}
	return newScanIter(tid, nil, ct, t.committed.BlobStore(), nil), nil
}

// IterByColRange returns the committed rows of tid whose values in cols fall
// within [low, high].
func (t *Tx) IterByColRange(tid types.TableID, cols types.ColList, low, high []value.Value) (*Iter, error) {
	if t.committed.GetTable(tid) == nil {
		return nil, &TableNotFoundError{Table: tid}
	}
	return iterByColRange(nil, t.committed, tid, cols, encodeBound(low), encodeBound(high)), nil
}

// IterByColEq returns the committed rows of tid whose values in cols equal
// vals.
func (t *Tx) IterByColEq(tid types.TableID, cols types.ColList, vals ...value.Value) (*Iter, error) {
	return t.IterByColRange(tid, cols, vals, vals)
}

// Get decodes the committed row at ptr.
func (t *Tx) Get(tid types.TableID, ptr types.RowPointer) (value.Row, error) {
	return t.committed.Get(tid, ptr)
}

// RowCount returns the committed row count of tid.
func (t *Tx) RowCount(tid types.TableID) (uint64, error) {
	ct := t.committed.GetTable(tid)
	if ct == nil {
		return 0, &TableNotFoundError{Table: tid}
	}
	return ct.RowCount(), nil
}

// SchemaForTable re-derives tid's schema from committed catalog rows.
func (t *Tx) SchemaForTable(tid types.TableID) (*table.TableSchema, error) {
	return t.committed.SchemaFromCatalog(tid)
}

// TableIDFromName resolves a committed table by name.
func (t *Tx) TableIDFromName(name string) (types.TableID, bool) {
	return t.committed.TableIDByName(name)
}

// Release drops the shared lock. Safe to call once.
func (t *Tx) Release() {
	if t.done {
		return
	}
	t.done = true
	t.store.mu.RUnlock()
}

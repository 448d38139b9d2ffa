package commitlog

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/keplerdb/kepler/config"
	"github.com/keplerdb/kepler/store/datastore"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/stretchr/testify/require"
)

func testConf() *config.Engine {
	conf := config.NewDefaultConfig()
	conf.Log.SyncWrite = false
	return &conf.Log
}

func openLog(t *testing.T) (*Log, func()) {
	dir, err := ioutil.TempDir("", "commitlog")
	require.Nil(t, err)
	l, err := Open(dir, testConf())
	require.Nil(t, err)
	return l, func() {
		l.Close()
		os.RemoveAll(dir)
	}
}

func widgetDef() datastore.TableDef {
	return datastore.TableDef{
		Name: "widget",
		Columns: []datastore.ColumnDef{
			{Name: "id", Kind: value.KindU64, AutoInc: true, Unique: true},
			{Name: "name", Kind: value.KindString},
		},
	}
}

func TestAppendAndFold(t *testing.T) {
	l, cleanup := openLog(t)
	defer cleanup()
	require.Equal(t, uint64(0), l.NextOffset())

	identity := uuid.New()
	store, err := datastore.Bootstrap(identity, 256)
	require.Nil(t, err)

	tx := store.BeginMutTx(datastore.WorkloadInternal)
	tid, err := tx.CreateTable(widgetDef())
	require.Nil(t, err)
	require.Nil(t, l.Append(tx.Commit()))

	tx = store.BeginMutTx(datastore.WorkloadReducer)
	for i := 0; i < 4; i++ {
		_, _, err := tx.Insert(tid, value.Row{value.U64(0), value.String("r")})
		require.Nil(t, err)
	}
	require.Nil(t, l.Append(tx.Commit()))

	tx = store.BeginMutTx(datastore.WorkloadReducer)
	gone, err := tx.DeleteByRow(tid, value.Row{value.U64(1), value.String("r")})
	require.Nil(t, err)
	require.True(t, gone)
	require.Nil(t, l.Append(tx.Commit()))

	require.Equal(t, store.NextTxOffset(), l.NextOffset())

	// A commit that consumed no offset appends nothing.
	tx = store.BeginMutTx(datastore.WorkloadSql)
	_, err = tx.RowCount(tid)
	require.Nil(t, err)
	require.Nil(t, l.Append(tx.Commit()))
	require.Equal(t, store.NextTxOffset(), l.NextOffset())

	replayed, err := datastore.Open(identity, 256, l, 0, datastore.FailFast)
	require.Nil(t, err)
	require.Equal(t, store.NextTxOffset(), replayed.NextTxOffset())

	read := replayed.Begin()
	defer read.Release()
	gotTid, ok := read.TableIDFromName("widget")
	require.True(t, ok)
	require.Equal(t, tid, gotTid)
	n, err := read.RowCount(tid)
	require.Nil(t, err)
	require.Equal(t, uint64(3), n)
}

func TestReopenRecoversNextOffset(t *testing.T) {
	dir, err := ioutil.TempDir("", "commitlog")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	l, err := Open(dir, testConf())
	require.Nil(t, err)

	store, err := datastore.Bootstrap(uuid.New(), 256)
	require.Nil(t, err)
	tx := store.BeginMutTx(datastore.WorkloadInternal)
	_, err = tx.CreateTable(widgetDef())
	require.Nil(t, err)
	require.Nil(t, l.Append(tx.Commit()))
	require.Equal(t, uint64(1), l.NextOffset())
	require.Nil(t, l.Close())

	l, err = Open(dir, testConf())
	require.Nil(t, err)
	defer l.Close()
	require.Equal(t, uint64(1), l.NextOffset())
}

func TestAppendRejectsOffsetGap(t *testing.T) {
	l, cleanup := openLog(t)
	defer cleanup()

	store, err := datastore.Bootstrap(uuid.New(), 256)
	require.Nil(t, err)
	tx := store.BeginMutTx(datastore.WorkloadInternal)
	tid, err := tx.CreateTable(widgetDef())
	require.Nil(t, err)
	require.Nil(t, l.Append(tx.Commit()))

	// Skip a store commit, then try to append the next one: the log
	// refuses the hole.
	tx = store.BeginMutTx(datastore.WorkloadReducer)
	_, _, err = tx.Insert(tid, value.Row{value.U64(0), value.String("lost")})
	require.Nil(t, err)
	tx.Commit()

	tx = store.BeginMutTx(datastore.WorkloadReducer)
	_, _, err = tx.Insert(tid, value.Row{value.U64(0), value.String("next")})
	require.Nil(t, err)
	require.NotNil(t, l.Append(tx.Commit()))
}

func TestFoldFromTail(t *testing.T) {
	l, cleanup := openLog(t)
	defer cleanup()

	store, err := datastore.Bootstrap(uuid.New(), 256)
	require.Nil(t, err)
	tx := store.BeginMutTx(datastore.WorkloadInternal)
	_, err = tx.CreateTable(widgetDef())
	require.Nil(t, err)
	require.Nil(t, l.Append(tx.Commit()))

	// Resuming from the exact tail folds nothing and succeeds: an
	// up-to-date checkpoint has no transactions left to replay.
	var count countingVisitor
	require.Nil(t, l.FoldTransactionsFrom(l.NextOffset(), &count))
	require.Equal(t, 0, count.txs)

	require.Nil(t, l.FoldTransactionsFrom(0, &count))
	require.Equal(t, 1, count.txs)

	// A checkpoint past the tail claims transactions the log never saw.
	err = l.FoldTransactionsFrom(l.NextOffset()+1, &count)
	require.NotNil(t, err)
	_, isGap := err.(*datastore.InvalidOffsetError)
	require.True(t, isGap)
}

type countingVisitor struct {
	txs int
}

func (c *countingVisitor) VisitTxStart(offset uint64) error        { return nil }
func (c *countingVisitor) VisitInsert(types.TableID, []byte) error { return nil }
func (c *countingVisitor) VisitDelete(types.TableID, []byte) error { return nil }
func (c *countingVisitor) VisitTruncate(types.TableID) error       { return nil }
func (c *countingVisitor) VisitTxEnd() error                       { c.txs++; return nil }

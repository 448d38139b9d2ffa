// Package commitlog is the durable History implementation: one Badger
// key per consumed transaction offset, valued with the wire-encoded diff the
// commit produced. Appending follows commits; folding drives replay.
package commitlog

import (
	"os"
	"path/filepath"

	"github.com/Connor1996/badger"
	"github.com/keplerdb/kepler/config"
	"github.com/keplerdb/kepler/store/codec"
	"github.com/keplerdb/kepler/store/datastore"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const txKeyPrefix = byte('t')

func txKey(offset uint64) []byte {
	return codec.EncodeUint64([]byte{txKeyPrefix}, offset)
}

func txKeyOffset(key []byte) (uint64, error) {
	if len(key) != 9 || key[0] != txKeyPrefix {
		return 0, errors.Errorf("malformed commit log key %q", key)
	}
	_, offset, err := codec.DecodeUint64(key[1:])
	return offset, errors.WithStack(err)
}

// Log is an append-only commit log over a Badger directory.
type Log struct {
	db         *badger.DB
	dir        string
	nextOffset uint64
}

// Open opens (or creates) the commit log under dir.
func Open(dir string, conf *config.Engine) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	opts := badger.DefaultOptions
	opts.Dir = filepath.Join(dir, "log")
	opts.ValueDir = opts.Dir
	opts.ValueThreshold = conf.ValueThreshold
	opts.MaxTableSize = conf.MaxTableSize
	opts.NumMemtables = conf.NumMemTables
	opts.NumLevelZeroTables = conf.NumL0Tables
	opts.NumLevelZeroTablesStall = conf.NumL0TablesStall
	opts.ValueLogFileSize = conf.VlogFileSize
	opts.SyncWrites = conf.SyncWrite
	opts.NumCompactors = conf.NumCompactors
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	l := &Log{db: db, dir: dir}
	if err := l.loadNextOffset(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("opened commit log",
		zap.String("dir", dir),
		zap.Uint64("next-offset", l.nextOffset))
	return l, nil
}

func (l *Log) loadNextOffset() error {
	return l.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Reverse = true
		it := txn.NewIterator(itOpts)
		defer it.Close()
		// Largest key <= prefix+max offset.
		it.Seek(txKey(^uint64(0)))
		if !it.Valid() {
			l.nextOffset = 0
			return nil
		}
		offset, err := txKeyOffset(it.Item().KeyCopy(nil))
		if err != nil {
			return err
		}
		l.nextOffset = offset + 1
		return nil
	})
}

// NextOffset returns the offset the next appended transaction must carry.
func (l *Log) NextOffset() uint64 { return l.nextOffset }

// Close closes the underlying store.
func (l *Log) Close() error { return errors.WithStack(l.db.Close()) }

// Append durably records the diff of one committed transaction. Commits that
// consumed no offset append nothing. Offsets must arrive contiguously.
func (l *Log) Append(td *datastore.TxData) error {
	offset, ok := td.Offset()
	if !ok {
		return nil
	}
	if offset != l.nextOffset {
		return errors.Errorf("appending offset %d, log expects %d", offset, l.nextOffset)
	}
	record := encodeTxRecord(td)
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(txKey(offset), record)
	})
	if err != nil {
		return errors.WithStack(err)
	}
	l.nextOffset = offset + 1
	return nil
}

// FoldTransactionsFrom implements datastore.History. Records replay deletes
// first, then truncates, then inserts, matching the order a merge applied
// them in.
func (l *Log) FoldTransactionsFrom(offset uint64, v datastore.TxVisitor) error {
	// A checkpoint ahead of the log is a gap just like a hole inside it.
	if offset > l.nextOffset {
		return &datastore.InvalidOffsetError{Expected: l.nextOffset, Got: offset}
	}
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		expected := offset
		for it.Seek(txKey(offset)); it.Valid(); it.Next() {
			got, err := txKeyOffset(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			if got != expected {
				return &datastore.InvalidOffsetError{Expected: expected, Got: got}
			}
			record, err := it.Item().ValueCopy(nil)
			if err != nil {
				return errors.WithStack(err)
			}
			if err := replayTxRecord(got, record, v); err != nil {
				return err
			}
			expected++
		}
		if expected == offset && offset < l.nextOffset {
			return &datastore.InvalidOffsetError{Expected: offset, Got: l.nextOffset}
		}
		return nil
	})
}

// Record layout, all varints and wire-encoded rows:
//
//	ndelete-tables [table-id nrows [len row]...]...
//	ntruncates [table-id]...
//	ninsert-tables [table-id nrows [len row]...]...

func encodeTxRecord(td *datastore.TxData) []byte {
	var buf []byte
	tids := td.TableIDs()

	appendRows := func(tid types.TableID, rows []value.Row) {
		buf = codec.EncodeUvarint(buf, uint64(tid))
		buf = codec.EncodeUvarint(buf, uint64(len(rows)))
		for _, row := range rows {
			wire := value.EncodeRowWire(nil, row)
			buf = codec.EncodeUvarint(buf, uint64(len(wire)))
			buf = append(buf, wire...)
		}
	}

	var deleteTables, truncates, insertTables []types.TableID
	for _, tid := range tids {
		u := td.Get(tid)
		if len(u.Deletes) > 0 {
			deleteTables = append(deleteTables, tid)
		}
		if u.Truncated || u.Dropped {
			truncates = append(truncates, tid)
		}
		if len(u.Inserts) > 0 {
			insertTables = append(insertTables, tid)
		}
	}
	buf = codec.EncodeUvarint(buf, uint64(len(deleteTables)))
	for _, tid := range deleteTables {
		appendRows(tid, td.Get(tid).Deletes)
	}
	buf = codec.EncodeUvarint(buf, uint64(len(truncates)))
	for _, tid := range truncates {
		buf = codec.EncodeUvarint(buf, uint64(tid))
	}
	buf = codec.EncodeUvarint(buf, uint64(len(insertTables)))
	for _, tid := range insertTables {
		appendRows(tid, td.Get(tid).Inserts)
	}
	return buf
}

func replayTxRecord(offset uint64, record []byte, v datastore.TxVisitor) error {
	if err := v.VisitTxStart(offset); err != nil {
		return err
	}
	b := record

	eachRow := func(visit func(types.TableID, []byte) error) error {
		rest, ntables, err := codec.DecodeUvarint(b)
		if err != nil {
			return errors.WithStack(err)
		}
		b = rest
		for i := uint64(0); i < ntables; i++ {
			rest, rawTid, err := codec.DecodeUvarint(b)
			if err != nil {
				return errors.WithStack(err)
			}
			b = rest
			rest, nrows, err := codec.DecodeUvarint(b)
			if err != nil {
				return errors.WithStack(err)
			}
			b = rest
			for j := uint64(0); j < nrows; j++ {
				rest, n, err := codec.DecodeUvarint(b)
				if err != nil {
					return errors.WithStack(err)
				}
				b = rest
				if uint64(len(b)) < n {
					return errors.New("truncated commit log record")
				}
				if err := visit(types.TableID(rawTid), b[:n]); err != nil {
					return err
				}
				b = b[n:]
			}
		}
		return nil
	}

	if err := eachRow(v.VisitDelete); err != nil {
		return err
	}
	rest, ntruncates, err := codec.DecodeUvarint(b)
	if err != nil {
		return errors.WithStack(err)
	}
	b = rest
	for i := uint64(0); i < ntruncates; i++ {
		rest, rawTid, err := codec.DecodeUvarint(b)
		if err != nil {
			return errors.WithStack(err)
		}
		b = rest
		if err := v.VisitTruncate(types.TableID(rawTid)); err != nil {
			return err
		}
	}
	if err := eachRow(v.VisitInsert); err != nil {
		return err
	}
	if len(b) != 0 {
		return errors.Errorf("%d trailing bytes in commit log record", len(b))
	}
	return v.VisitTxEnd()
}

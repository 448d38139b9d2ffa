package datastore

import (
	"math"

	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/pingcap/errors"
)

// System table ids. Everything at or below types.ReservedIDRange belongs to
// the catalog; user objects allocate above it.
const (
	StTableID      types.TableID = 1
	StColumnID     types.TableID = 2
	StSequenceID   types.TableID = 3
	StIndexID      types.TableID = 4
	StConstraintID types.TableID = 5
	StClientID     types.TableID = 6
)

// System index ids.
const (
	stTableIDIdx      types.IndexID = 1
	stTableNameIdx    types.IndexID = 2
	stColumnTableIdx  types.IndexID = 3
	stSequenceIDIdx   types.IndexID = 4
	stIndexIDIdx      types.IndexID = 5
	stConstraintIDIdx types.IndexID = 6
	stClientKeyIdx    types.IndexID = 7
)

// System sequence ids, driving id allocation for user catalog objects.
const (
	stTableIDSeq      types.SequenceID = 1
	stSequenceIDSeq   types.SequenceID = 2
	stIndexIDSeq      types.SequenceID = 3
	stConstraintIDSeq types.SequenceID = 4
)

// Column positions of st_table.
const (
	stTableColID types.ColID = iota
	stTableColName
)

// Column positions of st_column.
const (
	stColumnColTableID types.ColID = iota
	stColumnColPos
	stColumnColName
	stColumnColKind
)

// Column positions of st_sequence.
const (
	stSequenceColID types.ColID = iota
	stSequenceColName
	stSequenceColTableID
	stSequenceColColPos
	stSequenceColIncrement
	stSequenceColStart
	stSequenceColMin
	stSequenceColMax
	stSequenceColAllocated
)

// Column positions of st_index.
const (
	stIndexColID types.ColID = iota
	stIndexColTableID
	stIndexColName
	stIndexColUnique
	stIndexColCols
)

// Column positions of st_constraint.
const (
	stConstraintColID types.ColID = iota
	stConstraintColName
	stConstraintColTableID
	stConstraintColCols
)

// Column positions of st_client.
const (
	stClientColIdentity types.ColID = iota
	stClientColConnection
)

func systemSequenceSchema(id types.SequenceID, name string, tid types.TableID, col types.ColID) table.SequenceSchema {
	return table.SequenceSchema{
		SequenceID: id,
		TableID:    tid,
		ColPos:     col,
		Name:       name,
		Start:      int64(types.ReservedIDRange) + 1,
		Increment:  1,
		MinValue:   1,
		MaxValue:   math.MaxInt64,
		Allocated:  int64(types.ReservedIDRange) + 1,
	}
}

// StTableSchema is the schema of st_table, the table catalog. Every live
// table, system tables included, has exactly one row here.
func StTableSchema() *table.TableSchema {
	return &table.TableSchema{
		TableID: StTableID,
		Name:    "st_table",
		Columns: []table.ColumnSchema{
			{TableID: StTableID, Pos: stTableColID, Name: "table_id", Kind: value.KindU64},
			{TableID: StTableID, Pos: stTableColName, Name: "table_name", Kind: value.KindString},
		},
		Indexes: []table.IndexSchema{
			{IndexID: stTableIDIdx, TableID: StTableID, Name: "st_table_table_id_idx", Cols: types.NewColList(stTableColID), Unique: true},
			{IndexID: stTableNameIdx, TableID: StTableID, Name: "st_table_table_name_idx", Cols: types.NewColList(stTableColName), Unique: true},
		},
		Sequences: []table.SequenceSchema{
			systemSequenceSchema(stTableIDSeq, "st_table_table_id_seq", StTableID, stTableColID),
		},
	}
}

// StColumnSchema is the schema of st_column, the column catalog. The table_id
// index is deliberately non-unique: historical column-type migrations replay
// as delete-then-insert pairs for the same (table, position).
func StColumnSchema() *table.TableSchema {
	return &table.TableSchema{
		TableID: StColumnID,
		Name:    "st_column",
		Columns: []table.ColumnSchema{
			{TableID: StColumnID, Pos: stColumnColTableID, Name: "table_id", Kind: value.KindU64},
			{TableID: StColumnID, Pos: stColumnColPos, Name: "col_pos", Kind: value.KindU64},
			{TableID: StColumnID, Pos: stColumnColName, Name: "col_name", Kind: value.KindString},
			{TableID: StColumnID, Pos: stColumnColKind, Name: "col_type", Kind: value.KindU64},
		},
		Indexes: []table.IndexSchema{
			{IndexID: stColumnTableIdx, TableID: StColumnID, Name: "st_column_table_id_idx", Cols: types.NewColList(stColumnColTableID), Unique: false},
		},
	}
}

// StSequenceSchema is the schema of st_sequence, the sequence catalog. The
// allocated column is the durable high-water mark.
func StSequenceSchema() *table.TableSchema {
	return &table.TableSchema{
		TableID: StSequenceID,
		Name:    "st_sequence",
		Columns: []table.ColumnSchema{
			{TableID: StSequenceID, Pos: stSequenceColID, Name: "sequence_id", Kind: value.KindU64},
			{TableID: StSequenceID, Pos: stSequenceColName, Name: "sequence_name", Kind: value.KindString},
			{TableID: StSequenceID, Pos: stSequenceColTableID, Name: "table_id", Kind: value.KindU64},
			{TableID: StSequenceID, Pos: stSequenceColColPos, Name: "col_pos", Kind: value.KindU64},
			{TableID: StSequenceID, Pos: stSequenceColIncrement, Name: "increment", Kind: value.KindI64},
			{TableID: StSequenceID, Pos: stSequenceColStart, Name: "start", Kind: value.KindI64},
			{TableID: StSequenceID, Pos: stSequenceColMin, Name: "min_value", Kind: value.KindI64},
			{TableID: StSequenceID, Pos: stSequenceColMax, Name: "max_value", Kind: value.KindI64},
			{TableID: StSequenceID, Pos: stSequenceColAllocated, Name: "allocated", Kind: value.KindI64},
		},
		Indexes: []table.IndexSchema{
			{IndexID: stSequenceIDIdx, TableID: StSequenceID, Name: "st_sequence_sequence_id_idx", Cols: types.NewColList(stSequenceColID), Unique: true},
		},
		Sequences: []table.SequenceSchema{
			systemSequenceSchema(stSequenceIDSeq, "st_sequence_sequence_id_seq", StSequenceID, stSequenceColID),
		},
	}
}

// StIndexSchema is the schema of st_index, the index catalog.
func StIndexSchema() *table.TableSchema {
	return &table.TableSchema{
		TableID: StIndexID,
		Name:    "st_index",
		Columns: []table.ColumnSchema{
			{TableID: StIndexID, Pos: stIndexColID, Name: "index_id", Kind: value.KindU64},
			{TableID: StIndexID, Pos: stIndexColTableID, Name: "table_id", Kind: value.KindU64},
			{TableID: StIndexID, Pos: stIndexColName, Name: "index_name", Kind: value.KindString},
			{TableID: StIndexID, Pos: stIndexColUnique, Name: "is_unique", Kind: value.KindBool},
			{TableID: StIndexID, Pos: stIndexColCols, Name: "columns", Kind: value.KindString},
		},
		Indexes: []table.IndexSchema{
			{IndexID: stIndexIDIdx, TableID: StIndexID, Name: "st_index_index_id_idx", Cols: types.NewColList(stIndexColID), Unique: true},
		},
		Sequences: []table.SequenceSchema{
			systemSequenceSchema(stIndexIDSeq, "st_index_index_id_seq", StIndexID, stIndexColID),
		},
	}
}

// StConstraintSchema is the schema of st_constraint, the constraint catalog.
func StConstraintSchema() *table.TableSchema {
	return &table.TableSchema{
		TableID: StConstraintID,
		Name:    "st_constraint",
		Columns: []table.ColumnSchema{
			{TableID: StConstraintID, Pos: stConstraintColID, Name: "constraint_id", Kind: value.KindU64},
			{TableID: StConstraintID, Pos: stConstraintColName, Name: "constraint_name", Kind: value.KindString},
			{TableID: StConstraintID, Pos: stConstraintColTableID, Name: "table_id", Kind: value.KindU64},
			{TableID: StConstraintID, Pos: stConstraintColCols, Name: "columns", Kind: value.KindString},
		},
		Indexes: []table.IndexSchema{
			{IndexID: stConstraintIDIdx, TableID: StConstraintID, Name: "st_constraint_constraint_id_idx", Cols: types.NewColList(stConstraintColID), Unique: true},
		},
		Sequences: []table.SequenceSchema{
			systemSequenceSchema(stConstraintIDSeq, "st_constraint_constraint_id_seq", StConstraintID, stConstraintColID),
		},
	}
}

// StClientSchema is the schema of st_client, the connected-client table. A
// connect inserts a row, a disconnect deletes it; both consume a transaction
// offset even when nothing else changed.
func StClientSchema() *table.TableSchema {
	return &table.TableSchema{
		TableID: StClientID,
		Name:    "st_client",
		Columns: []table.ColumnSchema{
			{TableID: StClientID, Pos: stClientColIdentity, Name: "identity", Kind: value.KindBytes},
			{TableID: StClientID, Pos: stClientColConnection, Name: "connection_id", Kind: value.KindU64},
		},
		Indexes: []table.IndexSchema{
			{IndexID: stClientKeyIdx, TableID: StClientID, Name: "st_client_identity_idx", Cols: types.NewColList(stClientColIdentity, stClientColConnection), Unique: true},
		},
	}
}

// SystemTableSchemas returns the fixed set of system table schemas in id
// order.
func SystemTableSchemas() []*table.TableSchema {
	return []*table.TableSchema{
		StTableSchema(),
		StColumnSchema(),
		StSequenceSchema(),
		StIndexSchema(),
		StConstraintSchema(),
		StClientSchema(),
	}
}

// Catalog row construction and parsing. The catalog is self-describing:
// these are the rows that, decoded back, reproduce the schemas above.

func stTableRow(tid types.TableID, name string) value.Row {
	return value.Row{value.U64(uint64(tid)), value.String(name)}
}

func stTableRowParse(row value.Row) (types.TableID, string) {
	return types.TableID(row[stTableColID].AsU64()), row[stTableColName].AsString()
}

func stColumnRow(c table.ColumnSchema) value.Row {
	return value.Row{
		value.U64(uint64(c.TableID)),
		value.U64(uint64(c.Pos)),
		value.String(c.Name),
		value.U64(uint64(c.Kind)),
	}
}

func stColumnRowParse(row value.Row) table.ColumnSchema {
	return table.ColumnSchema{
		TableID: types.TableID(row[stColumnColTableID].AsU64()),
		Pos:     types.ColID(row[stColumnColPos].AsU64()),
		Name:    row[stColumnColName].AsString(),
		Kind:    value.Kind(row[stColumnColKind].AsU64()),
	}
}

func stSequenceRow(s table.SequenceSchema) value.Row {
	return value.Row{
		value.U64(uint64(s.SequenceID)),
		value.String(s.Name),
		value.U64(uint64(s.TableID)),
		value.U64(uint64(s.ColPos)),
		value.I64(s.Increment),
		value.I64(s.Start),
		value.I64(s.MinValue),
		value.I64(s.MaxValue),
		value.I64(s.Allocated),
	}
}

func stSequenceRowParse(row value.Row) table.SequenceSchema {
	return table.SequenceSchema{
		SequenceID: types.SequenceID(row[stSequenceColID].AsU64()),
		Name:       row[stSequenceColName].AsString(),
		TableID:    types.TableID(row[stSequenceColTableID].AsU64()),
		ColPos:     types.ColID(row[stSequenceColColPos].AsU64()),
		Increment:  row[stSequenceColIncrement].AsI64(),
		Start:      row[stSequenceColStart].AsI64(),
		MinValue:   row[stSequenceColMin].AsI64(),
		MaxValue:   row[stSequenceColMax].AsI64(),
		Allocated:  row[stSequenceColAllocated].AsI64(),
	}
}

func stIndexRow(idx table.IndexSchema) value.Row {
	return value.Row{
		value.U64(uint64(idx.IndexID)),
		value.U64(uint64(idx.TableID)),
		value.String(idx.Name),
		value.Bool(idx.Unique),
		value.String(idx.Cols.String()),
	}
}

func stIndexRowParse(row value.Row) (table.IndexSchema, error) {
	cols, err := types.ParseColList(row[stIndexColCols].AsString())
	if err != nil {
		return table.IndexSchema{}, errors.Annotatef(err, "index %d", row[stIndexColID].AsU64())
	}
	return table.IndexSchema{
		IndexID: types.IndexID(row[stIndexColID].AsU64()),
		TableID: types.TableID(row[stIndexColTableID].AsU64()),
		Name:    row[stIndexColName].AsString(),
		Unique:  row[stIndexColUnique].AsBool(),
		Cols:    cols,
	}, nil
}

func stConstraintRow(c table.ConstraintSchema) value.Row {
	return value.Row{
		value.U64(uint64(c.ConstraintID)),
		value.String(c.Name),
		value.U64(uint64(c.TableID)),
		value.String(c.Cols.String()),
	}
}

func stConstraintRowParse(row value.Row) (table.ConstraintSchema, error) {
	cols, err := types.ParseColList(row[stConstraintColCols].AsString())
	if err != nil {
		return table.ConstraintSchema{}, errors.Annotatef(err, "constraint %d", row[stConstraintColID].AsU64())
	}
	return table.ConstraintSchema{
		ConstraintID: types.ConstraintID(row[stConstraintColID].AsU64()),
		Name:         row[stConstraintColName].AsString(),
		TableID:      types.TableID(row[stConstraintColTableID].AsU64()),
		Cols:         cols,
	}, nil
}

func stClientRow(identity []byte, connection uint64) value.Row {
	return value.Row{value.Bytes(identity), value.U64(connection)}
}

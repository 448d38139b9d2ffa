package table

import (
	"sort"

	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
	"github.com/pingcap/errors"
)

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	TableID types.TableID
	Pos     types.ColID
	Name    string
	Kind    value.Kind
}

// IndexSchema describes one secondary index.
type IndexSchema struct {
	IndexID types.IndexID
	TableID types.TableID
	Name    string
	Cols    types.ColList
	Unique  bool
}

// SequenceSchema describes one auto-increment sequence attached to a single
// integer column. Allocated is the persisted high-water mark: the first value
// the sequence may hand out after a restart.
type SequenceSchema struct {
	SequenceID types.SequenceID
	TableID    types.TableID
	ColPos     types.ColID
	Name       string
	Start      int64
	Increment  int64
	MinValue   int64
	MaxValue   int64
	Allocated  int64
}

// ConstraintSchema describes one declared constraint. Unique constraints are
// enforced by a backing unique index; the row here is catalog metadata.
type ConstraintSchema struct {
	ConstraintID types.ConstraintID
	TableID      types.TableID
	Name         string
	Cols         types.ColList
}

// TableSchema is the full logical shape of one table.
type TableSchema struct {
	TableID     types.TableID
	Name        string
	Columns     []ColumnSchema
	Indexes     []IndexSchema
	Sequences   []SequenceSchema
	Constraints []ConstraintSchema
}

// RowType returns the positional column kinds.
func (s *TableSchema) RowType() value.RowType {
	rt := make(value.RowType, len(s.Columns))
	for i, c := range s.Columns {
		rt[i] = c.Kind
	}
	return rt
}

// Column returns the column at position pos, or nil.
func (s *TableSchema) Column(pos types.ColID) *ColumnSchema {
	if int(pos) >= len(s.Columns) {
		return nil
	}
	return &s.Columns[pos.Idx()]
}

// ColPos returns the position of the column named name.
func (s *TableSchema) ColPos(name string) (types.ColID, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c.Pos, true
		}
	}
	return 0, false
}

// IndexByCols returns the index covering exactly cols, or nil.
func (s *TableSchema) IndexByCols(cols types.ColList) *IndexSchema {
	for i := range s.Indexes {
		if s.Indexes[i].Cols.Equal(cols) {
			return &s.Indexes[i]
		}
	}
	return nil
}

// IndexByID returns the index with the given id, or nil.
func (s *TableSchema) IndexByID(id types.IndexID) *IndexSchema {
	for i := range s.Indexes {
		if s.Indexes[i].IndexID == id {
			return &s.Indexes[i]
		}
	}
	return nil
}

// SequenceByID returns the sequence with the given id, or nil.
func (s *TableSchema) SequenceByID(id types.SequenceID) *SequenceSchema {
	for i := range s.Sequences {
		if s.Sequences[i].SequenceID == id {
			return &s.Sequences[i]
		}
	}
	return nil
}

// ConstraintByID returns the constraint with the given id, or nil.
func (s *TableSchema) ConstraintByID(id types.ConstraintID) *ConstraintSchema {
	for i := range s.Constraints {
		if s.Constraints[i].ConstraintID == id {
			return &s.Constraints[i]
		}
	}
	return nil
}

func (s *TableSchema) AddIndex(idx IndexSchema) {
	s.Indexes = append(s.Indexes, idx)
}

func (s *TableSchema) RemoveIndex(id types.IndexID) (IndexSchema, bool) {
	for i := range s.Indexes {
		if s.Indexes[i].IndexID == id {
			removed := s.Indexes[i]
			s.Indexes = append(s.Indexes[:i], s.Indexes[i+1:]...)
			return removed, true
		}
	}
	return IndexSchema{}, false
}

func (s *TableSchema) AddSequence(seq SequenceSchema) {
	s.Sequences = append(s.Sequences, seq)
}

func (s *TableSchema) RemoveSequence(id types.SequenceID) (SequenceSchema, bool) {
	for i := range s.Sequences {
		if s.Sequences[i].SequenceID == id {
			removed := s.Sequences[i]
			s.Sequences = append(s.Sequences[:i], s.Sequences[i+1:]...)
			return removed, true
		}
	}
	return SequenceSchema{}, false
}

func (s *TableSchema) AddConstraint(c ConstraintSchema) {
	s.Constraints = append(s.Constraints, c)
}

func (s *TableSchema) RemoveConstraint(id types.ConstraintID) (ConstraintSchema, bool) {
	for i := range s.Constraints {
		if s.Constraints[i].ConstraintID == id {
			removed := s.Constraints[i]
			s.Constraints = append(s.Constraints[:i], s.Constraints[i+1:]...)
			return removed, true
		}
	}
	return ConstraintSchema{}, false
}

// Validate checks internal consistency: contiguous column positions, index
// and sequence targets in range, sequences on integer columns only.
func (s *TableSchema) Validate() error {
	if s.Name == "" {
		return errors.Errorf("%s has no name", s.TableID)
	}
	if len(s.Columns) == 0 {
		return errors.Errorf("table %q has no columns", s.Name)
	}
	for i, c := range s.Columns {
		if c.Pos.Idx() != i {
			return errors.Errorf("table %q: column %q at position %d declared as %d", s.Name, c.Name, i, c.Pos)
		}
	}
	for _, idx := range s.Indexes {
		for _, col := range idx.Cols.Cols() {
			if s.Column(col) == nil {
				return errors.Errorf("table %q: index %q covers unknown column %d", s.Name, idx.Name, col)
			}
		}
	}
	for _, seq := range s.Sequences {
		col := s.Column(seq.ColPos)
		if col == nil {
			return errors.Errorf("table %q: sequence %q targets unknown column %d", s.Name, seq.Name, seq.ColPos)
		}
		if !col.Kind.IsInteger() {
			return errors.Errorf("table %q: sequence %q targets %s column %q", s.Name, seq.Name, col.Kind, col.Name)
		}
	}
	return nil
}

// Clone deep-copies the schema; the copy never aliases the original's slices.
func (s *TableSchema) Clone() *TableSchema {
	out := &TableSchema{TableID: s.TableID, Name: s.Name}
	out.Columns = append([]ColumnSchema(nil), s.Columns...)
	out.Indexes = append([]IndexSchema(nil), s.Indexes...)
	out.Sequences = append([]SequenceSchema(nil), s.Sequences...)
	out.Constraints = append([]ConstraintSchema(nil), s.Constraints...)
	return out
}

// Normalize sorts the schema's object lists by id so that schemas built in
// different orders compare equal.
func (s *TableSchema) Normalize() {
	sort.Slice(s.Indexes, func(i, j int) bool { return s.Indexes[i].IndexID < s.Indexes[j].IndexID })
	sort.Slice(s.Sequences, func(i, j int) bool { return s.Sequences[i].SequenceID < s.Sequences[j].SequenceID })
	sort.Slice(s.Constraints, func(i, j int) bool { return s.Constraints[i].ConstraintID < s.Constraints[j].ConstraintID })
}

// Equal reports whether two normalized schemas describe the same table.
func (s *TableSchema) Equal(other *TableSchema) bool {
	if s.TableID != other.TableID || s.Name != other.Name ||
		len(s.Columns) != len(other.Columns) || len(s.Indexes) != len(other.Indexes) ||
		len(s.Sequences) != len(other.Sequences) || len(s.Constraints) != len(other.Constraints) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != other.Columns[i] {
			return false
		}
	}
	for i := range s.Indexes {
		a, b := s.Indexes[i], other.Indexes[i]
		if a.IndexID != b.IndexID || a.TableID != b.TableID || a.Name != b.Name ||
			a.Unique != b.Unique || !a.Cols.Equal(b.Cols) {
			return false
		}
	}
	for i := range s.Sequences {
		// Allocated advances with use; it is state, not shape.
		a, b := s.Sequences[i], other.Sequences[i]
		a.Allocated, b.Allocated = 0, 0
		if a != b {
			return false
		}
	}
	for i := range s.Constraints {
		a, b := s.Constraints[i], other.Constraints[i]
		if a.ConstraintID != b.ConstraintID || a.TableID != b.TableID ||
			a.Name != b.Name || !a.Cols.Equal(b.Cols) {
			return false
		}
	}
	return true
}

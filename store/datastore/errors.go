package datastore

import (
	"fmt"

	"github.com/keplerdb/kepler/store/types"
	"github.com/keplerdb/kepler/store/value"
)

// TableNotFoundError reports a reference to a table id no state knows about.
type TableNotFoundError struct {
	Table types.TableID
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("%s does not exist", e.Table)
}

// TableNotInStateError reports a pointer dereference against a state that
// does not hold the table.
type TableNotInStateError struct {
	Table types.TableID
	State types.SquashedOffset
}

func (e *TableNotInStateError) Error() string {
	return fmt.Sprintf("%s is not materialized in the %s state", e.Table, e.State)
}

// SequenceNotFoundError reports a reference to an unknown sequence.
type SequenceNotFoundError struct {
	Sequence types.SequenceID
}

func (e *SequenceNotFoundError) Error() string {
	return fmt.Sprintf("%s does not exist", e.Sequence)
}

// SequenceAllocationError reports a failure to extend a sequence's window.
type SequenceAllocationError struct {
	Sequence types.SequenceID
	Err      error
}

func (e *SequenceAllocationError) Error() string {
	return fmt.Sprintf("unable to allocate values for %s: %v", e.Sequence, e.Err)
}

// SequenceNotIntegerError reports an auto-increment target of the wrong kind.
type SequenceNotIntegerError struct {
	Table types.TableID
	Col   types.ColID
	Kind  value.Kind
}

func (e *SequenceNotIntegerError) Error() string {
	return fmt.Sprintf("sequence target %s.%s is %s, not an integer", e.Table, e.Col, e.Kind)
}

// MultiColumnAutoIncError reports an auto-increment constraint spanning more
// than one column.
type MultiColumnAutoIncError struct {
	Table types.TableID
	Cols  types.ColList
}

func (e *MultiColumnAutoIncError) Error() string {
	return fmt.Sprintf("auto-increment on %s spans columns [%s]; sequences drive exactly one column", e.Table, e.Cols)
}

// InvalidOffsetError reports a commit log that does not start at the
// expected checkpoint. Always fatal: skipping transactions would silently
// reconstruct a wrong state.
type InvalidOffsetError struct {
	Expected uint64
	Got      uint64
}

func (e *InvalidOffsetError) Error() string {
	return fmt.Sprintf("commit log starts at offset %d, expected checkpoint %d", e.Got, e.Expected)
}

// ReplayDecodeError reports an undecodable commit-log record.
type ReplayDecodeError struct {
	Offset uint64
	Table  types.TableID
	Err    error
}

func (e *ReplayDecodeError) Error() string {
	return fmt.Sprintf("offset %d: cannot decode row for %s: %v", e.Offset, e.Table, e.Err)
}

// ReplayError wraps any other failure while folding the commit log.
type ReplayError struct {
	Offset uint64
	Err    error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay failed at offset %d: %v", e.Offset, e.Err)
}

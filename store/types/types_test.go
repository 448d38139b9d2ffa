package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColListCanonical(t *testing.T) {
	cl := NewColList(5, 2, 2, 0)
	assert.Equal(t, []ColID{0, 2, 5}, cl.Cols())
	assert.Equal(t, "0,2,5", cl.String())
	assert.True(t, cl.Equal(NewColList(0, 5, 2)))
	assert.False(t, cl.Equal(NewColList(0, 2)))
	assert.True(t, cl.Contains(2))
	assert.False(t, cl.Contains(3))

	single := NewColList(3)
	assert.True(t, single.IsSingle(3))
	assert.False(t, single.IsSingle(2))
	assert.False(t, cl.IsSingle(0))
}

func TestRowPointerPacking(t *testing.T) {
	p := NewRowPointer(CommittedStateOffset, 123456, 789)
	assert.Equal(t, CommittedStateOffset, p.SquashedOffset())
	assert.Equal(t, PageIndex(123456), p.Page())
	assert.Equal(t, PageSlot(789), p.Slot())

	q := p.WithSquashedOffset(TxStateOffset)
	assert.Equal(t, TxStateOffset, q.SquashedOffset())
	assert.Equal(t, p.Page(), q.Page())
	assert.Equal(t, p.Slot(), q.Slot())

	assert.True(t, p.IsValid())
	assert.False(t, InvalidRowPointer.IsValid())
}

func TestReservedTableIDs(t *testing.T) {
	assert.True(t, TableID(1).IsReserved())
	assert.True(t, TableID(ReservedIDRange).IsReserved())
	assert.False(t, TableID(ReservedIDRange+1).IsReserved())
}

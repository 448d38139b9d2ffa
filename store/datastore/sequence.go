package datastore

import (
	"github.com/keplerdb/kepler/store/table"
	"github.com/keplerdb/kepler/store/types"
	"github.com/pingcap/errors"
)

// SequenceAllocationStep is how many values a sequence pre-allocates per
// window extension. Only the window's high-water mark is durable, so a crash
// skips at most this many values per sequence.
const SequenceAllocationStep = 4096

// Sequence is one auto-increment allocator. value is the next value to hand
// out; allocated is the persisted high-water mark, the first value the
// sequence restarts from if memory is lost. When value catches up to
// allocated the window is exhausted and a new mark must be persisted before
// any further value leaves this sequence.
type Sequence struct {
	schema    table.SequenceSchema
	value     int64
	allocated int64
}

// NewSequence builds a sequence from its schema. previousAllocation, when
// non-nil, is the high-water mark read back from the sequence's catalog row.
func NewSequence(schema table.SequenceSchema, previousAllocation *int64) (*Sequence, error) {
	if schema.Start < schema.MinValue || schema.Start > schema.MaxValue {
		return nil, errors.Errorf("start %d out of bounds [%d, %d]", schema.Start, schema.MinValue, schema.MaxValue)
	}
	if schema.MaxValue <= schema.MinValue {
		return nil, errors.Errorf("max %d must exceed min %d", schema.MaxValue, schema.MinValue)
	}
	if schema.Increment == 0 {
		return nil, errors.New("increment must be non-zero")
	}
	start := schema.Start
	if previousAllocation != nil {
		prev := *previousAllocation
		switch {
		case prev >= schema.MinValue && prev <= schema.MaxValue:
			start = prev
		case prev == 0:
			// Older rows defaulted allocated to 0; fall back to start.
		default:
			return nil, errors.Errorf("previous allocation %d out of bounds [%d, %d]", prev, schema.MinValue, schema.MaxValue)
		}
	}
	return &Sequence{schema: schema, value: start, allocated: start}, nil
}

func (s *Sequence) ID() types.SequenceID         { return s.schema.SequenceID }
func (s *Sequence) Schema() table.SequenceSchema { return s.schema }
func (s *Sequence) Value() int64                 { return s.value }
func (s *Sequence) Allocated() int64             { return s.allocated }

// NeedsAllocation reports whether the window is exhausted. The allocated
// value itself is never handed out before a new mark is persisted: it is the
// value a restart would begin at, so handing it out early could duplicate it
// across a crash.
func (s *Sequence) NeedsAllocation() bool { return s.value == s.allocated }

// GenNextValue returns the next value iff no allocation is needed.
func (s *Sequence) GenNextValue() (int64, bool) {
	if s.NeedsAllocation() {
		return 0, false
	}
	v := s.value
	s.value = s.nthValue(1)
	return v, true
}

// AllocateSteps extends the window by up to steps values and returns the new
// high-water mark, which the caller must persist to the sequence's catalog
// row before handing out any value from the window.
func (s *Sequence) AllocateSteps(steps int) int64 {
	s.allocated = s.nthValue(steps)
	return s.allocated
}

func (s *Sequence) nthValue(n int) int64 {
	v := s.value
	for i := 0; i < n; i++ {
		v = nextInSequence(s.schema.MinValue, s.schema.MaxValue, s.schema.Increment, v)
	}
	return v
}

// nextInSequence steps value by increment, wrapping around [min, max].
func nextInSequence(min, max, increment, v int64) int64 {
	next := v + increment
	if increment > 0 {
		if next > max || next < v { // overflow counts as wrapping
			next = min + (next-max-1)%(max-min+1)
		}
	} else if next < min || next > v {
		next = max - (min-next-1)%(max-min+1)
	}
	return next
}

// SequencesState is the in-memory allocator set, one Sequence per live
// sequence. Guarded by the sequence lock of the owning datastore.
type SequencesState struct {
	sequences map[types.SequenceID]*Sequence
}

func NewSequencesState() *SequencesState {
	return &SequencesState{sequences: make(map[types.SequenceID]*Sequence)}
}

func (ss *SequencesState) Get(id types.SequenceID) *Sequence {
	return ss.sequences[id]
}

func (ss *SequencesState) Insert(s *Sequence) {
	ss.sequences[s.ID()] = s
}

func (ss *SequencesState) Remove(id types.SequenceID) *Sequence {
	s := ss.sequences[id]
	delete(ss.sequences, id)
	return s
}

func (ss *SequencesState) Len() int { return len(ss.sequences) }

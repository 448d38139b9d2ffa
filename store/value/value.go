package value

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pingcap/errors"
)

// Kind enumerates the column types the storage layer understands.
type Kind uint8

const (
	KindBool Kind = iota
	KindI64
	KindU64
	KindF64
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindI64:
		return "i64"
	case KindU64:
		return "u64"
	case KindF64:
		return "f64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsInteger reports whether columns of this kind can be driven by a sequence.
func (k Kind) IsInteger() bool { return k == KindI64 || k == KindU64 }

// Value is one column value. The zero Value is the boolean false; use the
// constructors.
type Value struct {
	kind Kind
	num  uint64
	str  string
	raw  []byte
}

func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

func I64(v int64) Value   { return Value{kind: KindI64, num: uint64(v)} }
func U64(v uint64) Value  { return Value{kind: KindU64, num: v} }
func F64(v float64) Value { return Value{kind: KindF64, num: math.Float64bits(v)} }
func String(s string) Value {
	return Value{kind: KindString, str: s}
}
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: b}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() bool     { return v.num != 0 }
func (v Value) AsI64() int64     { return int64(v.num) }
func (v Value) AsU64() uint64    { return v.num }
func (v Value) AsF64() float64   { return math.Float64frombits(v.num) }
func (v Value) AsString() string { return v.str }
func (v Value) AsBytes() []byte  { return v.raw }

// IsZero reports whether an integer value is the sequence trigger
// placeholder.
func (v Value) IsZero() bool {
	return v.kind.IsInteger() && v.num == 0
}

// SequenceValue builds a value of kind k holding the allocated raw.
func SequenceValue(k Kind, raw int64) (Value, error) {
	switch k {
	case KindI64:
		return I64(raw), nil
	case KindU64:
		return U64(uint64(raw)), nil
	}
	return Value{}, errors.Errorf("sequences cannot drive %s columns", k)
}

// RawSequenceValue extracts the integer payload of a sequence-driven column.
func (v Value) RawSequenceValue() (int64, error) {
	switch v.kind {
	case KindI64:
		return int64(v.num), nil
	case KindU64:
		return int64(v.num), nil
	}
	return 0, errors.Errorf("%s value is not sequence-driven", v.kind)
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindI64:
		return strconv.FormatInt(v.AsI64(), 10)
	case KindU64:
		return strconv.FormatUint(v.AsU64(), 10)
	case KindF64:
		return strconv.FormatFloat(v.AsF64(), 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindBytes:
		return fmt.Sprintf("%x", v.raw)
	}
	return "?"
}

// Row is one tuple of column values, positionally matching the table schema.
type Row []Value

// RowType is the positional list of column kinds a table stores.
type RowType []Kind

// TypeCheck verifies the row matches the row type.
func (r Row) TypeCheck(rt RowType) error {
	if len(r) != len(rt) {
		return errors.Errorf("row has %d columns, type wants %d", len(r), len(rt))
	}
	for i, v := range r {
		if v.Kind() != rt[i] {
			return errors.Errorf("column %d is %s, type wants %s", i, v.Kind(), rt[i])
		}
	}
	return nil
}

// Clone deep-copies the row, detaching any byte payloads.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for i, v := range r {
		if v.kind == KindBytes && v.raw != nil {
			cp := make([]byte, len(v.raw))
			copy(cp, v.raw)
			v.raw = cp
		}
		out[i] = v
	}
	return out
}

package types

import (
	"sort"
	"strconv"
	"strings"
)

// ColList is a non-empty, sorted, de-duplicated set of column positions.
// Index and constraint definitions key off its canonical form.
type ColList struct {
	cols []ColID
}

// NewColList builds a canonical ColList from cols in any order.
func NewColList(cols ...ColID) ColList {
	out := make([]ColID, 0, len(cols))
	out = append(out, cols...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	dedup := out[:0]
	for i, c := range out {
		if i == 0 || c != out[i-1] {
			dedup = append(dedup, c)
		}
	}
	return ColList{cols: dedup}
}

// ParseColList parses the canonical form produced by String.
func ParseColList(s string) (ColList, error) {
	if s == "" {
		return ColList{}, nil
	}
	parts := strings.Split(s, ",")
	cols := make([]ColID, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return ColList{}, err
		}
		cols = append(cols, ColID(n))
	}
	return NewColList(cols...), nil
}

// Cols returns the columns in ascending order. Callers must not mutate it.
func (cl ColList) Cols() []ColID { return cl.cols }

func (cl ColList) Len() int { return len(cl.cols) }

// Head returns the first column. Only meaningful for single-column lists
// such as sequence targets.
func (cl ColList) Head() ColID { return cl.cols[0] }

// IsSingle reports whether the list names exactly the one column ask.
func (cl ColList) IsSingle(ask ColID) bool {
	return len(cl.cols) == 1 && cl.cols[0] == ask
}

func (cl ColList) Contains(c ColID) bool {
	for _, x := range cl.cols {
		if x == c {
			return true
		}
	}
	return false
}

func (cl ColList) Equal(other ColList) bool {
	if len(cl.cols) != len(other.cols) {
		return false
	}
	for i, c := range cl.cols {
		if c != other.cols[i] {
			return false
		}
	}
	return true
}

// String renders the canonical form, e.g. "0,2,5". Stable across equal lists,
// so it doubles as a map key.
func (cl ColList) String() string {
	var sb strings.Builder
	for i, c := range cl.cols {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(c)))
	}
	return sb.String()
}

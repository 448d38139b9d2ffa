package value

import (
	"bytes"

	"github.com/keplerdb/kepler/store/codec"
	"github.com/pingcap/errors"
)

// Storage encoding. One row encodes to the concatenation of its column
// encodings, each order-preserving under bytewise comparison. Two rows are
// equal iff their encodings are byte-identical, which is what the set
// semantics of tables and the pointer map rely on.
//
// String/Bytes payloads at or above the blob threshold are externalized:
// the encoding carries a marker byte and the payload's content hash instead
// of the payload. Equal payloads hash equally, so the equality property
// survives externalization.

const (
	inlineMarker = byte(0)
	blobMarker   = byte(1)
)

// EncodeRow appends the storage encoding of r to dst. When bs is non-nil,
// externalized payloads are inserted into it; a nil bs computes the same
// bytes without touching any store, which is what equality lookups use.
func EncodeRow(dst []byte, r Row, bs BlobStore, blobThreshold int) []byte {
	for _, v := range r {
		dst = encodeValue(dst, v, bs, blobThreshold)
	}
	return dst
}

// EncodeKey appends the inline storage encoding of v to dst. Index keys
// never externalize, so ranges over them order by payload, not by hash.
func EncodeKey(dst []byte, v Value) []byte {
	return encodeValue(dst, v, nil, 0)
}

func encodeValue(dst []byte, v Value, bs BlobStore, blobThreshold int) []byte {
	switch v.kind {
	case KindBool:
		if v.num != 0 {
			return append(dst, 1)
		}
		return append(dst, 0)
	case KindI64:
		return codec.EncodeInt64(dst, int64(v.num))
	case KindU64:
		return codec.EncodeUint64(dst, v.num)
	case KindF64:
		return codec.EncodeFloat64(dst, v.AsF64())
	case KindString:
		return encodePayload(dst, []byte(v.str), bs, blobThreshold)
	case KindBytes:
		return encodePayload(dst, v.raw, bs, blobThreshold)
	}
	panic("unreachable kind")
}

func encodePayload(dst, data []byte, bs BlobStore, blobThreshold int) []byte {
	if blobThreshold > 0 && len(data) >= blobThreshold {
		h := HashBlob(data)
		if bs != nil {
			bs.Insert(h, data)
		}
		dst = append(dst, blobMarker)
		return append(dst, h[:]...)
	}
	dst = append(dst, inlineMarker)
	return codec.EncodeBytes(dst, data)
}

// DecodeRow decodes one storage-encoded row of type rt, resolving
// externalized payloads through bs.
func DecodeRow(b []byte, rt RowType, bs BlobStore) (Row, error) {
	row := make(Row, len(rt))
	var err error
	for i, k := range rt {
		row[i], b, err = decodeValue(b, k, bs)
		if err != nil {
			return nil, errors.Annotatef(err, "column %d", i)
		}
	}
	if len(b) != 0 {
		return nil, errors.Errorf("%d trailing bytes after row", len(b))
	}
	return row, nil
}

func decodeValue(b []byte, k Kind, bs BlobStore) (Value, []byte, error) {
	switch k {
	case KindBool:
		if len(b) < 1 {
			return Value{}, nil, errors.New("insufficient bytes to decode bool")
		}
		return Bool(b[0] != 0), b[1:], nil
	case KindI64:
		rest, v, err := codec.DecodeInt64(b)
		return I64(v), rest, errors.WithStack(err)
	case KindU64:
		rest, v, err := codec.DecodeUint64(b)
		return U64(v), rest, errors.WithStack(err)
	case KindF64:
		rest, v, err := codec.DecodeFloat64(b)
		return F64(v), rest, errors.WithStack(err)
	case KindString:
		data, rest, err := decodePayload(b, bs)
		return String(string(data)), rest, err
	case KindBytes:
		data, rest, err := decodePayload(b, bs)
		return Bytes(data), rest, err
	}
	return Value{}, nil, errors.Errorf("unknown kind %d", k)
}

func decodePayload(b []byte, bs BlobStore) ([]byte, []byte, error) {
	if len(b) < 1 {
		return nil, nil, errors.New("insufficient bytes to decode payload marker")
	}
	marker, b := b[0], b[1:]
	switch marker {
	case inlineMarker:
		rest, data, err := codec.DecodeBytes(b)
		return data, rest, errors.WithStack(err)
	case blobMarker:
		if len(b) < len(BlobHash{}) {
			return nil, nil, errors.New("insufficient bytes to decode blob hash")
		}
		var h BlobHash
		copy(h[:], b)
		if bs == nil {
			return nil, nil, errors.Errorf("blob %s referenced without a blob store", h)
		}
		data, ok := bs.Get(h)
		if !ok {
			return nil, nil, errors.Errorf("blob %s not found", h)
		}
		return data, b[len(h):], nil
	}
	return nil, nil, errors.Errorf("invalid payload marker %d", marker)
}

// FreeRowBlobs walks a storage-encoded row and drops one reference to every
// blob it points at. Called when the row leaves its table.
func FreeRowBlobs(b []byte, rt RowType, bs BlobStore) error {
	for i, k := range rt {
		var err error
		b, err = freeValueBlobs(b, k, bs)
		if err != nil {
			return errors.Annotatef(err, "column %d", i)
		}
	}
	return nil
}

func freeValueBlobs(b []byte, k Kind, bs BlobStore) ([]byte, error) {
	switch k {
	case KindString, KindBytes:
		if len(b) >= 1 && b[0] == blobMarker {
			var h BlobHash
			copy(h[:], b[1:])
			bs.Free(h)
			return b[1+len(h):], nil
		}
	}
	return skipValue(b, k)
}

func skipValue(b []byte, k Kind) ([]byte, error) {
	switch k {
	case KindBool:
		if len(b) < 1 {
			return nil, errors.New("insufficient bytes")
		}
		return b[1:], nil
	case KindI64, KindU64, KindF64:
		if len(b) < 8 {
			return nil, errors.New("insufficient bytes")
		}
		return b[8:], nil
	case KindString, KindBytes:
		_, b, err := decodeValue(b, KindBytes, discardBlobs{})
		return b, err
	}
	return nil, errors.Errorf("unknown kind %d", k)
}

// discardBlobs satisfies blob lookups during skips without holding payloads.
type discardBlobs struct{}

func (discardBlobs) Insert(BlobHash, []byte)     {}
func (discardBlobs) Get(BlobHash) ([]byte, bool) { return nil, true }
func (discardBlobs) Free(BlobHash) bool          { return false }

// Wire encoding. Self-contained given the row type: payloads are always
// inlined, never blob references, so a commit-log record can be decoded by
// any reader that knows the schema current at that point of the log. Not
// order-preserving; never used inside index keys.

// EncodeRowWire appends the wire encoding of r to dst.
func EncodeRowWire(dst []byte, r Row) []byte {
	for _, v := range r {
		switch v.kind {
		case KindBool:
			if v.num != 0 {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		case KindI64, KindU64, KindF64:
			dst = codec.EncodeUint64(dst, v.num)
		case KindString:
			dst = codec.EncodeUvarint(dst, uint64(len(v.str)))
			dst = append(dst, v.str...)
		case KindBytes:
			dst = codec.EncodeUvarint(dst, uint64(len(v.raw)))
			dst = append(dst, v.raw...)
		}
	}
	return dst
}

// DecodeRowWire decodes one wire-encoded row of type rt, returning the row
// and any leftover bytes.
func DecodeRowWire(b []byte, rt RowType) (Row, []byte, error) {
	row := make(Row, len(rt))
	for i, k := range rt {
		switch k {
		case KindBool:
			if len(b) < 1 {
				return nil, nil, errors.Errorf("column %d: insufficient bytes", i)
			}
			row[i], b = Bool(b[0] != 0), b[1:]
		case KindI64, KindU64, KindF64:
			rest, u, err := codec.DecodeUint64(b)
			if err != nil {
				return nil, nil, errors.Annotatef(err, "column %d", i)
			}
			row[i], b = Value{kind: k, num: u}, rest
		case KindString, KindBytes:
			rest, n, err := codec.DecodeUvarint(b)
			if err != nil {
				return nil, nil, errors.Annotatef(err, "column %d", i)
			}
			if uint64(len(rest)) < n {
				return nil, nil, errors.Errorf("column %d: payload truncated", i)
			}
			if k == KindString {
				row[i] = String(string(rest[:n]))
			} else {
				data := make([]byte, n)
				copy(data, rest[:n])
				row[i] = Bytes(data)
			}
			b = rest[n:]
		}
	}
	return row, b, nil
}

// RowsEqual reports whether two decoded rows encode identically.
func RowsEqual(a, b Row) bool {
	return bytes.Equal(EncodeRow(nil, a, nil, 0), EncodeRow(nil, b, nil, 0))
}

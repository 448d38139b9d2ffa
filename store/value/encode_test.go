package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type mapBlobStore struct {
	blobs map[BlobHash][]byte
}

func newMapBlobStore() *mapBlobStore {
	return &mapBlobStore{blobs: make(map[BlobHash][]byte)}
}

func (s *mapBlobStore) Insert(h BlobHash, data []byte) { s.blobs[h] = data }

func (s *mapBlobStore) Get(h BlobHash) ([]byte, bool) {
	d, ok := s.blobs[h]
	return d, ok
}

func (s *mapBlobStore) Free(h BlobHash) bool {
	_, ok := s.blobs[h]
	delete(s.blobs, h)
	return ok
}

func TestEncodeRowRoundTrip(t *testing.T) {
	rt := RowType{KindBool, KindI64, KindU64, KindF64, KindString, KindBytes}
	row := Row{Bool(true), I64(-7), U64(42), F64(3.5), String("hello"), Bytes([]byte{1, 2, 3})}

	bs := newMapBlobStore()
	enc := EncodeRow(nil, row, bs, 256)
	got, err := DecodeRow(enc, rt, bs)
	require.Nil(t, err)
	require.True(t, RowsEqual(row, got))
	// Everything under the threshold stays inline.
	require.Equal(t, 0, len(bs.blobs))
}

func TestEncodeRowExternalizesLargePayloads(t *testing.T) {
	big := make([]byte, 300)
	for i := range big {
		big[i] = byte(i)
	}
	rt := RowType{KindU64, KindBytes}
	row := Row{U64(1), Bytes(big)}

	bs := newMapBlobStore()
	enc := EncodeRow(nil, row, bs, 256)
	require.Equal(t, 1, len(bs.blobs))
	require.True(t, len(enc) < len(big))

	got, err := DecodeRow(enc, rt, bs)
	require.Nil(t, err)
	require.True(t, RowsEqual(row, got))

	require.Nil(t, FreeRowBlobs(enc, rt, bs))
	require.Equal(t, 0, len(bs.blobs))
}

func TestEncodeRowNilStoreSameBytes(t *testing.T) {
	// Lookups encode without a blob store; the bytes must match what a
	// storing encode at the same threshold produced, or FindRow would
	// never hit an externalized row.
	big := make([]byte, 1024)
	row := Row{String(string(big)), Bytes(big)}

	bs := newMapBlobStore()
	stored := EncodeRow(nil, row, bs, 256)
	lookup := EncodeRow(nil, row, nil, 256)
	require.Equal(t, stored, lookup)
}

func TestEncodeRowWireInlinesBlobs(t *testing.T) {
	big := make([]byte, 400)
	for i := range big {
		big[i] = byte(i * 3)
	}
	rt := RowType{KindU64, KindBytes}
	row := Row{U64(9), Bytes(big)}

	// Wire encoding is self-contained regardless of any threshold.
	wire := EncodeRowWire(nil, row)
	got, rest, err := DecodeRowWire(wire, rt)
	require.Nil(t, err)
	require.Equal(t, 0, len(rest))
	require.True(t, RowsEqual(row, got))
}

func TestDecodeRowMissingBlobFails(t *testing.T) {
	big := make([]byte, 300)
	rt := RowType{KindBytes}
	row := Row{Bytes(big)}

	bs := newMapBlobStore()
	enc := EncodeRow(nil, row, bs, 256)
	for h := range bs.blobs {
		delete(bs.blobs, h)
	}
	_, err := DecodeRow(enc, rt, bs)
	require.NotNil(t, err)
}

func TestRowTypeCheck(t *testing.T) {
	rt := RowType{KindU64, KindString}
	require.Nil(t, Row{U64(1), String("x")}.TypeCheck(rt))
	require.NotNil(t, Row{U64(1)}.TypeCheck(rt))
	require.NotNil(t, Row{String("x"), U64(1)}.TypeCheck(rt))
}

func TestSequenceValue(t *testing.T) {
	v, err := SequenceValue(KindI64, 5)
	require.Nil(t, err)
	require.Equal(t, int64(5), v.AsI64())

	v, err = SequenceValue(KindU64, 5)
	require.Nil(t, err)
	require.Equal(t, uint64(5), v.AsU64())

	_, err = SequenceValue(KindString, 5)
	require.NotNil(t, err)

	raw, err := v.RawSequenceValue()
	require.Nil(t, err)
	require.Equal(t, int64(5), raw)
}

func TestValueIsZero(t *testing.T) {
	require.True(t, I64(0).IsZero())
	require.True(t, U64(0).IsZero())
	require.False(t, I64(1).IsZero())
	require.False(t, String("").IsZero())
}

package codec

import (
	"encoding/binary"
	"math"

	"github.com/pingcap/errors"
)

const (
	signMask uint64 = 0x8000000000000000

	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)
)

var pads = make([]byte, encGroupSize)

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//
//	[group1][marker1]...[groupN][markerN]
//	group is 8 bytes slice which is padding with 0.
//	marker is `0xFF - padding 0 count`
//
// For example:
//
//	[] -> [0, 0, 0, 0, 0, 0, 0, 0, 247]
//	[1, 2, 3] -> [1, 2, 3, 0, 0, 0, 0, 0, 250]
//	[1, 2, 3, 0] -> [1, 2, 3, 0, 0, 0, 0, 0, 251]
//	[1, 2, 3, 4, 5, 6, 7, 8] -> [1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247]
//
// Refer: https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format
func EncodeBytes(dst, data []byte) []byte {
	dLen := len(data)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			dst = append(dst, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			dst = append(dst, data[idx:]...)
			dst = append(dst, pads[:padCount]...)
		}

		marker := encMarker - byte(padCount)
		dst = append(dst, marker)
	}
	return dst
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.New("insufficient bytes to decode value")
		}

		groupBytes := b[:encGroupSize+1]

		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			// Check validity of padding bytes.
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}

// EncodeUint64 appends u in big-endian form, which sorts unsigned values
// in their natural order.
func EncodeUint64(dst []byte, u uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return append(dst, buf[:]...)
}

// DecodeUint64 consumes a value written by EncodeUint64.
func DecodeUint64(b []byte) ([]byte, uint64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode uint64")
	}
	return b[8:], binary.BigEndian.Uint64(b[:8]), nil
}

// EncodeInt64 flips the sign bit and appends the result big-endian, so the
// byte order of the encoding matches the numeric order of the values.
func EncodeInt64(dst []byte, v int64) []byte {
	return EncodeUint64(dst, uint64(v)^signMask)
}

// DecodeInt64 consumes a value written by EncodeInt64.
func DecodeInt64(b []byte) ([]byte, int64, error) {
	rest, u, err := DecodeUint64(b)
	if err != nil {
		return nil, 0, err
	}
	return rest, int64(u ^ signMask), nil
}

// EncodeFloat64 maps f onto a uint64 whose big-endian bytes sort in the
// numeric order of the floats. Positive floats flip just the sign bit,
// negative floats flip every bit.
func EncodeFloat64(dst []byte, f float64) []byte {
	u := math.Float64bits(f)
	if u&signMask > 0 {
		u = ^u
	} else {
		u ^= signMask
	}
	return EncodeUint64(dst, u)
}

// DecodeFloat64 consumes a value written by EncodeFloat64.
func DecodeFloat64(b []byte) ([]byte, float64, error) {
	rest, u, err := DecodeUint64(b)
	if err != nil {
		return nil, 0, err
	}
	if u&signMask > 0 {
		u ^= signMask
	} else {
		u = ^u
	}
	return rest, math.Float64frombits(u), nil
}

// EncodeUvarint appends u in varint form. Not order preserving; used for
// lengths and counts on the wire, never inside index keys.
func EncodeUvarint(dst []byte, u uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	return append(dst, buf[:n]...)
}

// DecodeUvarint consumes a value written by EncodeUvarint.
func DecodeUvarint(b []byte) ([]byte, uint64, error) {
	u, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, 0, errors.New("insufficient bytes to decode uvarint")
	}
	return b[n:], u, nil
}

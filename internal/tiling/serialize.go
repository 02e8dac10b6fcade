package tiling

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DataAlignment is the required size granularity of tiling data. The device
// reads the blob as an array of 8-byte words.
const DataAlignment = 8

// ByteOrder is the byte order of serialized tiling data.
var ByteOrder = binary.LittleEndian

// DataSize returns the encoded size of a tiling data value. The value (or the
// struct it points to) must consist of fixed-size fields only, and its size
// must be a multiple of DataAlignment.
func DataSize(data any) (int, error) {
	if data == nil {
		return 0, errors.Wrap(ErrInvalidPlan, "nil tiling data")
	}
	size := binary.Size(data)
	if size < 0 {
		return 0, errors.Wrapf(ErrInvalidPlan, "tiling data %T is not fixed-size", data)
	}
	if size%DataAlignment != 0 {
		return 0, errors.Wrapf(ErrSerializationOverflow,
			"tiling data %T is %d bytes, not a multiple of %d", data, size, DataAlignment)
	}
	return size, nil
}

// Encode writes data into raw and sets raw's size. The size and alignment
// checks happen before anything is written; on failure raw is untouched.
func Encode(data any, raw *RawTilingData) error {
	if raw == nil {
		return errors.Wrap(ErrSerializationOverflow, "no output region")
	}
	size, err := DataSize(data)
	if err != nil {
		return err
	}
	if size > raw.Capacity() {
		return errors.Wrapf(ErrSerializationOverflow,
			"tiling data %T needs %d bytes, capacity is %d", data, size, raw.Capacity())
	}

	encoded, err := binary.Append(make([]byte, 0, size), ByteOrder, data)
	if err != nil {
		return errors.Wrapf(ErrInvalidPlan, "encode %T: %v", data, err)
	}
	copy(raw.buf, encoded)
	raw.size = size
	return nil
}

// Decode reads tiling data from b into data, which must be a pointer to a
// value of the template's layout type. It is the exact inverse of Encode.
func Decode(b []byte, data any) error {
	size, err := DataSize(data)
	if err != nil {
		return err
	}
	if len(b) != size {
		return errors.Errorf("decode %T: have %d bytes, want %d", data, len(b), size)
	}
	if _, err := binary.Decode(b, ByteOrder, data); err != nil {
		return errors.Wrapf(err, "decode %T", data)
	}
	return nil
}

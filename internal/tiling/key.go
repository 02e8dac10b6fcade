package tiling

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/born-ml/optiling/internal/tensor"
)

// Axis is one orthogonal field of a tiling key. Values range over [0, Limit).
type Axis struct {
	Name  string
	Limit uint64
}

// KeyLayout packs axis values into a tiling key and unpacks them again. Each
// axis owns a disjoint fixed-width slot; Decode is the exact inverse of Encode.
//
// A layout is part of the contract with a compiled kernel binary and must not
// change once released.
type KeyLayout interface {
	Axes() []Axis
	Encode(values ...uint64) (uint64, error)
	Decode(key uint64) ([]uint64, error)
}

// Flag converts a boolean axis value.
func Flag(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// DTypeBranch returns the dtype axis value of a floating point type:
// 0 for float32, 1 for float16, 2 for bfloat16.
func DTypeBranch(dt tensor.DataType) (uint64, error) {
	switch dt {
	case tensor.Float32:
		return 0, nil
	case tensor.Float16:
		return 1, nil
	case tensor.BFloat16:
		return 2, nil
	default:
		return 0, Invalidf("unsupported data type %s", dt)
	}
}

func checkValues(axes []Axis, values []uint64) error {
	if len(values) != len(axes) {
		return errors.Wrapf(ErrInvalidKey, "got %d values for %d axes", len(values), len(axes))
	}
	for i, v := range values {
		if v >= axes[i].Limit {
			return errors.Wrapf(ErrInvalidKey, "axis %q: value %d out of range [0, %d)", axes[i].Name, v, axes[i].Limit)
		}
	}
	return nil
}

func checkAxes(axes []Axis) error {
	if len(axes) == 0 {
		return errors.Wrap(ErrInvalidKey, "layout has no axes")
	}
	for _, a := range axes {
		if a.Limit == 0 {
			return errors.Wrapf(ErrInvalidKey, "axis %q has zero limit", a.Name)
		}
	}
	return nil
}

// DecimalKey places each axis in its own run of decimal digits above a base:
//
//	key = base + ... + dtype*10 + platform
//
// Axes are listed most significant first.
type DecimalKey struct {
	base  uint64
	axes  []Axis
	mults []uint64
	span  uint64
}

// NewDecimalKey builds a decimal layout. The base must be a multiple of the
// digit span of all axes so that it never overlaps an axis slot.
func NewDecimalKey(base uint64, axes ...Axis) (*DecimalKey, error) {
	if err := checkAxes(axes); err != nil {
		return nil, err
	}
	k := &DecimalKey{base: base, axes: axes, mults: make([]uint64, len(axes))}
	mult := uint64(1)
	for i := len(axes) - 1; i >= 0; i-- {
		k.mults[i] = mult
		width := decimalWidth(axes[i].Limit - 1)
		for range width {
			if mult > math.MaxUint64/10 {
				return nil, errors.Wrap(ErrInvalidKey, "decimal layout exceeds 64 bits")
			}
			mult *= 10
		}
	}
	k.span = mult
	if base%k.span != 0 {
		return nil, errors.Wrapf(ErrInvalidKey, "base %d overlaps axis digits (span %d)", base, k.span)
	}
	if base > math.MaxUint64-k.span {
		return nil, errors.Wrap(ErrInvalidKey, "decimal layout exceeds 64 bits")
	}
	return k, nil
}

// MustDecimalKey is NewDecimalKey that panics on error.
func MustDecimalKey(base uint64, axes ...Axis) *DecimalKey {
	k, err := NewDecimalKey(base, axes...)
	if err != nil {
		panic(err)
	}
	return k
}

func decimalWidth(v uint64) int {
	w := 1
	for v >= 10 {
		v /= 10
		w++
	}
	return w
}

// Axes returns the axes, most significant first.
func (k *DecimalKey) Axes() []Axis { return k.axes }

// Base returns the constant added to every key.
func (k *DecimalKey) Base() uint64 { return k.base }

// Encode packs values, one per axis.
func (k *DecimalKey) Encode(values ...uint64) (uint64, error) {
	if err := checkValues(k.axes, values); err != nil {
		return 0, err
	}
	key := k.base
	for i, v := range values {
		key += v * k.mults[i]
	}
	return key, nil
}

// Decode unpacks a key produced by Encode.
func (k *DecimalKey) Decode(key uint64) ([]uint64, error) {
	if key < k.base || key-k.base >= k.span {
		return nil, errors.Wrapf(ErrInvalidKey, "key %d outside layout [%d, %d)", key, k.base, k.base+k.span)
	}
	rest := key - k.base
	values := make([]uint64, len(k.axes))
	for i := range k.axes {
		values[i] = rest / k.mults[i]
		rest %= k.mults[i]
	}
	if err := checkValues(k.axes, values); err != nil {
		return nil, err
	}
	return values, nil
}

// BitKey places each axis in its own bit field above a base:
//
//	key = base | dtype<<2 | platform<<1 | broadcast
//
// Axes are listed most significant first.
type BitKey struct {
	base   uint64
	axes   []Axis
	shifts []uint
	total  uint
}

// NewBitKey builds a bit-field layout. The base must have no bits inside the
// axis fields.
func NewBitKey(base uint64, axes ...Axis) (*BitKey, error) {
	if err := checkAxes(axes); err != nil {
		return nil, err
	}
	k := &BitKey{base: base, axes: axes, shifts: make([]uint, len(axes))}
	var shift uint
	for i := len(axes) - 1; i >= 0; i-- {
		k.shifts[i] = shift
		shift += uint(max(bits.Len64(axes[i].Limit-1), 1))
	}
	if shift > 64 {
		return nil, errors.Wrapf(ErrInvalidKey, "bit layout needs %d bits", shift)
	}
	k.total = shift
	if shift < 64 && base&(1<<shift-1) != 0 {
		return nil, errors.Wrapf(ErrInvalidKey, "base %#x overlaps the low %d axis bits", base, shift)
	}
	if shift == 64 && base != 0 {
		return nil, errors.Wrap(ErrInvalidKey, "base overlaps a full-width layout")
	}
	return k, nil
}

// MustBitKey is NewBitKey that panics on error.
func MustBitKey(base uint64, axes ...Axis) *BitKey {
	k, err := NewBitKey(base, axes...)
	if err != nil {
		panic(err)
	}
	return k
}

// Axes returns the axes, most significant first.
func (k *BitKey) Axes() []Axis { return k.axes }

// Encode packs values, one per axis.
func (k *BitKey) Encode(values ...uint64) (uint64, error) {
	if err := checkValues(k.axes, values); err != nil {
		return 0, err
	}
	key := k.base
	for i, v := range values {
		key |= v << k.shifts[i]
	}
	return key, nil
}

// Decode unpacks a key produced by Encode.
func (k *BitKey) Decode(key uint64) ([]uint64, error) {
	var low uint64
	if k.total < 64 {
		low = key & (1<<k.total - 1)
	} else {
		low = key
	}
	if key^low != k.base {
		return nil, errors.Wrapf(ErrInvalidKey, "key %#x does not carry base %#x", key, k.base)
	}
	values := make([]uint64, len(k.axes))
	for i := range k.axes {
		width := uint(max(bits.Len64(k.axes[i].Limit-1), 1))
		values[i] = (low >> k.shifts[i]) & (1<<width - 1)
	}
	if err := checkValues(k.axes, values); err != nil {
		return nil, err
	}
	return values, nil
}

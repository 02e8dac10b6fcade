package tensor

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxBytes bounds the storage of one tensor to a 48-bit device address space.
const MaxBytes int64 = 1 << 48

// Shape represents the dimensions of a tensor.
type Shape []int64

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// NumElements returns the total number of elements in the tensor. The result
// is only meaningful for shapes that pass Validate.
func (s Shape) NumElements() int64 {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := int64(1)
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid: all dimensions > 0 and an element
// count that fits in int64.
func (s Shape) Validate() error {
	n := uint64(1)
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
		hi, lo := bits.Mul64(n, uint64(dim))
		if hi != 0 || lo > math.MaxInt64 {
			return fmt.Errorf("shape %v: element count overflows int64", s)
		}
		n = lo
	}
	return nil
}

// ValidateSize checks s and that a tensor of s with elemSize-byte elements
// fits in MaxBytes.
func (s Shape) ValidateSize(elemSize int) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if elemSize <= 0 {
		return fmt.Errorf("invalid element size %d", elemSize)
	}
	if n := s.NumElements(); n > MaxBytes/int64(elemSize) {
		return fmt.Errorf("shape %v: %d elements of %d bytes exceed %d bytes", s, n, elemSize, MaxBytes)
	}
	return nil
}

// Dim returns dimension i. Negative indices count from the end.
func (s Shape) Dim(i int) int64 {
	if i < 0 {
		i += len(s)
	}
	return s[i]
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Fold collapses the shape around axis into (before, dim, after), where
// before is the product of the leading dimensions and after the product of the
// trailing ones. Negative axes count from the end.
//
//	(2, 3, 4, 5).Fold(-1) → 24, 5, 1
//	(2, 3, 4, 5).Fold(1)  → 2, 3, 20
func (s Shape) Fold(axis int) (before, dim, after int64, err error) {
	if axis < 0 {
		axis += len(s)
	}
	if axis < 0 || axis >= len(s) {
		return 0, 0, 0, fmt.Errorf("axis %d out of range for rank %d", axis, len(s))
	}
	before, after = 1, 1
	for i := 0; i < axis; i++ {
		before *= s[i]
	}
	for i := axis + 1; i < len(s); i++ {
		after *= s[i]
	}
	return before, s[axis], after, nil
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal, OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// Returns the broadcasted shape, a flag indicating if broadcasting is needed, and an error if incompatible.
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5), true, nil
//	(3, 5) + (3, 5) → (3, 5), false, nil
//	(3, 4) + (3, 5) → nil, false, Error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)
	needsBroadcast := len(a) != len(b)

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := int64(1)
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := int64(1)
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == 1:
			result[maxLen-1-i] = bDim
			needsBroadcast = true
		case bDim == 1:
			result[maxLen-1-i] = aDim
			needsBroadcast = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, needsBroadcast, nil
}

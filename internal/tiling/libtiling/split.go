// Package libtiling holds library-level sub-tiling solvers shared by
// operator templates: core splitting, reduction blocking and matmul blocking.
package libtiling

import "github.com/pkg/errors"

// CeilDiv returns a/b rounded up. b must be positive.
func CeilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// AlignUp rounds v up to a multiple of align.
func AlignUp(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	return CeilDiv(v, align) * align
}

// AlignDown rounds v down to a multiple of align.
func AlignDown(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	return v / align * align
}

// Split describes how total units are spread across cores.
type Split struct {
	UsedCores int64
	PerCore   int64 // units on every core but the last
	Tail      int64 // units on the last core
}

// SplitCores spreads total units over at most cores cores, keeping every
// per-core count except the last a multiple of align.
//
//	SplitCores(1000, 8, 16) → {UsedCores: 8, PerCore: 128, Tail: 104}
//	SplitCores(10, 8, 16)   → {UsedCores: 1, PerCore: 16, Tail: 10}
func SplitCores(total, cores, align int64) (Split, error) {
	if total <= 0 || cores <= 0 {
		return Split{}, errors.Errorf("split %d units over %d cores", total, cores)
	}
	align = max(align, 1)
	perCore := AlignUp(CeilDiv(total, cores), align)
	used := CeilDiv(total, perCore)
	return Split{
		UsedCores: used,
		PerCore:   perCore,
		Tail:      total - (used-1)*perCore,
	}, nil
}

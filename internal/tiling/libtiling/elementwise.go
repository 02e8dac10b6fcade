package libtiling

import "github.com/pkg/errors"

// ElementwiseParams describes a flat elementwise pass.
type ElementwiseParams struct {
	Total        int64 // elements
	Cores        int64
	Scratch      int64 // bytes per core
	BytesPerElem int64 // scratch bytes one element occupies across all live buffers
	AlignElems   int64 // per-core and per-iteration element granularity
}

// ElementwiseTiling is the core split plus the per-iteration block.
type ElementwiseTiling struct {
	Split
	UbFactor  int64 // elements per iteration
	Loops     int64 // iterations on a full core
	TailLoops int64 // iterations on the last core
}

// SolveElementwise splits total elements over cores and sizes the largest
// aligned per-iteration block that fits scratch.
func SolveElementwise(p ElementwiseParams) (ElementwiseTiling, error) {
	if p.BytesPerElem <= 0 {
		return ElementwiseTiling{}, errors.Errorf("invalid elementwise params %+v", p)
	}
	align := max(p.AlignElems, 1)
	split, err := SplitCores(p.Total, p.Cores, align)
	if err != nil {
		return ElementwiseTiling{}, err
	}
	ub := AlignDown(p.Scratch/p.BytesPerElem, align)
	if ub <= 0 {
		return ElementwiseTiling{}, errors.Errorf("scratch %d holds no aligned block of %d elements", p.Scratch, align)
	}
	ub = min(ub, split.PerCore)
	return ElementwiseTiling{
		Split:     split,
		UbFactor:  ub,
		Loops:     CeilDiv(split.PerCore, ub),
		TailLoops: CeilDiv(split.Tail, ub),
	}, nil
}

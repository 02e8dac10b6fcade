package libtiling

import "github.com/pkg/errors"

// ReduceParams describes one row reduction to be blocked through scratch.
type ReduceParams struct {
	Length   int64 // elements reduced per row
	ElemSize int64
	Scratch  int64 // bytes available per core
	Buffers  int64 // live buffers of Factor elements (input copies, accumulators)
	Align    int64 // block alignment in bytes
}

// ReduceTiling is the blocking of one row.
type ReduceTiling struct {
	Factor int64 // elements per iteration
	Loops  int64 // full iterations
	Tail   int64 // elements in the final partial iteration, 0 if none
}

// SolveReduce picks the largest aligned per-iteration block that fits scratch.
func SolveReduce(p ReduceParams) (ReduceTiling, error) {
	if p.Length <= 0 || p.ElemSize <= 0 || p.Buffers <= 0 {
		return ReduceTiling{}, errors.Errorf("invalid reduce params %+v", p)
	}
	alignElems := max(p.Align/p.ElemSize, 1)
	factor := AlignDown(p.Scratch/(p.Buffers*p.ElemSize), alignElems)
	if factor <= 0 {
		return ReduceTiling{}, errors.Errorf("scratch %d too small for %d buffers of %d-byte elements",
			p.Scratch, p.Buffers, p.ElemSize)
	}
	factor = min(factor, AlignUp(p.Length, alignElems))
	return ReduceTiling{
		Factor: factor,
		Loops:  p.Length / factor,
		Tail:   p.Length % factor,
	}, nil
}

package libtiling

import "github.com/pkg/errors"

// fractal is the matrix block granularity of the cube unit.
const fractal = 16

// MatmulParams describes C[M,N] = A[M,K] x B[K,N].
type MatmulParams struct {
	M, N, K  int64
	ElemSize int64 // A and B element size
	OutSize  int64 // C element size
	Cores    int64
	Scratch  int64 // bytes per core for A, B and C tiles
}

// MatmulTiling is the core split and base block of a matmul.
type MatmulTiling struct {
	BaseM, BaseN, BaseK int64
	SingleCoreM         int64
	SingleCoreN         int64
	CoresM, CoresN      int64
	StepK               int64 // K iterations per core
	DoubleBuffer        bool
}

// UsedCores returns the number of cores the tiling occupies.
func (t MatmulTiling) UsedCores() int64 {
	return t.CoresM * t.CoresN
}

// baseCandidates are tried in order; larger, squarer blocks reuse more.
var baseCandidates = [][2]int64{
	{256, 128}, {128, 256}, {128, 128}, {64, 128}, {128, 64}, {64, 64}, {32, 32}, {16, 16},
}

var baseKCandidates = []int64{256, 128, 64, 32, 16}

// SolveMatmul picks base blocks that fit scratch and splits the output
// blocks across cores.
func SolveMatmul(p MatmulParams) (MatmulTiling, error) {
	if p.M <= 0 || p.N <= 0 || p.K <= 0 || p.ElemSize <= 0 || p.OutSize <= 0 || p.Cores <= 0 {
		return MatmulTiling{}, errors.Errorf("invalid matmul params %+v", p)
	}
	alignedM := AlignUp(p.M, fractal)
	alignedN := AlignUp(p.N, fractal)
	alignedK := AlignUp(p.K, fractal)

	var t MatmulTiling
	found := false
search:
	for _, c := range baseCandidates {
		baseM, baseN := min(c[0], alignedM), min(c[1], alignedN)
		for _, k := range baseKCandidates {
			baseK := min(k, alignedK)
			for _, db := range []bool{true, false} {
				if footprint(baseM, baseN, baseK, p.ElemSize, p.OutSize, db) <= p.Scratch {
					t = MatmulTiling{BaseM: baseM, BaseN: baseN, BaseK: baseK, DoubleBuffer: db}
					found = true
					break search
				}
			}
		}
	}
	if !found {
		return MatmulTiling{}, errors.Errorf("scratch %d too small for a %dx%d block", p.Scratch, fractal, fractal)
	}

	blocksM := CeilDiv(p.M, t.BaseM)
	blocksN := CeilDiv(p.N, t.BaseN)
	t.CoresM, t.CoresN = splitGrid(blocksM, blocksN, p.Cores)
	t.SingleCoreM = CeilDiv(blocksM, t.CoresM) * t.BaseM
	t.SingleCoreN = CeilDiv(blocksN, t.CoresN) * t.BaseN
	t.StepK = CeilDiv(p.K, t.BaseK)
	return t, nil
}

func footprint(m, n, k, elem, out int64, doubleBuffer bool) int64 {
	in := (m*k + k*n) * elem
	if doubleBuffer {
		in *= 2
	}
	return in + m*n*out
}

// splitGrid chooses coresM x coresN <= cores covering the most cores, then
// preferring the split with the least imbalance between the two axes.
func splitGrid(blocksM, blocksN, cores int64) (int64, int64) {
	bestM, bestN := int64(1), int64(1)
	bestUsed, bestSkew := int64(1), int64(-1)
	for cm := int64(1); cm <= min(cores, blocksM); cm++ {
		cn := min(cores/cm, blocksN)
		used := cm * cn
		skew := abs(CeilDiv(blocksM, cm) - CeilDiv(blocksN, cn))
		if used > bestUsed || (used == bestUsed && (bestSkew < 0 || skew < bestSkew)) {
			bestM, bestN, bestUsed, bestSkew = cm, cn, used, skew
		}
	}
	return bestM, bestN
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

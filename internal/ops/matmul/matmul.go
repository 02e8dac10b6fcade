// Package matmul plans MatMul, C[M,N] = A[M,K] x B[K,N] with optional bias.
//
// FullLoadB keeps all of B resident on every core and splits rows of A.
// Split blocks both operands through scratch and, when the output grid is too
// small to fill the cores, splits K across cores with partial sums in
// workspace.
package matmul

import (
	"math/bits"

	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
	"github.com/born-ml/optiling/internal/tiling/libtiling"
)

// OpType is the operator type the templates register under.
const OpType = "MatMul"

const (
	fractal = 16
	// Accumulators are float32 regardless of input type.
	accSize = 4
)

// Template axis values.
const (
	templateFullLoadB uint64 = iota
	templateSplit
)

// KeyLayout is the tiling key layout shared by both templates.
var KeyLayout = tiling.MustDecimalKey(10000,
	tiling.Axis{Name: "template", Limit: 2},
	tiling.Axis{Name: "dtype", Limit: 3},
	tiling.Axis{Name: "platform", Limit: 2},
	tiling.Axis{Name: "split_k", Limit: 2},
)

type shapeInfo struct {
	m, n, k  int64
	transA   bool
	transB   bool
	hasBias  bool
	dtype    tensor.DataType
	branch   uint64
	elemSize int64
}

func dims(s tensor.Shape, transpose bool) (rows, cols int64) {
	if transpose {
		return s[1], s[0]
	}
	return s[0], s[1]
}

func analyze(req *tiling.Request, _ *compileinfo.Info) (any, error) {
	if len(req.Inputs) != 2 && len(req.Inputs) != 3 {
		return nil, tiling.Invalidf("%s expects 2 or 3 inputs, got %d", OpType, len(req.Inputs))
	}
	a, b := req.Inputs[0], req.Inputs[1]
	if a.Shape.Rank() != 2 || b.Shape.Rank() != 2 {
		return nil, tiling.Invalidf("%s expects rank-2 operands, got %v and %v", OpType, a.Shape, b.Shape)
	}
	if a.DType != b.DType {
		return nil, tiling.Invalidf("%s: operand dtypes differ: %s vs %s", OpType, a.DType, b.DType)
	}
	branch, err := tiling.DTypeBranch(a.DType)
	if err != nil {
		return nil, err
	}

	s := &shapeInfo{
		transA:   req.Attrs.Bool("transpose_a", false),
		transB:   req.Attrs.Bool("transpose_b", false),
		dtype:    a.DType,
		branch:   branch,
		elemSize: int64(a.DType.Size()),
	}
	var kb int64
	s.m, s.k = dims(a.Shape, s.transA)
	kb, s.n = dims(b.Shape, s.transB)
	if s.k != kb {
		return nil, tiling.Invalidf("%s: inner dimensions differ: %d vs %d", OpType, s.k, kb)
	}
	if err := (tensor.Shape{s.m, s.n}).ValidateSize(tensor.Float32.Size()); err != nil {
		return nil, tiling.Invalidf("%s: output %v", OpType, err)
	}

	if len(req.Inputs) == 3 {
		bias := req.Inputs[2]
		if bias.Shape.Rank() != 1 || bias.Shape[0] != s.n {
			return nil, tiling.Invalidf("%s: bias shape %v does not match N=%d", OpType, bias.Shape, s.n)
		}
		if bias.DType != a.DType && bias.DType != tensor.Float32 {
			return nil, tiling.Invalidf("%s: unsupported bias dtype %s", OpType, bias.DType)
		}
		s.hasBias = true
	}
	return s, nil
}

func inferShape(in []tensor.Shape, attrs tiling.Attrs) ([]tensor.Shape, error) {
	if len(in) < 2 || in[0].Rank() != 2 || in[1].Rank() != 2 {
		return nil, tiling.Invalidf("%s expects two rank-2 operands", OpType)
	}
	m, _ := dims(in[0], attrs.Bool("transpose_a", false))
	_, n := dims(in[1], attrs.Bool("transpose_b", false))
	return []tensor.Shape{{m, n}}, nil
}

func inferDataType(in []tensor.DataType, _ tiling.Attrs) ([]tensor.DataType, error) {
	if len(in) < 2 {
		return nil, tiling.Invalidf("%s expects at least 2 inputs, got %d", OpType, len(in))
	}
	return []tensor.DataType{in[0]}, nil
}

// Register adds MatMul and its templates to r.
func Register(r *tiling.Registry) error {
	if err := r.RegisterOp(tiling.OpDef{
		Type:          OpType,
		Analyze:       analyze,
		InferShape:    inferShape,
		InferDataType: inferDataType,
	}); err != nil {
		return err
	}
	if err := r.Register(OpType, FullLoadB{}, 100); err != nil {
		return err
	}
	return r.Register(OpType, Split{}, 50)
}

// Header is the problem description both layouts start with.
type Header struct {
	M, N, K int64
	TransA  int64
	TransB  int64
	HasBias int64
}

func header(s *shapeInfo) Header {
	return Header{
		M:       s.m,
		N:       s.n,
		K:       s.k,
		TransA:  int64(tiling.Flag(s.transA)),
		TransB:  int64(tiling.Flag(s.transB)),
		HasBias: int64(tiling.Flag(s.hasBias)),
	}
}

// FullLoadTilingData is the layout of FullLoadB.
type FullLoadTilingData struct {
	Header
	UsedCores int64
	PerCoreM  int64
	TailCoreM int64
	BaseM     int64
}

// FullLoadB loads B once per core and streams rows of A.
type FullLoadB struct{}

// Name implements tiling.Template.
func (FullLoadB) Name() string { return "FullLoadB" }

// Layout implements tiling.Template.
func (FullLoadB) Layout() any { return FullLoadTilingData{} }

// Probe accepts when B fits in half of scratch and the other half holds at
// least one double-buffered fractal of A rows plus its output rows.
func (FullLoadB) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	s := ctx.Derived.(*shapeInfo)
	half := int64(ctx.Info.UsableScratch(0) / 2)
	alignedK := libtiling.AlignUp(s.k, fractal)
	alignedN := libtiling.AlignUp(s.n, fractal)
	if alignedK*alignedN*s.elemSize > half {
		return nil, false, nil
	}
	rowBytes := 2*alignedK*s.elemSize + alignedN*accSize
	baseM := libtiling.AlignDown(half/rowBytes, fractal)
	if baseM <= 0 {
		return nil, false, nil
	}
	return &fullLoadPlan{shape: s, maxBaseM: baseM}, true, nil
}

type fullLoadPlan struct {
	tiling.BasePlan
	shape    *shapeInfo
	maxBaseM int64
	data     FullLoadTilingData
}

func (p *fullLoadPlan) OpTiling(ctx *tiling.Context) error {
	split, err := libtiling.SplitCores(p.shape.m, int64(ctx.Info.CoreCount), fractal)
	if err != nil {
		return tiling.PlanErrorf("%v", err)
	}
	p.data = FullLoadTilingData{
		Header:    header(p.shape),
		UsedCores: split.UsedCores,
		PerCoreM:  split.PerCore,
		TailCoreM: split.Tail,
		BaseM:     min(p.maxBaseM, split.PerCore),
	}
	return nil
}

func (p *fullLoadPlan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return KeyLayout.Encode(templateFullLoadB, p.shape.branch, ctx.Info.ChipRevision.Branch(), 0)
}

func (p *fullLoadPlan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *fullLoadPlan) Data() any        { return p.data }

// SplitTilingData is the layout of Split.
type SplitTilingData struct {
	Header
	BaseM        int64
	BaseN        int64
	BaseK        int64
	SingleCoreM  int64
	SingleCoreN  int64
	SingleCoreK  int64
	CoresM       int64
	CoresN       int64
	SplitK       int64
	StepK        int64
	DoubleBuffer int64
}

// Split blocks A, B and C through scratch.
type Split struct{}

// Name implements tiling.Template.
func (Split) Name() string { return "Split" }

// Layout implements tiling.Template.
func (Split) Layout() any { return SplitTilingData{} }

// Probe always accepts.
func (Split) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	return &splitPlan{shape: ctx.Derived.(*shapeInfo)}, true, nil
}

type splitPlan struct {
	tiling.BasePlan
	shape *shapeInfo
	data  SplitTilingData
}

func (p *splitPlan) OpTiling(*tiling.Context) error {
	p.data.Header = header(p.shape)
	return nil
}

func (p *splitPlan) LibTiling(ctx *tiling.Context) error {
	cores := int64(ctx.Info.CoreCount)
	t, err := libtiling.SolveMatmul(libtiling.MatmulParams{
		M:        p.shape.m,
		N:        p.shape.n,
		K:        p.shape.k,
		ElemSize: p.shape.elemSize,
		OutSize:  accSize,
		Cores:    cores,
		Scratch:  int64(ctx.Info.UsableScratch(0)),
	})
	if err != nil {
		return tiling.PlanErrorf("%v", err)
	}

	splitK := int64(1)
	if used := t.UsedCores(); used*2 <= cores && t.StepK >= 2 {
		splitK = min(cores/used, t.StepK)
		// Every K slice gets at least one step.
		splitK = libtiling.CeilDiv(t.StepK, libtiling.CeilDiv(t.StepK, splitK))
	}
	p.data.BaseM = t.BaseM
	p.data.BaseN = t.BaseN
	p.data.BaseK = t.BaseK
	p.data.SingleCoreM = t.SingleCoreM
	p.data.SingleCoreN = t.SingleCoreN
	p.data.SingleCoreK = libtiling.CeilDiv(t.StepK, splitK) * t.BaseK
	p.data.CoresM = t.CoresM
	p.data.CoresN = t.CoresN
	p.data.SplitK = splitK
	p.data.StepK = t.StepK
	p.data.DoubleBuffer = int64(tiling.Flag(t.DoubleBuffer))
	return nil
}

func (p *splitPlan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return KeyLayout.Encode(templateSplit, p.shape.branch, ctx.Info.ChipRevision.Branch(),
		tiling.Flag(p.data.SplitK > 1))
}

// WorkspaceSizes reserves one float32 partial C per K slice.
func (p *splitPlan) WorkspaceSizes(*tiling.Context) ([]uint64, error) {
	if p.data.SplitK <= 1 {
		return nil, nil
	}
	size := uint64(1)
	for _, f := range []int64{p.shape.m, p.shape.n, accSize, p.data.SplitK} {
		hi, lo := bits.Mul64(size, uint64(f))
		if hi != 0 {
			return nil, tiling.PlanErrorf("split-K workspace %dx%dx%d overflows", p.shape.m, p.shape.n, p.data.SplitK)
		}
		size = lo
	}
	return []uint64{size}, nil
}

func (p *splitPlan) BlockDim() uint32 {
	return uint32(p.data.CoresM * p.data.CoresN * p.data.SplitK)
}

func (p *splitPlan) Data() any { return p.data }

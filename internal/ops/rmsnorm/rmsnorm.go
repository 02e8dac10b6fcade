// Package rmsnorm plans RmsNorm over the last axis:
//
//	y = x / sqrt(mean(x^2) + epsilon) * gamma
//
// The second output holds the per-row reciprocal, rstd, in float32.
package rmsnorm

import (
	"math"

	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
	"github.com/born-ml/optiling/internal/tiling/libtiling"
)

// OpType is the operator type the templates register under.
const OpType = "RmsNorm"

// DefaultEpsilon is used when the epsilon attribute is absent.
const DefaultEpsilon = 1e-6

const blockBytes = 32

// Template axis values.
const (
	templateFullLoad uint64 = iota
	templateSplitD
)

// KeyLayout is the tiling key layout shared by both templates.
var KeyLayout = tiling.MustBitKey(0,
	tiling.Axis{Name: "template", Limit: 2},
	tiling.Axis{Name: "dtype", Limit: 3},
	tiling.Axis{Name: "platform", Limit: 2},
)

type shapeInfo struct {
	rows     int64
	d        int64
	dtype    tensor.DataType
	branch   uint64
	elemSize int64
	epsilon  float32
}

func analyze(req *tiling.Request, _ *compileinfo.Info) (any, error) {
	if len(req.Inputs) != 2 {
		return nil, tiling.Invalidf("%s expects 2 inputs, got %d", OpType, len(req.Inputs))
	}
	x, gamma := req.Inputs[0], req.Inputs[1]
	if x.Shape.Rank() == 0 {
		return nil, tiling.Invalidf("%s: x must have at least one axis", OpType)
	}
	branch, err := tiling.DTypeBranch(x.DType)
	if err != nil {
		return nil, err
	}
	rows, d, _, err := x.Shape.Fold(-1)
	if err != nil {
		return nil, tiling.Invalidf("%s: %v", OpType, err)
	}
	if gamma.Shape.Rank() != 1 || gamma.Shape[0] != d {
		return nil, tiling.Invalidf("%s: gamma shape %v does not match last axis %d", OpType, gamma.Shape, d)
	}
	if gamma.DType != x.DType && gamma.DType != tensor.Float32 {
		return nil, tiling.Invalidf("%s: unsupported gamma dtype %s", OpType, gamma.DType)
	}
	eps := req.Attrs.Float("epsilon", DefaultEpsilon)
	if eps < 0 || math.IsNaN(float64(eps)) || math.IsInf(float64(eps), 0) {
		return nil, tiling.Invalidf("%s: invalid epsilon %v", OpType, eps)
	}
	return &shapeInfo{
		rows:     rows,
		d:        d,
		dtype:    x.DType,
		branch:   branch,
		elemSize: int64(x.DType.Size()),
		epsilon:  eps,
	}, nil
}

func inferShape(in []tensor.Shape, _ tiling.Attrs) ([]tensor.Shape, error) {
	if len(in) != 2 || in[0].Rank() == 0 {
		return nil, tiling.Invalidf("%s expects x and gamma", OpType)
	}
	rstd := in[0].Clone()
	rstd[len(rstd)-1] = 1
	return []tensor.Shape{in[0].Clone(), rstd}, nil
}

func inferDataType(in []tensor.DataType, _ tiling.Attrs) ([]tensor.DataType, error) {
	if len(in) != 2 {
		return nil, tiling.Invalidf("%s expects 2 inputs, got %d", OpType, len(in))
	}
	return []tensor.DataType{in[0], tensor.Float32}, nil
}

// Register adds RmsNorm and its templates to r.
func Register(r *tiling.Registry) error {
	if err := r.RegisterOp(tiling.OpDef{
		Type:          OpType,
		Analyze:       analyze,
		InferShape:    inferShape,
		InferDataType: inferDataType,
	}); err != nil {
		return err
	}
	if err := r.Register(OpType, FullLoad{}, 20); err != nil {
		return err
	}
	return r.Register(OpType, SplitD{}, 10)
}

// RowSplit is the row distribution and scalars both layouts share.
type RowSplit struct {
	Rows         int64
	D            int64
	UsedCores    int64
	RowsPerCore  int64
	TailCoreRows int64
	Epsilon      float32
	AvgFactor    float32
}

func splitRows(ctx *tiling.Context, s *shapeInfo) (RowSplit, error) {
	split, err := libtiling.SplitCores(s.rows, int64(ctx.Info.CoreCount), 1)
	if err != nil {
		return RowSplit{}, tiling.PlanErrorf("%v", err)
	}
	return RowSplit{
		Rows:         s.rows,
		D:            s.d,
		UsedCores:    split.UsedCores,
		RowsPerCore:  split.PerCore,
		TailCoreRows: split.Tail,
		Epsilon:      s.epsilon,
		AvgFactor:    float32(1 / float64(s.d)),
	}, nil
}

// FullLoadTilingData is the layout of FullLoad.
type FullLoadTilingData struct {
	RowSplit
	AlignedD    int64
	RowsPerLoop int64
}

// FullLoad keeps whole rows and gamma resident and processes several rows
// per iteration.
type FullLoad struct{}

// Name implements tiling.Template.
func (FullLoad) Name() string { return "FullLoad" }

// Layout implements tiling.Template.
func (FullLoad) Layout() any { return FullLoadTilingData{} }

// Probe accepts when gamma plus one row fits scratch. A row needs a double
// buffered input, an output and a float32 intermediate.
func (FullLoad) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	s := ctx.Derived.(*shapeInfo)
	scratch := int64(ctx.Info.UsableScratch(0))
	alignedD := libtiling.AlignUp(s.d, blockBytes/s.elemSize)
	gammaBytes := alignedD * s.elemSize
	rowBytes := alignedD * (3*s.elemSize + 4)
	if gammaBytes+rowBytes > scratch {
		return nil, false, nil
	}
	return &fullLoadPlan{
		shape:       s,
		alignedD:    alignedD,
		rowsPerLoop: (scratch - gammaBytes) / rowBytes,
	}, true, nil
}

type fullLoadPlan struct {
	tiling.BasePlan
	shape       *shapeInfo
	alignedD    int64
	rowsPerLoop int64
	data        FullLoadTilingData
}

func (p *fullLoadPlan) OpTiling(ctx *tiling.Context) error {
	rows, err := splitRows(ctx, p.shape)
	if err != nil {
		return err
	}
	p.data = FullLoadTilingData{
		RowSplit:    rows,
		AlignedD:    p.alignedD,
		RowsPerLoop: min(p.rowsPerLoop, rows.RowsPerCore),
	}
	return nil
}

func (p *fullLoadPlan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return KeyLayout.Encode(templateFullLoad, p.shape.branch, ctx.Info.ChipRevision.Branch())
}

func (p *fullLoadPlan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *fullLoadPlan) Data() any        { return p.data }

// SplitDTilingData is the layout of SplitD.
type SplitDTilingData struct {
	RowSplit
	Factor int64
	Loops  int64
	Tail   int64
}

// SplitD walks each row in blocks: one pass accumulates the sum of squares,
// a second pass scales.
type SplitD struct{}

// Name implements tiling.Template.
func (SplitD) Name() string { return "SplitD" }

// Layout implements tiling.Template.
func (SplitD) Layout() any { return SplitDTilingData{} }

// Probe always accepts.
func (SplitD) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	return &splitDPlan{shape: ctx.Derived.(*shapeInfo)}, true, nil
}

type splitDPlan struct {
	tiling.BasePlan
	shape *shapeInfo
	data  SplitDTilingData
}

func (p *splitDPlan) OpTiling(ctx *tiling.Context) error {
	var err error
	p.data.RowSplit, err = splitRows(ctx, p.shape)
	return err
}

func (p *splitDPlan) LibTiling(ctx *tiling.Context) error {
	// x, gamma, y and the accumulator, all widened to float32.
	r, err := libtiling.SolveReduce(libtiling.ReduceParams{
		Length:   p.shape.d,
		ElemSize: 4,
		Scratch:  int64(ctx.Info.UsableScratch(0)),
		Buffers:  4,
		Align:    blockBytes,
	})
	if err != nil {
		return tiling.PlanErrorf("%v", err)
	}
	p.data.Factor = r.Factor
	p.data.Loops = r.Loops
	p.data.Tail = r.Tail
	return nil
}

func (p *splitDPlan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return KeyLayout.Encode(templateSplitD, p.shape.branch, ctx.Info.ChipRevision.Branch())
}

func (p *splitDPlan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *splitDPlan) Data() any        { return p.data }

// Package reduce plans Reduce1D, a sum over every element of its input.
//
// Two templates compete: Small keeps the whole input on one core, Large
// splits it across cores and combines per-core partials through workspace.
package reduce

import (
	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
	"github.com/born-ml/optiling/internal/tiling/libtiling"
)

// OpType is the operator type the templates register under.
const OpType = "Reduce1D"

const (
	smallLimit = 1024 // elements
	blockBytes = 32
)

// Template axis values.
const (
	templateSmall uint64 = iota
	templateLarge
)

// KeyLayout is the tiling key layout shared by both templates.
var KeyLayout = tiling.MustDecimalKey(1000,
	tiling.Axis{Name: "template", Limit: 2},
	tiling.Axis{Name: "dtype", Limit: 3},
)

type shapeInfo struct {
	elements int64
	dtype    tensor.DataType
	branch   uint64
}

func analyze(req *tiling.Request, _ *compileinfo.Info) (any, error) {
	if len(req.Inputs) != 1 {
		return nil, tiling.Invalidf("%s expects 1 input, got %d", OpType, len(req.Inputs))
	}
	x := req.Inputs[0]
	branch, err := tiling.DTypeBranch(x.DType)
	if err != nil {
		return nil, err
	}
	return &shapeInfo{elements: x.Shape.NumElements(), dtype: x.DType, branch: branch}, nil
}

func inferShape(in []tensor.Shape, attrs tiling.Attrs) ([]tensor.Shape, error) {
	if len(in) != 1 {
		return nil, tiling.Invalidf("%s expects 1 input, got %d", OpType, len(in))
	}
	if !attrs.Bool("keep_dims", false) || in[0].Rank() == 0 {
		return []tensor.Shape{{1}}, nil
	}
	out := make(tensor.Shape, in[0].Rank())
	for i := range out {
		out[i] = 1
	}
	return []tensor.Shape{out}, nil
}

func inferDataType(in []tensor.DataType, _ tiling.Attrs) ([]tensor.DataType, error) {
	if len(in) != 1 {
		return nil, tiling.Invalidf("%s expects 1 input, got %d", OpType, len(in))
	}
	return []tensor.DataType{in[0]}, nil
}

// Register adds Reduce1D and its templates to r.
func Register(r *tiling.Registry) error {
	if err := r.RegisterOp(tiling.OpDef{
		Type:          OpType,
		Analyze:       analyze,
		InferShape:    inferShape,
		InferDataType: inferDataType,
	}); err != nil {
		return err
	}
	if err := r.Register(OpType, Small{}, 10); err != nil {
		return err
	}
	return r.Register(OpType, Large{}, 5)
}

// SmallTilingData is the layout of the single-core template.
type SmallTilingData struct {
	Elements        int64
	AlignedElements int64
}

// Small reduces inputs of up to 1024 elements on one core in one pass.
type Small struct{}

// Name implements tiling.Template.
func (Small) Name() string { return "Small" }

// Layout implements tiling.Template.
func (Small) Layout() any { return SmallTilingData{} }

// Probe accepts inputs that fit in one aligned scratch block pair.
func (Small) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	s := ctx.Derived.(*shapeInfo)
	if s.elements > smallLimit {
		return nil, false, nil
	}
	elemSize := int64(s.dtype.Size())
	aligned := libtiling.AlignUp(s.elements, blockBytes/elemSize)
	// Input block plus a float32 accumulator block.
	need := aligned*elemSize + libtiling.AlignUp(aligned*4, blockBytes)
	if uint64(need) > ctx.Info.UsableScratch(0) {
		return nil, false, nil
	}
	return &smallPlan{
		data:   SmallTilingData{Elements: s.elements, AlignedElements: aligned},
		branch: s.branch,
	}, true, nil
}

type smallPlan struct {
	tiling.BasePlan
	data   SmallTilingData
	branch uint64
}

func (p *smallPlan) TilingKey(*tiling.Context) (uint64, error) {
	return KeyLayout.Encode(templateSmall, p.branch)
}

func (p *smallPlan) BlockDim() uint32 { return 1 }
func (p *smallPlan) Data() any        { return p.data }

// LargeTilingData is the layout of the multi-core template.
type LargeTilingData struct {
	Elements      int64
	UsedCores     int64
	PerCore       int64
	TailCore      int64
	Factor        int64
	Loops         int64
	Tail          int64
	TailCoreLoops int64
	TailCoreTail  int64
}

// Large splits the input across cores; each core writes one aligned partial
// into workspace and the last core to finish folds them.
type Large struct{}

// Name implements tiling.Template.
func (Large) Name() string { return "Large" }

// Layout implements tiling.Template.
func (Large) Layout() any { return LargeTilingData{} }

// Probe always accepts.
func (Large) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	return &largePlan{shape: ctx.Derived.(*shapeInfo)}, true, nil
}

type largePlan struct {
	shape *shapeInfo
	data  LargeTilingData
}

func (p *largePlan) OpTiling(ctx *tiling.Context) error {
	elemSize := int64(p.shape.dtype.Size())
	split, err := libtiling.SplitCores(p.shape.elements, int64(ctx.Info.CoreCount), blockBytes/elemSize)
	if err != nil {
		return tiling.PlanErrorf("%v", err)
	}
	p.data.Elements = p.shape.elements
	p.data.UsedCores = split.UsedCores
	p.data.PerCore = split.PerCore
	p.data.TailCore = split.Tail
	return nil
}

func (p *largePlan) LibTiling(ctx *tiling.Context) error {
	r, err := libtiling.SolveReduce(libtiling.ReduceParams{
		Length:   p.data.PerCore,
		ElemSize: int64(p.shape.dtype.Size()),
		Scratch:  int64(ctx.Info.UsableScratch(blockBytes)),
		Buffers:  2,
		Align:    blockBytes,
	})
	if err != nil {
		return tiling.PlanErrorf("%v", err)
	}
	p.data.Factor = r.Factor
	p.data.Loops = r.Loops
	p.data.Tail = r.Tail
	p.data.TailCoreLoops = p.data.TailCore / r.Factor
	p.data.TailCoreTail = p.data.TailCore % r.Factor
	return nil
}

func (p *largePlan) TilingKey(*tiling.Context) (uint64, error) {
	return KeyLayout.Encode(templateLarge, p.shape.branch)
}

func (p *largePlan) WorkspaceSizes(*tiling.Context) ([]uint64, error) {
	return []uint64{uint64(p.data.UsedCores * blockBytes)}, nil
}

func (p *largePlan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *largePlan) Data() any        { return p.data }

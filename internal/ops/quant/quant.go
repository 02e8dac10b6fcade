// Package quant plans AscendQuant, quantization to int8:
//
//	y = round(x * scale + offset)          sqrt_mode off
//	y = round(x * scale * scale + offset)  sqrt_mode on
//
// PerTensor takes scale and offset as attributes. PerChannel takes them as
// [C] tensors applied along the last axis of x.
package quant

import (
	"math"

	"github.com/x448/float16"

	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
	"github.com/born-ml/optiling/internal/tiling/libtiling"
)

// OpType is the operator type the templates register under.
const OpType = "AscendQuant"

// int8 output blocks are 32 elements wide.
const blockElems = 32

// RoundMode selects how the scaled value is rounded to an integer.
type RoundMode uint16

// Round modes, numbered as the kernel expects them.
const (
	RoundHalfEven RoundMode = iota
	RoundFloor
	RoundCeil
	RoundTrunc
)

var roundModes = map[string]RoundMode{
	"round": RoundHalfEven,
	"floor": RoundFloor,
	"ceil":  RoundCeil,
	"trunc": RoundTrunc,
}

// ParseRoundMode maps a round_mode attribute value to a RoundMode.
func ParseRoundMode(s string) (RoundMode, bool) {
	m, ok := roundModes[s]
	return m, ok
}

// Mode axis values.
const (
	modePerTensor uint64 = iota
	modePerChannel
)

// KeyLayout is the tiling key layout shared by both templates.
var KeyLayout = tiling.MustDecimalKey(10000,
	tiling.Axis{Name: "mode", Limit: 2},
	tiling.Axis{Name: "dtype", Limit: 3},
	tiling.Axis{Name: "platform", Limit: 2},
	tiling.Axis{Name: "multi_loop", Limit: 2},
)

type params struct {
	total     int64
	dtype     tensor.DataType
	branch    uint64
	scale     float32
	offset    float32
	sqrtMode  bool
	roundMode RoundMode

	// Per-channel only.
	perChannel bool
	rows       int64
	channels   int64
	scaleDType tensor.DataType
	hasOffset  bool
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

func analyze(req *tiling.Request, _ *compileinfo.Info) (any, error) {
	if len(req.Inputs) < 1 || len(req.Inputs) > 3 {
		return nil, tiling.Invalidf("%s expects 1 to 3 inputs, got %d", OpType, len(req.Inputs))
	}
	x := req.Inputs[0]
	branch, err := tiling.DTypeBranch(x.DType)
	if err != nil {
		return nil, err
	}
	mode, ok := ParseRoundMode(req.Attrs.Str("round_mode", "round"))
	if !ok {
		return nil, tiling.Invalidf("%s: invalid round_mode %q, want round, floor, ceil or trunc",
			OpType, req.Attrs.Str("round_mode", ""))
	}
	p := &params{
		total:     x.Shape.NumElements(),
		dtype:     x.DType,
		branch:    branch,
		sqrtMode:  req.Attrs.Bool("sqrt_mode", false),
		roundMode: mode,
	}
	if len(req.Inputs) > 1 {
		if err := analyzeChannels(req, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	if p.scale, err = req.Attrs.RequireFloat("scale"); err != nil {
		return nil, tiling.Invalidf("%s: %v", OpType, err)
	}
	p.offset = req.Attrs.Float("offset", 0)
	if !finite(p.scale) || !finite(p.offset) {
		return nil, tiling.Invalidf("%s: scale %v and offset %v must be finite", OpType, p.scale, p.offset)
	}
	if x.DType == tensor.Float16 {
		if err := checkHalf(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// checkHalf rejects scalars that float16 inputs cannot carry, since the
// kernel computes in half precision for them.
func checkHalf(p *params) error {
	effective := p.scale
	if p.sqrtMode {
		effective *= effective
	}
	if float16.Fromfloat32(effective).IsInf(0) {
		return tiling.Invalidf("%s: scale %v overflows float16", OpType, effective)
	}
	if float16.Fromfloat32(p.offset).IsInf(0) {
		return tiling.Invalidf("%s: offset %v overflows float16", OpType, p.offset)
	}
	return nil
}

func inferShape(in []tensor.Shape, _ tiling.Attrs) ([]tensor.Shape, error) {
	if len(in) < 1 || len(in) > 3 {
		return nil, tiling.Invalidf("%s expects 1 to 3 inputs, got %d", OpType, len(in))
	}
	return []tensor.Shape{in[0].Clone()}, nil
}

func inferDataType(in []tensor.DataType, _ tiling.Attrs) ([]tensor.DataType, error) {
	if len(in) < 1 || len(in) > 3 {
		return nil, tiling.Invalidf("%s expects 1 to 3 inputs, got %d", OpType, len(in))
	}
	return []tensor.DataType{tensor.Int8}, nil
}

// Register adds AscendQuant and its templates to r.
func Register(r *tiling.Registry) error {
	if err := r.RegisterOp(tiling.OpDef{
		Type:          OpType,
		Analyze:       analyze,
		InferShape:    inferShape,
		InferDataType: inferDataType,
	}); err != nil {
		return err
	}
	if err := r.Register(OpType, PerTensor{}, 20); err != nil {
		return err
	}
	return r.Register(OpType, PerChannel{}, 10)
}

// TilingData is the layout of PerTensor. ScaleBits and OffsetBits carry the
// IEEE half encodings for float16 inputs and are zero otherwise.
type TilingData struct {
	Total      int64
	UsedCores  int64
	PerCore    int64
	TailCore   int64
	UbFactor   int64
	Loops      int64
	TailLoops  int64
	Scale      float32
	Offset     float32
	ScaleBits  uint16
	OffsetBits uint16
	SqrtMode   uint16
	RoundMode  uint16
}

// PerTensor quantizes with one scale and offset for the whole tensor.
type PerTensor struct{}

// Name implements tiling.Template.
func (PerTensor) Name() string { return "PerTensor" }

// Layout implements tiling.Template.
func (PerTensor) Layout() any { return TilingData{} }

// Probe accepts requests whose scale is an attribute.
func (PerTensor) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	p := ctx.Derived.(*params)
	if p.perChannel {
		return nil, false, nil
	}
	return &plan{params: p}, true, nil
}

type plan struct {
	tiling.BasePlan
	params *params
	data   TilingData
}

func (p *plan) OpTiling(*tiling.Context) error {
	p.data.Scale = p.params.scale
	p.data.Offset = p.params.offset
	p.data.SqrtMode = uint16(tiling.Flag(p.params.sqrtMode))
	p.data.RoundMode = uint16(p.params.roundMode)
	if p.params.dtype == tensor.Float16 {
		p.data.ScaleBits = float16.Fromfloat32(p.params.scale).Bits()
		p.data.OffsetBits = float16.Fromfloat32(p.params.offset).Bits()
	}
	return nil
}

func (p *plan) LibTiling(ctx *tiling.Context) error {
	elemSize := int64(p.params.dtype.Size())
	t, err := libtiling.SolveElementwise(libtiling.ElementwiseParams{
		Total:   p.params.total,
		Cores:   int64(ctx.Info.CoreCount),
		Scratch: int64(ctx.Info.UsableScratch(0)),
		// double-buffered x and y plus a float32 intermediate
		BytesPerElem: 2*elemSize + 2 + 4,
		AlignElems:   blockElems,
	})
	if err != nil {
		return tiling.PlanErrorf("%v", err)
	}
	p.data.Total = p.params.total
	p.data.UsedCores = t.UsedCores
	p.data.PerCore = t.PerCore
	p.data.TailCore = t.Tail
	p.data.UbFactor = t.UbFactor
	p.data.Loops = t.Loops
	p.data.TailLoops = t.TailLoops
	return nil
}

func (p *plan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return KeyLayout.Encode(modePerTensor, p.params.branch, ctx.Info.ChipRevision.Branch(), tiling.Flag(p.data.Loops > 1))
}

func (p *plan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *plan) Data() any        { return p.data }

// Package elementwise plans binary elementwise operators (Add, Mul) with
// NumPy-style broadcasting.
package elementwise

import (
	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
	"github.com/born-ml/optiling/internal/tiling/libtiling"
)

// OpTypes lists the operator types this package registers.
var OpTypes = []string{"Add", "Mul"}

// Key opcodes, one per operator type.
var opcodes = map[string]uint64{
	"Add": 1,
	"Mul": 2,
}

// MaxRank is the largest output rank the Broadcast template handles.
const MaxRank = 8

const (
	blockBytes = 32
	// x, y and out, each double buffered.
	liveBuffers = 6
)

// keyLayouts hold one bit layout per opcode: dtype:2 | platform:1 | broadcast:1.
var keyLayouts = map[string]*tiling.BitKey{}

// KeyLayout returns the tiling key layout of opType.
func KeyLayout(opType string) (*tiling.BitKey, bool) {
	k, ok := keyLayouts[opType]
	return k, ok
}

func init() {
	for op, code := range opcodes {
		keyLayouts[op] = tiling.MustBitKey(code<<8,
			tiling.Axis{Name: "dtype", Limit: 4},
			tiling.Axis{Name: "platform", Limit: 2},
			tiling.Axis{Name: "broadcast", Limit: 2},
		)
	}
}

type shapeInfo struct {
	opType    string
	out       tensor.Shape
	x, y      tensor.Shape
	dtype     tensor.DataType
	branch    uint64
	broadcast bool
}

func dtypeBranch(dt tensor.DataType) (uint64, error) {
	if dt == tensor.Int32 {
		return 3, nil
	}
	return tiling.DTypeBranch(dt)
}

func analyze(req *tiling.Request, _ *compileinfo.Info) (any, error) {
	if len(req.Inputs) != 2 {
		return nil, tiling.Invalidf("%s expects 2 inputs, got %d", req.OpType, len(req.Inputs))
	}
	x, y := req.Inputs[0], req.Inputs[1]
	if x.DType != y.DType {
		return nil, tiling.Invalidf("%s: input dtypes differ: %s vs %s", req.OpType, x.DType, y.DType)
	}
	branch, err := dtypeBranch(x.DType)
	if err != nil {
		return nil, err
	}
	out, broadcast, err := tensor.BroadcastShapes(x.Shape, y.Shape)
	if err != nil {
		return nil, tiling.Invalidf("%s: %v", req.OpType, err)
	}
	if err := out.ValidateSize(x.DType.Size()); err != nil {
		return nil, tiling.Invalidf("%s: output %v", req.OpType, err)
	}
	return &shapeInfo{
		opType:    req.OpType,
		out:       out,
		x:         x.Shape,
		y:         y.Shape,
		dtype:     x.DType,
		branch:    branch,
		broadcast: broadcast,
	}, nil
}

func inferShape(in []tensor.Shape, _ tiling.Attrs) ([]tensor.Shape, error) {
	if len(in) != 2 {
		return nil, tiling.Invalidf("expected 2 inputs, got %d", len(in))
	}
	out, _, err := tensor.BroadcastShapes(in[0], in[1])
	if err != nil {
		return nil, tiling.Invalidf("%v", err)
	}
	return []tensor.Shape{out}, nil
}

func inferDataType(in []tensor.DataType, _ tiling.Attrs) ([]tensor.DataType, error) {
	if len(in) != 2 || in[0] != in[1] {
		return nil, tiling.Invalidf("expected 2 inputs of one data type, got %v", in)
	}
	return []tensor.DataType{in[0]}, nil
}

// Register adds every elementwise operator and its templates to r.
func Register(r *tiling.Registry) error {
	for _, op := range OpTypes {
		if err := r.RegisterOp(tiling.OpDef{
			Type:          op,
			Analyze:       analyze,
			InferShape:    inferShape,
			InferDataType: inferDataType,
		}); err != nil {
			return err
		}
		if err := r.Register(op, Contiguous{}, 20); err != nil {
			return err
		}
		if err := r.Register(op, Broadcast{}, 10); err != nil {
			return err
		}
	}
	return nil
}

// SplitData is the core split and loop blocking common to both layouts.
type SplitData struct {
	Total     int64
	UsedCores int64
	PerCore   int64
	TailCore  int64
	UbFactor  int64
	Loops     int64
	TailLoops int64
}

func solveSplit(ctx *tiling.Context, s *shapeInfo) (SplitData, error) {
	elemSize := int64(s.dtype.Size())
	t, err := libtiling.SolveElementwise(libtiling.ElementwiseParams{
		Total:        s.out.NumElements(),
		Cores:        int64(ctx.Info.CoreCount),
		Scratch:      int64(ctx.Info.UsableScratch(0)),
		BytesPerElem: liveBuffers * elemSize,
		AlignElems:   blockBytes / elemSize,
	})
	if err != nil {
		return SplitData{}, tiling.PlanErrorf("%v", err)
	}
	return SplitData{
		Total:     s.out.NumElements(),
		UsedCores: t.UsedCores,
		PerCore:   t.PerCore,
		TailCore:  t.Tail,
		UbFactor:  t.UbFactor,
		Loops:     t.Loops,
		TailLoops: t.TailLoops,
	}, nil
}

func tilingKey(ctx *tiling.Context, s *shapeInfo) (uint64, error) {
	k, ok := keyLayouts[s.opType]
	if !ok {
		return 0, tiling.PlanErrorf("no key layout for %s", s.opType)
	}
	return k.Encode(s.branch, ctx.Info.ChipRevision.Branch(), tiling.Flag(s.broadcast))
}

// Contiguous handles inputs of identical shape as one flat range.
type Contiguous struct{}

// Name implements tiling.Template.
func (Contiguous) Name() string { return "Contiguous" }

// Layout implements tiling.Template.
func (Contiguous) Layout() any { return SplitData{} }

// Probe accepts requests without broadcasting.
func (Contiguous) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	s := ctx.Derived.(*shapeInfo)
	if s.broadcast {
		return nil, false, nil
	}
	return &contiguousPlan{shape: s}, true, nil
}

type contiguousPlan struct {
	tiling.BasePlan
	shape *shapeInfo
	data  SplitData
}

func (p *contiguousPlan) OpTiling(ctx *tiling.Context) error {
	var err error
	p.data, err = solveSplit(ctx, p.shape)
	return err
}

func (p *contiguousPlan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return tilingKey(ctx, p.shape)
}

func (p *contiguousPlan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *contiguousPlan) Data() any        { return p.data }

// BroadcastTilingData carries the output dims and per-input strides, with
// zero strides on broadcast dimensions. Unused trailing slots are zero.
type BroadcastTilingData struct {
	SplitData
	Rank    int64
	OutDims [MaxRank]int64
	XStride [MaxRank]int64
	YStride [MaxRank]int64
}

// Broadcast walks the output index space and maps it back to each input.
type Broadcast struct{}

// Name implements tiling.Template.
func (Broadcast) Name() string { return "Broadcast" }

// Layout implements tiling.Template.
func (Broadcast) Layout() any { return BroadcastTilingData{} }

// Probe accepts broadcasting requests up to MaxRank dimensions.
func (Broadcast) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	s := ctx.Derived.(*shapeInfo)
	if s.out.Rank() > MaxRank {
		return nil, false, nil
	}
	p := &broadcastPlan{shape: s}
	p.data.Rank = int64(s.out.Rank())
	copy(p.data.OutDims[:], s.out)
	fillStrides(p.data.XStride[:], s.x, s.out)
	fillStrides(p.data.YStride[:], s.y, s.out)
	return p, true, nil
}

// fillStrides writes the row-major strides of in, aligned to the right of
// out, with zero for every dimension in broadcasts.
func fillStrides(dst []int64, in, out tensor.Shape) {
	offset := out.Rank() - in.Rank()
	stride := int64(1)
	for i := out.Rank() - 1; i >= 0; i-- {
		j := i - offset
		if j < 0 || in[j] == 1 && out[i] != 1 {
			dst[i] = 0
			continue
		}
		dst[i] = stride
		stride *= in[j]
	}
}

type broadcastPlan struct {
	tiling.BasePlan
	shape *shapeInfo
	data  BroadcastTilingData
}

func (p *broadcastPlan) OpTiling(ctx *tiling.Context) error {
	var err error
	p.data.SplitData, err = solveSplit(ctx, p.shape)
	return err
}

func (p *broadcastPlan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return tilingKey(ctx, p.shape)
}

func (p *broadcastPlan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *broadcastPlan) Data() any        { return p.data }

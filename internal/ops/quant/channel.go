package quant

import (
	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
	"github.com/born-ml/optiling/internal/tiling/libtiling"
)

// Block axis values of ChannelTilingData.
const (
	blockRows     int64 = 0
	blockChannels int64 = 1
)

// analyzeChannels reads the scale and optional offset tensors of a
// per-channel request. x is viewed as [rows, channels] around the quantized
// axis, which must be the last one.
func analyzeChannels(req *tiling.Request, p *params) error {
	x := req.Inputs[0]
	if req.Attrs.Has("scale") || req.Attrs.Has("offset") {
		return tiling.Invalidf("%s: scale and offset are inputs; drop the attributes", OpType)
	}
	rank := int64(x.Shape.Rank())
	if rank == 0 {
		return tiling.Invalidf("%s: per-channel quantization needs a rank >= 1 input", OpType)
	}
	axis := req.Attrs.Int("axis", -1)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return tiling.Invalidf("%s: axis %d out of range for rank %d", OpType, req.Attrs.Int("axis", -1), rank)
	}
	// A trailing dimension of 1 makes the second to last axis the channel axis.
	if axis != rank-1 && (axis != rank-2 || x.Shape[rank-1] != 1) {
		return tiling.Invalidf("%s: axis %d: only the last non-unit axis can carry per-channel scales", OpType, axis)
	}
	rows, channels, _, err := x.Shape.Fold(int(axis))
	if err != nil {
		return tiling.Invalidf("%s: %v", OpType, err)
	}

	scale := req.Inputs[1]
	if scale.Shape.Rank() != 1 || scale.Shape[0] != channels {
		return tiling.Invalidf("%s: scale shape %v, want [%d]", OpType, scale.Shape, channels)
	}
	if scale.DType != x.DType && scale.DType != tensor.Float32 {
		return tiling.Invalidf("%s: scale dtype %s, want %s or float32", OpType, scale.DType, x.DType)
	}
	if len(req.Inputs) == 3 {
		offset := req.Inputs[2]
		if !offset.Shape.Equal(scale.Shape) || offset.DType != scale.DType {
			return tiling.Invalidf("%s: offset %v %s does not match scale %v %s",
				OpType, offset.Shape, offset.DType, scale.Shape, scale.DType)
		}
		p.hasOffset = true
	}

	p.perChannel = true
	p.rows = rows
	p.channels = channels
	p.scaleDType = scale.DType
	return nil
}

// ChannelTilingData is the layout of PerChannel. Cores split rows when
// BlockAxis is 0 and channels when it is 1; each iteration handles BaseN rows
// of BaseLen channels.
type ChannelTilingData struct {
	Rows        int64
	Channels    int64
	UsedCores   int64
	BlockAxis   int64
	BlockFactor int64
	BlockTail   int64
	BaseN       int64
	BaseLen     int64
	Loops       int64 // iterations on a full core
	HasOffset   uint16
	SqrtMode    uint16
	RoundMode   uint16
	ScaleF32    uint16
}

// PerChannel quantizes with one scale, and optionally one offset, per
// channel of the last axis.
type PerChannel struct{}

// Name implements tiling.Template.
func (PerChannel) Name() string { return "PerChannel" }

// Layout implements tiling.Template.
func (PerChannel) Layout() any { return ChannelTilingData{} }

// Probe accepts requests with a scale tensor.
func (PerChannel) Probe(ctx *tiling.Context) (tiling.Plan, bool, error) {
	p := ctx.Derived.(*params)
	if !p.perChannel {
		return nil, false, nil
	}
	return &channelPlan{params: p}, true, nil
}

type channelPlan struct {
	tiling.BasePlan
	params *params
	data   ChannelTilingData
}

// OpTiling splits rows across cores when there are enough of them and
// channels otherwise.
func (p *channelPlan) OpTiling(ctx *tiling.Context) error {
	cores := int64(ctx.Info.CoreCount)
	d := &p.data
	d.Rows = p.params.rows
	d.Channels = p.params.channels
	d.HasOffset = uint16(tiling.Flag(p.params.hasOffset))
	d.SqrtMode = uint16(tiling.Flag(p.params.sqrtMode))
	d.RoundMode = uint16(p.params.roundMode)
	d.ScaleF32 = uint16(tiling.Flag(p.params.scaleDType == tensor.Float32))

	var (
		split libtiling.Split
		err   error
	)
	if d.Rows >= cores || d.Channels < 2*blockElems {
		d.BlockAxis = blockRows
		split, err = libtiling.SplitCores(d.Rows, cores, 1)
	} else {
		d.BlockAxis = blockChannels
		split, err = libtiling.SplitCores(d.Channels, cores, blockElems)
	}
	if err != nil {
		return tiling.PlanErrorf("%v", err)
	}
	d.UsedCores = split.UsedCores
	d.BlockFactor = split.PerCore
	d.BlockTail = split.Tail
	return nil
}

// LibTiling sizes the per-iteration block. Short channel runs are stacked
// BaseN rows deep; long ones are cut into BaseLen pieces one row at a time.
func (p *channelPlan) LibTiling(ctx *tiling.Context) error {
	d := &p.data
	scratch := int64(ctx.Info.UsableScratch(0))
	inputs := int64(1)
	if p.params.hasOffset {
		inputs = 2
	}
	// scale and offset, each with a float32 copy
	paramBytes := inputs * (int64(p.params.scaleDType.Size()) + 4)
	// x, the int8 result and a float32 intermediate
	elemBytes := int64(p.params.dtype.Size()) + 1 + 4

	maxBase := libtiling.AlignDown(scratch/(paramBytes+elemBytes), blockElems)
	if maxBase <= 0 {
		return tiling.PlanErrorf("scratch %d holds no block of %d channels", scratch, blockElems)
	}
	base, rowsPerCore := d.Channels, d.BlockFactor
	if d.BlockAxis == blockChannels {
		base, rowsPerCore = d.BlockFactor, d.Rows
	}
	base = libtiling.AlignUp(base, blockElems)

	if base <= maxBase/2 {
		n := (scratch - base*paramBytes) / (elemBytes * base)
		d.BaseN = max(min(n, rowsPerCore), 1)
		d.BaseLen = base
	} else {
		d.BaseN = 1
		d.BaseLen = min(base, maxBase)
	}

	if d.BlockAxis == blockRows {
		d.Loops = libtiling.CeilDiv(d.BlockFactor, d.BaseN) * libtiling.CeilDiv(d.Channels, d.BaseLen)
	} else {
		d.Loops = libtiling.CeilDiv(d.Rows, d.BaseN) * libtiling.CeilDiv(d.BlockFactor, d.BaseLen)
	}
	return nil
}

func (p *channelPlan) TilingKey(ctx *tiling.Context) (uint64, error) {
	return KeyLayout.Encode(modePerChannel, p.params.branch, ctx.Info.ChipRevision.Branch(), tiling.Flag(p.data.Loops > 1))
}

func (p *channelPlan) BlockDim() uint32 { return uint32(p.data.UsedCores) }
func (p *channelPlan) Data() any        { return p.data }

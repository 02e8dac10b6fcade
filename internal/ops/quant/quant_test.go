package quant

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/platform"
	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
)

func newEngine(t *testing.T) *tiling.Engine {
	t.Helper()
	r := tiling.NewRegistry()
	require.NoError(t, Register(r))
	return tiling.NewEngine(tiling.Config{
		Registry:        r,
		Store:           compileinfo.NewStore(),
		Platform:        platform.Static{Cores: 8, Scratch: 192 * 1024, Vector: 256, Revision: platform.Arch35},
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		SystemWorkspace: tiling.DefaultSystemWorkspace,
	})
}

func newRequest(x tiling.TensorDesc, attrs ...tiling.Attr) *tiling.Request {
	req := tiling.NewRequest(OpType, 128)
	req.Inputs = []tiling.TensorDesc{x}
	req.Attrs = attrs
	return req
}

func TestAscendQuant_Half(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tiling.Desc(tensor.Float16, 1024, 1024),
		tiling.FloatAttr("scale", 0.5),
		tiling.FloatAttr("offset", 1),
		tiling.StringAttr("round_mode", "floor"),
	)
	require.NoError(t, e.DoTiling(req))

	assert.Equal(t, "PerTensor", req.Template())
	assert.Equal(t, uint64(10111), req.TilingKey())
	assert.Equal(t, uint32(8), req.BlockDim())
	assert.Equal(t, 72, req.Tiling.Size())

	var data TilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, TilingData{
		Total:      1 << 20,
		UsedCores:  8,
		PerCore:    1 << 17,
		TailCore:   1 << 17,
		UbFactor:   19648,
		Loops:      7,
		TailLoops:  7,
		Scale:      0.5,
		Offset:     1,
		ScaleBits:  0x3800,
		OffsetBits: 0x3c00,
		RoundMode:  uint16(RoundFloor),
	}, data)
}

func TestAscendQuant_SingleLoop(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tiling.Desc(tensor.Float32, 100),
		tiling.FloatAttr("scale", 2),
		tiling.BoolAttr("sqrt_mode", true),
	)
	require.NoError(t, e.DoTiling(req))

	axes, err := KeyLayout.Decode(req.TilingKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{modePerTensor, 0, 1, 0}, axes)
	assert.Equal(t, uint32(4), req.BlockDim())

	var data TilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, int64(32), data.PerCore)
	assert.Equal(t, int64(4), data.TailCore)
	assert.Equal(t, int64(32), data.UbFactor)
	assert.Equal(t, uint16(1), data.SqrtMode)
	assert.Equal(t, uint16(RoundHalfEven), data.RoundMode)
	assert.Zero(t, data.ScaleBits)
}

func TestAscendQuant_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		x     tiling.TensorDesc
		attrs []tiling.Attr
	}{
		{"missing scale", tiling.Desc(tensor.Float32, 8), nil},
		{"int scale", tiling.Desc(tensor.Float32, 8), []tiling.Attr{tiling.IntAttr("scale", 2)}},
		{"round mode", tiling.Desc(tensor.Float32, 8), []tiling.Attr{
			tiling.FloatAttr("scale", 1), tiling.StringAttr("round_mode", "banker"),
		}},
		{"nan offset", tiling.Desc(tensor.Float32, 8), []tiling.Attr{
			tiling.FloatAttr("scale", 1), tiling.FloatAttr("offset", float32(math.NaN())),
		}},
		{"int8 input", tiling.Desc(tensor.Int8, 8), []tiling.Attr{tiling.FloatAttr("scale", 1)}},
		{"element count overflow", tiling.Desc(tensor.Float32, 1<<40, 1<<40), []tiling.Attr{tiling.FloatAttr("scale", 1)}},
		{"half overflow", tiling.Desc(tensor.Float16, 8), []tiling.Attr{
			tiling.FloatAttr("scale", 300), tiling.BoolAttr("sqrt_mode", true),
		}},
		{"half offset overflow", tiling.Desc(tensor.Float16, 8), []tiling.Attr{
			tiling.FloatAttr("scale", 1), tiling.FloatAttr("offset", 1e6),
		}},
	}
	e := newEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(tt.x, tt.attrs...)
			err := e.DoTiling(req)
			assert.ErrorIs(t, err, tiling.ErrInvalidShapeOrAttr)
			assert.Zero(t, req.Tiling.Size())
		})
	}
}

func TestAscendQuant_HalfScaleWithoutSqrt(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tiling.Desc(tensor.Float16, 64), tiling.FloatAttr("scale", 300))
	require.NoError(t, e.DoTiling(req))
}

func newChannelRequest(x, scale tiling.TensorDesc, rest ...tiling.TensorDesc) *tiling.Request {
	req := tiling.NewRequest(OpType, 128)
	req.Inputs = append([]tiling.TensorDesc{x, scale}, rest...)
	return req
}

func TestAscendQuant_SelectsByScaleKind(t *testing.T) {
	e := newEngine(t)

	tensorReq := newRequest(tiling.Desc(tensor.Float32, 64, 128), tiling.FloatAttr("scale", 1))
	require.NoError(t, e.DoTiling(tensorReq))
	channelReq := newChannelRequest(tiling.Desc(tensor.Float32, 64, 128), tiling.Desc(tensor.Float32, 128))
	require.NoError(t, e.DoTiling(channelReq))

	assert.Equal(t, "PerTensor", tensorReq.Template())
	assert.Equal(t, "PerChannel", channelReq.Template())

	axes, err := KeyLayout.Decode(channelReq.TilingKey())
	require.NoError(t, err)
	assert.Equal(t, modePerChannel, axes[0])
}

func TestAscendQuant_PerChannelRows(t *testing.T) {
	e := newEngine(t)
	req := newChannelRequest(tiling.Desc(tensor.Float16, 4096, 1024),
		tiling.Desc(tensor.Float32, 1024), tiling.Desc(tensor.Float32, 1024))
	req.Attrs = tiling.Attrs{tiling.StringAttr("round_mode", "ceil")}
	require.NoError(t, e.DoTiling(req))

	assert.Equal(t, uint64(11111), req.TilingKey())
	assert.Equal(t, uint32(8), req.BlockDim())
	assert.Equal(t, 80, req.Tiling.Size())

	var data ChannelTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, ChannelTilingData{
		Rows:        4096,
		Channels:    1024,
		UsedCores:   8,
		BlockAxis:   blockRows,
		BlockFactor: 512,
		BlockTail:   512,
		BaseN:       25,
		BaseLen:     1024,
		Loops:       21,
		HasOffset:   1,
		RoundMode:   uint16(RoundCeil),
		ScaleF32:    1,
	}, data)
}

func TestAscendQuant_PerChannelSplitsChannels(t *testing.T) {
	e := newEngine(t)
	req := newChannelRequest(tiling.Desc(tensor.Float32, 4, 4096), tiling.Desc(tensor.Float32, 4096))
	require.NoError(t, e.DoTiling(req))

	assert.Equal(t, uint64(10110), req.TilingKey())

	var data ChannelTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, blockChannels, data.BlockAxis)
	assert.Equal(t, int64(8), data.UsedCores)
	assert.Equal(t, int64(512), data.BlockFactor)
	assert.Equal(t, int64(4), data.BaseN, "all rows fit in one pass")
	assert.Equal(t, int64(512), data.BaseLen)
	assert.Equal(t, int64(1), data.Loops)
	assert.Zero(t, data.HasOffset)
}

func TestAscendQuant_PerChannelLongRows(t *testing.T) {
	e := newEngine(t)
	req := newChannelRequest(tiling.Desc(tensor.BFloat16, 2, 65536), tiling.Desc(tensor.BFloat16, 65536))
	require.NoError(t, e.DoTiling(req))

	var data ChannelTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, blockChannels, data.BlockAxis)
	assert.Equal(t, int64(8192), data.BlockFactor)
	assert.Equal(t, int64(1), data.BaseN)
	assert.Equal(t, int64(8192), data.BaseLen)
	assert.Equal(t, int64(2), data.Loops)
	assert.Zero(t, data.ScaleF32)

	axes, err := KeyLayout.Decode(req.TilingKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{modePerChannel, 2, 1, 1}, axes)
}

func TestAscendQuant_PerChannelTrailingUnitAxis(t *testing.T) {
	e := newEngine(t)
	req := newChannelRequest(tiling.Desc(tensor.Float32, 16, 64, 1), tiling.Desc(tensor.Float32, 64))
	req.Attrs = tiling.Attrs{tiling.IntAttr("axis", -2)}
	require.NoError(t, e.DoTiling(req))

	var data ChannelTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, int64(16), data.Rows)
	assert.Equal(t, int64(64), data.Channels)
}

func TestAscendQuant_PerChannelInvalid(t *testing.T) {
	x := tiling.Desc(tensor.Float16, 8, 64)
	tests := []struct {
		name   string
		inputs []tiling.TensorDesc
		attrs  tiling.Attrs
	}{
		{"scale length", []tiling.TensorDesc{x, tiling.Desc(tensor.Float16, 32)}, nil},
		{"scale rank", []tiling.TensorDesc{x, tiling.Desc(tensor.Float16, 1, 64)}, nil},
		{"scale dtype", []tiling.TensorDesc{x, tiling.Desc(tensor.Int8, 64)}, nil},
		{"offset shape", []tiling.TensorDesc{x, tiling.Desc(tensor.Float16, 64), tiling.Desc(tensor.Float16, 32)}, nil},
		{"offset dtype", []tiling.TensorDesc{x, tiling.Desc(tensor.Float16, 64), tiling.Desc(tensor.Float32, 64)}, nil},
		{"leading axis", []tiling.TensorDesc{x, tiling.Desc(tensor.Float16, 8)}, tiling.Attrs{tiling.IntAttr("axis", 0)}},
		{"axis range", []tiling.TensorDesc{x, tiling.Desc(tensor.Float16, 64)}, tiling.Attrs{tiling.IntAttr("axis", 2)}},
		{"scale attr too", []tiling.TensorDesc{x, tiling.Desc(tensor.Float16, 64)}, tiling.Attrs{tiling.FloatAttr("scale", 1)}},
		{"too many inputs", []tiling.TensorDesc{x, x, x, x}, nil},
	}
	e := newEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tiling.NewRequest(OpType, 128)
			req.Inputs = tt.inputs
			req.Attrs = tt.attrs
			err := e.DoTiling(req)
			assert.ErrorIs(t, err, tiling.ErrInvalidShapeOrAttr)
			assert.Zero(t, req.Tiling.Size())
		})
	}
}

func TestAscendQuant_Infer(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tiling.Desc(tensor.BFloat16, 3, 5), tiling.FloatAttr("scale", 1))
	require.NoError(t, e.Infer(req))
	require.Len(t, req.Outputs, 1)
	assert.Equal(t, tensor.Shape{3, 5}, req.Outputs[0].Shape)
	assert.Equal(t, tensor.Int8, req.Outputs[0].DType)
}

func TestParseRoundMode(t *testing.T) {
	m, ok := ParseRoundMode("trunc")
	assert.True(t, ok)
	assert.Equal(t, RoundTrunc, m)
	_, ok = ParseRoundMode("")
	assert.False(t, ok)
}

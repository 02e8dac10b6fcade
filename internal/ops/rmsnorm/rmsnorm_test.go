package rmsnorm

import (
	"io"
	"log/slog"
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

func newRequest(x, gamma tiling.TensorDesc, attrs ...tiling.Attr) *tiling.Request {
	req := tiling.NewRequest(OpType, 256)
	req.Inputs = []tiling.TensorDesc{x, gamma}
	req.Attrs = attrs
	return req
}

func TestRmsNorm_FullLoad(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tiling.Desc(tensor.Float16, 64, 4096), tiling.Desc(tensor.Float16, 4096))
	require.NoError(t, e.DoTiling(req))

	assert.Equal(t, "FullLoad", req.Template())
	assert.Equal(t, uint64(templateFullLoad<<3|1<<1|1), req.TilingKey())
	assert.Equal(t, uint32(8), req.BlockDim())

	var data FullLoadTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, FullLoadTilingData{
		RowSplit: RowSplit{
			Rows:         64,
			D:            4096,
			UsedCores:    8,
			RowsPerCore:  8,
			TailCoreRows: 8,
			Epsilon:      float32(DefaultEpsilon),
			AvgFactor:    1.0 / 4096,
		},
		AlignedD:    4096,
		RowsPerLoop: 4,
	}, data)
}

func TestRmsNorm_SplitD(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tiling.Desc(tensor.Float32, 2, 100000), tiling.Desc(tensor.Float32, 100000),
		tiling.FloatAttr("epsilon", 1e-5))
	require.NoError(t, e.DoTiling(req))

	assert.Equal(t, "SplitD", req.Template())
	axes, err := KeyLayout.Decode(req.TilingKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{templateSplitD, 0, 1}, axes)
	assert.Equal(t, uint32(2), req.BlockDim())
	assert.Equal(t, []uint64{tiling.DefaultSystemWorkspace}, req.WorkspaceSizes())

	var data SplitDTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, int64(2), data.Rows)
	assert.Equal(t, int64(1), data.RowsPerCore)
	assert.Equal(t, float32(1e-5), data.Epsilon)
	assert.InDelta(t, 1e-5, data.AvgFactor, 1e-9)
	assert.Equal(t, int64(12288), data.Factor)
	assert.Equal(t, int64(8), data.Loops)
	assert.Equal(t, int64(1696), data.Tail)
	assert.Equal(t, data.D, data.Factor*data.Loops+data.Tail)
}

func TestRmsNorm_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		x     tiling.TensorDesc
		gamma tiling.TensorDesc
		attrs []tiling.Attr
	}{
		{"gamma length", tiling.Desc(tensor.Float32, 4, 8), tiling.Desc(tensor.Float32, 4), nil},
		{"gamma rank", tiling.Desc(tensor.Float32, 4, 8), tiling.Desc(tensor.Float32, 1, 8), nil},
		{"gamma dtype", tiling.Desc(tensor.Float16, 4, 8), tiling.Desc(tensor.Int32, 8), nil},
		{"x dtype", tiling.Desc(tensor.Int32, 4, 8), tiling.Desc(tensor.Int32, 8), nil},
		{"element count overflow", tiling.Desc(tensor.Float32, 1<<40, 1<<40, 8), tiling.Desc(tensor.Float32, 8), nil},
		{"negative epsilon", tiling.Desc(tensor.Float32, 4, 8), tiling.Desc(tensor.Float32, 8),
			[]tiling.Attr{tiling.FloatAttr("epsilon", -1)}},
	}
	e := newEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.DoTiling(newRequest(tt.x, tt.gamma, tt.attrs...))
			assert.ErrorIs(t, err, tiling.ErrInvalidShapeOrAttr)
		})
	}
}

func TestRmsNorm_Infer(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tiling.Desc(tensor.BFloat16, 2, 3, 16), tiling.Desc(tensor.BFloat16, 16))
	require.NoError(t, e.Infer(req))
	require.Len(t, req.Outputs, 2)
	assert.Equal(t, tensor.Shape{2, 3, 16}, req.Outputs[0].Shape)
	assert.Equal(t, tensor.BFloat16, req.Outputs[0].DType)
	assert.Equal(t, tensor.Shape{2, 3, 1}, req.Outputs[1].Shape)
	assert.Equal(t, tensor.Float32, req.Outputs[1].DType)
}

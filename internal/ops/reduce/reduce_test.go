package reduce

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

func newRequest(dtype tensor.DataType, n int64) *tiling.Request {
	req := tiling.NewRequest(OpType, 256)
	req.Inputs = []tiling.TensorDesc{tiling.Desc(dtype, n)}
	return req
}

func TestReduce1D_SelectsByElementCount(t *testing.T) {
	e := newEngine(t)

	small := newRequest(tensor.Float32, 512)
	require.NoError(t, e.DoTiling(small))
	large := newRequest(tensor.Float32, 4096)
	require.NoError(t, e.DoTiling(large))

	assert.Equal(t, "Small", small.Template())
	assert.Equal(t, "Large", large.Template())

	smallAxes, err := KeyLayout.Decode(small.TilingKey())
	require.NoError(t, err)
	largeAxes, err := KeyLayout.Decode(large.TilingKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{templateSmall, 0}, smallAxes)
	assert.Equal(t, []uint64{templateLarge, 0}, largeAxes)
}

func TestReduce1D_SmallPlan(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tensor.Float16, 1000)
	require.NoError(t, e.DoTiling(req))

	assert.Equal(t, "Small", req.Template())
	assert.Equal(t, uint64(1001), req.TilingKey())
	assert.Equal(t, uint32(1), req.BlockDim())
	assert.Equal(t, []uint64{tiling.DefaultSystemWorkspace}, req.WorkspaceSizes())

	var data SmallTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, SmallTilingData{Elements: 1000, AlignedElements: 1008}, data)
}

func TestReduce1D_LargePlan(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tensor.Float32, 4096)
	require.NoError(t, e.DoTiling(req))

	assert.Equal(t, uint64(1010), req.TilingKey())
	assert.Equal(t, uint32(8), req.BlockDim())
	assert.Equal(t, []uint64{tiling.DefaultSystemWorkspace, 8 * blockBytes}, req.WorkspaceSizes())

	var data LargeTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, LargeTilingData{
		Elements:      4096,
		UsedCores:     8,
		PerCore:       512,
		TailCore:      512,
		Factor:        512,
		Loops:         1,
		Tail:          0,
		TailCoreLoops: 1,
		TailCoreTail:  0,
	}, data)
}

func TestReduce1D_LargeRowBlocksThroughScratch(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tensor.BFloat16, 10_000_000)
	require.NoError(t, e.DoTiling(req))

	var data LargeTilingData
	require.NoError(t, tiling.Decode(req.Tiling.Bytes(), &data))
	assert.Equal(t, int64(8), data.UsedCores)
	assert.Equal(t, data.Elements, (data.UsedCores-1)*data.PerCore+data.TailCore)
	assert.Equal(t, data.PerCore, data.Loops*data.Factor+data.Tail)
	assert.Equal(t, data.TailCore, data.TailCoreLoops*data.Factor+data.TailCoreTail)
	assert.Equal(t, int64(0), data.Factor%16, "factor must stay 32-byte aligned")
}

func TestReduce1D_Invalid(t *testing.T) {
	e := newEngine(t)

	assert.ErrorIs(t, e.DoTiling(newRequest(tensor.Int32, 16)), tiling.ErrInvalidShapeOrAttr)

	two := newRequest(tensor.Float32, 16)
	two.Inputs = append(two.Inputs, tiling.Desc(tensor.Float32, 16))
	assert.ErrorIs(t, e.DoTiling(two), tiling.ErrInvalidShapeOrAttr)
}

func TestReduce1D_ElementCountOverflow(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tensor.Float32, 1)
	req.Inputs[0].Shape = tensor.Shape{1 << 40, 1 << 40}

	err := e.DoTiling(req)
	assert.ErrorIs(t, err, tiling.ErrInvalidShapeOrAttr)
	var stageErr *tiling.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, tiling.StageShapeAttrs, stageErr.Stage)
	assert.Nil(t, req.Result())
	assert.Zero(t, req.Tiling.Size())
}

func TestReduce1D_Overflow(t *testing.T) {
	e := newEngine(t)
	req := newRequest(tensor.Float32, 4096)
	req.Tiling = tiling.NewRawTilingData(64)

	assert.ErrorIs(t, e.DoTiling(req), tiling.ErrSerializationOverflow)
	assert.Nil(t, req.Result())
}

func TestReduce1D_Infer(t *testing.T) {
	e := newEngine(t)

	req := newRequest(tensor.Float16, 8)
	req.Inputs[0].Shape = tensor.Shape{2, 4}
	require.NoError(t, e.Infer(req))
	assert.Equal(t, tensor.Shape{1}, req.Outputs[0].Shape)
	assert.Equal(t, tensor.Float16, req.Outputs[0].DType)

	keep := newRequest(tensor.Float32, 8)
	keep.Inputs[0].Shape = tensor.Shape{2, 4}
	keep.Attrs = tiling.Attrs{tiling.BoolAttr("keep_dims", true)}
	require.NoError(t, e.Infer(keep))
	assert.Equal(t, tensor.Shape{1, 1}, keep.Outputs[0].Shape)
}

package tiling_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/optiling/tiling"
)

func TestNew_PlansBuiltinOperator(t *testing.T) {
	p, err := tiling.ResolvePlatform("arch35-vector")
	require.NoError(t, err)
	engine, err := tiling.New(p)
	require.NoError(t, err)

	req := tiling.NewRequest("MatMul", 256)
	req.Inputs = []tiling.TensorDesc{
		tiling.Desc(tiling.Float16, 1024, 64),
		tiling.Desc(tiling.Float16, 64, 64),
	}
	require.NoError(t, engine.DoTiling(req))

	assert.Equal(t, "FullLoadB", req.Template())
	assert.Equal(t, uint64(10110), req.TilingKey())
	assert.Equal(t, uint32(64), req.BlockDim())
	assert.Equal(t, []uint64{tiling.DefaultSystemWorkspace}, req.WorkspaceSizes())

	layout, ok := tiling.TilingKeyLayout("MatMul")
	require.True(t, ok)
	axes, err := layout.Decode(req.TilingKey())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 1, 0}, axes)
}

func TestOpTypes(t *testing.T) {
	assert.Equal(t, []string{"Add", "AscendQuant", "MatMul", "Mul", "Reduce1D", "RmsNorm"}, tiling.OpTypes())

	// Registration happens once however often the default is requested.
	r1, err := tiling.Default()
	require.NoError(t, err)
	r2, err := tiling.Default()
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.Len(t, r1.Registrations("Reduce1D"), 2)
}

func TestErrorsMatchThroughFacade(t *testing.T) {
	engine, err := tiling.New(tiling.StaticPlatform{Cores: 4, Scratch: 64 * 1024, Vector: 256, Revision: tiling.Arch32})
	require.NoError(t, err)

	req := tiling.NewRequest("Conv2D", 64)
	err = engine.DoTiling(req)
	assert.ErrorIs(t, err, tiling.ErrNoApplicableTemplate)

	var stageErr *tiling.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "Conv2D", stageErr.OpType)

	bad, err := tiling.New(tiling.StaticPlatform{Cores: 4, Scratch: 64 * 1024, Vector: 256})
	require.NoError(t, err)
	req = tiling.NewRequest("Reduce1D", 64)
	req.Inputs = []tiling.TensorDesc{tiling.Desc(tiling.Float32, 16)}
	assert.ErrorIs(t, bad.DoTiling(req), tiling.ErrPlatformUnavailable)
}

func TestPlatformPresets(t *testing.T) {
	assert.Contains(t, tiling.PlatformPresets(), "arch32-ai-core")
	_, err := tiling.ResolvePlatform("no-such-preset.yaml")
	assert.Error(t, err)
}

func TestNew_EnginesKeepTheirOwnPlatform(t *testing.T) {
	big, err := tiling.ResolvePlatform("arch35-vector")
	require.NoError(t, err)
	small, err := tiling.ResolvePlatform("arch35-lite")
	require.NoError(t, err)

	first, err := tiling.New(big)
	require.NoError(t, err)
	second, err := tiling.New(small)
	require.NoError(t, err)

	plan := func(e *tiling.Engine) *tiling.Request {
		req := tiling.NewRequest("Add", 512)
		req.Inputs = []tiling.TensorDesc{
			tiling.Desc(tiling.Float32, 1<<20),
			tiling.Desc(tiling.Float32, 1<<20),
		}
		require.NoError(t, e.DoTiling(req))
		return req
	}

	assert.Equal(t, big.Cores, plan(first).BlockDim())
	assert.Equal(t, uint32(8), plan(second).BlockDim())
	assert.Equal(t, big.Cores, plan(first).BlockDim())
}

package tiling

import (
	"sync/atomic"

	"github.com/born-ml/optiling/internal/platform"
)

// fakeData is a 16-byte tiling layout.
type fakeData struct {
	Count uint64
	Mode  uint32
	Pad   uint32
}

// fakeTemplate is capable when accept returns true and records how often it was probed.
type fakeTemplate struct {
	name     string
	accept   func(ctx *Context) bool
	mode      uint32
	blockDim  uint32
	workspace []uint64 // nil means Count*4
	wsErr     error
	probes    atomic.Int32
}

func (f *fakeTemplate) Name() string { return f.name }
func (f *fakeTemplate) Layout() any  { return fakeData{} }

func (f *fakeTemplate) Probe(ctx *Context) (Plan, bool, error) {
	f.probes.Add(1)
	if f.accept != nil && !f.accept(ctx) {
		return nil, false, nil
	}
	n := ctx.Request.Inputs[0].Shape.NumElements()
	return &fakePlan{
		data:      fakeData{Count: uint64(n), Mode: f.mode},
		blockDim:  f.blockDim,
		workspace: f.workspace,
		wsErr:     f.wsErr,
	}, true, nil
}

type fakePlan struct {
	BasePlan
	data      fakeData
	blockDim  uint32
	workspace []uint64
	wsErr     error
}

var fakeKey = MustDecimalKey(100, Axis{Name: "mode", Limit: 10})

func (p *fakePlan) TilingKey(*Context) (uint64, error) {
	return fakeKey.Encode(uint64(p.data.Mode))
}

func (p *fakePlan) WorkspaceSizes(*Context) ([]uint64, error) {
	if p.wsErr != nil {
		return nil, p.wsErr
	}
	if p.workspace != nil {
		return p.workspace, nil
	}
	return []uint64{p.data.Count * 4}, nil
}

func (p *fakePlan) BlockDim() uint32 {
	if p.blockDim == 0 {
		return 1
	}
	return p.blockDim
}

func (p *fakePlan) Data() any { return p.data }

// countingPlatform counts platform queries.
type countingPlatform struct {
	platform.Static
	calls atomic.Int32
}

func (c *countingPlatform) CoreCount() uint32 {
	c.calls.Add(1)
	return c.Static.CoreCount()
}

func testPlatform() *countingPlatform {
	return &countingPlatform{Static: platform.Static{Cores: 8, Scratch: 192 * 1024, Vector: 256, Revision: platform.Arch35}}
}
